// Package openvpn provisions accounts through the daemon's
// client-config-dir and a username/password auth file, both of which
// OpenVPN consults per connection attempt, so no restart is involved.
// Usage comes from the status log's CLIENT_LIST section.
package openvpn

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/boxvps/boxvpsd/internal/domain"
	"github.com/boxvps/boxvpsd/internal/ports"
)

const (
	ccdFileMode  = 0o600
	ccdDirMode   = 0o700
	authFileMode = 0o600
)

type Adapter struct {
	ccdDir         string
	authFile       string
	statusLog      string
	managementAddr string
	disconnect     bool
	dial           func(ctx context.Context, addr string) (net.Conn, error)
}

var _ ports.ProtocolAdapter = (*Adapter)(nil)

type Options struct {
	CCDDir         string
	AuthFile       string
	StatusLog      string
	ManagementAddr string
	Disconnect     bool
}

func New(opts Options) *Adapter {
	return &Adapter{
		ccdDir:         opts.CCDDir,
		authFile:       opts.AuthFile,
		statusLog:      opts.StatusLog,
		managementAddr: opts.ManagementAddr,
		disconnect:     opts.Disconnect,
		dial: func(ctx context.Context, addr string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "tcp", addr)
		},
	}
}

func (a *Adapter) Protocol() domain.Protocol {
	return domain.ProtocolOpenVPN
}

func (a *Adapter) Apply(ctx context.Context, account domain.Account) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := os.MkdirAll(a.ccdDir, ccdDirMode); err != nil {
		return unavailable("create ccd dir", err)
	}

	ccd := filepath.Join(a.ccdDir, string(account.ID))
	if err := os.WriteFile(ccd, []byte("# managed by boxvpsd\n"), ccdFileMode); err != nil {
		return unavailable("write ccd fragment", err)
	}

	if err := a.updateAuthFile(string(account.ID), account.Credential.Secret); err != nil {
		// Roll the fragment back so a half-applied account never lingers.
		_ = os.Remove(ccd)
		return err
	}

	return nil
}

func (a *Adapter) Revoke(ctx context.Context, id domain.AccountID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := a.updateAuthFile(string(id), ""); err != nil {
		return err
	}

	if err := os.Remove(filepath.Join(a.ccdDir, string(id))); err != nil && !os.IsNotExist(err) {
		return unavailable("remove ccd fragment", err)
	}

	if a.disconnect {
		if err := a.killSession(ctx, string(id)); err != nil {
			return err
		}
	}

	return nil
}

func (a *Adapter) Probe(ctx context.Context, id domain.AccountID) (domain.UsageSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return domain.UsageSnapshot{}, err
	}

	file, err := os.Open(a.statusLog)
	if err != nil {
		if os.IsNotExist(err) {
			// Daemon has not written a status log yet; nothing online.
			return domain.UsageSnapshot{}, nil
		}
		return domain.UsageSnapshot{}, unavailable("open status log", err)
	}
	defer file.Close()

	var snap domain.UsageSnapshot
	// Status v2 without a header line, as 2.3 writes it. 2.4 adds a
	// Virtual IPv6 Address column, shifting the byte counters right.
	recvIdx, sentIdx := 4, 5
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "HEADER,CLIENT_LIST,") {
			for i, col := range strings.Split(line, ",") {
				switch col {
				case "Bytes Received":
					recvIdx = i - 1
				case "Bytes Sent":
					sentIdx = i - 1
				}
			}
			continue
		}
		if !strings.HasPrefix(line, "CLIENT_LIST,") {
			continue
		}
		fields := strings.Split(line, ",")
		if len(fields) <= sentIdx || len(fields) <= recvIdx || fields[1] != string(id) {
			continue
		}
		snap.Sessions++
		recv, _ := strconv.ParseInt(fields[recvIdx], 10, 64)
		sent, _ := strconv.ParseInt(fields[sentIdx], 10, 64)
		snap.Bytes += recv + sent
	}
	if err := scanner.Err(); err != nil {
		return domain.UsageSnapshot{}, unavailable("read status log", err)
	}

	return snap, nil
}

// updateAuthFile rewrites the auth file with the account's line added
// (secret non-empty) or removed (secret empty). Other lines are preserved.
func (a *Adapter) updateAuthFile(name, secret string) error {
	lines, err := readLines(a.authFile)
	if err != nil {
		return unavailable("read auth file", err)
	}

	kept := lines[:0]
	for _, line := range lines {
		if fields := strings.Fields(line); len(fields) > 0 && fields[0] == name {
			continue
		}
		kept = append(kept, line)
	}
	if secret != "" {
		kept = append(kept, name+" "+secret)
	}

	if err := os.MkdirAll(filepath.Dir(a.authFile), ccdDirMode); err != nil {
		return unavailable("create auth dir", err)
	}

	content := strings.Join(kept, "\n")
	if content != "" {
		content += "\n"
	}
	tmp := a.authFile + ".tmp"
	if err := os.WriteFile(tmp, []byte(content), authFileMode); err != nil {
		return unavailable("write auth file", err)
	}
	if err := os.Rename(tmp, a.authFile); err != nil {
		_ = os.Remove(tmp)
		return unavailable("replace auth file", err)
	}

	return nil
}

func (a *Adapter) killSession(ctx context.Context, name string) error {
	if a.managementAddr == "" {
		return nil
	}

	conn, err := a.dial(ctx, a.managementAddr)
	if err != nil {
		return unavailable("dial management socket", err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Now().Add(5 * time.Second))
	}

	if _, err := fmt.Fprintf(conn, "kill %s\n", name); err != nil {
		return unavailable("management kill", err)
	}

	return nil
}

func readLines(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	raw := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	lines := make([]string, 0, len(raw))
	for _, line := range raw {
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines, nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, domain.ErrAdapterUnavailable, err)
}
