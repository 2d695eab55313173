// Package l2tp manages accounts as /etc/ppp/chap-secrets entries. pppd
// re-reads the file on every connection attempt, so changes take effect
// without touching xl2tpd or strongSwan. Session counts come from
// xl2tpd-control; pppd exposes no per-peer byte counters, so byte usage
// stays at zero for this protocol.
package l2tp

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/boxvps/boxvpsd/internal/domain"
	"github.com/boxvps/boxvpsd/internal/ports"
)

const secretsFileMode = 0o600

type Adapter struct {
	runner      ports.CommandRunner
	secretsFile string
	disconnect  bool
}

var _ ports.ProtocolAdapter = (*Adapter)(nil)

type Options struct {
	SecretsFile string
	Disconnect  bool
}

func New(runner ports.CommandRunner, opts Options) *Adapter {
	return &Adapter{runner: runner, secretsFile: opts.SecretsFile, disconnect: opts.Disconnect}
}

func (a *Adapter) Protocol() domain.Protocol {
	return domain.ProtocolL2TP
}

func (a *Adapter) Apply(ctx context.Context, account domain.Account) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	line := fmt.Sprintf("%q l2tpd %q *", account.ID, account.Credential.Secret)
	return a.rewriteSecrets(string(account.ID), line)
}

func (a *Adapter) Revoke(ctx context.Context, id domain.AccountID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := a.rewriteSecrets(string(id), ""); err != nil {
		return err
	}

	if a.disconnect {
		// Exit status is non-zero when no tunnel matches; ignore it.
		_, _ = a.runner.Run(ctx, "xl2tpd-control", "disconnect", string(id))
	}

	return nil
}

func (a *Adapter) Probe(ctx context.Context, id domain.AccountID) (domain.UsageSnapshot, error) {
	out, err := a.runner.Run(ctx, "xl2tpd-control", "show", "tunnels")
	if err != nil {
		return domain.UsageSnapshot{}, fmt.Errorf("xl2tpd-control: %w: %v", domain.ErrAdapterUnavailable, err)
	}

	sessions := 0
	for _, line := range strings.Split(string(out), "\n") {
		if strings.Contains(line, string(id)) && strings.Contains(line, "connected") {
			sessions++
		}
	}

	return domain.UsageSnapshot{Sessions: sessions}, nil
}

// rewriteSecrets replaces the account's chap-secrets line (or drops it when
// replacement is empty), leaving unrelated entries and comments untouched.
func (a *Adapter) rewriteSecrets(name, replacement string) error {
	data, err := os.ReadFile(a.secretsFile)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("read chap-secrets: %w: %v", domain.ErrAdapterUnavailable, err)
	}

	var kept []string
	for _, line := range strings.Split(strings.TrimRight(string(data), "\n"), "\n") {
		if line == "" {
			continue
		}
		if fields := strings.Fields(line); len(fields) > 0 && strings.Trim(fields[0], `"`) == name {
			continue
		}
		kept = append(kept, line)
	}
	if replacement != "" {
		kept = append(kept, replacement)
	}

	content := strings.Join(kept, "\n")
	if content != "" {
		content += "\n"
	}

	if err := os.MkdirAll(filepath.Dir(a.secretsFile), 0o755); err != nil {
		return fmt.Errorf("create ppp dir: %w: %v", domain.ErrAdapterUnavailable, err)
	}

	tmp := a.secretsFile + ".tmp"
	if err := os.WriteFile(tmp, []byte(content), secretsFileMode); err != nil {
		return fmt.Errorf("write chap-secrets: %w: %v", domain.ErrAdapterUnavailable, err)
	}
	if err := os.Rename(tmp, a.secretsFile); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace chap-secrets: %w: %v", domain.ErrAdapterUnavailable, err)
	}

	return nil
}
