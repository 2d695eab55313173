// Package ssh provisions accounts as system users. PAM reads the user
// database live, so apply and revoke never touch the sshd process. Byte
// usage comes from a per-account iptables accounting rule, session counts
// from who(1).
package ssh

import (
	"context"
	"fmt"
	"strings"

	"github.com/coreos/go-iptables/iptables"

	"github.com/boxvps/boxvpsd/internal/domain"
	"github.com/boxvps/boxvpsd/internal/ports"
)

const filterTable = "filter"

// packetFilter is the slice of go-iptables the adapter uses, split out so
// tests can fake the kernel side.
type packetFilter interface {
	ChainExists(table, chain string) (bool, error)
	NewChain(table, chain string) error
	AppendUnique(table, chain string, rulespec ...string) error
	DeleteIfExists(table, chain string, rulespec ...string) error
	StructuredStats(table, chain string) ([]iptables.Stat, error)
}

type Adapter struct {
	runner     ports.CommandRunner
	filter     packetFilter
	chain      string
	shell      string
	disconnect bool
}

var _ ports.ProtocolAdapter = (*Adapter)(nil)

type Options struct {
	Chain      string
	Shell      string
	Disconnect bool
}

func New(runner ports.CommandRunner, filter packetFilter, opts Options) *Adapter {
	return &Adapter{
		runner:     runner,
		filter:     filter,
		chain:      opts.Chain,
		shell:      opts.Shell,
		disconnect: opts.Disconnect,
	}
}

// NewWithSystemFilter wires the real iptables binding.
func NewWithSystemFilter(runner ports.CommandRunner, opts Options) (*Adapter, error) {
	ipt, err := iptables.New()
	if err != nil {
		return nil, fmt.Errorf("init iptables: %w", err)
	}
	return New(runner, ipt, opts), nil
}

func (a *Adapter) Protocol() domain.Protocol {
	return domain.ProtocolSSH
}

func (a *Adapter) Apply(ctx context.Context, account domain.Account) error {
	name := string(account.ID)

	if _, err := a.runner.Run(ctx, "id", "-u", name); err != nil {
		if _, err := a.runner.Run(ctx, "useradd", "-m", "-s", a.shell, name); err != nil {
			return unavailable("useradd", err)
		}
	}

	if account.Credential.Secret != "" {
		if _, err := a.runner.RunInput(ctx, name+":"+account.Credential.Secret, "chpasswd"); err != nil {
			return unavailable("chpasswd", err)
		}
	}

	// Clear a login lock left by an earlier revoke of a pre-existing user.
	if _, err := a.runner.Run(ctx, "usermod", "-U", name); err != nil {
		return unavailable("usermod -U", err)
	}

	if err := a.ensureAccounting(name); err != nil {
		return err
	}

	return nil
}

func (a *Adapter) Revoke(ctx context.Context, id domain.AccountID) error {
	name := string(id)

	if _, err := a.runner.Run(ctx, "id", "-u", name); err != nil {
		// Already gone; revoke is idempotent.
		return nil
	}

	if a.disconnect {
		// pkill exits 1 when no process matched.
		_, _ = a.runner.Run(ctx, "pkill", "-KILL", "-u", name)
	}

	if _, err := a.runner.Run(ctx, "userdel", "-f", name); err != nil {
		return unavailable("userdel", err)
	}

	if err := a.filter.DeleteIfExists(filterTable, a.chain, accountingRule(name)...); err != nil {
		return unavailable("iptables delete", err)
	}

	return nil
}

func (a *Adapter) Probe(ctx context.Context, id domain.AccountID) (domain.UsageSnapshot, error) {
	name := string(id)

	uidOut, err := a.runner.Run(ctx, "id", "-u", name)
	if err != nil {
		return domain.UsageSnapshot{}, unavailable("id", err)
	}
	uid := strings.TrimSpace(string(uidOut))

	out, err := a.runner.Run(ctx, "who")
	if err != nil {
		return domain.UsageSnapshot{}, unavailable("who", err)
	}

	sessions := 0
	for _, line := range strings.Split(string(out), "\n") {
		fields := strings.Fields(line)
		if len(fields) > 0 && fields[0] == name {
			sessions++
		}
	}

	stats, err := a.filter.StructuredStats(filterTable, a.chain)
	if err != nil {
		return domain.UsageSnapshot{}, unavailable("iptables stats", err)
	}

	var bytes int64
	for _, stat := range stats {
		if ruleOwner(stat.Options, name, uid) {
			bytes += int64(stat.Bytes)
		}
	}

	return domain.UsageSnapshot{Bytes: bytes, Sessions: sessions}, nil
}

// ruleOwner reports whether an accounting rule belongs to the account.
// iptables renders the owner match as "owner UID match <uid>", with the
// numeric uid once the name has been resolved by the kernel.
func ruleOwner(options, name, uid string) bool {
	fields := strings.Fields(options)
	for i := 0; i+3 < len(fields); i++ {
		if fields[i] == "owner" && fields[i+1] == "UID" && fields[i+2] == "match" {
			return fields[i+3] == uid || fields[i+3] == name
		}
	}
	return false
}

func (a *Adapter) ensureAccounting(name string) error {
	exists, err := a.filter.ChainExists(filterTable, a.chain)
	if err != nil {
		return unavailable("iptables chain check", err)
	}
	if !exists {
		if err := a.filter.NewChain(filterTable, a.chain); err != nil {
			return unavailable("iptables new chain", err)
		}
	}

	if err := a.filter.AppendUnique(filterTable, "OUTPUT", "-j", a.chain); err != nil {
		return unavailable("iptables jump", err)
	}
	if err := a.filter.AppendUnique(filterTable, a.chain, accountingRule(name)...); err != nil {
		return unavailable("iptables account rule", err)
	}

	return nil
}

func accountingRule(name string) []string {
	return []string{"-m", "owner", "--uid-owner", name, "-j", "RETURN"}
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, domain.ErrAdapterUnavailable, err)
}
