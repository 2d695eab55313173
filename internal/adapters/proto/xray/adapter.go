// Package xray manages VMess, VLESS and Trojan accounts as per-account
// JSON fragments under the confdir Xray is started with. Fragments carry
// one client entry each and merge into the shared inbound by tag, so one
// account changing never rewrites another account's material. Reload
// signals are debounced to absorb bursts of changes.
package xray

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/boxvps/boxvpsd/internal/domain"
	"github.com/boxvps/boxvpsd/internal/ports"
)

const (
	fragmentFileMode = 0o600
	fragmentDirMode  = 0o700
)

type Adapter struct {
	protocol domain.Protocol
	confDir  string
	stats    *StatsClient
	reloader *reloader
}

var _ ports.ProtocolAdapter = (*Adapter)(nil)

type Options struct {
	ConfDir        string
	StatsURL       string
	ReloadCommand  []string
	ReloadDebounce time.Duration
}

// New builds one adapter per Xray-backed protocol. Adapters for different
// protocols share the reloader so a mixed burst of changes still collapses
// into a single daemon signal.
func New(protocol domain.Protocol, runner ports.CommandRunner, opts Options) *Adapter {
	return &Adapter{
		protocol: protocol,
		confDir:  opts.ConfDir,
		stats:    NewStatsClient(opts.StatsURL),
		reloader: newReloader(runner, opts.ReloadCommand, opts.ReloadDebounce),
	}
}

// Family builds the three Xray-backed adapters over one shared reloader.
func Family(runner ports.CommandRunner, opts Options) []*Adapter {
	shared := newReloader(runner, opts.ReloadCommand, opts.ReloadDebounce)
	stats := NewStatsClient(opts.StatsURL)

	protocols := []domain.Protocol{domain.ProtocolVMess, domain.ProtocolVLESS, domain.ProtocolTrojan}
	adapters := make([]*Adapter, 0, len(protocols))
	for _, p := range protocols {
		adapters = append(adapters, &Adapter{
			protocol: p,
			confDir:  opts.ConfDir,
			stats:    stats,
			reloader: shared,
		})
	}
	return adapters
}

func (a *Adapter) Protocol() domain.Protocol {
	return a.protocol
}

func (a *Adapter) Apply(ctx context.Context, account domain.Account) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	fragment, err := marshalFragment(account)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(a.confDir, fragmentDirMode); err != nil {
		return fmt.Errorf("create confdir: %w: %v", domain.ErrAdapterUnavailable, err)
	}

	path := a.fragmentPath(account.ID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, fragment, fragmentFileMode); err != nil {
		return fmt.Errorf("write fragment: %w: %v", domain.ErrAdapterUnavailable, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace fragment: %w: %v", domain.ErrAdapterUnavailable, err)
	}

	a.reloader.schedule()
	return nil
}

func (a *Adapter) Revoke(ctx context.Context, id domain.AccountID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := os.Remove(a.fragmentPath(id)); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("remove fragment: %w: %v", domain.ErrAdapterUnavailable, err)
	}

	a.reloader.schedule()
	return nil
}

func (a *Adapter) Probe(ctx context.Context, id domain.AccountID) (domain.UsageSnapshot, error) {
	return a.stats.Usage(ctx, string(id))
}

// Flush forces a pending debounced reload through, used on shutdown.
func (a *Adapter) Flush(ctx context.Context) error {
	return a.reloader.flush(ctx)
}

func (a *Adapter) fragmentPath(id domain.AccountID) string {
	return filepath.Join(a.confDir, fmt.Sprintf("client-%s-%s.json", a.protocol, id))
}

// Fragment layout mirrors what Xray merges by inbound tag from a confdir.
type fragmentSchema struct {
	Inbounds []inboundSchema `json:"inbounds"`
}

type inboundSchema struct {
	Tag      string         `json:"tag"`
	Protocol string         `json:"protocol"`
	Settings settingsSchema `json:"settings"`
}

type settingsSchema struct {
	Clients []clientSchema `json:"clients"`
}

type clientSchema struct {
	ID       string `json:"id,omitempty"`
	AlterID  *int   `json:"alterId,omitempty"`
	Password string `json:"password,omitempty"`
	Email    string `json:"email"`
}

func marshalFragment(account domain.Account) ([]byte, error) {
	client := clientSchema{Email: string(account.ID)}
	switch account.Protocol {
	case domain.ProtocolVMess:
		zero := 0
		client.ID = account.Credential.UUID
		client.AlterID = &zero
	case domain.ProtocolVLESS:
		client.ID = account.Credential.UUID
	case domain.ProtocolTrojan:
		client.Password = account.Credential.UUID
	default:
		return nil, fmt.Errorf("%w: protocol %q is not xray-backed", domain.ErrValidation, account.Protocol)
	}

	fragment := fragmentSchema{
		Inbounds: []inboundSchema{{
			Tag:      string(account.Protocol) + "-in",
			Protocol: string(account.Protocol),
			Settings: settingsSchema{Clients: []clientSchema{client}},
		}},
	}

	data, err := json.MarshalIndent(fragment, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode fragment: %w", err)
	}
	return data, nil
}

// reloader coalesces fragment changes into one daemon signal per debounce
// window.
type reloader struct {
	runner   ports.CommandRunner
	command  []string
	debounce time.Duration

	mu    sync.Mutex
	timer *time.Timer
}

func newReloader(runner ports.CommandRunner, command []string, debounce time.Duration) *reloader {
	return &reloader{runner: runner, command: command, debounce: debounce}
}

func (r *reloader) schedule() {
	if len(r.command) == 0 {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.timer != nil {
		r.timer.Reset(r.debounce)
		return
	}
	r.timer = time.AfterFunc(r.debounce, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = r.run(ctx)
	})
}

func (r *reloader) flush(ctx context.Context) error {
	r.mu.Lock()
	pending := r.timer != nil && r.timer.Stop()
	r.mu.Unlock()

	if !pending {
		return nil
	}
	return r.run(ctx)
}

func (r *reloader) run(ctx context.Context) error {
	r.mu.Lock()
	r.timer = nil
	r.mu.Unlock()

	if len(r.command) == 0 {
		return nil
	}
	if _, err := r.runner.Run(ctx, r.command[0], r.command[1:]...); err != nil {
		return fmt.Errorf("reload xray: %w: %v", domain.ErrAdapterUnavailable, err)
	}
	return nil
}
