package application

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/boxvps/boxvpsd/internal/domain"
)

// Tracker periodically samples daemon counters, folds them into stored
// usage, and raises breach and expiry events. It is the only writer of
// usage fields.
type Tracker struct {
	svc          *Service
	queue        *EventQueue
	interval     time.Duration
	lockOnBreach bool

	cron *cron.Cron

	mu      sync.Mutex
	lastRaw map[domain.AccountID]int64
}

type TrackerOptions struct {
	Interval     time.Duration
	LockOnBreach bool
}

func NewTracker(svc *Service, queue *EventQueue, opts TrackerOptions) *Tracker {
	if opts.Interval <= 0 {
		opts.Interval = time.Minute
	}
	return &Tracker{
		svc:          svc,
		queue:        queue,
		interval:     opts.Interval,
		lockOnBreach: opts.LockOnBreach,
		lastRaw:      make(map[domain.AccountID]int64),
	}
}

// Start schedules the sweep. The first sweep runs after one interval.
func (t *Tracker) Start(ctx context.Context) error {
	t.cron = cron.New()
	_, err := t.cron.AddFunc(fmt.Sprintf("@every %s", t.interval), func() {
		if err := t.Sweep(ctx); err != nil && ctx.Err() == nil {
			t.svc.logger.Error("usage sweep", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule sweep: %w", err)
	}
	t.cron.Start()
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (t *Tracker) Stop() {
	if t.cron != nil {
		<-t.cron.Stop().Done()
	}
}

// Sweep samples every active account once. A single unreachable daemon
// skips that account's update and leaves its stored usage untouched.
func (t *Tracker) Sweep(ctx context.Context) error {
	accounts, err := t.svc.repo.List(ctx, domain.Filter{})
	if err != nil {
		return fmt.Errorf("list accounts: %w", err)
	}

	now := t.svc.clock.Now()
	for _, account := range accounts {
		if err := ctx.Err(); err != nil {
			return err
		}

		if account.State != domain.StateExpired && account.ExpiredAt(now) {
			if _, err := t.svc.Expire(ctx, account.ID); err != nil {
				t.svc.logger.Warn("expire account", "account", account.ID, "error", err)
				continue
			}
			t.queue.Push(Event{
				Kind:      EventExpired,
				AccountID: account.ID,
				Protocol:  account.Protocol,
				At:        now,
			})
			continue
		}

		if account.State != domain.StateActive {
			continue
		}
		t.sample(ctx, account, now)
	}
	return nil
}

func (t *Tracker) sample(ctx context.Context, account domain.Account, now time.Time) {
	adapter, err := t.svc.adapter(account.Protocol)
	if err != nil {
		return
	}

	actx, cancel := t.svc.withTimeout(ctx)
	snap, err := adapter.Probe(actx, account.ID)
	cancel()
	if err != nil {
		t.svc.logger.Warn("probe account", "account", account.ID, "error", err)
		return
	}

	t.mu.Lock()
	prevRaw := t.lastRaw[account.ID]
	t.lastRaw[account.ID] = snap.Bytes
	t.mu.Unlock()

	updated, err := t.record(ctx, account.ID, prevRaw, snap)
	if err != nil {
		t.svc.logger.Warn("record usage", "account", account.ID, "error", err)
		return
	}

	if !updated.OverQuota() {
		return
	}
	t.queue.Push(Event{
		Kind:       EventQuotaBreach,
		AccountID:  updated.ID,
		Protocol:   updated.Protocol,
		UsageBytes: updated.UsageBytes,
		QuotaBytes: updated.QuotaBytes,
		At:         now,
	})
	if t.lockOnBreach {
		if _, err := t.svc.Lock(ctx, updated.ID); err != nil {
			t.svc.logger.Warn("lock breached account", "account", updated.ID, "error", err)
		}
	}
}

// record re-reads the account under its lock so a concurrent lifecycle
// change between list and save is never overwritten.
func (t *Tracker) record(ctx context.Context, id domain.AccountID, prevRaw int64, snap domain.UsageSnapshot) (domain.Account, error) {
	defer t.svc.lockAccount(id)()

	account, err := t.svc.repo.Get(ctx, id)
	if err != nil {
		return domain.Account{}, err
	}

	account.UsageBytes = domain.AdvanceUsage(account.UsageBytes, prevRaw, snap.Bytes)
	account.UsageLogins = snap.Sessions
	if err := t.svc.repo.Save(ctx, account); err != nil {
		return domain.Account{}, err
	}
	return account, nil
}
