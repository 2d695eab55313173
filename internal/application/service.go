// Package application coordinates the account store, the protocol
// adapters, and the usage tracker. Daemon state always changes before the
// store does: a failed adapter call leaves the stored record untouched.
package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/boxvps/boxvpsd/internal/domain"
	"github.com/boxvps/boxvpsd/internal/ports"
)

type Service struct {
	repo           ports.AccountRepository
	adapters       map[domain.Protocol]ports.ProtocolAdapter
	clock          ports.Clock
	logger         *slog.Logger
	adapterTimeout time.Duration

	mu    sync.Mutex
	locks map[domain.AccountID]*sync.Mutex
}

type ServiceOptions struct {
	Clock          ports.Clock
	Logger         *slog.Logger
	AdapterTimeout time.Duration
}

func NewService(repo ports.AccountRepository, adapters map[domain.Protocol]ports.ProtocolAdapter, opts ServiceOptions) *Service {
	if opts.Clock == nil {
		opts.Clock = ports.SystemClock{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.AdapterTimeout <= 0 {
		opts.AdapterTimeout = 5 * time.Second
	}
	return &Service{
		repo:           repo,
		adapters:       adapters,
		clock:          opts.Clock,
		logger:         opts.Logger,
		adapterTimeout: opts.AdapterTimeout,
		locks:          make(map[domain.AccountID]*sync.Mutex),
	}
}

// SetLogger swaps the logger, used when serve mode switches to structured
// JSON output.
func (s *Service) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// lockAccount serializes operations on a single account while letting
// operations on different accounts proceed in parallel.
func (s *Service) lockAccount(id domain.AccountID) func() {
	s.mu.Lock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	s.mu.Unlock()

	l.Lock()
	return l.Unlock
}

func (s *Service) adapter(p domain.Protocol) (ports.ProtocolAdapter, error) {
	a, ok := s.adapters[p]
	if !ok {
		return nil, fmt.Errorf("protocol %q has no adapter: %w", p, domain.ErrValidation)
	}
	return a, nil
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.adapterTimeout)
}

type CreateParams struct {
	ID          domain.AccountID
	Protocol    domain.Protocol
	Password    string
	QuotaBytes  int64
	QuotaLogins int
	ExpiresAt   time.Time
}

// Create provisions a new account on the daemon and persists it. A failed
// persist rolls the daemon change back so no orphaned login remains.
func (s *Service) Create(ctx context.Context, params CreateParams) (domain.Account, error) {
	if err := ctx.Err(); err != nil {
		return domain.Account{}, err
	}
	defer s.lockAccount(params.ID)()

	if _, err := s.repo.Get(ctx, params.ID); err == nil {
		return domain.Account{}, fmt.Errorf("account %q already exists: %w", params.ID, domain.ErrConflict)
	} else if !errors.Is(err, domain.ErrNotFound) {
		return domain.Account{}, err
	}

	cred, err := domain.NewCredential(params.Protocol, params.Password)
	if err != nil {
		return domain.Account{}, err
	}

	now := s.clock.Now()
	account := domain.Account{
		ID:             params.ID,
		Protocol:       params.Protocol,
		Credential:     cred,
		QuotaBytes:     params.QuotaBytes,
		QuotaLogins:    params.QuotaLogins,
		ExpiresAt:      params.ExpiresAt,
		State:          domain.StateActive,
		CreatedAt:      now,
		LastModifiedAt: now,
	}
	if err := account.Validate(); err != nil {
		return domain.Account{}, err
	}

	adapter, err := s.adapter(params.Protocol)
	if err != nil {
		return domain.Account{}, err
	}

	actx, cancel := s.withTimeout(ctx)
	defer cancel()
	if err := adapter.Apply(actx, account); err != nil {
		return domain.Account{}, fmt.Errorf("provision account: %w", err)
	}

	if err := s.repo.Save(ctx, account); err != nil {
		rctx, rcancel := s.withTimeout(context.WithoutCancel(ctx))
		defer rcancel()
		if rerr := adapter.Revoke(rctx, account.ID); rerr != nil {
			s.logger.Error("rollback after failed save",
				"account", account.ID, "error", rerr)
		}
		return domain.Account{}, fmt.Errorf("save account: %w", err)
	}

	s.logger.Info("account created", "account", account.ID, "protocol", account.Protocol)
	return account, nil
}

func (s *Service) Get(ctx context.Context, id domain.AccountID) (domain.Account, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, filter domain.Filter) ([]domain.Account, error) {
	return s.repo.List(ctx, filter)
}

// Lock revokes the account's daemon access while keeping the stored record.
// Locking an already locked account is a no-op.
func (s *Service) Lock(ctx context.Context, id domain.AccountID) (domain.Account, error) {
	if err := ctx.Err(); err != nil {
		return domain.Account{}, err
	}
	defer s.lockAccount(id)()

	account, err := s.repo.Get(ctx, id)
	if err != nil {
		return domain.Account{}, err
	}
	switch account.State {
	case domain.StateLocked:
		return account, nil
	case domain.StateActive, domain.StateExpired:
	default:
		return domain.Account{}, fmt.Errorf("cannot lock account in state %q: %w", account.State, domain.ErrConflict)
	}

	adapter, err := s.adapter(account.Protocol)
	if err != nil {
		return domain.Account{}, err
	}

	actx, cancel := s.withTimeout(ctx)
	defer cancel()
	if err := adapter.Revoke(actx, id); err != nil {
		return domain.Account{}, fmt.Errorf("revoke account: %w", err)
	}

	account.State = domain.StateLocked
	account.LastModifiedAt = s.clock.Now()
	if err := s.repo.Save(ctx, account); err != nil {
		return domain.Account{}, fmt.Errorf("save account: %w", err)
	}

	s.logger.Info("account locked", "account", id)
	return account, nil
}

// Unlock restores daemon access for a locked account. Unlocking an active
// account is a no-op; an expired account must be renewed instead.
func (s *Service) Unlock(ctx context.Context, id domain.AccountID) (domain.Account, error) {
	if err := ctx.Err(); err != nil {
		return domain.Account{}, err
	}
	defer s.lockAccount(id)()

	account, err := s.repo.Get(ctx, id)
	if err != nil {
		return domain.Account{}, err
	}
	switch account.State {
	case domain.StateActive:
		return account, nil
	case domain.StateLocked:
	case domain.StateExpired:
		return domain.Account{}, fmt.Errorf("account %q is expired, renew it first: %w", id, domain.ErrConflict)
	default:
		return domain.Account{}, fmt.Errorf("cannot unlock account in state %q: %w", account.State, domain.ErrConflict)
	}
	if account.ExpiredAt(s.clock.Now()) {
		return domain.Account{}, fmt.Errorf("account %q is past its expiry date, renew it first: %w", id, domain.ErrConflict)
	}

	adapter, err := s.adapter(account.Protocol)
	if err != nil {
		return domain.Account{}, err
	}

	actx, cancel := s.withTimeout(ctx)
	defer cancel()
	if err := adapter.Apply(actx, account); err != nil {
		return domain.Account{}, fmt.Errorf("restore account: %w", err)
	}

	account.State = domain.StateActive
	account.LastModifiedAt = s.clock.Now()
	if err := s.repo.Save(ctx, account); err != nil {
		return domain.Account{}, fmt.Errorf("save account: %w", err)
	}

	s.logger.Info("account unlocked", "account", id)
	return account, nil
}

// Renew moves the expiry date. A renewed expired account becomes active
// again and is re-provisioned on the daemon.
func (s *Service) Renew(ctx context.Context, id domain.AccountID, until time.Time) (domain.Account, error) {
	if err := ctx.Err(); err != nil {
		return domain.Account{}, err
	}
	defer s.lockAccount(id)()

	account, err := s.repo.Get(ctx, id)
	if err != nil {
		return domain.Account{}, err
	}

	account.ExpiresAt = until
	if account.State == domain.StateExpired && !account.ExpiredAt(s.clock.Now()) {
		adapter, err := s.adapter(account.Protocol)
		if err != nil {
			return domain.Account{}, err
		}
		actx, cancel := s.withTimeout(ctx)
		defer cancel()
		if err := adapter.Apply(actx, account); err != nil {
			return domain.Account{}, fmt.Errorf("restore account: %w", err)
		}
		account.State = domain.StateActive
	}

	account.LastModifiedAt = s.clock.Now()
	if err := s.repo.Save(ctx, account); err != nil {
		return domain.Account{}, fmt.Errorf("save account: %w", err)
	}

	s.logger.Info("account renewed", "account", id, "until", until)
	return account, nil
}

// Expire revokes daemon access for an account whose expiry date has passed.
// Called by the usage tracker; expiry is never reversed implicitly.
func (s *Service) Expire(ctx context.Context, id domain.AccountID) (domain.Account, error) {
	if err := ctx.Err(); err != nil {
		return domain.Account{}, err
	}
	defer s.lockAccount(id)()

	account, err := s.repo.Get(ctx, id)
	if err != nil {
		return domain.Account{}, err
	}
	if account.State == domain.StateExpired {
		return account, nil
	}
	if !account.ExpiredAt(s.clock.Now()) {
		return domain.Account{}, fmt.Errorf("account %q has not expired: %w", id, domain.ErrConflict)
	}

	adapter, err := s.adapter(account.Protocol)
	if err != nil {
		return domain.Account{}, err
	}

	actx, cancel := s.withTimeout(ctx)
	defer cancel()
	if err := adapter.Revoke(actx, id); err != nil {
		return domain.Account{}, fmt.Errorf("revoke account: %w", err)
	}

	account.State = domain.StateExpired
	account.LastModifiedAt = s.clock.Now()
	if err := s.repo.Save(ctx, account); err != nil {
		return domain.Account{}, fmt.Errorf("save account: %w", err)
	}

	s.logger.Info("account expired", "account", id)
	return account, nil
}

// Delete revokes the account on the daemon and removes the stored record.
// The delete is refused when the revoke fails, so a removed record never
// leaves a live daemon login behind.
func (s *Service) Delete(ctx context.Context, id domain.AccountID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	defer s.lockAccount(id)()

	account, err := s.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return err
	}

	adapter, err := s.adapter(account.Protocol)
	if err != nil {
		return err
	}

	actx, cancel := s.withTimeout(ctx)
	defer cancel()
	if err := adapter.Revoke(actx, id); err != nil {
		return fmt.Errorf("revoke account: %w", err)
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete account: %w", err)
	}

	s.logger.Info("account deleted", "account", id)
	return nil
}

// RotateCredential issues a fresh UUID for an xray-backed account and pushes
// it to the daemon before persisting.
func (s *Service) RotateCredential(ctx context.Context, id domain.AccountID) (domain.Account, error) {
	if err := ctx.Err(); err != nil {
		return domain.Account{}, err
	}
	defer s.lockAccount(id)()

	account, err := s.repo.Get(ctx, id)
	if err != nil {
		return domain.Account{}, err
	}
	rotated, err := account.Credential.Rotate(account.Protocol)
	if err != nil {
		return domain.Account{}, err
	}
	account.Credential = rotated

	if account.State == domain.StateActive {
		adapter, err := s.adapter(account.Protocol)
		if err != nil {
			return domain.Account{}, err
		}
		actx, cancel := s.withTimeout(ctx)
		defer cancel()
		if err := adapter.Apply(actx, account); err != nil {
			return domain.Account{}, fmt.Errorf("push credential: %w", err)
		}
	}

	account.LastModifiedAt = s.clock.Now()
	if err := s.repo.Save(ctx, account); err != nil {
		return domain.Account{}, fmt.Errorf("save account: %w", err)
	}

	s.logger.Info("credential rotated", "account", id)
	return account, nil
}

// SetQuota changes the account's limits. Enforcement against the new limits
// happens on the next tracker sweep.
func (s *Service) SetQuota(ctx context.Context, id domain.AccountID, quotaBytes int64, quotaLogins int) (domain.Account, error) {
	if err := ctx.Err(); err != nil {
		return domain.Account{}, err
	}
	defer s.lockAccount(id)()

	account, err := s.repo.Get(ctx, id)
	if err != nil {
		return domain.Account{}, err
	}
	if quotaBytes < 0 || quotaLogins < 0 {
		return domain.Account{}, fmt.Errorf("quota must not be negative: %w", domain.ErrValidation)
	}

	account.QuotaBytes = quotaBytes
	account.QuotaLogins = quotaLogins
	account.LastModifiedAt = s.clock.Now()
	if err := s.repo.Save(ctx, account); err != nil {
		return domain.Account{}, fmt.Errorf("save account: %w", err)
	}

	s.logger.Info("quota updated", "account", id,
		"bytes", quotaBytes, "logins", quotaLogins)
	return account, nil
}

// AccountStatus pairs a stored account with its live daemon view.
type AccountStatus struct {
	Account   domain.Account
	Sessions  int
	Reachable bool
}

// Status probes every stored account for its live session count. An
// unreachable daemon marks the entry instead of failing the whole report.
func (s *Service) Status(ctx context.Context, filter domain.Filter) ([]AccountStatus, error) {
	accounts, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, err
	}

	statuses := make([]AccountStatus, 0, len(accounts))
	for _, account := range accounts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		st := AccountStatus{Account: account}
		if adapter, err := s.adapter(account.Protocol); err == nil && account.State == domain.StateActive {
			actx, cancel := s.withTimeout(ctx)
			snap, perr := adapter.Probe(actx, account.ID)
			cancel()
			if perr == nil {
				st.Sessions = snap.Sessions
				st.Reachable = true
			}
		}
		statuses = append(statuses, st)
	}
	return statuses, nil
}

// LockOverQuota locks every active account that has exhausted its byte
// quota. The scan stops between accounts when the context is cancelled.
func (s *Service) LockOverQuota(ctx context.Context) ([]domain.AccountID, error) {
	accounts, err := s.repo.List(ctx, domain.Filter{State: domain.StateActive})
	if err != nil {
		return nil, err
	}

	var locked []domain.AccountID
	for _, account := range accounts {
		if err := ctx.Err(); err != nil {
			return locked, err
		}
		if !account.OverQuota() {
			continue
		}
		if _, err := s.Lock(ctx, account.ID); err != nil {
			s.logger.Warn("lock over-quota account", "account", account.ID, "error", err)
			continue
		}
		locked = append(locked, account.ID)
	}
	return locked, nil
}
