package application

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/boxvps/boxvpsd/internal/domain"
	"github.com/boxvps/boxvpsd/internal/ports"
)

type fixedClock struct{ now time.Time }

func (c *fixedClock) Now() time.Time { return c.now }

type memRepo struct {
	mu       sync.Mutex
	accounts map[domain.AccountID]domain.Account
	saveErr  error
}

var _ ports.AccountRepository = (*memRepo)(nil)

func newMemRepo() *memRepo {
	return &memRepo{accounts: make(map[domain.AccountID]domain.Account)}
}

func (r *memRepo) Get(_ context.Context, id domain.AccountID) (domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	account, ok := r.accounts[id]
	if !ok {
		return domain.Account{}, domain.ErrNotFound
	}
	return account, nil
}

func (r *memRepo) List(_ context.Context, filter domain.Filter) ([]domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Account
	for _, account := range r.accounts {
		if filter.Matches(account) {
			out = append(out, account)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memRepo) Save(_ context.Context, account domain.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.saveErr != nil {
		return r.saveErr
	}
	r.accounts[account.ID] = account
	return nil
}

func (r *memRepo) Delete(_ context.Context, id domain.AccountID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.accounts, id)
	return nil
}

type fakeAdapter struct {
	mu        sync.Mutex
	protocol  domain.Protocol
	applied   []domain.AccountID
	revoked   []domain.AccountID
	applyErr  error
	revokeErr error
	probeErr  error
	snapshots map[domain.AccountID]domain.UsageSnapshot
}

var _ ports.ProtocolAdapter = (*fakeAdapter)(nil)

func newFakeAdapter(p domain.Protocol) *fakeAdapter {
	return &fakeAdapter{protocol: p, snapshots: make(map[domain.AccountID]domain.UsageSnapshot)}
}

func (a *fakeAdapter) Protocol() domain.Protocol { return a.protocol }

func (a *fakeAdapter) Apply(_ context.Context, account domain.Account) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.applyErr != nil {
		return a.applyErr
	}
	a.applied = append(a.applied, account.ID)
	return nil
}

func (a *fakeAdapter) Revoke(_ context.Context, id domain.AccountID) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.revokeErr != nil {
		return a.revokeErr
	}
	a.revoked = append(a.revoked, id)
	return nil
}

func (a *fakeAdapter) Probe(_ context.Context, id domain.AccountID) (domain.UsageSnapshot, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.probeErr != nil {
		return domain.UsageSnapshot{}, a.probeErr
	}
	return a.snapshots[id], nil
}

func (a *fakeAdapter) applyCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.applied)
}

func (a *fakeAdapter) revokeCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.revoked)
}
