package application

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boxvps/boxvpsd/internal/domain"
	"github.com/boxvps/boxvpsd/internal/ports"
)

type serviceFixture struct {
	svc   *Service
	repo  *memRepo
	ssh   *fakeAdapter
	vmess *fakeAdapter
	clock *fixedClock
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	repo := newMemRepo()
	ssh := newFakeAdapter(domain.ProtocolSSH)
	vmess := newFakeAdapter(domain.ProtocolVMess)
	clock := &fixedClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	svc := NewService(repo, map[domain.Protocol]ports.ProtocolAdapter{
		domain.ProtocolSSH:   ssh,
		domain.ProtocolVMess: vmess,
	}, ServiceOptions{
		Clock:  clock,
		Logger: slog.New(slog.DiscardHandler),
	})
	return &serviceFixture{svc: svc, repo: repo, ssh: ssh, vmess: vmess, clock: clock}
}

func TestCreateProvisionsAndPersists(t *testing.T) {
	f := newServiceFixture(t)

	account, err := f.svc.Create(context.Background(), CreateParams{
		ID:         "alice",
		Protocol:   domain.ProtocolSSH,
		Password:   "hunter2",
		QuotaBytes: domain.GigabytesToBytes(10),
	})
	require.NoError(t, err)

	assert.Equal(t, domain.StateActive, account.State)
	assert.Equal(t, f.clock.now, account.CreatedAt)
	assert.Equal(t, 1, f.ssh.applyCount())

	stored, err := f.repo.Get(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, account.Credential, stored.Credential)
}

func TestCreateDuplicateIsConflict(t *testing.T) {
	f := newServiceFixture(t)
	_, err := f.svc.Create(context.Background(), CreateParams{
		ID: "alice", Protocol: domain.ProtocolSSH, Password: "pw",
	})
	require.NoError(t, err)

	_, err = f.svc.Create(context.Background(), CreateParams{
		ID: "alice", Protocol: domain.ProtocolSSH, Password: "pw",
	})
	assert.ErrorIs(t, err, domain.ErrConflict)
	assert.Equal(t, 1, f.ssh.applyCount())
}

func TestCreateAdapterFailureLeavesNoRecord(t *testing.T) {
	f := newServiceFixture(t)
	f.ssh.applyErr = domain.ErrAdapterUnavailable

	_, err := f.svc.Create(context.Background(), CreateParams{
		ID: "alice", Protocol: domain.ProtocolSSH, Password: "pw",
	})
	assert.ErrorIs(t, err, domain.ErrAdapterUnavailable)

	_, err = f.repo.Get(context.Background(), "alice")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCreateRollsBackWhenSaveFails(t *testing.T) {
	f := newServiceFixture(t)
	f.repo.saveErr = errors.New("disk full")

	_, err := f.svc.Create(context.Background(), CreateParams{
		ID: "alice", Protocol: domain.ProtocolSSH, Password: "pw",
	})
	require.Error(t, err)
	assert.Equal(t, 1, f.ssh.revokeCount())
}

func TestLockRevokesThenPersists(t *testing.T) {
	f := newServiceFixture(t)
	_, err := f.svc.Create(context.Background(), CreateParams{
		ID: "alice", Protocol: domain.ProtocolSSH, Password: "pw",
	})
	require.NoError(t, err)

	account, err := f.svc.Lock(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.StateLocked, account.State)
	assert.Equal(t, 1, f.ssh.revokeCount())

	// Locking again changes nothing.
	account, err = f.svc.Lock(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.StateLocked, account.State)
	assert.Equal(t, 1, f.ssh.revokeCount())
}

func TestLockFailedRevokeKeepsStateActive(t *testing.T) {
	f := newServiceFixture(t)
	_, err := f.svc.Create(context.Background(), CreateParams{
		ID: "alice", Protocol: domain.ProtocolSSH, Password: "pw",
	})
	require.NoError(t, err)
	f.ssh.revokeErr = domain.ErrAdapterUnavailable

	_, err = f.svc.Lock(context.Background(), "alice")
	assert.ErrorIs(t, err, domain.ErrAdapterUnavailable)

	stored, err := f.repo.Get(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.StateActive, stored.State)
}

func TestUnlockRestoresAccess(t *testing.T) {
	f := newServiceFixture(t)
	_, err := f.svc.Create(context.Background(), CreateParams{
		ID: "alice", Protocol: domain.ProtocolSSH, Password: "pw",
	})
	require.NoError(t, err)
	_, err = f.svc.Lock(context.Background(), "alice")
	require.NoError(t, err)

	account, err := f.svc.Unlock(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.StateActive, account.State)
	assert.Equal(t, 2, f.ssh.applyCount())
}

func TestUnlockExpiredIsConflict(t *testing.T) {
	f := newServiceFixture(t)
	_, err := f.svc.Create(context.Background(), CreateParams{
		ID: "alice", Protocol: domain.ProtocolSSH, Password: "pw",
		ExpiresAt: f.clock.now.Add(time.Hour),
	})
	require.NoError(t, err)

	f.clock.now = f.clock.now.Add(2 * time.Hour)
	_, err = f.svc.Expire(context.Background(), "alice")
	require.NoError(t, err)

	_, err = f.svc.Unlock(context.Background(), "alice")
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestUnlockRefusesLockedAccountPastDeadline(t *testing.T) {
	f := newServiceFixture(t)
	_, err := f.svc.Create(context.Background(), CreateParams{
		ID: "alice", Protocol: domain.ProtocolSSH, Password: "pw",
		ExpiresAt: f.clock.now.Add(time.Hour),
	})
	require.NoError(t, err)
	_, err = f.svc.Lock(context.Background(), "alice")
	require.NoError(t, err)

	f.clock.now = f.clock.now.Add(2 * time.Hour)
	_, err = f.svc.Unlock(context.Background(), "alice")
	assert.ErrorIs(t, err, domain.ErrConflict)

	stored, err := f.repo.Get(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.StateLocked, stored.State)
}

func TestLockThenUnlockCannotReviveExpiredAccount(t *testing.T) {
	f := newServiceFixture(t)
	_, err := f.svc.Create(context.Background(), CreateParams{
		ID: "alice", Protocol: domain.ProtocolSSH, Password: "pw",
		ExpiresAt: f.clock.now.Add(time.Hour),
	})
	require.NoError(t, err)

	f.clock.now = f.clock.now.Add(2 * time.Hour)
	_, err = f.svc.Expire(context.Background(), "alice")
	require.NoError(t, err)
	_, err = f.svc.Lock(context.Background(), "alice")
	require.NoError(t, err)

	_, err = f.svc.Unlock(context.Background(), "alice")
	assert.ErrorIs(t, err, domain.ErrConflict)
	assert.Equal(t, 1, f.ssh.applyCount())
}

func TestRenewReactivatesExpiredAccount(t *testing.T) {
	f := newServiceFixture(t)
	_, err := f.svc.Create(context.Background(), CreateParams{
		ID: "alice", Protocol: domain.ProtocolSSH, Password: "pw",
		ExpiresAt: f.clock.now.Add(time.Hour),
	})
	require.NoError(t, err)

	f.clock.now = f.clock.now.Add(2 * time.Hour)
	_, err = f.svc.Expire(context.Background(), "alice")
	require.NoError(t, err)

	account, err := f.svc.Renew(context.Background(), "alice", f.clock.now.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, domain.StateActive, account.State)
	assert.Equal(t, 2, f.ssh.applyCount())
}

func TestExpireBeforeDeadlineIsConflict(t *testing.T) {
	f := newServiceFixture(t)
	_, err := f.svc.Create(context.Background(), CreateParams{
		ID: "alice", Protocol: domain.ProtocolSSH, Password: "pw",
		ExpiresAt: f.clock.now.Add(time.Hour),
	})
	require.NoError(t, err)

	_, err = f.svc.Expire(context.Background(), "alice")
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestDeleteRevokesThenRemoves(t *testing.T) {
	f := newServiceFixture(t)
	_, err := f.svc.Create(context.Background(), CreateParams{
		ID: "alice", Protocol: domain.ProtocolSSH, Password: "pw",
	})
	require.NoError(t, err)

	require.NoError(t, f.svc.Delete(context.Background(), "alice"))
	assert.Equal(t, 1, f.ssh.revokeCount())

	_, err = f.repo.Get(context.Background(), "alice")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	// A second delete of the same id succeeds without touching the daemon.
	require.NoError(t, f.svc.Delete(context.Background(), "alice"))
	assert.Equal(t, 1, f.ssh.revokeCount())
}

func TestDeleteRefusedWhenRevokeFails(t *testing.T) {
	f := newServiceFixture(t)
	_, err := f.svc.Create(context.Background(), CreateParams{
		ID: "alice", Protocol: domain.ProtocolSSH, Password: "pw",
	})
	require.NoError(t, err)
	f.ssh.revokeErr = domain.ErrAdapterUnavailable

	err = f.svc.Delete(context.Background(), "alice")
	assert.ErrorIs(t, err, domain.ErrAdapterUnavailable)

	_, err = f.repo.Get(context.Background(), "alice")
	assert.NoError(t, err)
}

func TestRotateCredentialPushesNewUUID(t *testing.T) {
	f := newServiceFixture(t)
	created, err := f.svc.Create(context.Background(), CreateParams{
		ID: "alice", Protocol: domain.ProtocolVMess,
	})
	require.NoError(t, err)

	rotated, err := f.svc.RotateCredential(context.Background(), "alice")
	require.NoError(t, err)
	assert.NotEqual(t, created.Credential.UUID, rotated.Credential.UUID)
	assert.Equal(t, 2, f.vmess.applyCount())
}

func TestRotateCredentialRejectedForSSH(t *testing.T) {
	f := newServiceFixture(t)
	_, err := f.svc.Create(context.Background(), CreateParams{
		ID: "alice", Protocol: domain.ProtocolSSH, Password: "pw",
	})
	require.NoError(t, err)

	_, err = f.svc.RotateCredential(context.Background(), "alice")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestSetQuotaPersistsLimits(t *testing.T) {
	f := newServiceFixture(t)
	_, err := f.svc.Create(context.Background(), CreateParams{
		ID: "alice", Protocol: domain.ProtocolSSH, Password: "pw",
	})
	require.NoError(t, err)

	account, err := f.svc.SetQuota(context.Background(), "alice", domain.GigabytesToBytes(5), 2)
	require.NoError(t, err)
	assert.Equal(t, domain.GigabytesToBytes(5), account.QuotaBytes)
	assert.Equal(t, 2, account.QuotaLogins)

	_, err = f.svc.SetQuota(context.Background(), "alice", -1, 0)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestStatusProbesActiveAccounts(t *testing.T) {
	f := newServiceFixture(t)
	_, err := f.svc.Create(context.Background(), CreateParams{
		ID: "alice", Protocol: domain.ProtocolSSH, Password: "pw",
	})
	require.NoError(t, err)
	_, err = f.svc.Create(context.Background(), CreateParams{
		ID: "bob", Protocol: domain.ProtocolSSH, Password: "pw",
	})
	require.NoError(t, err)
	_, err = f.svc.Lock(context.Background(), "bob")
	require.NoError(t, err)
	f.ssh.snapshots["alice"] = domain.UsageSnapshot{Sessions: 3}

	statuses, err := f.svc.Status(context.Background(), domain.Filter{})
	require.NoError(t, err)
	require.Len(t, statuses, 2)
	assert.Equal(t, 3, statuses[0].Sessions)
	assert.True(t, statuses[0].Reachable)
	assert.False(t, statuses[1].Reachable)
}

func TestLockOverQuotaLocksOnlyBreachedAccounts(t *testing.T) {
	f := newServiceFixture(t)
	for _, id := range []domain.AccountID{"alice", "bob"} {
		_, err := f.svc.Create(context.Background(), CreateParams{
			ID: id, Protocol: domain.ProtocolSSH, Password: "pw",
			QuotaBytes: 100,
		})
		require.NoError(t, err)
	}
	alice, err := f.repo.Get(context.Background(), "alice")
	require.NoError(t, err)
	alice.UsageBytes = 150
	require.NoError(t, f.repo.Save(context.Background(), alice))

	locked, err := f.svc.LockOverQuota(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []domain.AccountID{"alice"}, locked)

	bob, err := f.repo.Get(context.Background(), "bob")
	require.NoError(t, err)
	assert.Equal(t, domain.StateActive, bob.State)
}

func TestOperationsOnMissingAccountReturnNotFound(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	_, err := f.svc.Lock(ctx, "ghost")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = f.svc.Unlock(ctx, "ghost")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = f.svc.Renew(ctx, "ghost", time.Now())
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = f.svc.RotateCredential(ctx, "ghost")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
