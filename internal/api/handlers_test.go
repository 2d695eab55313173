package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boxvps/boxvpsd/internal/application"
	"github.com/boxvps/boxvpsd/internal/domain"
	"github.com/boxvps/boxvpsd/internal/ports"
	tomlrepo "github.com/boxvps/boxvpsd/internal/adapters/repo/toml"
)

const testToken = "test-token"

type apiFixture struct {
	ts  *httptest.Server
	ssh *stubAdapter
}

type activeRunner struct{}

func (activeRunner) Run(context.Context, string, ...string) ([]byte, error) {
	return []byte("active\n"), nil
}

func (activeRunner) RunInput(context.Context, string, string, ...string) ([]byte, error) {
	return []byte("active\n"), nil
}

type stubAdapter struct {
	protocol  domain.Protocol
	applyErr  error
	revokeErr error
}

func (a *stubAdapter) Protocol() domain.Protocol { return a.protocol }

func (a *stubAdapter) Apply(_ context.Context, _ domain.Account) error { return a.applyErr }

func (a *stubAdapter) Revoke(_ context.Context, _ domain.AccountID) error { return a.revokeErr }

func (a *stubAdapter) Probe(_ context.Context, _ domain.AccountID) (domain.UsageSnapshot, error) {
	return domain.UsageSnapshot{Sessions: 1}, nil
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	dataDir := t.TempDir()
	repo, err := tomlrepo.NewRepository(dataDir+"/accounts.toml", ports.SystemClock{})
	require.NoError(t, err)
	ssh := &stubAdapter{protocol: domain.ProtocolSSH}
	logger := slog.New(slog.DiscardHandler)

	svc := application.NewService(repo, map[domain.Protocol]ports.ProtocolAdapter{
		domain.ProtocolSSH: ssh,
	}, application.ServiceOptions{Logger: logger})
	backups := application.NewBackups(dataDir, t.TempDir(), nil)
	health := application.NewHealthChecker(activeRunner{}, map[string]string{"ssh": "sshd"})

	server := NewServer(svc, backups, health, testToken, logger)
	ts := httptest.NewServer(server.Router())
	t.Cleanup(ts.Close)

	return &apiFixture{ts: ts, ssh: ssh}
}

func (f *apiFixture) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()

	var buf io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		buf = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, f.ts.URL+path, buf)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+testToken)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (f *apiFixture) createAccount(t *testing.T, id string) {
	t.Helper()
	resp := f.do(t, http.MethodPost, "/api/users", map[string]any{
		"id": id, "protocol": "ssh", "password": "pw",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestCreateAndGetUser(t *testing.T) {
	f := newAPIFixture(t)
	f.createAccount(t, "alice")

	resp := f.do(t, http.MethodGet, "/api/users/alice", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	account := decode[accountResponse](t, resp)
	assert.Equal(t, "alice", account.ID)
	assert.Equal(t, "ssh", account.Protocol)
	assert.Equal(t, "active", account.State)
}

func TestCreateRejectsBadProtocol(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.do(t, http.MethodPost, "/api/users", map[string]any{
		"id": "alice", "protocol": "wireguard", "password": "pw",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCreateDuplicateIsConflict(t *testing.T) {
	f := newAPIFixture(t)
	f.createAccount(t, "alice")

	resp := f.do(t, http.MethodPost, "/api/users", map[string]any{
		"id": "alice", "protocol": "ssh", "password": "pw",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestLockUnlockFlow(t *testing.T) {
	f := newAPIFixture(t)
	f.createAccount(t, "alice")

	resp := f.do(t, http.MethodPost, "/api/users/alice/lock", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "locked", decode[accountResponse](t, resp).State)

	resp = f.do(t, http.MethodPost, "/api/users/alice/unlock", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "active", decode[accountResponse](t, resp).State)
}

func TestDeleteWithUnreachableDaemonIs503(t *testing.T) {
	f := newAPIFixture(t)
	f.createAccount(t, "alice")
	f.ssh.revokeErr = domain.ErrAdapterUnavailable

	resp := f.do(t, http.MethodDelete, "/api/users/alice", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestGetMissingUserIs404(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.do(t, http.MethodGet, "/api/users/ghost", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListFiltersByState(t *testing.T) {
	f := newAPIFixture(t)
	f.createAccount(t, "alice")
	f.createAccount(t, "bob")
	resp := f.do(t, http.MethodPost, "/api/users/bob/lock", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/api/users?state=locked", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	accounts := decode[[]accountResponse](t, resp)
	require.Len(t, accounts, 1)
	assert.Equal(t, "bob", accounts[0].ID)
}

func TestRenewUpdatesExpiry(t *testing.T) {
	f := newAPIFixture(t)
	f.createAccount(t, "alice")
	until := time.Now().UTC().Add(30 * 24 * time.Hour).Truncate(time.Second)

	resp := f.do(t, http.MethodPost, "/api/users/alice/renew", map[string]any{"until": until})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, until.Equal(decode[accountResponse](t, resp).ExpiresAt))
}

func TestQuotaUpdate(t *testing.T) {
	f := newAPIFixture(t)
	f.createAccount(t, "alice")

	resp := f.do(t, http.MethodPut, "/api/users/alice/quota", quotaRequest{
		QuotaBytes: 1 << 30, QuotaLogins: 2,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	account := decode[accountResponse](t, resp)
	assert.Equal(t, int64(1<<30), account.QuotaBytes)
	assert.Equal(t, 2, account.QuotaLogins)
}

func TestStatusEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	f.createAccount(t, "alice")

	resp := f.do(t, http.MethodGet, "/api/status", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	statuses := decode[[]statusResponse](t, resp)
	require.Len(t, statuses, 1)
	assert.True(t, statuses[0].Reachable)
	assert.Equal(t, 1, statuses[0].Sessions)
}

func TestHealthEndpoint(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.do(t, http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	health := decode[[]application.DaemonHealth](t, resp)
	require.Len(t, health, 1)
	assert.Equal(t, "ssh", health[0].Name)
	assert.True(t, health[0].Active)
}

func TestBackupAndRestore(t *testing.T) {
	f := newAPIFixture(t)
	f.createAccount(t, "alice")

	resp := f.do(t, http.MethodPost, "/api/backup", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	path := decode[map[string]string](t, resp)["path"]
	require.NotEmpty(t, path)

	resp = f.do(t, http.MethodPost, "/api/restore", restoreRequest{Path: path})
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestRequestWithoutTokenIsRejected(t *testing.T) {
	f := newAPIFixture(t)

	resp, err := http.Get(f.ts.URL + "/api/users")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRequestWithWrongTokenIsRejected(t *testing.T) {
	f := newAPIFixture(t)

	req, err := http.NewRequest(http.MethodGet, f.ts.URL+"/api/users", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer wrong")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
