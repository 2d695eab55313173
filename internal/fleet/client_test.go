package fleet

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boxvps/boxvpsd/internal/domain"
)

func newTestNode(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	return NewClient(domain.Server{ID: "node1", APIEndpoint: ts.URL, AuthToken: "secret"})
}

func TestClientSendsBearerToken(t *testing.T) {
	var gotAuth string
	client := newTestNode(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode([]Account{})
	})

	_, err := client.ListAccounts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Bearer secret", gotAuth)
}

func TestClientCreateAccount(t *testing.T) {
	client := newTestNode(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/users", r.URL.Path)

		var req CreateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(Account{ID: req.ID, Protocol: req.Protocol, State: "active"})
	})

	account, err := client.CreateAccount(context.Background(), CreateRequest{ID: "alice", Protocol: "ssh", Password: "pw"})
	require.NoError(t, err)
	assert.Equal(t, "alice", account.ID)
	assert.Equal(t, "active", account.State)
}

func TestClientMapsErrorStatuses(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{"not found", http.StatusNotFound, domain.ErrNotFound},
		{"conflict", http.StatusConflict, domain.ErrConflict},
		{"validation", http.StatusBadRequest, domain.ErrValidation},
		{"unavailable", http.StatusServiceUnavailable, domain.ErrAdapterUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestNode(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				json.NewEncoder(w).Encode(map[string]string{"error": "nope"})
			})

			_, err := client.GetAccount(context.Background(), "alice")
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestClientUnreachableNode(t *testing.T) {
	client := NewClient(domain.Server{ID: "node1", APIEndpoint: "http://127.0.0.1:1", AuthToken: "secret"})

	_, err := client.ListAccounts(context.Background())
	assert.ErrorIs(t, err, domain.ErrAdapterUnavailable)
}

func TestFleetStatusCollectsAllNodes(t *testing.T) {
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]NodeStatus{{Account: Account{ID: "alice"}, Sessions: 1, Reachable: true}})
	}))
	t.Cleanup(good.Close)

	f := New([]domain.Server{
		{ID: "a-good", APIEndpoint: good.URL, AuthToken: "t"},
		{ID: "b-down", APIEndpoint: "http://127.0.0.1:1", AuthToken: "t"},
	})

	results := f.Status(context.Background())
	require.Len(t, results, 2)
	assert.Equal(t, "a-good", results[0].ServerID)
	require.NoError(t, results[0].Err)
	require.Len(t, results[0].Statuses, 1)
	assert.Equal(t, "alice", results[0].Statuses[0].Account.ID)
	assert.Error(t, results[1].Err)
}

func TestFleetUnknownNode(t *testing.T) {
	f := New(nil)
	_, err := f.Node("ghost")
	assert.ErrorIs(t, err, domain.ErrServerNotFound)
}
