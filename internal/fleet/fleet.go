package fleet

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/boxvps/boxvpsd/internal/domain"
)

// Fleet holds one client per configured remote node.
type Fleet struct {
	clients map[string]*Client
}

func New(servers []domain.Server) *Fleet {
	clients := make(map[string]*Client, len(servers))
	for _, server := range servers {
		clients[server.ID] = NewClient(server)
	}
	return &Fleet{clients: clients}
}

func (f *Fleet) Node(id string) (*Client, error) {
	client, ok := f.clients[id]
	if !ok {
		return nil, fmt.Errorf("server %q: %w", id, domain.ErrServerNotFound)
	}
	return client, nil
}

// ServerStatus is one node's status report, or the error that prevented it.
type ServerStatus struct {
	ServerID string
	Statuses []NodeStatus
	Err      error
}

// Status queries every node concurrently. A single unreachable node shows
// up as an entry with Err set instead of failing the whole report.
func (f *Fleet) Status(ctx context.Context) []ServerStatus {
	results := make([]ServerStatus, 0, len(f.clients))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for id, client := range f.clients {
		wg.Add(1)
		go func(id string, client *Client) {
			defer wg.Done()
			statuses, err := client.Status(ctx)
			mu.Lock()
			results = append(results, ServerStatus{ServerID: id, Statuses: statuses, Err: err})
			mu.Unlock()
		}(id, client)
	}
	wg.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].ServerID < results[j].ServerID })
	return results
}
