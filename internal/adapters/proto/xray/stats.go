package xray

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/boxvps/boxvpsd/internal/domain"
)

// StatsClient reads the local stats service Xray exposes over HTTP.
// Counter names follow the core's convention:
//
//	user>>><email>>>>traffic>>>uplink
//	user>>><email>>>>traffic>>>downlink
//	user>>><email>>>>online        (optional, when device counting is on)
type StatsClient struct {
	baseURL string
	client  *http.Client
}

func NewStatsClient(baseURL string) *StatsClient {
	return &StatsClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 4 * time.Second},
	}
}

type statEntry struct {
	Name  string `json:"name"`
	Value int64  `json:"value"`
}

type statsResponse struct {
	Stat []statEntry `json:"stat"`
}

// Usage sums the uplink/downlink counters for the account and picks up the
// online counter when present.
func (c *StatsClient) Usage(ctx context.Context, email string) (domain.UsageSnapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/stats", nil)
	if err != nil {
		return domain.UsageSnapshot{}, fmt.Errorf("build stats request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return domain.UsageSnapshot{}, fmt.Errorf("query xray stats: %w: %v", domain.ErrAdapterUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.UsageSnapshot{}, fmt.Errorf("query xray stats: %w: status %d", domain.ErrAdapterUnavailable, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return domain.UsageSnapshot{}, fmt.Errorf("read xray stats: %w: %v", domain.ErrAdapterUnavailable, err)
	}

	var stats statsResponse
	if err := json.Unmarshal(body, &stats); err != nil {
		return domain.UsageSnapshot{}, fmt.Errorf("decode xray stats: %w", err)
	}

	prefix := "user>>>" + email + ">>>"
	var snap domain.UsageSnapshot
	for _, stat := range stats.Stat {
		if !strings.HasPrefix(stat.Name, prefix) {
			continue
		}
		switch {
		case strings.HasSuffix(stat.Name, ">>>uplink"), strings.HasSuffix(stat.Name, ">>>downlink"):
			snap.Bytes += stat.Value
		case strings.HasSuffix(stat.Name, ">>>online"):
			snap.Sessions = int(stat.Value)
		}
	}

	return snap, nil
}
