package application

import (
	"context"
	"sort"
	"strings"

	"github.com/boxvps/boxvpsd/internal/ports"
)

// DaemonHealth is one protocol daemon's systemd state.
type DaemonHealth struct {
	Name   string `json:"name"`
	Unit   string `json:"unit"`
	Active bool   `json:"active"`
}

// HealthChecker reports whether the protocol daemons are running. It only
// observes; restarting a dead daemon stays an operator action.
type HealthChecker struct {
	runner ports.CommandRunner
	units  map[string]string
}

func NewHealthChecker(runner ports.CommandRunner, units map[string]string) *HealthChecker {
	return &HealthChecker{runner: runner, units: units}
}

func (h *HealthChecker) Check(ctx context.Context) []DaemonHealth {
	names := make([]string, 0, len(h.units))
	for name := range h.units {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]DaemonHealth, 0, len(names))
	for _, name := range names {
		unit := h.units[name]
		state, err := h.runner.Run(ctx, "systemctl", "is-active", unit)
		out = append(out, DaemonHealth{
			Name:   name,
			Unit:   unit,
			Active: err == nil && strings.TrimSpace(string(state)) == "active",
		})
	}
	return out
}
