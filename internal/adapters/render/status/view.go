// Package status renders account listings and live daemon status for the
// terminal.
package status

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/boxvps/boxvpsd/internal/application"
	"github.com/boxvps/boxvpsd/internal/domain"
)

type RenderOptions struct {
	Now time.Time
}

// Render formats one section per account with a quota bar, the state badge,
// and live session counts where the daemon answered.
func Render(statuses []application.AccountStatus, opts RenderOptions) string {
	s := newStyles()

	lines := []string{
		s.title.Render("BoxVPS Accounts"),
		s.header.Render(fmt.Sprintf("accounts: %d", len(statuses))),
	}

	if len(statuses) == 0 {
		lines = append(lines, s.empty.Render("No accounts found."))
		return lipgloss.JoinVertical(lipgloss.Left, lines...)
	}

	for _, st := range statuses {
		lines = append(lines, s.section.Render(renderAccount(st, opts, s)))
	}

	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func renderAccount(st application.AccountStatus, opts RenderOptions, s styles) string {
	account := st.Account

	header := lipgloss.JoinHorizontal(
		lipgloss.Top,
		s.account.Render(string(account.ID)),
		s.detail.Render(fmt.Sprintf(" (%s) ", account.Protocol)),
		s.state(string(account.State)).Render(strings.ToUpper(string(account.State))),
	)

	parts := []string{header, quotaLine(account, s)}

	if account.State == domain.StateActive {
		parts = append(parts, sessionLine(st, s))
	}
	if line := expiryLine(account, opts.Now, s); line != "" {
		parts = append(parts, line)
	}

	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func quotaLine(account domain.Account, s styles) string {
	if account.QuotaBytes <= 0 {
		return s.detail.Render(fmt.Sprintf("traffic: %s used, no limit", domain.FormatBytes(account.UsageBytes)))
	}

	percent := 100 * float64(account.UsageBytes) / float64(account.QuotaBytes)
	line := lipgloss.JoinHorizontal(
		lipgloss.Top,
		s.detail.Render("traffic: "),
		renderQuotaBar(percent, 24, s),
		s.detail.Render(fmt.Sprintf(" %s / %s",
			domain.FormatBytes(account.UsageBytes),
			domain.FormatBytes(account.QuotaBytes))),
	)
	if account.OverQuota() {
		line += " " + s.warning.Render("[over quota]")
	}
	return line
}

func sessionLine(st application.AccountStatus, s styles) string {
	if !st.Reachable {
		return s.warning.Render("sessions: daemon unreachable")
	}
	line := fmt.Sprintf("sessions: %d", st.Sessions)
	if st.Account.QuotaLogins > 0 {
		line += fmt.Sprintf(" / %d", st.Account.QuotaLogins)
	}
	return s.detail.Render(line)
}

func expiryLine(account domain.Account, now time.Time, s styles) string {
	if account.ExpiresAt.IsZero() {
		return ""
	}
	if !now.IsZero() && account.ExpiredAt(now) {
		return s.warning.Render(fmt.Sprintf("expired: %s", account.ExpiresAt.Format("2006-01-02")))
	}
	return s.detail.Render(fmt.Sprintf("expires: %s", account.ExpiresAt.Format("2006-01-02")))
}

func renderQuotaBar(usedPercent float64, width int, s styles) string {
	if width <= 0 {
		return ""
	}

	used := usedPercent
	if used < 0 {
		used = 0
	}
	if used > 100 {
		used = 100
	}

	filled := int(math.Round(float64(width) * used / 100))
	if filled > width {
		filled = width
	}

	return lipgloss.JoinHorizontal(
		lipgloss.Top,
		s.barBracket.Render("["),
		s.barFill.Render(strings.Repeat("=", filled)),
		s.barEmpty.Render(strings.Repeat("-", width-filled)),
		s.barBracket.Render("]"),
	)
}
