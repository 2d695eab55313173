package bot

import (
	"fmt"
	"strings"

	"github.com/boxvps/boxvpsd/internal/application"
	"github.com/boxvps/boxvpsd/internal/domain"
)

func formatAccount(a domain.Account) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s (%s) %s\n", a.ID, a.Protocol, strings.ToUpper(string(a.State)))

	if a.Protocol.XrayBacked() {
		fmt.Fprintf(&sb, "uuid: %s\n", a.Credential.UUID)
	}
	if a.QuotaBytes > 0 {
		fmt.Fprintf(&sb, "traffic: %s / %s\n", domain.FormatBytes(a.UsageBytes), domain.FormatBytes(a.QuotaBytes))
	} else {
		fmt.Fprintf(&sb, "traffic: %s, no limit\n", domain.FormatBytes(a.UsageBytes))
	}
	if !a.ExpiresAt.IsZero() {
		fmt.Fprintf(&sb, "expires: %s\n", a.ExpiresAt.Format("2006-01-02"))
	}
	return strings.TrimRight(sb.String(), "\n")
}

func formatAccountList(accounts []domain.Account) string {
	if len(accounts) == 0 {
		return "No accounts."
	}
	lines := make([]string, 0, len(accounts))
	for _, a := range accounts {
		lines = append(lines, fmt.Sprintf("%s (%s) %s, %s used",
			a.ID, a.Protocol, a.State, domain.FormatBytes(a.UsageBytes)))
	}
	return strings.Join(lines, "\n")
}

func formatStatuses(statuses []application.AccountStatus) string {
	if len(statuses) == 0 {
		return "No accounts."
	}
	lines := make([]string, 0, len(statuses))
	for _, st := range statuses {
		line := fmt.Sprintf("%s (%s) %s", st.Account.ID, st.Account.Protocol, st.Account.State)
		switch {
		case st.Account.State != domain.StateActive:
		case st.Reachable:
			line += fmt.Sprintf(", %d online", st.Sessions)
		default:
			line += ", daemon unreachable"
		}
		if st.Account.OverQuota() {
			line += " OVER QUOTA"
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func formatEvents(events []application.Event) string {
	lines := make([]string, 0, len(events))
	for _, ev := range events {
		switch ev.Kind {
		case application.EventQuotaBreach:
			lines = append(lines, fmt.Sprintf("Quota breach: %s used %s of %s",
				ev.AccountID, domain.FormatBytes(ev.UsageBytes), domain.FormatBytes(ev.QuotaBytes)))
		case application.EventExpired:
			lines = append(lines, fmt.Sprintf("Expired: %s", ev.AccountID))
		}
	}
	return strings.Join(lines, "\n")
}
