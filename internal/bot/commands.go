package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/boxvps/boxvpsd/internal/application"
	"github.com/boxvps/boxvpsd/internal/domain"
)

const helpText = `Commands:
/adduser <id> <protocol> [password] [quota_gb] [days]
/deluser <id>
/listuser
/lockuser <id>
/unlockuser <id>
/renew <id> <days>
/quota <id> <quota_gb> [max_logins]
/status
/backup
/restore <archive>`

func (b *Bot) dispatch(ctx context.Context, command, args string) string {
	fields := strings.Fields(args)

	switch command {
	case "start", "help":
		return helpText
	case "adduser":
		return b.cmdAddUser(ctx, fields)
	case "deluser":
		return b.cmdDelUser(ctx, fields)
	case "listuser":
		return b.cmdListUsers(ctx)
	case "lockuser":
		return b.cmdLockUser(ctx, fields)
	case "unlockuser":
		return b.cmdUnlockUser(ctx, fields)
	case "renew":
		return b.cmdRenew(ctx, fields)
	case "quota":
		return b.cmdQuota(ctx, fields)
	case "status":
		return b.cmdStatus(ctx)
	case "backup":
		return b.cmdBackup(ctx)
	case "restore":
		return b.cmdRestore(ctx, fields)
	default:
		return "Unknown command. Send /help for usage."
	}
}

func (b *Bot) cmdAddUser(ctx context.Context, fields []string) string {
	if len(fields) < 2 {
		return "Usage: /adduser <id> <protocol> [password] [quota_gb] [days]"
	}

	params := application.CreateParams{
		ID:       domain.AccountID(fields[0]),
		Protocol: domain.Protocol(fields[1]),
	}
	if len(fields) > 2 {
		params.Password = fields[2]
	}
	if len(fields) > 3 {
		gb, err := strconv.ParseInt(fields[3], 10, 64)
		if err != nil {
			return fmt.Sprintf("Bad quota %q, expected a number of gigabytes.", fields[3])
		}
		params.QuotaBytes = domain.GigabytesToBytes(gb)
	}
	if len(fields) > 4 {
		days, err := strconv.Atoi(fields[4])
		if err != nil {
			return fmt.Sprintf("Bad duration %q, expected a number of days.", fields[4])
		}
		params.ExpiresAt = time.Now().AddDate(0, 0, days)
	}

	account, err := b.svc.Create(ctx, params)
	if err != nil {
		return errorText(err)
	}
	return "Created:\n" + formatAccount(account)
}

func (b *Bot) cmdDelUser(ctx context.Context, fields []string) string {
	if len(fields) != 1 {
		return "Usage: /deluser <id>"
	}
	if err := b.svc.Delete(ctx, domain.AccountID(fields[0])); err != nil {
		return errorText(err)
	}
	return fmt.Sprintf("Deleted %s.", fields[0])
}

func (b *Bot) cmdListUsers(ctx context.Context) string {
	accounts, err := b.svc.List(ctx, domain.Filter{})
	if err != nil {
		return errorText(err)
	}
	return formatAccountList(accounts)
}

func (b *Bot) cmdLockUser(ctx context.Context, fields []string) string {
	if len(fields) != 1 {
		return "Usage: /lockuser <id>"
	}
	account, err := b.svc.Lock(ctx, domain.AccountID(fields[0]))
	if err != nil {
		return errorText(err)
	}
	return fmt.Sprintf("Locked %s.", account.ID)
}

func (b *Bot) cmdUnlockUser(ctx context.Context, fields []string) string {
	if len(fields) != 1 {
		return "Usage: /unlockuser <id>"
	}
	account, err := b.svc.Unlock(ctx, domain.AccountID(fields[0]))
	if err != nil {
		return errorText(err)
	}
	return fmt.Sprintf("Unlocked %s.", account.ID)
}

func (b *Bot) cmdRenew(ctx context.Context, fields []string) string {
	if len(fields) != 2 {
		return "Usage: /renew <id> <days>"
	}
	days, err := strconv.Atoi(fields[1])
	if err != nil || days <= 0 {
		return fmt.Sprintf("Bad duration %q, expected a positive number of days.", fields[1])
	}

	account, err := b.svc.Renew(ctx, domain.AccountID(fields[0]), time.Now().AddDate(0, 0, days))
	if err != nil {
		return errorText(err)
	}
	return fmt.Sprintf("Renewed %s until %s.", account.ID, account.ExpiresAt.Format("2006-01-02"))
}

func (b *Bot) cmdQuota(ctx context.Context, fields []string) string {
	if len(fields) < 2 {
		return "Usage: /quota <id> <quota_gb> [max_logins]"
	}
	gb, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return fmt.Sprintf("Bad quota %q, expected a number of gigabytes.", fields[1])
	}
	logins := 0
	if len(fields) > 2 {
		logins, err = strconv.Atoi(fields[2])
		if err != nil {
			return fmt.Sprintf("Bad login limit %q, expected a number.", fields[2])
		}
	}

	account, err := b.svc.SetQuota(ctx, domain.AccountID(fields[0]), domain.GigabytesToBytes(gb), logins)
	if err != nil {
		return errorText(err)
	}
	return fmt.Sprintf("Quota for %s set to %s.", account.ID, domain.FormatBytes(account.QuotaBytes))
}

func (b *Bot) cmdStatus(ctx context.Context) string {
	statuses, err := b.svc.Status(ctx, domain.Filter{})
	if err != nil {
		return errorText(err)
	}
	return formatStatuses(statuses)
}

func (b *Bot) cmdBackup(ctx context.Context) string {
	path, err := b.backups.Create(ctx)
	if err != nil {
		return errorText(err)
	}
	return "Backup written to " + path
}

func (b *Bot) cmdRestore(ctx context.Context, fields []string) string {
	if len(fields) != 1 {
		return "Usage: /restore <archive>"
	}
	if err := b.backups.Restore(ctx, fields[0]); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return "No such archive."
		}
		return errorText(err)
	}
	return "Restored from " + fields[0]
}

func errorText(err error) string {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return "No such account."
	case errors.Is(err, domain.ErrConflict):
		return "Refused: " + err.Error()
	case errors.Is(err, domain.ErrValidation):
		return "Invalid input: " + err.Error()
	case errors.Is(err, domain.ErrAdapterUnavailable):
		return "Daemon unavailable, nothing was changed. Try again later."
	default:
		return "Failed: " + err.Error()
	}
}
