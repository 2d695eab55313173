package toml

import (
	"fmt"
	"time"

	"github.com/boxvps/boxvpsd/internal/domain"
)

const currentSchemaVersion = 1

type fileSchema struct {
	Version  int             `toml:"version"`
	Accounts []accountSchema `toml:"accounts"`
	// Audit retains hard-deleted accounts. They are never returned by
	// lookups; the daemon state they referenced is already revoked.
	Audit []auditSchema `toml:"audit,omitempty"`
}

func (s *fileSchema) applyDefaults() {
	if s.Version == 0 {
		s.Version = currentSchemaVersion
	}
}

func (s fileSchema) validateVersion() error {
	if s.Version > currentSchemaVersion {
		return fmt.Errorf("unsupported accounts schema version %d (current %d)", s.Version, currentSchemaVersion)
	}

	return nil
}

type accountSchema struct {
	ID       string           `toml:"id"`
	Protocol string           `toml:"protocol"`
	Cred     credentialSchema `toml:"credential"`

	QuotaBytes  int64 `toml:"quota_bytes,omitempty"`
	QuotaLogins int   `toml:"quota_logins,omitempty"`
	UsageBytes  int64 `toml:"usage_bytes"`
	UsageLogins int   `toml:"usage_logins"`

	ExpiresAt      string `toml:"expires_at,omitempty"`
	State          string `toml:"state"`
	CreatedAt      string `toml:"created_at"`
	LastModifiedAt string `toml:"last_modified_at"`
}

type credentialSchema struct {
	UUID         string `toml:"uuid,omitempty"`
	Secret       string `toml:"secret,omitempty"`
	PasswordHash string `toml:"password_hash,omitempty"`
}

type auditSchema struct {
	ID        string `toml:"id"`
	Protocol  string `toml:"protocol"`
	DeletedAt string `toml:"deleted_at"`
}

func toSchema(account domain.Account) accountSchema {
	return accountSchema{
		ID:       string(account.ID),
		Protocol: string(account.Protocol),
		Cred: credentialSchema{
			UUID:         account.Credential.UUID,
			Secret:       account.Credential.Secret,
			PasswordHash: account.Credential.PasswordHash,
		},
		QuotaBytes:     account.QuotaBytes,
		QuotaLogins:    account.QuotaLogins,
		UsageBytes:     account.UsageBytes,
		UsageLogins:    account.UsageLogins,
		ExpiresAt:      encodeTime(account.ExpiresAt),
		State:          string(account.State),
		CreatedAt:      encodeTime(account.CreatedAt),
		LastModifiedAt: encodeTime(account.LastModifiedAt),
	}
}

func fromSchema(entry accountSchema) domain.Account {
	return domain.Account{
		ID:       domain.AccountID(entry.ID),
		Protocol: domain.Protocol(entry.Protocol),
		Credential: domain.Credential{
			UUID:         entry.Cred.UUID,
			Secret:       entry.Cred.Secret,
			PasswordHash: entry.Cred.PasswordHash,
		},
		QuotaBytes:     entry.QuotaBytes,
		QuotaLogins:    entry.QuotaLogins,
		UsageBytes:     entry.UsageBytes,
		UsageLogins:    entry.UsageLogins,
		ExpiresAt:      decodeTime(entry.ExpiresAt),
		State:          domain.State(entry.State),
		CreatedAt:      decodeTime(entry.CreatedAt),
		LastModifiedAt: decodeTime(entry.LastModifiedAt),
	}
}

func encodeTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func decodeTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
