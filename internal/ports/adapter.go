package ports

import (
	"context"

	"github.com/boxvps/boxvpsd/internal/domain"
)

// ProtocolAdapter translates an account record into live daemon state.
// One implementation per protocol family.
//
// Apply is incremental: provisioning or updating one account must not
// restart the daemon or disconnect other users. Revoke removes the account
// from the daemon entirely and is what both lock and delete ride on; Apply
// with the stored credential restores a revoked account.
//
// When the daemon's control mechanism is unreachable, Apply and Revoke
// fail wrapping domain.ErrAdapterUnavailable and must leave no partial
// state behind.
type ProtocolAdapter interface {
	Protocol() domain.Protocol
	Apply(ctx context.Context, account domain.Account) error
	Revoke(ctx context.Context, id domain.AccountID) error
	Probe(ctx context.Context, id domain.AccountID) (domain.UsageSnapshot, error)
}
