package ports

import (
	"context"
	"time"

	"github.com/boxvps/boxvpsd/internal/domain"
)

// AccountRepository is the single source of truth for managed accounts.
// Writes are atomic at single-account granularity; Delete is idempotent.
type AccountRepository interface {
	Get(ctx context.Context, id domain.AccountID) (domain.Account, error)
	List(ctx context.Context, filter domain.Filter) ([]domain.Account, error)
	Save(ctx context.Context, account domain.Account) error
	Delete(ctx context.Context, id domain.AccountID) error
}

type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now()
}
