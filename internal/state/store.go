package state

import (
	"context"
	"time"
)

// AccountRecord is the persisted view of one account. Credentials are
// stored so inbound requests can be resolved to a uid without another
// round trip to the exchange.
type AccountRecord struct {
	UID            int64
	UpdatedAt      time.Time
	APIKey         string
	APISecret      string
	AccountState   int
	AssetValuation float64
	USDTBalance    float64
	MarginRatio    float64
}

type Store interface {
	UpsertAccount(ctx context.Context, record AccountRecord) error
	GetByUID(ctx context.Context, uid int64) (AccountRecord, bool, error)
	GetByAPIKey(ctx context.Context, apiKey, apiSecret string) (AccountRecord, bool, error)
	SetAccountState(ctx context.Context, uid int64, accountState int) error
	Close() error
}
