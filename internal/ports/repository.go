package ports

import (
	"context"
	"time"

	"tradePilot/internal/domain"
)

// TradeFilter narrows trade queries. Zero fields do not filter.
type TradeFilter struct {
	IDs         []int64
	Pair        string
	IsOpen      *bool
	ClosedAfter time.Time
	Limit       int
}

// Repository is the storage collaborator. Every call is atomic and reads
// observe earlier writes from the same process.
type Repository interface {
	// SaveTrade inserts the trade when its ID is zero (assigning the ID) and updates it otherwise.
	// Orders are saved separately.
	SaveTrade(ctx context.Context, trade *domain.Trade) error
	// SaveOrder inserts or updates an order, including its fills.
	SaveOrder(ctx context.Context, order *domain.Order) error
	// QueryOpenTrades returns open trades with their orders, oldest first.
	QueryOpenTrades(ctx context.Context) ([]*domain.Trade, error)
	// QueryTradeByID returns nil, nil when no trade has the id.
	QueryTradeByID(ctx context.Context, id int64) (*domain.Trade, error)
	// QueryTrades returns the trades matching filter with their orders, oldest first.
	QueryTrades(ctx context.Context, filter TradeFilter) ([]*domain.Trade, error)
	// QueryOrderByID returns nil, nil when no order has the id.
	QueryOrderByID(ctx context.Context, id int64) (*domain.Order, error)
	// QueryOrderByExchangeID returns nil, nil when no order carries the exchange id.
	QueryOrderByExchangeID(ctx context.Context, orderID string) (*domain.Order, error)
	// QueryLocks returns locks still active at asOf.
	QueryLocks(ctx context.Context, asOf time.Time) ([]*domain.PairLock, error)
	// SavePairLock inserts or updates a lock.
	SavePairLock(ctx context.Context, lock *domain.PairLock) error
	// PurgeLocks deactivates locks that ended at or before asOf and returns how many.
	PurgeLocks(ctx context.Context, asOf time.Time) (int, error)
	// InTx runs fn against a transactional view of the repository. fn's writes are
	// committed together, or none are when fn returns an error.
	InTx(ctx context.Context, fn func(tx Repository) error) error
	// Close releases the underlying resources.
	Close() error
}
