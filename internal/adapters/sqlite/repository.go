package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"tradePilot/internal/domain"
	"tradePilot/internal/money"
	"tradePilot/internal/ports"
)

var fillCodec = jsoniter.ConfigCompatibleWithStandardLibrary

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Repository implements ports.Repository using SQLite.
type Repository struct {
	db     *sql.DB
	q      dbtx
	inTx   bool
	logger ports.Logger
}

// Config holds configuration for the SQLite repository.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// NewRepository creates a new SQLite repository instance.
func NewRepository(cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite repository")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/tradepilot.db"
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		err = fmt.Errorf("failed to open database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("failed to ping database at '%s': %w: %w", dbPath, ports.ErrDBConnection, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// One connection: a transaction holds it and every other caller waits.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	cfg.Logger.Info(context.Background(), "SQLite database connection established", map[string]interface{}{"path": dbPath})

	repo := newRepository(db, cfg.Logger)
	if err := repo.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}
	cfg.Logger.Info(context.Background(), "Database schema initialized/verified")

	return repo, nil
}

func newRepository(db *sql.DB, logger ports.Logger) *Repository {
	return &Repository{db: db, q: db, logger: logger}
}

// initializeSchema creates tables if they don't exist.
// Money columns are TEXT so values keep full decimal precision.
func (r *Repository) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS trades (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		exchange TEXT NOT NULL DEFAULT '',
		pair TEXT NOT NULL,
		base_currency TEXT NOT NULL DEFAULT '',
		stake_currency TEXT NOT NULL DEFAULT '',
		is_open INTEGER NOT NULL,
		amount TEXT NOT NULL,
		amount_requested TEXT NOT NULL,
		stake_amount TEXT NOT NULL,
		open_rate TEXT NOT NULL,
		open_trade_value TEXT NOT NULL,
		close_rate TEXT NOT NULL,
		open_date TIMESTAMP NOT NULL,
		close_date TIMESTAMP DEFAULT NULL,
		fee_open TEXT NOT NULL,
		fee_close TEXT NOT NULL,
		stop_loss TEXT NOT NULL,
		stop_loss_pct TEXT NOT NULL,
		initial_stop_loss TEXT NOT NULL,
		initial_stop_loss_pct TEXT NOT NULL,
		is_stop_loss_trailing INTEGER NOT NULL,
		max_rate TEXT NOT NULL,
		min_rate TEXT NOT NULL,
		realized_profit TEXT NOT NULL,
		close_profit TEXT NOT NULL,
		close_profit_abs TEXT NOT NULL,
		trading_mode TEXT NOT NULL,
		is_short INTEGER NOT NULL,
		leverage TEXT NOT NULL,
		interest_rate TEXT DEFAULT NULL,
		exit_reason TEXT NOT NULL DEFAULT '',
		enter_tag TEXT NOT NULL DEFAULT '',
		strategy TEXT NOT NULL DEFAULT '',
		storage_mode TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS orders (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		trade_id INTEGER NOT NULL REFERENCES trades (id),
		order_id TEXT NOT NULL DEFAULT '',
		client_order_id TEXT NOT NULL DEFAULT '',
		side TEXT NOT NULL,
		type TEXT NOT NULL,
		symbol TEXT NOT NULL,
		quantity TEXT NOT NULL,
		limit_price TEXT NOT NULL,
		stop_price TEXT NOT NULL,
		status TEXT NOT NULL,
		created_time TIMESTAMP NOT NULL,
		executed_quantity TEXT NOT NULL,
		executed_price TEXT NOT NULL,
		executed_time TIMESTAMP DEFAULT NULL,
		is_open INTEGER NOT NULL,
		fills TEXT NOT NULL DEFAULT '[]',
		reason TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS pair_locks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		pair TEXT NOT NULL,
		lock_time TIMESTAMP NOT NULL,
		lock_end_time TIMESTAMP NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		active INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_trades_is_open ON trades (is_open);
	CREATE INDEX IF NOT EXISTS idx_trades_pair ON trades (pair);
	CREATE INDEX IF NOT EXISTS idx_orders_trade_id ON orders (trade_id);
	CREATE INDEX IF NOT EXISTS idx_orders_order_id ON orders (order_id);
	CREATE INDEX IF NOT EXISTS idx_pair_locks_active_end ON pair_locks (active, lock_end_time);
	`
	_, err := r.q.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	if r.db != nil && !r.inTx {
		r.logger.Info(context.Background(), "Closing SQLite database connection")
		return r.db.Close()
	}
	return nil
}

// InTx runs fn inside one database transaction. Nested calls join the outer one.
func (r *Repository) InTx(ctx context.Context, fn func(tx ports.Repository) error) error {
	if r.inTx {
		return fn(r)
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w: %w", ports.ErrDBConnection, err)
	}
	txRepo := &Repository{db: r.db, q: tx, inTx: true, logger: r.logger}

	if err := fn(txRepo); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			r.logger.Error(ctx, rbErr, "InTx: rollback failed")
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w: %w", ports.ErrUpdateFailed, err)
	}
	return nil
}

// --- Trades ---

const tradeColumns = `exchange, pair, base_currency, stake_currency, is_open, amount, amount_requested,
	stake_amount, open_rate, open_trade_value, close_rate, open_date, close_date, fee_open, fee_close,
	stop_loss, stop_loss_pct, initial_stop_loss, initial_stop_loss_pct, is_stop_loss_trailing,
	max_rate, min_rate, realized_profit, close_profit, close_profit_abs, trading_mode, is_short,
	leverage, interest_rate, exit_reason, enter_tag, strategy, storage_mode`

func tradeArgs(t *domain.Trade) []interface{} {
	var closeDate sql.NullTime
	if t.CloseDate != nil {
		closeDate = sql.NullTime{Time: *t.CloseDate, Valid: true}
	}
	var interest sql.NullString
	if t.InterestRate != nil {
		interest = sql.NullString{String: t.InterestRate.String(), Valid: true}
	}
	return []interface{}{
		t.Exchange, t.Pair, t.BaseCurrency, t.StakeCurrency, t.IsOpen, t.Amount, t.AmountRequested,
		t.StakeAmount, t.OpenRate, t.OpenTradeValue, t.CloseRate, t.OpenDate, closeDate, t.FeeOpen, t.FeeClose,
		t.StopLoss, t.StopLossPct, t.InitialStopLoss, t.InitialStopLossPct, t.IsStopLossTrailing,
		t.MaxRate, t.MinRate, t.RealizedProfit, t.CloseProfit, t.CloseProfitAbs, string(t.TradingMode), t.IsShort,
		t.Leverage, interest, string(t.ExitReason), t.EnterTag, t.Strategy, string(t.StorageMode),
	}
}

// SaveTrade inserts a new trade (assigning its ID) or updates an existing one.
func (r *Repository) SaveTrade(ctx context.Context, t *domain.Trade) error {
	if t.ID == 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(tradeArgs(t))), ", ")
		query := "INSERT INTO trades (" + tradeColumns + ") VALUES (" + placeholders + ")"
		result, err := r.q.ExecContext(ctx, query, tradeArgs(t)...)
		if err != nil {
			return fmt.Errorf("failed to insert trade for pair %s: %w: %w", t.Pair, ports.ErrUpdateFailed, err)
		}
		id, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get last insert ID for trade %s: %w", t.Pair, err)
		}
		t.ID = id
		r.logger.Debug(ctx, "Trade created", map[string]interface{}{"tradeID": id, "pair": t.Pair})
		return nil
	}

	sets := strings.Split(strings.Join(strings.Fields(tradeColumns), ""), ",")
	for i, col := range sets {
		sets[i] = col + " = ?"
	}
	query := "UPDATE trades SET " + strings.Join(sets, ", ") + " WHERE id = ?"
	args := append(tradeArgs(t), t.ID)

	result, err := r.q.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update trade ID %d: %w: %w", t.ID, ports.ErrUpdateFailed, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for update trade ID %d: %w", t.ID, err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("trade ID %d not found for update: %w", t.ID, ports.ErrNotFound)
	}
	r.logger.Debug(ctx, "Trade updated", map[string]interface{}{"tradeID": t.ID, "pair": t.Pair, "isOpen": t.IsOpen})
	return nil
}

// QueryOpenTrades returns all open trades with their orders.
func (r *Repository) QueryOpenTrades(ctx context.Context) ([]*domain.Trade, error) {
	open := true
	return r.QueryTrades(ctx, ports.TradeFilter{IsOpen: &open})
}

// QueryTradeByID returns nil, nil when the trade does not exist.
func (r *Repository) QueryTradeByID(ctx context.Context, id int64) (*domain.Trade, error) {
	trades, err := r.QueryTrades(ctx, ports.TradeFilter{IDs: []int64{id}})
	if err != nil {
		return nil, err
	}
	if len(trades) == 0 {
		return nil, nil
	}
	return trades[0], nil
}

// QueryTrades returns trades matching filter, oldest first, with their orders.
func (r *Repository) QueryTrades(ctx context.Context, filter ports.TradeFilter) ([]*domain.Trade, error) {
	var where []string
	var args []interface{}
	if len(filter.IDs) > 0 {
		where = append(where, "id IN ("+strings.TrimSuffix(strings.Repeat("?,", len(filter.IDs)), ",")+")")
		for _, id := range filter.IDs {
			args = append(args, id)
		}
	}
	if filter.Pair != "" {
		where = append(where, "pair = ?")
		args = append(args, filter.Pair)
	}
	if filter.IsOpen != nil {
		where = append(where, "is_open = ?")
		args = append(args, *filter.IsOpen)
	}
	if !filter.ClosedAfter.IsZero() {
		where = append(where, "close_date > ?")
		args = append(args, filter.ClosedAfter)
	}

	query := "SELECT id, " + tradeColumns + " FROM trades"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	if filter.Limit > 0 {
		// newest N, re-sorted ascending below
		query += " ORDER BY id DESC LIMIT ?"
		args = append(args, filter.Limit)
	} else {
		query += " ORDER BY id ASC"
	}

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w: %w", ports.ErrQueryFailed, err)
	}
	defer rows.Close()

	var trades []*domain.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade row: %w", err)
		}
		trades = append(trades, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trade rows: %w", err)
	}
	if filter.Limit > 0 {
		for i, j := 0, len(trades)-1; i < j; i, j = i+1, j-1 {
			trades[i], trades[j] = trades[j], trades[i]
		}
	}

	for _, t := range trades {
		orders, err := r.queryOrders(ctx, "trade_id = ?", t.ID)
		if err != nil {
			return nil, err
		}
		t.Orders = orders
	}
	return trades, nil
}

// --- Orders ---

const orderColumns = `trade_id, order_id, client_order_id, side, type, symbol, quantity, limit_price,
	stop_price, status, created_time, executed_quantity, executed_price, executed_time, is_open, fills, reason`

func orderArgs(o *domain.Order) ([]interface{}, error) {
	var executedTime sql.NullTime
	if o.ExecutedTime != nil {
		executedTime = sql.NullTime{Time: *o.ExecutedTime, Valid: true}
	}
	fills := o.Fills
	if fills == nil {
		fills = []domain.Fill{}
	}
	fillsJSON, err := fillCodec.MarshalToString(fills)
	if err != nil {
		return nil, fmt.Errorf("failed to encode fills for order %d: %w", o.ID, err)
	}
	return []interface{}{
		o.TradeID, o.OrderID, o.ClientOrderID, string(o.Side), string(o.Type), o.Symbol, o.Quantity, o.LimitPrice,
		o.StopPrice, string(o.Status), o.CreatedTime, o.ExecutedQuantity, o.ExecutedPrice, executedTime, o.IsOpen,
		fillsJSON, o.Reason,
	}, nil
}

// SaveOrder inserts a new order (assigning its ID) or updates an existing one.
func (r *Repository) SaveOrder(ctx context.Context, o *domain.Order) error {
	args, err := orderArgs(o)
	if err != nil {
		return err
	}

	if o.ID == 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(args)), ", ")
		query := "INSERT INTO orders (" + orderColumns + ") VALUES (" + placeholders + ")"
		result, err := r.q.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("failed to insert order for trade %d: %w: %w", o.TradeID, ports.ErrUpdateFailed, err)
		}
		id, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get last insert ID for order of trade %d: %w", o.TradeID, err)
		}
		o.ID = id
		r.logger.Debug(ctx, "Order created", map[string]interface{}{"orderID": id, "tradeID": o.TradeID, "status": o.Status})
		return nil
	}

	sets := strings.Split(strings.Join(strings.Fields(orderColumns), ""), ",")
	for i, col := range sets {
		sets[i] = col + " = ?"
	}
	query := "UPDATE orders SET " + strings.Join(sets, ", ") + " WHERE id = ?"
	result, err := r.q.ExecContext(ctx, query, append(args, o.ID)...)
	if err != nil {
		return fmt.Errorf("failed to update order ID %d: %w: %w", o.ID, ports.ErrUpdateFailed, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for update order ID %d: %w", o.ID, err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("order ID %d not found for update: %w", o.ID, ports.ErrNotFound)
	}
	r.logger.Debug(ctx, "Order updated", map[string]interface{}{"orderID": o.ID, "status": o.Status})
	return nil
}

// QueryOrderByID returns nil, nil when the order does not exist.
func (r *Repository) QueryOrderByID(ctx context.Context, id int64) (*domain.Order, error) {
	orders, err := r.queryOrders(ctx, "id = ?", id)
	if err != nil || len(orders) == 0 {
		return nil, err
	}
	return orders[0], nil
}

// QueryOrderByExchangeID returns nil, nil when no order carries the exchange id.
func (r *Repository) QueryOrderByExchangeID(ctx context.Context, orderID string) (*domain.Order, error) {
	orders, err := r.queryOrders(ctx, "order_id = ?", orderID)
	if err != nil || len(orders) == 0 {
		return nil, err
	}
	return orders[0], nil
}

func (r *Repository) queryOrders(ctx context.Context, where string, args ...interface{}) ([]*domain.Order, error) {
	query := "SELECT id, " + orderColumns + " FROM orders WHERE " + where + " ORDER BY id ASC"
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w: %w", ports.ErrQueryFailed, err)
	}
	defer rows.Close()

	var orders []*domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order row: %w", err)
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating order rows: %w", err)
	}
	return orders, nil
}

// --- Pair locks ---

// SavePairLock inserts a new lock or updates an existing one.
func (r *Repository) SavePairLock(ctx context.Context, l *domain.PairLock) error {
	if l.ID == 0 {
		const query = `INSERT INTO pair_locks (pair, lock_time, lock_end_time, reason, active) VALUES (?, ?, ?, ?, ?)`
		result, err := r.q.ExecContext(ctx, query, l.Pair, l.LockTime, l.LockEndTime, l.Reason, l.Active)
		if err != nil {
			return fmt.Errorf("failed to insert lock for pair %s: %w: %w", l.Pair, ports.ErrUpdateFailed, err)
		}
		id, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get last insert ID for lock %s: %w", l.Pair, err)
		}
		l.ID = id
		return nil
	}

	const query = `UPDATE pair_locks SET pair = ?, lock_time = ?, lock_end_time = ?, reason = ?, active = ? WHERE id = ?`
	result, err := r.q.ExecContext(ctx, query, l.Pair, l.LockTime, l.LockEndTime, l.Reason, l.Active, l.ID)
	if err != nil {
		return fmt.Errorf("failed to update lock ID %d: %w: %w", l.ID, ports.ErrUpdateFailed, err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("lock ID %d not found for update: %w", l.ID, ports.ErrNotFound)
	}
	return nil
}

// QueryLocks returns the locks active at asOf.
func (r *Repository) QueryLocks(ctx context.Context, asOf time.Time) ([]*domain.PairLock, error) {
	const query = `
	SELECT id, pair, lock_time, lock_end_time, reason, active
	FROM pair_locks
	WHERE active = 1 AND lock_end_time > ?
	ORDER BY id ASC`

	rows, err := r.q.QueryContext(ctx, query, asOf)
	if err != nil {
		return nil, fmt.Errorf("failed to query locks: %w: %w", ports.ErrQueryFailed, err)
	}
	defer rows.Close()

	var locks []*domain.PairLock
	for rows.Next() {
		var l domain.PairLock
		if err := rows.Scan(&l.ID, &l.Pair, &l.LockTime, &l.LockEndTime, &l.Reason, &l.Active); err != nil {
			return nil, fmt.Errorf("failed to scan lock row: %w", err)
		}
		locks = append(locks, &l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating lock rows: %w", err)
	}
	return locks, nil
}

// PurgeLocks deactivates locks that ended at or before asOf.
func (r *Repository) PurgeLocks(ctx context.Context, asOf time.Time) (int, error) {
	const query = `UPDATE pair_locks SET active = 0 WHERE active = 1 AND lock_end_time <= ?`
	result, err := r.q.ExecContext(ctx, query, asOf)
	if err != nil {
		return 0, fmt.Errorf("failed to purge locks: %w: %w", ports.ErrUpdateFailed, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected for lock purge: %w", err)
	}
	return int(n), nil
}

// --- Helper Functions ---

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanTrade(row scanner) (*domain.Trade, error) {
	var t domain.Trade
	var closeDate sql.NullTime
	var interest sql.NullString
	var tradingMode, exitReason, storageMode string

	err := row.Scan(
		&t.ID, &t.Exchange, &t.Pair, &t.BaseCurrency, &t.StakeCurrency, &t.IsOpen, &t.Amount, &t.AmountRequested,
		&t.StakeAmount, &t.OpenRate, &t.OpenTradeValue, &t.CloseRate, &t.OpenDate, &closeDate, &t.FeeOpen, &t.FeeClose,
		&t.StopLoss, &t.StopLossPct, &t.InitialStopLoss, &t.InitialStopLossPct, &t.IsStopLossTrailing,
		&t.MaxRate, &t.MinRate, &t.RealizedProfit, &t.CloseProfit, &t.CloseProfitAbs, &tradingMode, &t.IsShort,
		&t.Leverage, &interest, &exitReason, &t.EnterTag, &t.Strategy, &storageMode,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ports.ErrNotFound
		}
		return nil, err
	}
	if closeDate.Valid {
		cd := closeDate.Time
		t.CloseDate = &cd
	}
	if interest.Valid {
		rate, err := money.Parse(interest.String)
		if err != nil {
			return nil, fmt.Errorf("trade %d interest rate: %w", t.ID, err)
		}
		t.InterestRate = &rate
	}
	t.TradingMode = domain.TradingMode(tradingMode)
	t.ExitReason = domain.ExitReason(exitReason)
	t.StorageMode = domain.StorageMode(storageMode)
	return &t, nil
}

func scanOrder(row scanner) (*domain.Order, error) {
	var o domain.Order
	var executedTime sql.NullTime
	var side, typ, status, fills string

	err := row.Scan(
		&o.ID, &o.TradeID, &o.OrderID, &o.ClientOrderID, &side, &typ, &o.Symbol, &o.Quantity, &o.LimitPrice,
		&o.StopPrice, &status, &o.CreatedTime, &o.ExecutedQuantity, &o.ExecutedPrice, &executedTime, &o.IsOpen,
		&fills, &o.Reason,
	)
	if err != nil {
		return nil, err
	}
	if executedTime.Valid {
		et := executedTime.Time
		o.ExecutedTime = &et
	}
	o.Side = domain.OrderSide(side)
	o.Type = domain.OrderType(typ)
	o.Status = domain.OrderStatus(status)
	if err := fillCodec.UnmarshalFromString(fills, &o.Fills); err != nil {
		return nil, fmt.Errorf("order %d fills: %w", o.ID, err)
	}
	return &o, nil
}
