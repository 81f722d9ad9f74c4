package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/yohan-kwon/kquant-core/internal/types"
)

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite repository.
func NewSQLiteRepository(path string) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	repo := &SQLiteRepository{db: db}

	if err := repo.Migrate(context.Background()); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return repo, nil
}

// Migrate runs database migrations.
func (r *SQLiteRepository) Migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS orders (
			id TEXT PRIMARY KEY,
			client_order_id TEXT,
			broker_order_id TEXT,
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			type TEXT NOT NULL,
			tif TEXT NOT NULL,
			price TEXT NOT NULL,
			quantity INTEGER NOT NULL,
			filled_qty INTEGER NOT NULL DEFAULT 0,
			avg_fill_price TEXT NOT NULL DEFAULT '0',
			commission_paid TEXT NOT NULL DEFAULT '0',
			state TEXT NOT NULL,
			strategy_name TEXT,
			signal_id TEXT,
			reject_reason TEXT,
			created_ts DATETIME NOT NULL,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_state ON orders(state)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_symbol ON orders(symbol)`,

		`CREATE TABLE IF NOT EXISTS fills (
			fill_id TEXT PRIMARY KEY,
			order_id TEXT NOT NULL,
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			price TEXT NOT NULL,
			qty INTEGER NOT NULL,
			commission TEXT NOT NULL,
			ts DATETIME NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_fills_order_id ON fills(order_id)`,

		`CREATE TABLE IF NOT EXISTS positions (
			symbol TEXT PRIMARY KEY,
			qty INTEGER NOT NULL,
			avg_cost TEXT NOT NULL,
			realized_pnl TEXT NOT NULL DEFAULT '0',
			unrealized_pnl TEXT NOT NULL DEFAULT '0',
			last_mark_price TEXT NOT NULL DEFAULT '0',
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS equity_snapshots (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp DATETIME NOT NULL,
			portfolio_value TEXT NOT NULL,
			cash TEXT NOT NULL,
			realized_pnl_today TEXT NOT NULL,
			realized_pnl_month TEXT NOT NULL,
			open_positions INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_equity_timestamp ON equity_snapshots(timestamp)`,
	}

	for _, migration := range migrations {
		if _, err := r.db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("execute migration: %w", err)
		}
	}

	return nil
}

// SaveOrder upserts an order's current state.
func (r *SQLiteRepository) SaveOrder(ctx context.Context, order types.Order) error {
	query := `INSERT INTO orders
		(id, client_order_id, broker_order_id, symbol, side, type, tif, price, quantity, filled_qty, avg_fill_price, commission_paid, state, strategy_name, signal_id, reject_reason, created_ts, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			broker_order_id = excluded.broker_order_id,
			filled_qty = excluded.filled_qty,
			avg_fill_price = excluded.avg_fill_price,
			commission_paid = excluded.commission_paid,
			state = excluded.state,
			reject_reason = excluded.reject_reason,
			updated_at = CURRENT_TIMESTAMP`

	_, err := r.db.ExecContext(ctx, query,
		order.ID,
		order.ClientOrderID,
		order.BrokerOrderID,
		order.Symbol,
		order.Side.String(),
		order.Type.String(),
		order.TIF.String(),
		order.Price.String(),
		order.Quantity,
		order.FilledQty,
		order.AvgFillPrice.String(),
		order.CommissionPaid.String(),
		order.State.String(),
		order.StrategyName,
		order.SignalID,
		order.RejectReason,
		order.CreatedTS,
	)
	if err != nil {
		return fmt.Errorf("upsert order: %w", err)
	}

	return nil
}

// GetOrder returns a single order by id.
func (r *SQLiteRepository) GetOrder(ctx context.Context, id string) (*types.Order, error) {
	query := `SELECT id, client_order_id, broker_order_id, symbol, side, type, tif, price, quantity, filled_qty, avg_fill_price, commission_paid, state, strategy_name, signal_id, reject_reason, created_ts
		FROM orders WHERE id = ?`

	o, err := scanOrderRow(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query order: %w", err)
	}
	return o, nil
}

// GetOpenOrders returns orders not yet in a terminal state.
func (r *SQLiteRepository) GetOpenOrders(ctx context.Context) ([]types.Order, error) {
	query := `SELECT id, client_order_id, broker_order_id, symbol, side, type, tif, price, quantity, filled_qty, avg_fill_price, commission_paid, state, strategy_name, signal_id, reject_reason, created_ts
		FROM orders WHERE state NOT IN (?, ?, ?, ?)`

	rows, err := r.db.QueryContext(ctx, query,
		types.OrderFilled.String(), types.OrderCancelled.String(),
		types.OrderRejected.String(), types.OrderFailed.String())
	if err != nil {
		return nil, fmt.Errorf("query open orders: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var orders []types.Order
	for rows.Next() {
		o, err := scanOrderRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, *o)
	}
	return orders, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOrderRow(row rowScanner) (*types.Order, error) {
	var o types.Order
	var side, typ, tif, state string
	var price, avgFillPrice, commissionPaid string
	var clientOrderID, brokerOrderID, strategyName, signalID, rejectReason sql.NullString

	if err := row.Scan(&o.ID, &clientOrderID, &brokerOrderID, &o.Symbol, &side, &typ, &tif, &price,
		&o.Quantity, &o.FilledQty, &avgFillPrice, &commissionPaid, &state,
		&strategyName, &signalID, &rejectReason, &o.CreatedTS); err != nil {
		return nil, err
	}

	o.Side = parseSide(side)
	o.Type = parseOrderType(typ)
	o.TIF = parseTimeInForce(tif)
	o.State = parseOrderState(state)
	o.Price, _ = decimal.NewFromString(price)
	o.AvgFillPrice, _ = decimal.NewFromString(avgFillPrice)
	o.CommissionPaid, _ = decimal.NewFromString(commissionPaid)
	o.ClientOrderID = clientOrderID.String
	o.BrokerOrderID = brokerOrderID.String
	o.StrategyName = strategyName.String
	o.SignalID = signalID.String
	o.RejectReason = rejectReason.String

	return &o, nil
}

// SaveFill records a single fill.
func (r *SQLiteRepository) SaveFill(ctx context.Context, fill types.Fill) error {
	query := `INSERT OR IGNORE INTO fills (fill_id, order_id, symbol, side, price, qty, commission, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		fill.FillID,
		fill.OrderID,
		fill.Symbol,
		fill.Side.String(),
		fill.Price.String(),
		fill.Qty,
		fill.Commission.String(),
		fill.TS,
	)
	if err != nil {
		return fmt.Errorf("insert fill: %w", err)
	}

	return nil
}

// GetFillsByOrder returns every fill recorded against an order, oldest first.
func (r *SQLiteRepository) GetFillsByOrder(ctx context.Context, orderID string) ([]types.Fill, error) {
	query := `SELECT fill_id, order_id, symbol, side, price, qty, commission, ts FROM fills WHERE order_id = ? ORDER BY ts`

	rows, err := r.db.QueryContext(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("query fills: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var fills []types.Fill
	for rows.Next() {
		var f types.Fill
		var side, price, commission string
		if err := rows.Scan(&f.FillID, &f.OrderID, &f.Symbol, &side, &price, &f.Qty, &commission, &f.TS); err != nil {
			return nil, fmt.Errorf("scan fill: %w", err)
		}
		f.Side = parseSide(side)
		f.Price, _ = decimal.NewFromString(price)
		f.Commission, _ = decimal.NewFromString(commission)
		fills = append(fills, f)
	}
	return fills, rows.Err()
}

// SavePosition upserts a symbol's position snapshot.
func (r *SQLiteRepository) SavePosition(ctx context.Context, position types.Position) error {
	query := `INSERT INTO positions (symbol, qty, avg_cost, realized_pnl, unrealized_pnl, last_mark_price, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(symbol) DO UPDATE SET
			qty = excluded.qty,
			avg_cost = excluded.avg_cost,
			realized_pnl = excluded.realized_pnl,
			unrealized_pnl = excluded.unrealized_pnl,
			last_mark_price = excluded.last_mark_price,
			updated_at = CURRENT_TIMESTAMP`

	_, err := r.db.ExecContext(ctx, query,
		position.Symbol,
		position.Qty,
		position.AvgCost.String(),
		position.RealizedPnL.String(),
		position.UnrealizedPnL.String(),
		position.LastMarkPrice.String(),
	)
	if err != nil {
		return fmt.Errorf("upsert position: %w", err)
	}

	return nil
}

// GetPositions returns every tracked position, including flat ones kept
// for realized-P&L history.
func (r *SQLiteRepository) GetPositions(ctx context.Context) ([]types.Position, error) {
	query := `SELECT symbol, qty, avg_cost, realized_pnl, unrealized_pnl, last_mark_price FROM positions`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query positions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var positions []types.Position
	for rows.Next() {
		var p types.Position
		var avgCost, realizedPnL, unrealizedPnL, lastMark string
		if err := rows.Scan(&p.Symbol, &p.Qty, &avgCost, &realizedPnL, &unrealizedPnL, &lastMark); err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		p.AvgCost, _ = decimal.NewFromString(avgCost)
		p.RealizedPnL, _ = decimal.NewFromString(realizedPnL)
		p.UnrealizedPnL, _ = decimal.NewFromString(unrealizedPnL)
		p.LastMarkPrice, _ = decimal.NewFromString(lastMark)
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// SaveEquitySnapshot saves a portfolio snapshot.
func (r *SQLiteRepository) SaveEquitySnapshot(ctx context.Context, snapshot EquitySnapshot) error {
	query := `INSERT INTO equity_snapshots (timestamp, portfolio_value, cash, realized_pnl_today, realized_pnl_month, open_positions)
		VALUES (?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		snapshot.Timestamp,
		snapshot.PortfolioValue.String(),
		snapshot.Cash.String(),
		snapshot.RealizedPnLToday.String(),
		snapshot.RealizedPnLMonth.String(),
		snapshot.OpenPositions,
	)
	if err != nil {
		return fmt.Errorf("insert equity snapshot: %w", err)
	}

	return nil
}

// GetLatestEquitySnapshot returns the most recent equity snapshot.
func (r *SQLiteRepository) GetLatestEquitySnapshot(ctx context.Context) (*EquitySnapshot, error) {
	query := `SELECT id, timestamp, portfolio_value, cash, realized_pnl_today, realized_pnl_month, open_positions
		FROM equity_snapshots ORDER BY timestamp DESC LIMIT 1`

	var s EquitySnapshot
	var pv, cash, rToday, rMonth string

	err := r.db.QueryRowContext(ctx, query).Scan(&s.ID, &s.Timestamp, &pv, &cash, &rToday, &rMonth, &s.OpenPositions)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query equity snapshot: %w", err)
	}

	s.PortfolioValue, _ = decimal.NewFromString(pv)
	s.Cash, _ = decimal.NewFromString(cash)
	s.RealizedPnLToday, _ = decimal.NewFromString(rToday)
	s.RealizedPnLMonth, _ = decimal.NewFromString(rMonth)

	return &s, nil
}

// GetEquityHistory returns equity snapshots in a time range.
func (r *SQLiteRepository) GetEquityHistory(ctx context.Context, from, to time.Time) ([]EquitySnapshot, error) {
	query := `SELECT id, timestamp, portfolio_value, cash, realized_pnl_today, realized_pnl_month, open_positions
		FROM equity_snapshots WHERE timestamp BETWEEN ? AND ? ORDER BY timestamp`

	rows, err := r.db.QueryContext(ctx, query, from, to)
	if err != nil {
		return nil, fmt.Errorf("query equity history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var snapshots []EquitySnapshot
	for rows.Next() {
		var s EquitySnapshot
		var pv, cash, rToday, rMonth string

		if err := rows.Scan(&s.ID, &s.Timestamp, &pv, &cash, &rToday, &rMonth, &s.OpenPositions); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}

		s.PortfolioValue, _ = decimal.NewFromString(pv)
		s.Cash, _ = decimal.NewFromString(cash)
		s.RealizedPnLToday, _ = decimal.NewFromString(rToday)
		s.RealizedPnLMonth, _ = decimal.NewFromString(rMonth)

		snapshots = append(snapshots, s)
	}

	return snapshots, rows.Err()
}

// Close closes the database connection.
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

func parseSide(s string) types.Side {
	if s == types.SideSell.String() {
		return types.SideSell
	}
	return types.SideBuy
}

func parseOrderType(s string) types.OrderType {
	if s == types.OrderTypeLimit.String() {
		return types.OrderTypeLimit
	}
	return types.OrderTypeMarket
}

func parseTimeInForce(s string) types.TimeInForce {
	for _, t := range []types.TimeInForce{types.TIFDay, types.TIFIOC, types.TIFFOK} {
		if t.String() == s {
			return t
		}
	}
	return types.TIFDay
}

func parseOrderState(s string) types.OrderState {
	for _, st := range []types.OrderState{
		types.OrderNew, types.OrderQueued, types.OrderSubmitted,
		types.OrderPartial, types.OrderFilled, types.OrderCancelled,
		types.OrderRejected, types.OrderFailed,
	} {
		if st.String() == s {
			return st
		}
	}
	return types.OrderRejected
}
