// Package db provides bot-scoped database queries for multi-tenant isolation.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

var (
	ErrBotIDRequired = errors.New("bot_id is required for data isolation")
	ErrNotFound      = errors.New("record not found")
)

// BotQueries provides bot-scoped database queries.
type BotQueries struct {
	db *sql.DB
}

// NewBotQueries creates a new BotQueries instance.
func NewBotQueries(db *sql.DB) *BotQueries {
	return &BotQueries{db: db}
}

// Queries returns bot-scoped query helpers bound to this database.
func (d *Database) Queries() *BotQueries {
	return NewBotQueries(d.DB)
}

// ----------------------------------------
// Bot Queries
// ----------------------------------------

// CreateBot inserts a bot row and returns its assigned id.
func (q *BotQueries) CreateBot(ctx context.Context, b Bot) (int64, error) {
	res, err := q.db.ExecContext(ctx, `
		INSERT INTO bots (type, symbol, api_key, api_secret, testnet, status)
		VALUES (?, ?, ?, ?, ?, ?)
	`, b.Type, b.Symbol, b.APIKey, b.APISecret, b.Testnet, b.Status)
	if err != nil {
		return 0, fmt.Errorf("insert bot: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("bot id: %w", err)
	}
	return id, nil
}

// GetBot returns a bot by id or ErrNotFound.
func (q *BotQueries) GetBot(ctx context.Context, botID int64) (*Bot, error) {
	if botID == 0 {
		return nil, ErrBotIDRequired
	}
	row := q.db.QueryRowContext(ctx, `
		SELECT id, type, symbol, api_key, api_secret, testnet, status, created_at, COALESCE(updated_at, created_at)
		FROM bots WHERE id = ?
	`, botID)
	var b Bot
	if err := row.Scan(&b.ID, &b.Type, &b.Symbol, &b.APIKey, &b.APISecret, &b.Testnet, &b.Status, &b.CreatedAt, &b.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query bot: %w", err)
	}
	return &b, nil
}

// ListBots returns all bot rows, newest first.
func (q *BotQueries) ListBots(ctx context.Context) ([]Bot, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, type, symbol, api_key, api_secret, testnet, status, created_at, COALESCE(updated_at, created_at)
		FROM bots ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("query bots: %w", err)
	}
	defer rows.Close()

	var bots []Bot
	for rows.Next() {
		var b Bot
		if err := rows.Scan(&b.ID, &b.Type, &b.Symbol, &b.APIKey, &b.APISecret, &b.Testnet, &b.Status, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan bot: %w", err)
		}
		bots = append(bots, b)
	}
	return bots, rows.Err()
}

// SetBotStatus flips the status flag and bumps updated_at.
func (q *BotQueries) SetBotStatus(ctx context.Context, botID int64, status string) error {
	if botID == 0 {
		return ErrBotIDRequired
	}
	_, err := q.db.ExecContext(ctx, `
		UPDATE bots SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?
	`, status, botID)
	return err
}

// DeactivateAllBots marks every active bot inactive. Used on shutdown.
func (q *BotQueries) DeactivateAllBots(ctx context.Context) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE bots SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE status = ?
	`, BotStatusInactive, BotStatusActive)
	return err
}

// DeleteBot purges a bot and every row it owns in one transaction.
// Returns ErrNotFound when no bots row existed.
func (q *BotQueries) DeleteBot(ctx context.Context, botID int64) error {
	if botID == 0 {
		return ErrBotIDRequired
	}
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete bot: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		`DELETE FROM active_orders WHERE bot_id = ?`,
		`DELETE FROM order_history WHERE bot_id = ?`,
		`DELETE FROM trade_history WHERE bot_id = ?`,
		`DELETE FROM grid_bot_configs WHERE bot_id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, botID); err != nil {
			return fmt.Errorf("purge bot %d: %w", botID, err)
		}
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM bots WHERE id = ?`, botID)
	if err != nil {
		return fmt.Errorf("purge bot %d: %w", botID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("purge bot %d: %w", botID, err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

// ----------------------------------------
// Active Order Queries
// ----------------------------------------

// UpsertActiveOrder inserts or refreshes the row for (bot_id, order_id).
func (q *BotQueries) UpsertActiveOrder(ctx context.Context, o ActiveOrder) error {
	if o.BotID == 0 {
		return ErrBotIDRequired
	}
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO active_orders (bot_id, order_id, order_type, is_initial, price, quantity)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(bot_id, order_id) DO UPDATE SET
			order_type = excluded.order_type,
			is_initial = excluded.is_initial,
			price = excluded.price,
			quantity = excluded.quantity
	`, o.BotID, o.OrderID, o.OrderType, o.IsInitial, o.Price, o.Quantity)
	return err
}

// DeleteActiveOrder removes a single order from the live set.
func (q *BotQueries) DeleteActiveOrder(ctx context.Context, botID int64, orderID string) error {
	if botID == 0 {
		return ErrBotIDRequired
	}
	_, err := q.db.ExecContext(ctx, `
		DELETE FROM active_orders WHERE bot_id = ? AND order_id = ?
	`, botID, orderID)
	return err
}

// DeleteActiveOrdersByBot clears the live set for a bot. Used on stop.
func (q *BotQueries) DeleteActiveOrdersByBot(ctx context.Context, botID int64) error {
	if botID == 0 {
		return ErrBotIDRequired
	}
	_, err := q.db.ExecContext(ctx, `DELETE FROM active_orders WHERE bot_id = ?`, botID)
	return err
}

// GetActiveOrdersByBot returns the live set for a bot.
func (q *BotQueries) GetActiveOrdersByBot(ctx context.Context, botID int64) ([]ActiveOrder, error) {
	if botID == 0 {
		return nil, ErrBotIDRequired
	}
	return q.activeOrders(ctx, `
		SELECT bot_id, order_id, order_type, is_initial, price, quantity, created_at
		FROM active_orders WHERE bot_id = ? ORDER BY created_at
	`, botID)
}

// GetInitialActiveOrders returns only grid-construction orders, the set a reset cancels.
func (q *BotQueries) GetInitialActiveOrders(ctx context.Context, botID int64) ([]ActiveOrder, error) {
	if botID == 0 {
		return nil, ErrBotIDRequired
	}
	return q.activeOrders(ctx, `
		SELECT bot_id, order_id, order_type, is_initial, price, quantity, created_at
		FROM active_orders WHERE bot_id = ? AND is_initial = 1 ORDER BY created_at
	`, botID)
}

func (q *BotQueries) activeOrders(ctx context.Context, query string, args ...any) ([]ActiveOrder, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query active orders: %w", err)
	}
	defer rows.Close()

	var orders []ActiveOrder
	for rows.Next() {
		var o ActiveOrder
		if err := rows.Scan(&o.BotID, &o.OrderID, &o.OrderType, &o.IsInitial, &o.Price, &o.Quantity, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan active order: %w", err)
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// ----------------------------------------
// Order History Queries
// ----------------------------------------

// UpsertOrderRecord inserts the lifecycle record, or refreshes its mutable
// fields when the same (bot_id, order_id) is recorded twice.
func (q *BotQueries) UpsertOrderRecord(ctx context.Context, o OrderRecord) error {
	if o.BotID == 0 {
		return ErrBotIDRequired
	}
	if o.Status == "" {
		o.Status = OrderStatusOpen
	}
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO order_history (bot_id, order_id, order_type, is_initial, price, quantity, status)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(bot_id, order_id) DO UPDATE SET
			order_type = excluded.order_type,
			is_initial = excluded.is_initial,
			price = excluded.price,
			quantity = excluded.quantity,
			updated_at = CURRENT_TIMESTAMP
	`, o.BotID, o.OrderID, o.OrderType, o.IsInitial, o.Price, o.Quantity, o.Status)
	return err
}

// SetOrderStatus moves an order OPEN -> FILLED or OPEN -> CANCELED.
// Terminal rows are never rewound, so the update is guarded on OPEN.
func (q *BotQueries) SetOrderStatus(ctx context.Context, botID int64, orderID, status string) error {
	if botID == 0 {
		return ErrBotIDRequired
	}
	res, err := q.db.ExecContext(ctx, `
		UPDATE order_history
		SET status = ?, updated_at = CURRENT_TIMESTAMP
		WHERE bot_id = ? AND order_id = ? AND status = ?
	`, status, botID, orderID, OrderStatusOpen)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetOrderHistoryByBot returns lifecycle records for a bot, newest first.
func (q *BotQueries) GetOrderHistoryByBot(ctx context.Context, botID int64, limit int) ([]OrderRecord, error) {
	if botID == 0 {
		return nil, ErrBotIDRequired
	}
	rows, err := q.db.QueryContext(ctx, `
		SELECT bot_id, order_id, order_type, is_initial, price, quantity, status, created_at, updated_at
		FROM order_history WHERE bot_id = ?
		ORDER BY created_at DESC LIMIT ?
	`, botID, limit)
	if err != nil {
		return nil, fmt.Errorf("query order history: %w", err)
	}
	defer rows.Close()

	var records []OrderRecord
	for rows.Next() {
		var o OrderRecord
		if err := rows.Scan(&o.BotID, &o.OrderID, &o.OrderType, &o.IsInitial, &o.Price, &o.Quantity, &o.Status, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan order record: %w", err)
		}
		records = append(records, o)
	}
	return records, rows.Err()
}

// ----------------------------------------
// Trade History Queries
// ----------------------------------------

// InsertTrade records a freshly opened two-legged trade and returns its id.
func (q *BotQueries) InsertTrade(ctx context.Context, t Trade) (int64, error) {
	if t.BotID == 0 {
		return 0, ErrBotIDRequired
	}
	if t.Status == "" {
		t.Status = TradeStatusOpen
	}
	res, err := q.db.ExecContext(ctx, `
		INSERT INTO trade_history (bot_id, trade_type, buy_price, sell_price, quantity, profit, profit_asset, status, buy_order_id, sell_order_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.BotID, t.TradeType, t.BuyPrice, t.SellPrice, t.Quantity, t.Profit, t.ProfitAsset, t.Status, t.BuyOrderID, t.SellOrderID)
	if err != nil {
		return 0, fmt.Errorf("insert trade: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("trade id: %w", err)
	}
	return id, nil
}

// CloseOpenTrade finalizes the most recent OPEN trade matching the buy leg.
// Returns ErrNotFound when no row matches; the caller logs and continues.
func (q *BotQueries) CloseOpenTrade(ctx context.Context, botID int64, buyPrice, quantity, profit float64) error {
	if botID == 0 {
		return ErrBotIDRequired
	}
	row := q.db.QueryRowContext(ctx, `
		SELECT id FROM trade_history
		WHERE bot_id = ? AND buy_price = ? AND quantity = ? AND status = ?
		ORDER BY executed_at DESC LIMIT 1
	`, botID, buyPrice, quantity, TradeStatusOpen)
	var id int64
	if err := row.Scan(&id); err != nil {
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		return fmt.Errorf("find open trade: %w", err)
	}
	_, err := q.db.ExecContext(ctx, `
		UPDATE trade_history SET status = ?, profit = ? WHERE id = ?
	`, TradeStatusClosed, profit, id)
	if err != nil {
		return fmt.Errorf("close trade %d: %w", id, err)
	}
	return nil
}

// GetTradesByBot returns trade rows for a bot, newest first.
func (q *BotQueries) GetTradesByBot(ctx context.Context, botID int64, limit int) ([]Trade, error) {
	if botID == 0 {
		return nil, ErrBotIDRequired
	}
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, bot_id, trade_type, buy_price, sell_price, quantity, profit, COALESCE(profit_asset, ''), status,
		       COALESCE(buy_order_id, ''), COALESCE(sell_order_id, ''), executed_at
		FROM trade_history WHERE bot_id = ?
		ORDER BY executed_at DESC LIMIT ?
	`, botID, limit)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()

	var trades []Trade
	for rows.Next() {
		var t Trade
		if err := rows.Scan(&t.ID, &t.BotID, &t.TradeType, &t.BuyPrice, &t.SellPrice, &t.Quantity, &t.Profit, &t.ProfitAsset, &t.Status, &t.BuyOrderID, &t.SellOrderID, &t.ExecutedAt); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// ----------------------------------------
// Bot Config Queries
// ----------------------------------------

// SaveBotConfig stores the raw parameter blob the bot was started with.
func (q *BotQueries) SaveBotConfig(ctx context.Context, botID int64, params string) error {
	if botID == 0 {
		return ErrBotIDRequired
	}
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO grid_bot_configs (bot_id, params) VALUES (?, ?)
		ON CONFLICT(bot_id) DO UPDATE SET params = excluded.params
	`, botID, params)
	return err
}

// GetBotConfig returns the stored parameter blob or ErrNotFound.
func (q *BotQueries) GetBotConfig(ctx context.Context, botID int64) (string, error) {
	if botID == 0 {
		return "", ErrBotIDRequired
	}
	var params string
	err := q.db.QueryRowContext(ctx, `
		SELECT params FROM grid_bot_configs WHERE bot_id = ?
	`, botID).Scan(&params)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("query bot config: %w", err)
	}
	return params, nil
}
