package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite" // SQLite driver registration.

	"pricewatch_bot/internal/model"
	"pricewatch_bot/migrations"
)

const timeLayout = "2006-01-02T15:04:05Z"

// SQLite implements Storage backed by a SQLite database.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at dsn and runs pending migrations.
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=OFF"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("disable foreign keys: %w", err)
	}

	if err := migrations.Run(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// CreateQuery inserts a new query and populates its ID and CreatedAt.
func (s *SQLite) CreateQuery(ctx context.Context, q *model.Query) error {
	now := time.Now().UTC().Format(timeLayout)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO queries (user_id, name, search_params, interval_minutes, state, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		q.UserID, q.Name, q.SearchParams, q.IntervalMinutes, string(q.State), now,
	)
	if err != nil {
		return fmt.Errorf("insert query: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	q.ID = id
	q.CreatedAt, _ = time.Parse(timeLayout, now)
	return nil
}

// GetQuery returns a single query by its ID, including deleted ones.
func (s *SQLite) GetQuery(ctx context.Context, id int64) (*model.Query, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, name, search_params, interval_minutes, state, last_run_at, created_at
		 FROM queries WHERE id = ?`, id,
	)
	return scanQuery(row)
}

// FindQueryByParams returns the user's non-deleted query with the given
// search params, or ErrNotFound.
func (s *SQLite) FindQueryByParams(ctx context.Context, userID int64, params string) (*model.Query, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, name, search_params, interval_minutes, state, last_run_at, created_at
		 FROM queries WHERE user_id = ? AND search_params = ? AND state != 'deleted'`,
		userID, params,
	)
	return scanQuery(row)
}

// ListQueries returns all non-deleted queries for a user, ordered by creation.
func (s *SQLite) ListQueries(ctx context.Context, userID int64) ([]model.Query, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, name, search_params, interval_minutes, state, last_run_at, created_at
		 FROM queries WHERE user_id = ? AND state != 'deleted' ORDER BY id`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("query queries: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanQueries(rows)
}

// ListActiveQueries returns the user's active queries, ordered by creation.
func (s *SQLite) ListActiveQueries(ctx context.Context, userID int64) ([]model.Query, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, name, search_params, interval_minutes, state, last_run_at, created_at
		 FROM queries WHERE user_id = ? AND state = 'active' ORDER BY id`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("query active queries: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanQueries(rows)
}

// ListDueQueries returns all active queries whose own check interval has
// elapsed since their last successful run.
func (s *SQLite) ListDueQueries(ctx context.Context, now time.Time) ([]model.Query, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, name, search_params, interval_minutes, state, last_run_at, created_at
		 FROM queries
		 WHERE state = 'active'
		   AND (last_run_at IS NULL
		        OR datetime(last_run_at, '+' || interval_minutes || ' minutes') <= datetime(?))
		 ORDER BY id`,
		now.UTC().Format(timeLayout),
	)
	if err != nil {
		return nil, fmt.Errorf("query due queries: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanQueries(rows)
}

// CountQueries returns the number of non-deleted queries owned by a user.
func (s *SQLite) CountQueries(ctx context.Context, userID int64) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM queries WHERE user_id = ? AND state != 'deleted'`, userID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count queries: %w", err)
	}
	return count, nil
}

// SetQueryState updates a query's lifecycle state.
func (s *SQLite) SetQueryState(ctx context.Context, id int64, state model.QueryState) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE queries SET state = ? WHERE id = ?`, string(state), id,
	)
	if err != nil {
		return fmt.Errorf("set query state: %w", err)
	}
	return nil
}

// SetQueryInterval updates a query's check interval.
func (s *SQLite) SetQueryInterval(ctx context.Context, id int64, minutes int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE queries SET interval_minutes = ? WHERE id = ?`, minutes, id,
	)
	if err != nil {
		return fmt.Errorf("set query interval: %w", err)
	}
	return nil
}

// SetQueryLastRun records the time of a query's last successful poll.
func (s *SQLite) SetQueryLastRun(ctx context.Context, id int64, t time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE queries SET last_run_at = ? WHERE id = ?`, t.UTC().Format(timeLayout), id,
	)
	if err != nil {
		return fmt.Errorf("set query last run: %w", err)
	}
	return nil
}

// CreateUser inserts a new user and populates its ID and CreatedAt.
func (s *SQLite) CreateUser(ctx context.Context, u *model.User) error {
	now := time.Now().UTC().Format(timeLayout)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users (chat_id, username, language, paused, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		u.ChatID, u.Username, u.Language, boolToInt(u.Paused), now,
	)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	u.ID = id
	u.CreatedAt, _ = time.Parse(timeLayout, now)
	return nil
}

// GetUser returns a single user by its ID.
func (s *SQLite) GetUser(ctx context.Context, id int64) (*model.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, chat_id, username, language, paused, created_at FROM users WHERE id = ?`, id,
	)
	return scanUser(row)
}

// GetUserByChatID returns a single user by its Telegram chat ID.
func (s *SQLite) GetUserByChatID(ctx context.Context, chatID int64) (*model.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, chat_id, username, language, paused, created_at FROM users WHERE chat_id = ?`, chatID,
	)
	return scanUser(row)
}

// SetUserPaused updates a user's global notification pause flag.
func (s *SQLite) SetUserPaused(ctx context.Context, id int64, paused bool) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE users SET paused = ? WHERE id = ?`, boolToInt(paused), id,
	)
	if err != nil {
		return fmt.Errorf("set user paused: %w", err)
	}
	return nil
}

// SetUserLanguage updates a user's language preference.
func (s *SQLite) SetUserLanguage(ctx context.Context, id int64, language string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE users SET language = ? WHERE id = ?`, language, id,
	)
	if err != nil {
		return fmt.Errorf("set user language: %w", err)
	}
	return nil
}

// GetSnapshot returns the stored item set for a query in fetch order.
func (s *SQLite) GetSnapshot(ctx context.Context, queryID int64) ([]model.Item, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT code, name, price, currency, product_url, image_url, last_seen_at
		 FROM snapshot_items WHERE query_id = ? ORDER BY position`, queryID,
	)
	if err != nil {
		return nil, fmt.Errorf("query snapshot: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var items []model.Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// ReplaceSnapshot swaps a query's full item set in one transaction.
// The write is dropped without error when the query is marked deleted.
func (s *SQLite) ReplaceSnapshot(ctx context.Context, queryID int64, items []model.Item) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var state string
	err = tx.QueryRowContext(ctx, `SELECT state FROM queries WHERE id = ?`, queryID).Scan(&state)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("check query state: %w", err)
	}
	if state == string(model.QueryDeleted) {
		return nil
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM snapshot_items WHERE query_id = ?`, queryID); err != nil {
		return fmt.Errorf("clear snapshot: %w", err)
	}

	// Codes are the primary key within a snapshot; a repeated code keeps
	// its first occurrence so a duplicate in the input cannot fail the tx.
	seen := make(map[string]struct{}, len(items))
	pos := 0
	for _, it := range items {
		if _, dup := seen[it.Code]; dup {
			continue
		}
		seen[it.Code] = struct{}{}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO snapshot_items (query_id, position, code, name, price, currency, product_url, image_url, last_seen_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			queryID, pos, it.Code, it.Name, it.Price.String(), it.Currency,
			it.ProductURL, it.ImageURL, it.LastSeenAt.UTC().Format(timeLayout),
		)
		if err != nil {
			return fmt.Errorf("insert snapshot item %s: %w", it.Code, err)
		}
		pos++
	}
	return tx.Commit()
}

// DeleteSnapshot removes all snapshot items for a query.
func (s *SQLite) DeleteSnapshot(ctx context.Context, queryID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM snapshot_items WHERE query_id = ?`, queryID)
	if err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	return nil
}

// RecordPriceChange appends a price change to the item's price history.
func (s *SQLite) RecordPriceChange(ctx context.Context, queryID int64, code string, oldPrice, newPrice decimal.Decimal) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO price_history (query_id, code, old_price, new_price, changed_at)
		 VALUES (?, ?, ?, ?, ?)`,
		queryID, code, oldPrice.String(), newPrice.String(), time.Now().UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("record price change: %w", err)
	}
	return nil
}

// GetPriceStats returns the lowest and highest prices ever recorded for an
// item, or ErrNotFound when the item has no price history.
func (s *SQLite) GetPriceStats(ctx context.Context, queryID int64, code string) (*model.PriceStats, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT old_price, new_price, changed_at FROM price_history
		 WHERE query_id = ? AND code = ? ORDER BY id`, queryID, code,
	)
	if err != nil {
		return nil, fmt.Errorf("query price history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var stats *model.PriceStats
	for rows.Next() {
		var oldStr, newStr, changedStr string
		if err := rows.Scan(&oldStr, &newStr, &changedStr); err != nil {
			return nil, fmt.Errorf("scan price history: %w", err)
		}
		changedAt, _ := time.Parse(timeLayout, changedStr)
		for _, priceStr := range []string{oldStr, newStr} {
			price, err := decimal.NewFromString(priceStr)
			if err != nil {
				return nil, fmt.Errorf("parse price %q: %w", priceStr, err)
			}
			if stats == nil {
				stats = &model.PriceStats{Lowest: price, LowestAt: changedAt, Highest: price, HighestAt: changedAt}
				continue
			}
			if price.LessThan(stats.Lowest) {
				stats.Lowest = price
				stats.LowestAt = changedAt
			}
			if price.GreaterThan(stats.Highest) {
				stats.Highest = price
				stats.HighestAt = changedAt
			}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if stats == nil {
		return nil, ErrNotFound
	}
	return stats, nil
}

// LogExecution appends one poll outcome to the execution log.
func (s *SQLite) LogExecution(ctx context.Context, e *model.Execution) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO query_executions (query_id, executed_at, success, total_items, new_items, price_changes, error, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.QueryID, time.Now().UTC().Format(timeLayout), boolToInt(e.Success),
		e.TotalItems, e.NewItems, e.PriceChanges, e.Error, e.DurationMS,
	)
	if err != nil {
		return fmt.Errorf("log execution: %w", err)
	}
	return nil
}

// LogNotification appends one delivered notification to the audit log.
func (s *SQLite) LogNotification(ctx context.Context, rec *model.NotificationRecord) error {
	var code string
	if rec.Item != nil {
		code = rec.Item.Code
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO notifications (user_id, query_id, kind, item_code, old_price, new_price, sent_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.UserID, rec.QueryID, string(rec.Kind), code,
		rec.OldPrice.String(), rec.NewPrice.String(), time.Now().UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("log notification: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

type scannable interface {
	Scan(dest ...any) error
}

func scanQuery(row scannable) (*model.Query, error) {
	var q model.Query
	var state string
	var lastRun, created sql.NullString
	err := row.Scan(&q.ID, &q.UserID, &q.Name, &q.SearchParams, &q.IntervalMinutes, &state, &lastRun, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan query: %w", err)
	}
	q.State = model.QueryState(state)
	if lastRun.Valid {
		t, _ := time.Parse(timeLayout, lastRun.String)
		q.LastRunAt = &t
	}
	if created.Valid {
		q.CreatedAt, _ = time.Parse(timeLayout, created.String)
	}
	return &q, nil
}

func scanQueries(rows *sql.Rows) ([]model.Query, error) {
	var queries []model.Query
	for rows.Next() {
		q, err := scanQuery(rows)
		if err != nil {
			return nil, err
		}
		queries = append(queries, *q)
	}
	return queries, rows.Err()
}

func scanUser(row scannable) (*model.User, error) {
	var u model.User
	var paused int
	var created sql.NullString
	err := row.Scan(&u.ID, &u.ChatID, &u.Username, &u.Language, &paused, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	u.Paused = paused == 1
	if created.Valid {
		u.CreatedAt, _ = time.Parse(timeLayout, created.String)
	}
	return &u, nil
}

func scanItem(row scannable) (model.Item, error) {
	var it model.Item
	var priceStr, seenStr string
	err := row.Scan(&it.Code, &it.Name, &priceStr, &it.Currency, &it.ProductURL, &it.ImageURL, &seenStr)
	if err != nil {
		return it, fmt.Errorf("scan item: %w", err)
	}
	it.Price, err = decimal.NewFromString(priceStr)
	if err != nil {
		return it, fmt.Errorf("parse price %q: %w", priceStr, err)
	}
	it.LastSeenAt, _ = time.Parse(timeLayout, seenStr)
	return it, nil
}
