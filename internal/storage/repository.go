package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = errors.New("storage: not found")
	// ErrSubscriptionLimit indicates the per-user subscription cap was hit.
	ErrSubscriptionLimit = errors.New("storage: subscription limit reached")
)

const (
	upsertUserSQL = `INSERT INTO users (id, username, first_name)
    VALUES ($1, $2, $3)
    ON CONFLICT (id) DO UPDATE
    SET username = EXCLUDED.username,
        first_name = EXCLUDED.first_name;`

	getUserSQL = `SELECT id, username, first_name, created_at FROM users WHERE id = $1;`

	countUserSubscriptionsSQL = `SELECT COUNT(*) FROM subscriptions WHERE user_id = $1;`

	upsertSubscriptionSQL = `INSERT INTO subscriptions (
        user_id, chat_id, category, active, schedule, symbols, sources, threshold
    ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
    ON CONFLICT (user_id, category) DO UPDATE
    SET chat_id   = EXCLUDED.chat_id,
        active    = EXCLUDED.active,
        schedule  = EXCLUDED.schedule,
        symbols   = EXCLUDED.symbols,
        sources   = EXCLUDED.sources,
        threshold = EXCLUDED.threshold,
        updated_at = now()
    RETURNING id, user_id, chat_id, category, active, schedule, symbols, sources, threshold, created_at, updated_at;`

	updateSubscriptionSQL = `UPDATE subscriptions
    SET active = $3, schedule = $4, symbols = $5, sources = $6, threshold = $7, updated_at = now()
    WHERE user_id = $1 AND category = $2;`

	removeSubscriptionSQL = `DELETE FROM subscriptions WHERE user_id = $1 AND category = $2;`

	selectSubscriptionSQL = `SELECT id, user_id, chat_id, category, active, schedule, symbols, sources, threshold, created_at, updated_at
    FROM subscriptions`

	insertAlertSQL = `INSERT INTO price_alerts (user_id, chat_id, symbol, target_price, condition)
    VALUES ($1,$2,$3,$4,$5)
    RETURNING id, user_id, chat_id, symbol, target_price, condition, active, triggered, created_at, triggered_at;`

	selectAlertSQL = `SELECT id, user_id, chat_id, symbol, target_price, condition, active, triggered, created_at, triggered_at
    FROM price_alerts`

	triggerAlertSQL = `UPDATE price_alerts
    SET triggered = TRUE, triggered_at = now()
    WHERE id = $1 AND active AND NOT triggered;`

	deleteAlertSQL = `DELETE FROM price_alerts WHERE id = $1 AND user_id = $2;`

	insertPushRecordSQL = `INSERT INTO push_records (batch_id, user_id, chat_id, category, content, success, error_message)
    VALUES ($1,$2,$3,$4,$5,$6,$7)
    RETURNING id;`

	cleanOldRecordsSQL = `DELETE FROM push_records
    WHERE sent_at < now() - ($1 * INTERVAL '1 day');`

	listRecentRecordsSQL = `SELECT id, batch_id, user_id, chat_id, category, content, success, error_message, sent_at
    FROM push_records
    ORDER BY sent_at DESC
    LIMIT $1;`
)

// UserStore defines user CRUD.
type UserStore interface {
	UpsertUser(ctx context.Context, user User) error
	GetUser(ctx context.Context, id int64) (User, error)
	DeleteUser(ctx context.Context, id int64) error
}

// SubscriptionStore defines subscription persistence.
type SubscriptionStore interface {
	AddSubscription(ctx context.Context, sub Subscription) (Subscription, error)
	UpdateSubscription(ctx context.Context, sub Subscription) error
	RemoveSubscription(ctx context.Context, userID int64, category Category) error
	GetActiveSubscriptions(ctx context.Context, category Category) ([]Subscription, error)
	GetUserSubscriptions(ctx context.Context, userID int64) ([]Subscription, error)
}

// AlertStore defines price alert persistence.
type AlertStore interface {
	AddAlert(ctx context.Context, alert PriceAlert) (PriceAlert, error)
	GetActiveAlerts(ctx context.Context) ([]PriceAlert, error)
	TriggerAlert(ctx context.Context, id int64) (bool, error)
	DeleteAlert(ctx context.Context, id, userID int64) error
	ListUserAlerts(ctx context.Context, userID int64) ([]PriceAlert, error)
}

// PushStore defines the append-only delivery log.
type PushStore interface {
	AddPushRecord(ctx context.Context, rec PushRecord) (int64, error)
	CleanOldRecords(ctx context.Context, days int) (int64, error)
	ListRecentRecords(ctx context.Context, limit int) ([]PushRecord, error)
}

// Store aggregates access to all durable entities.
type Store struct {
	pool             *pgxpool.Pool
	maxSubscriptions int
}

// NewStore wires a pgx pool into a Store. maxSubscriptions caps the number
// of subscriptions one user may hold; zero disables the cap.
func NewStore(pool *pgxpool.Pool, maxSubscriptions int) *Store {
	return &Store{pool: pool, maxSubscriptions: maxSubscriptions}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// UpsertUser creates or refreshes a user profile.
func (s *Store) UpsertUser(ctx context.Context, user User) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, upsertUserSQL, user.ID, user.Username, user.FirstName); execErr != nil {
		return fmt.Errorf("upsert user: %w", execErr)
	}
	return nil
}

// GetUser loads one user profile.
func (s *Store) GetUser(ctx context.Context, id int64) (User, error) {
	pool, err := s.getPool()
	if err != nil {
		return User{}, err
	}

	var user User
	scanErr := pool.QueryRow(ctx, getUserSQL, id).Scan(&user.ID, &user.Username, &user.FirstName, &user.CreatedAt)
	if scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, fmt.Errorf("get user: %w", scanErr)
	}
	return user, nil
}

// DeleteUser removes a user and everything the user owns in one transaction,
// so no orphaned subscriptions, alerts or history survive a partial failure.
func (s *Store) DeleteUser(ctx context.Context, id int64) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin delete user: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, stmt := range []string{
		`DELETE FROM push_records WHERE user_id = $1;`,
		`DELETE FROM price_alerts WHERE user_id = $1;`,
		`DELETE FROM subscriptions WHERE user_id = $1;`,
		`DELETE FROM users WHERE id = $1;`,
	} {
		if _, execErr := tx.Exec(ctx, stmt, id); execErr != nil {
			return fmt.Errorf("cascade delete user: %w", execErr)
		}
	}

	if commitErr := tx.Commit(ctx); commitErr != nil {
		return fmt.Errorf("commit delete user: %w", commitErr)
	}
	return nil
}

// AddSubscription upserts a subscription, enforcing the per-user cap for new
// rows.
func (s *Store) AddSubscription(ctx context.Context, sub Subscription) (Subscription, error) {
	pool, err := s.getPool()
	if err != nil {
		return Subscription{}, err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return Subscription{}, fmt.Errorf("begin add subscription: %w", err)
	}
	defer tx.Rollback(ctx)

	if s.maxSubscriptions > 0 {
		var count int
		if scanErr := tx.QueryRow(ctx, countUserSubscriptionsSQL, sub.UserID).Scan(&count); scanErr != nil {
			return Subscription{}, fmt.Errorf("count subscriptions: %w", scanErr)
		}
		if count >= s.maxSubscriptions {
			return Subscription{}, ErrSubscriptionLimit
		}
	}

	var threshold any
	if sub.Threshold != nil {
		threshold = sub.Threshold.String()
	}

	row := tx.QueryRow(ctx, upsertSubscriptionSQL,
		sub.UserID, sub.ChatID, string(sub.Category), sub.Active, sub.Schedule, sub.Symbols, sub.Sources, threshold)
	created, scanErr := scanSubscription(row)
	if scanErr != nil {
		return Subscription{}, fmt.Errorf("add subscription: %w", scanErr)
	}

	if commitErr := tx.Commit(ctx); commitErr != nil {
		return Subscription{}, fmt.Errorf("commit add subscription: %w", commitErr)
	}
	return created, nil
}

// UpdateSubscription mutates an existing subscription in place.
func (s *Store) UpdateSubscription(ctx context.Context, sub Subscription) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	var threshold any
	if sub.Threshold != nil {
		threshold = sub.Threshold.String()
	}

	cmdTag, execErr := pool.Exec(ctx, updateSubscriptionSQL,
		sub.UserID, string(sub.Category), sub.Active, sub.Schedule, sub.Symbols, sub.Sources, threshold)
	if execErr != nil {
		return fmt.Errorf("update subscription: %w", execErr)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// RemoveSubscription deletes one (user, category) subscription.
func (s *Store) RemoveSubscription(ctx context.Context, userID int64, category Category) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	cmdTag, execErr := pool.Exec(ctx, removeSubscriptionSQL, userID, string(category))
	if execErr != nil {
		return fmt.Errorf("remove subscription: %w", execErr)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetActiveSubscriptions lists active subscriptions, optionally filtered by
// category (empty category returns all).
func (s *Store) GetActiveSubscriptions(ctx context.Context, category Category) ([]Subscription, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	query := selectSubscriptionSQL + ` WHERE active`
	args := []any{}
	if category != "" {
		query += ` AND category = $1`
		args = append(args, string(category))
	}
	query += ` ORDER BY id;`

	rows, queryErr := pool.Query(ctx, query, args...)
	if queryErr != nil {
		return nil, fmt.Errorf("get active subscriptions: %w", queryErr)
	}
	defer rows.Close()

	return collectSubscriptions(rows)
}

// GetUserSubscriptions lists everything one user subscribed to.
func (s *Store) GetUserSubscriptions(ctx context.Context, userID int64) ([]Subscription, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, selectSubscriptionSQL+` WHERE user_id = $1 ORDER BY id;`, userID)
	if queryErr != nil {
		return nil, fmt.Errorf("get user subscriptions: %w", queryErr)
	}
	defer rows.Close()

	return collectSubscriptions(rows)
}

// AddAlert persists a new one-shot price alert.
func (s *Store) AddAlert(ctx context.Context, alert PriceAlert) (PriceAlert, error) {
	pool, err := s.getPool()
	if err != nil {
		return PriceAlert{}, err
	}

	row := pool.QueryRow(ctx, insertAlertSQL,
		alert.UserID, alert.ChatID, alert.Symbol, alert.TargetPrice.String(), alert.Condition)
	created, scanErr := scanAlert(row)
	if scanErr != nil {
		return PriceAlert{}, fmt.Errorf("add alert: %w", scanErr)
	}
	return created, nil
}

// GetActiveAlerts lists alerts that are active and not yet triggered.
func (s *Store) GetActiveAlerts(ctx context.Context) ([]PriceAlert, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, selectAlertSQL+` WHERE active AND NOT triggered ORDER BY symbol, id;`)
	if queryErr != nil {
		return nil, fmt.Errorf("get active alerts: %w", queryErr)
	}
	defer rows.Close()

	alerts := make([]PriceAlert, 0)
	for rows.Next() {
		alert, scanErr := scanAlert(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		alerts = append(alerts, alert)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return alerts, nil
}

// TriggerAlert flips an alert to triggered. Returns false when the alert was
// already triggered or gone, making the transition idempotent.
func (s *Store) TriggerAlert(ctx context.Context, id int64) (bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return false, err
	}

	cmdTag, execErr := pool.Exec(ctx, triggerAlertSQL, id)
	if execErr != nil {
		return false, fmt.Errorf("trigger alert: %w", execErr)
	}
	return cmdTag.RowsAffected() > 0, nil
}

// DeleteAlert removes an alert owned by userID.
func (s *Store) DeleteAlert(ctx context.Context, id, userID int64) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	cmdTag, execErr := pool.Exec(ctx, deleteAlertSQL, id, userID)
	if execErr != nil {
		return fmt.Errorf("delete alert: %w", execErr)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListUserAlerts lists all alerts owned by userID, newest first.
func (s *Store) ListUserAlerts(ctx context.Context, userID int64) ([]PriceAlert, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, selectAlertSQL+` WHERE user_id = $1 ORDER BY created_at DESC;`, userID)
	if queryErr != nil {
		return nil, fmt.Errorf("list user alerts: %w", queryErr)
	}
	defer rows.Close()

	alerts := make([]PriceAlert, 0)
	for rows.Next() {
		alert, scanErr := scanAlert(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		alerts = append(alerts, alert)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return alerts, nil
}

// AddPushRecord appends one delivery outcome.
func (s *Store) AddPushRecord(ctx context.Context, rec PushRecord) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}

	var errMsg any
	if rec.ErrorMessage != nil {
		errMsg = *rec.ErrorMessage
	}

	var id int64
	scanErr := pool.QueryRow(ctx, insertPushRecordSQL,
		rec.BatchID, rec.UserID, rec.ChatID, string(rec.Category), rec.Content, rec.Success, errMsg).Scan(&id)
	if scanErr != nil {
		return 0, fmt.Errorf("add push record: %w", scanErr)
	}
	return id, nil
}

// CleanOldRecords deletes push records older than the retention window and
// reports how many rows went away.
func (s *Store) CleanOldRecords(ctx context.Context, days int) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}

	cmdTag, execErr := pool.Exec(ctx, cleanOldRecordsSQL, days)
	if execErr != nil {
		return 0, fmt.Errorf("clean old records: %w", execErr)
	}
	return cmdTag.RowsAffected(), nil
}

// ListRecentRecords lists the newest push records.
func (s *Store) ListRecentRecords(ctx context.Context, limit int) ([]PushRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentRecordsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent records: %w", queryErr)
	}
	defer rows.Close()

	records := make([]PushRecord, 0, limit)
	for rows.Next() {
		var rec PushRecord
		var category string
		var errMsg *string
		if err := rows.Scan(&rec.ID, &rec.BatchID, &rec.UserID, &rec.ChatID, &category, &rec.Content, &rec.Success, &errMsg, &rec.SentAt); err != nil {
			return nil, err
		}
		rec.Category = Category(category)
		rec.ErrorMessage = errMsg
		records = append(records, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}

func scanSubscription(row pgx.Row) (Subscription, error) {
	var sub Subscription
	var category string
	var threshold *string
	if err := row.Scan(&sub.ID, &sub.UserID, &sub.ChatID, &category, &sub.Active, &sub.Schedule,
		&sub.Symbols, &sub.Sources, &threshold, &sub.CreatedAt, &sub.UpdatedAt); err != nil {
		return Subscription{}, err
	}
	sub.Category = Category(category)
	if threshold != nil {
		parsed, convErr := decimal.NewFromString(*threshold)
		if convErr != nil {
			return Subscription{}, fmt.Errorf("parse threshold: %w", convErr)
		}
		sub.Threshold = &parsed
	}
	return sub, nil
}

func collectSubscriptions(rows pgx.Rows) ([]Subscription, error) {
	subs := make([]Subscription, 0)
	for rows.Next() {
		sub, scanErr := scanSubscription(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		subs = append(subs, sub)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return subs, nil
}

func scanAlert(row pgx.Row) (PriceAlert, error) {
	var alert PriceAlert
	var target string
	if err := row.Scan(&alert.ID, &alert.UserID, &alert.ChatID, &alert.Symbol, &target, &alert.Condition,
		&alert.Active, &alert.Triggered, &alert.CreatedAt, &alert.TriggeredAt); err != nil {
		return PriceAlert{}, err
	}
	parsed, convErr := decimal.NewFromString(target)
	if convErr != nil {
		return PriceAlert{}, fmt.Errorf("parse target price: %w", convErr)
	}
	alert.TargetPrice = parsed
	return alert, nil
}

var (
	_ UserStore         = (*Store)(nil)
	_ SubscriptionStore = (*Store)(nil)
	_ AlertStore        = (*Store)(nil)
	_ PushStore         = (*Store)(nil)
)
