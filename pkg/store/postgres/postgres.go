// Package postgres implements api.Store on PostgreSQL.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/ArionMiles/obligations/pkg/api"
	"github.com/ArionMiles/obligations/pkg/calendar"
)

//go:embed 001_create_obligations.sql
var migrationSQL string

// Config holds the PostgreSQL connection configuration.
type Config struct {
	// URL, when set, is used as the connection string and the discrete fields are ignored.
	URL string

	Host     string
	Port     int
	Database string
	User     string
	Password string
	SSLMode  string

	// MaxPoolSize is the maximum number of connections in the pool.
	MaxPoolSize int

	// ConnectAttempts is how many times the initial ping is tried.
	ConnectAttempts uint
	// ConnectDelay is the base delay between ping attempts.
	ConnectDelay time.Duration
}

// ConnString renders the libpq keyword/value connection string.
func (c Config) ConnString() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// Store persists obligations and their satellites in PostgreSQL.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

var _ api.Store = (*Store)(nil)

// New connects, pings with retries, and applies the embedded migration.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.Port == 0 {
		cfg.Port = 5432
	}
	if cfg.SSLMode == "" {
		cfg.SSLMode = "disable"
	}
	if cfg.MaxPoolSize == 0 {
		cfg.MaxPoolSize = 10
	}
	if cfg.ConnectAttempts == 0 {
		cfg.ConnectAttempts = 5
	}
	if cfg.ConnectDelay == 0 {
		cfg.ConnectDelay = time.Second
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.ConnString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxPoolSize)
	poolConfig.MinConns = 1
	poolConfig.MaxConnLifetime = 1 * time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	err = retry.Do(
		func() error {
			pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			return pool.Ping(pingCtx)
		},
		retry.Context(ctx),
		retry.Attempts(cfg.ConnectAttempts),
		retry.Delay(cfg.ConnectDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			logger.Warn("database not ready, retrying", "attempt", n+1, "error", err)
		}),
	)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	logger.Info("connected to PostgreSQL",
		"host", poolConfig.ConnConfig.Host,
		"port", poolConfig.ConnConfig.Port,
		"database", poolConfig.ConnConfig.Database,
	)

	s := &Store{pool: pool, logger: logger}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	s.logger.Info("running database migrations")
	if _, err := s.pool.Exec(ctx, migrationSQL); err != nil {
		return fmt.Errorf("executing migration: %w", err)
	}
	s.logger.Info("migrations completed successfully")
	return nil
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Stats returns the number of stored rows per collection.
func (s *Store) Stats(ctx context.Context) (map[string]int, error) {
	tables := []string{
		api.CollectionObligations,
		api.CollectionRecurrencePlans,
		api.CollectionInstallmentPlans,
		api.CollectionDocuments,
		api.CollectionDocumentItems,
		api.CollectionCategories,
		api.CollectionEntities,
	}
	out := make(map[string]int, len(tables))
	for _, table := range tables {
		var n int
		// Table names come from the fixed list above.
		if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
			return nil, fmt.Errorf("counting %s: %w", table, err)
		}
		out[table] = n
	}
	return out, nil
}

// Close closes the database connection pool.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
		s.logger.Info("closed PostgreSQL connection pool")
	}
}

func newID(id string) string {
	if id != "" {
		return id
	}
	return uuid.NewString()
}

// validID filters out ids Postgres would reject as malformed uuids, so lookups
// with garbage ids report not found instead of a query error.
func validID(id string) bool {
	return uuid.Validate(id) == nil
}

func notFound(what, id string) error {
	return fmt.Errorf("%s %s: %w", what, id, api.ErrNotFound)
}

// sendBatch runs b inside one transaction and discards the results.
func (s *Store) sendBatch(ctx context.Context, b *pgx.Batch, what string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	results := tx.SendBatch(ctx, b)
	for i := 0; i < b.Len(); i++ {
		if _, err := results.Exec(); err != nil {
			results.Close()
			return fmt.Errorf("inserting %s %d: %w", what, i, err)
		}
	}
	if err := results.Close(); err != nil {
		return fmt.Errorf("closing batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func nullDecimal(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}
	return *d
}

func fromNullDecimal(d decimal.NullDecimal) *decimal.Decimal {
	if !d.Valid {
		return nil
	}
	v := d.Decimal
	return &v
}

// Obligations.

const obligationColumns = `id::text, owner_id, amount, date, description, category_id::text, entity_id::text,
	payment_method, source, status, recurrence_plan_id::text, installment_plan_id::text,
	installment_number, created_at`

const insertObligation = `
	INSERT INTO obligations (
		id, owner_id, amount, date, description, category_id, entity_id,
		payment_method, source, status, recurrence_plan_id, installment_plan_id, installment_number
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

func scanObligation(row pgx.Row) (*api.Obligation, error) {
	var (
		o      api.Obligation
		date   time.Time
		method string
		source string
		status string
	)
	err := row.Scan(
		&o.ID, &o.OwnerID, &o.Amount, &date, &o.Description, &o.CategoryID, &o.EntityID,
		&method, &source, &status, &o.RecurrencePlanID, &o.InstallmentPlanID,
		&o.InstallmentNumber, &o.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	o.Date = calendar.FromTime(date)
	o.PaymentMethod = api.PaymentMethod(method)
	o.Source = api.Source(source)
	o.Status = api.Status(status)
	return &o, nil
}

func (s *Store) InsertObligation(ctx context.Context, o *api.Obligation) (string, error) {
	ids, err := s.InsertObligations(ctx, []*api.Obligation{o})
	if err != nil {
		return "", err
	}
	return ids[0], nil
}

// InsertObligations writes all rows in one transaction.
func (s *Store) InsertObligations(ctx context.Context, obligations []*api.Obligation) ([]string, error) {
	if len(obligations) == 0 {
		return []string{}, nil
	}

	b := &pgx.Batch{}
	ids := make([]string, 0, len(obligations))
	for _, o := range obligations {
		id := newID(o.ID)
		ids = append(ids, id)
		b.Queue(insertObligation,
			id, o.OwnerID, o.Amount, o.Date.Time(), o.Description, o.CategoryID, o.EntityID,
			string(o.PaymentMethod), string(o.Source), string(o.Status),
			o.RecurrencePlanID, o.InstallmentPlanID, o.InstallmentNumber,
		)
	}

	if err := s.sendBatch(ctx, b, "obligation"); err != nil {
		return nil, err
	}
	s.logger.Debug("inserted obligations", "count", len(ids))
	return ids, nil
}

// UpdateObligation applies patch under a row lock.
func (s *Store) UpdateObligation(ctx context.Context, ownerID, id string, patch api.ObligationPatch) error {
	if !validID(id) {
		return notFound("obligation", id)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	o, err := scanObligation(tx.QueryRow(ctx,
		`SELECT `+obligationColumns+` FROM obligations WHERE owner_id = $1 AND id = $2 FOR UPDATE`,
		ownerID, id,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return notFound("obligation", id)
	}
	if err != nil {
		return fmt.Errorf("loading obligation: %w", err)
	}

	patch.Apply(o)

	_, err = tx.Exec(ctx, `
		UPDATE obligations SET
			description = $3, category_id = $4, entity_id = $5, payment_method = $6,
			recurrence_plan_id = $7, installment_plan_id = $8
		WHERE owner_id = $1 AND id = $2`,
		ownerID, id, o.Description, o.CategoryID, o.EntityID, string(o.PaymentMethod),
		o.RecurrencePlanID, o.InstallmentPlanID,
	)
	if err != nil {
		return fmt.Errorf("updating obligation: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// DeleteObligation removes the row; documents, items and originated plans cascade.
func (s *Store) DeleteObligation(ctx context.Context, ownerID, id string) error {
	return s.deleteOwned(ctx, "obligations", "obligation", ownerID, id)
}

func (s *Store) deleteOwned(ctx context.Context, table, what, ownerID, id string) error {
	if !validID(id) {
		return notFound(what, id)
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM `+table+` WHERE owner_id = $1 AND id = $2`, ownerID, id)
	if err != nil {
		return fmt.Errorf("deleting %s: %w", what, err)
	}
	if tag.RowsAffected() == 0 {
		return notFound(what, id)
	}
	return nil
}

func (s *Store) GetObligation(ctx context.Context, ownerID, id string) (*api.Obligation, error) {
	if !validID(id) {
		return nil, notFound("obligation", id)
	}
	o, err := scanObligation(s.pool.QueryRow(ctx,
		`SELECT `+obligationColumns+` FROM obligations WHERE owner_id = $1 AND id = $2`,
		ownerID, id,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound("obligation", id)
	}
	if err != nil {
		return nil, fmt.Errorf("loading obligation: %w", err)
	}
	return o, nil
}

// ListObligations returns the owner's obligations ordered by date, then insertion.
func (s *Store) ListObligations(ctx context.Context, ownerID string, filter api.ObligationFilter) ([]*api.Obligation, error) {
	where := []string{"owner_id = $1"}
	args := []any{ownerID}
	if !filter.From.IsZero() {
		args = append(args, filter.From.Time())
		where = append(where, fmt.Sprintf("date >= $%d", len(args)))
	}
	if !filter.To.IsZero() {
		args = append(args, filter.To.Time())
		where = append(where, fmt.Sprintf("date <= $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+obligationColumns+` FROM obligations WHERE `+strings.Join(where, " AND ")+` ORDER BY date, seq`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("querying obligations: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*api.Obligation, error) {
		return scanObligation(row)
	})
	if err != nil {
		return nil, fmt.Errorf("scanning obligations: %w", err)
	}
	return out, nil
}

// Plans.

func (s *Store) InsertRecurrencePlan(ctx context.Context, p *api.RecurrencePlan) (string, error) {
	id := newID(p.ID)
	_, err := s.pool.Exec(ctx, `
		INSERT INTO recurrence_plans (
			id, owner_id, origin_obligation_id, interval_value, interval_unit,
			expected_amount, start_date, end_date, active
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		id, p.OwnerID, p.OriginObligationID, p.IntervalValue, string(p.IntervalUnit),
		p.ExpectedAmount, p.StartDate.Time(), p.EndDate.Time(), p.Active,
	)
	if err != nil {
		return "", fmt.Errorf("inserting recurrence plan: %w", err)
	}
	return id, nil
}

func (s *Store) InsertInstallmentPlan(ctx context.Context, p *api.InstallmentPlan) (string, error) {
	id := newID(p.ID)
	_, err := s.pool.Exec(ctx, `
		INSERT INTO installment_plans (
			id, owner_id, origin_obligation_id, total_amount, count, installment_amount, start_date
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		id, p.OwnerID, p.OriginObligationID, p.TotalAmount, p.Count, p.InstallmentAmount, p.StartDate.Time(),
	)
	if err != nil {
		return "", fmt.Errorf("inserting installment plan: %w", err)
	}
	return id, nil
}

// Documents.

func (s *Store) InsertDocument(ctx context.Context, d *api.FiscalDocument) (string, error) {
	id := newID(d.ID)
	_, err := s.pool.Exec(ctx, `
		INSERT INTO documents (
			id, owner_id, obligation_id, kind, external_id, raw_text, raw_payload, source, processing_status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		id, d.OwnerID, d.ObligationID, d.Kind, d.ExternalID, d.RawText, d.RawPayload, d.Source, d.ProcessingStatus,
	)
	if err != nil {
		return "", fmt.Errorf("inserting document: %w", err)
	}
	return id, nil
}

// DeleteDocument removes the document; its items cascade.
func (s *Store) DeleteDocument(ctx context.Context, ownerID, id string) error {
	return s.deleteOwned(ctx, "documents", "document", ownerID, id)
}

// InsertDocumentItems writes all items in one transaction.
func (s *Store) InsertDocumentItems(ctx context.Context, items []*api.DocumentItem) ([]string, error) {
	if len(items) == 0 {
		return []string{}, nil
	}

	b := &pgx.Batch{}
	ids := make([]string, 0, len(items))
	for _, it := range items {
		id := newID(it.ID)
		ids = append(ids, id)
		b.Queue(`
			INSERT INTO document_items (
				id, owner_id, document_id, description, sku, quantity, unit, unit_price, total_price, raw
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			id, it.OwnerID, it.DocumentID, it.Description, it.SKU,
			nullDecimal(it.Quantity), it.Unit, nullDecimal(it.UnitPrice), nullDecimal(it.TotalPrice), it.Raw,
		)
	}

	if err := s.sendBatch(ctx, b, "document item"); err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *Store) ListItemsByObligation(ctx context.Context, ownerID, obligationID string) ([]*api.DocumentItem, error) {
	if !validID(obligationID) {
		return []*api.DocumentItem{}, nil
	}

	rows, err := s.pool.Query(ctx, `
		SELECT i.id::text, i.owner_id, i.document_id::text, i.description, i.sku,
			i.quantity, i.unit, i.unit_price, i.total_price, i.raw
		FROM document_items i
		JOIN documents d ON d.id = i.document_id
		WHERE d.owner_id = $1 AND d.obligation_id = $2
		ORDER BY i.seq`,
		ownerID, obligationID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying document items: %w", err)
	}

	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*api.DocumentItem, error) {
		var (
			it                          api.DocumentItem
			quantity, unitPrice, totalP decimal.NullDecimal
		)
		if err := row.Scan(
			&it.ID, &it.OwnerID, &it.DocumentID, &it.Description, &it.SKU,
			&quantity, &it.Unit, &unitPrice, &totalP, &it.Raw,
		); err != nil {
			return nil, err
		}
		it.Quantity = fromNullDecimal(quantity)
		it.UnitPrice = fromNullDecimal(unitPrice)
		it.TotalPrice = fromNullDecimal(totalP)
		return &it, nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning document items: %w", err)
	}
	return out, nil
}

// Registries.

func (s *Store) InsertCategory(ctx context.Context, c *api.Category) (string, error) {
	id := newID(c.ID)
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO categories (id, owner_id, name) VALUES ($1, $2, $3)`,
		id, c.OwnerID, c.Name,
	); err != nil {
		return "", fmt.Errorf("inserting category: %w", err)
	}
	return id, nil
}

func (s *Store) DeleteCategory(ctx context.Context, ownerID, id string) error {
	return s.deleteOwned(ctx, "categories", "category", ownerID, id)
}

func (s *Store) ListCategories(ctx context.Context, ownerID string) ([]*api.Category, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id::text, owner_id, name FROM categories WHERE owner_id = $1 ORDER BY seq`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("querying categories: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*api.Category, error) {
		var c api.Category
		return &c, row.Scan(&c.ID, &c.OwnerID, &c.Name)
	})
	if err != nil {
		return nil, fmt.Errorf("scanning categories: %w", err)
	}
	return out, nil
}

func (s *Store) GetCategory(ctx context.Context, ownerID, id string) (*api.Category, error) {
	if !validID(id) {
		return nil, notFound("category", id)
	}
	var c api.Category
	err := s.pool.QueryRow(ctx,
		`SELECT id::text, owner_id, name FROM categories WHERE owner_id = $1 AND id = $2`, ownerID, id,
	).Scan(&c.ID, &c.OwnerID, &c.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound("category", id)
	}
	if err != nil {
		return nil, fmt.Errorf("loading category: %w", err)
	}
	return &c, nil
}

func (s *Store) InsertEntity(ctx context.Context, e *api.Entity) (string, error) {
	id := newID(e.ID)
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO entities (id, owner_id, name, normalized_name) VALUES ($1, $2, $3, $4)`,
		id, e.OwnerID, e.Name, e.NormalizedName,
	); err != nil {
		return "", fmt.Errorf("inserting entity: %w", err)
	}
	return id, nil
}

func (s *Store) DeleteEntity(ctx context.Context, ownerID, id string) error {
	return s.deleteOwned(ctx, "entities", "entity", ownerID, id)
}

func (s *Store) ListEntities(ctx context.Context, ownerID string) ([]*api.Entity, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id::text, owner_id, name, normalized_name FROM entities WHERE owner_id = $1 ORDER BY seq`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("querying entities: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*api.Entity, error) {
		var e api.Entity
		return &e, row.Scan(&e.ID, &e.OwnerID, &e.Name, &e.NormalizedName)
	})
	if err != nil {
		return nil, fmt.Errorf("scanning entities: %w", err)
	}
	return out, nil
}

func (s *Store) GetEntity(ctx context.Context, ownerID, id string) (*api.Entity, error) {
	if !validID(id) {
		return nil, notFound("entity", id)
	}
	var e api.Entity
	err := s.pool.QueryRow(ctx,
		`SELECT id::text, owner_id, name, normalized_name FROM entities WHERE owner_id = $1 AND id = $2`, ownerID, id,
	).Scan(&e.ID, &e.OwnerID, &e.Name, &e.NormalizedName)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound("entity", id)
	}
	if err != nil {
		return nil, fmt.Errorf("loading entity: %w", err)
	}
	return &e, nil
}
