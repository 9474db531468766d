package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/guanpeibj/family-ai-assistant-sub001/internal/models"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	DBName       string
	SSLMode      string
	MaxOpenConns int
	UseInMemory  bool
}

type PostgresStorage struct {
	db      *sql.DB
	builder sq.StatementBuilderType
	logger  *zap.Logger
}

func NewPostgresStorage(config DatabaseConfig, logger *zap.Logger) (*PostgresStorage, error) {
	connStr := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		config.Host, config.Port, config.User, config.Password, config.DBName, config.SSLMode)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	if config.MaxOpenConns > 0 {
		db.SetMaxOpenConns(config.MaxOpenConns)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("error connecting to the database: %w", err)
	}

	s := &PostgresStorage{
		db:      db,
		builder: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
		logger:  logger,
	}

	if err := s.runMigrations(); err != nil {
		return nil, fmt.Errorf("error running migrations: %w", err)
	}

	return s, nil
}

func (s *PostgresStorage) runMigrations() error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("error loading embedded migrations: %w", err)
	}

	driver, err := postgres.WithInstance(s.db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("error creating migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("error initializing migrations: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("error applying migrations: %w", err)
	}

	s.logger.Info("Database migrations up to date")
	return nil
}

// PersistMemory writes the understanding mapping and its projection columns
// in a single INSERT so concurrent readers never observe a half-applied
// projection.
func (s *PostgresStorage) PersistMemory(ctx context.Context, m *models.Memory) error {
	m.Projection = ProjectUnderstanding(m.Understanding, m.ThreadID)

	understanding, err := json.Marshal(m.Understanding)
	if err != nil {
		return fmt.Errorf("error encoding understanding: %w", err)
	}

	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	if m.OccurredAt.IsZero() {
		m.OccurredAt = m.CreatedAt
	}

	query := s.builder.Insert("memories").
		Columns("id", "owner_id", "thread_id", "shared", "content", "understanding",
			"type", "category", "person", "metric", "source", "value",
			"occurred_at", "created_at").
		Values(m.ID, m.OwnerID, m.ThreadID, m.Shared, m.Content, understanding,
			m.Projection.Type, m.Projection.Category, m.Projection.Person,
			m.Projection.Metric, m.Projection.Source, nullDecimal(m.Projection.Value),
			m.OccurredAt, m.CreatedAt)

	queryStr, args, err := query.ToSql()
	if err != nil {
		return fmt.Errorf("error building insert: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, queryStr, args...); err != nil {
		return fmt.Errorf("error persisting memory: %w", err)
	}
	return nil
}

var memoryColumns = []string{
	"id", "owner_id", "thread_id", "shared", "content", "understanding",
	"type", "category", "person", "metric", "source", "value",
	"occurred_at", "created_at",
}

func (s *PostgresStorage) GetMemory(ctx context.Context, id string) (*models.Memory, error) {
	query := s.builder.Select(memoryColumns...).From("memories").Where(sq.Eq{"id": id})
	queryStr, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("error building query: %w", err)
	}

	m, err := scanMemory(s.db.QueryRowContext(ctx, queryStr, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	return m, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMemory(row rowScanner) (*models.Memory, error) {
	var (
		m             models.Memory
		understanding []byte
		value         decimal.NullDecimal
	)
	err := row.Scan(&m.ID, &m.OwnerID, &m.ThreadID, &m.Shared, &m.Content, &understanding,
		&m.Projection.Type, &m.Projection.Category, &m.Projection.Person,
		&m.Projection.Metric, &m.Projection.Source, &value,
		&m.OccurredAt, &m.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(understanding, &m.Understanding); err != nil {
		return nil, fmt.Errorf("error decoding understanding: %w", err)
	}
	if value.Valid {
		m.Projection.Value = &value.Decimal
	}
	m.Projection.ThreadID = m.ThreadID
	return &m, nil
}

func (s *PostgresStorage) QueryMemories(ctx context.Context, scope []string, f models.MemoryFilter) ([]*models.Memory, error) {
	query := s.builder.Select(memoryColumns...).From("memories").
		Where(sq.Eq{"owner_id": scope}).
		OrderBy("occurred_at DESC")
	query = applyMemoryFilter(query, f)

	queryStr, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("error building query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, queryStr, args...)
	if err != nil {
		return nil, fmt.Errorf("error querying memories: %w", err)
	}
	defer rows.Close()

	var memories []*models.Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning memory: %w", err)
		}
		memories = append(memories, m)
	}
	return memories, rows.Err()
}

func applyMemoryFilter(query sq.SelectBuilder, f models.MemoryFilter) sq.SelectBuilder {
	if f.Type != "" {
		query = query.Where(sq.Eq{"type": string(f.Type)})
	}
	if f.Category != "" {
		query = query.Where(sq.Eq{"category": f.Category})
	}
	if f.Person != "" {
		query = query.Where(sq.Eq{"person": f.Person})
	}
	if f.Metric != "" {
		query = query.Where(sq.Eq{"metric": f.Metric})
	}
	if f.ThreadID != "" {
		query = query.Where(sq.Eq{"thread_id": f.ThreadID})
	}
	if !f.Since.IsZero() {
		query = query.Where(sq.GtOrEq{"occurred_at": f.Since})
	}
	if !f.Until.IsZero() {
		query = query.Where(sq.Lt{"occurred_at": f.Until})
	}
	return query
}

func (s *PostgresStorage) DeleteMemory(ctx context.Context, id string) error {
	// reminders.memory_id is ON DELETE SET NULL, so referencing reminders
	// survive with a nulled back-reference.
	queryStr, args, err := s.builder.Delete("memories").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return fmt.Errorf("error building delete: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, queryStr, args...); err != nil {
		return fmt.Errorf("error deleting memory: %w", err)
	}
	return nil
}

func (s *PostgresStorage) Aggregate(ctx context.Context, scope []string, op models.AggregateOp, field string, f models.MemoryFilter) (decimal.Decimal, int64, error) {
	var expr string
	switch op {
	case models.OpSum:
		expr = "COALESCE(SUM(value), 0)"
	case models.OpAvg:
		expr = "COALESCE(AVG(value), 0)"
	case models.OpCount:
		expr = "0"
	default:
		return decimal.Zero, 0, fmt.Errorf("unsupported aggregate operation %q", op)
	}

	query := s.builder.Select(expr, "COUNT(*)").From("memories").
		Where(sq.Eq{"owner_id": scope})
	query = applyMemoryFilter(query, f)

	queryStr, args, err := query.ToSql()
	if err != nil {
		return decimal.Zero, 0, fmt.Errorf("error building aggregate query: %w", err)
	}

	var (
		value decimal.Decimal
		rows  int64
	)
	if err := s.db.QueryRowContext(ctx, queryStr, args...).Scan(&value, &rows); err != nil {
		return decimal.Zero, 0, fmt.Errorf("error running aggregate: %w", err)
	}
	if op == models.OpCount {
		value = decimal.NewFromInt(rows)
	}
	return value, rows, nil
}

func (s *PostgresStorage) CreateReminder(ctx context.Context, r *models.Reminder) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	var offset any
	if r.AdvanceOffset != nil {
		offset = int64(r.AdvanceOffset.Seconds())
	}

	query := s.builder.Insert("reminders").
		Columns("id", "memory_id", "owner_id", "thread_id", "message",
			"remind_at", "advance_offset_seconds", "sent_at", "created_at").
		Values(r.ID, r.MemoryID, r.OwnerID, r.ThreadID, r.Message,
			r.RemindAt, offset, r.SentAt, r.CreatedAt)

	queryStr, args, err := query.ToSql()
	if err != nil {
		return fmt.Errorf("error building insert: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, queryStr, args...); err != nil {
		return fmt.Errorf("error creating reminder: %w", err)
	}
	return nil
}

var reminderColumns = []string{
	"id", "memory_id", "owner_id", "thread_id", "message",
	"remind_at", "advance_offset_seconds", "sent_at", "created_at",
}

func scanReminder(row rowScanner) (*models.Reminder, error) {
	var (
		r        models.Reminder
		memoryID sql.NullString
		offset   sql.NullInt64
		sentAt   sql.NullTime
	)
	err := row.Scan(&r.ID, &memoryID, &r.OwnerID, &r.ThreadID, &r.Message,
		&r.RemindAt, &offset, &sentAt, &r.CreatedAt)
	if err != nil {
		return nil, err
	}
	if memoryID.Valid {
		r.MemoryID = &memoryID.String
	}
	if offset.Valid {
		d := time.Duration(offset.Int64) * time.Second
		r.AdvanceOffset = &d
	}
	if sentAt.Valid {
		r.SentAt = &sentAt.Time
	}
	return &r, nil
}

func (s *PostgresStorage) GetReminder(ctx context.Context, id string) (*models.Reminder, error) {
	queryStr, args, err := s.builder.Select(reminderColumns...).From("reminders").
		Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("error building query: %w", err)
	}
	r, err := scanReminder(s.db.QueryRowContext(ctx, queryStr, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	return r, err
}

func (s *PostgresStorage) MarkReminderSent(ctx context.Context, id string, at time.Time) error {
	queryStr, args, err := s.builder.Update("reminders").
		Set("sent_at", at).
		Where(sq.Eq{"id": id}).
		Where("sent_at IS NULL").
		ToSql()
	if err != nil {
		return fmt.Errorf("error building update: %w", err)
	}

	result, err := s.db.ExecContext(ctx, queryStr, args...)
	if err != nil {
		return fmt.Errorf("error marking reminder sent: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("error getting rows affected: %w", err)
	}
	if affected == 0 {
		// Already sent is fine; a missing row is not.
		if _, err := s.GetReminder(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresStorage) DueBefore(ctx context.Context, t time.Time) ([]*models.Reminder, error) {
	query := s.builder.Select(reminderColumns...).From("reminders").
		Where("sent_at IS NULL").
		Where(sq.LtOrEq{"remind_at": t}).
		OrderBy("remind_at ASC")
	return s.queryReminders(ctx, query)
}

func (s *PostgresStorage) PendingReminders(ctx context.Context, ownerID string) ([]*models.Reminder, error) {
	query := s.builder.Select(reminderColumns...).From("reminders").
		Where("sent_at IS NULL").
		Where(sq.Eq{"owner_id": ownerID}).
		OrderBy("remind_at ASC")
	return s.queryReminders(ctx, query)
}

func (s *PostgresStorage) queryReminders(ctx context.Context, query sq.SelectBuilder) ([]*models.Reminder, error) {
	queryStr, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("error building query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, queryStr, args...)
	if err != nil {
		return nil, fmt.Errorf("error querying reminders: %w", err)
	}
	defer rows.Close()

	var reminders []*models.Reminder
	for rows.Next() {
		r, err := scanReminder(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning reminder: %w", err)
		}
		reminders = append(reminders, r)
	}
	return reminders, rows.Err()
}

func (s *PostgresStorage) UpsertHousehold(ctx context.Context, h *models.Household) error {
	config, err := json.Marshal(orEmpty(h.Config))
	if err != nil {
		return fmt.Errorf("error encoding config: %w", err)
	}

	query := `
		INSERT INTO households (id, slug, config)
		VALUES ($1, $2, $3)
		ON CONFLICT (slug) DO UPDATE SET config = EXCLUDED.config
		RETURNING id, created_at`
	if err := s.db.QueryRowContext(ctx, query, h.ID, h.Slug, config).Scan(&h.ID, &h.CreatedAt); err != nil {
		return fmt.Errorf("error upserting household: %w", err)
	}
	return nil
}

func (s *PostgresStorage) UpsertMember(ctx context.Context, m *models.Member) error {
	profile, err := json.Marshal(orEmpty(m.Profile))
	if err != nil {
		return fmt.Errorf("error encoding profile: %w", err)
	}

	query := `
		INSERT INTO members (id, household_id, member_key, display_name, profile, is_active)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (household_id, member_key) DO UPDATE
		SET display_name = EXCLUDED.display_name,
		    profile = EXCLUDED.profile,
		    is_active = EXCLUDED.is_active
		RETURNING id`
	if err := s.db.QueryRowContext(ctx, query, m.ID, m.HouseholdID, m.MemberKey,
		m.DisplayName, profile, m.IsActive).Scan(&m.ID); err != nil {
		return fmt.Errorf("error upserting member: %w", err)
	}
	return nil
}

func (s *PostgresStorage) LinkAccount(ctx context.Context, a *models.MemberAccount) error {
	query := `
		INSERT INTO member_accounts (id, member_id, user_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (member_id, user_id) DO NOTHING`
	if _, err := s.db.ExecContext(ctx, query, a.ID, a.MemberID, a.UserID); err != nil {
		return fmt.Errorf("error linking account: %w", err)
	}
	return nil
}

func (s *PostgresStorage) FamilyScope(ctx context.Context, slug string) ([]string, error) {
	query := s.builder.Select("ma.user_id").From("member_accounts ma").
		Join("members m ON m.id = ma.member_id").
		Join("households h ON h.id = m.household_id").
		Where(sq.Eq{"h.slug": slug, "m.is_active": true}).
		OrderBy("ma.user_id")
	return s.queryStrings(ctx, query)
}

func (s *PostgresStorage) ActiveMemberNames(ctx context.Context, slug string) ([]string, error) {
	query := s.builder.Select("m.display_name").From("members m").
		Join("households h ON h.id = m.household_id").
		Where(sq.Eq{"h.slug": slug, "m.is_active": true}).
		OrderBy("m.member_key")
	return s.queryStrings(ctx, query)
}

func (s *PostgresStorage) queryStrings(ctx context.Context, query sq.SelectBuilder) ([]string, error) {
	queryStr, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("error building query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, queryStr, args...)
	if err != nil {
		return nil, fmt.Errorf("error querying: %w", err)
	}
	defer rows.Close()

	var values []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("error scanning: %w", err)
		}
		values = append(values, v)
	}
	return values, rows.Err()
}

func (s *PostgresStorage) EnsureOwner(ctx context.Context, userID string) error {
	query := `INSERT INTO owners (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`
	if _, err := s.db.ExecContext(ctx, query, userID); err != nil {
		return fmt.Errorf("error registering owner: %w", err)
	}
	return nil
}

func (s *PostgresStorage) Close() error {
	return s.db.Close()
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

func orEmpty(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
