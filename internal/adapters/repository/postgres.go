package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"github.com/okian/voyage/internal/domain/model"
	"github.com/okian/voyage/internal/domain/types"
)

// Schema creates the tables PostgresStore reads and writes. The catalog
// tables are normally owned by the content service; the statements are
// idempotent so EnsureSchema is safe against an existing database.
const Schema = `
CREATE TABLE IF NOT EXISTS destinations (
	id             TEXT PRIMARY KEY,
	name           TEXT NOT NULL,
	slug           TEXT NOT NULL UNIQUE,
	country        TEXT NOT NULL DEFAULT '',
	trending_score DOUBLE PRECISION NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS categories (
	slug TEXT PRIMARY KEY,
	name TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS itineraries (
	id               TEXT PRIMARY KEY,
	title            TEXT NOT NULL,
	slug             TEXT NOT NULL UNIQUE,
	destination_id   TEXT NOT NULL REFERENCES destinations(id) ON DELETE CASCADE,
	category_slug    TEXT REFERENCES categories(slug) ON DELETE SET NULL,
	duration_days    INTEGER NOT NULL DEFAULT 0,
	total_budget     DOUBLE PRECISION NOT NULL DEFAULT 0,
	popularity_score DOUBLE PRECISION NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS interactions (
	id             TEXT PRIMARY KEY,
	destination_id TEXT NOT NULL REFERENCES destinations(id) ON DELETE CASCADE,
	user_id        TEXT,
	session_id     TEXT,
	action         TEXT NOT NULL,
	dwell_seconds  DOUBLE PRECISION NOT NULL DEFAULT 0,
	click_target   TEXT NOT NULL DEFAULT '',
	client_addr    TEXT NOT NULL DEFAULT '',
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS interactions_created_at_idx ON interactions (created_at);
CREATE INDEX IF NOT EXISTS interactions_user_idx ON interactions (user_id, created_at);
CREATE TABLE IF NOT EXISTS ratings (
	user_id     TEXT NOT NULL,
	object_type TEXT NOT NULL,
	object_id   TEXT NOT NULL,
	rating      SMALLINT NOT NULL CHECK (rating BETWEEN 1 AND 5),
	review      TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (user_id, object_type, object_id)
);
`

// PostgresStore implements Store on a pgx connection pool.
type PostgresStore struct {
	db *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

// Connect opens a pool for dsn and pings it.
func Connect(ctx context.Context, dsn string) (*PostgresStore, error) {
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	db, err := pgxpool.ConnectConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return NewPostgresStore(db), nil
}

// NewPostgresStore wraps an existing pool.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema applies Schema.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	s.db.Close()
	return nil
}

func nullable(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

// AppendInteraction implements InteractionLog.
func (s *PostgresStore) AppendInteraction(ctx context.Context, e model.InteractionEvent) error {
	e.Actor = e.Actor.Normalize()
	if e.TS.IsZero() {
		e.TS = time.Now()
	}
	if err := e.Validate(); err != nil {
		return err
	}
	const query = `
		INSERT INTO interactions (
			id, destination_id, user_id, session_id, action,
			dwell_seconds, click_target, client_addr, created_at
		)
		SELECT $1, d.id, $3, $4, $5, $6, $7, $8, $9
		FROM destinations d WHERE d.id = $2
		ON CONFLICT (id) DO NOTHING
	`
	tag, err := s.db.Exec(ctx, query,
		e.ID,
		e.SubjectID,
		nullable(e.Actor.UserID),
		nullable(e.Actor.SessionID),
		string(e.Action),
		e.Magnitude,
		e.ClickTarget,
		e.ClientAddr,
		e.TS,
	)
	if err != nil {
		return fmt.Errorf("insert interaction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM destinations WHERE id = $1)`, e.SubjectID).Scan(&exists); err != nil {
			return fmt.Errorf("check destination: %w", err)
		}
		if !exists {
			return fmt.Errorf("%w: %s", ErrUnknownEntity, e.SubjectID)
		}
	}
	return nil
}

// buildEventQuery renders the interaction read for filter.
func buildEventQuery(filter model.EventFilter) (string, []any) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if filter.SubjectID != "" {
		add("destination_id = $%d", filter.SubjectID)
	}
	if filter.Actor != nil {
		a := filter.Actor.Normalize()
		if a.UserID != "" {
			add("user_id = $%d", a.UserID)
		} else {
			where = append(where, "user_id IS NULL")
			add("session_id = $%d", a.SessionID)
		}
	}
	if filter.Action != "" {
		add("action = $%d", string(filter.Action))
	}
	if !filter.Since.IsZero() {
		add("created_at >= $%d", filter.Since)
	}

	var b strings.Builder
	b.WriteString(`SELECT id, destination_id, coalesce(user_id, ''), coalesce(session_id, ''), action, dwell_seconds, click_target, client_addr, created_at FROM interactions`)
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	b.WriteString(" ORDER BY created_at, id")
	return b.String(), args
}

// ListInteractionEvents implements InteractionLog.
func (s *PostgresStore) ListInteractionEvents(ctx context.Context, filter model.EventFilter) ([]model.InteractionEvent, error) {
	query, args := buildEventQuery(filter)
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query interactions: %w", err)
	}
	defer rows.Close()

	out := make([]model.InteractionEvent, 0)
	for rows.Next() {
		var (
			e      model.InteractionEvent
			action string
		)
		if err := rows.Scan(&e.ID, &e.SubjectID, &e.Actor.UserID, &e.Actor.SessionID, &action,
			&e.Magnitude, &e.ClickTarget, &e.ClientAddr, &e.TS); err != nil {
			return nil, fmt.Errorf("scan interaction: %w", err)
		}
		e.Action = model.Action(action)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate interactions: %w", err)
	}
	return out, nil
}

// ListDestinations implements Catalog.
func (s *PostgresStore) ListDestinations(ctx context.Context) ([]model.Destination, error) {
	rows, err := s.db.Query(ctx, `SELECT id, name, slug, country, trending_score FROM destinations ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query destinations: %w", err)
	}
	return scanDestinations(rows)
}

func scanDestinations(rows pgx.Rows) ([]model.Destination, error) {
	defer rows.Close()
	out := make([]model.Destination, 0)
	for rows.Next() {
		var d model.Destination
		if err := rows.Scan(&d.ID, &d.Name, &d.Slug, &d.Country, &d.TrendingScore); err != nil {
			return nil, fmt.Errorf("scan destination: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate destinations: %w", err)
	}
	return out, nil
}

const itineraryColumns = `id, title, slug, destination_id, coalesce(category_slug, ''), duration_days, total_budget, popularity_score`

// ListItineraries implements Catalog.
func (s *PostgresStore) ListItineraries(ctx context.Context) ([]model.Itinerary, error) {
	rows, err := s.db.Query(ctx, `SELECT `+itineraryColumns+` FROM itineraries ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query itineraries: %w", err)
	}
	return scanItineraries(rows)
}

func scanItineraries(rows pgx.Rows) ([]model.Itinerary, error) {
	defer rows.Close()
	out := make([]model.Itinerary, 0)
	for rows.Next() {
		var it model.Itinerary
		if err := rows.Scan(&it.ID, &it.Title, &it.Slug, &it.DestinationID, &it.CategorySlug,
			&it.DurationDays, &it.TotalBudget, &it.PopularityScore); err != nil {
			return nil, fmt.Errorf("scan itinerary: %w", err)
		}
		out = append(out, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate itineraries: %w", err)
	}
	return out, nil
}

// ListCategories implements Catalog.
func (s *PostgresStore) ListCategories(ctx context.Context) ([]model.Category, error) {
	rows, err := s.db.Query(ctx, `SELECT slug, name FROM categories ORDER BY slug`)
	if err != nil {
		return nil, fmt.Errorf("query categories: %w", err)
	}
	defer rows.Close()
	out := make([]model.Category, 0)
	for rows.Next() {
		var c model.Category
		if err := rows.Scan(&c.Slug, &c.Name); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ListCountries implements Catalog.
func (s *PostgresStore) ListCountries(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx, `SELECT DISTINCT country FROM destinations WHERE country <> '' ORDER BY country`)
	if err != nil {
		return nil, fmt.Errorf("query countries: %w", err)
	}
	defer rows.Close()
	out := make([]string, 0)
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("scan country: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpdateTrendingScores writes every score in one transaction.
func (s *PostgresStore) UpdateTrendingScores(ctx context.Context, scores map[string]float64) error {
	if len(scores) == 0 {
		return nil
	}
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin trending update: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	batch := &pgx.Batch{}
	for id, v := range scores {
		batch.Queue(`UPDATE destinations SET trending_score = $2 WHERE id = $1`, id, v)
	}
	br := tx.SendBatch(ctx, batch)
	for range scores {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fmt.Errorf("update trending score: %w", err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("close trending batch: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit trending update: %w", err)
	}
	return nil
}

// TopTrending implements TrendingStore.
func (s *PostgresStore) TopTrending(ctx context.Context, n int) ([]types.TrendingEntry, error) {
	if n < 1 {
		return nil, ErrInvalidLimit
	}
	rows, err := s.db.Query(ctx, `SELECT id, name, slug, country, trending_score FROM destinations ORDER BY trending_score DESC, id ASC LIMIT $1`, n)
	if err != nil {
		return nil, fmt.Errorf("query trending: %w", err)
	}
	dests, err := scanDestinations(rows)
	if err != nil {
		return nil, err
	}
	out := make([]types.TrendingEntry, len(dests))
	for i, d := range dests {
		out[i] = types.TrendingEntry{Rank: i + 1, DestinationID: d.ID, Name: d.Name, Slug: d.Slug, TrendingScore: d.TrendingScore}
	}
	return out, nil
}

// ActiveUsers returns users with an interaction or rating at or after since.
func (s *PostgresStore) ActiveUsers(ctx context.Context, since time.Time) ([]string, error) {
	const query = `
		SELECT user_id FROM interactions WHERE user_id IS NOT NULL AND created_at >= $1
		UNION
		SELECT user_id FROM ratings WHERE created_at >= $1
		ORDER BY 1
	`
	rows, err := s.db.Query(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("query active users: %w", err)
	}
	defer rows.Close()
	out := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// SaveRating upserts one rating per user and object.
func (s *PostgresStore) SaveRating(ctx context.Context, r model.Rating) error {
	if err := r.Validate(); err != nil {
		return err
	}
	if r.ObjectType == model.RatingItinerary {
		var exists bool
		if err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM itineraries WHERE id = $1)`, r.ObjectID).Scan(&exists); err != nil {
			return fmt.Errorf("check itinerary: %w", err)
		}
		if !exists {
			return fmt.Errorf("%w: itinerary %s", ErrNotFound, r.ObjectID)
		}
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO ratings (user_id, object_type, object_id, rating, review)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, object_type, object_id)
		DO UPDATE SET rating = $4, review = $5, created_at = now()`,
		r.UserID, r.ObjectType, r.ObjectID, r.Value, r.Review)
	if err != nil {
		return fmt.Errorf("save rating: %w", err)
	}
	return nil
}

func pageBounds(page, size int) (int, int) {
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = 10
	}
	return page, size
}

// buildDestinationPageQuery returns the filter clause shared by the count and
// page reads, the ORDER BY, and the bound args.
func buildDestinationPageQuery(q DestinationQuery) (where, order string, args []any) {
	var conds []string
	if q.Country != "" {
		args = append(args, q.Country)
		conds = append(conds, fmt.Sprintf("lower(country) = lower($%d)", len(args)))
	}
	order = "id"
	if q.Trending {
		conds = append(conds, "trending_score > 0")
		order = "trending_score DESC, id"
	}
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}
	return where, order, args
}

// DestinationPage implements ListingSource.
func (s *PostgresStore) DestinationPage(ctx context.Context, q DestinationQuery) (Page, error) {
	page, size := pageBounds(q.Page, q.PageSize)
	where, order, args := buildDestinationPageQuery(q)

	var count int
	if err := s.db.QueryRow(ctx, `SELECT count(*) FROM destinations`+where, args...).Scan(&count); err != nil {
		return Page{}, fmt.Errorf("count destinations: %w", err)
	}
	args = append(args, size, (page-1)*size)
	query := fmt.Sprintf(`SELECT id, name, slug, country, trending_score FROM destinations%s ORDER BY %s LIMIT $%d OFFSET $%d`,
		where, order, len(args)-1, len(args))
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return Page{}, fmt.Errorf("query destination page: %w", err)
	}
	dests, err := scanDestinations(rows)
	if err != nil {
		return Page{}, err
	}
	out := Page{Count: count, Page: page, PageSize: size, Results: make([]any, len(dests))}
	for i, d := range dests {
		out.Results[i] = d
	}
	return out, nil
}

// buildCategoryPageQuery mirrors buildDestinationPageQuery for itineraries.
func buildCategoryPageQuery(categorySlug string, q CategoryQuery) (where string, args []any) {
	args = []any{categorySlug}
	conds := []string{"i.category_slug = $1"}
	if q.DestinationSlug != "" {
		args = append(args, q.DestinationSlug)
		conds = append(conds, fmt.Sprintf("d.slug = $%d", len(args)))
	}
	if q.BudgetMax > 0 {
		args = append(args, q.BudgetMax)
		conds = append(conds, fmt.Sprintf("i.total_budget <= $%d", len(args)))
	}
	if q.DurationDays > 0 {
		args = append(args, q.DurationDays)
		conds = append(conds, fmt.Sprintf("i.duration_days = $%d", len(args)))
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// CategoryPage implements ListingSource.
func (s *PostgresStore) CategoryPage(ctx context.Context, categorySlug string, q CategoryQuery) (Page, error) {
	var known bool
	if err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM categories WHERE slug = $1)`, categorySlug).Scan(&known); err != nil {
		return Page{}, fmt.Errorf("check category: %w", err)
	}
	if !known {
		return Page{}, fmt.Errorf("%w: category %s", ErrNotFound, categorySlug)
	}

	page, size := pageBounds(q.Page, q.PageSize)
	where, args := buildCategoryPageQuery(categorySlug, q)
	const from = ` FROM itineraries i JOIN destinations d ON d.id = i.destination_id`

	var count int
	if err := s.db.QueryRow(ctx, `SELECT count(*)`+from+where, args...).Scan(&count); err != nil {
		return Page{}, fmt.Errorf("count itineraries: %w", err)
	}
	args = append(args, size, (page-1)*size)
	query := fmt.Sprintf(`SELECT i.id, i.title, i.slug, i.destination_id, coalesce(i.category_slug, ''), i.duration_days, i.total_budget, i.popularity_score%s%s ORDER BY i.id LIMIT $%d OFFSET $%d`,
		from, where, len(args)-1, len(args))
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return Page{}, fmt.Errorf("query category page: %w", err)
	}
	itins, err := scanItineraries(rows)
	if err != nil {
		return Page{}, err
	}
	out := Page{Count: count, Page: page, PageSize: size, Results: make([]any, len(itins))}
	for i, it := range itins {
		out.Results[i] = it
	}
	return out, nil
}
