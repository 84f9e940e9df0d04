package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/afflux/feedsync/internal/db"
	"github.com/afflux/feedsync/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the hottest store operations.
var preparedStatements = map[string]string{
	"mark_dead":    `UPDATE product_index SET is_active = false, dead_reason = $1, winner_tier = NULL, updated_at = $2 WHERE source = $3 AND external_id = $4`,
	"last_success": `SELECT started_at FROM ingest_log WHERE source = $1 AND status = 'complete' ORDER BY started_at DESC LIMIT 1`,
	"last_etag":    `SELECT etag FROM ingest_log WHERE source = $1 AND status = 'complete' ORDER BY started_at DESC LIMIT 1`,
	"start_run":    `INSERT INTO ingest_log (source, status, started_at) VALUES ($1, 'running', $2) RETURNING id`,
	"complete_run": `UPDATE ingest_log SET status = 'complete', completed_at = $1, rows_synced = $2, etag = $3, report = $4 WHERE id = $5`,
	"fail_run":     `UPDATE ingest_log SET status = 'failed', completed_at = $1, error = $2 WHERE id = $3`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Pool returns the underlying database pool for subsystems that need direct
// query access.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS product_index (
	source         TEXT NOT NULL,
	external_id    TEXT NOT NULL,
	title          TEXT NOT NULL,
	description    TEXT NOT NULL DEFAULT '',
	category_key   TEXT NOT NULL DEFAULT '',
	category_label TEXT NOT NULL DEFAULT '',
	merchant_name  TEXT NOT NULL DEFAULT '',
	merchant_id    TEXT NOT NULL DEFAULT '',
	price          DOUBLE PRECISION,
	currency       TEXT NOT NULL DEFAULT '',
	epc            DOUBLE PRECISION,
	commission     DOUBLE PRECISION,
	product_url    TEXT NOT NULL DEFAULT '',
	landing_url    TEXT NOT NULL DEFAULT '',
	image_url      TEXT NOT NULL DEFAULT '',
	canonical_url  TEXT NOT NULL DEFAULT '',
	canonical_hash TEXT NOT NULL DEFAULT '',
	price_band     TEXT NOT NULL DEFAULT '',
	quality_score  INTEGER NOT NULL DEFAULT 0,
	score          INTEGER NOT NULL DEFAULT 0,
	winner_tier    TEXT,
	is_active      BOOLEAN NOT NULL DEFAULT true,
	is_approved    BOOLEAN NOT NULL DEFAULT true,
	geo_scope      TEXT NOT NULL DEFAULT '',
	dead_reason    TEXT NOT NULL DEFAULT '',
	last_seen_at   TIMESTAMPTZ NOT NULL,
	updated_at     TIMESTAMPTZ NOT NULL,
	last_update    TIMESTAMPTZ,
	PRIMARY KEY (source, external_id)
);

CREATE TABLE IF NOT EXISTS ingest_log (
	id           BIGSERIAL PRIMARY KEY,
	source       TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'running',
	started_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at TIMESTAMPTZ,
	rows_synced  BIGINT NOT NULL DEFAULT 0,
	etag         TEXT NOT NULL DEFAULT '',
	error        TEXT,
	report       JSONB
);

CREATE INDEX IF NOT EXISTS idx_product_canonical_hash ON product_index(canonical_hash);
CREATE INDEX IF NOT EXISTS idx_product_score ON product_index(score DESC);
CREATE INDEX IF NOT EXISTS idx_product_merchant ON product_index(merchant_id, merchant_name);
CREATE INDEX IF NOT EXISTS idx_ingest_log_source ON ingest_log(source, started_at DESC);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// productColumns is the column order for the bulk upsert temp-table COPY.
var productColumns = []string{
	"source", "external_id", "title", "description", "category_key", "category_label",
	"merchant_name", "merchant_id", "price", "currency", "epc", "commission",
	"product_url", "landing_url", "image_url", "canonical_url", "canonical_hash",
	"price_band", "quality_score", "score", "winner_tier", "is_active", "is_approved",
	"geo_scope", "dead_reason", "last_seen_at", "updated_at", "last_update",
}

func productRow(p *model.Product) []any {
	return []any{
		string(p.Source), p.ExternalID, p.Title, p.Description,
		p.Category.Key, p.Category.Label, p.MerchantName, p.MerchantID,
		p.Price, p.Currency, p.EPC, p.Commission,
		p.ProductURL, p.LandingURL, p.ImageURL, p.CanonicalURL, p.CanonicalHash,
		string(p.PriceBand), p.QualityScore, p.Score, nullTier(p.WinnerTier),
		p.IsActive, p.IsApproved, p.GeoScope, p.DeadReason,
		p.LastSeenAt.UTC(), p.UpdatedAt.UTC(), nullTime(p.LastUpdate),
	}
}

// UpsertProducts bulk-writes one batch via temp-table COPY + ON CONFLICT.
func (s *PostgresStore) UpsertProducts(ctx context.Context, products []model.Product) (int64, error) {
	if len(products) == 0 {
		return 0, nil
	}

	rows := make([][]any, len(products))
	for i := range products {
		rows[i] = productRow(&products[i])
	}

	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "product_index",
		Columns:      productColumns,
		ConflictKeys: []string{"source", "external_id"},
	}, rows)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: upsert products")
	}
	return n, nil
}

func (s *PostgresStore) Search(ctx context.Context, q SearchQuery) ([]SearchResult, error) {
	query := `SELECT source, external_id, title, description, epc, category_label,
		CASE WHEN product_url != '' THEN product_url ELSE landing_url END
		FROM product_index
		WHERE is_active
		  AND (title ILIKE '%' || $1 || '%' OR description ILIKE '%' || $1 || '%' OR category_label ILIKE '%' || $1 || '%')`
	args := []any{q.Query}
	argIdx := 2

	if !q.IncludeUnapproved {
		query += ` AND is_approved`
	}
	if q.GeoScope != "" {
		query += fmt.Sprintf(` AND geo_scope = $%d`, argIdx)
		args = append(args, q.GeoScope)
		argIdx++
	}
	query += fmt.Sprintf(` ORDER BY score DESC, title ASC LIMIT $%d`, argIdx)
	args = append(args, q.Clamped())

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: search")
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		var source, externalID string
		if err := rows.Scan(&source, &externalID, &r.Title, &r.Description, &r.EPC, &r.Category, &r.URL); err != nil {
			return nil, eris.Wrap(err, "postgres: scan search row")
		}
		r.ID = source + ":" + externalID
		results = append(results, r)
	}
	return results, eris.Wrap(rows.Err(), "postgres: search iterate")
}

const (
	pgDedupByHash = `
UPDATE product_index SET is_active = false, dead_reason = 'duplicate_url', winner_tier = NULL, updated_at = $1
WHERE source || ':' || external_id IN (
	SELECT key FROM (
		SELECT source || ':' || external_id AS key,
		       ROW_NUMBER() OVER (
		           PARTITION BY canonical_hash
		           ORDER BY score DESC, title ASC, external_id ASC
		       ) AS rn
		FROM product_index
		WHERE is_active AND canonical_hash != ''
	) d WHERE rn > 1
)`

	pgRecapMerchant = `
UPDATE product_index SET winner_tier = NULL, updated_at = $1
WHERE winner_tier IS NOT NULL AND source || ':' || external_id IN (
	SELECT key FROM (
		SELECT source || ':' || external_id AS key,
		       ROW_NUMBER() OVER (
		           PARTITION BY COALESCE(NULLIF(merchant_id, ''), merchant_name)
		           ORDER BY score DESC, title ASC, external_id ASC
		       ) AS rn
		FROM product_index
		WHERE is_active AND winner_tier IS NOT NULL
	) m WHERE rn > $2
)`

	pgRecapCategory = `
UPDATE product_index SET winner_tier = NULL, updated_at = $1
WHERE winner_tier IS NOT NULL AND source || ':' || external_id IN (
	SELECT key FROM (
		SELECT source || ':' || external_id AS key,
		       ROW_NUMBER() OVER (
		           PARTITION BY category_key
		           ORDER BY score DESC, title ASC, external_id ASC
		       ) AS rn
		FROM product_index
		WHERE is_active AND winner_tier IS NOT NULL
	) c WHERE rn > $2
)`

	pgRecapGlobal = `
UPDATE product_index SET winner_tier = NULL, updated_at = $1
WHERE winner_tier IS NOT NULL AND source || ':' || external_id NOT IN (
	SELECT source || ':' || external_id FROM product_index
	WHERE is_active AND winner_tier IS NOT NULL
	ORDER BY score DESC, title ASC, external_id ASC
	LIMIT $2
)`

	pgCountWinners = `
SELECT COUNT(*) FROM product_index WHERE is_active AND winner_tier IS NOT NULL`
)

// ApplyWinnerPolicy mirrors the SQLite implementation: dedup active records
// by canonical_hash keeping the best score, then demote winners over the
// merchant, category, and global caps.
func (s *PostgresStore) ApplyWinnerPolicy(ctx context.Context, caps PolicyCaps) (*model.WinnerPolicyResult, error) {
	caps = caps.normalized()
	now := time.Now().UTC()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: begin policy tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	result := &model.WinnerPolicyResult{}

	tag, err := tx.Exec(ctx, pgDedupByHash, now)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: policy dedup")
	}
	result.Deduplicated = tag.RowsAffected()

	for _, step := range []struct {
		name string
		sql  string
		cap  int
	}{
		{"merchant recap", pgRecapMerchant, caps.MerchantCap},
		{"category recap", pgRecapCategory, caps.CategoryCap},
		{"global recap", pgRecapGlobal, caps.GlobalCap},
	} {
		tag, err := tx.Exec(ctx, step.sql, now, step.cap)
		if err != nil {
			return nil, eris.Wrapf(err, "postgres: policy %s", step.name)
		}
		result.Deactivated += tag.RowsAffected()
	}

	if err := tx.QueryRow(ctx, pgCountWinners).Scan(&result.Winners); err != nil {
		return nil, eris.Wrap(err, "postgres: policy count winners")
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "postgres: commit policy tx")
	}
	return result, nil
}

func (s *PostgresStore) MarkDead(ctx context.Context, source model.Source, externalID, reason string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE product_index SET is_active = false, dead_reason = $1, winner_tier = NULL, updated_at = $2 WHERE source = $3 AND external_id = $4`,
		reason, time.Now().UTC(), string(source), externalID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: mark dead %s:%s", source, externalID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("product not found: %s:%s", source, externalID)
	}
	return nil
}

func (s *PostgresStore) DeactivateStale(ctx context.Context, olderThan time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE product_index SET is_active = false, dead_reason = 'stale', winner_tier = NULL, updated_at = $1
		 WHERE is_active AND last_seen_at < $2`,
		time.Now().UTC(), olderThan.UTC(),
	)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: deactivate stale")
	}
	return tag.RowsAffected(), nil
}

// Ingest log

func (s *PostgresStore) LastSuccess(ctx context.Context, source model.Source) (*time.Time, error) {
	var t time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT started_at FROM ingest_log WHERE source = $1 AND status = 'complete' ORDER BY started_at DESC LIMIT 1`,
		string(source),
	).Scan(&t)
	if err != nil {
		if eris.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: last success for %s", source)
	}
	return &t, nil
}

func (s *PostgresStore) LastETag(ctx context.Context, source model.Source) (string, error) {
	var etag string
	err := s.pool.QueryRow(ctx,
		`SELECT etag FROM ingest_log WHERE source = $1 AND status = 'complete' ORDER BY started_at DESC LIMIT 1`,
		string(source),
	).Scan(&etag)
	if err != nil {
		if eris.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", eris.Wrapf(err, "postgres: last etag for %s", source)
	}
	return etag, nil
}

func (s *PostgresStore) StartRun(ctx context.Context, source model.Source) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO ingest_log (source, status, started_at) VALUES ($1, 'running', $2) RETURNING id`,
		string(source), time.Now().UTC(),
	).Scan(&id)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: start run for %s", source)
	}
	return id, nil
}

func (s *PostgresStore) CompleteRun(ctx context.Context, runID int64, report *model.SourceReport) error {
	var reportJSON []byte
	rowsSynced := int64(0)
	etag := ""
	if report != nil {
		var err error
		reportJSON, err = json.Marshal(report)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal run report")
		}
		rowsSynced = int64(report.Upserted)
		etag = report.ETag
	}

	_, err := s.pool.Exec(ctx,
		`UPDATE ingest_log SET status = 'complete', completed_at = $1, rows_synced = $2, etag = $3, report = $4 WHERE id = $5`,
		time.Now().UTC(), rowsSynced, etag, reportJSON, runID,
	)
	return eris.Wrapf(err, "postgres: complete run %d", runID)
}

func (s *PostgresStore) FailRun(ctx context.Context, runID int64, errMsg string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE ingest_log SET status = 'failed', completed_at = $1, error = $2 WHERE id = $3`,
		time.Now().UTC(), errMsg, runID,
	)
	return eris.Wrapf(err, "postgres: fail run %d", runID)
}
