package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/afflux/feedsync/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS product_index (
	source         TEXT NOT NULL,
	external_id    TEXT NOT NULL,
	title          TEXT NOT NULL,
	description    TEXT NOT NULL DEFAULT '',
	category_key   TEXT NOT NULL DEFAULT '',
	category_label TEXT NOT NULL DEFAULT '',
	merchant_name  TEXT NOT NULL DEFAULT '',
	merchant_id    TEXT NOT NULL DEFAULT '',
	price          REAL,
	currency       TEXT NOT NULL DEFAULT '',
	epc            REAL,
	commission     REAL,
	product_url    TEXT NOT NULL DEFAULT '',
	landing_url    TEXT NOT NULL DEFAULT '',
	image_url      TEXT NOT NULL DEFAULT '',
	canonical_url  TEXT NOT NULL DEFAULT '',
	canonical_hash TEXT NOT NULL DEFAULT '',
	price_band     TEXT NOT NULL DEFAULT '',
	quality_score  INTEGER NOT NULL DEFAULT 0,
	score          INTEGER NOT NULL DEFAULT 0,
	winner_tier    TEXT,
	is_active      INTEGER NOT NULL DEFAULT 1,
	is_approved    INTEGER NOT NULL DEFAULT 1,
	geo_scope      TEXT NOT NULL DEFAULT '',
	dead_reason    TEXT NOT NULL DEFAULT '',
	last_seen_at   DATETIME NOT NULL,
	updated_at     DATETIME NOT NULL,
	last_update    DATETIME,
	PRIMARY KEY (source, external_id)
);

CREATE TABLE IF NOT EXISTS ingest_log (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	source       TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'running',
	started_at   DATETIME NOT NULL,
	completed_at DATETIME,
	rows_synced  INTEGER NOT NULL DEFAULT 0,
	etag         TEXT NOT NULL DEFAULT '',
	error        TEXT,
	report       TEXT
);

CREATE INDEX IF NOT EXISTS idx_product_canonical_hash ON product_index(canonical_hash);
CREATE INDEX IF NOT EXISTS idx_product_score ON product_index(score DESC);
CREATE INDEX IF NOT EXISTS idx_product_merchant ON product_index(merchant_id, merchant_name);
CREATE INDEX IF NOT EXISTS idx_ingest_log_source ON ingest_log(source, started_at DESC);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const sqliteUpsert = `
INSERT INTO product_index (
	source, external_id, title, description, category_key, category_label,
	merchant_name, merchant_id, price, currency, epc, commission,
	product_url, landing_url, image_url, canonical_url, canonical_hash,
	price_band, quality_score, score, winner_tier, is_active, is_approved,
	geo_scope, dead_reason, last_seen_at, updated_at, last_update
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(source, external_id) DO UPDATE SET
	title = excluded.title,
	description = excluded.description,
	category_key = excluded.category_key,
	category_label = excluded.category_label,
	merchant_name = excluded.merchant_name,
	merchant_id = excluded.merchant_id,
	price = excluded.price,
	currency = excluded.currency,
	epc = excluded.epc,
	commission = excluded.commission,
	product_url = excluded.product_url,
	landing_url = excluded.landing_url,
	image_url = excluded.image_url,
	canonical_url = excluded.canonical_url,
	canonical_hash = excluded.canonical_hash,
	price_band = excluded.price_band,
	quality_score = excluded.quality_score,
	score = excluded.score,
	winner_tier = excluded.winner_tier,
	is_active = excluded.is_active,
	is_approved = excluded.is_approved,
	geo_scope = excluded.geo_scope,
	dead_reason = excluded.dead_reason,
	last_seen_at = excluded.last_seen_at,
	updated_at = excluded.updated_at,
	last_update = excluded.last_update
`

// UpsertProducts writes one batch keyed on (source, external_id). Re-submitting
// the same batch has no effect beyond the timestamp columns it carries.
func (s *SQLiteStore) UpsertProducts(ctx context.Context, products []model.Product) (int64, error) {
	if len(products) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin upsert tx")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, sqliteUpsert)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare upsert")
	}
	defer stmt.Close() //nolint:errcheck

	for i := range products {
		p := &products[i]
		_, err := stmt.ExecContext(ctx,
			string(p.Source), p.ExternalID, p.Title, p.Description,
			p.Category.Key, p.Category.Label, p.MerchantName, p.MerchantID,
			p.Price, p.Currency, p.EPC, p.Commission,
			p.ProductURL, p.LandingURL, p.ImageURL, p.CanonicalURL, p.CanonicalHash,
			string(p.PriceBand), p.QualityScore, p.Score, nullTier(p.WinnerTier),
			p.IsActive, p.IsApproved, p.GeoScope, p.DeadReason,
			p.LastSeenAt.UTC(), p.UpdatedAt.UTC(), nullTime(p.LastUpdate),
		)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: upsert %s", p.ID())
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit upsert tx")
	}
	return int64(len(products)), nil
}

func (s *SQLiteStore) Search(ctx context.Context, q SearchQuery) ([]SearchResult, error) {
	query := `SELECT source, external_id, title, description, epc, category_label,
		CASE WHEN product_url != '' THEN product_url ELSE landing_url END
		FROM product_index
		WHERE is_active = 1
		  AND (title LIKE ? OR description LIKE ? OR category_label LIKE ?)`
	needle := "%" + q.Query + "%"
	args := []any{needle, needle, needle}

	if !q.IncludeUnapproved {
		query += ` AND is_approved = 1`
	}
	if q.GeoScope != "" {
		query += ` AND geo_scope = ?`
		args = append(args, q.GeoScope)
	}
	query += ` ORDER BY score DESC, title ASC LIMIT ?`
	args = append(args, q.Clamped())

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: search")
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		var source, externalID string
		if err := rows.Scan(&source, &externalID, &r.Title, &r.Description, &r.EPC, &r.Category, &r.URL); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan search row")
		}
		r.ID = source + ":" + externalID
		results = append(results, r)
	}
	return results, eris.Wrap(rows.Err(), "sqlite: search iterate")
}

// Winner policy statements. The composite key travels as source || ':' || external_id
// so each statement stays a single UPDATE over a window-ranked subquery.
const (
	sqliteDedupByHash = `
UPDATE product_index SET is_active = 0, dead_reason = 'duplicate_url', winner_tier = NULL, updated_at = ?
WHERE source || ':' || external_id IN (
	SELECT key FROM (
		SELECT source || ':' || external_id AS key,
		       ROW_NUMBER() OVER (
		           PARTITION BY canonical_hash
		           ORDER BY score DESC, title ASC, external_id ASC
		       ) AS rn
		FROM product_index
		WHERE is_active = 1 AND canonical_hash != ''
	) WHERE rn > 1
)`

	sqliteRecapMerchant = `
UPDATE product_index SET winner_tier = NULL, updated_at = ?
WHERE winner_tier IS NOT NULL AND source || ':' || external_id IN (
	SELECT key FROM (
		SELECT source || ':' || external_id AS key,
		       ROW_NUMBER() OVER (
		           PARTITION BY CASE WHEN merchant_id != '' THEN merchant_id ELSE merchant_name END
		           ORDER BY score DESC, title ASC, external_id ASC
		       ) AS rn
		FROM product_index
		WHERE is_active = 1 AND winner_tier IS NOT NULL
	) WHERE rn > ?
)`

	sqliteRecapCategory = `
UPDATE product_index SET winner_tier = NULL, updated_at = ?
WHERE winner_tier IS NOT NULL AND source || ':' || external_id IN (
	SELECT key FROM (
		SELECT source || ':' || external_id AS key,
		       ROW_NUMBER() OVER (
		           PARTITION BY category_key
		           ORDER BY score DESC, title ASC, external_id ASC
		       ) AS rn
		FROM product_index
		WHERE is_active = 1 AND winner_tier IS NOT NULL
	) WHERE rn > ?
)`

	sqliteRecapGlobal = `
UPDATE product_index SET winner_tier = NULL, updated_at = ?
WHERE winner_tier IS NOT NULL AND source || ':' || external_id NOT IN (
	SELECT source || ':' || external_id FROM product_index
	WHERE is_active = 1 AND winner_tier IS NOT NULL
	ORDER BY score DESC, title ASC, external_id ASC
	LIMIT ?
)`

	sqliteCountWinners = `
SELECT COUNT(*) FROM product_index WHERE is_active = 1 AND winner_tier IS NOT NULL`
)

// ApplyWinnerPolicy runs the cross-source pass: deactivate duplicate
// canonical URLs keeping the best-scored record, then demote winners past the
// merchant, category, and global caps. Already-upserted rows are never
// deleted; losers keep their data and lose winner status.
func (s *SQLiteStore) ApplyWinnerPolicy(ctx context.Context, caps PolicyCaps) (*model.WinnerPolicyResult, error) {
	caps = caps.normalized()
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin policy tx")
	}
	defer tx.Rollback() //nolint:errcheck

	result := &model.WinnerPolicyResult{}

	res, err := tx.ExecContext(ctx, sqliteDedupByHash, now)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: policy dedup")
	}
	result.Deduplicated, _ = res.RowsAffected()

	for _, step := range []struct {
		name string
		sql  string
		cap  int
	}{
		{"merchant recap", sqliteRecapMerchant, caps.MerchantCap},
		{"category recap", sqliteRecapCategory, caps.CategoryCap},
		{"global recap", sqliteRecapGlobal, caps.GlobalCap},
	} {
		res, err := tx.ExecContext(ctx, step.sql, now, step.cap)
		if err != nil {
			return nil, eris.Wrapf(err, "sqlite: policy %s", step.name)
		}
		n, _ := res.RowsAffected()
		result.Deactivated += n
	}

	if err := tx.QueryRowContext(ctx, sqliteCountWinners).Scan(&result.Winners); err != nil {
		return nil, eris.Wrap(err, "sqlite: policy count winners")
	}

	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: commit policy tx")
	}
	return result, nil
}

func (s *SQLiteStore) MarkDead(ctx context.Context, source model.Source, externalID, reason string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE product_index SET is_active = 0, dead_reason = ?, winner_tier = NULL, updated_at = ?
		 WHERE source = ? AND external_id = ?`,
		reason, time.Now().UTC(), string(source), externalID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: mark dead %s:%s", source, externalID)
	}
	return checkRowsAffected(res, "product", string(source)+":"+externalID)
}

func (s *SQLiteStore) DeactivateStale(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE product_index SET is_active = 0, dead_reason = 'stale', winner_tier = NULL, updated_at = ?
		 WHERE is_active = 1 AND last_seen_at < ?`,
		time.Now().UTC(), olderThan.UTC(),
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: deactivate stale")
	}
	n, err := res.RowsAffected()
	return n, eris.Wrap(err, "sqlite: rows affected")
}

// Ingest log

func (s *SQLiteStore) LastSuccess(ctx context.Context, source model.Source) (*time.Time, error) {
	var t time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT started_at FROM ingest_log
		 WHERE source = ? AND status = 'complete'
		 ORDER BY started_at DESC LIMIT 1`,
		string(source),
	).Scan(&t)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: last success for %s", source)
	}
	return &t, nil
}

func (s *SQLiteStore) LastETag(ctx context.Context, source model.Source) (string, error) {
	var etag string
	err := s.db.QueryRowContext(ctx,
		`SELECT etag FROM ingest_log
		 WHERE source = ? AND status = 'complete'
		 ORDER BY started_at DESC LIMIT 1`,
		string(source),
	).Scan(&etag)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", eris.Wrapf(err, "sqlite: last etag for %s", source)
	}
	return etag, nil
}

func (s *SQLiteStore) StartRun(ctx context.Context, source model.Source) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO ingest_log (source, status, started_at) VALUES (?, 'running', ?)`,
		string(source), time.Now().UTC(),
	)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: start run for %s", source)
	}
	id, err := res.LastInsertId()
	return id, eris.Wrap(err, "sqlite: last insert id")
}

func (s *SQLiteStore) CompleteRun(ctx context.Context, runID int64, report *model.SourceReport) error {
	var reportJSON []byte
	rowsSynced := int64(0)
	etag := ""
	if report != nil {
		var err error
		reportJSON, err = json.Marshal(report)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal run report")
		}
		rowsSynced = int64(report.Upserted)
		etag = report.ETag
	}

	_, err := s.db.ExecContext(ctx,
		`UPDATE ingest_log SET status = 'complete', completed_at = ?, rows_synced = ?, etag = ?, report = ? WHERE id = ?`,
		time.Now().UTC(), rowsSynced, etag, string(reportJSON), runID,
	)
	return eris.Wrapf(err, "sqlite: complete run %d", runID)
}

func (s *SQLiteStore) FailRun(ctx context.Context, runID int64, errMsg string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE ingest_log SET status = 'failed', completed_at = ?, error = ? WHERE id = ?`,
		time.Now().UTC(), errMsg, runID,
	)
	return eris.Wrapf(err, "sqlite: fail run %d", runID)
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

func nullTier(t model.WinnerTier) any {
	if t == "" {
		return nil
	}
	return string(t)
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
