// Package sqlite implements the domain store interfaces on an embedded
// SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/gemscout/gemscout/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS search_definitions (
	id                   TEXT PRIMARY KEY,
	search_url           TEXT NOT NULL,
	label                TEXT NOT NULL,
	scan_interval_hours  INTEGER NOT NULL DEFAULT 3,
	confidence_threshold INTEGER NOT NULL DEFAULT 80,
	active               INTEGER NOT NULL DEFAULT 1,
	last_scanned_at      TIMESTAMP,
	created_at           TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS analyzed_listings (
	id          TEXT PRIMARY KEY,
	listing_id  TEXT NOT NULL UNIQUE,
	search_id   TEXT,
	confidence  INTEGER NOT NULL,
	valuable    INTEGER NOT NULL,
	analyzed_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS findings (
	id            TEXT PRIMARY KEY,
	listing_id    TEXT NOT NULL,
	listing_url   TEXT NOT NULL,
	listing_title TEXT NOT NULL,
	price         TEXT NOT NULL,
	price_amount  REAL NOT NULL DEFAULT 0,
	confidence    INTEGER NOT NULL,
	materials     TEXT NOT NULL,
	reasoning     TEXT NOT NULL,
	search_id     TEXT,
	notified      INTEGER NOT NULL DEFAULT 0,
	found_at      TIMESTAMP NOT NULL,
	expires_at    TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_findings_expires_at ON findings(expires_at);

CREATE TABLE IF NOT EXISTS manual_scans (
	id            TEXT PRIMARY KEY,
	listing_url   TEXT NOT NULL,
	listing_title TEXT NOT NULL,
	price         TEXT NOT NULL DEFAULT '',
	price_amount  REAL NOT NULL DEFAULT 0,
	confidence    INTEGER NOT NULL,
	valuable      INTEGER NOT NULL,
	materials     TEXT NOT NULL,
	reasoning     TEXT NOT NULL,
	scanned_at    TIMESTAMP NOT NULL
);
`

// Repository implements domain.Store using SQLite.
type Repository struct {
	db *sql.DB
}

// NewRepository opens (or creates) the database at path, applies the
// schema, and returns a ready repository. Use ":memory:" for tests. The
// caller should Close the repository when done.
func NewRepository(path string) (*Repository, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// The modernc driver is in-process; a single connection avoids
	// SQLITE_BUSY between the scheduler and the HTTP surface.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Repository{db: db}, nil
}

// Close closes the underlying database handle.
func (r *Repository) Close() error {
	return r.db.Close()
}

// ListSearches returns definitions in creation order.
func (r *Repository) ListSearches(ctx context.Context, activeOnly bool) ([]domain.SearchDefinition, error) {
	query := `
		SELECT id, search_url, label, scan_interval_hours, confidence_threshold,
		       active, last_scanned_at, created_at
		FROM search_definitions`
	if activeOnly {
		query += ` WHERE active = 1`
	}
	query += ` ORDER BY created_at, id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query searches: %w", err)
	}
	defer rows.Close()

	var defs []domain.SearchDefinition
	for rows.Next() {
		def, err := scanSearch(rows)
		if err != nil {
			return nil, err
		}
		defs = append(defs, *def)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate searches: %w", err)
	}
	return defs, nil
}

// GetSearch returns domain.ErrSearchNotFound for an unknown id.
func (r *Repository) GetSearch(ctx context.Context, id string) (*domain.SearchDefinition, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, search_url, label, scan_interval_hours, confidence_threshold,
		       active, last_scanned_at, created_at
		FROM search_definitions WHERE id = ?`, id)

	def, err := scanSearch(row)
	if err == sql.ErrNoRows {
		return nil, domain.ErrSearchNotFound
	}
	if err != nil {
		return nil, err
	}
	return def, nil
}

// CreateSearch inserts a definition, assigning an id and creation time
// when unset.
func (r *Repository) CreateSearch(ctx context.Context, def *domain.SearchDefinition) error {
	if def.ID == "" {
		def.ID = uuid.NewString()
	}
	if def.CreatedAt.IsZero() {
		def.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO search_definitions
			(id, search_url, label, scan_interval_hours, confidence_threshold, active, last_scanned_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		def.ID, def.SearchURL, def.Label, def.ScanIntervalHours,
		def.ConfidenceThreshold, def.Active, nullTime(def.LastScannedAt), def.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert search: %w", err)
	}
	return nil
}

// UpdateSearch rewrites the admin-owned fields of a definition.
func (r *Repository) UpdateSearch(ctx context.Context, def *domain.SearchDefinition) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE search_definitions
		SET search_url = ?, label = ?, scan_interval_hours = ?,
		    confidence_threshold = ?, active = ?
		WHERE id = ?`,
		def.SearchURL, def.Label, def.ScanIntervalHours,
		def.ConfidenceThreshold, def.Active, def.ID,
	)
	if err != nil {
		return fmt.Errorf("update search: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrSearchNotFound
	}
	return nil
}

// DeleteSearch removes a definition, reporting whether a row existed.
func (r *Repository) DeleteSearch(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM search_definitions WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete search: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// UpdateLastScanned records when a scan pass for the definition finished.
func (r *Repository) UpdateLastScanned(ctx context.Context, id string, t time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE search_definitions SET last_scanned_at = ? WHERE id = ?`, t.UTC(), id)
	if err != nil {
		return fmt.Errorf("update last scanned: %w", err)
	}
	return nil
}

// FindMarker returns (nil, nil) when the listing was never analyzed.
func (r *Repository) FindMarker(ctx context.Context, listingID string) (*domain.AnalyzedListing, error) {
	var (
		m        domain.AnalyzedListing
		searchID sql.NullString
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, listing_id, search_id, confidence, valuable, analyzed_at
		FROM analyzed_listings WHERE listing_id = ?`, listingID,
	).Scan(&m.ID, &m.ListingID, &searchID, &m.Confidence, &m.Valuable, &m.AnalyzedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query marker: %w", err)
	}
	m.SearchID = searchID.String
	return &m, nil
}

// CreateMarker inserts a dedup marker. A uniqueness violation on the
// listing identifier is reported as domain.ErrDuplicateMarker.
func (r *Repository) CreateMarker(ctx context.Context, marker *domain.AnalyzedListing) error {
	if marker.ID == "" {
		marker.ID = uuid.NewString()
	}
	if marker.AnalyzedAt.IsZero() {
		marker.AnalyzedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO analyzed_listings (id, listing_id, search_id, confidence, valuable, analyzed_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		marker.ID, marker.ListingID, nullString(marker.SearchID),
		marker.Confidence, marker.Valuable, marker.AnalyzedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDuplicateMarker
		}
		return fmt.Errorf("insert marker: %w", err)
	}
	return nil
}

// ListFindings returns non-expired findings, newest first.
func (r *Repository) ListFindings(ctx context.Context, now time.Time) ([]domain.Finding, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, listing_id, listing_url, listing_title, price, price_amount,
		       confidence, materials, reasoning, search_id, notified, found_at, expires_at
		FROM findings
		WHERE expires_at > ?
		ORDER BY found_at DESC, id DESC`, now.UTC())
	if err != nil {
		return nil, fmt.Errorf("query findings: %w", err)
	}
	defer rows.Close()

	var findings []domain.Finding
	for rows.Next() {
		var (
			f         domain.Finding
			searchID  sql.NullString
			materials string
		)
		err := rows.Scan(&f.ID, &f.ListingID, &f.ListingURL, &f.ListingTitle,
			&f.Price, &f.PriceAmount, &f.Confidence, &materials, &f.Reasoning,
			&searchID, &f.Notified, &f.FoundAt, &f.ExpiresAt)
		if err != nil {
			return nil, fmt.Errorf("scan finding: %w", err)
		}
		f.SearchID = searchID.String
		if err := json.Unmarshal([]byte(materials), &f.Materials); err != nil {
			return nil, fmt.Errorf("decode materials: %w", err)
		}
		findings = append(findings, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate findings: %w", err)
	}
	return findings, nil
}

// CreateFinding inserts a finding, assigning an id when unset.
func (r *Repository) CreateFinding(ctx context.Context, f *domain.Finding) error {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	materials, err := json.Marshal(emptyIfNil(f.Materials))
	if err != nil {
		return fmt.Errorf("encode materials: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO findings
			(id, listing_id, listing_url, listing_title, price, price_amount,
			 confidence, materials, reasoning, search_id, notified, found_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.ListingID, f.ListingURL, f.ListingTitle, f.Price, f.PriceAmount,
		f.Confidence, string(materials), f.Reasoning, nullString(f.SearchID),
		f.Notified, f.FoundAt.UTC(), f.ExpiresAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert finding: %w", err)
	}
	return nil
}

// SetNotified flips the delivery flag on a finding.
func (r *Repository) SetNotified(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE findings SET notified = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("update notified: %w", err)
	}
	return nil
}

// DeleteFinding removes a finding by id, reporting whether a row existed.
func (r *Repository) DeleteFinding(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM findings WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete finding: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// DeleteExpired removes findings whose expiry is at or before now.
func (r *Repository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM findings WHERE expires_at <= ?`, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete expired findings: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// ListManualScans returns manual scan records, newest first.
func (r *Repository) ListManualScans(ctx context.Context) ([]domain.ManualScan, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, listing_url, listing_title, price, price_amount,
		       confidence, valuable, materials, reasoning, scanned_at
		FROM manual_scans
		ORDER BY scanned_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("query manual scans: %w", err)
	}
	defer rows.Close()

	var scans []domain.ManualScan
	for rows.Next() {
		var (
			s         domain.ManualScan
			materials string
		)
		err := rows.Scan(&s.ID, &s.ListingURL, &s.ListingTitle, &s.Price,
			&s.PriceAmount, &s.Confidence, &s.Valuable, &materials,
			&s.Reasoning, &s.ScannedAt)
		if err != nil {
			return nil, fmt.Errorf("scan manual scan: %w", err)
		}
		if err := json.Unmarshal([]byte(materials), &s.Materials); err != nil {
			return nil, fmt.Errorf("decode materials: %w", err)
		}
		scans = append(scans, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate manual scans: %w", err)
	}
	return scans, nil
}

// CreateManualScan inserts a manual scan record, assigning an id when
// unset.
func (r *Repository) CreateManualScan(ctx context.Context, scan *domain.ManualScan) error {
	if scan.ID == "" {
		scan.ID = uuid.NewString()
	}
	materials, err := json.Marshal(emptyIfNil(scan.Materials))
	if err != nil {
		return fmt.Errorf("encode materials: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO manual_scans
			(id, listing_url, listing_title, price, price_amount,
			 confidence, valuable, materials, reasoning, scanned_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		scan.ID, scan.ListingURL, scan.ListingTitle, scan.Price, scan.PriceAmount,
		scan.Confidence, scan.Valuable, string(materials), scan.Reasoning,
		scan.ScannedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert manual scan: %w", err)
	}
	return nil
}

// DeleteManualScan removes a manual scan record by id.
func (r *Repository) DeleteManualScan(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM manual_scans WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete manual scan: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSearch(row rowScanner) (*domain.SearchDefinition, error) {
	var (
		def         domain.SearchDefinition
		lastScanned sql.NullTime
	)
	err := row.Scan(&def.ID, &def.SearchURL, &def.Label, &def.ScanIntervalHours,
		&def.ConfidenceThreshold, &def.Active, &lastScanned, &def.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan search: %w", err)
	}
	if lastScanned.Valid {
		t := lastScanned.Time
		def.LastScannedAt = &t
	}
	return &def, nil
}

// isUniqueViolation matches the driver's constraint message; the modernc
// driver does not export a stable error code constant for this.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
