// Package store persists documents, analyte results and their series in
// SQLite. Series names are additionally indexed in an FTS5 table and,
// when embeddings are available, in a sqlite-vec virtual table for fuzzy
// series lookup.
package store

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
)

func init() {
	// Registers the vec0 extension on every new sqlite3 connection.
	sqlite_vec.Auto()
}

// ErrNotFound is returned when a lookup matches nothing.
var ErrNotFound = errors.New("store: not found")

// Document is one imported report file.
type Document struct {
	ID            int64
	ContentHash   string
	Filename      string
	Format        string
	PatientID     string
	ParseMethod   string
	Status        string
	TriggeredBy   string
	OCRError      string
	Metrics       string
	TakenAt       time.Time
	TakenAtSource string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Series is the longitudinal identity shared by results across documents.
type Series struct {
	ID          int64
	SeriesKey   string
	AnalyteName string
	Specimen    string
	Unit        string
	Section     string
}

// Result is one persisted measurement.
type Result struct {
	ID            int64
	DocumentID    int64
	SeriesID      int64
	SeriesKey     string
	AnalyteName   string
	Value         *float64
	ValueText     string
	ValueOperator string
	ValueKey      string
	Unit          string
	RefRange      string
	RefMin        *float64
	RefMax        *float64
	RefType       string
	RefBands      string
	Specimen      string
	Section       string
	Method        string
	Page          int
	TakenAt       time.Time
	TakenAtSource string
	DerivedStage  string
	RawFragment   string
}

// SeriesPoint is one value on a series timeline.
type SeriesPoint struct {
	ResultID   int64
	DocumentID int64
	Value      *float64
	ValueText  string
	Unit       string
	TakenAt    time.Time
	RefMin     *float64
	RefMax     *float64
}

// SeriesMatch is a search hit with its relevance score.
type SeriesMatch struct {
	Series Series
	Score  float64
}

// DBStats summarizes table sizes for diagnostics.
type DBStats struct {
	Documents  int64
	Results    int64
	Series     int64
	Embeddings int64
}

// Store wraps the SQLite handle.
type Store struct {
	db   *sql.DB
	path string
}

// New opens (creating if needed) the database at path and applies the
// schema and migrations.
func New(ctx context.Context, path string, embeddingDim int) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	dsn := path + "?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=30000"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	if _, err := db.ExecContext(ctx, schemaSQL(embeddingDim)); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	s := &Store{db: db, path: path}
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// DB exposes the raw handle for diagnostics.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Close() error { return s.db.Close() }

// ---------------------------------------------------------------------------
// Documents
// ---------------------------------------------------------------------------

// UpsertDocument inserts a document or refreshes the mutable fields of
// the row with the same content hash. Returns the document ID.
func (s *Store) UpsertDocument(ctx context.Context, d *Document) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (content_hash, filename, format, patient_id, parse_method,
		                       status, triggered_by, ocr_error, metrics, taken_at, taken_at_source)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(content_hash) DO UPDATE SET
			filename = excluded.filename,
			patient_id = excluded.patient_id,
			parse_method = excluded.parse_method,
			status = excluded.status,
			triggered_by = excluded.triggered_by,
			ocr_error = excluded.ocr_error,
			metrics = excluded.metrics,
			taken_at = excluded.taken_at,
			taken_at_source = excluded.taken_at_source,
			updated_at = CURRENT_TIMESTAMP`,
		d.ContentHash, d.Filename, d.Format, d.PatientID, d.ParseMethod,
		d.Status, d.TriggeredBy, d.OCRError, d.Metrics, nullTime(d.TakenAt), d.TakenAtSource)
	if err != nil {
		return 0, fmt.Errorf("upserting document: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil || id == 0 {
		// The conflict path reports no insert id; re-select by hash.
		row := s.db.QueryRowContext(ctx,
			"SELECT id FROM documents WHERE content_hash = ?", d.ContentHash)
		if err := row.Scan(&id); err != nil {
			return 0, fmt.Errorf("resolving document id: %w", err)
		}
	}
	return id, nil
}

// GetDocumentByHash finds a document by its content hash.
func (s *Store) GetDocumentByHash(ctx context.Context, hash string) (*Document, error) {
	return s.getDocument(ctx, "content_hash = ?", hash)
}

// GetDocument finds a document by ID.
func (s *Store) GetDocument(ctx context.Context, id int64) (*Document, error) {
	return s.getDocument(ctx, "id = ?", id)
}

func (s *Store) getDocument(ctx context.Context, where string, arg any) (*Document, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, content_hash, filename, format, patient_id, parse_method, status,
		       triggered_by, ocr_error, metrics, taken_at, taken_at_source, created_at, updated_at
		FROM documents WHERE `+where, arg)

	var d Document
	var takenAt sql.NullTime
	err := row.Scan(&d.ID, &d.ContentHash, &d.Filename, &d.Format, &d.PatientID,
		&d.ParseMethod, &d.Status, &d.TriggeredBy, &d.OCRError, &d.Metrics,
		&takenAt, &d.TakenAtSource, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning document: %w", err)
	}
	d.TakenAt = takenAt.Time
	return &d, nil
}

// ListDocuments returns all documents, newest first.
func (s *Store) ListDocuments(ctx context.Context) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, content_hash, filename, format, patient_id, parse_method, status,
		       triggered_by, ocr_error, metrics, taken_at, taken_at_source, created_at, updated_at
		FROM documents ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var d Document
		var takenAt sql.NullTime
		if err := rows.Scan(&d.ID, &d.ContentHash, &d.Filename, &d.Format, &d.PatientID,
			&d.ParseMethod, &d.Status, &d.TriggeredBy, &d.OCRError, &d.Metrics,
			&takenAt, &d.TakenAtSource, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning document: %w", err)
		}
		d.TakenAt = takenAt.Time
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// UpdateDocumentStatus sets the status field of a document.
func (s *Store) UpdateDocumentStatus(ctx context.Context, id int64, status string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE documents SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?",
		status, id)
	if err != nil {
		return fmt.Errorf("updating document status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteDocument removes a document and, through the cascade, its
// results. Series rows left without results are pruned too.
func (s *Store) DeleteDocument(ctx context.Context, id int64) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, "DELETE FROM documents WHERE id = ?", id)
		if err != nil {
			return fmt.Errorf("deleting document: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return pruneOrphanSeries(ctx, tx)
	})
}

// DeleteDocumentResults clears a document's results ahead of a forced
// re-import.
func (s *Store) DeleteDocumentResults(ctx context.Context, id int64) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM results WHERE document_id = ?", id); err != nil {
			return fmt.Errorf("deleting results: %w", err)
		}
		return pruneOrphanSeries(ctx, tx)
	})
}

func pruneOrphanSeries(ctx context.Context, tx *sql.Tx) error {
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM vec_series WHERE series_id NOT IN (SELECT DISTINCT series_id FROM results)`); err != nil {
		return fmt.Errorf("pruning series embeddings: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM series WHERE id NOT IN (SELECT DISTINCT series_id FROM results)`); err != nil {
		return fmt.Errorf("pruning series: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Results and series
// ---------------------------------------------------------------------------

// InsertResults stores results for a document, creating series rows as
// needed. Inserts are idempotent: a row identical in series, value and
// reference bounds to an existing one is skipped. Returns the number of
// rows actually inserted.
func (s *Store) InsertResults(ctx context.Context, documentID int64, results []Result) (int, error) {
	inserted := 0
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		seriesIDs := map[string]int64{}
		for i := range results {
			r := &results[i]
			sid, ok := seriesIDs[r.SeriesKey]
			if !ok {
				var err error
				sid, err = upsertSeries(ctx, tx, r)
				if err != nil {
					return err
				}
				seriesIDs[r.SeriesKey] = sid
			}

			res, err := tx.ExecContext(ctx, `
				INSERT OR IGNORE INTO results (
					document_id, series_id, series_key, analyte_name,
					value, value_text, value_operator, value_key,
					unit, ref_range, ref_min, ref_max, ref_type, ref_bands,
					specimen, section, method, page,
					taken_at, taken_at_source, derived_stage, raw_fragment)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				documentID, sid, r.SeriesKey, r.AnalyteName,
				nullFloat(r.Value), r.ValueText, r.ValueOperator, r.ValueKey,
				r.Unit, r.RefRange, nullFloat(r.RefMin), nullFloat(r.RefMax), r.RefType, r.RefBands,
				r.Specimen, r.Section, r.Method, r.Page,
				nullTime(r.TakenAt), r.TakenAtSource, r.DerivedStage, r.RawFragment)
			if err != nil {
				return fmt.Errorf("inserting result %s: %w", r.AnalyteName, err)
			}
			if n, _ := res.RowsAffected(); n > 0 {
				inserted++
			}
		}
		return nil
	})
	return inserted, err
}

func upsertSeries(ctx context.Context, tx *sql.Tx, r *Result) (int64, error) {
	res, err := tx.ExecContext(ctx, `
		INSERT INTO series (series_key, analyte_name, specimen, unit, section)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(series_key) DO NOTHING`,
		r.SeriesKey, r.AnalyteName, r.Specimen, r.Unit, r.Section)
	if err != nil {
		return 0, fmt.Errorf("upserting series: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		if id, err := res.LastInsertId(); err == nil && id != 0 {
			return id, nil
		}
	}
	var id int64
	row := tx.QueryRowContext(ctx, "SELECT id FROM series WHERE series_key = ?", r.SeriesKey)
	if err := row.Scan(&id); err != nil {
		return 0, fmt.Errorf("resolving series id: %w", err)
	}
	return id, nil
}

// ListSeries returns every series ordered by analyte name.
func (s *Store) ListSeries(ctx context.Context) ([]Series, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, series_key, analyte_name, specimen, unit, section
		FROM series ORDER BY analyte_name, series_key`)
	if err != nil {
		return nil, fmt.Errorf("listing series: %w", err)
	}
	defer rows.Close()
	return scanSeriesRows(rows)
}

// GetSeriesByKey finds a series by its key.
func (s *Store) GetSeriesByKey(ctx context.Context, key string) (*Series, error) {
	var sr Series
	row := s.db.QueryRowContext(ctx, `
		SELECT id, series_key, analyte_name, specimen, unit, section
		FROM series WHERE series_key = ?`, key)
	err := row.Scan(&sr.ID, &sr.SeriesKey, &sr.AnalyteName, &sr.Specimen, &sr.Unit, &sr.Section)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning series: %w", err)
	}
	return &sr, nil
}

// SeriesPoints returns a series timeline ordered by draw date, undated
// points last.
func (s *Store) SeriesPoints(ctx context.Context, seriesKey string) ([]SeriesPoint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, value, value_text, unit, taken_at, ref_min, ref_max
		FROM results
		WHERE series_key = ?
		ORDER BY taken_at IS NULL, taken_at, id`, seriesKey)
	if err != nil {
		return nil, fmt.Errorf("querying series points: %w", err)
	}
	defer rows.Close()

	var points []SeriesPoint
	for rows.Next() {
		var p SeriesPoint
		var value, refMin, refMax sql.NullFloat64
		var takenAt sql.NullTime
		if err := rows.Scan(&p.ResultID, &p.DocumentID, &value, &p.ValueText, &p.Unit,
			&takenAt, &refMin, &refMax); err != nil {
			return nil, fmt.Errorf("scanning series point: %w", err)
		}
		if value.Valid {
			p.Value = &value.Float64
		}
		if refMin.Valid {
			p.RefMin = &refMin.Float64
		}
		if refMax.Valid {
			p.RefMax = &refMax.Float64
		}
		p.TakenAt = takenAt.Time
		points = append(points, p)
	}
	return points, rows.Err()
}

// DocumentResults returns all results of one document in insert order.
func (s *Store) DocumentResults(ctx context.Context, documentID int64) ([]Result, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, series_id, series_key, analyte_name,
		       value, value_text, value_operator, value_key,
		       unit, ref_range, ref_min, ref_max, ref_type, ref_bands,
		       specimen, section, method, page,
		       taken_at, taken_at_source, derived_stage, raw_fragment
		FROM results WHERE document_id = ? ORDER BY id`, documentID)
	if err != nil {
		return nil, fmt.Errorf("querying document results: %w", err)
	}
	defer rows.Close()

	var out []Result
	for rows.Next() {
		var r Result
		var value, refMin, refMax sql.NullFloat64
		var takenAt sql.NullTime
		if err := rows.Scan(&r.ID, &r.DocumentID, &r.SeriesID, &r.SeriesKey, &r.AnalyteName,
			&value, &r.ValueText, &r.ValueOperator, &r.ValueKey,
			&r.Unit, &r.RefRange, &refMin, &refMax, &r.RefType, &r.RefBands,
			&r.Specimen, &r.Section, &r.Method, &r.Page,
			&takenAt, &r.TakenAtSource, &r.DerivedStage, &r.RawFragment); err != nil {
			return nil, fmt.Errorf("scanning result: %w", err)
		}
		if value.Valid {
			r.Value = &value.Float64
		}
		if refMin.Valid {
			r.RefMin = &refMin.Float64
		}
		if refMax.Valid {
			r.RefMax = &refMax.Float64
		}
		r.TakenAt = takenAt.Time
		out = append(out, r)
	}
	return out, rows.Err()
}

// ---------------------------------------------------------------------------
// Series search
// ---------------------------------------------------------------------------

// InsertSeriesEmbedding stores the embedding of a series name.
func (s *Store) InsertSeriesEmbedding(ctx context.Context, seriesID int64, embedding []float32) error {
	blob, err := serializeFloat32(embedding)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO vec_series (series_id, embedding) VALUES (?, ?)",
		seriesID, blob)
	if err != nil {
		return fmt.Errorf("inserting series embedding: %w", err)
	}
	return nil
}

// SeriesWithoutEmbedding lists series that have no vector yet.
func (s *Store) SeriesWithoutEmbedding(ctx context.Context) ([]Series, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, series_key, analyte_name, specimen, unit, section
		FROM series WHERE id NOT IN (SELECT series_id FROM vec_series)`)
	if err != nil {
		return nil, fmt.Errorf("listing unembedded series: %w", err)
	}
	defer rows.Close()
	return scanSeriesRows(rows)
}

// SearchSeriesByEmbedding runs a k-nearest-neighbors query over series
// embeddings. Scores are 1 - distance, larger is closer.
func (s *Store) SearchSeriesByEmbedding(ctx context.Context, embedding []float32, k int) ([]SeriesMatch, error) {
	blob, err := serializeFloat32(embedding)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT sr.id, sr.series_key, sr.analyte_name, sr.specimen, sr.unit, sr.section,
		       v.distance
		FROM vec_series v
		JOIN series sr ON sr.id = v.series_id
		WHERE v.embedding MATCH ? AND k = ?
		ORDER BY v.distance`, blob, k)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	defer rows.Close()

	var out []SeriesMatch
	for rows.Next() {
		var m SeriesMatch
		var distance float64
		if err := rows.Scan(&m.Series.ID, &m.Series.SeriesKey, &m.Series.AnalyteName,
			&m.Series.Specimen, &m.Series.Unit, &m.Series.Section, &distance); err != nil {
			return nil, fmt.Errorf("scanning match: %w", err)
		}
		m.Score = 1 - distance
		out = append(out, m)
	}
	return out, rows.Err()
}

// SearchSeriesFTS matches series names with full-text search. FTS5 ranks
// with a negative bm25 score, negated here so larger is better.
func (s *Store) SearchSeriesFTS(ctx context.Context, query string, k int) ([]SeriesMatch, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT sr.id, sr.series_key, sr.analyte_name, sr.specimen, sr.unit, sr.section,
		       series_fts.rank
		FROM series_fts
		JOIN series sr ON sr.id = series_fts.rowid
		WHERE series_fts MATCH ?
		ORDER BY series_fts.rank
		LIMIT ?`, ftsQuote(query), k)
	if err != nil {
		return nil, fmt.Errorf("fts search: %w", err)
	}
	defer rows.Close()

	var out []SeriesMatch
	for rows.Next() {
		var m SeriesMatch
		var rank float64
		if err := rows.Scan(&m.Series.ID, &m.Series.SeriesKey, &m.Series.AnalyteName,
			&m.Series.Specimen, &m.Series.Unit, &m.Series.Section, &rank); err != nil {
			return nil, fmt.Errorf("scanning match: %w", err)
		}
		m.Score = -rank
		out = append(out, m)
	}
	return out, rows.Err()
}

// ftsQuote wraps each term in quotes so user input cannot inject FTS5
// query syntax.
func ftsQuote(query string) string {
	terms := strings.Fields(query)
	for i, t := range terms {
		terms[i] = `"` + strings.ReplaceAll(t, `"`, ``) + `"`
	}
	return strings.Join(terms, " ")
}

// Stats reports table sizes.
func (s *Store) Stats(ctx context.Context) (DBStats, error) {
	var st DBStats
	for _, q := range []struct {
		sql  string
		dest *int64
	}{
		{"SELECT COUNT(*) FROM documents", &st.Documents},
		{"SELECT COUNT(*) FROM results", &st.Results},
		{"SELECT COUNT(*) FROM series", &st.Series},
		{"SELECT COUNT(*) FROM vec_series", &st.Embeddings},
	} {
		if err := s.db.QueryRowContext(ctx, q.sql).Scan(q.dest); err != nil {
			return st, fmt.Errorf("collecting stats: %w", err)
		}
	}
	return st, nil
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func scanSeriesRows(rows *sql.Rows) ([]Series, error) {
	var out []Series
	for rows.Next() {
		var sr Series
		if err := rows.Scan(&sr.ID, &sr.SeriesKey, &sr.AnalyteName, &sr.Specimen, &sr.Unit, &sr.Section); err != nil {
			return nil, fmt.Errorf("scanning series: %w", err)
		}
		out = append(out, sr)
	}
	return out, rows.Err()
}

func nullFloat(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}

// serializeFloat32 encodes a vector in the little-endian layout vec0
// expects.
func serializeFloat32(vector []float32) ([]byte, error) {
	buf := new(bytes.Buffer)
	for _, v := range vector {
		if err := binary.Write(buf, binary.LittleEndian, math.Float32bits(v)); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}
