package store

import "fmt"

// schemaSQL returns the base DDL. The embedding dimension is baked into
// the vec0 virtual table, so it must match the configured embedding model.
func schemaSQL(embeddingDim int) string {
	return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS documents (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	content_hash    TEXT NOT NULL UNIQUE,
	filename        TEXT NOT NULL DEFAULT '',
	format          TEXT NOT NULL DEFAULT 'pdf',
	patient_id      TEXT NOT NULL DEFAULT '',
	parse_method    TEXT NOT NULL DEFAULT '',
	status          TEXT NOT NULL DEFAULT 'pending',
	triggered_by    TEXT NOT NULL DEFAULT '',
	ocr_error       TEXT NOT NULL DEFAULT '',
	metrics         TEXT NOT NULL DEFAULT '{}',
	taken_at        DATETIME,
	taken_at_source TEXT NOT NULL DEFAULT '',
	created_at      DATETIME DEFAULT CURRENT_TIMESTAMP,
	updated_at      DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS series (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	series_key   TEXT NOT NULL UNIQUE,
	analyte_name TEXT NOT NULL,
	specimen     TEXT NOT NULL DEFAULT '',
	unit         TEXT NOT NULL DEFAULT '',
	section      TEXT NOT NULL DEFAULT '',
	created_at   DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS results (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	document_id     INTEGER NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	series_id       INTEGER NOT NULL REFERENCES series(id),
	series_key      TEXT NOT NULL,
	analyte_name    TEXT NOT NULL,
	value           REAL,
	value_text      TEXT NOT NULL DEFAULT '',
	value_operator  TEXT NOT NULL DEFAULT '',
	value_key       TEXT NOT NULL,
	unit            TEXT NOT NULL DEFAULT '',
	ref_range       TEXT NOT NULL DEFAULT '',
	ref_min         REAL,
	ref_max         REAL,
	ref_type        TEXT NOT NULL DEFAULT '',
	ref_bands       TEXT NOT NULL DEFAULT '',
	specimen        TEXT NOT NULL DEFAULT '',
	section         TEXT NOT NULL DEFAULT '',
	method          TEXT NOT NULL DEFAULT '',
	page            INTEGER NOT NULL DEFAULT 0,
	taken_at        DATETIME,
	taken_at_source TEXT NOT NULL DEFAULT '',
	derived_stage   TEXT NOT NULL DEFAULT '',
	raw_fragment    TEXT NOT NULL DEFAULT '',
	created_at      DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_results_identity
	ON results(document_id, series_key, value_key, IFNULL(ref_min, ''), IFNULL(ref_max, ''));

CREATE INDEX IF NOT EXISTS idx_results_series ON results(series_id, taken_at);
CREATE INDEX IF NOT EXISTS idx_results_document ON results(document_id);

CREATE VIRTUAL TABLE IF NOT EXISTS vec_series USING vec0(
	series_id INTEGER PRIMARY KEY,
	embedding FLOAT[%d]
);

CREATE VIRTUAL TABLE IF NOT EXISTS series_fts USING fts5(
	analyte_name,
	section,
	content='series',
	content_rowid='id',
	tokenize='unicode61'
);

CREATE TRIGGER IF NOT EXISTS series_fts_insert AFTER INSERT ON series BEGIN
	INSERT INTO series_fts(rowid, analyte_name, section)
	VALUES (new.id, new.analyte_name, new.section);
END;

CREATE TRIGGER IF NOT EXISTS series_fts_delete AFTER DELETE ON series BEGIN
	INSERT INTO series_fts(series_fts, rowid, analyte_name, section)
	VALUES ('delete', old.id, old.analyte_name, old.section);
END;
`, embeddingDim)
}
