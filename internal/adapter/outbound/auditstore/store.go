// Package auditstore persists audit.Store snapshots to a local sqlite
// database: as the audit-store builder's on-disk counterpart, a scan's
// final (or mid-scan, via AuditStore(true)) snapshot is saved
// under a scan id and can be reloaded for a future report reader.
package auditstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/fathomsec/fathom/internal/domain/audit"
	"github.com/fathomsec/fathom/internal/domain/page"
)

const schema = `
CREATE TABLE IF NOT EXISTS scans (
	id TEXT PRIMARY KEY,
	version TEXT NOT NULL,
	revision TEXT NOT NULL,
	options_json TEXT NOT NULL,
	sitemap_json TEXT NOT NULL,
	plugin_results_json TEXT NOT NULL,
	saved_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS issues (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	scan_id TEXT NOT NULL REFERENCES scans(id) ON DELETE CASCADE,
	element TEXT NOT NULL,
	name TEXT NOT NULL,
	page_url TEXT NOT NULL,
	page_json TEXT NOT NULL,
	payload_json TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_issues_scan_id ON issues(scan_id);
`

// Store is a sqlite-backed persistence adapter for audit.Store snapshots.
type Store struct {
	db *sql.DB
}

// Open creates (if needed) and opens the sqlite database at path, running
// the schema migration. A single connection is kept open, matching
// sqlite's single-writer model.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("auditstore: create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("auditstore: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("auditstore: set journal_mode: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("auditstore: migrate: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save persists store under scanID, replacing any prior snapshot saved
// under the same id.
func (s *Store) Save(ctx context.Context, scanID string, store *audit.Store) error {
	optionsJSON, err := json.Marshal(store.Options)
	if err != nil {
		return fmt.Errorf("auditstore: marshal options: %w", err)
	}
	sitemapJSON, err := json.Marshal(store.Sitemap)
	if err != nil {
		return fmt.Errorf("auditstore: marshal sitemap: %w", err)
	}
	pluginJSON, err := json.Marshal(store.PluginResults)
	if err != nil {
		return fmt.Errorf("auditstore: marshal plugin results: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("auditstore: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO scans (id, version, revision, options_json, sitemap_json, plugin_results_json, saved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			version = excluded.version,
			revision = excluded.revision,
			options_json = excluded.options_json,
			sitemap_json = excluded.sitemap_json,
			plugin_results_json = excluded.plugin_results_json,
			saved_at = excluded.saved_at
	`, scanID, store.Version, store.Revision, string(optionsJSON), string(sitemapJSON), string(pluginJSON),
		time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("auditstore: upsert scan %q: %w", scanID, err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM issues WHERE scan_id = ?", scanID); err != nil {
		return fmt.Errorf("auditstore: clear issues for %q: %w", scanID, err)
	}
	for _, issue := range store.Issues {
		pageJSON, err := json.Marshal(issue.Page)
		if err != nil {
			return fmt.Errorf("auditstore: marshal issue page: %w", err)
		}
		payloadJSON, err := json.Marshal(issue.Payload)
		if err != nil {
			return fmt.Errorf("auditstore: marshal issue payload: %w", err)
		}
		pageURL := ""
		if issue.Page != nil {
			pageURL = issue.Page.URL
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO issues (scan_id, element, name, page_url, page_json, payload_json)
			VALUES (?, ?, ?, ?, ?, ?)
		`, scanID, string(issue.Element), issue.Name, pageURL, string(pageJSON), string(payloadJSON)); err != nil {
			return fmt.Errorf("auditstore: insert issue for %q: %w", scanID, err)
		}
	}

	return tx.Commit()
}

// Load reloads the audit.Store snapshot saved under scanID. It returns
// (nil, nil) if no snapshot exists under that id.
func (s *Store) Load(ctx context.Context, scanID string) (*audit.Store, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT version, revision, options_json, sitemap_json, plugin_results_json
		FROM scans WHERE id = ?
	`, scanID)

	var store audit.Store
	var optionsJSON, sitemapJSON, pluginJSON string
	if err := row.Scan(&store.Version, &store.Revision, &optionsJSON, &sitemapJSON, &pluginJSON); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("auditstore: load scan %q: %w", scanID, err)
	}

	if err := json.Unmarshal([]byte(optionsJSON), &store.Options); err != nil {
		return nil, fmt.Errorf("auditstore: unmarshal options: %w", err)
	}
	if err := json.Unmarshal([]byte(sitemapJSON), &store.Sitemap); err != nil {
		return nil, fmt.Errorf("auditstore: unmarshal sitemap: %w", err)
	}
	if err := json.Unmarshal([]byte(pluginJSON), &store.PluginResults); err != nil {
		return nil, fmt.Errorf("auditstore: unmarshal plugin results: %w", err)
	}

	issues, err := s.loadIssues(ctx, scanID)
	if err != nil {
		return nil, err
	}
	store.Issues = issues

	return &store, nil
}

func (s *Store) loadIssues(ctx context.Context, scanID string) ([]audit.Issue, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT element, name, page_json, payload_json FROM issues WHERE scan_id = ? ORDER BY id", scanID)
	if err != nil {
		return nil, fmt.Errorf("auditstore: load issues for %q: %w", scanID, err)
	}
	defer func() { _ = rows.Close() }()

	var out []audit.Issue
	for rows.Next() {
		var rec audit.Issue
		var element, pageJSON, payloadJSON string
		if err := rows.Scan(&element, &rec.Name, &pageJSON, &payloadJSON); err != nil {
			return nil, fmt.Errorf("auditstore: scan issue row: %w", err)
		}
		rec.Element = audit.ElementKind(element)
		var p *page.Page
		if err := json.Unmarshal([]byte(pageJSON), &p); err != nil {
			return nil, fmt.Errorf("auditstore: unmarshal issue page: %w", err)
		}
		rec.Page = p
		if err := json.Unmarshal([]byte(payloadJSON), &rec.Payload); err != nil {
			return nil, fmt.Errorf("auditstore: unmarshal issue payload: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ListScanIDs returns every scan id saved to this store, most recent first.
func (s *Store) ListScanIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id FROM scans ORDER BY saved_at DESC")
	if err != nil {
		return nil, fmt.Errorf("auditstore: list scans: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("auditstore: scan row: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
