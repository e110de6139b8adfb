package claims

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"coursecast/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// SQLiteConfig configures the local sqlite-backed store.
type SQLiteConfig struct {
	Path        string
	BusyTimeout time.Duration // 0 means default
}

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

// OpenSQLite opens (creating if needed) the claim database.
//
// The uniqueness constraint on (domain, course_id, section_id,
// term_key) plus a single writer connection is what makes Claim
// atomic: the insert either lands or conflicts, there is no check-
// then-insert window.
func OpenSQLite(cfg SQLiteConfig, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("claims: sqlite path is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")
	_, _ = db.Exec("PRAGMA foreign_keys = ON")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Claim(ctx context.Context, req ClaimRequest) (ClaimResult, error) {
	id := ulid.Make().String()
	now := time.Now().UnixMilli()
	u := req.Unit

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ClaimResult{}, fmt.Errorf("claims: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO claims(id, domain, course_id, course_code, course_name,
		                    section_id, section_name, term_key, term_label,
		                    link_url, sender, status, claimed_at)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(domain, course_id, section_id, term_key) DO NOTHING`,
		id, u.Domain, u.CourseID, req.CourseCode, req.CourseName,
		u.Section.Canonical(), req.SectionName, u.TermKey, req.TermLabel,
		req.LinkURL, req.Sender, string(StatusPending), now,
	)
	if err != nil {
		return ClaimResult{}, fmt.Errorf("claims: insert: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return ClaimResult{}, err
	}

	if n == 1 {
		if err := tx.Commit(); err != nil {
			return ClaimResult{}, fmt.Errorf("claims: commit: %w", err)
		}
		return ClaimResult{ID: id, AlreadyExists: false, Status: StatusPending}, nil
	}

	// Lost the race (or the unit was sent earlier): report the row the
	// winner owns.
	var (
		existingID string
		status     string
	)
	err = tx.QueryRowContext(ctx,
		`SELECT id, status FROM claims
		 WHERE domain = ? AND course_id = ? AND section_id = ? AND term_key = ?`,
		u.Domain, u.CourseID, u.Section.Canonical(), u.TermKey,
	).Scan(&existingID, &status)
	if err != nil {
		return ClaimResult{}, fmt.Errorf("claims: read existing: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return ClaimResult{}, fmt.Errorf("claims: commit: %w", err)
	}
	return ClaimResult{ID: existingID, AlreadyExists: true, Status: Status(status)}, nil
}

func (s *sqliteStore) MarkSent(ctx context.Context, id string, meta SentMeta) error {
	now := time.Now().UnixMilli()
	res, err := s.db.ExecContext(ctx,
		`UPDATE claims
		 SET status = ?, sent_at = ?, recipient_count = ?, batch_count = ?, link_url = ?
		 WHERE id = ? AND status = ?`,
		string(StatusSent), now, meta.RecipientCount, meta.BatchCount, meta.LinkURL,
		id, string(StatusPending),
	)
	if err != nil {
		return fmt.Errorf("claims: mark sent: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("claims: mark sent %s: %w", id, ErrNotPending)
	}
	return nil
}

// Release deletes a pending claim so the unit becomes claimable again.
// Sent rows are never deleted; releasing one is a no-op.
func (s *sqliteStore) Release(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM claims WHERE id = ? AND status = ?`,
		id, string(StatusPending),
	)
	if err != nil {
		return fmt.Errorf("claims: release: %w", err)
	}
	return nil
}

func (s *sqliteStore) ListSent(ctx context.Context, domain string, courseID int64, termKey string) ([]SendUnit, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT section_id FROM claims
		 WHERE domain = ? AND course_id = ? AND term_key = ? AND status = ?
		 ORDER BY section_id`,
		domain, courseID, termKey, string(StatusSent),
	)
	if err != nil {
		return nil, fmt.Errorf("claims: list sent: %w", err)
	}
	defer rows.Close()

	var units []SendUnit
	for rows.Next() {
		var sectionID int64
		if err := rows.Scan(&sectionID); err != nil {
			return nil, err
		}
		ref := Section(sectionID)
		if sectionID == 0 {
			ref = WholeCourse()
		}
		units = append(units, SendUnit{
			Domain:   domain,
			CourseID: courseID,
			Section:  ref,
			TermKey:  termKey,
		})
	}
	return units, rows.Err()
}

// ReleaseStale deletes pending claims older than the given age. It
// exists for the janitor: a daemon killed mid-run leaves its won
// claims pending forever, blocking future availability computations.
func (s *sqliteStore) ReleaseStale(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan).UnixMilli()
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM claims WHERE status = ? AND claimed_at < ?`,
		string(StatusPending), cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("claims: release stale: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}
