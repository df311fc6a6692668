package store

import (
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/pbaille/jot/internal/domain"
)

//go:embed schema.sql
var schema string

// Store handles database operations
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// New opens (creating if needed) the database at dbPath and applies the schema.
func New(dbPath string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL", dbPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks that the database answers.
func (s *Store) Ping() error {
	return s.db.Ping()
}

const entryColumns = `e.seq, e.id, e.created_at, e.updated_at, e.type, e.title, e.body,
	e.confidence, e.priority, e.due_date, e.completed_at, e.project_id, e.source,
	e.raw_input, e.document_path, e.needs_reclassification`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner, extra ...any) (*domain.Entry, error) {
	var (
		e                                     domain.Entry
		body, priority, dueDate, project, doc sql.NullString
		completedAt                           sql.NullTime
		entryType                             string
	)

	dest := []any{
		&e.Seq, &e.ID, &e.CreatedAt, &e.UpdatedAt, &entryType, &e.Title, &body,
		&e.Confidence, &priority, &dueDate, &completedAt, &project, &e.Source,
		&e.RawInput, &doc, &e.NeedsReclassification,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}

	e.Type = domain.EntryType(entryType)
	e.Body = body.String
	e.Priority = domain.Priority(priority.String)
	e.DueDate = dueDate.String
	e.Project = project.String
	e.DocumentPath = doc.String
	if completedAt.Valid {
		t := completedAt.Time
		e.CompletedAt = &t
	}
	return &e, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// InsertEntry stores e together with its project, tag and person links in one
// transaction. Inserting an id twice fails with ErrDuplicateEntry and leaves
// the stored entry untouched.
func (s *Store) InsertEntry(e *domain.Entry) error {
	if !e.Type.Valid() {
		return &ConstraintError{Op: "insert entry", Err: fmt.Errorf("%w: %q", ErrInvalidType, e.Type)}
	}
	if e.Confidence < 0 || e.Confidence > 1 {
		return &ConstraintError{Op: "insert entry", Err: fmt.Errorf("confidence %v outside [0,1]", e.Confidence)}
	}

	now := s.now().UTC()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = now
	if e.Source == "" {
		e.Source = domain.DefaultSource
	}
	e.Project = domain.Slugify(e.Project)
	e.Tags = normalizeTags(e.Tags)
	e.People = normalizePeople(e.People)

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin insert entry: %w", err)
	}
	defer tx.Rollback()

	if e.Project != "" {
		_, err := tx.Exec(`
			INSERT INTO projects (id, name, created_at, updated_at) VALUES (?, ?, ?, ?)
			ON CONFLICT(id) DO NOTHING`,
			e.Project, domain.NameFromSlug(e.Project), now, now,
		)
		if err != nil {
			return wrapErr("upsert project", err)
		}
	}

	res, err := tx.Exec(`
		INSERT INTO entries (
			id, created_at, updated_at, type, title, body, confidence, priority,
			due_date, project_id, source, raw_input, document_path, needs_reclassification
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.CreatedAt.UTC(), e.UpdatedAt, string(e.Type), e.Title, nullString(e.Body),
		e.Confidence, nullString(string(e.Priority)), nullString(e.DueDate),
		nullString(e.Project), e.Source, e.RawInput, nullString(e.DocumentPath),
		e.NeedsReclassification,
	)
	if err != nil {
		return wrapErr("insert entry", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("insert entry: %w", err)
	}

	for _, name := range e.Tags {
		if _, err := tx.Exec("INSERT OR IGNORE INTO tags (name) VALUES (?)", name); err != nil {
			return wrapErr("insert tag", err)
		}
		_, err := tx.Exec(`
			INSERT OR IGNORE INTO entry_tags (entry_id, tag_id)
			SELECT ?, id FROM tags WHERE name = ?`,
			e.ID, name,
		)
		if err != nil {
			return wrapErr("link entry tag", err)
		}
	}

	for _, slug := range e.People {
		_, err := tx.Exec(`
			INSERT INTO people (id, name, created_at, updated_at) VALUES (?, ?, ?, ?)
			ON CONFLICT(id) DO NOTHING`,
			slug, domain.NameFromSlug(slug), now, now,
		)
		if err != nil {
			return wrapErr("upsert person", err)
		}
		_, err = tx.Exec(
			"INSERT OR IGNORE INTO entry_people (entry_id, person_id) VALUES (?, ?)",
			e.ID, slug,
		)
		if err != nil {
			return wrapErr("link entry person", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return wrapErr("commit insert entry", err)
	}
	e.Seq = seq
	return nil
}

func normalizeTags(tags []string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, t := range tags {
		n := domain.NormalizeTag(t)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

func normalizePeople(people []string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, p := range people {
		slug := domain.Slugify(strings.TrimPrefix(strings.TrimSpace(p), "@"))
		if slug == "" || seen[slug] {
			continue
		}
		seen[slug] = true
		out = append(out, slug)
	}
	return out
}

// GetEntry retrieves an entry by ID with its tags and people
func (s *Store) GetEntry(id string) (*domain.Entry, error) {
	row := s.db.QueryRow("SELECT "+entryColumns+" FROM entries e WHERE e.id = ?", id)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get entry %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get entry: %w", err)
	}

	if err := s.loadLinks(entry); err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *Store) loadLinks(e *domain.Entry) error {
	tags, err := s.queryStrings(`
		SELECT t.name FROM tags t
		JOIN entry_tags et ON t.id = et.tag_id
		WHERE et.entry_id = ? ORDER BY t.name`, e.ID)
	if err != nil {
		return fmt.Errorf("get entry tags: %w", err)
	}
	people, err := s.queryStrings(`
		SELECT person_id FROM entry_people WHERE entry_id = ? ORDER BY person_id`, e.ID)
	if err != nil {
		return fmt.Errorf("get entry people: %w", err)
	}
	e.Tags = tags
	e.People = people
	return nil
}

func (s *Store) queryStrings(query string, args ...any) ([]string, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// Resolve turns a human reference into an entry id. A reference is a full id,
// a sequence number, or a unique id prefix.
func (s *Store) Resolve(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", fmt.Errorf("resolve: %w", ErrNotFound)
	}

	var id string
	err := s.db.QueryRow("SELECT id FROM entries WHERE id = ?", ref).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("resolve: %w", err)
	}

	if seq, perr := strconv.ParseInt(ref, 10, 64); perr == nil {
		err := s.db.QueryRow("SELECT id FROM entries WHERE seq = ?", seq).Scan(&id)
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("resolve: %w", err)
		}
	}

	ids, err := s.queryStrings("SELECT id FROM entries WHERE id LIKE ? ESCAPE '\\' LIMIT 2", escapeLike(ref)+"%")
	if err != nil {
		return "", fmt.Errorf("resolve: %w", err)
	}
	switch len(ids) {
	case 0:
		return "", fmt.Errorf("resolve %s: %w", ref, ErrNotFound)
	case 1:
		return ids[0], nil
	default:
		return "", fmt.Errorf("resolve %s: %w", ref, ErrAmbiguousRef)
	}
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// ListFilter narrows ListEntries. Completed tasks are hidden unless All is set.
type ListFilter struct {
	Type    domain.EntryType
	Project string
	All     bool
	Limit   int
}

// ListEntries returns entries matching f, newest first
func (s *Store) ListEntries(f ListFilter) ([]domain.Entry, error) {
	query := "SELECT " + entryColumns + " FROM entries e WHERE 1=1"
	var args []any

	if f.Type != "" {
		query += " AND e.type = ?"
		args = append(args, string(f.Type))
	}
	if f.Project != "" {
		query += " AND e.project_id = ?"
		args = append(args, domain.Slugify(f.Project))
	}
	if !f.All {
		query += " AND (e.completed_at IS NULL OR e.type != 'task')"
	}

	query += " ORDER BY e.created_at DESC, e.seq DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	return s.queryEntries("list entries", query, args...)
}

// PendingReview returns entries awaiting a human retype, newest first.
func (s *Store) PendingReview() ([]domain.Entry, error) {
	return s.queryEntries("pending review",
		"SELECT "+entryColumns+" FROM entries e WHERE e.needs_reclassification = 1 ORDER BY e.created_at DESC, e.seq DESC")
}

func (s *Store) queryEntries(op, query string, args ...any) ([]domain.Entry, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var entries []domain.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		entries = append(entries, *e)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	rows.Close()

	for i := range entries {
		if err := s.loadLinks(&entries[i]); err != nil {
			return nil, err
		}
	}
	return entries, nil
}

// CompleteTask marks an open task done. It returns false, without changing
// anything, when id is missing, not a task, or already completed.
func (s *Store) CompleteTask(id string) (bool, error) {
	now := s.now().UTC()
	res, err := s.db.Exec(`
		UPDATE entries SET completed_at = ?, updated_at = ?
		WHERE id = ? AND type = 'task' AND completed_at IS NULL`,
		now, now, id,
	)
	if err != nil {
		return false, wrapErr("complete task", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("complete task: %w", err)
	}
	return n > 0, nil
}

// UpdateEntryType retypes an entry and clears its review flag. Types outside
// the frozen set are rejected with ErrInvalidType before touching the row.
func (s *Store) UpdateEntryType(id string, newType domain.EntryType) (bool, error) {
	if !newType.Valid() {
		return false, fmt.Errorf("update entry type: %w: %q", ErrInvalidType, newType)
	}

	res, err := s.db.Exec(`
		UPDATE entries SET type = ?, updated_at = ?, needs_reclassification = 0
		WHERE id = ?`,
		string(newType), s.now().UTC(), id,
	)
	if err != nil {
		return false, wrapErr("update entry type", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update entry type: %w", err)
	}
	return n > 0, nil
}

// UpdateEntryText replaces title and body; the search index follows.
func (s *Store) UpdateEntryText(id, title, body string) (bool, error) {
	res, err := s.db.Exec(`
		UPDATE entries SET title = ?, body = ?, updated_at = ? WHERE id = ?`,
		title, nullString(body), s.now().UTC(), id,
	)
	if err != nil {
		return false, wrapErr("update entry text", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update entry text: %w", err)
	}
	return n > 0, nil
}

// SetDocumentPath records the file an entry was mirrored to.
func (s *Store) SetDocumentPath(id, path string) error {
	_, err := s.db.Exec("UPDATE entries SET document_path = ? WHERE id = ?", nullString(path), id)
	if err != nil {
		return wrapErr("set document path", err)
	}
	return nil
}

// DeleteEntry removes an entry, its links and its index row. Audit rows stay.
func (s *Store) DeleteEntry(id string) (bool, error) {
	res, err := s.db.Exec("DELETE FROM entries WHERE id = ?", id)
	if err != nil {
		return false, wrapErr("delete entry", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete entry: %w", err)
	}
	return n > 0, nil
}

// Stats returns aggregate counts.
func (s *Store) Stats() (*domain.Stats, error) {
	stats := &domain.Stats{ByType: make(map[domain.EntryType]int)}

	err := s.db.QueryRow(`
		SELECT
			COUNT(*),
			COALESCE(SUM(needs_reclassification), 0),
			COALESCE(SUM(CASE WHEN type = 'task' AND completed_at IS NULL THEN 1 ELSE 0 END), 0)
		FROM entries`,
	).Scan(&stats.Total, &stats.PendingReview, &stats.OpenTasks)
	if err != nil {
		return nil, fmt.Errorf("stats: %w", err)
	}

	rows, err := s.db.Query("SELECT type, COUNT(*) FROM entries GROUP BY type")
	if err != nil {
		return nil, fmt.Errorf("stats by type: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var t string
		var n int
		if err := rows.Scan(&t, &n); err != nil {
			return nil, fmt.Errorf("scan stats: %w", err)
		}
		stats.ByType[domain.EntryType(t)] = n
	}
	return stats, rows.Err()
}

// ListTags returns all tags with their entry counts
func (s *Store) ListTags() ([]domain.Tag, error) {
	rows, err := s.db.Query(`
		SELECT t.id, t.name, COUNT(et.entry_id)
		FROM tags t
		LEFT JOIN entry_tags et ON t.id = et.tag_id
		GROUP BY t.id
		ORDER BY t.name`)
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	defer rows.Close()

	var tags []domain.Tag
	for rows.Next() {
		var t domain.Tag
		if err := rows.Scan(&t.ID, &t.Name, &t.Count); err != nil {
			return nil, fmt.Errorf("scan tag: %w", err)
		}
		tags = append(tags, t)
	}
	return tags, rows.Err()
}
