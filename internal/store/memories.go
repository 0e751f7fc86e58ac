package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"

	"github.com/iammorganparry/clive/apps/ltm/internal/models"
	"github.com/iammorganparry/clive/apps/ltm/internal/vector"
)

// memoryColumns is the canonical column list for all SELECT queries.
// Order must match scanEntry.
const memoryColumns = `id, text, vector, category, scope, importance, timestamp, metadata`

const (
	defaultListLimit = 20
	maxSearchLimit   = 20
)

// MemoryStore handles entry CRUD and search on SQLite. It never computes
// embeddings; vectors are supplied by callers.
type MemoryStore struct {
	db         *DB
	dimensions int
	logger     *slog.Logger
	now        func() time.Time
}

func NewMemoryStore(db *DB, dimensions int, logger *slog.Logger) *MemoryStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &MemoryStore{db: db, dimensions: dimensions, logger: logger, now: time.Now}
}

// Dimensions is the vector length every entry must have.
func (s *MemoryStore) Dimensions() int {
	return s.dimensions
}

// HasFtsSupport reports whether BM25Search can return results.
func (s *MemoryStore) HasFtsSupport() bool {
	return s.db.HasFTS()
}

// Store assigns an id and timestamp when absent, validates, and appends the
// entry. It performs no duplicate detection.
func (s *MemoryStore) Store(ctx context.Context, e models.Entry) (models.Entry, error) {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp == 0 {
		e.Timestamp = s.now().UnixMilli()
	}
	if e.Metadata == "" {
		e.Metadata = models.DefaultMetadata
	}
	if e.Category == "" {
		e.Category = models.CategoryOther
	}
	if e.Scope == "" {
		e.Scope = models.GlobalScope
	}

	if err := s.validate(e); err != nil {
		return models.Entry{}, err
	}
	if err := insert(ctx, s.db, e); err != nil {
		return models.Entry{}, err
	}
	e.Vector = vector.Clone(e.Vector)
	return e, nil
}

// ImportEntry persists an entry that carries its own stable id.
func (s *MemoryStore) ImportEntry(ctx context.Context, e models.Entry) (models.Entry, error) {
	if strings.TrimSpace(e.ID) == "" {
		return models.Entry{}, ErrMissingID
	}
	if len(e.Vector) != s.dimensions {
		return models.Entry{}, &DimensionMismatchError{Expected: s.dimensions, Got: len(e.Vector)}
	}
	if e.Scope == "" {
		e.Scope = models.GlobalScope
	}
	if math.IsNaN(e.Importance) || e.Importance <= 0 || e.Importance > 1 {
		e.Importance = models.DefaultImportance
	}
	if e.Category == "" || !e.Category.IsValid() {
		e.Category = models.CategoryOther
	}
	if e.Timestamp <= 0 {
		e.Timestamp = s.now().UnixMilli()
	}
	if e.Metadata == "" {
		e.Metadata = models.DefaultMetadata
	}

	if err := s.validate(e); err != nil {
		return models.Entry{}, err
	}
	if err := insert(ctx, s.db, e); err != nil {
		return models.Entry{}, err
	}
	e.Vector = vector.Clone(e.Vector)
	return e, nil
}

func (s *MemoryStore) validate(e models.Entry) error {
	if len(e.Vector) != s.dimensions {
		return &DimensionMismatchError{Expected: s.dimensions, Got: len(e.Vector)}
	}
	if strings.TrimSpace(e.Text) == "" {
		return invalid("text", "must not be empty")
	}
	if len(e.Text) > models.MaxTextBytes {
		return invalid("text", "exceeds %d bytes", models.MaxTextBytes)
	}
	if !utf8.ValidString(e.Text) {
		return invalid("text", "must be valid UTF-8")
	}
	if !e.Category.IsValid() {
		return invalid("category", "unknown category %q", e.Category)
	}
	if !models.ValidScope(e.Scope) {
		return invalid("scope", "malformed scope %q", e.Scope)
	}
	if math.IsNaN(e.Importance) || e.Importance < 0 || e.Importance > 1 {
		return invalid("importance", "must be within [0, 1], got %v", e.Importance)
	}
	if e.Timestamp <= 0 {
		return invalid("timestamp", "must be positive")
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insert(ctx context.Context, db execer, e models.Entry) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO memories (id, text, vector, category, scope, importance, timestamp, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.ID, e.Text, vector.Encode(e.Vector), string(e.Category), e.Scope,
		e.Importance, e.Timestamp, e.Metadata,
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) &&
			(sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey || sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique) {
			return invalid("id", "memory %s already exists", e.ID)
		}
		return fmt.Errorf("insert memory: %w", err)
	}
	return nil
}

// HasID reports whether an entry with exactly this id exists.
func (s *MemoryStore) HasID(ctx context.Context, id string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM memories WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check memory id: %w", err)
	}
	return true, nil
}

// Get resolves idOrPrefix and returns the entry, or nil when nothing matches.
func (s *MemoryStore) Get(ctx context.Context, idOrPrefix string, scopeFilter []string) (*models.Entry, error) {
	ref, err := s.resolve(ctx, idOrPrefix)
	if err != nil || ref == nil {
		return nil, err
	}
	if !scopeAllowed(ref.scope, scopeFilter) {
		return nil, &AccessDeniedError{ID: ref.id, Scope: ref.scope}
	}
	return s.getByID(ctx, s.db, ref.id)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *MemoryStore) getByID(ctx context.Context, db queryer, id string) (*models.Entry, error) {
	e, err := scanEntry(db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT %s FROM memories WHERE id = ?`, memoryColumns), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get memory: %w", err)
	}
	return e, nil
}

// List returns entries newest first with vectors stripped.
func (s *MemoryStore) List(ctx context.Context, scopeFilter []string, category models.Category, limit, offset int) ([]models.Entry, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if offset < 0 {
		offset = 0
	}

	where, args := scopeClause("scope", scopeFilter)
	if category != "" {
		where += " AND category = ?"
		args = append(args, string(category))
	}
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT %s FROM memories WHERE %s ORDER BY timestamp DESC, id LIMIT ? OFFSET ?`,
		memoryColumns, where), args...)
	if err != nil {
		return nil, fmt.Errorf("list memories: %w", err)
	}
	defer rows.Close()

	entries := make([]models.Entry, 0, limit)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		entries = append(entries, e.Stripped())
	}
	return entries, rows.Err()
}

// Stats counts entries per scope and per category.
func (s *MemoryStore) Stats(ctx context.Context, scopeFilter []string) (*models.Stats, error) {
	where, args := scopeClause("scope", scopeFilter)
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT scope, category, COUNT(*) FROM memories WHERE %s GROUP BY scope, category`, where), args...)
	if err != nil {
		return nil, fmt.Errorf("memory stats: %w", err)
	}
	defer rows.Close()

	stats := &models.Stats{
		ScopeCounts:    map[string]int{},
		CategoryCounts: map[models.Category]int{},
	}
	for rows.Next() {
		var scope, category string
		var n int
		if err := rows.Scan(&scope, &category, &n); err != nil {
			return nil, fmt.Errorf("scan stats: %w", err)
		}
		stats.TotalCount += n
		stats.ScopeCounts[scope] += n
		stats.CategoryCounts[models.Category(category)] += n
	}
	return stats, rows.Err()
}

// Delete resolves idOrPrefix and removes the entry. It returns false when
// nothing matches.
func (s *MemoryStore) Delete(ctx context.Context, idOrPrefix string, scopeFilter []string) (bool, error) {
	ref, err := s.resolve(ctx, idOrPrefix)
	if err != nil || ref == nil {
		return false, err
	}
	if !scopeAllowed(ref.scope, scopeFilter) {
		return false, &AccessDeniedError{ID: ref.id, Scope: ref.scope}
	}

	res, err := s.db.ExecContext(ctx, "DELETE FROM memories WHERE id = ?", ref.id)
	if err != nil {
		return false, fmt.Errorf("delete memory: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// Update merges patch into the resolved entry and re-persists it by deleting
// the old row and inserting the merged one inside a single transaction. It
// returns nil when nothing matches.
func (s *MemoryStore) Update(ctx context.Context, idOrPrefix string, patch models.EntryPatch, scopeFilter []string) (*models.Entry, error) {
	ref, err := s.resolve(ctx, idOrPrefix)
	if err != nil || ref == nil {
		return nil, err
	}
	if !scopeAllowed(ref.scope, scopeFilter) {
		return nil, &AccessDeniedError{ID: ref.id, Scope: ref.scope}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin update: %w", err)
	}
	defer tx.Rollback()

	existing, err := s.getByID(ctx, tx, ref.id)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, nil
	}

	merged := *existing
	if patch.Text != nil {
		merged.Text = *patch.Text
	}
	if patch.Vector != nil {
		merged.Vector = vector.Clone(patch.Vector)
	}
	if patch.Category != nil {
		merged.Category = *patch.Category
	}
	if patch.Importance != nil {
		merged.Importance = *patch.Importance
	}
	if patch.Metadata != nil {
		merged.Metadata = *patch.Metadata
	}
	if err := s.validate(merged); err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM memories WHERE id = ?", merged.ID); err != nil {
		return nil, fmt.Errorf("update memory: delete: %w", err)
	}
	if err := insert(ctx, tx, merged); err != nil {
		return nil, fmt.Errorf("update memory: reinsert: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit update: %w", err)
	}
	return &merged, nil
}

// BulkDelete removes every entry matching the scope filter and older than
// before (ms epoch). At least one condition is required.
func (s *MemoryStore) BulkDelete(ctx context.Context, scopeFilter []string, before int64) (int, error) {
	if len(scopeFilter) == 0 && before <= 0 {
		return 0, invalid("", "bulk delete requires a scope filter or a timestamp bound")
	}

	conds := []string{}
	var args []any
	if len(scopeFilter) > 0 {
		conds = append(conds, fmt.Sprintf("scope IN (%s)", placeholders(len(scopeFilter))))
		for _, sc := range scopeFilter {
			args = append(args, sc)
		}
	}
	if before > 0 {
		conds = append(conds, "timestamp < ?")
		args = append(args, before)
	}

	res, err := s.db.ExecContext(ctx,
		"DELETE FROM memories WHERE "+strings.Join(conds, " AND "), args...)
	if err != nil {
		return 0, fmt.Errorf("bulk delete: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (*models.Entry, error) {
	var e models.Entry
	var blob []byte
	var category string
	if err := row.Scan(&e.ID, &e.Text, &blob, &category, &e.Scope, &e.Importance, &e.Timestamp, &e.Metadata); err != nil {
		return nil, err
	}
	e.Category = models.Category(category)
	e.Vector = vector.Decode(blob)
	return &e, nil
}

// scopeClause builds the read predicate: rows without a scope are visible
// to everyone, and an empty filter means unrestricted.
func scopeClause(col string, scopes []string) (string, []any) {
	if len(scopes) == 0 {
		return "1 = 1", nil
	}
	args := make([]any, len(scopes))
	for i, sc := range scopes {
		args[i] = sc
	}
	return fmt.Sprintf("(%[1]s IS NULL OR %[1]s = '' OR %[1]s IN (%[2]s))", col, placeholders(len(scopes))), args
}

func scopeAllowed(scope string, scopes []string) bool {
	if len(scopes) == 0 || scope == "" {
		return true
	}
	for _, sc := range scopes {
		if sc == scope {
			return true
		}
	}
	return false
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?,", n-1) + "?"
}

func clampLimit(limit int) int {
	if limit < 1 {
		return 1
	}
	if limit > maxSearchLimit {
		return maxSearchLimit
	}
	return limit
}
