package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

const (
	minPrefixLen     = 8
	maxPrefixMatches = 5
)

var prefixPattern = regexp.MustCompile(`(?i)^[0-9a-f][0-9a-f-]*$`)

type entryRef struct {
	id    string
	scope string
}

// resolve maps a full id or a unique id prefix to a stored entry. A nil ref
// with a nil error means nothing matched.
func (s *MemoryStore) resolve(ctx context.Context, idOrPrefix string) (*entryRef, error) {
	key := strings.TrimSpace(idOrPrefix)
	if key == "" {
		return nil, invalid("id", "must not be empty")
	}

	var ref entryRef
	err := s.db.QueryRowContext(ctx, `SELECT id, scope FROM memories WHERE id = ?`, key).Scan(&ref.id, &ref.scope)
	switch {
	case err == nil:
		return &ref, nil
	case !errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("resolve memory id: %w", err)
	}

	if len(key) < minPrefixLen || !prefixPattern.MatchString(key) {
		return nil, invalid("id", "%q is neither a memory id nor a prefix of at least %d hex characters", key, minPrefixLen)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, scope FROM memories WHERE id LIKE ? ORDER BY id LIMIT ?`,
		strings.ToLower(key)+"%", maxPrefixMatches+1)
	if err != nil {
		return nil, fmt.Errorf("resolve memory prefix: %w", err)
	}
	defer rows.Close()

	var matches []entryRef
	for rows.Next() {
		var m entryRef
		if err := rows.Scan(&m.id, &m.scope); err != nil {
			return nil, fmt.Errorf("scan prefix match: %w", err)
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	switch len(matches) {
	case 0:
		return nil, nil
	case 1:
		return &matches[0], nil
	default:
		ids := make([]string, 0, len(matches))
		for i, m := range matches {
			if i == maxPrefixMatches {
				ids = append(ids, "...")
				break
			}
			ids = append(ids, m.id)
		}
		return nil, &AmbiguousPrefixError{Prefix: key, Matches: ids}
	}
}
