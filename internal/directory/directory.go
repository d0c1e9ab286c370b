// Package directory resolves user ids to contact details. It is read-only;
// the users table is owned by the account service.
package directory

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/lib/pq"
)

// Contact is how a pet owner or vet is reached.
type Contact struct {
	ID    string
	Name  string
	Email string
}

// Lookup resolves contacts in bulk. Unknown ids are absent from the result.
type Lookup interface {
	Contacts(ctx context.Context, ids ...string) (map[string]Contact, error)
}

// SQLDirectory reads contacts from the users table.
type SQLDirectory struct {
	db *sql.DB
}

func NewSQLDirectory(db *sql.DB) *SQLDirectory {
	return &SQLDirectory{db: db}
}

// Open connects with the lib/pq driver.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("directory: open: %w", err)
	}
	return db, nil
}

func (d *SQLDirectory) Contacts(ctx context.Context, ids ...string) (map[string]Contact, error) {
	out := make(map[string]Contact, len(ids))
	wanted := compact(ids)
	if len(wanted) == 0 {
		return out, nil
	}
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, COALESCE(full_name, ''), COALESCE(email, '')
		FROM users
		WHERE id = ANY($1)`, pq.Array(wanted))
	if err != nil {
		return nil, fmt.Errorf("directory: query contacts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var c Contact
		if err := rows.Scan(&c.ID, &c.Name, &c.Email); err != nil {
			return nil, fmt.Errorf("directory: scan contact: %w", err)
		}
		out[c.ID] = c
	}
	return out, rows.Err()
}

// Static is an in-memory directory for local development and tests.
type Static map[string]Contact

func (s Static) Contacts(ctx context.Context, ids ...string) (map[string]Contact, error) {
	out := make(map[string]Contact, len(ids))
	for _, id := range ids {
		if c, ok := s[id]; ok {
			out[id] = c
		}
	}
	return out, nil
}

func compact(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

var (
	_ Lookup = (*SQLDirectory)(nil)
	_ Lookup = Static(nil)
)
