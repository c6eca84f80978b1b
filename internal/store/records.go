package store

import (
	"context"
	"fmt"
	"time"

	"github.com/tonimelisma/datareturn/internal/openhumans"
)

// Kind selects between the two record tables. Both share one schema.
type Kind int

const (
	// KindFile is a file the user stored with this service, exported by its
	// long-lived retrieval URL.
	KindFile Kind = iota
	// KindLink is a plain named URL.
	KindLink
)

func (k Kind) table() string {
	if k == KindLink {
		return "data_links"
	}

	return "data_files"
}

func (k Kind) String() string {
	if k == KindLink {
		return "link"
	}

	return "file"
}

// Record is a DataFile or DataLink row.
type Record struct {
	ID          int64
	UserID      string
	Name        string
	URL         string
	Description string
	CreatedAt   time.Time
}

// AddRecord inserts rec into the kind's table and returns it with ID and
// CreatedAt filled in.
func (s *Store) AddRecord(ctx context.Context, kind Kind, rec Record) (Record, error) {
	rec.CreatedAt = s.nowFunc().UTC()

	//nolint:gosec // G201: table name comes from Kind, never user input
	query := fmt.Sprintf(`INSERT INTO %s (user_id, name, url, description, created_at)
		VALUES (?, ?, ?, ?, ?)`, kind.table())

	res, err := s.db.ExecContext(ctx, query,
		rec.UserID, rec.Name, rec.URL, rec.Description, rec.CreatedAt.UnixNano())
	if err != nil {
		return Record{}, fmt.Errorf("store: adding %s for %s: %w", kind, rec.UserID, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return Record{}, fmt.Errorf("store: reading %s id: %w", kind, err)
	}

	rec.ID = id

	return rec, nil
}

// ListRecords returns the user's records of kind in insertion order.
func (s *Store) ListRecords(ctx context.Context, kind Kind, userID string) ([]Record, error) {
	//nolint:gosec // G201: table name comes from Kind
	query := fmt.Sprintf(`SELECT id, user_id, name, url, description, created_at
		FROM %s WHERE user_id = ? ORDER BY id`, kind.table())

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("store: listing %ss for %s: %w", kind, userID, err)
	}
	defer rows.Close()

	var out []Record

	for rows.Next() {
		var (
			r       Record
			created int64
		)

		if err := rows.Scan(&r.ID, &r.UserID, &r.Name, &r.URL, &r.Description, &created); err != nil {
			return nil, fmt.Errorf("store: scanning %s row: %w", kind, err)
		}

		r.CreatedAt = time.Unix(0, created).UTC()
		out = append(out, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterating %s rows: %w", kind, err)
	}

	return out, nil
}

// DeleteRecord removes one of the user's records. A record owned by someone
// else is reported as ErrNotFound.
func (s *Store) DeleteRecord(ctx context.Context, kind Kind, userID string, id int64) error {
	//nolint:gosec // G201: table name comes from Kind
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = ? AND user_id = ?`, kind.table())

	res, err := s.db.ExecContext(ctx, query, id, userID)
	if err != nil {
		return fmt.Errorf("store: deleting %s %d: %w", kind, id, err)
	}

	return checkOneRow(res, fmt.Sprintf("deleting %s %d", kind, id))
}

// ExportFiles returns the user's files as name/URL pairs for an export.
func (s *Store) ExportFiles(ctx context.Context, userID string) ([]openhumans.NamedURL, error) {
	return s.exportRecords(ctx, KindFile, userID)
}

// ExportLinks returns the user's links as name/URL pairs for an export.
func (s *Store) ExportLinks(ctx context.Context, userID string) ([]openhumans.NamedURL, error) {
	return s.exportRecords(ctx, KindLink, userID)
}

func (s *Store) exportRecords(ctx context.Context, kind Kind, userID string) ([]openhumans.NamedURL, error) {
	recs, err := s.ListRecords(ctx, kind, userID)
	if err != nil {
		return nil, err
	}

	out := make([]openhumans.NamedURL, 0, len(recs))
	for _, r := range recs {
		out = append(out, openhumans.NamedURL{Name: r.Name, URL: r.URL})
	}

	return out, nil
}
