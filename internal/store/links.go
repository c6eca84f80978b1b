package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tonimelisma/datareturn/internal/openhumans"
)

const (
	sqlLoadLink = `SELECT user_id, member_id, access_token, refresh_token, expires_at
		FROM account_links WHERE user_id = ?`

	sqlListLinks = `SELECT user_id, member_id, access_token, refresh_token, expires_at
		FROM account_links ORDER BY user_id`

	sqlUpsertLink = `INSERT INTO account_links
		(user_id, member_id, access_token, refresh_token, expires_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
		 member_id = excluded.member_id,
		 access_token = excluded.access_token,
		 refresh_token = excluded.refresh_token,
		 expires_at = excluded.expires_at,
		 updated_at = excluded.updated_at`

	//nolint:gosec // G101: column names, not credentials
	sqlUpdateTokens = `UPDATE account_links
		SET access_token = ?, refresh_token = ?, expires_at = ?, updated_at = ?
		WHERE user_id = ?`

	sqlDeleteLink = `DELETE FROM account_links WHERE user_id = ?`
)

var (
	_ openhumans.LinkStore  = (*Store)(nil)
	_ openhumans.LinkLocker = (*Store)(nil)
	_ openhumans.ItemSource = (*Store)(nil)
	_ openhumans.EventLog   = (*Store)(nil)
)

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanLink(row rowScanner) (*openhumans.Link, error) {
	var (
		l         openhumans.Link
		memberID  sql.NullInt64
		expiresAt sql.NullInt64
	)

	if err := row.Scan(&l.UserID, &memberID, &l.AccessToken, &l.RefreshToken, &expiresAt); err != nil {
		return nil, err
	}

	if memberID.Valid {
		id := memberID.Int64
		l.MemberID = &id
	}

	l.ExpiresAt = fromNullTime(expiresAt)

	return &l, nil
}

// LoadLink returns the link for userID, or ErrNotFound.
func (s *Store) LoadLink(ctx context.Context, userID string) (*openhumans.Link, error) {
	l, err := scanLink(s.db.QueryRowContext(ctx, sqlLoadLink, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("store: loading link %s: %w", userID, ErrNotFound)
	}

	if err != nil {
		return nil, fmt.Errorf("store: loading link %s: %w", userID, err)
	}

	return l, nil
}

// ListLinks returns every link ordered by user id.
func (s *Store) ListLinks(ctx context.Context) ([]*openhumans.Link, error) {
	rows, err := s.db.QueryContext(ctx, sqlListLinks)
	if err != nil {
		return nil, fmt.Errorf("store: listing links: %w", err)
	}
	defer rows.Close()

	var links []*openhumans.Link

	for rows.Next() {
		l, err := scanLink(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scanning link row: %w", err)
		}

		links = append(links, l)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterating link rows: %w", err)
	}

	return links, nil
}

// SaveLink creates or replaces the whole link record, member id included.
func (s *Store) SaveLink(ctx context.Context, link *openhumans.Link) error {
	now := s.nowFunc().UnixNano()

	var memberID sql.NullInt64
	if link.MemberID != nil {
		memberID = sql.NullInt64{Int64: *link.MemberID, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, sqlUpsertLink,
		link.UserID, memberID, link.AccessToken, link.RefreshToken,
		toNullTime(link.ExpiresAt), now, now,
	)
	if err != nil {
		return fmt.Errorf("store: saving link %s: %w", link.UserID, err)
	}

	s.logger.Debug("link saved", slog.String("user", link.UserID))

	return nil
}

// SaveTokens writes the access token, refresh token, and expiry of an
// existing link in one transaction. Either all three land or none do.
func (s *Store) SaveTokens(ctx context.Context, link *openhumans.Link) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: beginning token transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, sqlUpdateTokens,
		link.AccessToken, link.RefreshToken, toNullTime(link.ExpiresAt),
		s.nowFunc().UnixNano(), link.UserID,
	)
	if err != nil {
		return fmt.Errorf("store: saving tokens for %s: %w", link.UserID, err)
	}

	if err := checkOneRow(res, "saving tokens for "+link.UserID); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: committing tokens for %s: %w", link.UserID, err)
	}

	return nil
}

// DeleteLink removes the link for userID. Files, links, and events are kept.
func (s *Store) DeleteLink(ctx context.Context, userID string) error {
	res, err := s.db.ExecContext(ctx, sqlDeleteLink, userID)
	if err != nil {
		return fmt.Errorf("store: deleting link %s: %w", userID, err)
	}

	return checkOneRow(res, "deleting link "+userID)
}
