package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

const (
	// leaseDuration bounds how long a crashed holder can block other
	// processes from refreshing the same link.
	leaseDuration = 2 * time.Minute

	leasePollInterval = 50 * time.Millisecond
	leaseReleaseWait  = 5 * time.Second
)

const (
	sqlClaimLease = `UPDATE account_links SET lease_owner = ?, lease_until = ?
		WHERE user_id = ? AND (lease_until IS NULL OR lease_until <= ?)`

	sqlReleaseLease = `UPDATE account_links SET lease_owner = '', lease_until = NULL
		WHERE user_id = ? AND lease_owner = ?`
)

// LockLink claims the refresh lease on userID's link, waiting while another
// holder (in this or any other process sharing the database) has it. The
// returned func releases the lease; a lease that is never released expires
// after leaseDuration.
func (s *Store) LockLink(ctx context.Context, userID string) (func(), error) {
	owner := uuid.New().String()

	for {
		now := s.nowFunc()

		res, err := s.db.ExecContext(ctx, sqlClaimLease,
			owner, now.Add(leaseDuration).UnixNano(), userID, now.UnixNano())
		if err != nil {
			return nil, fmt.Errorf("store: claiming refresh lease for %s: %w", userID, err)
		}

		if n, err := res.RowsAffected(); err == nil && n == 1 {
			return func() { s.releaseLease(userID, owner) }, nil
		}

		if _, err := s.LoadLink(ctx, userID); err != nil {
			return nil, err
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("store: waiting for refresh lease on %s: %w", userID, ctx.Err())
		case <-time.After(leasePollInterval):
		}
	}
}

// releaseLease clears the lease if owner still holds it. It runs even when
// the caller's context is already done.
func (s *Store) releaseLease(userID, owner string) {
	ctx, cancel := context.WithTimeout(context.Background(), leaseReleaseWait)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, sqlReleaseLease, userID, owner); err != nil {
		s.logger.Warn("releasing refresh lease failed",
			slog.String("user", userID),
			slog.String("error", err.Error()),
		)
	}
}
