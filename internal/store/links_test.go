package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/datareturn/internal/openhumans"
)

func TestLoadLink_NotFound(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)

	_, err := s.LoadLink(context.Background(), "nobody")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSaveLink_RoundTrip(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()
	member := int64(12345678)
	expiry := testNow.Add(10 * time.Hour)

	require.NoError(t, s.SaveLink(ctx, &openhumans.Link{
		UserID:       "alice",
		MemberID:     &member,
		AccessToken:  "A1",
		RefreshToken: "R1",
		ExpiresAt:    expiry,
	}))

	got, err := s.LoadLink(ctx, "alice")
	require.NoError(t, err)

	require.NotNil(t, got.MemberID)
	assert.Equal(t, member, *got.MemberID)
	assert.Equal(t, "A1", got.AccessToken)
	assert.Equal(t, "R1", got.RefreshToken)
	assert.True(t, got.ExpiresAt.Equal(expiry))
}

func TestSaveLink_EmptyLinkHasNoExpiry(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveLink(ctx, &openhumans.Link{UserID: "bob"}))

	got, err := s.LoadLink(ctx, "bob")
	require.NoError(t, err)

	assert.Nil(t, got.MemberID)
	assert.True(t, got.ExpiresAt.IsZero())
	assert.False(t, got.Connected())
}

func TestSaveLink_ReplacesExisting(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveLink(ctx, &openhumans.Link{UserID: "alice", RefreshToken: "R1"}))
	require.NoError(t, s.SaveLink(ctx, &openhumans.Link{UserID: "alice", RefreshToken: "R5"}))

	links, err := s.ListLinks(ctx)
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, "R5", links[0].RefreshToken)
}

func TestSaveTokens_UpdatesAllThreeFields(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()
	member := int64(7)

	require.NoError(t, s.SaveLink(ctx, &openhumans.Link{
		UserID: "alice", MemberID: &member, AccessToken: "A1", RefreshToken: "R1", ExpiresAt: testNow,
	}))

	link, err := s.LoadLink(ctx, "alice")
	require.NoError(t, err)

	link.Replace("A2", "R2", time.Hour, testNow)
	require.NoError(t, s.SaveTokens(ctx, link))

	got, err := s.LoadLink(ctx, "alice")
	require.NoError(t, err)

	assert.Equal(t, "A2", got.AccessToken)
	assert.Equal(t, "R2", got.RefreshToken)
	assert.True(t, got.ExpiresAt.Equal(testNow.Add(time.Hour)))
	require.NotNil(t, got.MemberID, "token update keeps the member id")
	assert.Equal(t, member, *got.MemberID)
}

func TestSaveTokens_MissingLink(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)

	err := s.SaveTokens(context.Background(), &openhumans.Link{UserID: "ghost", RefreshToken: "R1"})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.LoadLink(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrNotFound, "a failed token save creates nothing")
}

func TestListLinks_OrderedByUser(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	for _, u := range []string{"carol", "alice", "bob"} {
		require.NoError(t, s.SaveLink(ctx, &openhumans.Link{UserID: u}))
	}

	links, err := s.ListLinks(ctx)
	require.NoError(t, err)
	require.Len(t, links, 3)

	assert.Equal(t, "alice", links[0].UserID)
	assert.Equal(t, "bob", links[1].UserID)
	assert.Equal(t, "carol", links[2].UserID)
}

func TestDeleteLink(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveLink(ctx, &openhumans.Link{UserID: "alice"}))
	require.NoError(t, s.DeleteLink(ctx, "alice"))

	_, err := s.LoadLink(ctx, "alice")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, s.DeleteLink(ctx, "alice"), ErrNotFound)
}

// The store backs the client's refresh flight: a rotation through the
// client is visible to the next load.
func TestStore_BacksClientRefresh(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveLink(ctx, &openhumans.Link{
		UserID: "alice", AccessToken: "A1", RefreshToken: "R1", ExpiresAt: testNow.Add(-time.Minute),
	}))

	link, err := s.LoadLink(ctx, "alice")
	require.NoError(t, err)

	link.Replace("A2", "R2", time.Hour, testNow)
	require.NoError(t, s.SaveTokens(ctx, link))

	reloaded, err := s.LoadLink(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, reloaded.IsExpired(testNow, openhumans.DefaultOffset))
}
