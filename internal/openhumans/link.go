package openhumans

import "time"

// Link is the persistent association between a local user and their Open
// Humans account. A zero ExpiresAt means no access token was ever obtained.
//
// Authenticated calls must obtain the access token through
// Client.ValidToken rather than reading AccessToken directly.
//
// A *Link is not safe for concurrent use; concurrent operations on the same
// user should each load their own copy. Client serializes refreshes per user.
type Link struct {
	UserID       string
	MemberID     *int64
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// IsExpired reports whether the access token is expired at now, or will be
// within offset.
func (l *Link) IsExpired(now time.Time, offset time.Duration) bool {
	if l.ExpiresAt.IsZero() {
		return true
	}

	return !now.Before(l.ExpiresAt.Add(-offset))
}

// Replace overwrites both tokens and the expiry in one step. The previous
// refresh token is discarded; the server issues a new one on every refresh.
func (l *Link) Replace(accessToken, refreshToken string, expiresIn time.Duration, now time.Time) {
	l.setTokens(tokenState{
		access:    accessToken,
		refresh:   refreshToken,
		expiresAt: now.Add(expiresIn),
	})
}

// Connected reports whether the link holds a refresh token. It says nothing
// about whether the server still accepts it.
func (l *Link) Connected() bool {
	return l.RefreshToken != ""
}

// tokenState is the all-or-nothing unit of token fields.
type tokenState struct {
	access    string
	refresh   string
	expiresAt time.Time
}

func (l *Link) tokens() tokenState {
	return tokenState{
		access:    l.AccessToken,
		refresh:   l.RefreshToken,
		expiresAt: l.ExpiresAt,
	}
}

func (l *Link) setTokens(s tokenState) {
	l.AccessToken = s.access
	l.RefreshToken = s.refresh
	l.ExpiresAt = s.expiresAt
}
