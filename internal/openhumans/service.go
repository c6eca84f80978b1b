package openhumans

import (
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// DefaultServer is the production Open Humans deployment.
const DefaultServer = "https://www.openhumans.org"

// DefaultScope is requested by the authorization URL.
const DefaultScope = "wildlife read write"

// DefaultOffset is how long a token must remain valid for ValidToken to
// return it without refreshing.
const DefaultOffset = 30 * time.Second

// Service describes the Open Humans deployment and the registered project
// (source) data is returned to. It is injected into Client; nothing in this
// package reads global configuration.
type Service struct {
	Server       string
	ClientID     string
	ClientSecret string
	SourceName   string
	Scope        string

	// PushMethod is the HTTP method used for exports. Empty means PUT.
	PushMethod string
}

func (s Service) base() string {
	if s.Server == "" {
		return DefaultServer
	}

	return strings.TrimRight(s.Server, "/")
}

// TokenURL is the OAuth2 token endpoint.
func (s Service) TokenURL() string {
	return s.base() + "/oauth2/token/"
}

// AuthURL is the browser authorization URL users visit to connect.
func (s Service) AuthURL() string {
	return s.oauthConfig().AuthCodeURL("")
}

// ReturnURL is the project page users are sent back to on Open Humans.
func (s Service) ReturnURL() string {
	return s.base() + "/study/" + s.SourceName + "/return/"
}

// UserDataURL is the authenticated endpoint for reading and writing the
// member's project data.
func (s Service) UserDataURL() string {
	return s.base() + "/api/" + s.SourceName + "/user-data/"
}

// RemovalURL is where members manage (and revoke) their connections.
func (s Service) RemovalURL() string {
	return s.base() + "/member/me/connections/"
}

func (s Service) pushMethod() string {
	if s.PushMethod == "" {
		return http.MethodPut
	}

	return strings.ToUpper(s.PushMethod)
}

func (s Service) scopes() []string {
	scope := s.Scope
	if scope == "" {
		scope = DefaultScope
	}

	return strings.Fields(scope)
}

// oauthConfig sends client credentials in the form body, which is what the
// token endpoint expects.
func (s Service) oauthConfig() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     s.ClientID,
		ClientSecret: s.ClientSecret,
		Scopes:       s.scopes(),
		Endpoint: oauth2.Endpoint{
			AuthURL:   s.base() + "/oauth2/authorize",
			TokenURL:  s.TokenURL(),
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}
