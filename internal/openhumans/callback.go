package openhumans

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"
)

// stateTokenBytes is the number of random bytes in the OAuth2 state value.
const stateTokenBytes = 16

// callbackShutdownTimeout bounds draining the callback server.
const callbackShutdownTimeout = 5 * time.Second

// callbackResult carries the authorization code or error from the handler.
type callbackResult struct {
	code string
	err  error
}

// CodeReceiver serves a project's redirect URI on the local machine and
// captures the authorization code Open Humans sends back. It only works when
// the project's registered redirect URI points at localhost.
type CodeReceiver struct {
	srv     *http.Server
	addr    string
	authURL string
	results chan callbackResult
	logger  *slog.Logger
}

// ListenForCode binds the host and port of redirectURL and starts serving its
// path. The caller shows AuthURL to the user, then calls Wait.
func (s Service) ListenForCode(ctx context.Context, redirectURL string, logger *slog.Logger) (*CodeReceiver, error) {
	if logger == nil {
		logger = slog.Default()
	}

	u, err := url.Parse(redirectURL)
	if err != nil {
		return nil, fmt.Errorf("openhumans: parsing redirect URI: %w", err)
	}

	if u.Scheme != "http" || !isLoopback(u.Hostname()) || u.Port() == "" {
		return nil, fmt.Errorf("openhumans: redirect URI %q must be http://localhost:PORT/...", redirectURL)
	}

	state, err := generateState()
	if err != nil {
		return nil, fmt.Errorf("openhumans: generating state token: %w", err)
	}

	lc := net.ListenConfig{}

	listener, err := lc.Listen(ctx, "tcp", net.JoinHostPort("127.0.0.1", u.Port()))
	if err != nil {
		return nil, fmt.Errorf("openhumans: binding %s: %w", u.Host, err)
	}

	path := u.Path
	if path == "" {
		path = "/"
	}

	r := &CodeReceiver{
		addr:    listener.Addr().String(),
		authURL: s.oauthConfig().AuthCodeURL(state),
		results: make(chan callbackResult, 1),
		logger:  logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET "+path, func(w http.ResponseWriter, req *http.Request) {
		r.handleCallback(w, req, state)
	})

	r.srv = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: callbackShutdownTimeout,
	}

	go func() {
		if serveErr := r.srv.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			r.send(callbackResult{err: fmt.Errorf("openhumans: callback server: %w", serveErr)})
		}
	}()

	logger.Info("callback server listening", slog.String("addr", r.addr), slog.String("path", path))

	return r, nil
}

// AuthURL is the authorization URL to open in the browser. It carries a
// random state value that the callback must echo.
func (r *CodeReceiver) AuthURL() string {
	return r.authURL
}

// Addr is the address the callback server is bound to.
func (r *CodeReceiver) Addr() string {
	return r.addr
}

// Wait blocks until the browser is redirected back or ctx is done.
func (r *CodeReceiver) Wait(ctx context.Context) (string, error) {
	select {
	case res := <-r.results:
		return res.code, res.err
	case <-ctx.Done():
		return "", fmt.Errorf("openhumans: waiting for authorization: %w", ctx.Err())
	}
}

// Close shuts the callback server down.
func (r *CodeReceiver) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), callbackShutdownTimeout)
	defer cancel()

	if err := r.srv.Shutdown(ctx); err != nil {
		r.logger.Warn("callback server shutdown error", slog.String("error", err.Error()))
	}
}

// send delivers the first result; later callbacks are dropped.
func (r *CodeReceiver) send(res callbackResult) {
	select {
	case r.results <- res:
	default:
	}
}

func (r *CodeReceiver) handleCallback(w http.ResponseWriter, req *http.Request, state string) {
	q := req.URL.Query()

	if q.Get("state") != state {
		http.Error(w, "Invalid state parameter", http.StatusBadRequest)
		r.send(callbackResult{err: errors.New("openhumans: OAuth2 state mismatch")})

		return
	}

	if errParam := q.Get("error"); errParam != "" {
		http.Error(w, "Authorization failed: "+errParam, http.StatusBadRequest)
		r.send(callbackResult{err: fmt.Errorf("openhumans: authorization denied: %s: %s",
			errParam, q.Get("error_description"))})

		return
	}

	code := q.Get("code")
	if code == "" {
		http.Error(w, "Missing authorization code", http.StatusBadRequest)
		r.send(callbackResult{err: errors.New("openhumans: callback missing authorization code")})

		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, "<html><body><h1>Connected to Open Humans</h1>"+
		"<p>You can close this window and return to the terminal.</p></body></html>")
	r.send(callbackResult{code: code})
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}

	ip := net.ParseIP(host)

	return ip != nil && ip.IsLoopback()
}

// generateState returns a random hex string for the OAuth2 state parameter.
func generateState() (string, error) {
	b := make([]byte, stateTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}

	return hex.EncodeToString(b), nil
}
