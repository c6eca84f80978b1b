package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/datareturn/internal/config"
)

// cliEnv isolates one CLI invocation sequence: its own config file, database,
// and XDG directories, with DATARETURN_* variables cleared.
type cliEnv struct {
	dir        string
	configPath string
	dbPath     string
}

func newCLIEnv(t *testing.T) *cliEnv {
	t.Helper()

	dir := t.TempDir()

	for _, name := range []string{config.EnvConfig, config.EnvClientID, config.EnvClientSecret, config.EnvDBPath} {
		t.Setenv(name, "")
	}

	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "xdg-config"))
	t.Setenv("XDG_DATA_HOME", filepath.Join(dir, "xdg-data"))

	return &cliEnv{
		dir:        dir,
		configPath: filepath.Join(dir, "config.toml"),
		dbPath:     filepath.Join(dir, "data", "datareturn.db"),
	}
}

// writeProjectConfig writes a config with credentials pointing at server.
func (e *cliEnv) writeProjectConfig(t *testing.T, server string) {
	t.Helper()

	body := fmt.Sprintf(`[open_humans]
server        = %q
client_id     = "cid"
client_secret = "csecret"
source_name   = "demo_project"
`, server)

	writeFile(t, e.configPath, body)
}

// run executes the root command and returns what it wrote to stdout.
func (e *cliEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()

	cmd := newRootCmd()

	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(append([]string{"--config", e.configPath, "--db", e.dbPath, "--quiet"}, args...))

	err := cmd.Execute()

	return out.String(), err
}

// mustRun is run that fails the test on error.
func (e *cliEnv) mustRun(t *testing.T, args ...string) string {
	t.Helper()

	out, err := e.run(t, args...)
	require.NoError(t, err, "datareturn %v", args)

	return out
}

// fakeOpenHumans serves the token and user-data endpoints of one project.
type fakeOpenHumans struct {
	*httptest.Server

	mu          sync.Mutex
	tokenStatus int
	dataStatus  int
	grants      []string
	pushes      []map[string]any
	issued      int
}

func newFakeOpenHumans(t *testing.T) *fakeOpenHumans {
	t.Helper()

	f := &fakeOpenHumans{tokenStatus: http.StatusOK, dataStatus: http.StatusOK}

	mux := http.NewServeMux()
	mux.HandleFunc("/oauth2/token/", f.token)
	mux.HandleFunc("/api/demo_project/user-data/", f.userData)

	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Close)

	return f
}

func (f *fakeOpenHumans) token(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	f.grants = append(f.grants, r.PostForm.Get("grant_type"))

	if f.tokenStatus != http.StatusOK {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(f.tokenStatus)
		fmt.Fprint(w, `{"error":"invalid_grant"}`)

		return
	}

	f.issued++

	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"access_token":"A%d","refresh_token":"R%d","expires_in":36000,"token_type":"Bearer"}`,
		f.issued, f.issued)
}

func (f *fakeOpenHumans) userData(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if r.Method != http.MethodGet {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		f.pushes = append(f.pushes, body)
	}

	w.WriteHeader(f.dataStatus)
}

func (f *fakeOpenHumans) setTokenStatus(code int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.tokenStatus = code
}

func (f *fakeOpenHumans) pushCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.pushes)
}

func (f *fakeOpenHumans) lastPush() map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.pushes) == 0 {
		return nil
	}

	return f.pushes[len(f.pushes)-1]
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()

	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o700))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
}

func (f *fakeOpenHumans) grantTypes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]string(nil), f.grants...)
}
