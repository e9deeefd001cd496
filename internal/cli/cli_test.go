package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAPI records the last request and answers with a canned response
type fakeAPI struct {
	method, path, auth string
	body               map[string]string
	status             int
	response           string
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.method = r.Method
	f.path = r.URL.EscapedPath()
	f.auth = r.Header.Get("Authorization")
	f.body = nil
	if data, _ := io.ReadAll(r.Body); len(data) > 0 {
		_ = json.Unmarshal(data, &f.body)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(f.status)
	_, _ = w.Write([]byte(f.response))
}

func runCLI(t *testing.T, api *fakeAPI, stdin string, args ...string) (string, error) {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	t.Setenv("LOGINGATE_HOST_KEY", "")
	t.Setenv("LOGINGATE_HOST_KEY_FILE", "")
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{"--server", srv.URL, "--host-key", "k1", "--host-key-file", t.TempDir() + "/none"}, args...))

	err := cmd.Execute()
	return out.String(), err
}

func TestLoginReadsCredentialFromStdin(t *testing.T) {
	api := &fakeAPI{status: http.StatusOK, response: `{"authorized":true}`}

	out, err := runCLI(t, api, "pw1\n", "login", "alice", "--address", "10.0.0.1")
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, api.method)
	assert.Equal(t, "/api/v1/logins", api.path)
	assert.Equal(t, "Bearer k1", api.auth)
	assert.Equal(t, map[string]string{"principal": "alice", "address": "10.0.0.1", "credential": "pw1"}, api.body)
	assert.Equal(t, "authorized\n", out)
}

func TestLoginRequiresCredential(t *testing.T) {
	api := &fakeAPI{status: http.StatusOK, response: `{"authorized":true}`}

	_, err := runCLI(t, api, "", "login", "alice")
	require.Error(t, err)
	assert.Empty(t, api.method, "no request without a credential")
}

func TestPasswdReadsTwoLines(t *testing.T) {
	api := &fakeAPI{status: http.StatusNoContent}

	out, err := runCLI(t, api, "old\nnew\n", "account", "passwd", "alice")
	require.NoError(t, err)

	assert.Equal(t, http.MethodPut, api.method)
	assert.Equal(t, "/api/v1/accounts/alice/password", api.path)
	assert.Equal(t, map[string]string{"current": "old", "new": "new"}, api.body)
	assert.Equal(t, "Password changed\n", out)
}

func TestPrincipalIsPathEscaped(t *testing.T) {
	api := &fakeAPI{status: http.StatusNoContent}

	_, err := runCLI(t, api, "", "logout", "a/b")
	require.NoError(t, err)
	assert.Equal(t, http.MethodDelete, api.method)
	assert.Equal(t, "/api/v1/sessions/a%2Fb", api.path)
}

func TestAPIErrorsAreTyped(t *testing.T) {
	api := &fakeAPI{
		status:   http.StatusTooManyRequests,
		response: `{"error":{"code":"RATE_LIMITED","message":"Too many failed attempts","reason":"rate-limited"}}`,
	}

	_, err := runCLI(t, api, "pw1\n", "login", "alice")
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusTooManyRequests, apiErr.Status)
	assert.Equal(t, "RATE_LIMITED", apiErr.Code)
	assert.Equal(t, "rate-limited", apiErr.Reason)
}

func TestNonJSONErrorResponse(t *testing.T) {
	api := &fakeAPI{status: http.StatusBadGateway, response: "upstream down"}

	_, err := runCLI(t, api, "", "health")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadGateway, apiErr.Status)
}

func TestHealthFailsUnlessOK(t *testing.T) {
	api := &fakeAPI{status: http.StatusOK, response: `{"status":"ok","server_id":"east"}`}
	_, err := runCLI(t, api, "", "health")
	require.NoError(t, err)

	api.response = `{"status":"degraded","server_id":"east"}`
	_, err = runCLI(t, api, "", "health")
	require.Error(t, err)
}

func TestCodeLoginPrintsCodeAndURL(t *testing.T) {
	api := &fakeAPI{
		status:   http.StatusCreated,
		response: `{"principal":"alice","code":"AbCd1234","kind":"login","expires_at":"2024-01-01T12:05:00Z","url":"https://example.com/?code=AbCd1234"}`,
	}

	out, err := runCLI(t, api, "", "code", "login", "alice")
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, api.method)
	assert.Equal(t, "/api/v1/login-codes", api.path)
	assert.Equal(t, map[string]string{"principal": "alice"}, api.body)
	assert.Contains(t, out, "Code:    AbCd1234\n")
	assert.Contains(t, out, "Expires: 2024-01-01T12:05:00Z\n")
	assert.Contains(t, out, "URL:     https://example.com/?code=AbCd1234\n")
}

func TestCodeClaim(t *testing.T) {
	api := &fakeAPI{status: http.StatusOK, response: `{"principal":"alice"}`}

	out, err := runCLI(t, api, "", "code", "claim", "AbCd1234", "--address", "203.0.113.9")
	require.NoError(t, err)

	assert.Equal(t, "/api/v1/login-codes/claim", api.path)
	assert.Equal(t, map[string]string{"code": "AbCd1234", "address": "203.0.113.9"}, api.body)
	assert.Equal(t, "Code belongs to alice\n", out)
}

func TestCodeRedeemReadsCodeFromStdin(t *testing.T) {
	api := &fakeAPI{status: http.StatusOK, response: `{"authorized":true}`}

	out, err := runCLI(t, api, "WebCode1\n", "code", "redeem", "alice", "--address", "10.0.0.1")
	require.NoError(t, err)

	assert.Equal(t, "/api/v1/web-codes/redeem", api.path)
	assert.Equal(t, map[string]string{"principal": "alice", "address": "10.0.0.1", "code": "WebCode1"}, api.body)
	assert.Equal(t, "authorized\n", out)
}

func TestCodeWebIssues(t *testing.T) {
	api := &fakeAPI{
		status:   http.StatusCreated,
		response: `{"principal":"alice","code":"WebCode1","kind":"web","expires_at":"2024-01-01T12:10:00Z"}`,
	}

	out, err := runCLI(t, api, "", "code", "web", "alice", "-o", "json")
	require.NoError(t, err)

	assert.Equal(t, "/api/v1/web-codes", api.path)
	var printed Code
	require.NoError(t, json.Unmarshal([]byte(out), &printed))
	assert.Equal(t, "WebCode1", printed.Code)
	assert.Equal(t, "web", printed.Kind)
}

func TestStatusOutput(t *testing.T) {
	api := &fakeAPI{
		status:   http.StatusOK,
		response: `{"principal":"alice","connected":true,"state":"AUTHENTICATED","authorized":true,"server_id":"east"}`,
	}

	out, err := runCLI(t, api, "", "status", "alice")
	require.NoError(t, err)
	assert.Contains(t, out, "State:      AUTHENTICATED")
	assert.Contains(t, out, "Server:     east")

	out, err = runCLI(t, api, "", "--output", "json", "status", "alice")
	require.NoError(t, err)
	var status Status
	require.NoError(t, json.Unmarshal([]byte(out), &status))
	assert.True(t, status.Authorized)
}

func TestDecisionOutput(t *testing.T) {
	tests := []struct {
		decision Decision
		want     string
	}{
		{Decision{Authorized: true}, "authorized\n"},
		{Decision{Authorized: true, Reason: "session-resumed"}, "authorized (session-resumed)\n"},
		{Decision{Reason: "login-required"}, "denied (login-required)\n"},
	}

	for _, tt := range tests {
		var buf bytes.Buffer
		NewOutput("text", &buf).Print(tt.decision)
		assert.Equal(t, tt.want, buf.String())
	}
}

func TestEventsStream(t *testing.T) {
	stream := "event: connected\ndata: {\"status\":\"connected\"}\n\n" +
		": keepalive\n\n" +
		"event: demoted\ndata: {\"principal\":\"alice\"}\n\n"

	t.Run("text", func(t *testing.T) {
		api := &fakeAPI{status: http.StatusOK, response: stream}

		out, err := runCLI(t, api, "", "events")
		require.NoError(t, err)
		assert.Equal(t, "/api/v1/events", api.path)
		assert.Equal(t, "Bearer k1", api.auth)
		assert.True(t, strings.HasPrefix(out, "Connected\n"))
		assert.Contains(t, out, `demoted: {"principal":"alice"}`)
		assert.True(t, strings.HasSuffix(out, "Disconnected\n"))
	})

	t.Run("json with limit", func(t *testing.T) {
		api := &fakeAPI{status: http.StatusOK, response: stream}

		out, err := runCLI(t, api, "", "-o", "json", "events", "--limit", "1")
		require.NoError(t, err)

		lines := strings.Split(strings.TrimSpace(out), "\n")
		require.Len(t, lines, 1)
		var evt SSEEvent
		require.NoError(t, json.Unmarshal([]byte(lines[0]), &evt))
		assert.Equal(t, "connected", evt.Event)
	})

	t.Run("error status", func(t *testing.T) {
		api := &fakeAPI{
			status:   http.StatusUnauthorized,
			response: `{"error":{"code":"UNAUTHORIZED","message":"Host key required"}}`,
		}

		_, err := runCLI(t, api, "", "events")
		var apiErr *APIError
		require.True(t, errors.As(err, &apiErr))
		assert.Equal(t, "UNAUTHORIZED", apiErr.Code)
	})
}

func TestCredentialFlagWins(t *testing.T) {
	cmd := &cobra.Command{}
	cmd.SetIn(strings.NewReader("from-stdin\n"))

	got, err := newCredentialReader(cmd).read("from-flag", "Password")
	require.NoError(t, err)
	assert.Equal(t, "from-flag", got)
}

func TestLoadHostKeyFromFile(t *testing.T) {
	path := t.TempDir() + "/host-key"
	require.NoError(t, writeFile(path, "secret-key\n"))

	c := &Config{HostKeyFile: path}
	require.NoError(t, c.LoadHostKey())
	assert.Equal(t, "secret-key", c.HostKey)

	// Missing file is fine
	c = &Config{HostKeyFile: path + ".missing"}
	require.NoError(t, c.LoadHostKey())
	assert.Empty(t, c.HostKey)
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o600)
}
