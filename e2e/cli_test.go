package e2e_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcoot/logingate/internal/api"
	"github.com/mcoot/logingate/internal/api/sse"
	"github.com/mcoot/logingate/internal/factory"
)

const hostKey = "e2e-host-key"

// cliRunner manages CLI binary execution
type cliRunner struct {
	binaryPath string
	hostKey    string
}

func newCLIRunner(t *testing.T) *cliRunner {
	t.Helper()

	// Find project root (where go.mod is)
	projectRoot := findProjectRoot(t)

	// Build the CLI binary
	binaryPath := filepath.Join(t.TempDir(), "gatectl-test")
	cmd := exec.Command("go", "build", "-o", binaryPath, "./cmd/gatectl")
	cmd.Dir = projectRoot
	output, err := cmd.CombinedOutput()
	require.NoError(t, err, "failed to build CLI: %s", string(output))

	return &cliRunner{
		binaryPath: binaryPath,
		hostKey:    hostKey,
	}
}

// run executes gatectl against serverURL, feeding stdin to the process
func (r *cliRunner) run(serverURL, stdin string, args ...string) (string, error) {
	fullArgs := append([]string{
		"--server", serverURL,
		"--host-key", r.hostKey,
		"--host-key-file", filepath.Join(os.TempDir(), "gatectl-e2e-missing"),
		"--output", "json",
	}, args...)

	cmd := exec.Command(r.binaryPath, fullArgs...)
	cmd.Stdin = strings.NewReader(stdin)
	cmd.Env = append(os.Environ(), "LOGINGATE_HOST_KEY=", "LOGINGATE_SERVER=")
	output, err := cmd.CombinedOutput()
	return string(output), err
}

func findProjectRoot(t *testing.T) string {
	t.Helper()

	dir, err := os.Getwd()
	require.NoError(t, err)

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatal("could not find project root (go.mod)")
		}
		dir = parent
	}
}

// cluster runs two gate servers sharing one store, each behind its own
// HTTP listener
type cluster struct {
	east, west       *httptest.Server
	eastApp, westApp *factory.TestApp
	eastHub          *sse.Hub
}

func startCluster(t *testing.T) *cluster {
	t.Helper()

	apps := factory.NewTestCluster("east", "west")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	c := &cluster{eastApp: apps[0], westApp: apps[1]}
	servers := make([]*httptest.Server, 0, len(apps))
	hubs := make([]*sse.Hub, 0, len(apps))
	for _, app := range apps {
		require.NoError(t, app.Start(context.Background()))

		hub := sse.NewHub(logger)
		go hub.Run()
		events := sse.NewNotifier(hub, app.Gate.ServerID())
		app.Gate.AddDemoteHandler(events.Demoted)
		hubs = append(hubs, hub)

		router := api.NewRouter(api.RouterConfig{
			Logger:  logger,
			Gate:    app.Gate,
			HostKey: hostKey,
			Events:  events,
		})
		servers = append(servers, httptest.NewServer(router))
	}
	c.east, c.west = servers[0], servers[1]
	c.eastHub = hubs[0]

	t.Cleanup(func() {
		for _, hub := range hubs {
			hub.Close()
		}
		c.east.Close()
		c.west.Close()
		_ = c.eastApp.Close()
		_ = c.westApp.Close()
	})
	return c
}

// Response types for JSON parsing
type decisionResponse struct {
	Authorized bool   `json:"authorized"`
	Reason     string `json:"reason"`
}

type statusResponse struct {
	Principal  string `json:"principal"`
	Connected  bool   `json:"connected"`
	State      string `json:"state"`
	Authorized bool   `json:"authorized"`
	ServerID   string `json:"server_id"`
}

type healthResponse struct {
	Status   string `json:"status"`
	ServerID string `json:"server_id"`
}

type codeResponse struct {
	Principal string `json:"principal"`
	Code      string `json:"code"`
	Kind      string `json:"kind"`
}

type messageResponse struct {
	Message string `json:"message"`
}

func decode[T any](t *testing.T, output string) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal([]byte(output), &v), "output: %s", output)
	return v
}

// Tests

func TestCLI_HealthCheck(t *testing.T) {
	c := startCluster(t)
	cli := newCLIRunner(t)

	output, err := cli.run(c.east.URL, "", "health")
	require.NoError(t, err, "output: %s", output)

	resp := decode[healthResponse](t, output)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "east", resp.ServerID)
}

func TestCLI_LoginMovesBetweenServers(t *testing.T) {
	c := startCluster(t)
	cli := newCLIRunner(t)

	// Register with the password on stdin
	output, err := cli.run(c.east.URL, "pw1\n", "account", "register", "alice")
	require.NoError(t, err, "output: %s", output)
	assert.Equal(t, "Registered alice", decode[messageResponse](t, output).Message)

	// Connecting before login needs a credential
	output, err = cli.run(c.east.URL, "", "connect", "alice", "--address", "10.0.0.1")
	require.NoError(t, err, "output: %s", output)
	d := decode[decisionResponse](t, output)
	assert.False(t, d.Authorized)
	assert.Equal(t, "login-required", d.Reason)

	output, err = cli.run(c.east.URL, "pw1\n", "login", "alice", "--address", "10.0.0.1")
	require.NoError(t, err, "output: %s", output)
	assert.True(t, decode[decisionResponse](t, output).Authorized)

	output, err = cli.run(c.east.URL, "", "status", "alice")
	require.NoError(t, err, "output: %s", output)
	status := decode[statusResponse](t, output)
	assert.True(t, status.Authorized)
	assert.Equal(t, "AUTHENTICATED", status.State)

	// Logging in on west evicts east
	output, err = cli.run(c.west.URL, "pw1\n", "login", "alice", "--address", "10.0.0.2")
	require.NoError(t, err, "output: %s", output)
	assert.True(t, decode[decisionResponse](t, output).Authorized)

	assert.Eventually(t, func() bool {
		output, err := cli.run(c.east.URL, "", "status", "alice")
		var status statusResponse
		if err != nil || json.Unmarshal([]byte(output), &status) != nil {
			return false
		}
		return !status.Authorized
	}, 5*time.Second, 50*time.Millisecond)

	// Touch keeps west's lease alive, logout ends it everywhere
	output, err = cli.run(c.west.URL, "", "touch", "alice")
	require.NoError(t, err, "output: %s", output)
	assert.True(t, decode[decisionResponse](t, output).Authorized)

	output, err = cli.run(c.east.URL, "", "logout", "alice")
	require.NoError(t, err, "output: %s", output)

	assert.Eventually(t, func() bool {
		return !c.westApp.Gate.IsAuthorized("alice")
	}, 5*time.Second, 10*time.Millisecond)
}

func TestCLI_BadCredential(t *testing.T) {
	c := startCluster(t)
	cli := newCLIRunner(t)

	output, err := cli.run(c.east.URL, "", "account", "register", "bob", "--credential", "pw1")
	require.NoError(t, err, "output: %s", output)

	output, err = cli.run(c.east.URL, "hunter2\n", "login", "bob")
	require.Error(t, err)
	assert.Contains(t, output, "BAD_CREDENTIAL")
	assert.NotContains(t, output, "hunter2")
}

func TestCLI_AccountLifecycle(t *testing.T) {
	c := startCluster(t)
	cli := newCLIRunner(t)

	output, err := cli.run(c.east.URL, "pw1\n", "account", "register", "carol")
	require.NoError(t, err, "output: %s", output)

	// Current then new password on stdin
	output, err = cli.run(c.west.URL, "pw1\npw2\n", "account", "passwd", "carol")
	require.NoError(t, err, "output: %s", output)

	output, err = cli.run(c.east.URL, "pw2\n", "login", "carol")
	require.NoError(t, err, "output: %s", output)
	assert.True(t, decode[decisionResponse](t, output).Authorized)

	output, err = cli.run(c.east.URL, "pw2\n", "account", "remove", "carol")
	require.NoError(t, err, "output: %s", output)

	output, err = cli.run(c.east.URL, "pw2\n", "login", "carol")
	require.Error(t, err)
	assert.Contains(t, output, "UNKNOWN_PRINCIPAL")
}

func TestCLI_CodesCrossServers(t *testing.T) {
	c := startCluster(t)
	cli := newCLIRunner(t)

	// The website asks east for a web code; the player types it on west
	output, err := cli.run(c.east.URL, "", "code", "web", "erin")
	require.NoError(t, err, "output: %s", output)
	web := decode[codeResponse](t, output)
	assert.Equal(t, "web", web.Kind)
	require.Len(t, web.Code, 8)

	output, err = cli.run(c.west.URL, web.Code+"\n", "code", "redeem", "erin", "--address", "10.0.0.5")
	require.NoError(t, err, "output: %s", output)
	assert.True(t, decode[decisionResponse](t, output).Authorized)
	assert.True(t, c.westApp.Gate.IsAuthorized("erin"))

	output, err = cli.run(c.east.URL, web.Code+"\n", "code", "redeem", "erin")
	require.Error(t, err)
	assert.Contains(t, output, "INVALID_CODE")

	// A login code shown on west is claimed through east
	output, err = cli.run(c.west.URL, "", "code", "login", "erin")
	require.NoError(t, err, "output: %s", output)
	login := decode[codeResponse](t, output)

	output, err = cli.run(c.east.URL, "", "code", "claim", login.Code)
	require.NoError(t, err, "output: %s", output)
	assert.Equal(t, "Code belongs to erin", decode[messageResponse](t, output).Message)
}

func TestCLI_HostKeyRequired(t *testing.T) {
	c := startCluster(t)
	cli := newCLIRunner(t)
	cli.hostKey = "wrong"

	output, err := cli.run(c.east.URL, "", "status", "alice")
	require.Error(t, err)
	assert.Contains(t, output, "UNAUTHORIZED")

	// Health stays open
	resp, err := http.Get(c.east.URL + "/api/v1/health")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCLI_EventsReportDemotion(t *testing.T) {
	c := startCluster(t)
	cli := newCLIRunner(t)

	output, err := cli.run(c.east.URL, "", "account", "register", "dave", "--credential", "pw1")
	require.NoError(t, err, "output: %s", output)
	output, err = cli.run(c.east.URL, "pw1\n", "login", "dave")
	require.NoError(t, err, "output: %s", output)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	events := exec.CommandContext(ctx, cli.binaryPath,
		"--server", c.east.URL, "--host-key", hostKey, "--output", "json",
		"events", "--limit", "2")
	var stdout strings.Builder
	events.Stdout = &stdout
	require.NoError(t, events.Start())

	require.Eventually(t, func() bool {
		return c.eastHub.ClientCount() == 1
	}, 5*time.Second, 10*time.Millisecond)

	// Logging in on west demotes east's connection
	output, err = cli.run(c.west.URL, "pw1\n", "login", "dave")
	require.NoError(t, err, "output: %s", output)

	require.NoError(t, events.Wait(), "output: %s", stdout.String())

	type sseEvent struct {
		Event string `json:"event"`
		Data  string `json:"data"`
	}
	lines := strings.Split(strings.TrimSpace(stdout.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "connected", decode[sseEvent](t, lines[0]).Event)

	demoted := decode[sseEvent](t, lines[1])
	assert.Equal(t, "demoted", demoted.Event)
	assert.JSONEq(t, `{"principal":"dave","reason":"logged-out-by-peer","server_id":"east"}`, demoted.Data)
}
