package factory

import (
	"io"
	"log/slog"
	"time"

	"github.com/mcoot/logingate/internal/dependencies/mocks"
	"github.com/mcoot/logingate/internal/services/gate"
	"github.com/mcoot/logingate/internal/services/hasher"
	"github.com/mcoot/logingate/internal/storage/memory"
)

// TestApp extends App with test-specific helpers
type TestApp struct {
	*App

	// Mocks for test control
	MockClock  *mocks.MockClock
	MockRandom *mocks.MockRandom
}

// NewTestApp creates an App configured for testing with mocked dependencies
func NewTestApp() *TestApp {
	return NewTestCluster("server-1")[0]
}

// NewTestCluster creates one App per server ID, all sharing a single
// in-memory store, mock clock and mock random the way real servers share Redis
func NewTestCluster(serverIDs ...string) []*TestApp {
	mockClock := mocks.NewMockClock(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	store := memory.New(mockClock)
	// One source for the cluster so codes drawn by different servers differ
	mockRandom := mocks.NewMockRandom()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))

	apps := make([]*TestApp, 0, len(serverIDs))
	for _, id := range serverIDs {
		gateCfg := gate.DefaultConfig()
		gateCfg.ServerID = id

		// Cheap parameters keep tests fast
		h := hasher.NewArgon2id(hasher.Config{WorkFactor: 1, MemoryKiB: 1024, Threads: 1}, mockRandom)
		app := newWithDependencies(store, mockClock, mockRandom, h, Config{GateConfig: gateCfg, HashConcurrency: 2}, logger)

		apps = append(apps, &TestApp{
			App:        app,
			MockClock:  mockClock,
			MockRandom: mockRandom,
		})
	}
	return apps
}

func hasherConfig(algorithm string) hasher.Config {
	cfg := hasher.DefaultConfig()
	cfg.Algorithm = algorithm
	return cfg
}
