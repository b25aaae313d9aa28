package ouroboros

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jordanhubbard/ouroboros/pkg/config"
	"github.com/jordanhubbard/ouroboros/pkg/models"
)

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Database.Type = "memory"
	cfg.Agent.PollInterval = 20 * time.Millisecond
	cfg.LLM = config.LLMConfig{
		DefaultModelID: "local",
		Backends:       []config.BackendConfig{{Type: "mock", ModelID: "local"}},
	}
	return cfg
}

func TestNew_UnsupportedBackend(t *testing.T) {
	cfg := testConfig()
	cfg.LLM.Backends[0].Type = "carrier-pigeon"
	_, err := New(cfg)
	assert.Error(t, err)
}

func TestNew_DatabaseLeaseNeedsDatabase(t *testing.T) {
	cfg := testConfig()
	cfg.Lease.Backend = "database"
	_, err := New(cfg)
	assert.Error(t, err)
}

func TestNew_SQLite(t *testing.T) {
	cfg := testConfig()
	cfg.Database.Type = "sqlite"
	cfg.Database.Path = t.TempDir() + "/ouroboros.db"
	cfg.Lease.Backend = "database"

	o, err := New(cfg)
	require.NoError(t, err)
	defer o.Shutdown()
	assert.NotNil(t, o.database)
}

func TestEndToEnd_SubmitAndProcess(t *testing.T) {
	o, err := New(testConfig(), WithVersion("test"))
	require.NoError(t, err)
	defer o.Shutdown()
	require.NoError(t, o.Initialize(context.Background()))

	ts := httptest.NewServer(o.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Post(ts.URL+"/api/v1/work-items", "application/json",
		strings.NewReader(`{"description":"Generate a config parser","created_by":"alice"}`))
	require.NoError(t, err)
	var item models.WorkItem
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&item))
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	require.Eventually(t, func() bool {
		got, err := o.Store().FindByID(context.Background(), item.ID)
		return err == nil && got.Status == models.WorkItemStatusCompleted
	}, 3*time.Second, 20*time.Millisecond)

	assert.False(t, o.TrackerSync().Enabled())
	assert.True(t, o.Poller().Stats().Running)
}

func TestApplyConfig(t *testing.T) {
	o, err := New(testConfig())
	require.NoError(t, err)
	defer o.Shutdown()

	cfg := testConfig()
	cfg.Tracker.Enabled = true
	cfg.Logging.Level = "debug"
	o.ApplyConfig(cfg)

	assert.True(t, o.TrackerSync().Enabled())

	cfg.Tracker.Enabled = false
	cfg.Logging.Level = "info"
	o.ApplyConfig(cfg)
	assert.False(t, o.TrackerSync().Enabled())
}

func TestShutdown_Idempotent(t *testing.T) {
	o, err := New(testConfig())
	require.NoError(t, err)
	require.NoError(t, o.Initialize(context.Background()))
	o.Shutdown()
	o.Shutdown()
	assert.False(t, o.Poller().Stats().Running)
}
