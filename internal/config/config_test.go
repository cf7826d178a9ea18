package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)
	if diff := cmp.Diff(Default(), cfg, cmpopts.EquateEmpty()); diff != "" {
		t.Fatalf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "gqlinput.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
server:
  addr: ":9000"
  timeout: 3s
  metadata-headers: [Authorization, X-Tenant]
graphql:
  schema: schema.graphql
`), 0o644))
	t.Setenv("GQLINPUT_SERVER_ADDR", ":9100")
	t.Setenv("GQLINPUT_SERVER_REQUEST_ID_AS_EXECUTION_ID", "false")
	t.Setenv("GQLINPUT_LOG_LEVEL", "debug")

	cfg, err := Load(viper.New(), file)
	require.NoError(t, err)
	require.Equal(t, ":9100", cfg.Server.Addr)
	require.Equal(t, 3*time.Second, cfg.Server.Timeout)
	require.Equal(t, []string{"Authorization", "X-Tenant"}, cfg.Server.MetadataHeaders)
	require.False(t, cfg.Server.RequestIDAsExecutionID)
	require.Equal(t, "schema.graphql", cfg.GraphQL.Schema)
	require.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(viper.New(), filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Server.Addr = ""
	cfg.GraphQL.CacheSize = 0
	cfg.Log.Level = "loud"
	err := cfg.Validate()
	require.ErrorContains(t, err, "server.addr is required")
	require.ErrorContains(t, err, "graphql.cache-size")
	require.ErrorContains(t, err, "log.level")
}
