package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "test-config.yaml")

	configContent := `role: join
signalling_url: "wss://relay.example.com"
moq_url: "https://moq.example.com"
session_id: "sess-1"
secret: "deadbeef"
group_id: "group-1"
peer_pubkeys:
  - "02abc"
logging:
  level: debug
`
	require.NoError(t, os.WriteFile(configPath, []byte(configContent), 0o644))

	cfg, err := LoadFromFile(configPath)
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, RoleJoin, cfg.Role)
	assert.Equal(t, "wss://relay.example.com", cfg.SignallingURL)
	assert.Equal(t, "group-1", cfg.GroupID)
	assert.Equal(t, []string{"02abc"}, cfg.PeerPubkeys)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format) // default filled in
	assert.Equal(t, 60*time.Second, cfg.BootstrapTimeout)
	assert.Equal(t, 2*time.Second, cfg.BootstrapHeartbeat)
}

func TestLoadFromFile_MissingGroupIDOnJoin(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "bad-config.yaml")

	require.NoError(t, os.WriteFile(configPath, []byte(`
role: join
signalling_url: "wss://relay.example.com"
moq_url: "https://moq.example.com"
session_id: "sess-1"
secret: "deadbeef"
`), 0o644))

	_, err := LoadFromFile(configPath)
	assert.Error(t, err)
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "roundtrip.yaml")

	cfg := &Config{
		Role:          RoleCreate,
		SignallingURL: "wss://relay.example.com",
		MoQURL:        "https://moq.example.com",
		SessionID:     "sess-2",
		Secret:        "cafebabe",
		AdminPubkeys:  []string{"03def"},
	}
	setDefaults(cfg)

	require.NoError(t, SaveToFile(cfg, configPath))

	loaded, err := LoadFromFile(configPath)
	require.NoError(t, err)
	assert.Equal(t, cfg.SessionID, loaded.SessionID)
	assert.Equal(t, cfg.AdminPubkeys, loaded.AdminPubkeys)
}

func TestSubstituteEnvVars(t *testing.T) {
	os.Setenv("MARMOT_TEST_VAR", "resolved")
	defer os.Unsetenv("MARMOT_TEST_VAR")

	assert.Equal(t, "resolved", SubstituteEnvVars("${MARMOT_TEST_VAR}"))
	assert.Equal(t, "fallback", SubstituteEnvVars("${MARMOT_TEST_UNSET:fallback}"))
}
