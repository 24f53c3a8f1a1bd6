package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 48*time.Hour, cfg.DSR.VerificationTTL)
	assert.Equal(t, 5*time.Minute, cfg.DSR.ThrottleWindow)
	assert.Equal(t, "@every 15m", cfg.DSR.OverdueSchedule)
	assert.Equal(t, devTokenSecret, cfg.Security.TokenSecret)
	assert.Equal(t, 30, cfg.Policy.SLADays["GDPR"])
	assert.Equal(t, 45, cfg.Policy.SLADays["CCPA"])
	assert.False(t, cfg.IsProduction())
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("PRIVACYHUB_SERVER_ADDR", ":9999")
	t.Setenv("PRIVACYHUB_DSR_VERIFICATION_TTL", "24h")
	t.Setenv("PRIVACYHUB_SERVER_TRUSTED_PROXIES", "10.0.0.0/8,192.168.0.0/16")
	t.Setenv("PRIVACYHUB_DSR_REQUIRE_MANUAL_REVIEW", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9999", cfg.Server.Addr)
	assert.Equal(t, 24*time.Hour, cfg.DSR.VerificationTTL)
	assert.Equal(t, []string{"10.0.0.0/8", "192.168.0.0/16"}, cfg.Server.TrustedProxies)
	assert.True(t, cfg.DSR.RequireManualReview)
}

func TestLoadReadsDotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("PRIVACYHUB_LOG_LEVEL=debug\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("PRIVACYHUB_LOG_LEVEL") })

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadProductionRequiresSecrets(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("PRIVACYHUB_ENVIRONMENT", "production")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadPolicyOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	content := `
sla_days:
  gdpr: 20
blocking_rules:
  - id: custom
    pattern: tracker.example.com
    category: analytics
    action: block
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	policy, err := LoadPolicy(path)
	require.NoError(t, err)

	assert.Equal(t, 20, policy.SLADays["GDPR"])
	assert.Equal(t, 45, policy.SLADays["CCPA"], "regulations the file leaves out keep their default")
	assert.Equal(t, 15, policy.SLADays["LGPD"])
	assert.Len(t, policy.SLADays, len(DefaultPolicy().SLADays))
	require.Len(t, policy.BlockingRules, 1, "other sections still replace the default section")
	assert.Equal(t, "custom", policy.BlockingRules[0].ID)
	assert.Equal(t, DefaultPolicy().Categories, policy.Categories)
}

func TestPolicyValidate(t *testing.T) {
	p := DefaultPolicy()
	require.NoError(t, p.Validate())

	p.SLADays["GDPR"] = 0
	assert.Error(t, p.Validate())

	p = DefaultPolicy()
	p.Categories = []string{"analytics"}
	assert.Error(t, p.Validate())

	p = DefaultPolicy()
	p.BlockingRules = []RuleSpec{{Pattern: "x", Category: "analytics", Action: "explode"}}
	assert.Error(t, p.Validate())
}

func TestLoadPolicyMissingFile(t *testing.T) {
	_, err := LoadPolicy(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
