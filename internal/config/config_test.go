package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"untiscal/internal/errs"
)

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestLoadWritesDefaultsOnFirstRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "untiscal.yaml")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	again, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, again)
}

func TestLoadNormalizesPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "untiscal.yaml")
	require.NoError(t, os.WriteFile(path, []byte("timezone: Europe/Vienna\nsync:\n  page_size: 50\ncalendar:\n  backend: ICS\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "Europe/Vienna", cfg.Timezone)
	assert.Equal(t, 50, cfg.Sync.PageSize)
	assert.Equal(t, 7, cfg.Sync.LookbackDays)
	assert.Equal(t, 90, cfg.Sync.LookaheadDays)
	assert.Equal(t, BackendICS, cfg.Calendar.Backend)
	assert.Equal(t, "weekly_data", cfg.Data.Dir)
	require.NoError(t, cfg.Validate())
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "untiscal.yaml")
	require.NoError(t, os.WriteFile(path, []byte("sync: [\n"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrConfig))
}

func TestSaveNeverWritesPassword(t *testing.T) {
	path := filepath.Join(t.TempDir(), "untiscal.yaml")
	cfg := DefaultConfig()
	cfg.Untis.Password = "hunter2"

	require.NoError(t, cfg.Save(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "hunter2")
}

func TestApplyEnv(t *testing.T) {
	cfg := DefaultConfig()
	err := cfg.ApplyEnv(envMap(map[string]string{
		EnvSchool:     "BSZ GTW",
		EnvUsername:   "student",
		EnvPassword:   "secret",
		EnvWeeks:      "2",
		EnvHeadless:   "false",
		EnvCalendarID: "school@group.calendar.google.com",
		EnvLogLevel:   "debug",
	}))
	require.NoError(t, err)

	assert.Equal(t, "BSZ GTW", cfg.Untis.School)
	assert.Equal(t, "student", cfg.Untis.Username)
	assert.Equal(t, "secret", cfg.Untis.Password)
	assert.Equal(t, 2, cfg.Untis.Weeks)
	assert.True(t, cfg.Untis.ShowBrowser)
	assert.Equal(t, "school@group.calendar.google.com", cfg.Calendar.CalendarID)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestApplyEnvRejectsBadValues(t *testing.T) {
	for _, env := range []map[string]string{
		{EnvWeeks: "many"},
		{EnvWeeks: "0"},
		{EnvHeadless: "sometimes"},
	} {
		err := DefaultConfig().ApplyEnv(envMap(env))
		require.Error(t, err)
		assert.True(t, errors.Is(err, errs.ErrConfig))
	}
}

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("UNTISCAL_TEST_ONLY_VAR=from-file\n"), 0o600))
	t.Setenv("UNTISCAL_TEST_ONLY_VAR", "")
	os.Unsetenv("UNTISCAL_TEST_ONLY_VAR")

	require.NoError(t, LoadEnv(filepath.Join(t.TempDir(), "missing.env"), path))
	assert.Equal(t, "from-file", os.Getenv("UNTISCAL_TEST_ONLY_VAR"))
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.Schedule = "every now and then"
	assert.True(t, errors.Is(cfg.Validate(), errs.ErrConfig))

	cfg = DefaultConfig()
	cfg.Timezone = "Mars/Olympus"
	assert.True(t, errors.Is(cfg.Validate(), errs.ErrConfig))

	cfg = DefaultConfig()
	cfg.Calendar.Backend = "outlook"
	assert.True(t, errors.Is(cfg.Validate(), errs.ErrConfig))
}
