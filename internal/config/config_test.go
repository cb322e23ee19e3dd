package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"petcare/internal/care"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default("home")
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "home", cfg.Household.ID)
	assert.Equal(t, "UTC", cfg.Household.Timezone)
	assert.Equal(t, care.Thresholds{Critical: 1, Urgent: 3, Soon: 7}, cfg.Thresholds)
	assert.Contains(t, cfg.RolePermissions("owner"), PermHouseholdAdmin)
	assert.NotContains(t, cfg.RolePermissions("viewer"), PermItemWrite)
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := Default("home")
	cfg.Capabilities.SeasonalDeck = true
	cfg.Thresholds = care.Thresholds{Soon: 2, Urgent: 9, Critical: 1}
	cfg.AbnormalAnswers = []string{"off"}

	opts := cfg.Options()
	assert.True(t, opts.Capabilities.SeasonalDeck)
	assert.False(t, opts.Capabilities.HighlightPhotos)
	assert.Equal(t, []string{"off"}, opts.AbnormalAnswers)
	// raw thresholds are carried through untouched
	assert.Equal(t, 9, opts.Thresholds.Urgent)
	assert.Equal(t, 6, opts.Layout.Capacity)
	assert.Equal(t, 2, opts.Caps.Notes)
}

func TestFromYAMLValidation(t *testing.T) {
	testCases := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "missing household id",
			yaml:    "household: {timezone: UTC}\nabnormal_answers: [yes]\n",
			wantErr: "validation failed",
		},
		{
			name:    "unknown time zone",
			yaml:    "household: {id: h, timezone: Mars/Olympus}\nabnormal_answers: [yes]\n",
			wantErr: "timezone",
		},
		{
			name:    "no abnormal answers",
			yaml:    "household: {id: h, timezone: UTC}\n",
			wantErr: "validation failed",
		},
		{
			name:    "bad webhook url",
			yaml:    "household: {id: h, timezone: UTC}\nabnormal_answers: [yes]\nwebhooks: [{url: not-a-url}]\n",
			wantErr: "validation failed",
		},
		{
			name:    "bad log level",
			yaml:    "household: {id: h, timezone: UTC}\nabnormal_answers: [yes]\nlogging: {level: loud}\n",
			wantErr: "validation failed",
		},
		{
			name:    "rbac without owner",
			yaml:    "household: {id: h, timezone: UTC}\nabnormal_answers: [yes]\nrbac: {roles: {viewer: {permissions: [item.read]}}}\n",
			wantErr: "owner",
		},
		{
			name:    "duplicate subject",
			yaml:    "household: {id: h, timezone: UTC}\nabnormal_answers: [yes]\nsubjects: [{id: a, name: A}, {id: a, name: B}]\n",
			wantErr: "twice",
		},
		{
			name:    "malformed yaml",
			yaml:    "household: [",
			wantErr: "invalid config yaml",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := FromYAML([]byte(tc.yaml))
			require.Error(t, err)
			assert.Nil(t, cfg)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestOutOfOrderThresholdsAreAccepted(t *testing.T) {
	cfg, err := FromYAML([]byte("household: {id: h, timezone: UTC}\nabnormal_answers: [yes]\ninventory_thresholds: {soon: 2, urgent: 9, critical: 1}\n"))
	require.NoError(t, err)
	assert.Equal(t, care.Thresholds{Soon: 2, Urgent: 2, Critical: 1}, care.NormalizeThresholds(cfg.Thresholds))
}

func TestYAMLRoundTripThroughWorkspace(t *testing.T) {
	dir := t.TempDir()
	cfg := Default("home")
	cfg.Subjects = []SubjectConfig{{ID: "mochi", Name: "Mochi", Species: "cat"}}
	data, err := cfg.ToYAML()
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "petcare.yml"), data, 0o644))

	loaded, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, cfg.Subjects, loaded.Subjects)
	require.Len(t, loaded.SeedSubjects(), 1)
	assert.Equal(t, "home", loaded.SeedSubjects()[0].HouseholdID)

	missing, err := LoadOptional(t.TempDir())
	require.NoError(t, err)
	assert.Nil(t, missing)
}
