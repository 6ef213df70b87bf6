package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const seedYAML = `
responders:
  - name: Alice
    platform: telegram
    chat_id: "5001"
    slots:
      - {day: 0, start: "09:00", end: "17:00", primary: true}
  - name: Bob
    platform: slack
    chat_id: U0BOB
    slots:
      - {day: 0, start: "09:00", end: "17:00", primary: false}
knowledge:
  - title: Password reset
    pattern: how to reset password
    solution: Use the forgot password link on the login page.
    category: password_reset
    keywords: [password, reset, login]
    steps: ["Open the login page", "Click forgot password"]
    threshold: 0.5
escalation_rules:
  - {priority: urgent, timeout_seconds: 300, max_level: 3}
`

func writeSeed(t *testing.T, content string) string {
	path := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadSeedFile(t *testing.T) {
	db := setupTestDatabase(t)
	path := writeSeed(t, seedYAML)

	require.NoError(t, LoadSeedFile(db, path))

	var responders []Responder
	db.Order("id").Find(&responders)
	require.Len(t, responders, 2)
	assert.Equal(t, "Alice", responders[0].Name)
	assert.True(t, responders[0].Active)
	assert.Equal(t, PlatformSlack, responders[1].Platform)

	var slots []ScheduleSlot
	db.Order("id").Find(&slots)
	require.Len(t, slots, 2)
	assert.True(t, slots[0].IsPrimary)
	assert.False(t, slots[1].IsPrimary)
	assert.Equal(t, responders[1].ID, slots[1].ResponderID)

	var entry KnowledgeEntry
	require.NoError(t, db.First(&entry).Error)
	assert.Equal(t, "password,reset,login", entry.Keywords)
	assert.Equal(t, `["Open the login page","Click forgot password"]`, entry.TroubleshootingSteps)
	assert.Equal(t, 0.5, entry.ConfidenceThreshold)
	assert.True(t, entry.Active)

	var rule EscalationRule
	require.NoError(t, db.First(&rule).Error)
	assert.Equal(t, 300, rule.TimeoutSeconds)
	assert.Equal(t, 3, rule.MaxLevel)
}

func TestLoadSeedFile_Idempotent(t *testing.T) {
	db := setupTestDatabase(t)
	path := writeSeed(t, seedYAML)

	require.NoError(t, LoadSeedFile(db, path))
	require.NoError(t, LoadSeedFile(db, path))

	var responders, slots, entries int64
	db.Model(&Responder{}).Count(&responders)
	db.Model(&ScheduleSlot{}).Count(&slots)
	db.Model(&KnowledgeEntry{}).Count(&entries)
	assert.Equal(t, int64(2), responders)
	assert.Equal(t, int64(2), slots)
	assert.Equal(t, int64(1), entries)
}

func TestLoadSeedFile_NormalizesSlotTimes(t *testing.T) {
	db := setupTestDatabase(t)
	content := `
responders:
  - name: Alice
    chat_id: "5001"
    slots:
      - {day: 0, start: "9:00", end: "17:30", primary: true}
      - {day: 1, start: "18:00", end: "24:00", primary: true}
`
	require.NoError(t, LoadSeedFile(db, writeSeed(t, content)))

	var slots []ScheduleSlot
	require.NoError(t, db.Order("id").Find(&slots).Error)
	require.Len(t, slots, 2)
	assert.Equal(t, "09:00", slots[0].StartTime)
	assert.Equal(t, "17:30", slots[0].EndTime)
	assert.Equal(t, "24:00", slots[1].EndTime)
}

func TestNormalizeClock(t *testing.T) {
	tests := []struct {
		value         string
		allowEndOfDay bool
		expected      string
		wantErr       bool
	}{
		{value: "9:00", expected: "09:00"},
		{value: " 07:05 ", expected: "07:05"},
		{value: "23:59", expected: "23:59"},
		{value: "24:00", allowEndOfDay: true, expected: "24:00"},
		{value: "24:00", wantErr: true},
		{value: "25:00", allowEndOfDay: true, wantErr: true},
		{value: "9:5", wantErr: true},
		{value: "noon", wantErr: true},
		{value: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			got, err := NormalizeClock(tt.value, tt.allowEndOfDay)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestLoadSeedFile_Errors(t *testing.T) {
	db := setupTestDatabase(t)

	t.Run("missing file", func(t *testing.T) {
		assert.Error(t, LoadSeedFile(db, filepath.Join(t.TempDir(), "nope.yaml")))
	})

	t.Run("invalid yaml", func(t *testing.T) {
		assert.Error(t, LoadSeedFile(db, writeSeed(t, "responders: [")))
	})

	t.Run("bad slot times", func(t *testing.T) {
		for _, window := range [][2]string{{"9am", "17:00"}, {"09:00", "25:00"}, {"24:00", "24:00"}, {"17:00", "09:00"}, {"09:00", "9:5"}} {
			bad := "responders:\n  - name: X\n    chat_id: \"1\"\n    slots:\n      - {day: 0, start: \"" + window[0] + "\", end: \"" + window[1] + "\"}\n"
			assert.Error(t, LoadSeedFile(db, writeSeed(t, bad)), window)
		}
	})

	t.Run("day out of range", func(t *testing.T) {
		bad := "responders:\n  - name: X\n    chat_id: \"1\"\n    slots:\n      - {day: 7, start: \"09:00\", end: \"10:00\"}\n"
		assert.Error(t, LoadSeedFile(db, writeSeed(t, bad)))
	})
}
