package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestDatabase(t *testing.T) *gorm.DB {
	config := &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
		PrepareStmt:                              true,
	}

	db, err := gorm.Open(sqlite.Open(":memory:"), config)
	require.NoError(t, err, "Failed to connect to test database")

	// Every pooled connection to :memory: is a separate database
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, Migrate(db))
	return db
}

func TestDatabase_CreateCase(t *testing.T) {
	db := setupTestDatabase(t)

	c := &Case{
		RequesterID: "1001",
		Platform:    PlatformTelegram,
		ChannelRef:  "-100200",
		Body:        "My printer is broken",
		Status:      StatusOpen,
		Priority:    PriorityNormal,
	}
	require.NoError(t, db.Create(c).Error)
	assert.NotZero(t, c.ID, "Expected case ID to be set after creation")

	var saved Case
	require.NoError(t, db.First(&saved, c.ID).Error)
	assert.Equal(t, "1001", saved.RequesterID)
	assert.Equal(t, StatusOpen, saved.Status)
}

func TestDatabase_CaseWithResponses(t *testing.T) {
	db := setupTestDatabase(t)

	c := &Case{RequesterID: "1001", Body: "Test case", Status: StatusOpen}
	require.NoError(t, db.Create(c).Error)

	responses := []Response{
		{CaseID: c.ID, Body: "Looking into it", Automated: false},
		{CaseID: c.ID, Body: "Thanks", IsRequesterReply: true},
	}
	for i := range responses {
		require.NoError(t, db.Create(&responses[i]).Error)
	}

	var loaded Case
	require.NoError(t, db.Preload("Responses").First(&loaded, c.ID).Error)
	require.Len(t, loaded.Responses, 2)
	assert.False(t, loaded.Responses[0].IsRequesterReply)
	assert.True(t, loaded.Responses[1].IsRequesterReply)
}

func TestDatabase_ConversationStateUniquePerRequester(t *testing.T) {
	db := setupTestDatabase(t)

	first := &ConversationState{RequesterID: "1001", Phase: PhaseAwaitingResponse}
	require.NoError(t, db.Create(first).Error)

	second := &ConversationState{RequesterID: "1001", Phase: PhaseNone}
	assert.Error(t, db.Create(second).Error, "Expected error when creating a second row for the same requester")
}

func TestDatabase_ConversationContextRoundTrip(t *testing.T) {
	db := setupTestDatabase(t)

	state := &ConversationState{
		RequesterID: "1001",
		Phase:       PhaseAwaitingReply,
		Context:     map[string]interface{}{"last_ack_at": "2026-10-12T10:00:00Z"},
	}
	require.NoError(t, db.Create(state).Error)

	var loaded ConversationState
	require.NoError(t, db.First(&loaded, state.ID).Error)
	assert.Equal(t, "2026-10-12T10:00:00Z", loaded.Context["last_ack_at"])
	assert.True(t, loaded.Active())
}

func TestDatabase_PendingEscalationKeyedByCase(t *testing.T) {
	db := setupTestDatabase(t)

	pending := &PendingEscalation{CaseID: 42, Level: 1, NextFireAt: time.Now()}
	require.NoError(t, db.Create(pending).Error)

	pending.Level = 2
	require.NoError(t, db.Save(pending).Error)

	var count int64
	db.Model(&PendingEscalation{}).Count(&count)
	assert.Equal(t, int64(1), count)

	var loaded PendingEscalation
	require.NoError(t, db.First(&loaded, "case_id = ?", 42).Error)
	assert.Equal(t, 2, loaded.Level)
}

func TestDatabase_Timestamps(t *testing.T) {
	db := setupTestDatabase(t)

	beforeCreate := time.Now()
	c := &Case{RequesterID: "1001", Body: "Test case", Status: StatusOpen}
	db.Create(c)
	afterCreate := time.Now()

	assert.False(t, c.CreatedAt.Before(beforeCreate) || c.CreatedAt.After(afterCreate),
		"CreatedAt should be set to current time during creation")

	originalCreatedAt := c.CreatedAt
	c.Status = StatusInProgress
	db.Save(c)

	assert.True(t, c.CreatedAt.Equal(originalCreatedAt), "CreatedAt should not change during updates")
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to string
		allowed  bool
	}{
		{StatusOpen, StatusInProgress, true},
		{StatusOpen, StatusResolved, true},
		{StatusInProgress, StatusPendingResponse, true},
		{StatusPendingResponse, StatusInProgress, true},
		{StatusEscalated, StatusInProgress, true},
		{StatusInProgress, StatusEscalated, true},
		{StatusResolved, StatusArchived, true},
		{StatusOpen, StatusOpen, true},
		{StatusInProgress, StatusOpen, false},
		{StatusResolved, StatusInProgress, false},
		{StatusResolved, StatusPendingResponse, false},
		{StatusArchived, StatusOpen, false},
		{StatusArchived, StatusResolved, false},
		{"bogus", "bogus", false},
	}

	for _, tt := range tests {
		t.Run(tt.from+"->"+tt.to, func(t *testing.T) {
			assert.Equal(t, tt.allowed, CanTransition(tt.from, tt.to))
		})
	}
}

func TestInitDB_SQLiteFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "support.db")

	db, err := InitDB("sqlite", path)
	require.NoError(t, err)

	_, statErr := os.Stat(filepath.Dir(path))
	assert.NoError(t, statErr, "InitDB should create the database directory")
	assert.True(t, db.Migrator().HasTable(&PendingEscalation{}))

	sqlDB, _ := db.DB()
	sqlDB.Close()
}

func TestInitDB_UnsupportedDriver(t *testing.T) {
	_, err := InitDB("oracle", "whatever")
	assert.Error(t, err)
}

func TestInitDB_PostgresRequiresURL(t *testing.T) {
	_, err := InitDB("postgres", "")
	assert.Error(t, err)
}
