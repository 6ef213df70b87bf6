package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kouzoh/oncall-support-bot/internal/config"
	"github.com/kouzoh/oncall-support-bot/internal/storage"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Monday 2026-10-12 10:00 UTC
var monday10 = time.Date(2026, time.October, 12, 10, 0, 0, 0, time.UTC)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, storage.Migrate(db))
	return db
}

func testConfig() *config.Config {
	return &config.Config{
		SupportTrigger:         "@support",
		DashboardURL:           "http://dashboard.test",
		EscalationTimeout:      15 * time.Minute,
		EscalationPollInterval: time.Minute,
		DeliveryTimeout:        time.Second,
		ConversationTTL:        2 * time.Hour,
		ReplyWindow:            time.Hour,
		AutoResponseFloor:      0.6,
		AckEnabled:             true,
		AckText:                "ack",
		AckInterval:            10 * time.Minute,
		ScheduleTimezone:       "UTC",
	}
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock(now time.Time) *testClock {
	return &testClock{now: now}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type sentMessage struct {
	Dest Destination
	Text string
}

// fakeDispatcher records deliveries and fails for chat ids in failFor
type fakeDispatcher struct {
	mu      sync.Mutex
	sent    []sentMessage
	failFor map[string]bool
}

func newFakeDispatcher() *fakeDispatcher {
	return &fakeDispatcher{failFor: make(map[string]bool)}
}

func (f *fakeDispatcher) Deliver(_ context.Context, dest Destination, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFor[dest.ChatID] {
		return errors.New("chat unreachable")
	}
	f.sent = append(f.sent, sentMessage{Dest: dest, Text: text})
	return nil
}

func (f *fakeDispatcher) to(chatID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var texts []string
	for _, m := range f.sent {
		if m.Dest.ChatID == chatID {
			texts = append(texts, m.Text)
		}
	}
	return texts
}

func (f *fakeDispatcher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func createResponder(t *testing.T, db *gorm.DB, name, platform, chatID string) *storage.Responder {
	t.Helper()
	r := &storage.Responder{Name: name, Platform: platform, ChatID: chatID, Active: true}
	require.NoError(t, db.Create(r).Error)
	return r
}

func createSlot(t *testing.T, db *gorm.DB, r *storage.Responder, day int, start, end string, primary bool) *storage.ScheduleSlot {
	t.Helper()
	slot := &storage.ScheduleSlot{
		ResponderID: r.ID,
		DayOfWeek:   day,
		StartTime:   start,
		EndTime:     end,
		IsPrimary:   primary,
		Active:      true,
	}
	require.NoError(t, db.Create(slot).Error)
	return slot
}

func createEntry(t *testing.T, db *gorm.DB, entry storage.KnowledgeEntry) *storage.KnowledgeEntry {
	t.Helper()
	entry.Active = true
	require.NoError(t, db.Create(&entry).Error)
	return &entry
}

// supportFixture wires a SupportService against an in-memory database
type supportFixture struct {
	db            *gorm.DB
	cfg           *config.Config
	clock         *testClock
	dispatcher    *fakeDispatcher
	conversations *ConversationTracker
	registry      *EscalationRegistry
	responder     *AutoResponder
	support       *SupportService
}

func newSupportFixture(t *testing.T) *supportFixture {
	t.Helper()

	db := setupTestDB(t)
	cfg := testConfig()
	clock := newTestClock(monday10)
	dispatcher := newFakeDispatcher()

	analyzer := NewTextAnalyzer()
	responder := NewAutoResponder(analyzer, NewKnowledgeMatcher(analyzer, db), db, cfg)

	conversations := NewConversationTracker(db, cfg)
	conversations.nowFn = clock.Now

	registry := NewEscalationRegistry(db, cfg.EscalationTimeout)
	registry.nowFn = clock.Now

	support := NewSupportService(SupportDependencies{
		DB:            db,
		Config:        cfg,
		Responder:     responder,
		OnCall:        NewOnCallResolver(db, time.UTC),
		Conversations: conversations,
		Registry:      registry,
		Dispatcher:    dispatcher,
	})
	support.nowFn = clock.Now

	return &supportFixture{
		db:            db,
		cfg:           cfg,
		clock:         clock,
		dispatcher:    dispatcher,
		conversations: conversations,
		registry:      registry,
		responder:     responder,
		support:       support,
	}
}
