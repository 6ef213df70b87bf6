package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kouzoh/oncall-support-bot/internal/config"
	"github.com/kouzoh/oncall-support-bot/internal/storage"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ConversationStats summarizes tracked conversations
type ConversationStats struct {
	Active        int64 `json:"active"`
	Total         int64 `json:"total"`
	AwaitingReply int64 `json:"awaiting_reply"`
}

// ConversationTracker decides whether a requester's next message is a reply.
// Callers serialize access per requester; every write runs in a transaction.
type ConversationTracker struct {
	db          *gorm.DB
	ttl         time.Duration
	replyWindow time.Duration
	nowFn       func() time.Time
}

// NewConversationTracker creates a new conversation tracker instance
func NewConversationTracker(db *gorm.DB, cfg *config.Config) *ConversationTracker {
	return &ConversationTracker{
		db:          db,
		ttl:         cfg.ConversationTTL,
		replyWindow: cfg.ReplyWindow,
		nowFn:       time.Now,
	}
}

// RecordInbound marks that the requester is waiting for a response on a case
func (t *ConversationTracker) RecordInbound(ctx context.Context, requesterID, requesterName string, caseID uint, topic string) (*storage.ConversationState, error) {
	return t.mutate(ctx, requesterID, func(state *storage.ConversationState, now time.Time) {
		state.Phase = storage.PhaseAwaitingResponse
		state.LastCaseID = &caseID
		if requesterName != "" {
			state.RequesterName = requesterName
		}
		if topic != "" {
			state.Topic = topic
		}
	})
}

// RecordResponse marks that a response was sent and a reply is now expected
func (t *ConversationTracker) RecordResponse(ctx context.Context, requesterID string, caseID, responseID uint) (*storage.ConversationState, error) {
	return t.mutate(ctx, requesterID, func(state *storage.ConversationState, now time.Time) {
		state.Phase = storage.PhaseAwaitingReply
		state.LastCaseID = &caseID
		state.LastResponseID = &responseID
	})
}

// ClassifyInbound reports whether an inbound message from the requester is
// a reply to the last response. A reply moves the conversation back to
// awaiting a response; a reply arriving after the reply window ends it.
func (t *ConversationTracker) ClassifyInbound(ctx context.Context, requesterID string) (bool, *storage.ConversationState, error) {
	var (
		isReply bool
		result  *storage.ConversationState
	)

	err := t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := t.nowFn()
		state, err := t.load(tx, requesterID, now)
		if err != nil || state == nil {
			return err
		}
		result = state

		if state.Phase != storage.PhaseAwaitingReply || state.LastCaseID == nil {
			return nil
		}

		if now.Sub(state.LastActivity) > t.replyWindow {
			logrus.WithField("requester_id", requesterID).Debug("Reply window elapsed, ending conversation")
			state.Phase = storage.PhaseNone
			return tx.Save(state).Error
		}

		isReply = true
		state.Phase = storage.PhaseAwaitingResponse
		t.touch(state, now)
		return tx.Save(state).Error
	})
	if err != nil {
		return false, nil, fmt.Errorf("failed to classify message: %w", err)
	}

	return isReply, result, nil
}

// State returns the current conversation of a requester, or nil
func (t *ConversationTracker) State(ctx context.Context, requesterID string) (*storage.ConversationState, error) {
	var result *storage.ConversationState
	err := t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		state, err := t.load(tx, requesterID, t.nowFn())
		result = state
		return err
	})
	return result, err
}

// End deactivates the conversation of a requester. Ending an unknown or
// already ended conversation is not an error.
func (t *ConversationTracker) End(ctx context.Context, requesterID string) error {
	return t.db.WithContext(ctx).
		Model(&storage.ConversationState{}).
		Where("requester_id = ? AND phase <> ?", requesterID, storage.PhaseNone).
		Update("phase", storage.PhaseNone).Error
}

// CleanupExpired deactivates every conversation past its expiry and returns
// how many were ended.
func (t *ConversationTracker) CleanupExpired(ctx context.Context) (int64, error) {
	result := t.db.WithContext(ctx).
		Model(&storage.ConversationState{}).
		Where("phase <> ? AND expires_at <= ?", storage.PhaseNone, t.nowFn()).
		Update("phase", storage.PhaseNone)
	if result.Error != nil {
		return 0, fmt.Errorf("failed to clean up conversations: %w", result.Error)
	}
	if result.RowsAffected > 0 {
		logrus.WithField("count", result.RowsAffected).Info("Expired conversations cleaned up")
	}
	return result.RowsAffected, nil
}

// Stats counts tracked conversations
func (t *ConversationTracker) Stats(ctx context.Context) (ConversationStats, error) {
	var stats ConversationStats
	now := t.nowFn()
	db := t.db.WithContext(ctx).Model(&storage.ConversationState{})

	if err := db.Session(&gorm.Session{}).Count(&stats.Total).Error; err != nil {
		return stats, err
	}
	if err := db.Session(&gorm.Session{}).
		Where("phase <> ? AND expires_at > ?", storage.PhaseNone, now).
		Count(&stats.Active).Error; err != nil {
		return stats, err
	}
	if err := db.Session(&gorm.Session{}).
		Where("phase = ? AND expires_at > ?", storage.PhaseAwaitingReply, now).
		Count(&stats.AwaitingReply).Error; err != nil {
		return stats, err
	}
	return stats, nil
}

// SetContextValue stores a value in the conversation context blob. The
// conversation must already exist.
func (t *ConversationTracker) SetContextValue(ctx context.Context, requesterID, key string, value interface{}) error {
	return t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var state storage.ConversationState
		if err := tx.Where("requester_id = ?", requesterID).First(&state).Error; err != nil {
			return err
		}
		if state.Context == nil {
			state.Context = datatypes.JSONMap{}
		}
		state.Context[key] = value
		return tx.Model(&state).Update("context", state.Context).Error
	})
}

// ContextValue reads a value from the conversation context blob
func (t *ConversationTracker) ContextValue(ctx context.Context, requesterID, key string) (interface{}, bool, error) {
	var state storage.ConversationState
	err := t.db.WithContext(ctx).Where("requester_id = ?", requesterID).First(&state).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	value, ok := state.Context[key]
	return value, ok, nil
}

// mutate loads or creates the requester's row, applies fn and saves it
func (t *ConversationTracker) mutate(ctx context.Context, requesterID string, fn func(*storage.ConversationState, time.Time)) (*storage.ConversationState, error) {
	var result *storage.ConversationState

	err := t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := t.nowFn()
		state, err := t.load(tx, requesterID, now)
		if err != nil {
			return err
		}

		if state == nil {
			state = &storage.ConversationState{
				RequesterID: requesterID,
				Context:     datatypes.JSONMap{},
			}
		}
		if !state.Active() {
			state.StartedAt = now
		}

		fn(state, now)
		t.touch(state, now)

		result = state
		return tx.Save(state).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update conversation: %w", err)
	}

	return result, nil
}

// load reads the requester's row and ends it first when it has expired
func (t *ConversationTracker) load(tx *gorm.DB, requesterID string, now time.Time) (*storage.ConversationState, error) {
	var state storage.ConversationState
	err := tx.Where("requester_id = ?", requesterID).First(&state).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if state.Active() && !now.Before(state.ExpiresAt) {
		state.Phase = storage.PhaseNone
		if err := tx.Model(&state).Update("phase", storage.PhaseNone).Error; err != nil {
			return nil, err
		}
	}
	return &state, nil
}

func (t *ConversationTracker) touch(state *storage.ConversationState, now time.Time) {
	state.LastActivity = now
	state.ExpiresAt = now.Add(t.ttl)
}
