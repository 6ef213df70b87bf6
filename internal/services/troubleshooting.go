package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kouzoh/oncall-support-bot/internal/storage"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	troubleshootingDoneText  = "Troubleshooting session completed! If you still need help, a human technician will assist you."
	troubleshootingErrorText = "An error occurred in the troubleshooting session. A human technician will assist you."
)

// TroubleshootingAnswer is one requester answer in a session
type TroubleshootingAnswer struct {
	Step     int       `json:"step"`
	Response string    `json:"response"`
	At       time.Time `json:"timestamp"`
}

// TroubleshootingStep tells the requester what to do next
type TroubleshootingStep struct {
	Token      string `json:"token"`
	Status     string `json:"status"`
	Step       int    `json:"step,omitempty"` // 1-based
	TotalSteps int    `json:"total_steps"`
	Message    string `json:"message"`
}

// TroubleshootingService walks requesters through knowledge entry steps
type TroubleshootingService struct {
	db    *gorm.DB
	nowFn func() time.Time
}

// NewTroubleshootingService creates a new troubleshooting service instance
func NewTroubleshootingService(db *gorm.DB) *TroubleshootingService {
	return &TroubleshootingService{
		db:    db,
		nowFn: time.Now,
	}
}

// Start opens a session on a knowledge entry and returns its first step
func (s *TroubleshootingService) Start(ctx context.Context, requesterID string, entryID uint) (*TroubleshootingStep, error) {
	var entry storage.KnowledgeEntry
	if err := s.db.WithContext(ctx).First(&entry, entryID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNoTroubleshooting
		}
		return nil, err
	}

	steps := ParseSteps(entry.TroubleshootingSteps)
	if len(steps) == 0 {
		return nil, ErrNoTroubleshooting
	}

	session := &storage.TroubleshootingSession{
		RequesterID:      requesterID,
		KnowledgeEntryID: entry.ID,
		Token:            uuid.NewString(),
		TotalSteps:       len(steps),
		Status:           storage.SessionActive,
		Answers:          datatypes.JSON("[]"),
		LastActivity:     s.nowFn(),
	}
	if err := s.db.WithContext(ctx).Create(session).Error; err != nil {
		return nil, fmt.Errorf("failed to create troubleshooting session: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"requester_id": requesterID,
		"entry_id":     entry.ID,
		"steps":        len(steps),
	}).Info("Troubleshooting session started")

	return &TroubleshootingStep{
		Token:      session.Token,
		Status:     session.Status,
		Step:       1,
		TotalSteps: session.TotalSteps,
		Message:    steps[0],
	}, nil
}

// Advance records the answer to the current step and returns the next one
func (s *TroubleshootingService) Advance(ctx context.Context, token, answer string) (*TroubleshootingStep, error) {
	var next *TroubleshootingStep

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var session storage.TroubleshootingSession
		if err := tx.Where("token = ?", token).First(&session).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrSessionNotFound
			}
			return err
		}
		if session.Status != storage.SessionActive {
			return ErrSessionClosed
		}

		var entry storage.KnowledgeEntry
		if err := tx.First(&entry, session.KnowledgeEntryID).Error; err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		steps := ParseSteps(entry.TroubleshootingSteps)

		var answers []TroubleshootingAnswer
		if len(session.Answers) > 0 {
			if err := json.Unmarshal(session.Answers, &answers); err != nil {
				return s.fail(tx, &session, &next)
			}
		}

		now := s.nowFn()
		answers = append(answers, TroubleshootingAnswer{Step: session.CurrentStep, Response: answer, At: now})
		raw, err := json.Marshal(answers)
		if err != nil {
			return err
		}

		session.Answers = datatypes.JSON(raw)
		session.CurrentStep++
		session.LastActivity = now

		if session.CurrentStep >= session.TotalSteps {
			session.Status = storage.SessionCompleted
			session.CompletedAt = &now
			next = &TroubleshootingStep{
				Token:      session.Token,
				Status:     session.Status,
				TotalSteps: session.TotalSteps,
				Message:    troubleshootingDoneText,
			}
			return tx.Save(&session).Error
		}

		// The entry was edited underneath the session
		if session.CurrentStep >= len(steps) {
			return s.fail(tx, &session, &next)
		}

		next = &TroubleshootingStep{
			Token:      session.Token,
			Status:     session.Status,
			Step:       session.CurrentStep + 1,
			TotalSteps: session.TotalSteps,
			Message:    steps[session.CurrentStep],
		}
		return tx.Save(&session).Error
	})
	if err != nil {
		return nil, err
	}

	return next, nil
}

func (s *TroubleshootingService) fail(tx *gorm.DB, session *storage.TroubleshootingSession, next **TroubleshootingStep) error {
	logrus.WithField("token", session.Token).Warn("Troubleshooting session failed")
	if err := tx.Model(session).Update("status", storage.SessionError).Error; err != nil {
		return err
	}
	*next = &TroubleshootingStep{
		Token:      session.Token,
		Status:     storage.SessionError,
		TotalSteps: session.TotalSteps,
		Message:    troubleshootingErrorText,
	}
	return nil
}
