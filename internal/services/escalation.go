package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/kouzoh/oncall-support-bot/internal/storage"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Escalator is what the scheduler needs from the support service
type Escalator interface {
	CaseStatus(ctx context.Context, caseID uint) (string, error)
	Escalate(ctx context.Context, caseID uint, level int) error
}

// EscalationRegistry keeps the escalation timer of every tracked case
type EscalationRegistry struct {
	db             *gorm.DB
	defaultTimeout time.Duration
	nowFn          func() time.Time
}

// NewEscalationRegistry creates a registry that falls back to
// defaultTimeout for priorities without an active rule.
func NewEscalationRegistry(db *gorm.DB, defaultTimeout time.Duration) *EscalationRegistry {
	return &EscalationRegistry{
		db:             db,
		defaultTimeout: defaultTimeout,
		nowFn:          time.Now,
	}
}

// Track starts the escalation timer of a case at level 1. A case that is
// already tracked keeps its current timer.
func (r *EscalationRegistry) Track(ctx context.Context, c *storage.Case) error {
	timeout, _, err := r.Rule(ctx, c.Priority)
	if err != nil {
		return err
	}

	row := &storage.PendingEscalation{
		CaseID:      c.ID,
		RequesterID: c.RequesterID,
		Priority:    c.Priority,
		Level:       1,
		NextFireAt:  r.nowFn().Add(timeout),
	}
	err = r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "case_id"}}, DoNothing: true}).
		Create(row).Error
	if err != nil {
		return fmt.Errorf("failed to track escalation: %w", err)
	}
	return nil
}

// Due returns the rows whose timer has fired, oldest first
func (r *EscalationRegistry) Due(ctx context.Context, now time.Time) ([]storage.PendingEscalation, error) {
	var rows []storage.PendingEscalation
	err := r.db.WithContext(ctx).
		Where("next_fire_at <= ?", now).
		Order("next_fire_at, case_id").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load due escalations: %w", err)
	}
	return rows, nil
}

// Get returns the tracked row of a case, or nil
func (r *EscalationRegistry) Get(ctx context.Context, caseID uint) (*storage.PendingEscalation, error) {
	var row storage.PendingEscalation
	err := r.db.WithContext(ctx).First(&row, "case_id = ?", caseID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// Advance records that a case reached level and rearms its timer
func (r *EscalationRegistry) Advance(ctx context.Context, caseID uint, level int, next time.Time) error {
	return r.db.WithContext(ctx).
		Model(&storage.PendingEscalation{}).
		Where("case_id = ?", caseID).
		Updates(map[string]interface{}{"level": level, "next_fire_at": next}).Error
}

// Remove stops tracking a case
func (r *EscalationRegistry) Remove(ctx context.Context, caseID uint) error {
	return r.db.WithContext(ctx).Delete(&storage.PendingEscalation{}, "case_id = ?", caseID).Error
}

// Rule returns the timeout and max level for a priority. A max level of
// zero means escalation is unbounded.
func (r *EscalationRegistry) Rule(ctx context.Context, priority string) (time.Duration, int, error) {
	var rule storage.EscalationRule
	err := r.db.WithContext(ctx).Where("priority = ? AND active = ?", priority, true).First(&rule).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return r.defaultTimeout, 0, nil
	}
	if err != nil {
		return 0, 0, fmt.Errorf("failed to load escalation rule: %w", err)
	}

	timeout := r.defaultTimeout
	if rule.TimeoutSeconds > 0 {
		timeout = time.Duration(rule.TimeoutSeconds) * time.Second
	}
	return timeout, rule.MaxLevel, nil
}

const defaultPollInterval = time.Minute

// EscalationScheduler periodically escalates cases nobody acted on
type EscalationScheduler struct {
	registry      *EscalationRegistry
	escalator     Escalator
	lease         Lease
	conversations *ConversationTracker
	interval      time.Duration
	nowFn         func() time.Time
}

// NewEscalationScheduler creates a new escalation scheduler instance.
// conversations may be nil; when set, expired conversations are cleaned
// up on every tick.
func NewEscalationScheduler(registry *EscalationRegistry, escalator Escalator, lease Lease, conversations *ConversationTracker, interval time.Duration) *EscalationScheduler {
	if lease == nil {
		lease = NewLocalLease()
	}
	if interval <= 0 {
		interval = defaultPollInterval
	}
	return &EscalationScheduler{
		registry:      registry,
		escalator:     escalator,
		lease:         lease,
		conversations: conversations,
		interval:      interval,
		nowFn:         time.Now,
	}
}

// Run ticks at the configured interval until ctx is cancelled
func (s *EscalationScheduler) Run(ctx context.Context) error {
	logrus.WithField("interval", s.interval).Info("Escalation scheduler started")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logrus.Info("Escalation scheduler stopped")
			return nil
		case <-ticker.C:
			if err := s.Tick(ctx); err != nil {
				logrus.WithError(err).Error("Escalation tick failed")
			}
		}
	}
}

// Tick processes every due escalation once. It does nothing when another
// process holds the lease.
func (s *EscalationScheduler) Tick(ctx context.Context) error {
	acquired, err := s.lease.Acquire(ctx)
	if err != nil {
		return err
	}
	if !acquired {
		logrus.Debug("Escalation lease held elsewhere, skipping tick")
		return nil
	}
	defer func() {
		if err := s.lease.Release(context.WithoutCancel(ctx)); err != nil {
			logrus.WithError(err).Warn("Failed to release escalation lease")
		}
	}()

	if s.conversations != nil {
		if _, err := s.conversations.CleanupExpired(ctx); err != nil {
			logrus.WithError(err).Warn("Conversation cleanup failed")
		}
	}

	now := s.nowFn()
	due, err := s.registry.Due(ctx, now)
	if err != nil {
		return err
	}
	pendingEscalations.Set(float64(len(due)))

	for _, row := range due {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.process(ctx, row, now)
	}
	return nil
}

func (s *EscalationScheduler) process(ctx context.Context, row storage.PendingEscalation, now time.Time) {
	log := logrus.WithFields(logrus.Fields{
		"case_id":          row.CaseID,
		"escalation_level": row.Level,
	})

	status, err := s.escalator.CaseStatus(ctx, row.CaseID)
	if err != nil {
		log.WithError(err).Warn("Could not read case status, dropping escalation")
		s.drop(ctx, row.CaseID, "lookup_failed")
		return
	}
	if !Actionable(status) {
		log.WithField("status", status).Info("Case no longer needs escalation")
		s.drop(ctx, row.CaseID, "settled")
		return
	}

	timeout, maxLevel, err := s.registry.Rule(ctx, row.Priority)
	if err != nil {
		log.WithError(err).Warn("Could not load escalation rule, dropping escalation")
		s.drop(ctx, row.CaseID, "rule_failed")
		return
	}

	next := row.Level + 1
	if maxLevel > 0 && next > maxLevel {
		log.WithField("max_level", maxLevel).Info("Maximum escalation level reached")
		s.drop(ctx, row.CaseID, "max_level")
		return
	}

	if err := s.escalator.Escalate(ctx, row.CaseID, next); err != nil {
		log.WithError(err).WithField("next_level", next).Warn("Escalation failed, dropping case")
		s.drop(ctx, row.CaseID, "escalation_failed")
		return
	}

	if err := s.registry.Advance(ctx, row.CaseID, next, now.Add(timeout)); err != nil {
		log.WithError(err).Error("Failed to advance escalation")
		return
	}
	log.WithField("next_level", next).Info("Case escalated")
}

func (s *EscalationScheduler) drop(ctx context.Context, caseID uint, reason string) {
	escalationsDropped.WithLabelValues(reason).Inc()
	if err := s.registry.Remove(ctx, caseID); err != nil {
		logrus.WithError(err).WithField("case_id", caseID).Error("Failed to remove escalation")
	}
}

// Actionable reports whether a case in status still warrants escalation
func Actionable(status string) bool {
	switch status {
	case storage.StatusOpen, storage.StatusPendingResponse, storage.StatusEscalated:
		return true
	default:
		return false
	}
}

func levelLabel(level int) string {
	return strconv.Itoa(level)
}
