package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/kouzoh/oncall-support-bot/internal/config"
	"github.com/kouzoh/oncall-support-bot/internal/storage"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	autoResponseGreeting = "Hi! I found a solution that might help:\n\n"
	autoResponseFooter   = "\n\nIf this doesn't solve your issue, a human technician will assist you shortly. You can also provide feedback by replying with 👍 (helpful) or 👎 (not helpful)."
)

// AutoResponder answers messages from the knowledge base when confident enough
type AutoResponder struct {
	analyzer *TextAnalyzer
	matcher  *KnowledgeMatcher
	db       *gorm.DB
	config   *config.Config
}

// NewAutoResponder creates a new auto responder instance
func NewAutoResponder(analyzer *TextAnalyzer, matcher *KnowledgeMatcher, db *gorm.DB, cfg *config.Config) *AutoResponder {
	return &AutoResponder{
		analyzer: analyzer,
		matcher:  matcher,
		db:       db,
		config:   cfg,
	}
}

// Analyze analyzes text sent on a case and stores a new Analysis row
func (r *AutoResponder) Analyze(ctx context.Context, caseID uint, responseID *uint, text string) (*storage.Analysis, error) {
	result := r.analyzer.Analyze(text)

	entry, score, err := r.matcher.Match(ctx, text, result.Keywords, result.Category)
	if err != nil {
		return nil, err
	}

	analysis := &storage.Analysis{
		CaseID:          caseID,
		ResponseID:      responseID,
		ProcessedText:   result.ProcessedText,
		Keywords:        strings.Join(result.Keywords, ","),
		Category:        result.Category,
		Sentiment:       result.Sentiment,
		UrgencyScore:    result.Urgency,
		ConfidenceScore: score,
	}
	if entry != nil {
		analysis.MatchedEntryID = &entry.ID
	}

	if err := r.db.WithContext(ctx).Create(analysis).Error; err != nil {
		return nil, fmt.Errorf("failed to store analysis: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"case_id":    caseID,
		"category":   analysis.Category,
		"sentiment":  analysis.Sentiment,
		"urgency":    analysis.UrgencyScore,
		"confidence": analysis.ConfidenceScore,
		"matched":    entry != nil,
	}).Debug("Message analyzed")

	return analysis, nil
}

// Respond builds and records an automated answer. It returns nil when the
// analysis has no match or its confidence is below the response floor.
func (r *AutoResponder) Respond(ctx context.Context, c *storage.Case, analysis *storage.Analysis) (*storage.AutoResponse, error) {
	if analysis.MatchedEntryID == nil || analysis.ConfidenceScore < r.config.AutoResponseFloor {
		return nil, nil
	}

	var response *storage.AutoResponse
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var entry storage.KnowledgeEntry
		if err := tx.First(&entry, *analysis.MatchedEntryID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}

		response = &storage.AutoResponse{
			CaseID:           c.ID,
			KnowledgeEntryID: entry.ID,
			ResponseText:     ComposeAutoResponse(&entry),
			ConfidenceScore:  analysis.ConfidenceScore,
		}
		if err := tx.Create(response).Error; err != nil {
			return err
		}

		return tx.Model(&storage.KnowledgeEntry{}).
			Where("id = ?", entry.ID).
			UpdateColumn("usage_count", gorm.Expr("usage_count + ?", 1)).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record auto response: %w", err)
	}

	return response, nil
}

// RecordFeedback stores whether an automated answer helped and refreshes
// the success rate of its knowledge entry in the same transaction.
func (r *AutoResponder) RecordFeedback(ctx context.Context, autoResponseID uint, helpful bool) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var response storage.AutoResponse
		if err := tx.First(&response, autoResponseID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrAutoResponseNotFound
			}
			return err
		}

		if err := tx.Model(&response).Update("was_helpful", helpful).Error; err != nil {
			return err
		}

		var rated, helpfulCount int64
		if err := tx.Model(&storage.AutoResponse{}).
			Where("knowledge_entry_id = ? AND was_helpful IS NOT NULL", response.KnowledgeEntryID).
			Count(&rated).Error; err != nil {
			return err
		}
		if err := tx.Model(&storage.AutoResponse{}).
			Where("knowledge_entry_id = ? AND was_helpful = ?", response.KnowledgeEntryID, true).
			Count(&helpfulCount).Error; err != nil {
			return err
		}
		if rated == 0 {
			return nil
		}

		return tx.Model(&storage.KnowledgeEntry{}).
			Where("id = ?", response.KnowledgeEntryID).
			UpdateColumn("success_rate", float64(helpfulCount)/float64(rated)).Error
	})
}

// LatestUnrated returns the newest automated answer on a case that has no
// feedback yet, or nil.
func (r *AutoResponder) LatestUnrated(ctx context.Context, caseID uint) (*storage.AutoResponse, error) {
	var response storage.AutoResponse
	err := r.db.WithContext(ctx).
		Where("case_id = ? AND was_helpful IS NULL", caseID).
		Order("id DESC").
		First(&response).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &response, nil
}

// ComposeAutoResponse renders the answer text for a knowledge entry
func ComposeAutoResponse(entry *storage.KnowledgeEntry) string {
	var b strings.Builder
	b.WriteString(autoResponseGreeting)
	b.WriteString(entry.SolutionText)

	if steps := ParseSteps(entry.TroubleshootingSteps); len(steps) > 0 {
		b.WriteString("\n\n📋 *Troubleshooting Steps:*\n")
		for i, step := range steps {
			fmt.Fprintf(&b, "%d. %s\n", i+1, step)
		}
	}

	b.WriteString(autoResponseFooter)
	return b.String()
}

// ParseSteps decodes the troubleshooting steps column. Malformed data
// yields no steps.
func ParseSteps(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var steps []string
	if err := json.Unmarshal([]byte(raw), &steps); err != nil {
		logrus.WithError(err).Debug("Ignoring malformed troubleshooting steps")
		return nil
	}
	return steps
}
