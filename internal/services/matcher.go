package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/kouzoh/oncall-support-bot/internal/storage"
	"gorm.io/gorm"
)

const (
	similarityWeight = 0.7
	keywordWeight    = 0.3
)

// KnowledgeMatcher finds the knowledge entry that best answers a message
type KnowledgeMatcher struct {
	analyzer *TextAnalyzer
	db       *gorm.DB
}

// NewKnowledgeMatcher creates a new knowledge matcher instance
func NewKnowledgeMatcher(analyzer *TextAnalyzer, db *gorm.DB) *KnowledgeMatcher {
	return &KnowledgeMatcher{
		analyzer: analyzer,
		db:       db,
	}
}

// Match returns the highest scoring entry that also clears its own
// confidence threshold. A nil entry means no usable knowledge.
func (m *KnowledgeMatcher) Match(ctx context.Context, text string, keywords []string, category string) (*storage.KnowledgeEntry, float64, error) {
	candidates, err := m.candidates(ctx, category)
	if err != nil {
		return nil, 0, err
	}

	var best *storage.KnowledgeEntry
	bestScore := 0.0

	for i := range candidates {
		entry := &candidates[i]
		score := m.Score(text, keywords, entry)
		if score > bestScore && score >= entry.ConfidenceThreshold {
			best = entry
			bestScore = score
		}
	}

	return best, bestScore, nil
}

// Score combines pattern similarity with keyword overlap for one entry
func (m *KnowledgeMatcher) Score(text string, keywords []string, entry *storage.KnowledgeEntry) float64 {
	similarity := m.Similarity(text, entry.QuestionPattern)

	entryKeywords := toSet(splitKeywords(entry.Keywords)...)
	shared := 0
	for kw := range toSet(keywords...) {
		if entryKeywords[kw] {
			shared++
		}
	}
	overlap := float64(shared) / float64(max(len(keywords), 1))

	return similarityWeight*similarity + keywordWeight*overlap
}

// Similarity is the Jaccard index of the word sets of two texts
func (m *KnowledgeMatcher) Similarity(a, b string) float64 {
	wordsA := toSet(strings.Fields(m.analyzer.Preprocess(a))...)
	wordsB := toSet(strings.Fields(m.analyzer.Preprocess(b))...)
	if len(wordsA) == 0 || len(wordsB) == 0 {
		return 0
	}

	intersection := 0
	for w := range wordsA {
		if wordsB[w] {
			intersection++
		}
	}
	union := len(wordsA) + len(wordsB) - intersection

	return float64(intersection) / float64(union)
}

func (m *KnowledgeMatcher) candidates(ctx context.Context, category string) ([]storage.KnowledgeEntry, error) {
	var entries []storage.KnowledgeEntry
	err := m.db.WithContext(ctx).
		Where("active = ? AND category = ?", true, category).
		Order("id").
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load knowledge entries: %w", err)
	}
	if len(entries) > 0 {
		return entries, nil
	}

	// Nothing in this category, try everything
	if err := m.db.WithContext(ctx).Where("active = ?", true).Order("id").Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("failed to load knowledge entries: %w", err)
	}
	return entries, nil
}

func splitKeywords(raw string) []string {
	var keywords []string
	for _, kw := range strings.Split(raw, ",") {
		if kw = strings.ToLower(strings.TrimSpace(kw)); kw != "" {
			keywords = append(keywords, kw)
		}
	}
	return keywords
}
