package services

import (
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Sentiments
const (
	SentimentPositive = "positive"
	SentimentNegative = "negative"
	SentimentNeutral  = "neutral"
)

// DefaultCategory is used when no category keyword matches
const DefaultCategory = "general_inquiry"

const maxKeywords = 10

var stopWords = toSet(
	"the", "a", "an", "and", "or", "but", "in", "on", "at", "to", "for", "of", "with",
	"by", "from", "up", "about", "into", "through", "during", "before", "after",
	"above", "below", "between", "among", "is", "are", "was", "were", "be", "been",
	"being", "have", "has", "had", "do", "does", "did", "will", "would", "could",
	"should", "may", "might", "must", "can", "i", "you", "he", "she", "it", "we",
	"they", "me", "him", "her", "us", "them", "my", "your", "his", "its",
	"our", "their", "this", "that", "these", "those",
)

type weightedKeyword struct {
	keyword string
	weight  float64
}

var urgencyKeywords = []weightedKeyword{
	{"critical", 1.0}, {"urgent", 0.9}, {"emergency", 1.0}, {"broken", 0.8}, {"down", 0.7},
	{"not working", 0.8}, {"error", 0.6}, {"problem", 0.5}, {"issue", 0.4}, {"help", 0.3},
	{"asap", 0.9}, {"immediately", 0.9}, {"now", 0.7}, {"quickly", 0.6},
}

var (
	positiveWords = toSet("good", "great", "excellent", "perfect", "awesome", "thanks", "thank you")
	negativeWords = toSet("bad", "terrible", "awful", "horrible", "frustrated", "angry", "upset")
)

type category struct {
	name     string
	keywords []string
}

// Order matters: the first category wins a tie.
var categories = []category{
	{"password_reset", []string{"password", "reset", "forgot", "login", "access", "account"}},
	{"login_issue", []string{"login", "sign in", "authenticate", "access", "username"}},
	{"technical_error", []string{"error", "bug", "crash", "broken", "not working", "issue"}},
	{"account_management", []string{"account", "profile", "settings", "update", "change"}},
	{"billing", []string{"billing", "payment", "invoice", "charge", "subscription", "cost"}},
	{"feature_request", []string{"feature", "request", "add", "new", "enhancement", "improve"}},
	{DefaultCategory, []string{"how", "what", "when", "where", "why", "question", "help"}},
}

// TextAnalysis is the outcome of analyzing one message
type TextAnalysis struct {
	ProcessedText string
	Keywords      []string
	Category      string
	Sentiment     string
	Urgency       float64
}

// TextAnalyzer extracts keywords, urgency, sentiment and category from free text
type TextAnalyzer struct{}

// NewTextAnalyzer creates a new text analyzer
func NewTextAnalyzer() *TextAnalyzer {
	return &TextAnalyzer{}
}

// Analyze runs every heuristic over text
func (a *TextAnalyzer) Analyze(text string) TextAnalysis {
	keywords := a.ExtractKeywords(text)
	return TextAnalysis{
		ProcessedText: a.Preprocess(text),
		Keywords:      keywords,
		Category:      a.Categorize(text, keywords),
		Sentiment:     a.DetectSentiment(text),
		Urgency:       a.UrgencyScore(text),
	}
}

// Preprocess lowercases text, blanks out punctuation other than @ . - and
// collapses whitespace.
func (a *TextAnalyzer) Preprocess(text string) string {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), unicode.IsSpace(r):
			return r
		case r == '_', r == '@', r == '.', r == '-':
			return r
		default:
			return ' '
		}
	}, strings.ToLower(text))

	return strings.Join(strings.Fields(cleaned), " ")
}

// ExtractKeywords returns up to ten of the most frequent meaningful words.
// Words with equal counts keep their first-occurrence order.
func (a *TextAnalyzer) ExtractKeywords(text string) []string {
	counts := make(map[string]int)
	var order []string

	for _, word := range strings.Fields(a.Preprocess(text)) {
		if stopWords[word] || utf8.RuneCountInString(word) <= 2 {
			continue
		}
		if counts[word] == 0 {
			order = append(order, word)
		}
		counts[word]++
	}

	slices.SortStableFunc(order, func(x, y string) int {
		return counts[y] - counts[x]
	})

	if len(order) > maxKeywords {
		order = order[:maxKeywords]
	}
	return order
}

// UrgencyScore rates text between 0 and 1
func (a *TextAnalyzer) UrgencyScore(text string) float64 {
	processed := a.Preprocess(text)

	score := 0.0
	for _, kw := range urgencyKeywords {
		if strings.Contains(processed, kw.keyword) && kw.weight > score {
			score = kw.weight
		}
	}

	if strings.Contains(text, "!!!") {
		score = clamp(score + 0.2)
	} else if strings.Contains(text, "!!") {
		score = clamp(score + 0.1)
	}

	for _, word := range strings.Fields(text) {
		if utf8.RuneCountInString(word) > 2 && isUpperWord(word) {
			score = clamp(score + 0.1)
		}
	}

	return clamp(score)
}

// DetectSentiment compares positive and negative word hits
func (a *TextAnalyzer) DetectSentiment(text string) string {
	words := toSet(strings.Fields(a.Preprocess(text))...)

	positive, negative := 0, 0
	for word := range words {
		if positiveWords[word] {
			positive++
		}
		if negativeWords[word] {
			negative++
		}
	}

	switch {
	case positive > negative:
		return SentimentPositive
	case negative > positive:
		return SentimentNegative
	default:
		return SentimentNeutral
	}
}

// Categorize scores each category and returns the best one
func (a *TextAnalyzer) Categorize(text string, keywords []string) string {
	processed := a.Preprocess(text)
	extracted := toSet(keywords...)

	best, bestScore := DefaultCategory, 0
	for _, c := range categories {
		score := 0
		for _, kw := range c.keywords {
			if strings.Contains(processed, kw) {
				score++
			}
			if extracted[kw] {
				score += 2
			}
		}
		if score > bestScore {
			best, bestScore = c.name, score
		}
	}
	return best
}

// isUpperWord reports whether word has at least one cased letter and no
// lowercase ones, so "URGENT!!!" counts and "123" does not.
func isUpperWord(word string) bool {
	cased := false
	for _, r := range word {
		if unicode.IsLower(r) {
			return false
		}
		if unicode.IsUpper(r) || unicode.IsTitle(r) {
			cased = true
		}
	}
	return cased
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func toSet(values ...string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[v] = true
	}
	return set
}
