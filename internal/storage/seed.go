package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
)

// Seed describes responders, their schedule, knowledge entries and
// escalation rules to load at startup.
type Seed struct {
	Responders []struct {
		Name     string `yaml:"name"`
		Platform string `yaml:"platform"`
		ChatID   string `yaml:"chat_id"`
		Slots    []struct {
			Day     int    `yaml:"day"`
			Start   string `yaml:"start"`
			End     string `yaml:"end"`
			Primary bool   `yaml:"primary"`
		} `yaml:"slots"`
	} `yaml:"responders"`

	Knowledge []struct {
		Title     string   `yaml:"title"`
		Pattern   string   `yaml:"pattern"`
		Solution  string   `yaml:"solution"`
		Category  string   `yaml:"category"`
		Keywords  []string `yaml:"keywords"`
		Steps     []string `yaml:"steps"`
		Threshold float64  `yaml:"threshold"`
	} `yaml:"knowledge"`

	EscalationRules []struct {
		Priority       string `yaml:"priority"`
		TimeoutSeconds int    `yaml:"timeout_seconds"`
		MaxLevel       int    `yaml:"max_level"`
	} `yaml:"escalation_rules"`
}

// LoadSeedFile parses a YAML seed file and applies it
func LoadSeedFile(db *gorm.DB, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read seed file: %w", err)
	}

	var seed Seed
	if err := yaml.Unmarshal(raw, &seed); err != nil {
		return fmt.Errorf("parse seed file: %w", err)
	}

	return ApplySeed(db, &seed)
}

// ApplySeed inserts seed rows that do not exist yet. Running it twice is a no-op.
func ApplySeed(db *gorm.DB, seed *Seed) error {
	return db.Transaction(func(tx *gorm.DB) error {
		for _, r := range seed.Responders {
			platform := r.Platform
			if platform == "" {
				platform = PlatformTelegram
			}

			var responder Responder
			err := tx.Where(Responder{Platform: platform, ChatID: r.ChatID}).
				Attrs(Responder{Name: r.Name, Active: true}).
				FirstOrCreate(&responder).Error
			if err != nil {
				return fmt.Errorf("seed responder %s: %w", r.Name, err)
			}

			for _, s := range r.Slots {
				if s.Day < 0 || s.Day > 6 {
					return fmt.Errorf("seed responder %s: day %d out of range", r.Name, s.Day)
				}
				start, end, err := slotWindow(s.Start, s.End)
				if err != nil {
					return fmt.Errorf("seed responder %s: %w", r.Name, err)
				}
				slot := ScheduleSlot{}
				err = tx.Where("responder_id = ? AND day_of_week = ? AND start_time = ? AND end_time = ? AND is_primary = ?",
					responder.ID, s.Day, start, end, s.Primary).
					Attrs(ScheduleSlot{
						ResponderID: responder.ID,
						DayOfWeek:   s.Day,
						StartTime:   start,
						EndTime:     end,
						IsPrimary:   s.Primary,
						Active:      true,
					}).
					FirstOrCreate(&slot).Error
				if err != nil {
					return fmt.Errorf("seed slot for %s: %w", r.Name, err)
				}
			}
		}

		for _, k := range seed.Knowledge {
			steps := ""
			if len(k.Steps) > 0 {
				encoded, err := json.Marshal(k.Steps)
				if err != nil {
					return err
				}
				steps = string(encoded)
			}
			threshold := k.Threshold
			if threshold == 0 {
				threshold = 0.7
			}

			var entry KnowledgeEntry
			err := tx.Where(KnowledgeEntry{Title: k.Title}).
				Attrs(KnowledgeEntry{
					QuestionPattern:      k.Pattern,
					SolutionText:         k.Solution,
					Category:             k.Category,
					Keywords:             strings.Join(k.Keywords, ","),
					TroubleshootingSteps: steps,
					ConfidenceThreshold:  threshold,
					Active:               true,
				}).
				FirstOrCreate(&entry).Error
			if err != nil {
				return fmt.Errorf("seed knowledge %q: %w", k.Title, err)
			}
		}

		for _, r := range seed.EscalationRules {
			var rule EscalationRule
			err := tx.Where(EscalationRule{Priority: r.Priority}).
				Attrs(EscalationRule{TimeoutSeconds: r.TimeoutSeconds, MaxLevel: r.MaxLevel, Active: true}).
				FirstOrCreate(&rule).Error
			if err != nil {
				return fmt.Errorf("seed escalation rule %s: %w", r.Priority, err)
			}
		}

		logrus.WithFields(logrus.Fields{
			"responders":       len(seed.Responders),
			"knowledge":        len(seed.Knowledge),
			"escalation_rules": len(seed.EscalationRules),
		}).Info("Seed data applied")

		return nil
	})
}

// endOfDay closes a slot that runs until midnight
const endOfDay = "24:00"

// NormalizeClock parses an "H:MM" or "HH:MM" time of day and returns it
// zero padded, so slot bounds compare correctly as text. "24:00" is only
// accepted when allowEndOfDay is set.
func NormalizeClock(value string, allowEndOfDay bool) (string, error) {
	value = strings.TrimSpace(value)
	if value == endOfDay {
		if !allowEndOfDay {
			return "", fmt.Errorf("invalid time of day %q", value)
		}
		return endOfDay, nil
	}
	t, err := time.Parse("15:04", value)
	if err != nil {
		return "", fmt.Errorf("invalid time of day %q", value)
	}
	return t.Format("15:04"), nil
}

func slotWindow(start, end string) (string, string, error) {
	s, err := NormalizeClock(start, false)
	if err != nil {
		return "", "", fmt.Errorf("slot start: %w", err)
	}
	e, err := NormalizeClock(end, true)
	if err != nil {
		return "", "", fmt.Errorf("slot end: %w", err)
	}
	if s >= e {
		return "", "", fmt.Errorf("slot %s-%s ends before it starts", s, e)
	}
	return s, e, nil
}
