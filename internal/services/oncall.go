package services

import (
	"context"
	"fmt"
	"time"

	"github.com/kouzoh/oncall-support-bot/internal/storage"
	"gorm.io/gorm"
)

// OnCallResolver answers who is on duty at a given moment
type OnCallResolver struct {
	db  *gorm.DB
	loc *time.Location
}

// NewOnCallResolver creates a resolver that evaluates slots in loc
func NewOnCallResolver(db *gorm.DB, loc *time.Location) *OnCallResolver {
	if loc == nil {
		loc = time.Local
	}
	return &OnCallResolver{
		db:  db,
		loc: loc,
	}
}

// Primary returns the primary responder on duty at now, or nil.
// When several primary slots overlap the lowest slot id wins.
func (r *OnCallResolver) Primary(ctx context.Context, now time.Time) (*storage.Responder, error) {
	slots, err := r.matchingSlots(ctx, now, true)
	if err != nil {
		return nil, err
	}
	if len(slots) == 0 {
		return nil, nil
	}
	return &slots[0].Responder, nil
}

// Backup returns the backup responder for an escalation level. Level 2 is
// the first backup, level 3 the second and so on. Nil when out of range.
func (r *OnCallResolver) Backup(ctx context.Context, now time.Time, level int) (*storage.Responder, error) {
	if level < 2 {
		return nil, nil
	}
	slots, err := r.matchingSlots(ctx, now, false)
	if err != nil {
		return nil, err
	}
	index := level - 2
	if index >= len(slots) {
		return nil, nil
	}
	return &slots[index].Responder, nil
}

func (r *OnCallResolver) matchingSlots(ctx context.Context, now time.Time, primary bool) ([]storage.ScheduleSlot, error) {
	local := now.In(r.loc)
	clock := local.Format("15:04")

	var slots []storage.ScheduleSlot
	err := r.db.WithContext(ctx).
		Preload("Responder").
		Where("active = ? AND is_primary = ? AND day_of_week = ?", true, primary, DayOfWeek(local)).
		Where("start_time <= ? AND end_time > ?", clock, clock).
		Where("responder_id IN (?)", r.db.Model(&storage.Responder{}).Select("id").Where("active = ?", true)).
		Order("id").
		Find(&slots).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load schedule slots: %w", err)
	}
	return slots, nil
}

// DayOfWeek maps a time to the schedule convention of 0 = Monday
func DayOfWeek(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}
