package reminder

import (
	"fmt"
	"strings"

	"remindbot/internal/recurrence"
	"remindbot/internal/store"
	logx "remindbot/pkg/logx"
)

// DeleteCriteria selects items for bulk deletion. Every populated field
// must match; All matches everything. TasksOnly and RemindersOnly narrow
// the selection by item type.
type DeleteCriteria struct {
	Keyword string // substring of the item text
	Time    string // exact trigger time of day, "HH:MM"
	Weekday string // weekday of the trigger date, e.g. "mon"
	Repeat  string // repeat kind, e.g. "daily"
	Date    string // exact trigger date, "YYYY-MM-DD"

	All           bool
	TasksOnly     bool
	RemindersOnly bool
}

func (c DeleteCriteria) empty() bool {
	return !c.All && c.Keyword == "" && c.Time == "" && c.Weekday == "" && c.Repeat == "" && c.Date == ""
}

// RemoveMatching deletes every item of the caller's list that matches the
// criteria and returns the removed items.
func (s *Service) RemoveMatching(origin, creatorID string, c DeleteCriteria) ([]store.Item, error) {
	if !s.Allowed(creatorID) {
		return nil, ErrNotAllowed
	}
	if c.TasksOnly && c.RemindersOnly {
		return nil, fmt.Errorf("tasks-only and reminders-only are mutually exclusive")
	}
	if c.empty() {
		return nil, fmt.Errorf("no deletion criteria given")
	}

	match, err := c.matcher()
	if err != nil {
		return nil, err
	}

	key, err := s.resolveExisting(origin, creatorID)
	if err != nil {
		return nil, nil
	}

	removed := s.repo.RemoveWhere(key, match)
	for _, it := range removed {
		s.unschedule(key, it)
	}
	if len(removed) > 0 {
		if err := s.repo.Save(); err != nil {
			s.log.Error("save after bulk delete failed", logx.Err(err))
		}
		s.log.Info("items removed by criteria",
			logx.String("partition", key), logx.Int("count", len(removed)))
	}
	return removed, nil
}

func (c DeleteCriteria) matcher() (func(store.Item) bool, error) {
	var wantWeekday string
	if c.Weekday != "" {
		w, ok := recurrence.Weekday(c.Weekday)
		if !ok {
			return nil, fmt.Errorf("invalid weekday %q", c.Weekday)
		}
		wantWeekday = w.String()
	}
	if c.Repeat != "" {
		if _, _, err := recurrence.Parse(c.Repeat); err != nil {
			return nil, err
		}
	}

	return func(it store.Item) bool {
		if c.TasksOnly && !it.IsTask {
			return false
		}
		if c.RemindersOnly && it.IsTask {
			return false
		}
		if c.All {
			return true
		}
		if c.Keyword != "" && !strings.Contains(it.Text, c.Keyword) {
			return false
		}
		t, ok := it.Time()
		if c.Time != "" && (!ok || t.Format("15:04") != c.Time) {
			return false
		}
		if wantWeekday != "" && (!ok || t.Weekday().String() != wantWeekday) {
			return false
		}
		if c.Date != "" && (!ok || t.Format("2006-01-02") != c.Date) {
			return false
		}
		if c.Repeat != "" {
			k, _, err := recurrence.Parse(it.Repeat)
			if err != nil || string(k) != strings.ToLower(strings.TrimSpace(c.Repeat)) {
				return false
			}
		}
		return true
	}, nil
}
