package store

import (
	"errors"
	"time"

	"remindbot/internal/command"
	"remindbot/internal/timeparse"
)

// ErrNotFound is returned for lookups addressing an item that is not in
// the repository (bad partition or out-of-range index).
var ErrNotFound = errors.New("item not found")

// Item is one scheduled reminder or task.
type Item struct {
	// Text is the payload: reminder text, task instruction, or the
	// display form of a command task.
	Text string `json:"text"`

	// Commands holds the literal instructions of a command task, in
	// execution order.
	Commands []string `json:"commands,omitempty"`

	// At is the canonical trigger timestamp, "YYYY-MM-DD HH:MM" local time.
	At string `json:"datetime"`

	// Repeat is "none" or a recurrence wire form like "daily_workday".
	Repeat string `json:"repeat"`

	// TargetName is the display name of the user being reminded.
	TargetName string `json:"user_name,omitempty"`

	CreatorID   string `json:"creator_id,omitempty"`
	CreatorName string `json:"creator_name,omitempty"`

	IsTask        bool `json:"is_task"`
	IsCommandTask bool `json:"is_command_task,omitempty"`

	CustomIdentifier *command.Identifier `json:"custom_identifier,omitempty"`

	// JobID links the item to its live scheduler job; empty when the item
	// is not scheduled.
	JobID string `json:"job_id,omitempty"`
}

// Time parses the canonical trigger timestamp.
func (it Item) Time() (time.Time, bool) {
	t, err := time.ParseInLocation(timeparse.Layout, it.At, time.Local)
	return t, err == nil
}

// Repeating reports whether the item recurs.
func (it Item) Repeating() bool {
	return it.Repeat != "" && it.Repeat != "none"
}

// Expired reports whether a one-shot item's trigger time already passed.
// Repeating items never expire.
func (it Item) Expired(now time.Time) bool {
	if it.Repeating() {
		return false
	}
	t, ok := it.Time()
	if !ok {
		// An unparseable timestamp can never fire; treat it as expired so
		// the next save sweeps it out.
		return true
	}
	return t.Before(now)
}

// Config selects and configures the persistence driver.
//
// Driver values:
//   - "file" (or empty): single JSON document
//   - "sqlite": SQLite database file
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}
