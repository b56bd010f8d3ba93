package reminder

import (
	"time"

	"remindbot/internal/recurrence"
	"remindbot/internal/store"
	logx "remindbot/pkg/logx"
)

// HandleFire is the scheduler's firing callback.
//
// One-shot items are delivered and then removed from the repository; the
// scheduler has already retired their job. Repeating items consult the
// recurrence rule and holiday calendar for today's date: on a match the
// item is delivered, otherwise the firing is skipped silently. Either way
// the stored item is untouched; the scheduler re-arms the same job id for
// the next day.
func (s *Service) HandleFire(partition string, item store.Item) {
	k, f, err := recurrence.Parse(item.Repeat)
	if err != nil {
		s.log.Error("stored item has an invalid repeat rule",
			logx.String("partition", partition), logx.String("repeat", item.Repeat), logx.Err(err))
		return
	}

	now := s.now()
	if k != recurrence.None {
		base, ok := item.Time()
		if !ok {
			s.log.Error("stored item has an invalid timestamp",
				logx.String("partition", partition), logx.String("at", item.At))
			return
		}
		if !recurrence.ShouldFireToday(base, k, f, now, s.cal) {
			s.log.Debug("firing skipped by recurrence rule",
				logx.String("partition", partition),
				logx.String("repeat", item.Repeat),
				logx.Time("today", now))
			return
		}
	}

	if err := s.delivery.Deliver(partition, item); err != nil {
		s.log.Error("delivery failed",
			logx.String("partition", partition), logx.String("text", item.Text), logx.Err(err))
	}

	if k == recurrence.None {
		removed := s.repo.RemoveWhere(partition, func(other store.Item) bool {
			if item.JobID != "" {
				return other.JobID == item.JobID
			}
			return other.Text == item.Text && other.At == item.At
		})
		if len(removed) == 0 {
			s.log.Warn("fired one-shot item not found in repository",
				logx.String("partition", partition), logx.String("text", item.Text))
		}
		if err := s.repo.Save(); err != nil {
			s.log.Error("save after firing failed", logx.Err(err))
		}
	}
}

// Restore re-arms scheduler jobs for every persisted item, after a restart.
// One-shot items whose time already passed are left for the prune on the
// next save; repeating items are scheduled for their next occurrence at the
// stored time of day.
func (s *Service) Restore() {
	now := s.now()
	doc := s.repo.Snapshot()
	restored := 0
	for partition, items := range doc {
		for idx, it := range items {
			at, ok := it.Time()
			if !ok {
				s.log.Warn("skipping item with invalid timestamp",
					logx.String("partition", partition), logx.String("at", it.At))
				continue
			}
			fireAt := at
			if it.Repeating() {
				fireAt = nextOccurrence(at, now)
			} else if at.Before(now) {
				continue
			}
			jobID, err := s.sched.Add(partition, it, fireAt)
			if err != nil {
				s.log.Error("restore schedule failed", logx.String("partition", partition), logx.Err(err))
				continue
			}
			if err := s.repo.SetJobID(partition, idx, jobID); err != nil {
				s.log.Warn("restore could not store job id", logx.String("partition", partition), logx.Err(err))
			}
			restored++
		}
	}
	if err := s.repo.Save(); err != nil {
		s.log.Error("save after restore failed", logx.Err(err))
	}
	s.log.Info("jobs restored", logx.Int("count", restored))
}

// nextOccurrence places a repeating item's stored time of day on today,
// moving to tomorrow if that minute already passed.
func nextOccurrence(at, now time.Time) time.Time {
	cand := time.Date(now.Year(), now.Month(), now.Day(), at.Hour(), at.Minute(), 0, 0, now.Location())
	if cand.Before(now) {
		cand = cand.AddDate(0, 0, 1)
	}
	return cand
}

// Purge drops expired one-shot items and empty partitions. Runs from the
// nightly maintenance cron; the repository applies the same sweep on every
// save, this just forces one.
func (s *Service) Purge() {
	before := s.repo.CountAll()
	if err := s.repo.Save(); err != nil {
		s.log.Error("purge save failed", logx.Err(err))
		return
	}
	if n := before - s.repo.CountAll(); n > 0 {
		s.log.Info("expired items purged", logx.Int("count", n))
	}
}
