// Package reminder is the orchestration layer: it ties time parsing,
// recurrence rules, session identity, the item repository and the job
// scheduler together behind the operations the chat surface exposes
// (create, list, delete, and the firing callback).
package reminder

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"remindbot/internal/command"
	"remindbot/internal/recurrence"
	"remindbot/internal/scheduler"
	"remindbot/internal/session"
	"remindbot/internal/store"
	"remindbot/internal/timeparse"
	logx "remindbot/pkg/logx"
)

var (
	// ErrCapacityExceeded means the per-user or global item limit is hit.
	// Checked before any mutation, so a rejected create changes nothing.
	ErrCapacityExceeded = errors.New("reminder capacity exceeded")

	// ErrNotAllowed means the creator is not on the whitelist.
	ErrNotAllowed = errors.New("user not allowed")
)

// Delivery sends a fired item to its conversation.
type Delivery interface {
	Deliver(partition string, item store.Item) error
}

// DeliveryFunc adapts a function to the Delivery interface.
type DeliveryFunc func(partition string, item store.Item) error

func (f DeliveryFunc) Deliver(partition string, item store.Item) error { return f(partition, item) }

// Config is the creation policy. Hot-reloadable via Apply.
type Config struct {
	// MaxItems caps how many items one list may hold; 0 disables the cap.
	// With UniqueSession the cap is per isolated partition, otherwise it
	// is shared across all partitions.
	MaxItems int

	// UniqueSession gives each group member a private item list.
	UniqueSession bool

	// Whitelist is a comma-separated creator-id allow list; empty allows
	// everyone. Full-width commas are accepted.
	Whitelist string

	// CommandPrefix is required on command-task instructions; empty
	// disables the check.
	CommandPrefix string
}

// Service implements the reminder operations.
type Service struct {
	repo     *store.Repository
	sched    *scheduler.Service
	resolver *session.Resolver
	cal      recurrence.Calendar
	delivery Delivery
	log      logx.Logger

	cfgMu sync.RWMutex
	cfg   Config

	now func() time.Time
}

func NewService(repo *store.Repository, sched *scheduler.Service, resolver *session.Resolver, cal recurrence.Calendar, delivery Delivery, cfg Config, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if delivery == nil {
		delivery = DeliveryFunc(func(partition string, item store.Item) error {
			log.Info("delivery (no transport)", logx.String("partition", partition), logx.String("text", item.Text))
			return nil
		})
	}
	return &Service{
		repo:     repo,
		sched:    sched,
		resolver: resolver,
		cal:      cal,
		delivery: delivery,
		cfg:      cfg,
		log:      log,
		now:      time.Now,
	}
}

// SetDelivery swaps the delivery transport. Must be called before the
// scheduler starts firing.
func (s *Service) SetDelivery(d Delivery) {
	if d != nil {
		s.delivery = d
	}
}

// Apply swaps in a new creation policy, for config hot reload.
func (s *Service) Apply(cfg Config) {
	s.cfgMu.Lock()
	s.cfg = cfg
	s.cfgMu.Unlock()
}

func (s *Service) config() Config {
	s.cfgMu.RLock()
	defer s.cfgMu.RUnlock()
	return s.cfg
}

// Allowed checks the creator against the whitelist.
func (s *Service) Allowed(creatorID string) bool {
	wl := strings.ReplaceAll(s.config().Whitelist, "，", ",")
	wl = strings.TrimSpace(wl)
	if wl == "" {
		return true
	}
	for _, id := range strings.Split(wl, ",") {
		if strings.TrimSpace(id) == creatorID {
			return true
		}
	}
	return false
}

// CreateRequest carries the user-supplied fields of a create operation.
type CreateRequest struct {
	Origin string // raw session origin, platform:kind:id

	Text     string
	TimeSpec string

	// Canonical selects the strict machine-input time parser.
	Canonical bool

	// Week, Repeat and HolidayType are the loose recurrence parameters;
	// they go through slot repair before validation.
	Week        string
	Repeat      string
	HolidayType string

	CreatorID   string
	CreatorName string
	TargetName  string
}

// Confirmation echoes what was actually scheduled.
type Confirmation struct {
	Partition string
	At        string
	Repeat    string // human description, e.g. "every workday"
	Item      store.Item
}

type itemKind int

const (
	kindReminder itemKind = iota
	kindTask
	kindCommandTask
)

// CreateReminder schedules a plain reminder message.
func (s *Service) CreateReminder(req CreateRequest) (Confirmation, error) {
	return s.create(req, kindReminder)
}

// CreateTask schedules a task: the text is treated as an instruction to act
// on when it fires rather than a message to repeat back.
func (s *Service) CreateTask(req CreateRequest) (Confirmation, error) {
	return s.create(req, kindTask)
}

// CreateCommandTask schedules literal bot commands for later execution.
func (s *Service) CreateCommandTask(req CreateRequest) (Confirmation, error) {
	return s.create(req, kindCommandTask)
}

func (s *Service) create(req CreateRequest, kind itemKind) (Confirmation, error) {
	if !s.Allowed(req.CreatorID) {
		return Confirmation{}, ErrNotAllowed
	}
	if strings.TrimSpace(req.Text) == "" {
		return Confirmation{}, fmt.Errorf("empty text")
	}
	cfg := s.config()
	now := s.now()

	week, repeat, holidayType, err := recurrence.RepairParams(req.Week, req.Repeat, req.HolidayType)
	if err != nil {
		return Confirmation{}, err
	}

	var at time.Time
	if req.Canonical {
		at, err = timeparse.ParseCanonical(req.TimeSpec, now)
	} else {
		at, err = timeparse.Parse(req.TimeSpec, now)
	}
	if err != nil {
		return Confirmation{}, err
	}

	if week != "" {
		w, ok := recurrence.Weekday(week)
		if !ok {
			return Confirmation{}, fmt.Errorf("invalid weekday %q", week)
		}
		at = recurrence.NextWeekday(at, w)
	}

	rk, rf, err := recurrence.Parse(recurrence.Combine(recurrence.Kind(repeat), recurrence.Filter(holidayType)))
	if err != nil {
		return Confirmation{}, err
	}
	if rk == recurrence.None && holidayType != "" {
		return Confirmation{}, fmt.Errorf("holiday filter %q requires a repeat kind", holidayType)
	}

	item := store.Item{
		Text:        strings.TrimSpace(req.Text),
		At:          timeparse.Format(at),
		Repeat:      recurrence.Combine(rk, rf),
		TargetName:  req.TargetName,
		CreatorID:   req.CreatorID,
		CreatorName: req.CreatorName,
	}
	switch kind {
	case kindTask:
		item.IsTask = true
	case kindCommandTask:
		display, commands, ident := command.ParseMulti(req.Text)
		if err := command.Validate(commands, cfg.CommandPrefix); err != nil {
			return Confirmation{}, err
		}
		item.IsTask = true
		item.IsCommandTask = true
		item.Text = display
		item.Commands = commands
		item.CustomIdentifier = ident
	}

	partition := s.resolver.ResolveOrCreate(
		session.IsolationKey(req.Origin, req.CreatorID, cfg.UniqueSession))

	// Capacity check and append are one repository critical section, so a
	// rejected create leaves everything untouched and concurrent creates
	// cannot overshoot the cap.
	idx, ok := s.repo.AppendIfUnder(partition, item, cfg.MaxItems, cfg.UniqueSession)
	if !ok {
		return Confirmation{}, fmt.Errorf("%w: limit %d", ErrCapacityExceeded, cfg.MaxItems)
	}
	jobID, err := s.sched.Add(partition, item, at)
	if err != nil {
		_, _ = s.repo.RemoveAt(partition, idx)
		return Confirmation{}, fmt.Errorf("schedule: %w", err)
	}
	item.JobID = jobID
	if err := s.repo.SetJobID(partition, idx, jobID); err != nil {
		s.log.Warn("item moved before job id could be stored", logx.String("partition", partition), logx.Err(err))
	}
	if err := s.repo.Save(); err != nil {
		s.log.Error("save after create failed", logx.Err(err))
	}

	s.log.Info("item created",
		logx.String("partition", partition),
		logx.String("at", item.At),
		logx.String("repeat", item.Repeat),
		logx.Bool("task", item.IsTask))

	return Confirmation{
		Partition: partition,
		At:        item.At,
		Repeat:    recurrence.Describe(rk, rf),
		Item:      item,
	}, nil
}

// List returns the caller's items in insertion order. A conversation with
// no items yields an empty list, not an error.
func (s *Service) List(origin, creatorID string) ([]store.Item, error) {
	if !s.Allowed(creatorID) {
		return nil, ErrNotAllowed
	}
	key, err := s.resolveExisting(origin, creatorID)
	if err != nil {
		return nil, nil
	}
	return s.repo.List(key), nil
}

// RemoveByIndex deletes one item by its position in the caller's list.
func (s *Service) RemoveByIndex(origin, creatorID string, index int) (store.Item, error) {
	if !s.Allowed(creatorID) {
		return store.Item{}, ErrNotAllowed
	}
	key, err := s.resolveExisting(origin, creatorID)
	if err != nil {
		return store.Item{}, store.ErrNotFound
	}

	// Remove first, then cancel the removed item's job. Unscheduling before
	// the removal would race a concurrent delete on the same partition: the
	// index can shift between the two steps and point at a different item.
	removed, err := s.repo.RemoveAt(key, index)
	if err != nil {
		return store.Item{}, err
	}
	s.unschedule(key, removed)
	if err := s.repo.Save(); err != nil {
		s.log.Error("save after delete failed", logx.Err(err))
	}
	s.log.Info("item removed", logx.String("partition", key), logx.String("text", removed.Text))
	return removed, nil
}

// unschedule removes an item's scheduler job: first by the stored job id,
// then by content match. A content-match hit after an id miss means the
// stored id went stale, which is worth surfacing.
func (s *Service) unschedule(partition string, it store.Item) {
	if it.JobID != "" {
		if err := s.sched.Remove(it.JobID); err == nil {
			return
		}
	}
	if id, ok := s.sched.RemoveMatching(partition, it.Text, it.At); ok {
		s.log.Warn("scheduler job found by content match, stored job id was stale",
			logx.String("partition", partition),
			logx.String("stored_id", it.JobID),
			logx.String("matched_id", id))
		return
	}
	if it.JobID != "" {
		s.log.Warn("no scheduler job for item",
			logx.String("partition", partition), logx.String("job", it.JobID))
	}
}

func (s *Service) resolveExisting(origin, creatorID string) (string, error) {
	cfg := s.config()
	return s.resolver.ResolveExisting(
		session.IsolationKey(origin, creatorID, cfg.UniqueSession))
}
