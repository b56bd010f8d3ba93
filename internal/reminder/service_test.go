package reminder

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"remindbot/internal/scheduler"
	"remindbot/internal/session"
	"remindbot/internal/store"
	logx "remindbot/pkg/logx"
)

var fixedNow = time.Date(2025, time.September, 17, 12, 0, 0, 0, time.Local)

// allWorkdays marks every date as a workday except those listed.
type allWorkdays struct {
	holidays map[string]bool
}

func (c allWorkdays) IsHoliday(t time.Time) bool { return c.holidays[t.Format("2006-01-02")] }
func (c allWorkdays) IsWorkday(t time.Time) bool { return !c.holidays[t.Format("2006-01-02")] }

type captureDelivery struct {
	mu        sync.Mutex
	delivered []store.Item
}

func (d *captureDelivery) Deliver(partition string, item store.Item) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.delivered = append(d.delivered, item)
	return nil
}

func (d *captureDelivery) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.delivered)
}

type fixture struct {
	svc      *Service
	repo     *store.Repository
	sched    *scheduler.Service
	delivery *captureDelivery
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	drv, err := store.Open(store.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "items.json")}, logx.Nop())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	repo := store.NewRepository(drv, logx.Nop())
	t.Cleanup(func() { _ = repo.Close() })

	// The scheduler is left unstarted: Add records jobs without arming
	// timers, which keeps these tests deterministic.
	sched := scheduler.New(scheduler.Config{}, logx.Nop())
	resolver := session.NewResolver(nil, repo.Partitions)
	delivery := &captureDelivery{}

	svc := NewService(repo, sched, resolver, allWorkdays{}, delivery, cfg, logx.Nop())
	svc.now = func() time.Time { return fixedNow }
	return &fixture{svc: svc, repo: repo, sched: sched, delivery: delivery}
}

const origin = "telegram:GroupMessage:42"

func req(text, timeSpec string) CreateRequest {
	return CreateRequest{
		Origin:      origin,
		Text:        text,
		TimeSpec:    timeSpec,
		CreatorID:   "7",
		CreatorName: "ann",
		TargetName:  "ann",
	}
}

func TestCreateReminder(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})

	r := req("drink water", "18:00")
	r.Repeat = "daily"
	r.HolidayType = "workday"
	conf, err := f.svc.CreateReminder(r)
	if err != nil {
		t.Fatalf("CreateReminder: %v", err)
	}
	if conf.At != "2025-09-17 18:00" {
		t.Fatalf("At = %q", conf.At)
	}
	if conf.Repeat != "every workday" {
		t.Fatalf("Repeat description = %q", conf.Repeat)
	}
	if conf.Item.Repeat != "daily_workday" {
		t.Fatalf("stored repeat = %q", conf.Item.Repeat)
	}
	if conf.Item.JobID == "" {
		t.Fatal("item not linked to a job")
	}

	items := f.repo.List(conf.Partition)
	if len(items) != 1 || items[0].JobID != conf.Item.JobID {
		t.Fatalf("repository state: %+v", items)
	}
	jobs := f.sched.Jobs()
	if len(jobs) != 1 || jobs[0].ID != conf.Item.JobID {
		t.Fatalf("scheduler state: %+v", jobs)
	}
	if !jobs[0].NextRun.Equal(time.Date(2025, time.September, 17, 18, 0, 0, 0, time.Local)) {
		t.Fatalf("next run = %v", jobs[0].NextRun)
	}
}

func TestCreateRejectsOverCapacityBeforeMutation(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{MaxItems: 1})

	if _, err := f.svc.CreateReminder(req("first", "18:00")); err != nil {
		t.Fatalf("first create: %v", err)
	}
	_, err := f.svc.CreateReminder(req("second", "19:00"))
	if !errors.Is(err, ErrCapacityExceeded) {
		t.Fatalf("err = %v, want ErrCapacityExceeded", err)
	}
	// The rejected create changed nothing.
	if got := f.repo.CountAll(); got != 1 {
		t.Fatalf("repo count = %d", got)
	}
	if got := len(f.sched.Jobs()); got != 1 {
		t.Fatalf("job count = %d", got)
	}
}

func TestWhitelist(t *testing.T) {
	t.Parallel()
	// Full-width comma separated.
	f := newFixture(t, Config{Whitelist: "7，8"})

	if _, err := f.svc.CreateReminder(req("ok", "18:00")); err != nil {
		t.Fatalf("whitelisted create: %v", err)
	}
	r := req("nope", "18:00")
	r.CreatorID = "9"
	if _, err := f.svc.CreateReminder(r); !errors.Is(err, ErrNotAllowed) {
		t.Fatalf("err = %v, want ErrNotAllowed", err)
	}
	if _, err := f.svc.List(origin, "9"); !errors.Is(err, ErrNotAllowed) {
		t.Fatalf("List err = %v, want ErrNotAllowed", err)
	}
}

func TestUniqueSessionIsolatesGroupMembers(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{UniqueSession: true})

	a := req("mine", "18:00")
	if _, err := f.svc.CreateReminder(a); err != nil {
		t.Fatalf("create a: %v", err)
	}
	b := req("yours", "19:00")
	b.CreatorID = "8"
	if _, err := f.svc.CreateReminder(b); err != nil {
		t.Fatalf("create b: %v", err)
	}

	mine, err := f.svc.List(origin, "7")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(mine) != 1 || mine[0].Text != "mine" {
		t.Fatalf("creator 7 sees %+v", mine)
	}
	yours, err := f.svc.List(origin, "8")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(yours) != 1 || yours[0].Text != "yours" {
		t.Fatalf("creator 8 sees %+v", yours)
	}
}

func TestListUnknownConversationIsEmpty(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})
	items, err := f.svc.List("telegram:FriendMessage:999", "7")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("items = %+v", items)
	}
}

func TestRemoveByIndexRemovesJobByStoredID(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})
	conf, err := f.svc.CreateReminder(req("bye", "18:00"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	removed, err := f.svc.RemoveByIndex(origin, "7", 0)
	if err != nil {
		t.Fatalf("RemoveByIndex: %v", err)
	}
	if removed.Text != "bye" {
		t.Fatalf("removed %+v", removed)
	}
	if got := f.sched.Jobs(); len(got) != 0 {
		t.Fatalf("job survived: %+v", got)
	}
	if got := f.repo.List(conf.Partition); len(got) != 0 {
		t.Fatalf("item survived: %+v", got)
	}
}

func TestRemoveByIndexFallsBackToContentMatch(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})
	conf, err := f.svc.CreateReminder(req("stale", "18:00"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	// Corrupt the stored job id; the content-match tier must still find
	// and remove the live job.
	if err := f.repo.SetJobID(conf.Partition, 0, "job-gone-stale"); err != nil {
		t.Fatalf("SetJobID: %v", err)
	}

	if _, err := f.svc.RemoveByIndex(origin, "7", 0); err != nil {
		t.Fatalf("RemoveByIndex: %v", err)
	}
	if got := f.sched.Jobs(); len(got) != 0 {
		t.Fatalf("stale-id job survived: %+v", got)
	}
}

func TestRemoveByIndexOutOfRange(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})
	if _, err := f.svc.CreateReminder(req("x", "18:00")); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := f.svc.RemoveByIndex(origin, "7", 5); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("err = %v, want store.ErrNotFound", err)
	}
}

func TestRemoveMatchingCriteria(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})
	if _, err := f.svc.CreateReminder(req("water the plants", "18:00")); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := f.svc.CreateTask(req("water delivery", "19:00")); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := f.svc.CreateReminder(req("ship release", "20:00")); err != nil {
		t.Fatalf("create: %v", err)
	}

	// Keyword + tasks-only removes exactly the matching task.
	removed, err := f.svc.RemoveMatching(origin, "7", DeleteCriteria{Keyword: "water", TasksOnly: true})
	if err != nil {
		t.Fatalf("RemoveMatching: %v", err)
	}
	if len(removed) != 1 || removed[0].Text != "water delivery" {
		t.Fatalf("removed %+v", removed)
	}

	// Time criteria.
	removed, err = f.svc.RemoveMatching(origin, "7", DeleteCriteria{Time: "20:00"})
	if err != nil {
		t.Fatalf("RemoveMatching: %v", err)
	}
	if len(removed) != 1 || removed[0].Text != "ship release" {
		t.Fatalf("removed %+v", removed)
	}

	// All sweeps the rest, including their jobs.
	removed, err = f.svc.RemoveMatching(origin, "7", DeleteCriteria{All: true})
	if err != nil {
		t.Fatalf("RemoveMatching: %v", err)
	}
	if len(removed) != 1 {
		t.Fatalf("removed %+v", removed)
	}
	if got := f.sched.Jobs(); len(got) != 0 {
		t.Fatalf("jobs left: %+v", got)
	}

	if _, err := f.svc.RemoveMatching(origin, "7", DeleteCriteria{}); err == nil {
		t.Fatal("empty criteria accepted")
	}
}

func TestCreateCommandTask(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{CommandPrefix: "/"})

	conf, err := f.svc.CreateCommandTask(req("/weather--/news----morning digest----start", "07:00"))
	if err != nil {
		t.Fatalf("CreateCommandTask: %v", err)
	}
	it := conf.Item
	if !it.IsTask || !it.IsCommandTask {
		t.Fatalf("flags: %+v", it)
	}
	if len(it.Commands) != 2 || it.Commands[0] != "/weather" || it.Commands[1] != "/news" {
		t.Fatalf("commands = %v", it.Commands)
	}
	if it.CustomIdentifier == nil || it.CustomIdentifier.Text != "morning digest" {
		t.Fatalf("identifier = %+v", it.CustomIdentifier)
	}

	// Missing prefix is rejected before anything is stored.
	if _, err := f.svc.CreateCommandTask(req("weather", "07:00")); err == nil {
		t.Fatal("prefix-less command accepted")
	}
	if got := f.repo.CountAll(); got != 1 {
		t.Fatalf("repo count = %d", got)
	}
}

func TestHandleFireOneShotDeliversAndRemoves(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})
	conf, err := f.svc.CreateReminder(req("once", "18:00"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	f.svc.HandleFire(conf.Partition, conf.Item)

	if f.delivery.count() != 1 {
		t.Fatalf("delivered %d times", f.delivery.count())
	}
	if got := f.repo.List(conf.Partition); len(got) != 0 {
		t.Fatalf("one-shot item survived firing: %+v", got)
	}
}

func TestHandleFireRepeatingRespectsFilter(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})
	// Today (2025-09-17) is a holiday in this calendar.
	f.svc.cal = allWorkdays{holidays: map[string]bool{"2025-09-17": true}}

	r := req("standup", "18:00")
	r.Repeat = "daily"
	r.HolidayType = "workday"
	conf, err := f.svc.CreateReminder(r)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// Workday-filtered item on a holiday: skipped, item untouched.
	f.svc.HandleFire(conf.Partition, conf.Item)
	if f.delivery.count() != 0 {
		t.Fatal("delivered on a filtered day")
	}
	if got := f.repo.List(conf.Partition); len(got) != 1 {
		t.Fatalf("repeating item removed by skip: %+v", got)
	}

	// On a workday it goes out, and the item still stays.
	f.svc.cal = allWorkdays{}
	f.svc.HandleFire(conf.Partition, conf.Item)
	if f.delivery.count() != 1 {
		t.Fatalf("delivered %d times", f.delivery.count())
	}
	if got := f.repo.List(conf.Partition); len(got) != 1 {
		t.Fatalf("repeating item removed by firing: %+v", got)
	}
}

func TestHandleFireRetiresRestoredOneShot(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})

	// Two identical one-shots persisted by a previous run, both still
	// carrying that run's job ids.
	f.repo.Append("p1", store.Item{Text: "dup", At: "2025-09-18 08:00", Repeat: "none", JobID: "old-run-1"})
	f.repo.Append("p1", store.Item{Text: "dup", At: "2025-09-18 08:00", Repeat: "none", JobID: "old-run-2"})

	f.svc.Restore()
	jobs := f.sched.Jobs()
	if len(jobs) != 2 {
		t.Fatalf("restored jobs = %+v", jobs)
	}
	if jobs[0].Item.JobID != jobs[0].ID {
		t.Fatalf("restored item carries JobID %q, job id is %q", jobs[0].Item.JobID, jobs[0].ID)
	}

	// Firing one of them retires exactly that item, not its twin.
	f.svc.HandleFire(jobs[0].Partition, jobs[0].Item)
	if f.delivery.count() != 1 {
		t.Fatalf("delivered %d times", f.delivery.count())
	}
	left := f.repo.List("p1")
	if len(left) != 1 {
		t.Fatalf("one firing left %d items", len(left))
	}
	if left[0].JobID != jobs[1].ID {
		t.Fatalf("wrong item removed: survivor %q, fired %q", left[0].JobID, jobs[0].ID)
	}
}

func TestConcurrentRemovesLeaveNoOrphanJobs(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})
	for _, txt := range []string{"a", "b", "c"} {
		if _, err := f.svc.CreateReminder(req(txt, "18:00")); err != nil {
			t.Fatalf("create %q: %v", txt, err)
		}
	}

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = f.svc.RemoveByIndex(origin, "7", 0)
		}()
	}
	wg.Wait()

	// Each delete must cancel the job of the item it actually removed; a
	// live job pointing at a deleted record means the steps raced.
	live := map[string]bool{}
	for _, p := range f.repo.Partitions() {
		for _, it := range f.repo.List(p) {
			live[it.JobID] = true
		}
	}
	for _, j := range f.sched.Jobs() {
		if !live[j.ID] {
			t.Fatalf("live job %q for a deleted item", j.ID)
		}
	}
}

func TestRestoreReArmsPersistedItems(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})

	// Simulate a restart: items exist in the repository but no jobs do.
	f.repo.Append("p1", store.Item{Text: "future one-shot", At: "2025-09-18 08:00", Repeat: "none"})
	f.repo.Append("p1", store.Item{Text: "past one-shot", At: "2025-09-01 08:00", Repeat: "none"})
	f.repo.Append("p1", store.Item{Text: "repeating from the past", At: "2025-01-01 18:30", Repeat: "daily"})

	f.svc.Restore()

	jobs := f.sched.Jobs()
	if len(jobs) != 2 {
		t.Fatalf("restored jobs = %+v", jobs)
	}
	// The repeating item lands on today's 18:30 (still ahead of 12:00).
	wantRepeat := time.Date(2025, time.September, 17, 18, 30, 0, 0, time.Local)
	found := false
	for _, j := range jobs {
		if j.Item.Repeat == "daily" {
			found = true
			if !j.NextRun.Equal(wantRepeat) {
				t.Fatalf("repeating next run = %v, want %v", j.NextRun, wantRepeat)
			}
		}
	}
	if !found {
		t.Fatal("repeating item not restored")
	}
	// The expired one-shot was swept by the restore save.
	for _, it := range f.repo.List("p1") {
		if it.Text == "past one-shot" {
			t.Fatal("expired one-shot survived restore")
		}
	}
}
