// Package telegram is the Telegram surface: it delivers fired items to
// their chats and exposes the create/list/delete operations as bot
// commands over long polling.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	"remindbot/internal/recurrence"
	"remindbot/internal/reminder"
	"remindbot/internal/runtime/supervisor"
	"remindbot/internal/session"
	"remindbot/internal/store"
	logx "remindbot/pkg/logx"
)

type Config struct {
	Token       string
	PollTimeout time.Duration

	// Mention toggles for group-chat delivery.
	MentionOnReminder bool
	MentionOnTask     bool
	MentionOnCommand  bool
}

type Adapter struct {
	cfg Config
	log logx.Logger
	bot *tele.Bot
	svc *reminder.Service

	runMu   sync.Mutex
	running bool
	sup     *supervisor.Supervisor
}

func New(cfg Config, svc *reminder.Service, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Adapter{cfg: cfg, log: log, bot: b, svc: svc}
	a.registerHandlers()
	return a, nil
}

func (a *Adapter) Start(ctx context.Context) error {
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log.With(logx.String("comp", "telegram"))))
	sup := a.sup
	a.runMu.Unlock()

	sup.Go0("telebot.stop_on_cancel", func(c context.Context) {
		<-c.Done()
		a.bot.Stop()
	})
	sup.Go0("telebot.poll", func(context.Context) {
		a.log.Info("polling started")
		a.bot.Start()
		a.log.Info("polling stopped")
	})
	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	sup := a.sup
	a.sup = nil
	wasRunning := a.running
	a.running = false
	a.runMu.Unlock()

	if !wasRunning {
		return nil
	}
	return sup.Stop(ctx)
}

// Deliver implements reminder.Delivery: it resolves the partition back to a
// sendable chat id and posts the item.
func (a *Adapter) Deliver(partition string, item store.Item) error {
	o, err := session.ParseOrigin(session.DeliveryKey(partition))
	if err != nil {
		return fmt.Errorf("undeliverable partition %q: %w", partition, err)
	}
	chatID, err := strconv.ParseInt(o.ID, 10, 64)
	if err != nil {
		return fmt.Errorf("partition %q has a non-numeric chat id: %w", partition, err)
	}
	_, err = a.bot.Send(tele.ChatID(chatID), a.renderFiring(o, item))
	return err
}

func (a *Adapter) renderFiring(o session.Origin, item store.Item) string {
	var b strings.Builder
	if o.Kind == "GroupMessage" && a.mentionWanted(item) && item.TargetName != "" {
		b.WriteString("@" + item.TargetName + " ")
	}
	switch {
	case item.IsCommandTask:
		b.WriteString("[Command] ")
		b.WriteString(strings.Join(item.Commands, "\n"))
		return item.CustomIdentifier.Apply(b.String())
	case item.IsTask:
		b.WriteString("[Task] ")
	default:
		b.WriteString("[Reminder] ")
	}
	b.WriteString(item.Text)
	return b.String()
}

func (a *Adapter) mentionWanted(item store.Item) bool {
	switch {
	case item.IsCommandTask:
		return a.cfg.MentionOnCommand
	case item.IsTask:
		return a.cfg.MentionOnTask
	default:
		return a.cfg.MentionOnReminder
	}
}

func (a *Adapter) registerHandlers() {
	a.bot.Handle("/remind", a.createHandler(a.svc.CreateReminder))
	a.bot.Handle("/task", a.createHandler(a.svc.CreateTask))
	a.bot.Handle("/cmdtask", a.createHandler(a.svc.CreateCommandTask))
	a.bot.Handle("/list", a.handleList)
	a.bot.Handle("/del", a.handleDelete)
	a.bot.Handle("/help", func(c tele.Context) error {
		return c.Send(helpText)
	})
}

const helpText = `Commands:
/remind <time> [weekday] [repeat] [workday|holiday] <text> - schedule a reminder
/task   <time> [weekday] [repeat] [workday|holiday] <text> - schedule a task
/cmdtask <time> [...] <command[--command]> - schedule bot commands
/list - show your items
/del <number> - delete one item
/del all - delete everything
Time formats: HH:MM, HHMM, MM-DD-HH:MM, MMDDHHII, YYYY-MM-DD-HH:MM, YYYYMMDDHHII`

func (a *Adapter) createHandler(create func(reminder.CreateRequest) (reminder.Confirmation, error)) tele.HandlerFunc {
	return func(c tele.Context) error {
		req, err := a.buildRequest(c)
		if err != nil {
			return c.Send(err.Error())
		}
		conf, err := create(req)
		if err != nil {
			return c.Send(userError(err))
		}
		return c.Send(fmt.Sprintf("Scheduled for %s (%s): %s", conf.At, conf.Repeat, conf.Item.Text))
	}
}

// buildRequest parses "<time> [weekday] [repeat] [filter] <text>". Tokens
// after the time spec are consumed as recurrence parameters as long as
// they validate; everything after the first non-parameter token is text.
func (a *Adapter) buildRequest(c tele.Context) (reminder.CreateRequest, error) {
	fields := strings.Fields(c.Message().Payload)
	if len(fields) < 2 {
		return reminder.CreateRequest{}, errors.New("usage: <time> [weekday] [repeat] [workday|holiday] <text>")
	}
	req := reminder.CreateRequest{
		Origin:      a.origin(c),
		TimeSpec:    fields[0],
		CreatorID:   strconv.FormatInt(c.Sender().ID, 10),
		CreatorName: senderName(c.Sender()),
		TargetName:  senderName(c.Sender()),
	}

	rest := fields[1:]
	for len(rest) > 1 {
		tok := strings.ToLower(rest[0])
		if _, ok := recurrence.Weekday(tok); ok && req.Week == "" && req.Repeat == "" {
			req.Week = tok
			rest = rest[1:]
			continue
		}
		if _, _, err := recurrence.Parse(tok); err == nil && tok != "none" && req.Repeat == "" {
			req.Repeat = tok
			rest = rest[1:]
			continue
		}
		if (tok == "workday" || tok == "holiday") && req.HolidayType == "" {
			req.HolidayType = tok
			rest = rest[1:]
			continue
		}
		break
	}
	req.Text = strings.Join(rest, " ")
	return req, nil
}

func (a *Adapter) handleList(c tele.Context) error {
	items, err := a.svc.List(a.origin(c), strconv.FormatInt(c.Sender().ID, 10))
	if err != nil {
		return c.Send(userError(err))
	}
	if len(items) == 0 {
		return c.Send("Nothing scheduled.")
	}
	var b strings.Builder
	for i, it := range items {
		k, f, _ := recurrence.Parse(it.Repeat)
		label := "reminder"
		if it.IsCommandTask {
			label = "command"
		} else if it.IsTask {
			label = "task"
		}
		fmt.Fprintf(&b, "%d. [%s] %s at %s (%s)\n", i+1, label, it.Text, it.At, recurrence.Describe(k, f))
	}
	return c.Send(strings.TrimRight(b.String(), "\n"))
}

func (a *Adapter) handleDelete(c tele.Context) error {
	origin := a.origin(c)
	creator := strconv.FormatInt(c.Sender().ID, 10)
	arg := strings.TrimSpace(c.Message().Payload)

	if strings.EqualFold(arg, "all") {
		removed, err := a.svc.RemoveMatching(origin, creator, reminder.DeleteCriteria{All: true})
		if err != nil {
			return c.Send(userError(err))
		}
		return c.Send(fmt.Sprintf("Removed %d item(s).", len(removed)))
	}

	n, err := strconv.Atoi(arg)
	if err != nil || n < 1 {
		return c.Send("usage: /del <number> or /del all")
	}
	removed, err := a.svc.RemoveByIndex(origin, creator, n-1)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.Send("No such item.")
		}
		return c.Send(userError(err))
	}
	return c.Send("Removed: " + removed.Text)
}

// origin builds the session origin for an incoming message. Telegram chat
// ids double as the conversation id.
func (a *Adapter) origin(c tele.Context) string {
	kind := "FriendMessage"
	switch c.Chat().Type {
	case tele.ChatGroup, tele.ChatSuperGroup:
		kind = "GroupMessage"
	case tele.ChatChannel:
		kind = "ChannelMessage"
	}
	return fmt.Sprintf("telegram:%s:%d", kind, c.Chat().ID)
}

func senderName(u *tele.User) string {
	if u == nil {
		return ""
	}
	if u.Username != "" {
		return u.Username
	}
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// userError keeps operational detail out of chat replies.
func userError(err error) string {
	switch {
	case errors.Is(err, reminder.ErrNotAllowed):
		return "You are not allowed to use this bot."
	case errors.Is(err, reminder.ErrCapacityExceeded):
		return "Too many scheduled items; delete some first."
	default:
		return err.Error()
	}
}
