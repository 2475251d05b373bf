package adapter

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	rtsup "dropbot/internal/runtime/supervisor"
	kit "dropbot/internal/transport"
	logx "dropbot/pkg/logx"
)

type Config struct {
	Token       string
	PollTimeout time.Duration
	// SendRatePerSec caps outbound API calls (Telegram global budget).
	// 0 means a conservative default.
	SendRatePerSec int
}

type Adapter struct {
	cfg Config
	log logx.Logger

	bot     *tele.Bot
	out     atomic.Value // stores (chan<- kit.Update)
	runMu   sync.Mutex
	running bool

	// sup owns adapter internal goroutines (poll loop, drop logger, stop watcher).
	// It is created on Start() and cancelled on Stop().
	sup *rtsup.Supervisor

	// limiter throttles every outbound send/edit/delete. Best-effort calls
	// still wait here so a burst of drops can't trip the API flood limits.
	limiter *rate.Limiter

	// droppedUpdates counts updates dropped because the consumer was slower
	// than the poll loop. Logged periodically to avoid per-update spam.
	droppedUpdates uint64

	// dests tracks chats (and forum threads) the bot has seen traffic in.
	// This is the adapter's view of "destinations with posting permission":
	// a chat the bot was removed from stops producing updates and its posts
	// start failing, which the engine treats as a silent per-tenant abort.
	destMu sync.Mutex
	dests  map[int64]map[int]time.Time
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
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
	rps := cfg.SendRatePerSec
	if rps <= 0 {
		rps = 20
	}
	a := &Adapter{
		cfg:     cfg,
		log:     log,
		bot:     b,
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
		dests:   map[int64]map[int]time.Time{},
	}
	// Ensure atomic.Value is initialized with a stable dynamic type.
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	a.registerHandlers()
	return a, nil
}

func (a *Adapter) registerHandlers() {
	// Handlers forward to the CURRENT output channel. Start() may swap it.
	a.bot.Handle(tele.OnText, func(c tele.Context) error {
		m := c.Message()
		if m == nil || m.Sender == nil || m.Chat == nil {
			return nil
		}
		isGroup := m.Chat.Type == tele.ChatGroup || m.Chat.Type == tele.ChatSuperGroup
		if isGroup {
			a.noteDestination(m.Chat.ID, m.ThreadID)
		}
		a.sendUpdate(kit.Update{
			Kind: kit.UpdateMessage,
			Message: &kit.Message{
				ID:           m.ID,
				ChatID:       m.Chat.ID,
				ThreadID:     m.ThreadID,
				FromID:       m.Sender.ID,
				FromUsername: m.Sender.Username,
				Text:         m.Text,
				IsGroup:      isGroup,
			},
		})
		return nil
	})

	a.bot.Handle(tele.OnCallback, func(c tele.Context) error {
		cb := c.Callback()
		m := c.Message()
		if cb == nil || cb.Sender == nil || m == nil || m.Chat == nil {
			return nil
		}
		a.sendUpdate(kit.Update{
			Kind: kit.UpdateCallback,
			Callback: &kit.Callback{
				ID:           cb.ID,
				FromID:       cb.Sender.ID,
				FromUsername: cb.Sender.Username,
				ChatID:       m.Chat.ID,
				ThreadID:     m.ThreadID,
				MessageID:    m.ID,
				Data:         strings.TrimSpace(cb.Data),
			},
		})
		return nil
	})
}

func (a *Adapter) sendUpdate(up kit.Update) {
	v := a.out.Load()
	out, _ := v.(chan<- kit.Update)
	if out == nil {
		return
	}
	select {
	case out <- up:
	default:
		atomic.AddUint64(&a.droppedUpdates, 1)
	}
}

func (a *Adapter) noteDestination(chatID int64, threadID int) {
	now := time.Now()
	a.destMu.Lock()
	ts := a.dests[chatID]
	if ts == nil {
		ts = map[int]time.Time{}
		a.dests[chatID] = ts
	}
	// The general topic (thread 0) is always reachable when the chat is.
	ts[0] = now
	if threadID != 0 {
		ts[threadID] = now
	}
	a.destMu.Unlock()
}

// Destinations reports postable targets inside a tenant chat. The list is
// rebuilt from observed traffic, so it is empty right after a restart until
// the chat speaks again; the scheduler skips such tenants silently.
func (a *Adapter) Destinations(ctx context.Context, tenantID int64) ([]kit.ChatTarget, error) {
	a.destMu.Lock()
	defer a.destMu.Unlock()
	ts := a.dests[tenantID]
	if len(ts) == 0 {
		return nil, nil
	}
	out := make([]kit.ChatTarget, 0, len(ts))
	for thread := range ts {
		out = append(out, kit.ChatTarget{ChatID: tenantID, ThreadID: thread})
	}
	return out, nil
}

func (a *Adapter) Start(ctx context.Context, out chan<- kit.Update) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	a.out.Store(out)
	a.sup = rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(a.log.With(logx.String("comp", "telegram.adapter"))),
		// adapter errors should not take down the whole app; treat as best-effort.
		rtsup.WithCancelOnError(false),
	)
	sup := a.sup
	a.runMu.Unlock()

	// Periodic summary for dropped updates (avoid noisy per-update logs).
	sup.Go0("updates.drop_report", func(c context.Context) {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-c.Done():
				if n := atomic.SwapUint64(&a.droppedUpdates, 0); n > 0 {
					a.log.Warn("incoming updates dropped (channel full)", logx.Any("count", n))
				}
				return
			case <-ticker.C:
				if n := atomic.SwapUint64(&a.droppedUpdates, 0); n > 0 {
					a.log.Warn("incoming updates dropped (channel full)", logx.Any("count", n))
				}
			}
		}
	})

	// Ensure telebot stops when the adapter context is cancelled.
	sup.Go0("telebot.stop_on_cancel", func(c context.Context) {
		<-c.Done()
		if a.bot != nil {
			a.bot.Stop()
		}
	})

	// Telebot's Start() is a long-running loop. In some failure modes it can
	// exit unexpectedly; run it under a restart loop so the adapter self-heals.
	sup.GoRestart0("telebot.poll", func(c context.Context) {
		a.log.Info("polling started")
		if a.bot != nil {
			a.bot.Start()
		}
		a.log.Info("polling stopped")
	},
		rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
		rtsup.WithStopOnCleanExit(false),
	)

	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	sup := a.sup
	a.sup = nil
	wasRunning := a.running
	a.running = false
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	a.runMu.Unlock()

	if !wasRunning {
		return nil
	}

	if sup != nil {
		sup.Cancel()
	}
	// telebot Stop is expected to be fast; run it async just in case.
	if a.bot != nil {
		go a.bot.Stop()
	}
	if sup == nil {
		return nil
	}

	// Grace window: keep shutdown snappy even if a long-poll is still waiting.
	grace := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > 0 && rem < grace {
			grace = rem
		}
	}
	wctx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()

	if err := sup.Wait(wctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			a.log.Warn("telegram stop timed out", logx.Err(err))
			return nil
		}
		a.log.Warn("telegram stop error", logx.Err(err))
	}
	return nil
}

// Telegram caps message text; drop and leaderboard texts are short, so we
// truncate instead of chunking.
const telegramTextLimit = 4000

func clampText(s string) string {
	rs := []rune(s)
	if len(rs) <= telegramTextLimit {
		return s
	}
	return string(rs[:telegramTextLimit-3]) + "..."
}

func buildMarkup(rows [][]kit.Button) *tele.ReplyMarkup {
	if len(rows) == 0 {
		return nil
	}
	kb := make([][]tele.InlineButton, 0, len(rows))
	for _, row := range rows {
		if len(row) == 0 {
			continue
		}
		line := make([]tele.InlineButton, 0, len(row))
		for _, b := range row {
			line = append(line, tele.InlineButton{Text: b.Text, Data: b.Data})
		}
		kb = append(kb, line)
	}
	if len(kb) == 0 {
		return nil
	}
	return &tele.ReplyMarkup{InlineKeyboard: kb}
}

func (a *Adapter) sendOptions(to kit.ChatTarget, opt *kit.SendOptions) *tele.SendOptions {
	so := &tele.SendOptions{
		ParseMode:             opt.ParseMode,
		DisableWebPagePreview: opt.DisablePreview,
		ThreadID:              to.ThreadID,
	}
	if rm := buildMarkup(opt.Buttons); rm != nil {
		so.ReplyMarkup = rm
	}
	return so
}

func (a *Adapter) Post(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	if err := a.limiter.Wait(ctx); err != nil {
		return kit.MessageRef{}, err
	}

	msg, err := a.bot.Send(&tele.Chat{ID: to.ChatID}, clampText(text), a.sendOptions(to, opt))
	if err != nil {
		return kit.MessageRef{}, err
	}
	return kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: msg.ID}, nil
}

func (a *Adapter) Edit(ctx context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	if err := a.limiter.Wait(ctx); err != nil {
		return err
	}

	m := &tele.Message{ID: ref.MessageID, Chat: &tele.Chat{ID: ref.ChatID}}
	so := &tele.SendOptions{
		ParseMode:             opt.ParseMode,
		DisableWebPagePreview: opt.DisablePreview,
	}
	// Editing with no buttons strips the old keyboard.
	so.ReplyMarkup = buildMarkup(opt.Buttons)
	_, err := a.bot.Edit(m, clampText(text), so)
	return err
}

func (a *Adapter) Retract(ctx context.Context, ref kit.MessageRef) error {
	if err := a.limiter.Wait(ctx); err != nil {
		return err
	}
	return a.bot.Delete(&tele.Message{ID: ref.MessageID, Chat: &tele.Chat{ID: ref.ChatID}})
}

func (a *Adapter) AnswerCallback(ctx context.Context, callbackID string, text string) error {
	if ctx != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
	return a.bot.Respond(&tele.Callback{ID: callbackID}, &tele.CallbackResponse{Text: text})
}

// IsTenantAdmin reports whether the participant is the chat creator or an
// administrator. The engine layers its own authorisation list on top.
func (a *Adapter) IsTenantAdmin(ctx context.Context, tenantID, participantID int64) (bool, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return false, err
	}
	member, err := a.bot.ChatMemberOf(&tele.Chat{ID: tenantID}, &tele.User{ID: participantID})
	if err != nil {
		return false, err
	}
	return member.Role == tele.Creator || member.Role == tele.Administrator, nil
}
