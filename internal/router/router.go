// Package router dispatches inbound transport updates to command and
// callback handlers through a bounded worker pool.
package router

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"runtime"
	"runtime/debug"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"dropbot/internal/runtime/supervisor"
	"dropbot/internal/transport"
	logx "dropbot/pkg/logx"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessOwnerOnly
)

type Command struct {
	Name        string
	Description string
	Usage       string
	Access      Access
	Timeout     time.Duration // optional per-command override
	Handle      HandlerFunc
}

// CallbackFunc receives every inline-button press. Answering the
// callback is the handler's responsibility.
type CallbackFunc func(ctx context.Context, cb transport.Callback) error

// ObserverFunc sees every inbound message before routing, commands or
// not. Used for lazy tenant registration.
type ObserverFunc func(ctx context.Context, msg transport.Message)

type Request struct {
	Update   transport.Update
	Chat     transport.ChatTarget
	FromID   int64
	FromName string
	Command  string
	Args     []string
	ReqID    string

	Messenger transport.Messenger
	Logger    logx.Logger
}

type Router struct {
	mu       sync.RWMutex
	commands map[string]Command
	owners   []int64

	callback CallbackFunc
	observer ObserverFunc

	log  logx.Logger
	msgr transport.Messenger

	jobs chan func()
}

func New(log logx.Logger, msgr transport.Messenger, owners []int64) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Router{
		commands: map[string]Command{},
		owners:   append([]int64(nil), owners...),
		log:      log,
		msgr:     msgr,
		jobs:     make(chan func(), 256),
	}
}

func (r *Router) SetCallbackHandler(fn CallbackFunc) { r.callback = fn }
func (r *Router) SetObserver(fn ObserverFunc)        { r.observer = fn }

// Register installs the command set, plus the generated /help.
func (r *Router) Register(cmds []Command) {
	reg := make(map[string]Command, len(cmds)+1)
	for _, c := range cmds {
		if c.Name == "" || c.Handle == nil {
			continue
		}
		reg[c.Name] = c
	}
	reg["help"] = Command{
		Name:        "help",
		Description: "list available commands",
		Usage:       "/help",
		Access:      AccessEveryone,
		Handle: func(ctx context.Context, req *Request) error {
			_, err := req.Messenger.Post(ctx, req.Chat, r.helpText(),
				&transport.SendOptions{DisablePreview: true})
			return err
		},
	}

	r.mu.Lock()
	r.commands = reg
	r.mu.Unlock()
}

func (r *Router) helpText() string {
	r.mu.RLock()
	names := make([]string, 0, len(r.commands))
	for n := range r.commands {
		names = append(names, n)
	}
	cmds := r.commands
	r.mu.RUnlock()
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("Commands:\n")
	for _, n := range names {
		c := cmds[n]
		b.WriteString(c.Usage)
		if c.Description != "" {
			b.WriteString(" - ")
			b.WriteString(c.Description)
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// DispatchLoop consumes updates until the channel closes or the context
// ends. Handlers run on a bounded worker pool so one slow command never
// stalls routing.
func (r *Router) DispatchLoop(ctx context.Context, updates <-chan transport.Update) error {
	workers := runtime.NumCPU()
	if workers < 2 {
		workers = 2
	}

	sup := supervisor.NewSupervisor(ctx,
		supervisor.WithLogger(r.log.With(logx.String("comp", "router"))),
		supervisor.WithCancelOnError(false),
	)
	r.log.Info("dispatcher started", logx.Int("workers", workers))

	var closeOnce sync.Once
	closeJobs := func() { closeOnce.Do(func() { close(r.jobs) }) }

	for i := 0; i < workers; i++ {
		idx := i
		sup.Go("router.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job, ok := <-r.jobs:
					if !ok {
						return nil
					}
					func() {
						defer func() {
							if rec := recover(); rec != nil {
								r.log.Error("panic in dispatch job",
									logx.Int("worker", idx),
									logx.Any("panic", rec),
									logx.String("stack", string(debug.Stack())))
							}
						}()
						job()
					}()
				}
			}
		})
	}

	defer func() {
		closeJobs()
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		r.log.Info("dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			r.route(ctx, up)
		}
	}
}

func (r *Router) route(ctx context.Context, up transport.Update) {
	switch up.Kind {
	case transport.UpdateMessage:
		r.routeMessage(ctx, up)
	case transport.UpdateCallback:
		r.routeCallback(ctx, up)
	}
}

func (r *Router) routeMessage(ctx context.Context, up transport.Update) {
	msg := up.Message
	if msg == nil {
		return
	}
	if r.observer != nil {
		r.observer(ctx, *msg)
	}

	text := strings.TrimSpace(msg.Text)
	if !strings.HasPrefix(text, "/") {
		return
	}
	parts := strings.Fields(text)
	word := strings.TrimPrefix(parts[0], "/")
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}

	r.mu.RLock()
	cmd, ok := r.commands[word]
	owners := r.owners
	r.mu.RUnlock()
	if !ok {
		// Unknown slash commands in shared chats are ignored, not
		// answered; other bots own their own namespaces.
		return
	}

	chat := transport.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}
	if cmd.Access == AccessOwnerOnly && !isOwner(msg.FromID, owners) {
		_, _ = r.msgr.Post(ctx, chat, "unauthorized", nil)
		return
	}

	rid := newReqID()
	req := &Request{
		Update:    up,
		Chat:      chat,
		FromID:    msg.FromID,
		FromName:  msg.FromUsername,
		Command:   cmd.Name,
		Args:      parts[1:],
		ReqID:     rid,
		Messenger: r.msgr,
		Logger: r.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", msg.ChatID),
			logx.Int64("from_id", msg.FromID),
			logx.String("cmd", cmd.Name),
		),
	}

	final := Chain(cmd.Handle, MWPanicRecover(r.log), MWRequestLog(r.log), MWTimeout(cmd.Timeout))
	if !r.tryEnqueue(func() { _ = final(ctx, req) }) {
		_, _ = r.msgr.Post(ctx, chat, "busy, try again", nil)
	}
}

func (r *Router) routeCallback(ctx context.Context, up transport.Update) {
	cb := up.Callback
	if cb == nil || r.callback == nil {
		return
	}
	fn := r.callback
	if !r.tryEnqueue(func() {
		if err := fn(ctx, *cb); err != nil {
			r.log.Warn("callback failed",
				logx.Int64("chat_id", cb.ChatID),
				logx.Int64("from_id", cb.FromID),
				logx.String("data", cb.Data),
				logx.Err(err))
		}
	}) {
		_ = r.msgr.AnswerCallback(ctx, cb.ID, "busy")
	}
}

// tryEnqueue is panic-safe against the jobs channel closing mid-shutdown.
func (r *Router) tryEnqueue(fn func()) (ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			ok = false
		}
	}()
	select {
	case r.jobs <- fn:
		return true
	default:
		return false
	}
}

func isOwner(id int64, owners []int64) bool {
	for _, o := range owners {
		if o == id {
			return true
		}
	}
	return false
}

func newReqID() string {
	var b [6]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "unknown"
	}
	return hex.EncodeToString(b[:])
}
