package router

import (
	"context"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"shotbot/internal/runtime/supervisor"
	kit "shotbot/internal/transport"
	logx "shotbot/pkg/logx"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessOwnerOnly
)

type Command struct {
	Name        string
	Aliases     []string
	Description string
	Usage       string
	Access      Access
	Timeout     time.Duration // optional per-command override
	Handle      HandlerFunc
}

type CallbackHandlerFunc func(ctx context.Context, req *Request, payload string) error

// CallbackRoute handles buttons whose data is "<namespace>:<action>[:<payload>]".
type CallbackRoute struct {
	Namespace string
	Action    string
	Access    Access
	Timeout   time.Duration
	Handle    CallbackHandlerFunc
}

// Gate decides whether an update reaches any handler. Rejected callbacks get an empty answer.
type Gate func(ctx context.Context, up kit.Update) bool

type Request struct {
	Update   kit.Update
	Chat     kit.ChatTarget
	From     kit.User
	Message  *kit.Message
	Callback *kit.Callback

	Command string   // command name or callback key
	Args    []string // whitespace-split arguments
	RawArgs string   // text after the command word, newlines kept
	Payload string   // callback payload
	IsOwner bool
	ReqID   string

	Adapter kit.Adapter
	Logger  logx.Logger

	answered atomic.Bool
}

// Reply sends HTML text to the request's chat.
func (r *Request) Reply(ctx context.Context, text string) (kit.MessageRef, error) {
	return r.Adapter.SendText(ctx, r.Chat, text, &kit.SendOptions{ParseMode: "HTML", DisablePreview: true})
}

// Answer answers the callback behind this request. Later answers are ignored by Telegram,
// so the router only sends its empty answer when the handler did not.
func (r *Request) Answer(ctx context.Context, text string) error {
	if r.Callback == nil {
		return nil
	}
	r.answered.Store(true)
	return r.Adapter.AnswerCallback(ctx, r.Callback.ID, text)
}

type Options struct {
	Workers   int
	QueueSize int
	Owners    []int64
	Gate      Gate
	// Fallback receives non-command messages.
	Fallback HandlerFunc
	// Supervisor runs background work such as menu updates. Optional.
	Supervisor *supervisor.Supervisor
}

// Router parses updates, enforces access and runs handlers on a bounded worker pool.
type Router struct {
	mu        sync.RWMutex
	commands  map[string]*Command // name and aliases
	ordered   []Command
	callbacks map[string]map[string]CallbackRoute // namespace -> action -> route
	owners    map[int64]bool

	log      logx.Logger
	adapter  kit.Adapter
	gate     Gate
	fallback HandlerFunc
	sup      *supervisor.Supervisor
	workers  int

	jobs chan func()
}

func New(log logx.Logger, adapter kit.Adapter, opt Options) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	workers := opt.Workers
	if workers <= 0 {
		workers = 4
	}
	queue := opt.QueueSize
	if queue <= 0 {
		queue = 256
	}
	r := &Router{
		commands:  map[string]*Command{},
		callbacks: map[string]map[string]CallbackRoute{},
		log:       log,
		adapter:   adapter,
		gate:      opt.Gate,
		fallback:  opt.Fallback,
		sup:       opt.Supervisor,
		workers:   workers,
		jobs:      make(chan func(), queue),
	}
	r.SetOwners(opt.Owners)
	return r
}

// SetOwners updates the owner list used for AccessOwnerOnly checks.
// Safe to call during hot-reload.
func (r *Router) SetOwners(owners []int64) {
	m := make(map[int64]bool, len(owners))
	for _, id := range owners {
		m[id] = true
	}
	r.mu.Lock()
	r.owners = m
	r.mu.Unlock()
}

func (r *Router) IsOwner(id int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.owners[id]
}

// SetRoutes replaces the command and callback tables. /help is always added.
func (r *Router) SetRoutes(cmds []Command, cbs []CallbackRoute) {
	cmds = append(cmds, Command{
		Name:        "help",
		Description: "show available commands",
		Usage:       "/help",
		Access:      AccessEveryone,
		Handle: func(ctx context.Context, req *Request) error {
			_, err := req.Reply(ctx, r.HelpText(req.IsOwner))
			return err
		},
	})

	table := make(map[string]*Command, len(cmds))
	ordered := make([]Command, 0, len(cmds))
	for _, c := range cmds {
		name := sanitizeTelegramCommand(c.Name)
		if name == "" || c.Handle == nil {
			continue
		}
		cc := c
		cc.Name = name
		if _, dup := table[name]; dup {
			continue
		}
		table[name] = &cc
		ordered = append(ordered, cc)
		for _, a := range c.Aliases {
			if a = sanitizeTelegramCommand(a); a != "" {
				if _, exists := table[a]; !exists {
					table[a] = &cc
				}
			}
		}
	}

	cb := map[string]map[string]CallbackRoute{}
	for _, rt := range cbs {
		ns := strings.TrimSpace(rt.Namespace)
		act := strings.TrimSpace(rt.Action)
		if ns == "" || act == "" || rt.Handle == nil {
			continue
		}
		if cb[ns] == nil {
			cb[ns] = map[string]CallbackRoute{}
		}
		cb[ns][act] = rt
	}

	r.mu.Lock()
	r.commands = table
	r.ordered = ordered
	r.callbacks = cb
	r.mu.Unlock()

	r.publishMenu(ordered)
}

func (r *Router) publishMenu(cmds []Command) {
	up, ok := r.adapter.(kit.CommandMenuUpdater)
	if !ok {
		return
	}
	menu := buildMenuCommands(cmds)
	run := func(parent context.Context) {
		ctx, cancel := context.WithTimeout(parent, 5*time.Second)
		defer cancel()
		if err := up.UpdateMenuCommands(ctx, menu); err != nil {
			r.log.Warn("menu update failed", logx.Err(err))
		}
	}
	if r.sup != nil {
		r.sup.Go0("telegram.menu.update", run)
		return
	}
	go run(context.Background())
}

// tryEnqueue is a panic-safe enqueue helper (handles the jobs channel being closed).
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

// DispatchLoop consumes updates until ctx is done or the channel closes.
func (r *Router) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	sup := supervisor.New(ctx,
		supervisor.WithLogger(r.log.With(logx.String("comp", "telegram.router"))),
		supervisor.WithCancelOnError(false),
	)
	r.log.Info("dispatcher started", logx.Int("workers", r.workers), logx.Int("queue_cap", cap(r.jobs)))

	for i := 0; i < r.workers; i++ {
		idx := i
		sup.GoRestart("router.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job, ok := <-r.jobs:
					if !ok {
						return nil
					}
					r.runJob(idx, job)
				}
			}
		},
			supervisor.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
			supervisor.WithStopOnCleanExit(true),
		)
	}

	defer func() {
		close(r.jobs)
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
			r.dispatch(ctx, up)
		}
	}
}

func (r *Router) runJob(worker int, job func()) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("panic in router job", logx.Int("worker", worker), logx.Any("panic", rec), logx.String("stack", string(debug.Stack())))
		}
	}()
	job()
}

func (r *Router) dispatch(ctx context.Context, up kit.Update) {
	if r.tryEnqueue(func() { r.Handle(ctx, up) }) {
		return
	}
	switch {
	case up.Callback != nil:
		_ = r.adapter.AnswerCallback(ctx, up.Callback.ID, "busy, try again")
	case up.Message != nil:
		r.log.Warn("dispatcher busy, update dropped", logx.Int64("chat_id", up.Message.ChatID))
	}
}

// Handle runs one update synchronously: gate first, then the matching handler.
func (r *Router) Handle(ctx context.Context, up kit.Update) {
	if r.gate != nil && !r.gate(ctx, up) {
		if up.Callback != nil {
			_ = r.adapter.AnswerCallback(ctx, up.Callback.ID, "")
		}
		return
	}
	switch up.Kind {
	case kit.UpdateMessage:
		if up.Message != nil {
			r.routeMessage(ctx, up)
		}
	case kit.UpdateCallback:
		if up.Callback != nil {
			r.routeCallback(ctx, up)
		}
	}
}

func (r *Router) newRequest(up kit.Update, chat kit.ChatTarget, from kit.User, key string) *Request {
	rid := newReqID()
	return &Request{
		Update:   up,
		Chat:     chat,
		From:     from,
		Message:  up.Message,
		Callback: up.Callback,
		Command:  key,
		IsOwner:  r.IsOwner(from.ID),
		ReqID:    rid,
		Adapter:  r.adapter,
		Logger: r.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", chat.ChatID),
			logx.Int64("from_id", from.ID),
			logx.String("cmd", key),
		),
	}
}

func (r *Router) routeMessage(ctx context.Context, up kit.Update) {
	msg := up.Message
	chat := kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}
	text := strings.TrimSpace(msg.Text)

	if !strings.HasPrefix(text, "/") || msg.Media != nil {
		if r.fallback == nil {
			return
		}
		req := r.newRequest(up, chat, msg.From, "message")
		_ = r.invoke(ctx, req, 0, r.fallback)
		return
	}

	word, rest := splitCommand(text)
	r.mu.RLock()
	cmd, ok := r.commands[word]
	r.mu.RUnlock()
	if !ok {
		if msg.IsPrivate {
			_, _ = r.adapter.SendText(ctx, chat, "Unknown command. Try /help", nil)
		}
		return
	}

	req := r.newRequest(up, chat, msg.From, cmd.Name)
	if cmd.Access == AccessOwnerOnly && !req.IsOwner {
		req.Logger.Debug("owner-only command ignored")
		return
	}
	req.RawArgs = rest
	req.Args = strings.Fields(rest)

	_ = r.invoke(ctx, req, cmd.Timeout, cmd.Handle)
}

func (r *Router) routeCallback(ctx context.Context, up kit.Update) {
	cb := up.Callback
	parts := strings.SplitN(strings.TrimSpace(cb.Data), ":", 3)
	if len(parts) < 2 {
		_ = r.adapter.AnswerCallback(ctx, cb.ID, "")
		return
	}
	ns, action := parts[0], parts[1]
	payload := ""
	if len(parts) == 3 {
		payload = parts[2]
	}

	r.mu.RLock()
	route, ok := r.callbacks[ns][action]
	r.mu.RUnlock()
	if !ok {
		_ = r.adapter.AnswerCallback(ctx, cb.ID, "")
		return
	}

	chat := kit.ChatTarget{ChatID: cb.ChatID, ThreadID: cb.ThreadID}
	req := r.newRequest(up, chat, cb.From, "cb:"+ns+":"+action)
	req.Payload = payload
	if route.Access == AccessOwnerOnly && !req.IsOwner {
		_ = req.Answer(ctx, "not allowed")
		return
	}

	h := func(ctx context.Context, rq *Request) error { return route.Handle(ctx, rq, payload) }
	_ = r.invoke(ctx, req, route.Timeout, h)

	if !req.answered.Load() {
		_ = r.adapter.AnswerCallback(ctx, cb.ID, "")
	}
}

// splitCommand returns the lower-cased command word without "/" or "@bot" and the rest of the text.
func splitCommand(text string) (word, rest string) {
	text = strings.TrimPrefix(text, "/")
	end := strings.IndexAny(text, " \t\n")
	if end < 0 {
		word = text
	} else {
		word, rest = text[:end], strings.TrimSpace(text[end:])
	}
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}
	return strings.ToLower(word), rest
}

func newReqID() string {
	id := uuid.NewString()
	return id[:8]
}
