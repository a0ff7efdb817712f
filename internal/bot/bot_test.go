package bot

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"shotbot/internal/admission"
	"shotbot/internal/broadcast"
	"shotbot/internal/calendar"
	"shotbot/internal/floodgate"
	"shotbot/internal/media"
	"shotbot/internal/runtime/supervisor"
	"shotbot/internal/storage"
	"shotbot/internal/transport"
	"shotbot/internal/transport/telegram/router"
	logx "shotbot/pkg/logx"
)

const owner = int64(1)

type sentMsg struct {
	Text string
	Opt  *transport.SendOptions
	Ref  transport.MessageRef
}

type edit struct {
	Ref  transport.MessageRef
	Text string
	Opt  *transport.SendOptions
}

type fakeAdapter struct {
	mu      sync.Mutex
	next    int
	sends   []sentMsg
	edits   []edit
	answers map[string]string
}

func (f *fakeAdapter) Start(context.Context, chan<- transport.Update) error { return nil }
func (f *fakeAdapter) Stop(context.Context) error                          { return nil }

func (f *fakeAdapter) SendText(_ context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	ref := transport.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: 100 + f.next}
	f.sends = append(f.sends, sentMsg{Text: text, Opt: opt, Ref: ref})
	return ref, nil
}

func (f *fakeAdapter) EditText(_ context.Context, ref transport.MessageRef, text string, opt *transport.SendOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits = append(f.edits, edit{Ref: ref, Text: text, Opt: opt})
	return nil
}

func (f *fakeAdapter) AnswerCallback(_ context.Context, id, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.answers == nil {
		f.answers = map[string]string{}
	}
	if _, ok := f.answers[id]; !ok {
		f.answers[id] = text
	}
	return nil
}

func (f *fakeAdapter) sent() []sentMsg {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMsg(nil), f.sends...)
}

func (f *fakeAdapter) lastText() string {
	s := f.sent()
	if len(s) == 0 {
		return ""
	}
	return s[len(s)-1].Text
}

func (f *fakeAdapter) lastEdit() (edit, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.edits) == 0 {
		return edit{}, false
	}
	return f.edits[len(f.edits)-1], true
}

func (f *fakeAdapter) answer(id string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.answers[id]
}

type recordingSink struct {
	mu    sync.Mutex
	lines []string
}

func (s *recordingSink) Emit(_ context.Context, text string) error {
	s.mu.Lock()
	s.lines = append(s.lines, text)
	s.mu.Unlock()
	return nil
}

func (s *recordingSink) contains(sub string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.lines {
		if strings.Contains(l, sub) {
			return true
		}
	}
	return false
}

type fakeProber struct {
	info media.Info
	err  error
	url  string
}

func (p *fakeProber) Probe(_ context.Context, url string) (media.Info, error) {
	p.url = url
	return p.info, p.err
}

type harness struct {
	bot    *Bot
	router *router.Router
	ad     *fakeAdapter
	store  *storage.Memory
	sink   *recordingSink
	prober *fakeProber
	bc     *broadcast.Manager
	now    time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		ad:     &fakeAdapter{},
		store:  storage.NewMemory(),
		sink:   &recordingSink{},
		prober: &fakeProber{info: media.Info{Duration: 754 * time.Second}},
		now:    time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
	}
	sup := supervisor.New(context.Background())
	t.Cleanup(func() { sup.Cancel() })

	pipe := admission.New(floodgate.New(), h.store, h.sink, nil, logx.Nop(), admission.Settings{MinInterval: 0})
	sup.Go0("admission.notices", pipe.Run)
	eng := broadcast.NewEngine(h.ad, h.store, nil, logx.Nop(), broadcast.EngineConfig{RatePerSec: 1000})
	h.bc = broadcast.NewManager(broadcast.ManagerDeps{
		Registry:   broadcast.NewRegistry(broadcast.RegistryConfig{}),
		Engine:     eng,
		Supervisor: sup,
		Adapter:    h.ad,
		Audit:      h.store,
		Sink:       h.sink,
		Log:        logx.Nop(),
	})
	h.bot = New(Deps{
		Adapter:    h.ad,
		Admission:  pipe,
		Store:      h.store,
		Broadcasts: h.bc,
		Prober:     h.prober,
		Sink:       h.sink,
		Log:        logx.Nop(),
	}, Settings{StreamHost: "https://stream.example", DefaultBanDays: 30})
	h.bot.now = func() time.Time { return h.now }

	h.router = router.New(logx.Nop(), h.ad, router.Options{
		Owners:   []int64{owner},
		Gate:     h.bot.Admit,
		Fallback: h.bot.HandleMessage,
	})
	h.bot.Register(h.router)
	return h
}

func (h *harness) message(from int64, text string) {
	h.router.Handle(context.Background(), transport.Update{Kind: transport.UpdateMessage, Message: &transport.Message{
		ID: 7, ChatID: from, From: transport.User{ID: from, FirstName: "U"}, Text: text, IsPrivate: true,
	}})
}

func (h *harness) callback(from int64, id string, msgID int, data string) {
	h.callbackIn(from, from, id, msgID, data)
}

func (h *harness) callbackIn(chat, from int64, id string, msgID int, data string) {
	h.router.Handle(context.Background(), transport.Update{Kind: transport.UpdateCallback, Callback: &transport.Callback{
		ID: id, ChatID: chat, From: transport.User{ID: from}, MessageID: msgID, Data: data,
	}})
}

func TestStartRegistersUser(t *testing.T) {
	h := newHarness(t)
	h.message(42, "/start")

	if !strings.Contains(h.ad.lastText(), "Send me a video") {
		t.Fatalf("start reply=%q", h.ad.lastText())
	}
	ok, _ := h.store.Exists(context.Background(), 42)
	if !ok {
		t.Fatalf("user not registered")
	}
	deadline := time.Now().Add(2 * time.Second)
	for !h.sink.contains("#NewUser") {
		if time.Now().After(deadline) {
			t.Fatalf("new user line missing")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestBanAndUnban(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.message(owner, "/ban 42 3")
	st, _ := h.store.BanStatus(ctx, 42)
	if !st.Banned || st.Days != 3 || st.Since != calendar.Of(h.now, time.UTC) {
		t.Fatalf("ban status=%+v", st)
	}
	if !strings.Contains(h.ad.lastText(), "banned for 3 days") || !h.sink.contains("#Ban") {
		t.Fatalf("reply=%q", h.ad.lastText())
	}

	// banned user is silently dropped
	before := len(h.ad.sent())
	h.message(42, "/start")
	if len(h.ad.sent()) != before {
		t.Fatalf("banned user got a reply: %q", h.ad.lastText())
	}

	h.message(owner, "/unban 42")
	st, _ = h.store.BanStatus(ctx, 42)
	if st.Banned {
		t.Fatalf("still banned")
	}
	audit := h.store.Audit()
	if len(audit) != 2 || audit[0].Action != "ban" || audit[1].Action != "unban" || audit[0].Target != "42" {
		t.Fatalf("audit=%+v", audit)
	}
}

func TestBanDefaultsAndValidation(t *testing.T) {
	h := newHarness(t)
	h.message(owner, "/ban 42")
	st, _ := h.store.BanStatus(context.Background(), 42)
	if st.Days != 30 {
		t.Fatalf("days=%d", st.Days)
	}

	for _, in := range []string{"/ban", "/ban x", "/ban 5 -1", "/ban 5 zero"} {
		h.message(owner, in)
		if txt := h.ad.lastText(); !strings.Contains(txt, "Usage") && !strings.Contains(txt, "Invalid") && !strings.Contains(txt, "positive") {
			t.Fatalf("%q reply=%q", in, txt)
		}
	}

	// not an owner: ignored
	before := len(h.ad.sent())
	h.message(2, "/ban 42")
	if len(h.ad.sent()) != before {
		t.Fatalf("non-owner got a reply")
	}
}

func TestStats(t *testing.T) {
	h := newHarness(t)
	h.message(10, "hello")
	h.message(11, "hello")
	h.message(owner, "/stats")
	txt := h.ad.lastText()
	if !strings.Contains(txt, "Users: <b>3</b>") || !strings.Contains(txt, "Active today: <b>3</b>") {
		t.Fatalf("stats=%q", txt)
	}
}

func TestBroadcastCommand(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	for _, id := range []int64{10, 11, 12} {
		_, _ = h.store.Register(ctx, id, calendar.Of(h.now, time.UTC))
	}

	h.message(owner, "/broadcast hello all")
	started := false
	for _, m := range h.ad.sent() {
		if strings.Contains(m.Text, "starting") {
			started = true
		}
	}
	if !started {
		t.Fatalf("no broadcast started, sent=%+v", h.ad.sent())
	}

	wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	for h.bc.Running() > 0 {
		if wctx.Err() != nil {
			t.Fatalf("broadcast did not finish")
		}
		time.Sleep(5 * time.Millisecond)
	}

	delivered := 0
	for _, s := range h.ad.sent() {
		if s.Text == "hello all" {
			delivered++
		}
	}
	// the owner was registered by admission and is a recipient too
	if delivered != 4 {
		t.Fatalf("delivered=%d", delivered)
	}
}

func TestBroadcastNeedsText(t *testing.T) {
	h := newHarness(t)
	h.message(owner, "/broadcast")
	if !strings.Contains(h.ad.lastText(), "Usage") {
		t.Fatalf("reply=%q", h.ad.lastText())
	}
	if h.bc.Running() != 0 {
		t.Fatalf("broadcast started without text")
	}
}

func TestBroadcastCallbacks(t *testing.T) {
	h := newHarness(t)
	h.callback(5, "a", 1, "bc:status:zzz")
	if got := h.ad.answer("a"); got != "broadcast not found" {
		t.Fatalf("answer=%q", got)
	}

	job := broadcast.NewJob(owner, "x")
	handle, err := h.bc.Registry().Acquire(job)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer handle.Release()

	h.callback(5, "b", 1, "bc:status:"+job.ID)
	if got := h.ad.answer("b"); !strings.Contains(got, "0/0 done") {
		t.Fatalf("answer=%q", got)
	}

	h.callback(5, "c", 1, "bc:cancel:"+job.ID)
	if job.CancelRequested() {
		t.Fatalf("non-owner cancelled a broadcast")
	}
	h.callback(owner, "d", 1, "bc:cancel:"+job.ID)
	if !job.CancelRequested() || !strings.Contains(h.ad.answer("d"), "cancelling") {
		t.Fatalf("cancel not applied, answer=%q", h.ad.answer("d"))
	}
}

func TestMediaIntake(t *testing.T) {
	h := newHarness(t)
	h.router.Handle(context.Background(), transport.Update{Kind: transport.UpdateMessage, Message: &transport.Message{
		ID: 9, ChatID: 42, From: transport.User{ID: 42}, IsPrivate: true,
		Media: &transport.Media{Kind: transport.MediaVideo},
	}})

	if h.prober.url != "https://stream.example/file/42/9" {
		t.Fatalf("probe url=%q", h.prober.url)
	}
	s := h.ad.sent()
	if len(s) != 1 || s[0].Opt == nil || s[0].Opt.ReplyTo != 9 {
		t.Fatalf("wait message=%+v", s)
	}
	e, ok := h.ad.lastEdit()
	if !ok || e.Ref != s[0].Ref || !strings.Contains(e.Text, "00:12:34") {
		t.Fatalf("edit=%+v", e)
	}
	last := e.Opt.Keyboard[len(e.Opt.Keyboard)-1]
	if last[0].Data != "ss:sample" {
		t.Fatalf("sample row missing for long video: %+v", last)
	}

	// media info through the session
	h.callback(42, "i", e.Ref.MessageID, "ss:info")
	if !strings.Contains(h.ad.lastText(), "Duration: <b>00:12:34</b>") {
		t.Fatalf("info reply=%q", h.ad.lastText())
	}
	h.callback(42, "s", e.Ref.MessageID, "ss:shots:4")
	if got := h.ad.answer("s"); !strings.Contains(got, "not available") {
		t.Fatalf("answer=%q", got)
	}
	h.callbackIn(42, 43, "o", e.Ref.MessageID, "ss:trim")
	if got := h.ad.answer("o"); !strings.Contains(got, "not your request") {
		t.Fatalf("answer=%q", got)
	}
	h.callback(42, "x", 9999, "ss:trim")
	if got := h.ad.answer("x"); !strings.Contains(got, "expired") {
		t.Fatalf("answer=%q", got)
	}
}

func TestMediaProbeError(t *testing.T) {
	h := newHarness(t)
	h.prober.err = errors.New("moov atom not found")
	h.message(42, "https://example.com/broken.mp4")

	e, ok := h.ad.lastEdit()
	if !ok || e.Text != badFileText {
		t.Fatalf("edit=%+v", e)
	}
	if !h.sink.contains("Media error") || !h.sink.contains("moov atom not found") {
		t.Fatalf("media error not logged")
	}
}

func TestIgnoresOtherMessages(t *testing.T) {
	h := newHarness(t)
	h.message(42, "just chatting")
	h.router.Handle(context.Background(), transport.Update{Kind: transport.UpdateMessage, Message: &transport.Message{
		ID: 1, ChatID: -100, From: transport.User{ID: 42}, Text: "https://example.com/a.mp4",
	}})
	if n := len(h.ad.sent()); n != 0 {
		t.Fatalf("unexpected replies: %+v", h.ad.sent())
	}
	if h.prober.url != "" {
		t.Fatalf("probed %q", h.prober.url)
	}
}
