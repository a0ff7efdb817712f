package broadcast

import (
	"context"
	"errors"
	"sync"

	"shotbot/internal/transport"
)

type fakeAdapter struct {
	mu sync.Mutex

	// errs maps chat id to the errors returned by consecutive sends (then success).
	errs map[int64][]error
	// onSend runs before each send is recorded; it may block or cancel.
	onSend func(chatID int64)

	sends     []int64
	edits     []edit
	statusErr error
}

type edit struct {
	text string
	kb   transport.Keyboard
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{errs: map[int64][]error{}}
}

func (f *fakeAdapter) Start(context.Context, chan<- transport.Update) error { return nil }
func (f *fakeAdapter) Stop(context.Context) error                           { return nil }

func (f *fakeAdapter) SendText(_ context.Context, to transport.ChatTarget, _ string, opt *transport.SendOptions) (transport.MessageRef, error) {
	// Status messages are sent with HTML options; deliveries use nil options.
	if opt != nil {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.statusErr != nil {
			return transport.MessageRef{}, f.statusErr
		}
		return transport.MessageRef{ChatID: to.ChatID, MessageID: 99}, nil
	}
	if f.onSend != nil {
		f.onSend(to.ChatID)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, to.ChatID)
	if q := f.errs[to.ChatID]; len(q) > 0 {
		f.errs[to.ChatID] = q[1:]
		return transport.MessageRef{}, q[0]
	}
	return transport.MessageRef{ChatID: to.ChatID, MessageID: len(f.sends)}, nil
}

func (f *fakeAdapter) EditText(_ context.Context, _ transport.MessageRef, text string, opt *transport.SendOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var kb transport.Keyboard
	if opt != nil {
		kb = opt.Keyboard
	}
	f.edits = append(f.edits, edit{text: text, kb: kb})
	return nil
}

func (f *fakeAdapter) AnswerCallback(context.Context, string, string) error { return nil }

func (f *fakeAdapter) Sends() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.sends...)
}

func (f *fakeAdapter) Edits() []edit {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]edit(nil), f.edits...)
}

type staticUsers struct {
	ids []int64
	err error
}

func (s staticUsers) ListUserIDs(context.Context) ([]int64, error) { return s.ids, s.err }

func userRange(n int) []int64 {
	ids := make([]int64, n)
	for i := range ids {
		ids[i] = int64(i + 1)
	}
	return ids
}

var errSend = errors.New("send failed")
