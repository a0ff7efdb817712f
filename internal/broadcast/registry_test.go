package broadcast

import (
	"errors"
	"strings"
	"sync"
	"testing"
)

func TestRegistry_DefaultIDShape(t *testing.T) {
	r := NewRegistry(RegistryConfig{})
	h, err := r.Acquire(NewJob(1, "hi"))
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if len(h.ID()) != DefaultIDLength {
		t.Fatalf("id %q has length %d", h.ID(), len(h.ID()))
	}
	for _, c := range h.ID() {
		if !strings.ContainsRune(DefaultAlphabet, c) {
			t.Fatalf("id %q contains %q", h.ID(), c)
		}
	}
}

func TestRegistry_ConcurrentAcquireIsUnique(t *testing.T) {
	r := NewRegistry(RegistryConfig{Alphabet: "abcd", Length: 2, MaxLength: 4})

	const n = 100
	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		ids = map[string]bool{}
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h, err := r.Acquire(NewJob(1, "x"))
			if err != nil {
				t.Errorf("Acquire: %v", err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if ids[h.ID()] {
				t.Errorf("duplicate id %q", h.ID())
			}
			ids[h.ID()] = true
		}()
	}
	wg.Wait()
	if r.Len() != n || len(ids) != n {
		t.Fatalf("len=%d ids=%d", r.Len(), len(ids))
	}
}

func TestRegistry_WidensThenExhausts(t *testing.T) {
	r := NewRegistry(RegistryConfig{Alphabet: "a", Length: 1, MaxLength: 2, MaxAttempts: 4})

	h1, err := r.Acquire(NewJob(1, "x"))
	if err != nil || h1.ID() != "a" {
		t.Fatalf("first: id=%v err=%v", h1, err)
	}
	h2, err := r.Acquire(NewJob(1, "x"))
	if err != nil || h2.ID() != "aa" {
		t.Fatalf("second: err=%v", err)
	}
	if _, err := r.Acquire(NewJob(1, "x")); !errors.Is(err, ErrRegistryExhausted) {
		t.Fatalf("third: err=%v", err)
	}

	// Releasing frees the id for reuse.
	h1.Release()
	h1.Release()
	h3, err := r.Acquire(NewJob(1, "x"))
	if err != nil || h3.ID() != "a" {
		t.Fatalf("after release: err=%v", err)
	}
}

func TestRegistry_LookupAndCancel(t *testing.T) {
	r := NewRegistry(RegistryConfig{})
	job := NewJob(7, "x")
	h, _ := r.Acquire(job)

	got, ok := r.Lookup(h.ID())
	if !ok || got != job {
		t.Fatalf("lookup failed")
	}
	if !r.Cancel(h.ID()) || !job.CancelRequested() {
		t.Fatalf("cancel not applied")
	}
	if r.Cancel("zzzzzz") {
		t.Fatalf("cancel of unknown id reported true")
	}

	h.Release()
	if _, ok := r.Lookup(h.ID()); ok {
		t.Fatalf("lookup after release succeeded")
	}
}
