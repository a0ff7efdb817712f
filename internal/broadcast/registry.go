package broadcast

import (
	"errors"
	"math/rand/v2"
	"strings"
	"sync"
)

// ErrRegistryExhausted is returned when no free identifier could be drawn.
var ErrRegistryExhausted = errors.New("broadcast registry: no free identifier")

const (
	DefaultAlphabet    = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
	DefaultIDLength    = 3
	DefaultMaxIDLength = 5
	DefaultMaxAttempts = 64
)

type RegistryConfig struct {
	Alphabet string
	// Length is the initial identifier length; MaxLength bounds widening on collisions.
	Length      int
	MaxLength   int
	MaxAttempts int
}

func (c RegistryConfig) withDefaults() RegistryConfig {
	if strings.TrimSpace(c.Alphabet) == "" {
		c.Alphabet = DefaultAlphabet
	}
	if c.Length <= 0 {
		c.Length = DefaultIDLength
	}
	if c.MaxLength < c.Length {
		c.MaxLength = max(c.Length, DefaultMaxIDLength)
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	return c
}

// Registry is the table of live broadcast jobs. At most one job holds an id at a time.
type Registry struct {
	cfg RegistryConfig

	mu   sync.Mutex
	jobs map[string]*Job
}

func NewRegistry(cfg RegistryConfig) *Registry {
	return &Registry{cfg: cfg.withDefaults(), jobs: make(map[string]*Job)}
}

// Handle owns a registry slot until Release.
type Handle struct {
	r    *Registry
	id   string
	once sync.Once
}

func (h *Handle) ID() string { return h.id }

// Release frees the slot. Safe to call more than once.
func (h *Handle) Release() {
	h.once.Do(func() {
		h.r.mu.Lock()
		delete(h.r.jobs, h.id)
		h.r.mu.Unlock()
	})
}

// Acquire assigns job a fresh identifier and registers it.
func (r *Registry) Acquire(job *Job) (*Handle, error) {
	alphabet := []rune(r.cfg.Alphabet)

	r.mu.Lock()
	defer r.mu.Unlock()
	for n := r.cfg.Length; n <= r.cfg.MaxLength; n++ {
		for attempt := 0; attempt < r.cfg.MaxAttempts; attempt++ {
			id := randomID(alphabet, n)
			if _, taken := r.jobs[id]; taken {
				continue
			}
			job.ID = id
			r.jobs[id] = job
			return &Handle{r: r, id: id}, nil
		}
	}
	return nil, ErrRegistryExhausted
}

func (r *Registry) Lookup(id string) (*Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	return j, ok
}

// Cancel flags the job for cancellation. It reports false for unknown ids.
func (r *Registry) Cancel(id string) bool {
	j, ok := r.Lookup(id)
	if !ok {
		return false
	}
	j.Cancel()
	return true
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}

// Jobs returns the live jobs in no particular order.
func (r *Registry) Jobs() []*Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Job, 0, len(r.jobs))
	for _, j := range r.jobs {
		out = append(out, j)
	}
	return out
}

func randomID(alphabet []rune, n int) string {
	var b strings.Builder
	b.Grow(n)
	for i := 0; i < n; i++ {
		b.WriteRune(alphabet[rand.IntN(len(alphabet))])
	}
	return b.String()
}
