package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/kursadbilgin/deaddrop/internal/backoff"
	"github.com/kursadbilgin/deaddrop/internal/domain"
	"github.com/kursadbilgin/deaddrop/internal/events"
	"github.com/kursadbilgin/deaddrop/internal/provider"
	"github.com/kursadbilgin/deaddrop/internal/queue"
	"github.com/kursadbilgin/deaddrop/internal/repository"
)

// memNoteRepo is an in-memory NoteRepository with the same conditional-update rules as the gorm one.
type memNoteRepo struct {
	mu    sync.Mutex
	notes map[string]*domain.Note

	findDueFn     func(ctx context.Context, status domain.Status, before time.Time, limit int) ([]domain.Note, error)
	listFn        func(ctx context.Context, params repository.ListParams) ([]domain.Note, int64, error)
	getByIDErr    error
	beforeUpdate  func(id string) error
	updateCalls   int
	createdByRepo []string
}

func newMemNoteRepo(notes ...*domain.Note) *memNoteRepo {
	r := &memNoteRepo{notes: make(map[string]*domain.Note)}
	for _, n := range notes {
		r.notes[n.ID] = cloneNote(n)
	}
	return r
}

func cloneNote(n *domain.Note) *domain.Note {
	c := *n
	c.Attempts = slices.Clone(n.Attempts)
	if n.DeliveredAt != nil {
		at := *n.DeliveredAt
		c.DeliveredAt = &at
	}
	return &c
}

func (r *memNoteRepo) get(id string) *domain.Note {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.notes[id]
	if !ok {
		return nil
	}
	return cloneNote(n)
}

func (r *memNoteRepo) Create(ctx context.Context, n *domain.Note) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.notes[n.ID]; exists {
		return fmt.Errorf("duplicate id %s", n.ID)
	}
	r.notes[n.ID] = cloneNote(n)
	r.createdByRepo = append(r.createdByRepo, n.ID)
	return nil
}

func (r *memNoteRepo) GetByID(ctx context.Context, id string) (*domain.Note, error) {
	if r.getByIDErr != nil {
		return nil, r.getByIDErr
	}
	n := r.get(id)
	if n == nil {
		return nil, domain.ErrNotFound
	}
	return n, nil
}

func (r *memNoteRepo) List(ctx context.Context, params repository.ListParams) ([]domain.Note, int64, error) {
	if r.listFn != nil {
		return r.listFn(ctx, params)
	}
	return nil, 0, nil
}

func (r *memNoteRepo) FindDue(ctx context.Context, status domain.Status, before time.Time, limit int) ([]domain.Note, error) {
	if r.findDueFn != nil {
		return r.findDueFn(ctx, status, before, limit)
	}
	return nil, nil
}

func (r *memNoteRepo) Update(ctx context.Context, id string, mutate repository.MutateFunc, expected ...domain.Status) (*domain.Note, error) {
	if r.beforeUpdate != nil {
		if err := r.beforeUpdate(id); err != nil {
			return nil, err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.updateCalls++

	stored, ok := r.notes[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if len(expected) > 0 && !slices.Contains(expected, stored.Status) {
		return nil, fmt.Errorf("%w: note %s is %s", domain.ErrConflict, id, stored.Status)
	}

	working := cloneNote(stored)
	if err := mutate(working); err != nil {
		return nil, err
	}
	r.notes[id] = working
	return cloneNote(working), nil
}

// memScheduler is an in-memory single-flight scheduler. Retries become visible immediately;
// the delays it would have applied are recorded instead.
type memScheduler struct {
	mu       sync.Mutex
	policy   *backoff.Policy
	ready    []string
	leases   map[string]string
	attempts map[string]int
	seq      int

	delays   []time.Duration
	acked    []string
	dead     []string
	enqueued []string

	enqueueErr error
}

func newMemScheduler(policy *backoff.Policy) *memScheduler {
	return &memScheduler{
		policy:   policy,
		leases:   make(map[string]string),
		attempts: make(map[string]int),
	}
}

func (s *memScheduler) Enqueue(ctx context.Context, noteID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.enqueueErr != nil {
		return false, s.enqueueErr
	}
	s.enqueued = append(s.enqueued, noteID)
	if _, leased := s.leases[noteID]; leased || slices.Contains(s.ready, noteID) {
		return false, nil
	}
	s.ready = append(s.ready, noteID)
	return true, nil
}

func (s *memScheduler) Dequeue(ctx context.Context) (*queue.Lease, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.ready) == 0 {
		return nil, nil
	}
	id := s.ready[0]
	s.ready = s.ready[1:]
	s.seq++
	token := fmt.Sprintf("token-%d", s.seq)
	s.leases[id] = token
	attempts := s.attempts[id]
	return &queue.Lease{
		NoteID:    id,
		Token:     token,
		Attempts:  attempts,
		Exhausted: s.policy.Exhausted(attempts),
		Deadline:  time.Now().Add(time.Minute),
	}, nil
}

func (s *memScheduler) release(lease *queue.Lease) error {
	if s.leases[lease.NoteID] != lease.Token {
		return queue.ErrLeaseLost
	}
	delete(s.leases, lease.NoteID)
	return nil
}

func (s *memScheduler) Ack(ctx context.Context, lease *queue.Lease) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.release(lease); err != nil {
		return err
	}
	delete(s.attempts, lease.NoteID)
	s.acked = append(s.acked, lease.NoteID)
	return nil
}

func (s *memScheduler) Fail(ctx context.Context, lease *queue.Lease, onExhausted queue.ExhaustedFunc) (queue.Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.leases[lease.NoteID] != lease.Token {
		return queue.Decision{}, queue.ErrLeaseLost
	}

	attempts := lease.Attempts + 1
	if !s.policy.Exhausted(attempts) {
		delay := s.policy.Delay(attempts)
		_ = s.release(lease)
		s.attempts[lease.NoteID] = attempts
		s.delays = append(s.delays, delay)
		s.ready = append(s.ready, lease.NoteID)
		return queue.Decision{Attempts: attempts, Delay: delay}, nil
	}

	s.attempts[lease.NoteID] = attempts
	return s.bury(ctx, lease, attempts, onExhausted)
}

func (s *memScheduler) Exhaust(ctx context.Context, lease *queue.Lease, onExhausted queue.ExhaustedFunc) (queue.Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.leases[lease.NoteID] != lease.Token {
		return queue.Decision{}, queue.ErrLeaseLost
	}
	return s.bury(ctx, lease, lease.Attempts, onExhausted)
}

func (s *memScheduler) bury(ctx context.Context, lease *queue.Lease, attempts int, onExhausted queue.ExhaustedFunc) (queue.Decision, error) {
	if onExhausted != nil {
		if err := onExhausted(ctx, lease.NoteID, attempts); err != nil {
			return queue.Decision{}, err
		}
	}
	_ = s.release(lease)
	delete(s.attempts, lease.NoteID)
	s.dead = append(s.dead, lease.NoteID)
	return queue.Decision{Attempts: attempts, Exhausted: true}, nil
}

func (s *memScheduler) Reclaim(ctx context.Context) (int, error) {
	return 0, nil
}

func (s *memScheduler) snapshot() (acked, dead []string, delays []time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.acked), slices.Clone(s.dead), slices.Clone(s.delays)
}

type fakeExecutor struct {
	mu        sync.Mutex
	executeFn func(ctx context.Context, d provider.Delivery) provider.Outcome
	calls     []provider.Delivery
}

func (f *fakeExecutor) Execute(ctx context.Context, d provider.Delivery) provider.Outcome {
	f.mu.Lock()
	f.calls = append(f.calls, d)
	f.mu.Unlock()
	if f.executeFn != nil {
		return f.executeFn(ctx, d)
	}
	return provider.Outcome{Kind: provider.OutcomeSuccess, StatusCode: 200}
}

func (f *fakeExecutor) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.NoteEvent
	err    error
}

func (p *recordingPublisher) Publish(ctx context.Context, event events.NoteEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) types() []events.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.EventType, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

func rejected(code int) provider.Outcome {
	return provider.Outcome{
		Kind:       provider.OutcomeRejected,
		StatusCode: code,
		Err:        &provider.DeliveryError{Kind: provider.OutcomeRejected, StatusCode: code, Message: fmt.Sprintf("status %d", code)},
	}
}

func unreachable(msg string) provider.Outcome {
	return provider.Outcome{
		Kind: provider.OutcomeUnreachable,
		Err:  &provider.DeliveryError{Kind: provider.OutcomeUnreachable, Cause: errors.New(msg)},
	}
}

// blockingPublisher models an unreachable broker: Publish returns only when ctx ends.
type blockingPublisher struct {
	mu    sync.Mutex
	calls int
}

func (p *blockingPublisher) Publish(ctx context.Context, event events.NoteEvent) error {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	<-ctx.Done()
	return ctx.Err()
}

func (p *blockingPublisher) Close() error { return nil }

func (p *blockingPublisher) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}
