// Package alarm schedules in-process wake-up alarms. A firing alarm invokes
// the handler the scheduler was created with; the CLI uses it to start a call.
package alarm

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound     = errors.New("alarm not found")
	ErrInPast       = errors.New("alarm time is in the past")
	ErrInvalidState = errors.New("alarm is not in a state that allows this")
	ErrClosed       = errors.New("scheduler closed")
)

type State string

const (
	StateScheduled State = "scheduled"
	StatePaused    State = "paused"
	StateFired     State = "fired"
)

type Alarm struct {
	ID    string
	Title string
	Body  string
	At    time.Time
	State State
}

// Handler is called in its own goroutine when an alarm fires
type Handler func(Alarm)

type entry struct {
	alarm Alarm
	timer *time.Timer
	armed int // bumped on every arm; stale timer callbacks compare against it
}

// Scheduler keeps alarms in memory; nothing survives a restart
type Scheduler struct {
	handler Handler
	logger  *slog.Logger
	now     func() time.Time

	mu     sync.Mutex
	alarms map[string]*entry
	closed bool
}

func NewScheduler(handler Handler, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		handler: handler,
		logger:  logger,
		now:     time.Now,
		alarms:  make(map[string]*entry),
	}
}

// Schedule arms a. An empty ID is assigned; an existing ID is replaced.
func (s *Scheduler) Schedule(a Alarm) (Alarm, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return Alarm{}, ErrClosed
	}
	if !a.At.After(s.now()) {
		return Alarm{}, fmt.Errorf("%w: %s", ErrInPast, a.At.Format(time.RFC3339))
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if old, ok := s.alarms[a.ID]; ok && old.timer != nil {
		old.timer.Stop()
	}

	a.State = StateScheduled
	e := &entry{alarm: a}
	s.alarms[a.ID] = e
	s.arm(e)

	s.logger.Info("alarm scheduled", "id", a.ID, "at", a.At, "title", a.Title)
	return a, nil
}

// ScheduleIn arms an alarm that fires after d
func (s *Scheduler) ScheduleIn(d time.Duration, title, body string) (Alarm, error) {
	return s.Schedule(Alarm{Title: title, Body: body, At: s.now().Add(d)})
}

// Cancel removes the alarm whatever its state
func (s *Scheduler) Cancel(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.alarms[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if e.timer != nil {
		e.timer.Stop()
	}
	delete(s.alarms, id)
	s.logger.Info("alarm cancelled", "id", id)
	return nil
}

// Pause disarms a scheduled alarm without forgetting it
func (s *Scheduler) Pause(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.alarms[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if e.alarm.State != StateScheduled {
		return fmt.Errorf("%w: %s is %s", ErrInvalidState, id, e.alarm.State)
	}
	e.timer.Stop()
	e.timer = nil
	e.alarm.State = StatePaused
	s.logger.Info("alarm paused", "id", id)
	return nil
}

// Resume re-arms a paused alarm for its original time. If that time passed
// while paused the alarm fires immediately.
func (s *Scheduler) Resume(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.alarms[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if e.alarm.State != StatePaused {
		return fmt.Errorf("%w: %s is %s", ErrInvalidState, id, e.alarm.State)
	}
	e.alarm.State = StateScheduled
	s.arm(e)
	s.logger.Info("alarm resumed", "id", id)
	return nil
}

// List returns all alarms ordered by time
func (s *Scheduler) List() []Alarm {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Alarm, 0, len(s.alarms))
	for _, e := range s.alarms {
		out = append(out, e.alarm)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	return out
}

// Close disarms every alarm
func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	for _, e := range s.alarms {
		if e.timer != nil {
			e.timer.Stop()
			e.timer = nil
		}
	}
}

// arm must be called with s.mu held
func (s *Scheduler) arm(e *entry) {
	d := e.alarm.At.Sub(s.now())
	if d < 0 {
		d = 0
	}
	e.armed++
	armed := e.armed
	e.timer = time.AfterFunc(d, func() { s.fire(e, armed) })
}

func (s *Scheduler) fire(e *entry, armed int) {
	s.mu.Lock()
	if s.closed || e.armed != armed || e.alarm.State != StateScheduled || s.alarms[e.alarm.ID] != e {
		s.mu.Unlock()
		return
	}
	e.alarm.State = StateFired
	e.timer = nil
	a := e.alarm
	s.mu.Unlock()

	s.logger.Info("alarm fired", "id", a.ID, "title", a.Title)
	if s.handler != nil {
		s.handler(a)
	}
}
