package alarm

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type firedLog struct {
	mu    sync.Mutex
	fired []Alarm
}

func (f *firedLog) handle(a Alarm) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fired = append(f.fired, a)
}

func (f *firedLog) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.fired)
}

func (f *firedLog) first() Alarm {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fired[0]
}

func newTestScheduler(t *testing.T) (*Scheduler, *firedLog) {
	t.Helper()
	log := &firedLog{}
	s := NewScheduler(log.handle, nil)
	t.Cleanup(s.Close)
	return s, log
}

func TestScheduleFires(t *testing.T) {
	s, log := newTestScheduler(t)

	a, err := s.ScheduleIn(10*time.Millisecond, "Wake up", "Morning call")
	require.NoError(t, err)
	assert.NotEmpty(t, a.ID)
	assert.Equal(t, StateScheduled, a.State)

	require.Eventually(t, func() bool { return log.count() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, a.ID, log.first().ID)
	assert.Equal(t, StateFired, log.first().State)

	list := s.List()
	require.Len(t, list, 1)
	assert.Equal(t, StateFired, list[0].State)
}

func TestScheduleInPast(t *testing.T) {
	s, _ := newTestScheduler(t)

	_, err := s.Schedule(Alarm{Title: "late", At: time.Now().Add(-time.Minute)})
	assert.ErrorIs(t, err, ErrInPast)
}

func TestCancel(t *testing.T) {
	s, log := newTestScheduler(t)

	a, err := s.ScheduleIn(20*time.Millisecond, "Wake up", "")
	require.NoError(t, err)
	require.NoError(t, s.Cancel(a.ID))

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, log.count())
	assert.Empty(t, s.List())
	assert.ErrorIs(t, s.Cancel(a.ID), ErrNotFound)
}

func TestPauseAndResume(t *testing.T) {
	s, log := newTestScheduler(t)

	a, err := s.ScheduleIn(20*time.Millisecond, "Wake up", "")
	require.NoError(t, err)
	require.NoError(t, s.Pause(a.ID))
	assert.ErrorIs(t, s.Pause(a.ID), ErrInvalidState)

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, log.count())
	assert.Equal(t, StatePaused, s.List()[0].State)

	// the original time has passed, so resuming fires right away
	require.NoError(t, s.Resume(a.ID))
	require.Eventually(t, func() bool { return log.count() == 1 }, time.Second, time.Millisecond)
	assert.ErrorIs(t, s.Resume(a.ID), ErrInvalidState)
}

func TestResumeUnknown(t *testing.T) {
	s, _ := newTestScheduler(t)
	assert.ErrorIs(t, s.Resume("missing"), ErrNotFound)
	assert.ErrorIs(t, s.Pause("missing"), ErrNotFound)
}

func TestListOrderedByTime(t *testing.T) {
	s, _ := newTestScheduler(t)
	now := time.Now()

	_, err := s.Schedule(Alarm{ID: "late", At: now.Add(2 * time.Hour)})
	require.NoError(t, err)
	_, err = s.Schedule(Alarm{ID: "early", At: now.Add(time.Hour)})
	require.NoError(t, err)

	list := s.List()
	require.Len(t, list, 2)
	assert.Equal(t, "early", list[0].ID)
	assert.Equal(t, "late", list[1].ID)
}

func TestRescheduleReplaces(t *testing.T) {
	s, log := newTestScheduler(t)

	_, err := s.Schedule(Alarm{ID: "wake", At: time.Now().Add(10 * time.Millisecond)})
	require.NoError(t, err)
	_, err = s.Schedule(Alarm{ID: "wake", At: time.Now().Add(time.Hour)})
	require.NoError(t, err)

	time.Sleep(40 * time.Millisecond)
	assert.Zero(t, log.count())
	assert.Len(t, s.List(), 1)
}

func TestClosedScheduler(t *testing.T) {
	s, log := newTestScheduler(t)

	_, err := s.ScheduleIn(10*time.Millisecond, "Wake up", "")
	require.NoError(t, err)
	s.Close()

	time.Sleep(30 * time.Millisecond)
	assert.Zero(t, log.count())

	_, err = s.ScheduleIn(time.Minute, "again", "")
	assert.ErrorIs(t, err, ErrClosed)
}
