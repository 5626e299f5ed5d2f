package monitor

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/heidestein/routetrack/internal/controller"
	"github.com/heidestein/routetrack/internal/filter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSession struct {
	mu    sync.Mutex
	state controller.State
}

func (f *fakeSession) set(s controller.State) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = s
}

func (f *fakeSession) State() controller.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeSession) TrackID() string { return "t1" }
func (f *fakeSession) Segment() int    { return 2 }
func (f *fakeSession) Metrics() controller.Metrics {
	return controller.Metrics{Distance: 1234.5, Duration: 90 * time.Second, AvgSpeed: 13.7, Stage: filter.Steady}
}

type fixedCounter uint64

func (c fixedCounter) Handled() uint64 { return uint64(c) }

type fixedQueues map[string]int

func (q fixedQueues) QueueLengths() map[string]int { return q }

func newTestService(t *testing.T, sess Session) (*Service, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nested", "status.json")
	s := NewService(Dependencies{
		Session:    sess,
		Pipelines:  map[string]Counter{"fg": fixedCounter(5), "bg": fixedCounter(3)},
		Queues:     fixedQueues{"fix.bg": 1},
		StatusFile: path,
		Interval:   10 * time.Millisecond,
		Now:        func() time.Time { return time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC) },
	})
	return s, path
}

func readStatus(t *testing.T, path string) Status {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var st Status
	require.NoError(t, json.Unmarshal(data, &st))
	return st
}

func TestGetStatus(t *testing.T) {
	s, _ := newTestService(t, &fakeSession{state: controller.Tracking})

	st := s.GetStatus()
	assert.Equal(t, "tracking", st.State)
	assert.Equal(t, "t1", st.TrackID)
	assert.Equal(t, 2, st.Segment)
	assert.Equal(t, 1234.5, st.DistanceM)
	assert.Equal(t, int64(90000), st.DurationMs)
	assert.Equal(t, "steady", st.Stage)
	assert.Equal(t, map[string]uint64{"fg": 5, "bg": 3}, st.Handled)
	assert.Equal(t, map[string]int{"fix.bg": 1}, st.Queues)
}

func TestStart_WritesWhileActive(t *testing.T) {
	sess := &fakeSession{state: controller.Tracking}
	s, path := newTestService(t, sess)

	require.NoError(t, s.Start())
	assert.True(t, s.IsRunning())

	require.Eventually(t, func() bool {
		_, err := os.Stat(path)
		return err == nil
	}, 2*time.Second, 5*time.Millisecond)

	s.Stop()
	assert.False(t, s.IsRunning())

	st := readStatus(t, path)
	assert.Equal(t, "tracking", st.State)
	assert.Equal(t, time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC), st.Time)
}

func TestStart_IdleWritesNothing(t *testing.T) {
	s, path := newTestService(t, &fakeSession{state: controller.Idle})

	require.NoError(t, s.Start())
	time.Sleep(50 * time.Millisecond)
	s.Stop()

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestStart_RecordsTransitionToIdle(t *testing.T) {
	sess := &fakeSession{state: controller.Paused}
	s, path := newTestService(t, sess)

	require.NoError(t, s.Start())
	defer s.Stop()

	require.Eventually(t, func() bool {
		_, err := os.Stat(path)
		return err == nil
	}, 2*time.Second, 5*time.Millisecond)

	sess.set(controller.Idle)
	require.Eventually(t, func() bool {
		data, err := os.ReadFile(path)
		if err != nil {
			return false
		}
		var st Status
		return json.Unmarshal(data, &st) == nil && st.State == "idle"
	}, 2*time.Second, 5*time.Millisecond)
}

func TestStartStop_Idempotent(t *testing.T) {
	s, _ := newTestService(t, &fakeSession{})

	require.NoError(t, s.Start())
	require.NoError(t, s.Start())
	s.Stop()
	s.Stop()
	assert.False(t, s.IsRunning())
}
