package interval

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeQueryServer struct {
	mu                  sync.Mutex
	recycledCalls       int
	tombstoneCalls      int
	recycledReturn      int
	tombstoneReturn     int
	recycledErr         error
	tombstoneErr        error
	lastRecycleMaxAge   int64
	lastTombstoneMaxAge int64
	order               []string
}

func (f *fakeQueryServer) PurgeRecycled(now time.Time, maxAgeSecs int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recycledCalls++
	f.lastRecycleMaxAge = maxAgeSecs
	f.order = append(f.order, "recycled")
	return f.recycledReturn, f.recycledErr
}

func (f *fakeQueryServer) PurgeTombstones(now time.Time, maxAgeSecs int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tombstoneCalls++
	f.lastTombstoneMaxAge = maxAgeSecs
	f.order = append(f.order, "tombstone")
	return f.tombstoneReturn, f.tombstoneErr
}

func (f *fakeQueryServer) calls() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.recycledCalls, f.tombstoneCalls
}

func TestCycleCallsBothPurgesInOrder(t *testing.T) {
	fake := &fakeQueryServer{}
	p := New(fake, Config{RecycleBinMaxAge: 604800, ChangelogMaxAge: 7776000})

	p.cycle()

	recycled, tombstones := fake.calls()
	assert.Equal(t, 1, recycled)
	assert.Equal(t, 1, tombstones)
	assert.Equal(t, int64(604800), fake.lastRecycleMaxAge)
	assert.Equal(t, int64(7776000), fake.lastTombstoneMaxAge)
	assert.Equal(t, []string{"recycled", "tombstone"}, fake.order)
}

func TestCycleContinuesPastRecycledError(t *testing.T) {
	fake := &fakeQueryServer{recycledErr: assert.AnError}
	p := New(fake, Config{})

	p.cycle()

	_, tombstones := fake.calls()
	assert.Equal(t, 1, tombstones, "a failed purge_recycled must not block purge_tombstones")
}

func TestStartStopRunsAtLeastOneCycle(t *testing.T) {
	fake := &fakeQueryServer{}
	p := New(fake, Config{PurgeFrequency: 5 * time.Millisecond})

	p.Start()
	require.Eventually(t, func() bool {
		recycled, _ := fake.calls()
		return recycled > 0
	}, time.Second, 5*time.Millisecond)
	p.Stop()

	recycledAtStop, _ := fake.calls()
	time.Sleep(20 * time.Millisecond)
	recycledAfterWait, _ := fake.calls()
	assert.Equal(t, recycledAtStop, recycledAfterWait, "Stop must halt the ticker loop")
}

func TestStopWithoutStartIsNoop(t *testing.T) {
	p := New(&fakeQueryServer{}, Config{})
	assert.NotPanics(t, func() { p.Stop() })
}
