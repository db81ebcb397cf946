package server

import (
	"encoding/binary"
	"io"
	"sync"

	"github.com/cuemby/warden/pkg/metrics"
	"github.com/hashicorp/raft"
)

// WardenFSM is a deliberately inert raft FSM: it replays nothing and
// reconstructs no state from the log. Its only job is to give the write
// path a durable, crash-safe, monotonically increasing log index to order
// writes by before the real mutation ever touches pkg/backend. Multi-node
// voter membership is out of scope, so the raft group this FSM backs is
// always bootstrapped as a single voter.
type WardenFSM struct {
	mu      sync.Mutex
	applied uint64
}

// NewWardenFSM returns an FSM starting at log index 0.
func NewWardenFSM() *WardenFSM {
	return &WardenFSM{}
}

// Apply records log.Index as the last-applied tick. The log entry's
// payload is never interpreted; commands are ticks, not state mutations.
func (f *WardenFSM) Apply(log *raft.Log) interface{} {
	f.mu.Lock()
	f.applied = log.Index
	f.mu.Unlock()
	metrics.RaftAppliedIndex.Set(float64(log.Index))
	return nil
}

// AppliedIndex returns the last index Apply observed.
func (f *WardenFSM) AppliedIndex() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.applied
}

type wardenSnapshot struct {
	applied uint64
}

// Snapshot captures the applied index. bbolt holds the actual durable
// state; this snapshot only exists to satisfy raft's FSM contract and let
// a restarted node replay its log from a sane starting point.
func (f *WardenFSM) Snapshot() (raft.FSMSnapshot, error) {
	return &wardenSnapshot{applied: f.AppliedIndex()}, nil
}

func (s *wardenSnapshot) Persist(sink raft.SnapshotSink) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], s.applied)
	if _, err := sink.Write(buf[:]); err != nil {
		sink.Cancel()
		return err
	}
	return sink.Close()
}

func (s *wardenSnapshot) Release() {}

// Restore replays a snapshot taken by Persist.
func (f *WardenFSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()
	var buf [8]byte
	if _, err := io.ReadFull(rc, buf[:]); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil
		}
		return err
	}
	f.mu.Lock()
	f.applied = binary.BigEndian.Uint64(buf[:])
	f.mu.Unlock()
	return nil
}
