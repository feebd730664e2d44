// Package journal keeps the recent pump pulse events until a reporter has
// acknowledged them. When full the oldest event is evicted, so the newest are
// always visible.
package journal

import (
	"sync"

	"github.com/gr-butler/hydro/data"
	logger "github.com/sirupsen/logrus"
)

const DefaultCapacity = 5

type Journal struct {
	lock     sync.Mutex
	events   []data.PumpPulseEvent
	head     int // oldest entry
	count    int
	capacity int
	evicted  uint64
	next     uint64 // sequence number of the next append
}

func New(capacity int) *Journal {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &Journal{
		events:   make([]data.PumpPulseEvent, capacity),
		capacity: capacity,
	}
}

// Append returns true if an older event had to be evicted to make room.
func (j *Journal) Append(e data.PumpPulseEvent) bool {
	j.lock.Lock()
	defer j.lock.Unlock()
	return j.appendNoLock(e)
}

func (j *Journal) appendNoLock(e data.PumpPulseEvent) bool {
	evicted := false
	if j.count == j.capacity {
		logger.Warnf("Journal full, dropping oldest event [%v @ %v]", j.events[j.head].Pump, j.events[j.head].Timestamp)
		j.head = (j.head + 1) % j.capacity
		j.count -= 1
		j.evicted += 1
		evicted = true
	}
	j.events[(j.head+j.count)%j.capacity] = e
	j.count += 1
	j.next += 1
	return evicted
}

// Pending returns the events oldest first without removing them, and the token
// that acknowledges exactly these events.
func (j *Journal) Pending() ([]data.PumpPulseEvent, uint64) {
	j.lock.Lock()
	defer j.lock.Unlock()
	return j.snapshotNoLock(), j.next
}

// Ack removes the events handed out by Pending with this token. Events added
// since then stay. Returns the number removed.
func (j *Journal) Ack(token uint64) int {
	j.lock.Lock()
	defer j.lock.Unlock()
	return j.ackNoLock(token)
}

func (j *Journal) ackNoLock(token uint64) int {
	if token > j.next {
		token = j.next
	}
	oldest := j.next - uint64(j.count)
	if token <= oldest {
		return 0
	}
	n := int(token - oldest)
	j.head = (j.head + n) % j.capacity
	j.count -= n
	return n
}

// Drain returns the events oldest first and empties the journal.
func (j *Journal) Drain() []data.PumpPulseEvent {
	j.lock.Lock()
	defer j.lock.Unlock()
	out := j.snapshotNoLock()
	j.ackNoLock(j.next)
	return out
}

// Snapshot returns the events without clearing them.
func (j *Journal) Snapshot() []data.PumpPulseEvent {
	j.lock.Lock()
	defer j.lock.Unlock()
	return j.snapshotNoLock()
}

func (j *Journal) snapshotNoLock() []data.PumpPulseEvent {
	out := make([]data.PumpPulseEvent, 0, j.count)
	for i := 0; i < j.count; i++ {
		out = append(out, j.events[(j.head+i)%j.capacity])
	}
	return out
}

// Restore appends saved events, applying the normal eviction policy.
func (j *Journal) Restore(events []data.PumpPulseEvent) {
	j.lock.Lock()
	defer j.lock.Unlock()
	for _, e := range events {
		j.appendNoLock(e)
	}
}

func (j *Journal) Len() int {
	j.lock.Lock()
	defer j.lock.Unlock()
	return j.count
}

func (j *Journal) Capacity() int {
	return j.capacity
}

// Evicted counts events lost to overflow since start.
func (j *Journal) Evicted() uint64 {
	j.lock.Lock()
	defer j.lock.Unlock()
	return j.evicted
}
