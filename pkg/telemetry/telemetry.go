// Package telemetry provides per-component timer and counter blocks that
// fold into process-wide totals when their owning component releases them,
// plus structured trace emission of the totals.
package telemetry

import (
	"sync"
	"time"
)

// TimerID identifies a timer within a block.
type TimerID uint8

const (
	// TimerRequest times IPC request handling.
	TimerRequest TimerID = iota
	// TimerObjectRead times object database reads.
	TimerObjectRead
	// timerCount is the number of timer slots.
	timerCount
)

// CounterID identifies a counter within a block.
type CounterID uint8

const (
	// CounterRequests counts IPC requests handled.
	CounterRequests CounterID = iota
	// CounterTrivialResponses counts trivial ("rescan everything") query
	// responses.
	CounterTrivialResponses
	// CounterPathsReturned counts paths returned across query responses.
	CounterPathsReturned
	// CounterEvents counts filesystem events observed.
	CounterEvents
	// CounterBatches counts batches published.
	CounterBatches
	// CounterResyncs counts forced resyncs.
	CounterResyncs
	// CounterObjectReads counts object database reads.
	CounterObjectReads
	// counterCount is the number of counter slots.
	counterCount
)

// timerMetadata describes a timer slot.
type timerMetadata struct {
	// name is the timer's trace name.
	name string
	// wantPerContextEvents requests a context-scoped trace event at release
	// in addition to the process-wide merge.
	wantPerContextEvents bool
}

// counterMetadata describes a counter slot.
type counterMetadata struct {
	// name is the counter's trace name.
	name string
	// wantPerContextEvents requests a context-scoped trace event at release
	// in addition to the process-wide merge.
	wantPerContextEvents bool
}

// timerMetadataTable indexes timer metadata by TimerID.
var timerMetadataTable = [timerCount]timerMetadata{
	TimerRequest:    {name: "request", wantPerContextEvents: true},
	TimerObjectRead: {name: "object_read"},
}

// counterMetadataTable indexes counter metadata by CounterID.
var counterMetadataTable = [counterCount]counterMetadata{
	CounterRequests:         {name: "requests", wantPerContextEvents: true},
	CounterTrivialResponses: {name: "trivial_responses"},
	CounterPathsReturned:    {name: "paths_returned"},
	CounterEvents:           {name: "events"},
	CounterBatches:          {name: "batches"},
	CounterResyncs:          {name: "resyncs"},
	CounterObjectReads:      {name: "object_reads"},
}

// timerRecord is one timer slot's accumulated state. Start/stop pairs nest:
// only the outermost pair records an interval, so re-entrant instrumentation
// is harmless.
type timerRecord struct {
	// totalNS is the accumulated duration of recorded intervals.
	totalNS int64
	// minNS is the shortest recorded interval.
	minNS int64
	// maxNS is the longest recorded interval.
	maxNS int64
	// intervals is the number of recorded intervals.
	intervals int64
	// nesting is the current start/stop nesting depth.
	nesting int
	// startedAt is the start time of the outermost open interval.
	startedAt time.Time
}

// merge folds another record's totals into this one.
func (t *timerRecord) merge(other *timerRecord) {
	if other.intervals == 0 {
		return
	}
	t.totalNS += other.totalNS
	if t.intervals == 0 || other.minNS < t.minNS {
		t.minNS = other.minNS
	}
	if other.maxNS > t.maxNS {
		t.maxNS = other.maxNS
	}
	t.intervals += other.intervals
}

// TimerBlock is a fixed block of timer records.
type TimerBlock [timerCount]timerRecord

// CounterBlock is a fixed block of monotonic counters.
type CounterBlock [counterCount]int64

// merge folds another block's counters into this one.
func (c *CounterBlock) merge(other *CounterBlock) {
	for i := range c {
		c[i] += other[i]
	}
}

// Context is a component-scoped telemetry context: a timer block and a
// counter block accumulated locally and folded into the process-wide final
// blocks at Release. A Context is safe for concurrent usage (a component's
// worker Goroutines share it).
type Context struct {
	// name is the context's trace name.
	name string
	// lock guards the blocks.
	lock sync.Mutex
	// timers is the context's timer block.
	timers TimerBlock
	// counters is the context's counter block.
	counters CounterBlock
	// released indicates that the context has been folded into the final
	// blocks.
	released bool
}

// NewContext creates a telemetry context with the specified trace name.
func NewContext(name string) *Context {
	return &Context{name: name}
}

// Timer returns a handle on one of the context's timers.
func (c *Context) Timer(id TimerID) *Timer {
	return &Timer{context: c, id: id}
}

// Counter returns a handle on one of the context's counters.
func (c *Context) Counter(id CounterID) *Counter {
	return &Counter{context: c, id: id}
}

// Timer is a handle on a single timer slot.
type Timer struct {
	// context is the owning context.
	context *Context
	// id is the slot.
	id TimerID
}

// Start begins (or nests into) an interval. It returns the handle so that
// instrumentation can be written as defer t.Start().Stop().
func (t *Timer) Start() *Timer {
	c := t.context
	c.lock.Lock()
	record := &c.timers[t.id]
	if record.nesting == 0 {
		record.startedAt = time.Now()
	}
	record.nesting++
	c.lock.Unlock()
	return t
}

// Stop ends an interval. Only the outermost stop of a nested start/stop
// sequence records; unbalanced stops are ignored.
func (t *Timer) Stop() {
	c := t.context
	c.lock.Lock()
	record := &c.timers[t.id]
	if record.nesting > 0 {
		record.nesting--
		if record.nesting == 0 {
			elapsed := time.Since(record.startedAt).Nanoseconds()
			record.totalNS += elapsed
			if record.intervals == 0 || elapsed < record.minNS {
				record.minNS = elapsed
			}
			if elapsed > record.maxNS {
				record.maxNS = elapsed
			}
			record.intervals++
		}
	}
	c.lock.Unlock()
}

// Counter is a handle on a single counter slot.
type Counter struct {
	// context is the owning context.
	context *Context
	// id is the slot.
	id CounterID
}

// Add adds to the counter.
func (c *Counter) Add(delta int64) {
	c.context.lock.Lock()
	c.context.counters[c.id] += delta
	c.context.lock.Unlock()
}

// Release folds the context's partial sums into the process-wide final
// blocks and emits any context-scoped events requested by slot metadata. It
// is idempotent; accumulation after release is silently discarded at the
// next (no-op) release.
func (c *Context) Release() {
	// Snapshot and mark released.
	c.lock.Lock()
	if c.released {
		c.lock.Unlock()
		return
	}
	c.released = true
	timers := c.timers
	counters := c.counters
	c.lock.Unlock()

	// Merge into the final blocks and emit context-scoped events.
	finals.lock.Lock()
	defer finals.lock.Unlock()
	for i := range timers {
		finals.timers[i].merge(&timers[i])
		if timerMetadataTable[i].wantPerContextEvents && timers[i].intervals > 0 {
			emitContextTimerLocked(c.name, TimerID(i), &timers[i])
		}
	}
	finals.counters.merge(&counters)
	for i := range counters {
		if counterMetadataTable[i].wantPerContextEvents && counters[i] != 0 {
			emitContextCounterLocked(c.name, CounterID(i), counters[i])
		}
	}
}
