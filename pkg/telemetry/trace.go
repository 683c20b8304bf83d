package telemetry

import (
	"io"
	"sync"
	"time"

	"github.com/grivet-io/grivet/pkg/telemetry/jsonwriter"
)

// finals holds the process-wide final blocks and the trace sink. It is the
// one true telemetry singleton; one mutex guards all of it.
var finals struct {
	// lock guards everything below.
	lock sync.Mutex
	// timers is the process-wide final timer block.
	timers TimerBlock
	// counters is the process-wide final counter block.
	counters CounterBlock
	// sink is the trace sink. A nil sink discards emission.
	sink io.Writer
	// pretty selects indented trace documents.
	pretty bool
}

// SetSink installs the trace sink. It should be invoked once, before
// components begin releasing contexts; events released with no sink
// installed still merge but emit nothing.
func SetSink(sink io.Writer, pretty bool) {
	finals.lock.Lock()
	finals.sink = sink
	finals.pretty = pretty
	finals.lock.Unlock()
}

// emitLocked writes a terminated trace document to the sink, newline
// delimited. The finals lock must be held.
func emitLocked(writer *jsonwriter.Writer) {
	if finals.sink == nil {
		return
	}
	document := append(writer.Bytes(), '\n')
	finals.sink.Write(document)
}

// stampLocked adds the common envelope members to an open trace object.
func stampLocked(writer *jsonwriter.Writer, event string) {
	writer.ObjectString("event", event)
	writer.ObjectString("time", time.Now().UTC().Format(time.RFC3339Nano))
}

// emitContextTimerLocked emits a context-scoped timer event.
func emitContextTimerLocked(context string, id TimerID, record *timerRecord) {
	writer := jsonwriter.New(finals.pretty)
	writer.BeginObject()
	stampLocked(writer, "timer")
	writer.ObjectString("context", context)
	writer.ObjectString("name", timerMetadataTable[id].name)
	writer.ObjectInt("intervals", record.intervals)
	writer.ObjectInt("total_ns", record.totalNS)
	writer.ObjectInt("min_ns", record.minNS)
	writer.ObjectInt("max_ns", record.maxNS)
	writer.EndObject()
	emitLocked(writer)
}

// emitContextCounterLocked emits a context-scoped counter event.
func emitContextCounterLocked(context string, id CounterID, value int64) {
	writer := jsonwriter.New(finals.pretty)
	writer.BeginObject()
	stampLocked(writer, "counter")
	writer.ObjectString("context", context)
	writer.ObjectString("name", counterMetadataTable[id].name)
	writer.ObjectInt("value", value)
	writer.EndObject()
	emitLocked(writer)
}

// Flush emits the process-wide final blocks. The process entry point invokes
// it once, after all components have released their contexts; there is no
// exit-hook magic.
func Flush() {
	finals.lock.Lock()
	defer finals.lock.Unlock()
	if finals.sink == nil {
		return
	}

	writer := jsonwriter.New(finals.pretty)
	writer.BeginObject()
	stampLocked(writer, "final")

	// Timers. Slots that never recorded are omitted.
	timers := jsonwriter.New(finals.pretty)
	timers.BeginObject()
	for i := range finals.timers {
		record := &finals.timers[i]
		if record.intervals == 0 {
			continue
		}
		timers.ObjectBeginObject(timerMetadataTable[i].name)
		timers.ObjectInt("intervals", record.intervals)
		timers.ObjectInt("total_ns", record.totalNS)
		timers.ObjectInt("min_ns", record.minNS)
		timers.ObjectInt("max_ns", record.maxNS)
		timers.EndObject()
	}
	timers.EndObject()
	writer.ObjectSub("timers", timers)

	// Counters. Zero-valued slots are omitted.
	counters := jsonwriter.New(finals.pretty)
	counters.BeginObject()
	for i := range finals.counters {
		if finals.counters[i] == 0 {
			continue
		}
		counters.ObjectInt(counterMetadataTable[i].name, finals.counters[i])
	}
	counters.EndObject()
	writer.ObjectSub("counters", counters)

	writer.EndObject()
	emitLocked(writer)
}
