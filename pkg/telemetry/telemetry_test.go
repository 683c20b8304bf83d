package telemetry

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestTimerNesting(t *testing.T) {
	// Nested starts must record only the outermost interval.
	context := NewContext("test")
	timer := context.Timer(TimerRequest)
	timer.Start()
	timer.Start()
	time.Sleep(time.Millisecond)
	timer.Stop()
	timer.Stop()

	context.lock.Lock()
	record := context.timers[TimerRequest]
	context.lock.Unlock()
	if record.intervals != 1 {
		t.Error("nested timer recorded multiple intervals:", record.intervals)
	}
	if record.totalNS <= 0 {
		t.Error("timer recorded no duration")
	}
	if record.minNS != record.maxNS || record.minNS != record.totalNS {
		t.Error("single-interval extrema inconsistent")
	}

	// Unbalanced stops are ignored.
	timer.Stop()
}

func TestCounterAccumulation(t *testing.T) {
	context := NewContext("test")
	counter := context.Counter(CounterEvents)
	counter.Add(3)
	counter.Add(4)

	context.lock.Lock()
	value := context.counters[CounterEvents]
	context.lock.Unlock()
	if value != 7 {
		t.Error("counter accumulated incorrectly:", value)
	}
}

func TestReleaseMergesAndFlushEmits(t *testing.T) {
	// Install a sink.
	var sink bytes.Buffer
	SetSink(&sink, false)
	defer SetSink(nil, false)

	// Accumulate and release two contexts.
	first := NewContext("first")
	first.Counter(CounterBatches).Add(2)
	timer := first.Timer(TimerRequest)
	timer.Start()
	timer.Stop()
	first.Release()

	second := NewContext("second")
	second.Counter(CounterBatches).Add(5)
	second.Release()

	// Release is idempotent.
	first.Release()

	// Flush the final blocks and locate the final event.
	Flush()
	var final map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(sink.String()), "\n") {
		var event map[string]interface{}
		if err := json.Unmarshal([]byte(line), &event); err != nil {
			t.Fatal("trace emitted invalid JSON:", err)
		}
		if event["event"] == "final" {
			final = event
		}
	}
	if final == nil {
		t.Fatal("no final event emitted")
	}

	// The final counters must include both contexts' contributions. (The
	// final blocks are process-global, so other tests may have added more;
	// assert a lower bound.)
	counters := final["counters"].(map[string]interface{})
	if batches, ok := counters["batches"].(float64); !ok || batches < 7 {
		t.Error("final batches counter missing contributions:", counters["batches"])
	}
	timers := final["timers"].(map[string]interface{})
	if _, ok := timers["request"]; !ok {
		t.Error("final timer block missing request timer")
	}
}
