package state

import (
	"context"
	"time"
)

// Coalescer folds bursts of signals into single delivery events. The watcher
// daemon drives it with one strobe per filesystem observation and publishes
// a batch per delivered event. Two durations shape its behavior: a quiet
// window (delivery happens once no strobe has arrived for the window) and a
// maximum latency (a burst is delivered once it has been pending that long,
// even if strobes keep arriving — without this bound, steady filesystem
// churn would defer publication indefinitely and queries would never see a
// stable token). A Coalescer is safe for concurrent usage. It maintains a
// background Goroutine that must be terminated using Terminate.
type Coalescer struct {
	// signals is used to transmit strobes to the run loop.
	signals chan struct{}
	// events is the channel on which delivery events are sent. Each event
	// carries the number of strobes folded into the delivered burst.
	events chan int
	// cancel signals termination to the run loop.
	cancel context.CancelFunc
	// done is closed to indicate that the run loop has exited.
	done chan struct{}
}

// NewCoalescer creates a coalescer with the specified quiet window and
// maximum pending latency. A non-positive window delivers every strobe
// immediately; a non-positive maximum latency disables the latency bound.
func NewCoalescer(window, maximumLatency time.Duration) *Coalescer {
	// Create a cancellable context to regulate the run loop.
	ctx, cancel := context.WithCancel(context.Background())

	// Create the coalescer.
	coalescer := &Coalescer{
		signals: make(chan struct{}),
		events:  make(chan int, 1),
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	// Start the coalescer's run loop.
	go coalescer.run(ctx, window, maximumLatency)

	// Done.
	return coalescer
}

// run implements the strobe processing run loop for Coalescer.
func (c *Coalescer) run(ctx context.Context, window, maximumLatency time.Duration) {
	defer close(c.done)

	// Create the (initially stopped and drained) quiet-window timer.
	quiet := time.NewTimer(0)
	if !quiet.Stop() {
		<-quiet.C
	}
	defer quiet.Stop()

	// Track the pending burst: how many strobes it holds and when its first
	// strobe arrived.
	var pending int
	var pendingSince time.Time

	// deliver flushes the pending burst without blocking. The events channel
	// holds one event; if it's full (the consumer hasn't drained the
	// previous burst), the pending burst is retained and the quiet timer is
	// re-armed so that delivery retries without requiring further strobes.
	deliver := func() {
		if pending == 0 {
			return
		}
		select {
		case c.events <- pending:
			pending = 0
		default:
			quiet.Reset(window)
		}
	}

	// Loop and process strobes until cancelled.
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.signals:
			if pending == 0 {
				pendingSince = time.Now()
			}
			pending++

			// A burst that has been pending for the maximum latency goes out
			// now; otherwise the quiet window restarts.
			if maximumLatency > 0 && time.Since(pendingSince) >= maximumLatency {
				quiet.Stop()
				select {
				case <-quiet.C:
				default:
				}
				deliver()
				continue
			}
			if !quiet.Stop() {
				select {
				case <-quiet.C:
				default:
				}
			}
			quiet.Reset(window)
		case <-quiet.C:
			deliver()
		}
	}
}

// Strobe records one signal into the pending burst. If a subsequent call to
// Strobe is made within the quiet window, delivery is deferred (up to the
// coalescer's maximum latency) so that rapid signal sequences fold into one
// event.
func (c *Coalescer) Strobe() {
	select {
	case c.signals <- struct{}{}:
	case <-c.done:
	}
}

// Events returns the delivery channel. Each event carries the number of
// strobes folded into its burst. The channel is buffered with a capacity of
// 1, so a slow consumer loses no bursts (they fold into the next event).
// The resulting channel is never closed.
func (c *Coalescer) Events() <-chan int {
	return c.events
}

// Terminate shuts down the coalescer's internal run loop and waits for it to
// terminate. It's safe to continue invoking other methods after invoking
// Terminate (including Terminate, which is idempotent), though Strobe will
// have no effect and only a previously buffered event will be delivered on
// the channel returned by Events.
func (c *Coalescer) Terminate() {
	c.cancel()
	<-c.done
}
