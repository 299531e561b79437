package infra

import (
	"sync/atomic"
	"time"
)

// Counters provides lightweight observability without external dependencies.
// Uses atomic operations for thread-safety.
type Counters struct {
	messagesParsed  atomic.Uint64
	parseErrors     atomic.Uint64
	sequenceGaps    atomic.Uint64
	resyncs         atomic.Uint64
	crossedBooks    atomic.Uint64
	ticksComputed   atomic.Uint64
	ticksSkipped    atomic.Uint64
	framesPublished atomic.Uint64
	subsDropped     atomic.Uint64

	activeSubscribers atomic.Int32
	activeConnections atomic.Int32
}

// GlobalCounters is the singleton counters instance.
var GlobalCounters = &Counters{}

// RecordMessage records a successfully parsed venue message.
func (c *Counters) RecordMessage() { c.messagesParsed.Add(1) }

// RecordParseError records a dropped, unparseable venue frame.
func (c *Counters) RecordParseError() { c.parseErrors.Add(1) }

// RecordSequenceGap records a detected gap.
func (c *Counters) RecordSequenceGap() { c.sequenceGaps.Add(1) }

// RecordResync records a completed resync.
func (c *Counters) RecordResync() { c.resyncs.Add(1) }

// RecordCrossedBook records a rejected crossed snapshot.
func (c *Counters) RecordCrossedBook() { c.crossedBooks.Add(1) }

// RecordTick records one computed metrics tick.
func (c *Counters) RecordTick() { c.ticksComputed.Add(1) }

// RecordSkippedTick records a tick retained as stale.
func (c *Counters) RecordSkippedTick() { c.ticksSkipped.Add(1) }

// RecordFrame records one published stream frame.
func (c *Counters) RecordFrame() { c.framesPublished.Add(1) }

// RecordDroppedSubscriber records a slow or dead consumer disconnect.
func (c *Counters) RecordDroppedSubscriber() { c.subsDropped.Add(1) }

// AddSubscriber adjusts the active subscriber gauge.
func (c *Counters) AddSubscriber(delta int32) { c.activeSubscribers.Add(delta) }

// AddConnection adjusts the active venue connection gauge.
func (c *Counters) AddConnection(delta int32) { c.activeConnections.Add(delta) }

// CountersSnapshot is a point-in-time view of all counters.
type CountersSnapshot struct {
	MessagesParsed    uint64    `json:"messages_parsed"`
	ParseErrors       uint64    `json:"parse_errors"`
	SequenceGaps      uint64    `json:"sequence_gaps"`
	Resyncs           uint64    `json:"resyncs"`
	CrossedBooks      uint64    `json:"crossed_books"`
	TicksComputed     uint64    `json:"ticks_computed"`
	TicksSkipped      uint64    `json:"ticks_skipped"`
	FramesPublished   uint64    `json:"frames_published"`
	SubsDropped       uint64    `json:"subs_dropped"`
	ActiveSubscribers int32     `json:"active_subscribers"`
	ActiveConnections int32     `json:"active_connections"`
	Timestamp         time.Time `json:"ts"`
}

// Snapshot returns current counters as a snapshot.
func (c *Counters) Snapshot() CountersSnapshot {
	return CountersSnapshot{
		MessagesParsed:    c.messagesParsed.Load(),
		ParseErrors:       c.parseErrors.Load(),
		SequenceGaps:      c.sequenceGaps.Load(),
		Resyncs:           c.resyncs.Load(),
		CrossedBooks:      c.crossedBooks.Load(),
		TicksComputed:     c.ticksComputed.Load(),
		TicksSkipped:      c.ticksSkipped.Load(),
		FramesPublished:   c.framesPublished.Load(),
		SubsDropped:       c.subsDropped.Load(),
		ActiveSubscribers: c.activeSubscribers.Load(),
		ActiveConnections: c.activeConnections.Load(),
		Timestamp:         time.Now(),
	}
}

// Reset clears all counters (for testing).
func (c *Counters) Reset() {
	c.messagesParsed.Store(0)
	c.parseErrors.Store(0)
	c.sequenceGaps.Store(0)
	c.resyncs.Store(0)
	c.crossedBooks.Store(0)
	c.ticksComputed.Store(0)
	c.ticksSkipped.Store(0)
	c.framesPublished.Store(0)
	c.subsDropped.Store(0)
	c.activeSubscribers.Store(0)
	c.activeConnections.Store(0)
}
