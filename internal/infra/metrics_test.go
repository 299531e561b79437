package infra

import (
	"sync"
	"testing"
)

func TestCountersSnapshot(t *testing.T) {
	c := &Counters{}

	c.RecordMessage()
	c.RecordMessage()
	c.RecordParseError()
	c.RecordSequenceGap()
	c.RecordResync()
	c.RecordTick()
	c.RecordFrame()
	c.RecordDroppedSubscriber()
	c.AddSubscriber(3)
	c.AddSubscriber(-1)
	c.AddConnection(2)

	snap := c.Snapshot()
	if snap.MessagesParsed != 2 {
		t.Errorf("MessagesParsed = %d, want 2", snap.MessagesParsed)
	}
	if snap.ParseErrors != 1 || snap.SequenceGaps != 1 || snap.Resyncs != 1 {
		t.Errorf("error counters wrong: %+v", snap)
	}
	if snap.ActiveSubscribers != 2 {
		t.Errorf("ActiveSubscribers = %d, want 2", snap.ActiveSubscribers)
	}
	if snap.ActiveConnections != 2 {
		t.Errorf("ActiveConnections = %d, want 2", snap.ActiveConnections)
	}
}

func TestCountersConcurrent(t *testing.T) {
	c := &Counters{}
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				c.RecordMessage()
			}
		}()
	}
	wg.Wait()

	if got := c.Snapshot().MessagesParsed; got != 10_000 {
		t.Errorf("MessagesParsed = %d, want 10000", got)
	}
}

func TestCountersReset(t *testing.T) {
	c := &Counters{}
	c.RecordMessage()
	c.AddSubscriber(5)
	c.Reset()

	snap := c.Snapshot()
	if snap.MessagesParsed != 0 || snap.ActiveSubscribers != 0 {
		t.Errorf("Reset left residue: %+v", snap)
	}
}
