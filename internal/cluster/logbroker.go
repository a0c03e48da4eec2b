package cluster

import "sync"

// subscriberBuffer is the per-subscriber channel capacity. A subscriber
// that falls further behind loses lines.
const subscriberBuffer = 64

// LogBroker fans task log lines out to live subscribers. Safe for
// concurrent use.
//
// A finished task keeps a closed marker so a subscriber that arrives late
// gets a closed channel and falls back to the stored history.
type LogBroker struct {
	mu     sync.Mutex
	topics map[string]*topic
}

type topic struct {
	subs    map[uint64]chan string
	next    uint64
	done    bool
	dropped int
}

// NewLogBroker creates an empty broker.
func NewLogBroker() *LogBroker {
	return &LogBroker{topics: make(map[string]*topic)}
}

func (b *LogBroker) topic(taskID string) *topic {
	t, ok := b.topics[taskID]
	if !ok {
		t = &topic{subs: make(map[uint64]chan string)}
		b.topics[taskID] = t
	}
	return t
}

// Subscribe returns a channel of log lines for taskID and a cancel func.
// The channel is closed once the task finishes.
func (b *LogBroker) Subscribe(taskID string) (<-chan string, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t := b.topic(taskID)
	ch := make(chan string, subscriberBuffer)
	if t.done {
		close(ch)
		return ch, func() {}
	}

	id := t.next
	t.next++
	t.subs[id] = ch
	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(t.subs, id)
	}
}

// Publish delivers line to every current subscriber of taskID without
// blocking.
func (b *LogBroker) Publish(taskID, line string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[taskID]
	if !ok || t.done {
		return
	}
	for _, ch := range t.subs {
		select {
		case ch <- line:
		default:
			t.dropped++
			logLinesDropped.Inc()
		}
	}
}

// Close ends the stream for taskID, closing every subscriber channel.
func (b *LogBroker) Close(taskID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t := b.topic(taskID)
	t.done = true
	for id, ch := range t.subs {
		close(ch)
		delete(t.subs, id)
	}
}

// Finished reports whether Close has been called for taskID.
func (b *LogBroker) Finished(taskID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.topics[taskID]
	return ok && t.done
}

// Dropped returns how many lines were dropped for slow subscribers of taskID.
func (b *LogBroker) Dropped(taskID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if t, ok := b.topics[taskID]; ok {
		return t.dropped
	}
	return 0
}
