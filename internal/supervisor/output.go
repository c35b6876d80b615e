package supervisor

import "sync"

// OutputBroadcaster fans one stream of text out to any number of attached
// clients, keeping a ring buffer of recent lines so a late attach still
// sees context. Slow clients are skipped rather than allowed to block the
// producer.
type OutputBroadcaster struct {
	mu      sync.RWMutex
	clients map[chan string]struct{}
	history []string
	maxHist int
}

func NewOutputBroadcaster(historySize int) *OutputBroadcaster {
	if historySize <= 0 {
		historySize = 1000
	}
	return &OutputBroadcaster{
		clients: make(map[chan string]struct{}),
		history: make([]string, 0, historySize),
		maxHist: historySize,
	}
}

// Subscribe attaches a client and returns up to historyLines of buffered
// output alongside the live channel.
func (b *OutputBroadcaster) Subscribe(historyLines int) (chan string, []string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan string, 100)
	b.clients[ch] = struct{}{}

	var history []string
	if historyLines > 0 && len(b.history) > 0 {
		start := len(b.history) - historyLines
		if start < 0 {
			start = 0
		}
		history = make([]string, len(b.history)-start)
		copy(history, b.history[start:])
	}
	return ch, history
}

// Unsubscribe detaches a client and closes its channel.
func (b *OutputBroadcaster) Unsubscribe(ch chan string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.clients[ch]; ok {
		delete(b.clients, ch)
		close(ch)
	}
}

// Broadcast records a chunk in the ring buffer and delivers it to every
// client that can take it.
func (b *OutputBroadcaster) Broadcast(chunk string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.history) >= b.maxHist {
		b.history = b.history[1:]
	}
	b.history = append(b.history, chunk)

	for ch := range b.clients {
		select {
		case ch <- chunk:
		default:
			// Client buffer full; drop this chunk for them.
		}
	}
}

// ClearHistory empties the ring buffer without touching subscriptions.
func (b *OutputBroadcaster) ClearHistory() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.history = b.history[:0]
}
