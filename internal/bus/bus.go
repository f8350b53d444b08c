// Package bus provides addressable, typed message delivery between the
// coordinator and its agents. The bus is pure routing plumbing: it never
// inspects payloads and holds no task semantics. Delivery is at-most-once
// and in-order per (sender, recipient) pair; sends return once enqueued,
// and a message to an unknown recipient is dropped without error.
package bus

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Sentinel errors surfaced by the bus.
var (
	ErrClosed             = errors.New("bus closed")
	ErrDuplicateRecipient = errors.New("already registered")
)

// MessageType classifies bus traffic so recipients can dispatch without
// inspecting payloads.
type MessageType string

const (
	TypeAssignment   MessageType = "task_assignment"
	TypeResult       MessageType = "task_result"
	TypeFailure      MessageType = "task_failure"
	TypeCoordination MessageType = "coordination"
	TypeStatus       MessageType = "status"
	TypeBroadcast    MessageType = "broadcast"
)

// Everyone is the recipient marker that fans a message out to all
// recipients registered at send time, excluding the sender.
const Everyone = "*"

// DefaultMailboxSize bounds a recipient's queue when Register is called
// with a non-positive size.
const DefaultMailboxSize = 256

// DefaultHistoryLimit bounds the retained message history when New is
// called with a non-positive limit.
const DefaultHistoryLimit = 1000

// Message is an addressed envelope. Payload is opaque to the bus.
type Message struct {
	ID      string
	From    string
	To      string
	Type    MessageType
	Payload any
	SentAt  time.Time
}

// NewMessage builds an envelope with a fresh id and timestamp.
func NewMessage(from, to string, typ MessageType, payload any) Message {
	return Message{
		ID:      uuid.New().String(),
		From:    from,
		To:      to,
		Type:    typ,
		Payload: payload,
		SentAt:  time.Now(),
	}
}

// Stats counts bus activity. Sent increments once per Send call,
// Delivered once per enqueued copy, Dropped once per copy that could not
// be enqueued (unknown recipient or full mailbox).
type Stats struct {
	Sent      uint64
	Delivered uint64
	Dropped   uint64
}

// MessageBus routes messages between named recipients over per-recipient
// FIFO mailboxes. Safe for concurrent use.
type MessageBus struct {
	mu        sync.Mutex
	mailboxes map[string]chan Message
	history   []Message
	histNext  int
	histFull  bool
	stats     Stats
	closed    bool
}

// New creates a message bus retaining up to historyLimit past messages.
func New(historyLimit int) *MessageBus {
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	return &MessageBus{
		mailboxes: make(map[string]chan Message),
		history:   make([]Message, historyLimit),
	}
}

// Register creates a mailbox for name and returns its receive side.
// A non-positive size falls back to DefaultMailboxSize.
func (b *MessageBus) Register(name string, size int) (<-chan Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}
	if _, exists := b.mailboxes[name]; exists {
		return nil, fmt.Errorf("recipient %q: %w", name, ErrDuplicateRecipient)
	}
	if size <= 0 {
		size = DefaultMailboxSize
	}

	ch := make(chan Message, size)
	b.mailboxes[name] = ch
	return ch, nil
}

// Unregister removes the named mailbox and closes it. Unknown names are
// a no-op. Messages already enqueued remain readable until the channel
// drains.
func (b *MessageBus) Unregister(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch, exists := b.mailboxes[name]
	if !exists {
		return
	}
	delete(b.mailboxes, name)
	close(ch)
}

// Send enqueues msg for its recipient, or for every registered recipient
// except the sender when To is Everyone, and returns once enqueued.
// Unknown recipients and full mailboxes drop the copy silently; drops are
// visible only through Stats.
func (b *MessageBus) Send(msg Message) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.SentAt.IsZero() {
		msg.SentAt = time.Now()
	}

	b.stats.Sent++
	b.record(msg)

	if msg.To == Everyone {
		for name, ch := range b.mailboxes {
			if name == msg.From {
				continue
			}
			b.enqueue(ch, msg)
		}
		return
	}

	ch, exists := b.mailboxes[msg.To]
	if !exists {
		b.stats.Dropped++
		return
	}
	b.enqueue(ch, msg)
}

// enqueue attempts a non-blocking put so a slow recipient never stalls
// the sender. Caller holds b.mu.
func (b *MessageBus) enqueue(ch chan Message, msg Message) {
	select {
	case ch <- msg:
		b.stats.Delivered++
	default:
		b.stats.Dropped++
	}
}

// record appends msg to the bounded history ring. Caller holds b.mu.
func (b *MessageBus) record(msg Message) {
	b.history[b.histNext] = msg
	b.histNext++
	if b.histNext == len(b.history) {
		b.histNext = 0
		b.histFull = true
	}
}

// History returns up to limit of the most recent messages, oldest first.
// A non-positive limit returns everything retained.
func (b *MessageBus) History(limit int) []Message {
	b.mu.Lock()
	defer b.mu.Unlock()

	var ordered []Message
	if b.histFull {
		ordered = append(ordered, b.history[b.histNext:]...)
		ordered = append(ordered, b.history[:b.histNext]...)
	} else {
		ordered = append(ordered, b.history[:b.histNext]...)
	}

	if limit > 0 && len(ordered) > limit {
		ordered = ordered[len(ordered)-limit:]
	}
	return ordered
}

// Stats returns a snapshot of the delivery counters.
func (b *MessageBus) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}

// Recipients returns the names registered at the time of the call.
func (b *MessageBus) Recipients() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	names := make([]string, 0, len(b.mailboxes))
	for name := range b.mailboxes {
		names = append(names, name)
	}
	return names
}

// Close shuts the bus down: all mailboxes are closed and further sends
// and registrations are rejected. Safe to call multiple times.
func (b *MessageBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for name, ch := range b.mailboxes {
		delete(b.mailboxes, name)
		close(ch)
	}
}
