package util

import (
	"sync"
)

// Mailbox holds one bounded channel of outbound wire frames per peer.
// Frames enqueued to the same box are consumed in FIFO order.
type Mailbox struct {
	mu    sync.RWMutex
	boxes map[string]chan string
}

func NewMailbox() *Mailbox {
	return &Mailbox{
		boxes: make(map[string]chan string),
	}
}

func (m *Mailbox) CreateBox(id string, bufferSize int) chan string {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch := make(chan string, bufferSize)
	m.boxes[id] = ch
	return ch
}

// TrySend enqueues without blocking; a full box drops the frame.
func (m *Mailbox) TrySend(to string, frame string) error {
	m.mu.RLock()
	ch, ok := m.boxes[to]
	m.mu.RUnlock()

	if !ok {
		return ErrNoSuchMailbox
	}

	select {
	case ch <- frame:
		return nil
	default:
		return ErrMailboxFull
	}
}

func (m *Mailbox) CloseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, ch := range m.boxes {
		close(ch)
		delete(m.boxes, id)
	}
}
