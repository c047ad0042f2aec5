package messaging

import (
	"context"
	"sync"
)

// MemoryBroker keeps published messages in process. It backs local runs
// without Redis and the worker tests.
type MemoryBroker struct {
	mu       sync.Mutex
	messages []Message
	err      error
}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{}
}

// FailWith makes every following Publish return err. Pass nil to recover.
func (b *MemoryBroker) FailWith(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.err = err
}

func (b *MemoryBroker) Publish(_ context.Context, msg Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	b.messages = append(b.messages, msg)
	return nil
}

func (b *MemoryBroker) Messages() []Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Message(nil), b.messages...)
}

func (b *MemoryBroker) Close() error { return nil }
