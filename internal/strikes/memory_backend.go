package strikes

import (
	"context"
	"sync"
)

// MemoryBackend keeps the durable copy in a map. It is meant for tests and dry runs.
type MemoryBackend struct {
	mu      sync.Mutex
	Records map[Key]Record
	LoadErr error
	PutErr  error
	DelErr  error
}

func NewMemoryBackend(records ...Record) *MemoryBackend {
	b := &MemoryBackend{Records: make(map[Key]Record, len(records))}
	for _, rec := range records {
		b.Records[rec.Key] = rec
	}
	return b
}

func (b *MemoryBackend) Load(_ context.Context) ([]Record, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.LoadErr != nil {
		return nil, b.LoadErr
	}
	res := make([]Record, 0, len(b.Records))
	for _, rec := range b.Records {
		res = append(res, rec)
	}
	return res, nil
}

func (b *MemoryBackend) Put(_ context.Context, rec Record) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.PutErr != nil {
		return b.PutErr
	}
	b.Records[rec.Key] = rec
	return nil
}

func (b *MemoryBackend) Delete(_ context.Context, key Key) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.DelErr != nil {
		return b.DelErr
	}
	delete(b.Records, key)
	return nil
}

func (b *MemoryBackend) Snapshot() map[Key]Record {
	b.mu.Lock()
	defer b.mu.Unlock()

	res := make(map[Key]Record, len(b.Records))
	for k, v := range b.Records {
		res[k] = v
	}
	return res
}

// SetPutErr swaps the flush failure injected into Put.
func (b *MemoryBackend) SetPutErr(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.PutErr = err
}
