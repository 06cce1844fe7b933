package locks

import (
	"context"
	"sync"

	"github.com/nats-io/nats.go/jetstream"
)

// ------------------------
// Fake KeyValue
// ------------------------

type FakeKeyValue struct {
	jetstream.KeyValue // Embed to satisfy interface

	mu       sync.Mutex
	data     map[string][]byte
	revision uint64
	trace    []string

	DeleteErr error
}

func NewFakeKeyValue() *FakeKeyValue {
	return &FakeKeyValue{
		data:  make(map[string][]byte),
		trace: []string{},
	}
}

func (f *FakeKeyValue) record(step string) {
	f.trace = append(f.trace, step)
}

func (f *FakeKeyValue) Create(ctx context.Context, key string, value []byte, opts ...jetstream.KVCreateOpt) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("Create")
	if _, ok := f.data[key]; ok {
		return 0, jetstream.ErrKeyExists
	}
	f.revision++
	f.data[key] = value
	return f.revision, nil
}

func (f *FakeKeyValue) Get(ctx context.Context, key string) (jetstream.KeyValueEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("Get")
	val, ok := f.data[key]
	if !ok {
		return nil, jetstream.ErrKeyNotFound
	}
	return &FakeKeyValueEntry{value: val, key: key, revision: f.revision}, nil
}

func (f *FakeKeyValue) Delete(ctx context.Context, key string, opts ...jetstream.KVDeleteOpt) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("Delete")
	if f.DeleteErr != nil {
		return f.DeleteErr
	}
	delete(f.data, key)
	return nil
}

func (f *FakeKeyValue) Trace() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.trace))
	copy(out, f.trace)
	return out
}

type FakeKeyValueEntry struct {
	jetstream.KeyValueEntry
	value    []byte
	key      string
	revision uint64
}

func (f *FakeKeyValueEntry) Value() []byte    { return f.value }
func (f *FakeKeyValueEntry) Key() string      { return f.key }
func (f *FakeKeyValueEntry) Revision() uint64 { return f.revision }
