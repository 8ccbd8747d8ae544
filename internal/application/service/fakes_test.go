package service

import (
	"context"
	"sync"

	"mcp-bridge/internal/application/port/output"
	"mcp-bridge/internal/domain/entity"
)

type fakeToolClient struct {
	mu     sync.Mutex
	tools  map[string][]entity.ToolDescriptor
	errs   map[string]error
	probes []string
}

func newFakeToolClient() *fakeToolClient {
	return &fakeToolClient{
		tools: make(map[string][]entity.ToolDescriptor),
		errs:  make(map[string]error),
	}
}

func (f *fakeToolClient) ListTools(ctx context.Context, url string) ([]entity.ToolDescriptor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.probes = append(f.probes, url)
	if err := f.errs[url]; err != nil {
		return nil, err
	}
	return f.tools[url], nil
}

func (f *fakeToolClient) CallTool(ctx context.Context, url, tool string, args map[string]any) (any, error) {
	return nil, nil
}

type recordingBus struct {
	mu        sync.Mutex
	published []entity.Topic
}

func (b *recordingBus) Publish(topic entity.Topic) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, topic)
}

func (b *recordingBus) Subscribe(topic entity.Topic, handler func()) func() {
	return func() {}
}

func (b *recordingBus) count(topic entity.Topic) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, t := range b.published {
		if t == topic {
			n++
		}
	}
	return n
}

// flakyStore fails the next Get calls while failGets is positive.
type flakyStore struct {
	output.KeyValueStore

	mu       sync.Mutex
	failGets int
	err      error
}

func (s *flakyStore) Get(ctx context.Context, key string, dst any) (bool, error) {
	s.mu.Lock()
	if s.failGets > 0 {
		s.failGets--
		s.mu.Unlock()
		return false, s.err
	}
	s.mu.Unlock()
	return s.KeyValueStore.Get(ctx, key, dst)
}

func (s *flakyStore) failNext(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failGets = n
}
