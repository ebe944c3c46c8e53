package sniffer

import (
	"context"
	"sync"

	"github.com/nerrad567/btlesniffer/internal/radio"
	"github.com/nerrad567/btlesniffer/internal/sink"
)

// MockRadio is a scriptable radio.Radio.
type MockRadio struct {
	advs chan radio.Advertisement
	errs chan error

	// ProbeFunc handles Probe; nil succeeds with empty metadata.
	ProbeFunc func(ctx context.Context, identifier string) (radio.Metadata, error)

	mu     sync.Mutex
	probes []string
}

func NewMockRadio() *MockRadio {
	return &MockRadio{
		advs: make(chan radio.Advertisement, 16),
		errs: make(chan error, 1),
	}
}

func (m *MockRadio) Open(context.Context) error { return nil }

func (m *MockRadio) Scan(context.Context) (<-chan radio.Advertisement, <-chan error) {
	return m.advs, m.errs
}

func (m *MockRadio) Probe(ctx context.Context, identifier string) (radio.Metadata, error) {
	m.mu.Lock()
	m.probes = append(m.probes, identifier)
	fn := m.ProbeFunc
	m.mu.Unlock()

	if fn == nil {
		return radio.Metadata{}, nil
	}
	return fn(ctx, identifier)
}

func (m *MockRadio) Close() error { return nil }

func (m *MockRadio) ProbeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.probes)
}

type mockPublisher struct {
	mu        sync.Mutex
	sightings []sink.Sighting
	err       error
}

func (p *mockPublisher) Publish(_ context.Context, s sink.Sighting) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sightings = append(p.sightings, s)
	return p.err
}

func (p *mockPublisher) all() []sink.Sighting {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]sink.Sighting(nil), p.sightings...)
}
