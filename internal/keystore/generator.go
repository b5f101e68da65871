package keystore

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// generateTimeout bounds a single background generation, including the store write.
const generateTimeout = 30 * time.Second

var (
	// ErrGeneratorClosed is returned by GenerateAsync after Close.
	ErrGeneratorClosed = errors.New("keystore: generator closed")
	// ErrQueueFull is returned by GenerateAsync when the backlog is at capacity.
	ErrQueueFull = errors.New("keystore: generation queue full")
)

// KeyGenerator generates and stores a tenant keypair. *KeyStore implements it.
type KeyGenerator interface {
	Generate(ctx context.Context, tenantID string) error
}

// Generator runs key generation on a fixed pool of background workers so request
// handlers never pay for RSA key generation.
type Generator struct {
	gen    KeyGenerator
	jobs   chan string
	wg     sync.WaitGroup
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
}

// NewGenerator starts workers goroutines consuming a queue of size queue. logger may be nil.
func NewGenerator(gen KeyGenerator, workers, queue int, logger *slog.Logger) *Generator {
	if workers < 1 {
		workers = 1
	}
	if queue < 1 {
		queue = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	g := &Generator{
		gen:    gen,
		jobs:   make(chan string, queue),
		logger: logger.With("component", "keygen"),
	}
	g.wg.Add(workers)
	for range workers {
		go g.work()
	}
	return g
}

// GenerateAsync queues key generation for tenantID and returns immediately.
// Failures are logged; the tenant's tokens cannot be signed until a keypair exists.
func (g *Generator) GenerateAsync(tenantID string) error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.closed {
		return ErrGeneratorClosed
	}
	select {
	case g.jobs <- tenantID:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops accepting work and waits for queued generations to finish.
func (g *Generator) Close() {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return
	}
	g.closed = true
	close(g.jobs)
	g.mu.Unlock()
	g.wg.Wait()
}

func (g *Generator) work() {
	defer g.wg.Done()
	for tenantID := range g.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), generateTimeout)
		if err := g.gen.Generate(ctx, tenantID); err != nil {
			g.logger.Error("background key generation failed", "tenant", tenantLabel(tenantID), "error", err)
		}
		cancel()
	}
}
