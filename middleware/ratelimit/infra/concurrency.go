package infra

import (
	"sync"
	"time"

	"security-gateway/middleware/ratelimit/domain"
)

// ConcurrencyCounter conta requisições em andamento por IP com teto fixo.
//
// Cada vaga adquirida é liberada pelo release (no fim da requisição) ou pelo
// timer de segurança, o que vier primeiro; o outro vira no-op.
type ConcurrencyCounter struct {
	mu            sync.Mutex
	inFlight      map[string]int
	max           int
	safetyTimeout time.Duration
	cleanupEvery  time.Duration
}

var _ domain.ConcurrencyLimiter = (*ConcurrencyCounter)(nil)

type ConcurrencyOption func(*ConcurrencyCounter)

// WithSafetyTimeout define o pior caso de duração de uma requisição.
// Zero desliga o timer (só o release libera a vaga).
func WithSafetyTimeout(d time.Duration) ConcurrencyOption {
	return func(c *ConcurrencyCounter) { c.safetyTimeout = d }
}

func WithConcurrencyCleanupEvery(d time.Duration) ConcurrencyOption {
	return func(c *ConcurrencyCounter) { c.cleanupEvery = d }
}

// NewConcurrencyCounter cria um contador com teto `max` por IP.
// max <= 0 desliga o teto.
func NewConcurrencyCounter(max int, opts ...ConcurrencyOption) *ConcurrencyCounter {
	c := &ConcurrencyCounter{
		inFlight:      make(map[string]int),
		max:           max,
		safetyTimeout: 30 * time.Second,
		cleanupEvery:  5 * time.Minute,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *ConcurrencyCounter) Max() int { return c.max }

func (c *ConcurrencyCounter) Acquire(ip string) (func(), bool) {
	if c.max <= 0 {
		return func() {}, true
	}

	c.mu.Lock()
	if c.inFlight[ip] >= c.max {
		c.mu.Unlock()
		return nil, false
	}
	c.inFlight[ip]++
	c.mu.Unlock()

	var (
		once  sync.Once
		timer *time.Timer
	)
	if c.safetyTimeout > 0 {
		timer = time.AfterFunc(c.safetyTimeout, func() {
			once.Do(func() { c.decrement(ip) })
		})
	}
	release := func() {
		once.Do(func() {
			if timer != nil {
				timer.Stop()
			}
			c.decrement(ip)
		})
	}
	return release, true
}

func (c *ConcurrencyCounter) decrement(ip string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := c.inFlight[ip] - 1
	if n <= 0 {
		delete(c.inFlight, ip)
		return
	}
	c.inFlight[ip] = n
}

func (c *ConcurrencyCounter) InFlight(ip string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inFlight[ip]
}

// Sweep remove contadores não positivos. Idempotente.
func (c *ConcurrencyCounter) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for ip, n := range c.inFlight {
		if n <= 0 {
			delete(c.inFlight, ip)
			removed++
		}
	}
	return removed
}

func (c *ConcurrencyCounter) StartJanitor(ctx DoneContext) {
	startJanitor(ctx, c.cleanupEvery, func() { c.Sweep() })
}
