// Package useragent supplies the rotating user-agent pool assigned to each
// browser session context.
package useragent

import (
	"math/rand"
	"sync"
	"time"
)

// defaultAgents is used whenever the operator hasn't supplied USER_AGENTS.
var defaultAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.2 Safari/605.1.15",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:121.0) Gecko/20100101 Firefox/121.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10.15; rv:121.0) Gecko/20100101 Firefox/121.0",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36 Edg/120.0.0.0",
	"Mozilla/5.0 (iPhone; CPU iPhone OS 17_2_1 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.2 Mobile/15E148 Safari/604.1",
	"Mozilla/5.0 (Linux; Android 14; SM-S918B) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.6099.144 Mobile Safari/537.36",
	"Mozilla/5.0 (iPad; CPU OS 17_2_1 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.2 Mobile/15E148 Safari/604.1",
}

// Pool is a rotating set of user-agent strings, seeded from config.
type Pool struct {
	mu     sync.Mutex
	rng    *rand.Rand
	agents []string
}

// NewPool builds a Pool from agents, falling back to the built-in default
// list when agents is empty (USER_AGENTS unset).
func NewPool(agents []string) *Pool {
	if len(agents) == 0 {
		agents = defaultAgents
	}
	return &Pool{
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		agents: agents,
	}
}

// Random returns a random entry, used when assigning a fresh context to a user.
func (p *Pool) Random() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.agents[p.rng.Intn(len(p.agents))]
}

// Get returns the i'th entry, wrapping around — useful for round-robin tests.
func (p *Pool) Get(i int) string {
	return p.agents[i%len(p.agents)]
}

var defaultPool = NewPool(nil)

// Random returns a random user agent from the built-in default pool.
func Random() string { return defaultPool.Random() }

// Get returns the i'th user agent from the built-in default pool.
func Get(i int) string { return defaultPool.Get(i) }
