// Package sessionpool manages per-user Chrome sessions so that a scrape
// resuming via cursor reuses the same browser context (and therefore the
// same cookies, local storage, and scroll state) instead of starting cold.
// It is adapted from the object-pool pattern used for generic browser
// instance reuse, keyed by user_id instead of a free list.
package sessionpool

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/TDHINGRA16/Scrappy/internal/apperrors"
	"github.com/TDHINGRA16/Scrappy/internal/config"
	"github.com/TDHINGRA16/Scrappy/internal/metrics"
	"github.com/TDHINGRA16/Scrappy/pkg/useragent"
)

// ErrSessionBusy is returned when a caller tries to acquire a session that
// another goroutine is already using, so only one scrape runs per user at a
// time. The orchestrator wraps it as a PolicyError and fails that scrape.
var ErrSessionBusy = fmt.Errorf("sessionpool: session already in use")

// ErrPoolFull is returned, wrapped in a PolicyError, when admission control
// rejects a new session because the pool is still at capacity after an
// eager sweep.
var ErrPoolFull = fmt.Errorf("sessionpool: at capacity")

// Session wraps one user's Chrome allocator and tab context.
type Session struct {
	UserID    string
	userAgent string

	allocCtx    context.Context
	allocCancel context.CancelFunc
	tabCtx      context.Context
	tabCancel   context.CancelFunc

	createdAt  time.Time
	lastUsedAt time.Time
	inUse      int32
}

// Context returns the tab context actions should run against.
func (s *Session) Context() context.Context { return s.tabCtx }

// BrowserContext returns a context suitable as the parent for a new sibling
// tab (chromedp.NewContext(sess.BrowserContext())) in the same isolated
// per-user browser context, used by the extraction pipeline to open one
// fresh tab per card rather than reusing the user's primary tab.
func (s *Session) BrowserContext() context.Context { return s.tabCtx }

// UserAgent returns the user agent this session presents.
func (s *Session) UserAgent() string { return s.userAgent }

func (s *Session) idleFor(now time.Time) time.Duration { return now.Sub(s.lastUsedAt) }
func (s *Session) ageAt(now time.Time) time.Duration   { return now.Sub(s.createdAt) }

// Stats is a point-in-time snapshot of pool utilization.
type Stats struct {
	ActiveSessions int
	InUse          int
	Capacity       int
}

// Pool hands out one Session per user_id, recycling sessions that have gone
// idle or stale and enforcing a hard cap on concurrently open browsers.
type Pool struct {
	cfg    config.Config
	uaPool *useragent.Pool
	log    *zap.Logger
	mc     *metrics.Collector

	mu       sync.Mutex
	sessions map[string]*Session
	rng      *rand.Rand

	admission chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a Pool and starts its maintenance sweeper. mc may be nil.
func New(cfg config.Config, uaPool *useragent.Pool, log *zap.Logger, mc *metrics.Collector) *Pool {
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		cfg:       cfg,
		uaPool:    uaPool,
		log:       log,
		mc:        mc,
		sessions:  make(map[string]*Session),
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		admission: make(chan struct{}, cfg.PoolMaxSessions),
		ctx:       ctx,
		cancel:    cancel,
	}
	p.wg.Add(1)
	go p.maintenanceLoop()
	return p
}

// Acquire returns userID's existing session if one is idle and still fresh,
// otherwise creates a new one under the pool's admission cap. If the pool is
// at capacity it sweeps idle/aged sessions once and, if still full, fails
// immediately with ErrPoolFull instead of waiting for a slot.
func (p *Pool) Acquire(ctx context.Context, userID string) (*Session, error) {
	p.mu.Lock()
	if sess, ok := p.sessions[userID]; ok {
		if atomic.LoadInt32(&sess.inUse) == 1 {
			p.mu.Unlock()
			return nil, ErrSessionBusy
		}
		if !p.needsRecycle(sess) {
			atomic.StoreInt32(&sess.inUse, 1)
			sess.lastUsedAt = time.Now()
			p.mu.Unlock()
			if p.mc != nil {
				p.mc.ActiveSessions.Set(float64(p.activeCount()))
			}
			return sess, nil
		}
		delete(p.sessions, userID)
		p.mu.Unlock()
		p.destroySession(sess)
	} else {
		p.mu.Unlock()
	}

	select {
	case p.admission <- struct{}{}:
	default:
		// At capacity: run eager cleanup of idle/aged sessions before
		// admitting failure, the way the component design requires.
		p.sweep()
		select {
		case p.admission <- struct{}{}:
		default:
			return nil, apperrors.NewPolicy("sessionpool.Acquire", ErrPoolFull)
		}
	}

	sess, err := p.createSession(userID)
	if err != nil {
		<-p.admission
		return nil, fmt.Errorf("sessionpool: create session: %w", err)
	}
	atomic.StoreInt32(&sess.inUse, 1)

	p.mu.Lock()
	p.sessions[userID] = sess
	p.mu.Unlock()

	if p.mc != nil {
		p.mc.ActiveSessions.Set(float64(p.activeCount()))
	}
	return sess, nil
}

// Release marks userID's session idle again, available for the next
// Acquire or for the maintenance sweeper to reclaim once it goes stale.
func (p *Pool) Release(userID string) {
	p.mu.Lock()
	sess, ok := p.sessions[userID]
	p.mu.Unlock()
	if !ok {
		return
	}
	sess.lastUsedAt = time.Now()
	atomic.StoreInt32(&sess.inUse, 0)
}

// Reset clears cookies, cache, and local storage on userID's session without
// tearing down the browser process. It backs the reset-session endpoint and
// keeps the session open for the next query.
func (p *Pool) Reset(userID string) error {
	p.mu.Lock()
	sess, ok := p.sessions[userID]
	p.mu.Unlock()
	if !ok {
		return nil
	}

	ctx, cancel := context.WithTimeout(sess.allocCtx, 10*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); _ = network.ClearBrowserCookies().Do(ctx) }()
	go func() { defer wg.Done(); _ = network.ClearBrowserCache().Do(ctx) }()
	wg.Wait()

	var result interface{}
	_ = chromedp.Run(ctx, chromedp.Evaluate(`localStorage.clear(); sessionStorage.clear();`, &result))
	return nil
}

// Stats returns a snapshot of pool occupancy.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	inUse := 0
	for _, s := range p.sessions {
		if atomic.LoadInt32(&s.inUse) == 1 {
			inUse++
		}
	}
	return Stats{ActiveSessions: len(p.sessions), InUse: inUse, Capacity: p.cfg.PoolMaxSessions}
}

// Shutdown tears down every session and stops the sweeper.
func (p *Pool) Shutdown() {
	p.cancel()
	p.wg.Wait()

	p.mu.Lock()
	sessions := p.sessions
	p.sessions = make(map[string]*Session)
	p.mu.Unlock()

	for _, sess := range sessions {
		p.destroySession(sess)
	}
}

func (p *Pool) activeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sessions)
}

func (p *Pool) needsRecycle(sess *Session) bool {
	now := time.Now()
	return sess.idleFor(now) > p.cfg.IdleTimeout || sess.ageAt(now) > p.cfg.SessionMaxAge
}

func (p *Pool) createSession(userID string) (*Session, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", p.cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-background-timer-throttling", true),
		chromedp.Flag("disable-backgrounding-occluded-windows", true),
		chromedp.Flag("disable-renderer-backgrounding", true),
		chromedp.Flag("disable-features", "IsolateOrigins,site-per-process,TranslateUI"),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("no-default-browser-check", true),
		chromedp.Flag("disable-hang-monitor", true),
		chromedp.Flag("disable-prompt-on-repost", true),
		chromedp.Flag("disable-sync", true),
		chromedp.Flag("disable-extensions", true),
	)

	p.mu.Lock()
	ua := p.uaPool.Random()
	seed := p.rng.Int63()
	p.mu.Unlock()
	opts = append(opts, chromedp.UserAgent(ua))

	allocCtx, allocCancel := chromedp.NewExecAllocator(p.ctx, opts...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	script := stealthScript(rand.New(rand.NewSource(seed)))
	runCtx, runCancel := context.WithTimeout(tabCtx, p.cfg.BrowserTimeout)
	defer runCancel()
	err := chromedp.Run(runCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		_, err := page.AddScriptToEvaluateOnNewDocument(script).Do(ctx)
		return err
	}))
	if err != nil {
		tabCancel()
		allocCancel()
		return nil, err
	}

	now := time.Now()
	return &Session{
		UserID:      userID,
		userAgent:   ua,
		allocCtx:    allocCtx,
		allocCancel: allocCancel,
		tabCtx:      tabCtx,
		tabCancel:   tabCancel,
		createdAt:   now,
		lastUsedAt:  now,
	}, nil
}

func (p *Pool) destroySession(sess *Session) {
	if sess == nil {
		return
	}
	if sess.tabCancel != nil {
		sess.tabCancel()
	}
	if sess.allocCancel != nil {
		sess.allocCancel()
	}
	select {
	case <-p.admission:
	default:
	}
}

func (p *Pool) maintenanceLoop() {
	defer p.wg.Done()
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.sweep()
		}
	}
}

func (p *Pool) sweep() {
	p.mu.Lock()
	var stale []*Session
	for id, sess := range p.sessions {
		if atomic.LoadInt32(&sess.inUse) == 1 {
			continue
		}
		if p.needsRecycle(sess) {
			stale = append(stale, sess)
			delete(p.sessions, id)
		}
	}
	p.mu.Unlock()

	for _, sess := range stale {
		p.destroySession(sess)
		if p.log != nil {
			p.log.Info("recycled idle session", zap.String("user_id", sess.UserID))
		}
	}
}
