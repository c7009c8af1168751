package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"engiero/internal/auth"
	"engiero/internal/snapshot"
)

// RefreshFunc produces one snapshot or fails the cycle.
type RefreshFunc func(ctx context.Context) (*snapshot.Snapshot, error)

// Result describes one finished cycle
type Result struct {
	StartedAt time.Time
	Duration  time.Duration
	Snapshot  *snapshot.Snapshot
	Err       error
}

// Success reports whether the cycle produced a snapshot
func (r Result) Success() bool {
	return r.Err == nil && r.Snapshot != nil
}

// Listener is notified after every cycle
type Listener func(Result)

// Poller invokes a refresh function on a fixed interval. At most one cycle
// runs at a time; callers asking for a refresh while one is running share
// its result. The last good snapshot stays visible across failed cycles.
type Poller struct {
	refresh  RefreshFunc
	interval time.Duration
	logger   *slog.Logger
	stopChan chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	started  bool

	ctx     context.Context
	cancel  context.CancelFunc
	cycles  singleflight.Group
	running sync.WaitGroup

	mu          sync.RWMutex
	data        *snapshot.Snapshot
	lastErr     error
	lastSuccess bool
	lastAttempt time.Time
	failures    int
	listeners   map[int]Listener
	nextID      int
	onReauth    func(error)
}

// NewPoller creates a new poller
func NewPoller(refresh RefreshFunc, interval time.Duration, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Poller{
		refresh:   refresh,
		interval:  interval,
		logger:    logger,
		stopChan:  make(chan struct{}),
		done:      make(chan struct{}),
		ctx:       ctx,
		cancel:    cancel,
		listeners: make(map[int]Listener),
	}
}

// Start runs an immediate cycle and then one per interval until Stop.
// It blocks; run it in its own goroutine.
func (p *Poller) Start() {
	p.mu.Lock()
	p.started = true
	p.mu.Unlock()
	defer close(p.done)

	p.logger.Info("Poller started", "interval", p.interval.String())
	p.tick()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.tick()
		case <-p.stopChan:
			p.logger.Info("Poller stopped")
			return
		}
	}
}

// Stop cancels any in-flight cycle and waits for it and the loop to exit.
// No listener runs after Stop returns.
func (p *Poller) Stop() {
	p.stopOnce.Do(func() {
		p.mu.Lock()
		p.cancel()
		p.mu.Unlock()
		close(p.stopChan)
	})

	p.mu.RLock()
	started := p.started
	p.mu.RUnlock()
	if started {
		<-p.done
	}
	p.running.Wait()
}

// RefreshNow runs a cycle, or joins the one already running.
func (p *Poller) RefreshNow(ctx context.Context) (*snapshot.Snapshot, error) {
	ch := p.cycles.DoChan("cycle", func() (any, error) {
		return p.runCycle()
	})
	select {
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.(*snapshot.Snapshot), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *Poller) tick() {
	if _, err := p.RefreshNow(p.ctx); err != nil && !errors.Is(err, context.Canceled) {
		p.logger.Debug("Scheduled cycle failed", "error", err)
	}
}

func (p *Poller) runCycle() (*snapshot.Snapshot, error) {
	p.mu.Lock()
	if err := p.ctx.Err(); err != nil {
		p.mu.Unlock()
		return nil, err
	}
	p.running.Add(1)
	p.mu.Unlock()
	defer p.running.Done()

	start := time.Now()
	snap, err := p.refresh(p.ctx)
	if err == nil && snap == nil {
		err = errors.New("refresh returned no snapshot")
	}
	if err != nil && p.ctx.Err() != nil {
		p.logger.Info("Refresh cycle cancelled", "duration", time.Since(start).String())
		return nil, err
	}
	result := Result{StartedAt: start, Duration: time.Since(start), Snapshot: snap, Err: err}

	p.mu.Lock()
	p.lastAttempt = start
	if err != nil {
		p.lastErr = err
		p.lastSuccess = false
		p.failures++
	} else {
		p.data = snap
		p.lastErr = nil
		p.lastSuccess = true
		p.failures = 0
	}
	failures := p.failures
	listeners := make([]Listener, 0, len(p.listeners))
	for _, l := range p.listeners {
		listeners = append(listeners, l)
	}
	onReauth := p.onReauth
	p.mu.Unlock()

	if err != nil {
		p.logger.Warn("Refresh cycle failed",
			"error", err,
			"consecutive_failures", failures,
			"duration", result.Duration.String())
		if errors.Is(err, auth.ErrReauthRequired) && onReauth != nil {
			onReauth(err)
		}
	} else {
		p.logger.Info("Refresh cycle completed",
			"duration", result.Duration.String(),
			"section_errors", len(snap.Errors))
	}

	for _, l := range listeners {
		l(result)
	}
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// AddListener registers l and returns a function that removes it.
func (p *Poller) AddListener(l Listener) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextID
	p.nextID++
	p.listeners[id] = l
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.listeners, id)
	}
}

// OnReauthRequired registers the handler for unrecoverable auth failures.
func (p *Poller) OnReauthRequired(fn func(error)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onReauth = fn
}

// Seed publishes a previously stored snapshot without marking success.
func (p *Poller) Seed(s *snapshot.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.data == nil {
		p.data = s
	}
}

// Data returns the last good snapshot, or nil before the first one.
func (p *Poller) Data() *snapshot.Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.data
}

// LastUpdateSuccess reports whether the most recent cycle succeeded.
func (p *Poller) LastUpdateSuccess() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastSuccess
}

// LastError returns the error of the most recent cycle
func (p *Poller) LastError() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastErr
}

// LastAttempt returns when the most recent cycle started
func (p *Poller) LastAttempt() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastAttempt
}

// ConsecutiveFailures counts failed cycles since the last success
func (p *Poller) ConsecutiveFailures() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.failures
}

// Interval returns the polling interval
func (p *Poller) Interval() time.Duration {
	return p.interval
}
