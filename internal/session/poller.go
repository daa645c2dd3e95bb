package session

import (
	"context"
	"sync"
	"time"

	"studyroom/internal/models"
)

// Poller is the degraded-mode substitute for a realtime subscription: it
// re-reads the latest history page on a bounded interval and hands new
// messages to the same sink the live stream would. Downstream id-based
// dedup makes redundant fetches harmless.
type Poller struct {
	log      Log
	roomID   uint
	userID   uint
	interval time.Duration
	sink     func(*models.Message)

	stopOnce sync.Once
	stopCh   chan struct{}

	mu        sync.Mutex
	maxSeenID uint
	started   bool
}

// NewPoller creates a poller; call Start to begin fetching.
func NewPoller(log Log, roomID, userID uint, interval time.Duration, sink func(*models.Message)) *Poller {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	return &Poller{
		log:      log,
		roomID:   roomID,
		userID:   userID,
		interval: interval,
		sink:     sink,
		stopCh:   make(chan struct{}),
	}
}

// Start launches the poll loop. Calling Start twice is a no-op.
func (p *Poller) Start() {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	go p.loop()
}

// Stop halts the loop. Idempotent.
func (p *Poller) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
}

func (p *Poller) loop() {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.pollOnce()
	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.pollOnce()
		}
	}
}

func (p *Poller) pollOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), p.interval)
	defer cancel()

	page, err := p.log.Page(ctx, p.roomID, p.userID, nil, defaultPageSize)
	if err != nil {
		return
	}

	p.mu.Lock()
	floor := p.maxSeenID
	p.mu.Unlock()

	var newMax uint
	for _, msg := range page {
		if msg.ID > newMax {
			newMax = msg.ID
		}
		if msg.ID <= floor {
			continue
		}
		p.sink(msg)
	}

	if newMax > floor {
		p.mu.Lock()
		if newMax > p.maxSeenID {
			p.maxSeenID = newMax
		}
		p.mu.Unlock()
	}
}
