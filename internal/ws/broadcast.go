package ws

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// SubscriberSource resolves broadcast targets.
type SubscriberSource interface {
	SubscribersOf(communityID string) []string
}

// ConnectionSource resolves a user's live connections.
type ConnectionSource interface {
	ConnectionsOf(userID string) []*Connection
}

// Report summarizes one publish.
type Report struct {
	SubscribersTargeted  int `json:"subscribersTargeted"`
	ConnectionsAttempted int `json:"connectionsAttempted"`
	ConnectionsSucceeded int `json:"connectionsSucceeded"`
	ConnectionsFailed    int `json:"connectionsFailed"`
}

// BroadcastConfig tunes the fan-out.
type BroadcastConfig struct {
	// SendTimeout bounds how long a single connection may block a delivery
	SendTimeout time.Duration
	// Concurrency caps the number of in-flight deliveries of one publish
	Concurrency int
	// QueueSize is the number of publishes that may wait in one community's lane
	QueueSize int
	// LaneIdleTimeout is how long an empty lane is kept before its worker exits
	LaneIdleTimeout time.Duration
}

func DefaultBroadcastConfig() BroadcastConfig {
	return BroadcastConfig{
		SendTimeout:     5 * time.Second,
		Concurrency:     64,
		QueueSize:       1024,
		LaneIdleTimeout: time.Minute,
	}
}

type publishRequest struct {
	communityID string
	event       EventName
	frame       []byte
	reply       chan Report
}

// lane is the FIFO of pending publishes for one community. refs counts
// publishers holding the lane, so an idle worker never retires a lane that
// is about to receive a request.
type lane struct {
	communityID string
	requests    chan publishRequest
	refs        int
}

// Broadcaster publishes events to every live connection of every subscriber
// of a community.
//
// Each community has its own lane served by one worker, so publishes to a
// community are fanned out in arrival order and each fan-out completes
// before the next one of that community begins. Together with the FIFO
// queue of each connection, this keeps per-connection delivery in publish
// order. Lanes are independent: a slow subscriber of one community never
// delays another community. Delivery is best-effort: failures are logged and
// counted, never retried.
type Broadcaster struct {
	subscribers SubscriberSource
	connections ConnectionSource
	cfg         BroadcastConfig
	metrics     *BroadcastMetrics

	mu      sync.Mutex
	lanes   map[string]*lane
	running bool
	workers sync.WaitGroup
	stopped chan struct{}

	logger *slog.Logger
}

func NewBroadcaster(subscribers SubscriberSource, connections ConnectionSource, cfg BroadcastConfig, metrics *BroadcastMetrics, logger *slog.Logger) *Broadcaster {
	d := DefaultBroadcastConfig()
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = d.SendTimeout
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = d.Concurrency
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = d.QueueSize
	}
	if cfg.LaneIdleTimeout <= 0 {
		cfg.LaneIdleTimeout = d.LaneIdleTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		subscribers: subscribers,
		connections: connections,
		cfg:         cfg,
		metrics:     metrics,
		lanes:       make(map[string]*lane),
		stopped:     make(chan struct{}),
		logger:      logger,
	}
}

// Run serves community lanes until ctx is cancelled, then waits for the
// lane workers to exit. It must be called once.
func (b *Broadcaster) Run(ctx context.Context) {
	b.logger.Info("Broadcaster started")

	b.mu.Lock()
	b.running = true
	for _, l := range b.lanes {
		b.startWorkerLocked(l)
	}
	b.mu.Unlock()

	<-ctx.Done()
	b.logger.Info("Broadcaster shutting down")

	b.mu.Lock()
	b.running = false
	close(b.stopped)
	b.mu.Unlock()
	b.workers.Wait()
}

// Publish broadcasts ev to communityID and waits for the fan-out report.
// Only encoding failures and ctx cancellation are returned as errors.
func (b *Broadcaster) Publish(ctx context.Context, communityID string, ev Event) (Report, error) {
	frame, err := Encode(ev)
	if err != nil {
		return Report{}, err
	}

	req := publishRequest{
		communityID: communityID,
		event:       ev.EventName(),
		frame:       frame,
		reply:       make(chan Report, 1),
	}
	if b.isStopped() {
		return Report{}, ErrPublisherStopped
	}

	l := b.acquire(communityID)
	select {
	case l.requests <- req:
	case <-b.stopped:
		err = ErrPublisherStopped
	case <-ctx.Done():
		err = ctx.Err()
	}
	b.release(l)
	if err != nil {
		return Report{}, err
	}

	select {
	case report := <-req.reply:
		return report, nil
	case <-b.stopped:
		return Report{}, ErrPublisherStopped
	case <-ctx.Done():
		return Report{}, ctx.Err()
	}
}

// PublishAsync queues ev for broadcast without waiting for delivery. When
// the community's lane is full the event is dropped and logged.
func (b *Broadcaster) PublishAsync(communityID string, ev Event) {
	frame, err := Encode(ev)
	if err != nil {
		b.logger.Error("Failed to encode broadcast event", "communityID", communityID, "error", err)
		return
	}
	if b.isStopped() {
		b.logger.Warn("Broadcaster stopped, event dropped", "communityID", communityID, "event", ev.EventName())
		return
	}

	l := b.acquire(communityID)
	defer b.release(l)

	select {
	case l.requests <- publishRequest{communityID: communityID, event: ev.EventName(), frame: frame}:
	case <-b.stopped:
		b.logger.Warn("Broadcaster stopped, event dropped", "communityID", communityID, "event", ev.EventName())
	default:
		b.logger.Warn("Broadcast queue full, event dropped", "communityID", communityID, "event", ev.EventName())
		if b.metrics != nil {
			b.metrics.RecordDropped()
		}
	}
}

// acquire returns the lane of communityID, creating it on first use.
func (b *Broadcaster) acquire(communityID string) *lane {
	b.mu.Lock()
	defer b.mu.Unlock()

	l, ok := b.lanes[communityID]
	if !ok {
		l = &lane{communityID: communityID, requests: make(chan publishRequest, b.cfg.QueueSize)}
		b.lanes[communityID] = l
		if b.running {
			b.startWorkerLocked(l)
		}
	}
	l.refs++
	return l
}

func (b *Broadcaster) release(l *lane) {
	b.mu.Lock()
	l.refs--
	b.mu.Unlock()
}

func (b *Broadcaster) startWorkerLocked(l *lane) {
	b.workers.Add(1)
	go b.serveLane(l)
}

// serveLane delivers the lane's publishes one at a time. The worker retires
// the lane after LaneIdleTimeout without traffic.
func (b *Broadcaster) serveLane(l *lane) {
	defer b.workers.Done()
	idle := time.NewTimer(b.cfg.LaneIdleTimeout)
	defer idle.Stop()

	for {
		select {
		case req := <-l.requests:
			report := b.deliver(req)
			if req.reply != nil {
				req.reply <- report
			}
			idle.Reset(b.cfg.LaneIdleTimeout)

		case <-idle.C:
			b.mu.Lock()
			if l.refs == 0 && len(l.requests) == 0 {
				delete(b.lanes, l.communityID)
				b.mu.Unlock()
				return
			}
			b.mu.Unlock()
			idle.Reset(b.cfg.LaneIdleTimeout)

		case <-b.stopped:
			return
		}
	}
}

func (b *Broadcaster) isStopped() bool {
	select {
	case <-b.stopped:
		return true
	default:
		return false
	}
}

// laneCount returns the number of communities with a live lane.
func (b *Broadcaster) laneCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.lanes)
}

func (b *Broadcaster) deliver(req publishRequest) Report {
	start := time.Now()
	subscribers := b.subscribers.SubscribersOf(req.communityID)
	report := Report{SubscribersTargeted: len(subscribers)}

	if len(subscribers) == 0 {
		b.logger.Debug("No subscribers for community", "communityID", req.communityID, "event", req.event)
		b.record(req, report, start)
		return report
	}

	var succeeded, failed atomic.Int64
	g := new(errgroup.Group)
	g.SetLimit(b.cfg.Concurrency)

	for _, userID := range subscribers {
		for _, conn := range b.connections.ConnectionsOf(userID) {
			report.ConnectionsAttempted++
			conn := conn
			g.Go(func() error {
				if err := b.sendOne(conn, req); err != nil {
					failed.Add(1)
					b.logger.Warn("Delivery failed", "error", &DeliveryError{
						ConnectionID: conn.ID(),
						UserID:       conn.UserID(),
						CommunityID:  req.communityID,
						Event:        req.event,
						Err:          err,
					})
					return nil
				}
				succeeded.Add(1)
				return nil
			})
		}
	}
	_ = g.Wait()

	report.ConnectionsSucceeded = int(succeeded.Load())
	report.ConnectionsFailed = int(failed.Load())
	b.record(req, report, start)
	b.logger.Debug("Broadcast complete",
		"communityID", req.communityID,
		"event", req.event,
		"subscribers", report.SubscribersTargeted,
		"succeeded", report.ConnectionsSucceeded,
		"failed", report.ConnectionsFailed,
	)
	return report
}

func (b *Broadcaster) sendOne(conn *Connection, req publishRequest) error {
	ctx, cancel := context.WithTimeout(context.Background(), b.cfg.SendTimeout)
	defer cancel()
	return conn.Enqueue(ctx, req.frame)
}

func (b *Broadcaster) record(req publishRequest, report Report, start time.Time) {
	if b.metrics != nil {
		b.metrics.RecordBroadcast(req.communityID, report, len(req.frame), time.Since(start))
	}
}
