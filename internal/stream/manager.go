package stream

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/skillstream/skillstream/internal/bridge"
	"github.com/skillstream/skillstream/internal/config"
	"github.com/skillstream/skillstream/internal/ledger"
	"github.com/skillstream/skillstream/internal/observability"
	"github.com/skillstream/skillstream/model"
)

// Subscriber is one live connection's view of a task stream. Messages
// arrive on the channel returned by Messages; the channel closes when the
// subscriber is detached or the task stream winds down.
type Subscriber struct {
	taskID string
	ch     chan Message
	once   sync.Once
}

// Messages returns the frames to push to the client.
func (s *Subscriber) Messages() <-chan Message { return s.ch }

// TaskID identifies the watched task.
func (s *Subscriber) TaskID() string { return s.taskID }

func (s *Subscriber) close() {
	s.once.Do(func() { close(s.ch) })
}

// hub is the shared per-task state: the subscriber set plus the lifecycle
// of the one broker subscription and one poll loop serving them all.
type hub struct {
	taskID string
	cancel context.CancelFunc

	mu           sync.Mutex
	subs         map[*Subscriber]struct{}
	lastProgress int
	lastStatus   model.TaskStatus
}

// Manager owns every live subscriber of one serving process and enforces
// the global and per-task connection caps. Multi-instance deployments each
// run their own Manager; cross-instance state lives only in the ledger and
// the broker.
type Manager struct {
	broker  bridge.Broker
	store   ledger.Store
	logger  *zap.Logger
	metrics *observability.Metrics
	cfg     config.StreamConfig

	mu     sync.Mutex
	hubs   map[string]*hub
	total  int
	closed bool
}

// NewManager wires a fan-out manager.
func NewManager(broker bridge.Broker, store ledger.Store, logger *zap.Logger, metrics *observability.Metrics, cfg config.StreamConfig) *Manager {
	return &Manager{
		broker:  broker,
		store:   store,
		logger:  logger,
		metrics: metrics,
		cfg:     cfg,
		hubs:    make(map[string]*hub),
	}
}

// Attach registers a new subscriber for the task. The first subscriber of
// a task starts the shared broker subscription and ledger poll loop. The
// caller receives the current ledger snapshot as its first frame, so late
// subscribers can reconstruct state before live events arrive.
func (m *Manager) Attach(ctx context.Context, taskID string) (*Subscriber, error) {
	task, err := m.store.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, model.NewConnectionLimitError()
	}
	if m.total >= m.cfg.MaxConnections {
		m.mu.Unlock()
		if m.metrics != nil {
			m.metrics.RecordWSRejected("global_cap")
		}
		return nil, model.NewConnectionLimitError()
	}

	h, ok := m.hubs[taskID]
	if ok && h.count() >= m.cfg.MaxConnectionsPerTask {
		m.mu.Unlock()
		if m.metrics != nil {
			m.metrics.RecordWSRejected("per_task_cap")
		}
		return nil, model.NewTaskConnectionLimitError(taskID)
	}
	if !ok {
		h = m.startHub(taskID)
		m.hubs[taskID] = h
	}

	sub := &Subscriber{
		taskID: taskID,
		ch:     make(chan Message, m.sendBuffer()),
	}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	m.total++
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.RecordWSAccepted()
	}

	// Baseline snapshot so the client starts from a known state.
	sub.ch <- ProgressMessage(task, time.Now())
	if task.Status.Terminal() {
		sub.ch <- CompletionMessage(task)
	}

	m.logger.Debug("stream subscriber attached", zap.String("task_id", taskID))
	return sub, nil
}

// Detach removes a subscriber. The last subscriber of a task tears the
// shared subscription and poll loop down.
func (m *Manager) Detach(sub *Subscriber) {
	if sub == nil {
		return
	}

	m.mu.Lock()
	h, ok := m.hubs[sub.taskID]
	if !ok {
		m.mu.Unlock()
		sub.close()
		return
	}

	h.mu.Lock()
	_, present := h.subs[sub]
	if present {
		delete(h.subs, sub)
		m.total--
	}
	empty := len(h.subs) == 0
	h.mu.Unlock()

	if empty {
		delete(m.hubs, sub.taskID)
		h.cancel()
	}
	m.mu.Unlock()

	sub.close()
	if present && m.metrics != nil {
		m.metrics.RecordWSClosed()
	}
	m.logger.Debug("stream subscriber detached", zap.String("task_id", sub.taskID))
}

// Broadcast pushes a frame to every subscriber of the task. A subscriber
// whose buffer is full is dropped on the spot; one stuck client never
// blocks delivery to the rest.
func (m *Manager) Broadcast(taskID string, msg Message) {
	m.mu.Lock()
	h, ok := m.hubs[taskID]
	m.mu.Unlock()
	if !ok {
		return
	}
	m.broadcast(h, msg)
}

func (m *Manager) broadcast(h *hub, msg Message) {
	var stuck []*Subscriber

	h.mu.Lock()
	for sub := range h.subs {
		select {
		case sub.ch <- msg:
		default:
			stuck = append(stuck, sub)
		}
	}
	h.mu.Unlock()

	if m.metrics != nil {
		m.metrics.RecordBroadcast(msg.Kind)
	}
	for _, sub := range stuck {
		if m.metrics != nil {
			m.metrics.RecordBroadcastDrop()
		}
		m.logger.Warn("dropping stuck stream subscriber", zap.String("task_id", h.taskID))
		m.Detach(sub)
	}
}

// Shutdown closes every subscriber and stops all hubs.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	m.closed = true
	hubs := make([]*hub, 0, len(m.hubs))
	for _, h := range m.hubs {
		hubs = append(hubs, h)
	}
	m.hubs = make(map[string]*hub)
	m.total = 0
	m.mu.Unlock()

	for _, h := range hubs {
		h.cancel()
		h.mu.Lock()
		for sub := range h.subs {
			sub.close()
		}
		h.subs = make(map[*Subscriber]struct{})
		h.mu.Unlock()
	}
}

// ActiveConnections reports the number of live subscribers.
func (m *Manager) ActiveConnections() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.total
}

// sendBuffer floors the configured buffer at two slots, enough for the
// two-frame terminal baseline sent before the write pump starts.
func (m *Manager) sendBuffer() int {
	if m.cfg.SendBuffer >= 2 {
		return m.cfg.SendBuffer
	}
	return 16
}

func (m *Manager) pollInterval() time.Duration {
	if m.cfg.PollInterval > 0 {
		return m.cfg.PollInterval
	}
	return time.Second
}

// startHub launches the shared bridge listener and poll loop for a task.
// Caller holds m.mu.
func (m *Manager) startHub(taskID string) *hub {
	ctx, cancel := context.WithCancel(context.Background())
	h := &hub{
		taskID:       taskID,
		cancel:       cancel,
		subs:         make(map[*Subscriber]struct{}),
		lastProgress: -1,
	}

	go m.listenLoop(ctx, h)
	go m.pollLoop(ctx, h)
	if m.metrics != nil {
		m.metrics.PollFallbacksActive.Inc()
	}
	return h
}

func (h *hub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// listenLoop forwards bridge events to the hub's subscribers for as long
// as the hub lives. Subscribe failures degrade to polling only.
func (m *Manager) listenLoop(ctx context.Context, h *hub) {
	err := bridge.ListenTask(ctx, m.broker, m.logger, h.taskID, func(evt model.StreamEvent) {
		m.broadcast(h, EventMessage(evt))
	})
	if err != nil && ctx.Err() == nil {
		m.logger.Warn("bridge subscription lost, polling only",
			zap.String("task_id", h.taskID), zap.Error(err))
	}
}

// pollLoop re-reads the ledger on a fixed interval and synthesizes
// progress updates whenever the stored (progress, status) pair moved, so a
// lost broker message degrades freshness instead of correctness. On a
// terminal status it broadcasts completion, waits out the grace delay and
// winds the hub down.
func (m *Manager) pollLoop(ctx context.Context, h *hub) {
	defer func() {
		if m.metrics != nil {
			m.metrics.PollFallbacksActive.Dec()
		}
	}()

	ticker := time.NewTicker(m.pollInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		task, err := m.store.Get(ctx, h.taskID)
		if err != nil {
			if ctx.Err() == nil {
				m.logger.Warn("stream poll read failed",
					zap.String("task_id", h.taskID), zap.Error(err))
			}
			continue
		}

		h.mu.Lock()
		changed := task.Progress != h.lastProgress || task.Status != h.lastStatus
		h.lastProgress = task.Progress
		h.lastStatus = task.Status
		h.mu.Unlock()

		if changed {
			m.broadcast(h, ProgressMessage(task, time.Now()))
		}

		if task.Status.Terminal() {
			m.broadcast(h, CompletionMessage(task))
			select {
			case <-time.After(m.cfg.GraceDelay):
			case <-ctx.Done():
			}
			m.closeTask(h.taskID)
			return
		}
	}
}

// closeTask tears a finished task's hub down and closes its subscribers.
func (m *Manager) closeTask(taskID string) {
	m.mu.Lock()
	h, ok := m.hubs[taskID]
	if ok {
		delete(m.hubs, taskID)
	}
	m.mu.Unlock()
	if !ok {
		return
	}

	h.cancel()
	h.mu.Lock()
	subs := make([]*Subscriber, 0, len(h.subs))
	for sub := range h.subs {
		subs = append(subs, sub)
	}
	h.subs = make(map[*Subscriber]struct{})
	h.mu.Unlock()

	m.mu.Lock()
	m.total -= len(subs)
	m.mu.Unlock()

	for _, sub := range subs {
		sub.close()
		if m.metrics != nil {
			m.metrics.RecordWSClosed()
		}
	}
}
