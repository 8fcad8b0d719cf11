package arm

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// JointStateEvent is one poll result. Err is set when the poll failed.
type JointStateEvent struct {
	Joints    []JointState `json:"joints"`
	Timestamp time.Time    `json:"timestamp"`
	Err       error        `json:"-"`
}

// Poller periodically reads joint states and fans them out to subscribers.
type Poller struct {
	client   *Client
	interval time.Duration
	logger   *zap.Logger
	stopChan chan struct{}
	wg       sync.WaitGroup
	running  bool
	mu       sync.Mutex

	subMu  sync.RWMutex
	subs   map[int]chan JointStateEvent
	nextID int
	last   JointStateEvent
}

func NewPoller(client *Client, interval time.Duration, logger *zap.Logger) *Poller {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	return &Poller{
		client:   client,
		interval: interval,
		logger:   logger,
		subs:     make(map[int]chan JointStateEvent),
	}
}

// Start begins cyclic polling.
func (p *Poller) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}

	p.running = true
	p.stopChan = make(chan struct{})
	p.wg.Add(1)

	go p.pollLoop(p.stopChan)

	p.logger.Info("Poller started", zap.Duration("interval", p.interval))

	return nil
}

func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	close(p.stopChan)
	p.mu.Unlock()

	p.wg.Wait()

	p.mu.Lock()
	p.running = false
	p.mu.Unlock()

	p.logger.Info("Poller stopped")
}

func (p *Poller) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Subscribe returns a channel of poll results and a cancel func. Slow
// subscribers miss events rather than stall the poller.
func (p *Poller) Subscribe() (<-chan JointStateEvent, func()) {
	ch := make(chan JointStateEvent, 8)

	p.subMu.Lock()
	id := p.nextID
	p.nextID++
	p.subs[id] = ch
	p.subMu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			p.subMu.Lock()
			delete(p.subs, id)
			p.subMu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Last returns the most recent successful poll.
func (p *Poller) Last() JointStateEvent {
	p.subMu.RLock()
	defer p.subMu.RUnlock()
	return p.last
}

func (p *Poller) pollLoop(stop <-chan struct{}) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			p.poll()
		}
	}
}

func (p *Poller) poll() {
	ctx, cancel := context.WithTimeout(context.Background(), p.client.disp.Timeout())
	defer cancel()

	joints, err := p.client.JointStates(ctx)
	ev := JointStateEvent{Joints: joints, Timestamp: time.Now(), Err: err}
	if err != nil {
		p.logger.Warn("Poll failed", zap.Error(err))
	}
	p.publish(ev)
}

func (p *Poller) publish(ev JointStateEvent) {
	p.subMu.Lock()
	defer p.subMu.Unlock()

	if ev.Err == nil {
		p.last = ev
	}
	for _, ch := range p.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
