package market

import (
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"quicktrade-sim-go/internal/models"
)

var (
	// ErrEmptyCatalog is returned when the simulator is initialized without instruments.
	ErrEmptyCatalog = errors.New("market: no instruments to simulate")
	// ErrAlreadyRunning is returned when Initialize is called on a running simulator.
	ErrAlreadyRunning = errors.New("market: simulator already running")
)

// DefaultTickInterval is the period between two ticks.
const DefaultTickInterval = 1500 * time.Millisecond

// State is the simulator lifecycle state.
type State string

const (
	StateStopped State = "STOPPED"
	StateRunning State = "RUNNING"
)

// Subscriber receives the full quote snapshot of a tick.
type Subscriber func(quotes []Quote)

// Simulator owns the live instrument set, advances every price on a fixed
// period and republishes the whole quote set to its subscribers.
type Simulator struct {
	logger   *zap.Logger
	gen      Generator
	interval time.Duration
	now      func() time.Time

	mu          sync.RWMutex
	state       State
	instruments []models.Instrument
	index       map[string]int
	quotes      []Quote
	ticks       uint64
	stop        chan struct{}

	// tickMu keeps ticks from overlapping.
	tickMu sync.Mutex

	subMu  sync.Mutex
	subs   map[uint64]*subscription
	nextID uint64
}

// subscription serialises deliveries to one subscriber and drops a snapshot
// that is not newer than one it already received.
type subscription struct {
	id uint64
	fn Subscriber

	mu        sync.Mutex
	delivered bool
	lastTick  uint64
}

// NewSimulator creates a stopped simulator.
func NewSimulator(logger *zap.Logger, gen Generator, interval time.Duration) *Simulator {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	return &Simulator{
		logger:   logger.Named("market"),
		gen:      gen,
		interval: interval,
		now:      time.Now,
		state:    StateStopped,
		subs:     make(map[uint64]*subscription),
	}
}

// Initialize seeds one quote per instrument at its current price and starts the tick loop.
func (s *Simulator) Initialize(instruments []models.Instrument) error {
	if len(instruments) == 0 {
		return ErrEmptyCatalog
	}

	s.mu.Lock()
	if s.state == StateRunning {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}

	now := s.now()
	s.instruments = make([]models.Instrument, len(instruments))
	copy(s.instruments, instruments)
	s.index = make(map[string]int, len(instruments))
	s.quotes = make([]Quote, len(instruments))
	for i, inst := range s.instruments {
		start := inst.StartPrice()
		s.instruments[i].CurrentPrice = start
		s.index[inst.Symbol] = i
		s.quotes[i] = newQuote(inst, start, now)
	}
	s.state = StateRunning
	s.stop = make(chan struct{})
	stop := s.stop
	s.mu.Unlock()

	s.logger.Info("Market simulation started",
		zap.Int("instruments", len(instruments)),
		zap.Duration("interval", s.interval))

	go s.run(stop)
	return nil
}

func (s *Simulator) run(stop <-chan struct{}) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.Step()
		}
	}
}

// Step advances every instrument by one tick and publishes the new snapshot.
// It does nothing while the simulator is stopped.
func (s *Simulator) Step() {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	s.mu.Lock()
	if s.state != StateRunning {
		s.mu.Unlock()
		return
	}
	now := s.now()
	for i := range s.quotes {
		inst := &s.instruments[i]
		next := s.gen.NextPrice(s.quotes[i].Last, inst.Volatility)
		s.quotes[i] = s.quotes[i].advance(next, now)
		inst.CurrentPrice = next
	}
	s.ticks++
	tick := s.ticks
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	s.publish(tick, snapshot)
}

// Stop halts the tick loop. Calling it again is a no-op.
func (s *Simulator) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateStopped {
		return
	}
	s.state = StateStopped
	close(s.stop)
	s.logger.Info("Market simulation stopped", zap.Uint64("ticks", s.ticks))
}

// Subscribe registers fn for every future tick. When quotes already exist fn
// receives the current snapshot before Subscribe returns. The returned function
// removes the subscription and may be called any number of times.
func (s *Simulator) Subscribe(fn Subscriber) (unsubscribe func()) {
	s.subMu.Lock()
	sub := &subscription{id: s.nextID, fn: fn}
	s.nextID++
	s.subs[sub.id] = sub
	s.subMu.Unlock()

	s.mu.RLock()
	tick := s.ticks
	snapshot := s.snapshotLocked()
	s.mu.RUnlock()
	if len(snapshot) > 0 {
		s.deliver(sub, tick, snapshot)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, sub.id)
			s.subMu.Unlock()
		})
	}
}

func (s *Simulator) publish(tick uint64, snapshot []Quote) {
	s.subMu.Lock()
	subs := make([]*subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		subs = append(subs, sub)
	}
	s.subMu.Unlock()
	sort.Slice(subs, func(i, j int) bool { return subs[i].id < subs[j].id })

	for _, sub := range subs {
		view := make([]Quote, len(snapshot))
		copy(view, snapshot)
		s.deliver(sub, tick, view)
	}
}

// deliver isolates a subscriber so its panic cannot abort the tick. A
// snapshot no newer than the last one delivered is skipped.
func (s *Simulator) deliver(sub *subscription, tick uint64, quotes []Quote) {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if sub.delivered && tick <= sub.lastTick {
		return
	}
	sub.delivered = true
	sub.lastTick = tick

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Quote subscriber panicked",
				zap.Uint64("subscriber", sub.id),
				zap.Any("panic", r))
		}
	}()
	sub.fn(quotes)
}

func (s *Simulator) snapshotLocked() []Quote {
	out := make([]Quote, len(s.quotes))
	copy(out, s.quotes)
	return out
}

// Snapshot returns the latest quotes in catalog order.
func (s *Simulator) Snapshot() []Quote {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// Quote returns the latest quote for symbol.
func (s *Simulator) Quote(symbol string) (Quote, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.index[symbol]
	if !ok {
		return Quote{}, false
	}
	return s.quotes[i], true
}

// Instruments returns the simulated instruments with their current prices.
func (s *Simulator) Instruments() []models.Instrument {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Instrument, len(s.instruments))
	copy(out, s.instruments)
	return out
}

// State returns the lifecycle state.
func (s *Simulator) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// TickCount returns the number of ticks applied since the first Initialize.
func (s *Simulator) TickCount() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ticks
}

// SubscriberCount returns the number of live subscriptions.
func (s *Simulator) SubscriberCount() int {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	return len(s.subs)
}
