package connectivity

import (
	"context"
	"log"
	"sync"
	"time"

	"fieldsync-agent/internal/model"
	"fieldsync-agent/internal/store"
)

// Prober checks end-to-end reachability of the backend.
type Prober interface {
	Probe(ctx context.Context) error
}

// ReachabilitySource reads the device network snapshot.
type ReachabilitySource interface {
	Reachability(ctx context.Context) (model.Reachability, error)
}

// LocationSource reads location service state and the tracking context.
type LocationSource interface {
	LocationServices(ctx context.Context) (model.LocationServices, error)
	TrackingActive(ctx context.Context) bool
	Session(ctx context.Context) (*model.SessionUser, error)
}

// Drainer flushes the pending queues.
type Drainer interface {
	DrainAll(ctx context.Context) (*model.SyncResult, error)
}

// GPSReporter forwards a GPS-disabled episode to the backend.
type GPSReporter interface {
	ReportGPSDisabled(ctx context.Context, user model.SessionUser, at time.Time)
}

// Config holds the monitor timing.
type Config struct {
	Interval         time.Duration
	GPSInterval      time.Duration
	SettleDelay      time.Duration
	OfflineThreshold int

	// Now overrides the clock in tests.
	Now func() time.Time
}

// Deps are the monitor's collaborators. Store, Reachability, Location and
// Reporter are optional.
type Deps struct {
	Prober       Prober
	Reachability ReachabilitySource
	Location     LocationSource
	Reporter     GPSReporter
	Store        store.Store
}

// Monitor decides whether the backend is reachable and triggers a drain
// on every offline to online transition.
type Monitor struct {
	cfg  Config
	deps Deps

	mu            sync.Mutex
	state         model.ConnectivityState
	gpsAlertShown bool
	drainer       Drainer
	settleTimer   *time.Timer

	subsMu sync.RWMutex
	subs   map[int]func(model.Event)
	nextID int

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	started  bool
	stopOnce sync.Once
}

// NewMonitor creates a monitor. The initial state is online.
func NewMonitor(cfg Config, deps Deps) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.GPSInterval <= 0 {
		cfg.GPSInterval = 20 * time.Second
	}
	if cfg.SettleDelay < 0 {
		cfg.SettleDelay = 0
	}
	if cfg.OfflineThreshold <= 0 {
		cfg.OfflineThreshold = 2
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Monitor{
		cfg:  cfg,
		deps: deps,
		state: model.ConnectivityState{
			IsOnline:               true,
			LastOnlineTransitionAt: cfg.Now(),
		},
		subs:   make(map[int]func(model.Event)),
		ctx:    ctx,
		cancel: cancel,
	}
}

// SetDrainer wires the sync engine.
func (m *Monitor) SetDrainer(d Drainer) {
	m.mu.Lock()
	m.drainer = d
	m.mu.Unlock()
}

// Restore loads the last persisted state, if any.
func (m *Monitor) Restore(ctx context.Context) {
	if m.deps.Store == nil {
		return
	}
	var snap model.ConnectivityState
	found, err := store.GetJSON(ctx, m.deps.Store, store.KeyConnectivitySnapshot, &snap)
	if err != nil {
		log.Printf("[Connectivity] Failed to restore snapshot: %v", err)
		return
	}
	if !found {
		return
	}

	m.mu.Lock()
	m.state = snap
	m.mu.Unlock()
	log.Printf("[Connectivity] Restored state online=%v failures=%d", snap.IsOnline, snap.ConsecutiveFailureCount)
}

// Start restores state, runs one check and starts the tickers.
// Cancelling ctx stops the monitor; Stop still waits for in-flight work.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.mu.Unlock()

	context.AfterFunc(ctx, m.cancel)
	m.Restore(ctx)

	log.Printf("[Connectivity] Started - Interval: %v, GPS interval: %v", m.cfg.Interval, m.cfg.GPSInterval)

	m.wg.Add(1)
	go m.run()
}

func (m *Monitor) run() {
	defer m.wg.Done()

	m.Tick(m.ctx)
	m.CheckGPS(m.ctx)

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()
	gpsTicker := time.NewTicker(m.cfg.GPSInterval)
	defer gpsTicker.Stop()

	for {
		select {
		case <-ticker.C:
			m.Tick(m.ctx)
		case <-gpsTicker.C:
			m.CheckGPS(m.ctx)
		case <-m.ctx.Done():
			log.Printf("[Connectivity] Stopped")
			return
		}
	}
}

// Stop cancels timers and waits for in-flight work.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() {
		m.cancel()

		m.mu.Lock()
		if m.settleTimer != nil && m.settleTimer.Stop() {
			m.wg.Done()
		}
		m.mu.Unlock()

		m.wg.Wait()
	})
}

// Tick runs one periodic check. A definite device-level disconnect
// goes offline immediately; otherwise the probe decides.
func (m *Monitor) Tick(ctx context.Context) bool {
	if m.deps.Reachability != nil {
		// An unreadable signal leaves the decision to the probe.
		if r, err := m.deps.Reachability.Reachability(ctx); err == nil && !r.Online() {
			m.goOffline("device reports no network")
			return false
		}
	}
	return m.Probe(ctx)
}

// Probe performs one backend probe and applies the debounce rules.
func (m *Monitor) Probe(ctx context.Context) bool {
	if m.deps.Prober == nil {
		return m.IsOnline()
	}

	if err := m.deps.Prober.Probe(ctx); err != nil {
		log.Printf("[Connectivity] Probe failed: %v", err)

		m.mu.Lock()
		m.state.ConsecutiveFailureCount++
		failures := m.state.ConsecutiveFailureCount
		online := m.state.IsOnline
		m.mu.Unlock()

		if online && failures >= m.cfg.OfflineThreshold {
			m.goOffline("probe failed")
			return false
		}
		return online
	}

	m.goOnline()
	return true
}

func (m *Monitor) goOffline(reason string) {
	m.mu.Lock()
	if !m.state.IsOnline {
		m.mu.Unlock()
		return
	}
	m.state.IsOnline = false
	snap := m.state
	m.mu.Unlock()

	log.Printf("[Connectivity] Offline (%s)", reason)
	m.persist(snap)
	m.emit(model.Event{
		Type:         model.EventOffline,
		At:           m.cfg.Now(),
		IsOnline:     false,
		LastOnlineAt: snap.LastOnlineTransitionAt,
	})
}

func (m *Monitor) goOnline() {
	now := m.cfg.Now()

	m.mu.Lock()
	m.state.ConsecutiveFailureCount = 0
	if m.state.IsOnline {
		m.mu.Unlock()
		return
	}
	m.state.IsOnline = true
	m.state.LastOnlineTransitionAt = now
	snap := m.state
	m.scheduleDrainLocked()
	m.mu.Unlock()

	log.Printf("[Connectivity] Online")
	m.persist(snap)
	m.emit(model.Event{
		Type:         model.EventOnline,
		At:           now,
		IsOnline:     true,
		LastOnlineAt: now,
	})
}

// scheduleDrainLocked arms the settle timer. Caller holds mu.
func (m *Monitor) scheduleDrainLocked() {
	if m.ctx.Err() != nil {
		return
	}
	if m.settleTimer != nil && m.settleTimer.Stop() {
		m.wg.Done()
	}
	m.wg.Add(1)
	m.settleTimer = time.AfterFunc(m.cfg.SettleDelay, func() {
		defer m.wg.Done()
		m.drainAfterReconnect()
	})
}

func (m *Monitor) drainAfterReconnect() {
	m.mu.Lock()
	d := m.drainer
	m.mu.Unlock()
	if d == nil || m.ctx.Err() != nil {
		return
	}

	log.Printf("[Connectivity] Draining pending items after reconnect")
	result, err := d.DrainAll(m.ctx)
	if err != nil {
		log.Printf("[Connectivity] Drain after reconnect: %v", err)
		return
	}

	m.mu.Lock()
	online, lastOnline := m.state.IsOnline, m.state.LastOnlineTransitionAt
	m.mu.Unlock()

	m.emit(model.Event{
		Type:         model.EventSynced,
		At:           m.cfg.Now(),
		IsOnline:     online,
		LastOnlineAt: lastOnline,
		Sync:         result,
	})
}

func (m *Monitor) persist(snap model.ConnectivityState) {
	if m.deps.Store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := store.SetJSON(ctx, m.deps.Store, store.KeyConnectivitySnapshot, snap); err != nil {
		log.Printf("[Connectivity] Failed to persist snapshot: %v", err)
	}
}

// CheckGPS runs one location-services check while tracking is active.
// gps_disabled fires once per episode; gps_enabled closes the episode.
func (m *Monitor) CheckGPS(ctx context.Context) {
	loc := m.deps.Location
	if loc == nil || !loc.TrackingActive(ctx) {
		return
	}

	user, err := loc.Session(ctx)
	if err != nil {
		log.Printf("[Connectivity] GPS check: failed to read session: %v", err)
		return
	}
	if user == nil || !user.LocationTracked {
		return
	}

	ls, err := loc.LocationServices(ctx)
	if err != nil {
		return
	}

	now := m.cfg.Now()
	enabled := ls.Enabled()

	m.mu.Lock()
	var evt model.EventType
	switch {
	case !enabled && !m.gpsAlertShown:
		m.gpsAlertShown = true
		evt = model.EventGPSDisabled
	case enabled && m.gpsAlertShown:
		m.gpsAlertShown = false
		evt = model.EventGPSEnabled
	}
	online, lastOnline := m.state.IsOnline, m.state.LastOnlineTransitionAt
	m.mu.Unlock()

	if evt == "" {
		return
	}

	log.Printf("[Connectivity] %s for user %d", evt, user.UserID)
	m.emit(model.Event{Type: evt, At: now, IsOnline: online, LastOnlineAt: lastOnline})

	if evt == model.EventGPSDisabled && m.deps.Reporter != nil {
		m.deps.Reporter.ReportGPSDisabled(ctx, *user, now)
	}
}

// ForceCheck runs an on-demand connectivity check.
func (m *Monitor) ForceCheck(ctx context.Context) model.ConnectivityStatus {
	m.Tick(ctx)
	return m.Status()
}

// ForceGPSCheck runs an on-demand GPS check.
func (m *Monitor) ForceGPSCheck(ctx context.Context) {
	m.CheckGPS(ctx)
}

// IsOnline reports the current decision.
func (m *Monitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.IsOnline
}

// State returns a copy of the raw state.
func (m *Monitor) State() model.ConnectivityState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Status returns the state in reporting form.
func (m *Monitor) Status() model.ConnectivityStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := model.ConnectivityStatus{
		IsOnline:            m.state.IsOnline,
		LastOnlineAt:        m.state.LastOnlineTransitionAt,
		ConsecutiveFailures: m.state.ConsecutiveFailureCount,
	}
	if !st.IsOnline && !st.LastOnlineAt.IsZero() {
		st.OfflineDuration = m.cfg.Now().Sub(st.LastOnlineAt)
	}
	return st
}

// Subscribe registers fn for every event and returns its unsubscribe func.
func (m *Monitor) Subscribe(fn func(model.Event)) func() {
	m.subsMu.Lock()
	id := m.nextID
	m.nextID++
	m.subs[id] = fn
	m.subsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.subsMu.Lock()
			delete(m.subs, id)
			m.subsMu.Unlock()
		})
	}
}

func (m *Monitor) emit(evt model.Event) {
	m.subsMu.RLock()
	fns := make([]func(model.Event), 0, len(m.subs))
	for _, fn := range m.subs {
		fns = append(fns, fn)
	}
	m.subsMu.RUnlock()

	for _, fn := range fns {
		m.deliver(fn, evt)
	}
}

func (m *Monitor) deliver(fn func(model.Event), evt model.Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[Connectivity] Listener panic on %s: %v", evt.Type, r)
		}
	}()
	fn(evt)
}
