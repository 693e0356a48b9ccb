// Package replication keeps backups consistent with the primary's write
// stream. Fan-out is asynchronous and best-effort: the primary commits
// locally first, then pushes to every registered backup independently.
// Per backup there is a single outbound stream, so pushes arrive in the
// order the primary issued them; nothing is guaranteed across backups.
package replication

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/jeffasante/kv-store/src/client"
	"github.com/jeffasante/kv-store/src/config"
	"github.com/jeffasante/kv-store/src/protocol"
	"github.com/jeffasante/kv-store/src/store"
	"github.com/jeffasante/kv-store/src/util"
)

type Role int

const (
	RolePrimary Role = iota
	RoleBackup
)

func (r Role) String() string {
	if r == RolePrimary {
		return "primary"
	}
	return "backup"
}

// Backup is one registry entry. Entries are added by ADD_BACKUP and never
// removed automatically; heartbeats only flip the health mark.
type Backup struct {
	Addr     string
	LastSeen time.Time
	Healthy  bool
}

type backupState struct {
	addr     string
	lastSeen time.Time
	healthy  bool
}

type Manager struct {
	store     *store.Store
	cfg       *config.Config
	metrics   *Metrics
	transport *client.Transport
	log       *logrus.Entry

	mu          sync.RWMutex
	role        Role
	primaryAddr string // upstream primary, backup role only
	backups     map[string]*backupState
	lastPing    time.Time // backup side: last HEARTBEAT received
	heartbeats  bool      // heartbeat loop running

	mail   *util.Mailbox
	stopCh chan struct{}
	wg     sync.WaitGroup
}

func NewManager(st *store.Store, cfg *config.Config, metrics *Metrics) *Manager {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}

	netCfg := client.DefaultNetworkConfig()
	if cfg.DialTimeout > 0 {
		netCfg.DialTimeout = cfg.DialTimeout
	}
	if cfg.HeartbeatTimeout > 0 {
		netCfg.ReplyTimeout = cfg.HeartbeatTimeout
	}

	return &Manager{
		store:     st,
		cfg:       cfg,
		metrics:   metrics,
		transport: client.NewTransport(netCfg),
		log:       logrus.WithField("component", "replication"),
		role:      RolePrimary,
		backups:   make(map[string]*backupState),
		mail:      util.NewMailbox(),
		stopCh:    make(chan struct{}),
	}
}

// StartPrimary makes the node the write authority and starts heartbeats.
func (m *Manager) StartPrimary() {
	m.mu.Lock()
	m.role = RolePrimary
	m.primaryAddr = ""
	m.mu.Unlock()

	m.startHeartbeats()
	m.log.Info("started as primary")
}

// StartBackup points the node at its primary. It serves reads and applies
// the primary's replication stream until promoted.
func (m *Manager) StartBackup(primaryAddr string) {
	m.mu.Lock()
	m.role = RoleBackup
	m.primaryAddr = primaryAddr
	m.lastPing = time.Now()
	m.mu.Unlock()

	m.wg.Add(1)
	go m.watchPrimary()

	m.log.WithField("primary", primaryAddr).Info("started as backup")
}

func (m *Manager) Role() Role {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.role
}

func (m *Manager) IsPrimary() bool {
	return m.Role() == RolePrimary
}

// PrimaryAddr returns the upstream primary address; empty on a primary.
func (m *Manager) PrimaryAddr() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.primaryAddr
}

// AddBackup registers a backup address and starts its sender. Registering
// an address twice is a no-op.
func (m *Manager) AddBackup(addr string) error {
	m.mu.Lock()
	if m.role != RolePrimary {
		m.mu.Unlock()
		return util.ErrNotPrimary
	}
	if _, ok := m.backups[addr]; ok {
		m.mu.Unlock()
		return nil
	}
	m.backups[addr] = &backupState{addr: addr, lastSeen: time.Now(), healthy: true}
	n := len(m.backups)
	m.mu.Unlock()

	ch := m.mail.CreateBox(addr, m.cfg.QueueSize)
	m.wg.Add(1)
	go m.sender(addr, ch)

	m.metrics.registeredBackups.Set(float64(n))
	m.log.WithField("backup", addr).Info("registered backup")
	return nil
}

// Backups returns a snapshot of the registry.
func (m *Manager) Backups() []Backup {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Backup, 0, len(m.backups))
	for _, b := range m.backups {
		out = append(out, Backup{Addr: b.addr, LastSeen: b.lastSeen, Healthy: b.healthy})
	}
	return out
}

// Propagate enqueues a committed write for every registered backup. It
// never blocks the caller: a full queue drops the frame and counts it.
func (m *Manager) Propagate(op *protocol.Command) {
	if !m.IsPrimary() {
		return
	}

	frame := (&protocol.Command{Kind: protocol.Replicate, Op: op}).Encode()
	for _, b := range m.Backups() {
		if err := m.mail.TrySend(b.Addr, frame); err != nil {
			m.metrics.droppedFrames.Inc()
			m.log.WithField("backup", b.Addr).WithError(err).Warn("dropped replication frame")
		}
	}
}

// Apply executes a replicated operation on the local store. Backups only;
// the operation is not propagated again.
func (m *Manager) Apply(op *protocol.Command) error {
	if m.IsPrimary() {
		return util.ErrNotBackup
	}

	switch op.Kind {
	case protocol.Put:
		m.store.Put(op.Key, op.Value)
	case protocol.Delete:
		m.store.Delete(op.Key)
	}
	m.metrics.SetStoreKeys(m.store.Len())
	return nil
}

// PrimaryStale reports whether the upstream primary has missed several
// heartbeat intervals. Meaningful on backups only.
func (m *Manager) PrimaryStale() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.role != RoleBackup || m.cfg.HeartbeatInterval <= 0 {
		return false
	}
	return time.Since(m.lastPing) > 3*m.cfg.HeartbeatInterval
}

// watchPrimary logs when the upstream primary's heartbeats lapse. It only
// observes; promotion stays an operator decision.
func (m *Manager) watchPrimary() {
	defer m.wg.Done()

	if m.cfg.HeartbeatInterval <= 0 {
		return
	}
	ticker := time.NewTicker(m.cfg.HeartbeatInterval)
	defer ticker.Stop()

	warned := false
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.mu.RLock()
			role := m.role
			primary := m.primaryAddr
			last := m.lastPing
			m.mu.RUnlock()

			if role != RoleBackup {
				return
			}

			stale := m.PrimaryStale()
			if stale && !warned {
				m.log.WithFields(logrus.Fields{
					"primary":        primary,
					"last_heartbeat": last,
				}).Warn("primary heartbeat stale")
				warned = true
			} else if !stale && warned {
				m.log.WithField("primary", primary).Info("primary heartbeat recovered")
				warned = false
			}
		}
	}
}

// RecordHeartbeat notes that the primary probed us. Liveness only, no
// effect on the store.
func (m *Manager) RecordHeartbeat() {
	m.mu.Lock()
	m.lastPing = time.Now()
	m.mu.Unlock()
}

// LastHeartbeat reports when the upstream primary last probed this node.
func (m *Manager) LastHeartbeat() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastPing
}

// Promote turns a backup into a primary: the upstream pointer is cleared
// and the node begins accepting writes and heartbeating its own backups.
// Promotion is operator-triggered only; there is no election.
func (m *Manager) Promote() error {
	m.mu.Lock()
	if m.role != RoleBackup {
		m.mu.Unlock()
		return util.ErrNotBackup
	}
	old := m.primaryAddr
	m.role = RolePrimary
	m.primaryAddr = ""
	m.mu.Unlock()

	m.startHeartbeats()
	m.log.WithField("old_primary", old).Info("promoted to primary")
	return nil
}

// Stop shuts down senders and the heartbeat loop. Queued frames that have
// not been written yet are discarded (best-effort contract).
func (m *Manager) Stop() {
	close(m.stopCh)
	m.mail.CloseAll()
	m.wg.Wait()
}

// sender is the single outbound stream for one backup. It owns the
// connection and re-dials lazily; a failed push is dropped, never retried.
func (m *Manager) sender(addr string, ch chan string) {
	defer m.wg.Done()

	log := m.log.WithField("backup", addr)
	cl := client.NewWithTransport(addr, m.transport)
	var conn *client.Conn

	defer func() {
		if conn != nil {
			conn.Close()
		}
	}()

	for frame := range ch {
		start := time.Now()

		if conn == nil {
			var err error
			if conn, err = cl.Connect(); err != nil {
				m.pushFailed(addr, log, err)
				continue
			}
		}

		resp, err := conn.SendTimeout(frame, m.cfg.HeartbeatTimeout)
		if err != nil {
			conn.Close()
			conn = nil
			m.pushFailed(addr, log, err)
			continue
		}
		if resp != protocol.RespOK {
			m.pushFailed(addr, log, errors.Errorf("unexpected response %q", resp))
			continue
		}

		m.markAlive(addr)
		m.metrics.propagations.Inc()
		m.metrics.propagationLatency.Observe(time.Since(start).Seconds())
	}
}

func (m *Manager) pushFailed(addr string, log *logrus.Entry, err error) {
	m.markStale(addr)
	m.metrics.propagationFailures.WithLabelValues(addr).Inc()
	log.WithError(err).Warn("failed to replicate to backup")
}

// startHeartbeats launches the fixed-interval probe loop once.
func (m *Manager) startHeartbeats() {
	m.mu.Lock()
	if m.heartbeats {
		m.mu.Unlock()
		return
	}
	m.heartbeats = true
	m.mu.Unlock()

	m.wg.Add(1)
	go m.heartbeatLoop()
}

func (m *Manager) heartbeatLoop() {
	defer m.wg.Done()

	if m.cfg.HeartbeatInterval <= 0 {
		return
	}
	ticker := time.NewTicker(m.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.probeBackups()
		}
	}
}

// probeBackups heartbeats every registered backup concurrently. Each probe
// is bounded by the heartbeat timeout, so one dead backup cannot stall the
// others or the loop.
func (m *Manager) probeBackups() {
	backups := m.Backups()

	var wg sync.WaitGroup
	for _, b := range backups {
		wg.Add(1)
		go func(addr string) {
			defer wg.Done()
			if err := m.probe(addr); err != nil {
				m.markStale(addr)
				m.metrics.heartbeatFailures.WithLabelValues(addr).Inc()
				m.log.WithField("backup", addr).WithError(err).Warn("heartbeat failed")
			} else {
				m.markAlive(addr)
			}
		}(b.Addr)
	}
	wg.Wait()

	healthy := 0
	for _, b := range m.Backups() {
		if b.Healthy {
			healthy++
		}
	}
	m.metrics.healthyBackups.Set(float64(healthy))
}

func (m *Manager) probe(addr string) error {
	cl := client.NewWithTransport(addr, m.transport)
	conn, err := cl.Connect()
	if err != nil {
		return err
	}
	defer conn.Close()

	resp, err := conn.SendTimeout("HEARTBEAT", m.cfg.HeartbeatTimeout)
	if err != nil {
		return err
	}
	if resp != protocol.RespOK {
		return errors.Errorf("unexpected response %q", resp)
	}
	return nil
}

func (m *Manager) markAlive(addr string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.backups[addr]; ok {
		b.lastSeen = time.Now()
		b.healthy = true
	}
}

func (m *Manager) markStale(addr string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.backups[addr]; ok {
		b.healthy = false
	}
}
