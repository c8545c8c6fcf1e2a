package liveness

import (
	"sort"
	"sync"
	"time"

	"github.com/bardlex/poolstats/pkg/log"
)

// Config holds the liveness thresholds
type Config struct {
	// OnlineTimeout is how long after its last share a worker stays online
	OnlineTimeout time.Duration
	// StaleTimeout is how long after its last report a worker's status is fresh
	StaleTimeout time.Duration
}

// WorkerState is the tracked presence record for one worker
type WorkerState struct {
	User       string
	Worker     string
	LastShare  time.Time // zero until the first share
	LastReport time.Time // zero until the first status report
	Report     *StatusReport
}

// Monitor tracks every worker ever seen on either the share stream or the
// status stream. Workers auto-register on first contact from either side.
type Monitor struct {
	mu      sync.RWMutex
	logger  *log.Logger
	cfg     *Config
	now     func() time.Time
	workers map[string]*WorkerState
}

// NewMonitor creates a monitor with no tracked workers
func NewMonitor(cfg *Config, logger *log.Logger) *Monitor {
	return &Monitor{
		logger:  logger.WithComponent("liveness"),
		cfg:     cfg,
		now:     time.Now,
		workers: make(map[string]*WorkerState),
	}
}

func key(user, worker string) string {
	return user + "/" + worker
}

func (m *Monitor) stateLocked(user, worker string) *WorkerState {
	k := key(user, worker)
	st, ok := m.workers[k]
	if !ok {
		st = &WorkerState{User: user, Worker: worker}
		m.workers[k] = st
	}
	return st
}

// TouchShare records share activity for a worker, registering it if unseen
func (m *Monitor) TouchShare(user, worker string, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := m.stateLocked(user, worker)
	if at.After(st.LastShare) {
		st.LastShare = at
	}
}

// ReportStatus records a monitoring report for a worker, registering it if
// unseen. The share-driven online state is untouched.
func (m *Monitor) ReportStatus(report *StatusReport) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := m.stateLocked(report.User, report.Worker)
	if report.ReportedAt.After(st.LastReport) {
		st.LastReport = report.ReportedAt
		st.Report = report
	}
	m.logger.LogStatusReport(report.User, report.Worker, len(report.Devices))
}

// Online reports whether the worker produced a share within the online timeout
func (m *Monitor) Online(user, worker string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st, ok := m.workers[key(user, worker)]
	if !ok || st.LastShare.IsZero() {
		return false
	}
	return m.now().Sub(st.LastShare) <= m.cfg.OnlineTimeout
}

// StatusStale reports whether the worker's last monitoring report is too old.
// A worker that never reported has no status to be stale; it returns false.
func (m *Monitor) StatusStale(user, worker string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st, ok := m.workers[key(user, worker)]
	if !ok || st.LastReport.IsZero() {
		return false
	}
	return m.now().Sub(st.LastReport) > m.cfg.StaleTimeout
}

// WorkerView is the externally visible presence summary for one worker
type WorkerView struct {
	User             string    `json:"user"`
	Worker           string    `json:"worker"`
	Online           bool      `json:"online"`
	StatusStale      bool      `json:"status_stale"`
	LastShare        time.Time `json:"last_share,omitempty"`
	LastReport       time.Time `json:"last_report,omitempty"`
	ReportedHashrate float64   `json:"reported_hashrate"`
	DeviceCount      int       `json:"device_count"`
}

func (m *Monitor) viewLocked(st *WorkerState) WorkerView {
	now := m.now()
	v := WorkerView{
		User:       st.User,
		Worker:     st.Worker,
		LastShare:  st.LastShare,
		LastReport: st.LastReport,
	}
	if !st.LastShare.IsZero() {
		v.Online = now.Sub(st.LastShare) <= m.cfg.OnlineTimeout
	}
	if !st.LastReport.IsZero() {
		v.StatusStale = now.Sub(st.LastReport) > m.cfg.StaleTimeout
	}
	if st.Report != nil {
		v.ReportedHashrate = st.Report.ReportedHashrate()
		v.DeviceCount = len(st.Report.Devices)
	}
	return v
}

// Worker returns the presence view for one worker, false if never seen
func (m *Monitor) Worker(user, worker string) (WorkerView, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st, ok := m.workers[key(user, worker)]
	if !ok {
		return WorkerView{}, false
	}
	return m.viewLocked(st), true
}

// Workers lists all tracked workers for a user, sorted by worker name
func (m *Monitor) Workers(user string) []WorkerView {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []WorkerView
	for _, st := range m.workers {
		if st.User == user {
			out = append(out, m.viewLocked(st))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Worker < out[j].Worker })
	return out
}

// Devices returns the worker's last reported device list, nil if never reported
func (m *Monitor) Devices(user, worker string) []DeviceStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st, ok := m.workers[key(user, worker)]
	if !ok || st.Report == nil {
		return nil
	}
	return st.Report.Devices
}

// ReportedHashrate returns the worker's last self-reported hashrate in MH/s
func (m *Monitor) ReportedHashrate(user, worker string) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st, ok := m.workers[key(user, worker)]
	if !ok || st.Report == nil {
		return 0
	}
	return st.Report.ReportedHashrate()
}
