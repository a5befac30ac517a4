package resilience

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// DegradationLevel represents how a dependency is currently behaving
type DegradationLevel int

const (
	LevelNormal DegradationLevel = iota
	LevelDegraded
	LevelCritical
	LevelDown
)

func (l DegradationLevel) String() string {
	switch l {
	case LevelNormal:
		return "healthy"
	case LevelDegraded:
		return "degraded"
	case LevelCritical:
		return "critical"
	case LevelDown:
		return "down"
	default:
		return "unknown"
	}
}

// MarshalText renders the level by name in health responses
func (l DegradationLevel) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// DegradationConfig holds thresholds for dependency health tracking
type DegradationConfig struct {
	HealthCheckInterval time.Duration `json:"health_check_interval"`
	HealthCheckTimeout  time.Duration `json:"health_check_timeout"`
	DegradedThreshold   float64       `json:"degraded_threshold"` // Error rate threshold (0.0-1.0)
	CriticalThreshold   float64       `json:"critical_threshold"`
	DownThreshold       float64       `json:"down_threshold"`
	WindowSize          int           `json:"window_size"` // Outcomes kept per dependency
}

// DefaultDegradationConfig returns sensible defaults
func DefaultDegradationConfig() DegradationConfig {
	return DegradationConfig{
		HealthCheckInterval: 30 * time.Second,
		HealthCheckTimeout:  5 * time.Second,
		DegradedThreshold:   0.1,
		CriticalThreshold:   0.25,
		DownThreshold:       0.5,
		WindowSize:          50,
	}
}

// HealthCheckFunc probes a dependency
type HealthCheckFunc func(ctx context.Context) error

// DependencyHealth is a point-in-time view of one dependency
type DependencyHealth struct {
	Name          string           `json:"name"`
	Level         DegradationLevel `json:"level"`
	ErrorRate     float64          `json:"error_rate"`
	Observations  int              `json:"observations"`
	LastError     string           `json:"last_error,omitempty"`
	LastErrorTime *time.Time       `json:"last_error_time,omitempty"`
	Optional      bool             `json:"optional"`
}

type dependency struct {
	name     string
	optional bool
	check    HealthCheckFunc

	outcomes []bool // ring buffer, true on failure
	next     int
	filled   int

	level         DegradationLevel
	lastError     string
	lastErrorTime time.Time
}

func (d *dependency) record(failed bool, size int) {
	if len(d.outcomes) != size {
		d.outcomes = make([]bool, size)
	}
	d.outcomes[d.next] = failed
	d.next = (d.next + 1) % size
	if d.filled < size {
		d.filled++
	}
}

func (d *dependency) errorRate() float64 {
	if d.filled == 0 {
		return 0
	}
	failures := 0
	for i := 0; i < d.filled; i++ {
		if d.outcomes[i] {
			failures++
		}
	}
	return float64(failures) / float64(d.filled)
}

// DegradationManager tracks the recent error rate of each external dependency
// (database, cache, image classifier, upload storage) and reports it on /health.
type DegradationManager struct {
	config DegradationConfig
	mu     sync.RWMutex
	deps   map[string]*dependency
}

// NewDegradationManager creates a new degradation manager
func NewDegradationManager(config DegradationConfig) *DegradationManager {
	if config.WindowSize <= 0 {
		config.WindowSize = DefaultDegradationConfig().WindowSize
	}
	return &DegradationManager{config: config, deps: make(map[string]*dependency)}
}

// Register adds a dependency. Optional dependencies never make the service unhealthy.
func (dm *DegradationManager) Register(name string, optional bool, check HealthCheckFunc) {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	dm.deps[name] = &dependency{name: name, optional: optional, check: check}
	slog.Info("Registered dependency for health tracking", "dependency", name, "optional", optional)
}

// Record stores the outcome of one call to a dependency
func (dm *DegradationManager) Record(name string, err error) {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	dep, ok := dm.deps[name]
	if !ok {
		return
	}
	dep.record(err != nil, dm.config.WindowSize)
	if err != nil {
		dep.lastError = err.Error()
		dep.lastErrorTime = time.Now()
	}

	old := dep.level
	dep.level = dm.levelFor(dep.errorRate())
	if old != dep.level {
		slog.Warn("Dependency health changed",
			"dependency", name,
			"old_level", old.String(),
			"new_level", dep.level.String(),
			"error_rate", dep.errorRate())
	}
}

func (dm *DegradationManager) levelFor(rate float64) DegradationLevel {
	switch {
	case rate >= dm.config.DownThreshold:
		return LevelDown
	case rate >= dm.config.CriticalThreshold:
		return LevelCritical
	case rate >= dm.config.DegradedThreshold:
		return LevelDegraded
	default:
		return LevelNormal
	}
}

// IsAvailable reports whether calls to the dependency should still be attempted
func (dm *DegradationManager) IsAvailable(name string) bool {
	dm.mu.RLock()
	defer dm.mu.RUnlock()

	dep, ok := dm.deps[name]
	return ok && dep.level != LevelDown
}

// Healthy reports whether every required dependency is available
func (dm *DegradationManager) Healthy() bool {
	dm.mu.RLock()
	defer dm.mu.RUnlock()

	for _, dep := range dm.deps {
		if !dep.optional && dep.level == LevelDown {
			return false
		}
	}
	return true
}

// Snapshot returns the health of every dependency, sorted by name
func (dm *DegradationManager) Snapshot() []DependencyHealth {
	dm.mu.RLock()
	defer dm.mu.RUnlock()

	out := make([]DependencyHealth, 0, len(dm.deps))
	for _, dep := range dm.deps {
		h := DependencyHealth{
			Name:         dep.name,
			Level:        dep.level,
			ErrorRate:    dep.errorRate(),
			Observations: dep.filled,
			LastError:    dep.lastError,
			Optional:     dep.optional,
		}
		if !dep.lastErrorTime.IsZero() {
			t := dep.lastErrorTime
			h.LastErrorTime = &t
		}
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// CheckNow runs every registered health check once and records the outcomes
func (dm *DegradationManager) CheckNow(ctx context.Context) {
	dm.mu.RLock()
	checks := make(map[string]HealthCheckFunc, len(dm.deps))
	for name, dep := range dm.deps {
		if dep.check != nil {
			checks[name] = dep.check
		}
	}
	dm.mu.RUnlock()

	var wg sync.WaitGroup
	for name, check := range checks {
		wg.Add(1)
		go func(name string, check HealthCheckFunc) {
			defer wg.Done()
			checkCtx, cancel := context.WithTimeout(ctx, dm.config.HealthCheckTimeout)
			defer cancel()
			dm.Record(name, check(checkCtx))
		}(name, check)
	}
	wg.Wait()
}

// StartHealthChecks probes dependencies on an interval until ctx ends
func (dm *DegradationManager) StartHealthChecks(ctx context.Context) {
	ticker := time.NewTicker(dm.config.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			dm.CheckNow(ctx)
		}
	}
}
