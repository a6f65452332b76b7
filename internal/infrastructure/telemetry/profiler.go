package telemetry

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sync"

	"github.com/grafana/pyroscope-go"
	"go.uber.org/zap"
)

// ProfilerConfig holds Pyroscope continuous profiling settings
type ProfilerConfig struct {
	Enabled         bool
	ServerAddress   string // e.g. "http://pyroscope:4040"
	ApplicationName string
	// Contention adds mutex and block profiles, which cost runtime sampling
	Contention bool
	// SampleRate is used for both the mutex fraction and the block rate (default: 5)
	SampleRate int
}

// Profiler wraps the Pyroscope session of the process
type Profiler struct {
	session *pyroscope.Profiler
	config  ProfilerConfig
	logger  *zap.Logger
	mu      sync.Mutex
	stopped bool
}

// NewProfiler starts continuous profiling. A disabled config yields a no-op profiler.
func NewProfiler(cfg ProfilerConfig, logger *zap.Logger) (*Profiler, error) {
	p := &Profiler{config: cfg, logger: logger}
	if !cfg.Enabled {
		logger.Debug("Continuous profiling disabled")
		return p, nil
	}
	if cfg.ServerAddress == "" {
		return nil, fmt.Errorf("profiler server address is required when profiling is enabled")
	}
	if cfg.ApplicationName == "" {
		return nil, fmt.Errorf("profiler application name is required when profiling is enabled")
	}

	types := p.profileTypes()
	if cfg.Contention {
		rate := cfg.SampleRate
		if rate <= 0 {
			rate = 5
		}
		runtime.SetMutexProfileFraction(rate)
		runtime.SetBlockProfileRate(rate)
	}

	tags := map[string]string{}
	if hostname, err := os.Hostname(); err == nil {
		tags["hostname"] = hostname
	}

	session, err := pyroscope.Start(pyroscope.Config{
		ApplicationName: cfg.ApplicationName,
		ServerAddress:   cfg.ServerAddress,
		Logger:          pyroscopeLogger{logger.Named("pyroscope").Sugar()},
		Tags:            tags,
		ProfileTypes:    types,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start Pyroscope profiler: %w", err)
	}
	p.session = session

	logger.Info("Pyroscope profiler started",
		zap.String("server_address", cfg.ServerAddress),
		zap.String("application_name", cfg.ApplicationName),
		zap.Int("profile_types", len(types)),
	)
	return p, nil
}

func (p *Profiler) profileTypes() []pyroscope.ProfileType {
	types := []pyroscope.ProfileType{
		pyroscope.ProfileCPU,
		pyroscope.ProfileAllocObjects,
		pyroscope.ProfileAllocSpace,
		pyroscope.ProfileInuseObjects,
		pyroscope.ProfileInuseSpace,
		pyroscope.ProfileGoroutines,
	}
	if p.config.Contention {
		types = append(types,
			pyroscope.ProfileMutexCount,
			pyroscope.ProfileMutexDuration,
			pyroscope.ProfileBlockCount,
			pyroscope.ProfileBlockDuration,
		)
	}
	return types
}

// IsEnabled reports whether a profiling session is running
func (p *Profiler) IsEnabled() bool {
	return p.session != nil
}

// Stop flushes and ends the session. Safe to call more than once.
func (p *Profiler) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped || p.session == nil {
		p.stopped = true
		return nil
	}
	p.stopped = true
	if err := p.session.Stop(); err != nil {
		return fmt.Errorf("failed to stop profiler: %w", err)
	}
	p.logger.Info("Pyroscope profiler stopped")
	return nil
}

// ProfileTask runs fn with a pprof label naming the maintenance task,
// so its samples can be filtered in Pyroscope
func ProfileTask(ctx context.Context, task string, fn func(context.Context) error) error {
	var err error
	pyroscope.TagWrapper(ctx, pyroscope.Labels("task", task), func(ctx context.Context) {
		err = fn(ctx)
	})
	return err
}

type pyroscopeLogger struct {
	*zap.SugaredLogger
}

var _ pyroscope.Logger = pyroscopeLogger{}
