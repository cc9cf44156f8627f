package dispatch

import (
	"context"
	"log/slog"
	"time"

	"i4.energy/across/polectl/pole"
)

// Session is the modem session the control loop owns.
type Session interface {
	Modem
	BringUp(ctx context.Context) error
	CheckPower(ctx context.Context) (bool, error)
}

// RunnerConfig holds the control loop cadence.
type RunnerConfig struct {
	// StartupSamples is the number of fault check and resistance report
	// rounds sent right after bring-up.
	StartupSamples   int           `yaml:"startup_samples"`
	PollInterval     time.Duration `yaml:"poll_interval"`
	LivenessInterval time.Duration `yaml:"liveness_interval"` // 0 disables the probe
	RetryInterval    time.Duration `yaml:"retry_interval"`
}

func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		StartupSamples:   1,
		PollInterval:     20 * time.Millisecond,
		LivenessInterval: 5 * time.Minute,
		RetryInterval:    10 * time.Second,
	}
}

// Runner is the main control loop: one goroutine that brings the modem
// up, announces the poles and then alternates fault checks and
// notification polling. It polls every PollInterval and as soon as bytes
// land in an empty receive buffer.
type Runner struct {
	session    Session
	dispatcher *Dispatcher
	config     RunnerConfig
	logger     *slog.Logger
}

func NewRunner(s Session, d *Dispatcher, config RunnerConfig, logger *slog.Logger) *Runner {
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultRunnerConfig().PollInterval
	}
	if config.RetryInterval <= 0 {
		config.RetryInterval = DefaultRunnerConfig().RetryInterval
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Runner{session: s, dispatcher: d, config: config, logger: logger}
}

// Run blocks until ctx is cancelled. It returns nil on cancellation.
func (r *Runner) Run(ctx context.Context) error {
	// bringUp only gives up once ctx is done.
	if r.bringUp(ctx) != nil {
		return nil
	}
	buf := r.session.Buffer()
	r.dispatcher.collect(buf)

	for _, id := range pole.All {
		r.dispatcher.PushInit(ctx, id)
	}
	for i := 0; i < r.config.StartupSamples && ctx.Err() == nil; i++ {
		r.dispatcher.CheckFaults(ctx)
		for _, id := range pole.All {
			r.dispatcher.Sample(ctx, id)
		}
	}
	r.logger.Info("control loop started", "startup_samples", r.config.StartupSamples)

	lastProbe := time.Now()
	for {
		r.dispatcher.CheckFaults(ctx)
		if err := r.dispatcher.Poll(ctx); err != nil {
			return nil
		}

		if r.config.LivenessInterval > 0 && time.Since(lastProbe) >= r.config.LivenessInterval {
			// The probe clears the buffer, so it only runs when nothing
			// is waiting. A notification racing it is set aside by the
			// session and served by the next Poll.
			if r.dispatcher.Phase() == Idle && !r.dispatcher.hasPending() && buf.Len() == 0 {
				lastProbe = time.Now()
				r.probe(ctx)
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-buf.Readable():
		case <-time.After(r.config.PollInterval):
		}
	}
}

func (r *Runner) probe(ctx context.Context) {
	on, err := r.session.CheckPower(ctx)
	if err != nil {
		r.logger.Warn("liveness probe failed", "error", err)
		return
	}
	if on {
		return
	}
	r.logger.Warn("modem unresponsive, re-running bring-up")
	r.bringUp(ctx)
}

// bringUp retries the modem start-up sequence until it succeeds or ctx is
// cancelled.
func (r *Runner) bringUp(ctx context.Context) error {
	for {
		err := r.session.BringUp(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		r.logger.Error("modem bring-up failed", "error", err, "retry_in", r.config.RetryInterval)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.config.RetryInterval):
		}
	}
}
