package sim

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"manet-sim/internal/fabric"
	"manet-sim/internal/telemetry"
)

// SamplerState tracks the sampler lifecycle.
type SamplerState int

const (
	SamplerIdle SamplerState = iota
	SamplerScheduled
	SamplerRunning
)

func (s SamplerState) String() string {
	switch s {
	case SamplerScheduled:
		return "scheduled"
	case SamplerRunning:
		return "running"
	default:
		return "idle"
	}
}

// ErrSamplerStarted is returned when Start is called twice.
var ErrSamplerStarted = errors.New("sampler already started")

// ThroughputSampler converts the accumulator into one SampleRow per interval.
// Once started it keeps rescheduling itself; it stops when the clock does.
type ThroughputSampler struct {
	clock    fabric.Scheduler
	acc      *Accumulator
	writer   SampleWriter
	interval float64
	base     telemetry.SampleRow
	sinks    func() int
	now      func() time.Time
	log      *slog.Logger
	onSample func(telemetry.SampleRow)

	mu    sync.Mutex
	state SamplerState
	ticks int
	err   error
}

// SamplerOptions configures a ThroughputSampler.
type SamplerOptions struct {
	Interval float64
	// Base carries the constant columns (run id, protocol, tx power).
	Base  telemetry.SampleRow
	Sinks func() int
	Now   func() time.Time
	Log   *slog.Logger
	// OnSample observes every emitted row after it was written.
	OnSample func(telemetry.SampleRow)
}

// NewThroughputSampler creates an idle sampler.
func NewThroughputSampler(clock fabric.Scheduler, acc *Accumulator, w SampleWriter, opts SamplerOptions) *ThroughputSampler {
	if opts.Interval <= 0 {
		opts.Interval = 1
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	if opts.Sinks == nil {
		opts.Sinks = func() int { return 0 }
	}
	return &ThroughputSampler{
		clock:    clock,
		acc:      acc,
		writer:   w,
		interval: opts.Interval,
		base:     opts.Base,
		sinks:    opts.Sinks,
		now:      opts.Now,
		log:      opts.Log,
		onSample: opts.OnSample,
	}
}

// Start schedules the first tick at the current simulated time.
func (s *ThroughputSampler) Start() error {
	s.mu.Lock()
	if s.state != SamplerIdle {
		s.mu.Unlock()
		return ErrSamplerStarted
	}
	s.state = SamplerScheduled
	s.mu.Unlock()
	return s.clock.ScheduleAt(s.clock.Now(), s.tick)
}

// State returns the current lifecycle state.
func (s *ThroughputSampler) State() SamplerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Ticks returns how many samples were emitted.
func (s *ThroughputSampler) Ticks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ticks
}

// Err returns the first write error, if any.
func (s *ThroughputSampler) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *ThroughputSampler) tick() {
	s.setState(SamplerRunning)
	bytes, packets := s.acc.Drain()
	row := s.base
	row.SimulationSecond = s.clock.Now()
	row.ReceiveRate = float64(bytes) * 8 / 1024
	row.PacketsReceived = packets
	row.BytesReceived = bytes
	row.NumberOfSinks = s.sinks()
	row.Timestamp = s.now().UTC()

	if err := s.writer.Write(row); err != nil {
		s.log.Error("sample write failed", "sim_seconds", row.SimulationSecond, "err", err)
		s.mu.Lock()
		if s.err == nil {
			s.err = err
		}
		s.mu.Unlock()
	}
	if s.onSample != nil {
		s.onSample(row)
	}

	s.mu.Lock()
	s.ticks++
	s.state = SamplerScheduled
	s.mu.Unlock()
	if err := s.clock.ScheduleAt(row.SimulationSecond+s.interval, s.tick); err != nil {
		s.log.Error("sampler reschedule failed", "err", err)
	}
}

func (s *ThroughputSampler) setState(st SamplerState) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}
