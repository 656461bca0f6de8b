package obd

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/barnapet/smartdrive/internal/pkg/model"
	"github.com/barnapet/smartdrive/pkg/log"
)

// phase is one stretch of the simulated drive cycle. Phases start on the
// first fetch after the previous one ended, so a slow poller still sees
// every phase, including the short cranking burst.
type phase struct {
	name     string
	duration time.Duration
	running  bool
	// gen returns rpm, speed and voltage at elapsed time into the phase.
	gen func(elapsed time.Duration, r *rand.Rand) (rpm, speed, voltage float64)
}

// defaultScript is parked, a cold crank, a drive, then a slow parasitic
// drain that crosses the protection cutoff, and a charger bringing it back.
func defaultScript() []phase {
	return []phase{
		{
			name:     "parked",
			duration: 20 * time.Second,
			gen: func(_ time.Duration, r *rand.Rand) (float64, float64, float64) {
				return 0, 0, 12.55 + jitter(r, 0.05)
			},
		},
		{
			name:     "cranking",
			duration: 1200 * time.Millisecond,
			running:  true,
			gen: func(e time.Duration, r *rand.Rand) (float64, float64, float64) {
				rpm := 180 + jitter(r, 60)
				switch {
				case e < 80*time.Millisecond:
					return rpm, 0, 7.8 + jitter(r, 0.2)
				case e < 800*time.Millisecond:
					return rpm, 0, 9.8 + jitter(r, 0.1)
				default:
					// Recovery towards the alternator voltage.
					frac := float64(e-800*time.Millisecond) / float64(400*time.Millisecond)
					return 350 + 200*frac, 0, 9.8 + 1.8*frac
				}
			},
		},
		{
			name:     "driving",
			duration: 2 * time.Minute,
			running:  true,
			gen: func(_ time.Duration, r *rand.Rand) (float64, float64, float64) {
				return float64(2000 + r.Intn(1500)), float64(45 + r.Intn(65)), 13.8 + jitter(r, 0.3)
			},
		},
		{
			name:     "drain",
			duration: 10 * time.Minute,
			gen: func(e time.Duration, r *rand.Rand) (float64, float64, float64) {
				frac := e.Seconds() / (10 * time.Minute).Seconds()
				return 0, 0, 12.6 - 0.8*frac + jitter(r, 0.02)
			},
		},
		{
			name:     "charging",
			duration: 2 * time.Minute,
			gen: func(_ time.Duration, r *rand.Rand) (float64, float64, float64) {
				return 0, 0, 13.4 + jitter(r, 0.1)
			},
		},
	}
}

// Simulated is a Source that replays a drive cycle in a loop.
type Simulated struct {
	vin   string
	clock clock.PassiveClock

	mu        sync.Mutex
	rng       *rand.Rand
	script    []phase
	idx       int
	started   time.Time
	coolant   float64
	connected bool
}

var _ Source = (*Simulated)(nil)

// NewSimulated returns a simulator for vin. A fixed seed makes runs repeatable.
func NewSimulated(vin string, clk clock.PassiveClock, seed int64) *Simulated {
	return &Simulated{
		vin:     vin,
		clock:   clk,
		rng:     rand.New(rand.NewSource(seed)),
		script:  defaultScript(),
		coolant: 20,
	}
}

func (s *Simulated) Connect(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	log.Info("Connecting to simulated OBD-II adapter", "vin", s.vin)
	s.connected = true
	if s.started.IsZero() {
		s.started = s.clock.Now()
	}
	return nil
}

func (s *Simulated) Fetch(ctx context.Context) (model.TelemetrySample, error) {
	if err := ctx.Err(); err != nil {
		return model.TelemetrySample{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return model.TelemetrySample{}, ErrDisconnected
	}

	now := s.clock.Now()
	for now.Sub(s.started) >= s.script[s.idx].duration {
		s.idx = (s.idx + 1) % len(s.script)
		s.started = now
		log.Debug("Simulator phase", "phase", s.script[s.idx].name)
	}

	p := s.script[s.idx]
	rpm, speed, voltage := p.gen(now.Sub(s.started), s.rng)

	if p.running {
		s.coolant = math.Min(s.coolant+0.5, 90)
	} else {
		s.coolant = math.Max(s.coolant-0.2, 15)
	}
	coolant := math.Round(s.coolant*10) / 10
	intake := math.Round((15+jitter(s.rng, 1))*10) / 10

	return model.TelemetrySample{
		VIN:         s.vin,
		Timestamp:   now,
		Speed:       speed,
		RPM:         math.Round(rpm),
		Voltage:     math.Round(voltage*100) / 100,
		CoolantTemp: &coolant,
		IntakeTemp:  &intake,
	}, nil
}

// Phase returns the name of the current phase.
func (s *Simulated) Phase() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.script[s.idx].name
}

func (s *Simulated) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	return nil
}

func jitter(r *rand.Rand, amplitude float64) float64 {
	return (r.Float64()*2 - 1) * amplitude
}
