package vehicleagent

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"k8s.io/utils/clock"

	"github.com/barnapet/smartdrive/internal/pkg/metrics"
	"github.com/barnapet/smartdrive/internal/vehicleagent/obd"
	"github.com/barnapet/smartdrive/pkg/log"
)

// ErrReconnectExhausted is returned once MaxAttempts consecutive attempts failed.
var ErrReconnectExhausted = errors.New("obd reconnect attempts exhausted")

// Status is a snapshot of the source link.
type Status struct {
	Connected bool
	// Attempts counts connection attempts since the last success.
	Attempts  int64
	LastError string
}

// Reconnector (re)connects a source with a fixed delay between attempts.
// Status may be read from any goroutine; Ensure is called by the agent loop only.
type Reconnector struct {
	source      obd.Source
	clock       clock.Clock
	interval    time.Duration
	maxAttempts int

	connected atomic.Bool
	attempts  atomic.Int64
	lastErr   atomic.Value
}

// NewReconnector returns a reconnector. maxAttempts 0 retries forever.
func NewReconnector(source obd.Source, clk clock.Clock, interval time.Duration, maxAttempts int) *Reconnector {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Reconnector{
		source:      source,
		clock:       clk,
		interval:    interval,
		maxAttempts: maxAttempts,
	}
}

// Ensure returns immediately when connected. Otherwise it attempts to connect
// until it succeeds, the context ends or the attempt budget runs out.
func (r *Reconnector) Ensure(ctx context.Context) error {
	if r.connected.Load() {
		return nil
	}

	for {
		n := r.attempts.Add(1)
		metrics.ReconnectAttemptsTotal.Inc()

		err := r.source.Connect(ctx)
		if err == nil {
			r.attempts.Store(0)
			r.lastErr.Store("")
			r.setConnected(true)
			log.Info("OBD source connected", "attempt", n)
			return nil
		}
		r.lastErr.Store(err.Error())

		if r.maxAttempts > 0 && n >= int64(r.maxAttempts) {
			return fmt.Errorf("%w after %d attempts: %w", ErrReconnectExhausted, n, err)
		}
		log.Warn("OBD source connect failed, retrying", "attempt", n, "retryIn", r.interval, "error", err.Error())

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.clock.After(r.interval):
		}
	}
}

// MarkDisconnected records a lost link; the next Ensure reconnects.
func (r *Reconnector) MarkDisconnected(cause error) {
	if !r.connected.Load() {
		return
	}
	r.setConnected(false)
	_ = r.source.Close()
	if cause != nil {
		r.lastErr.Store(cause.Error())
	}
	log.Warn("OBD source disconnected", "cause", cause)
}

func (r *Reconnector) Connected() bool {
	return r.connected.Load()
}

func (r *Reconnector) Status() Status {
	s := Status{Connected: r.connected.Load(), Attempts: r.attempts.Load()}
	if v, ok := r.lastErr.Load().(string); ok {
		s.LastError = v
	}
	return s
}

func (r *Reconnector) setConnected(v bool) {
	r.connected.Store(v)
	if v {
		metrics.SourceConnected.Set(1)
	} else {
		metrics.SourceConnected.Set(0)
	}
}
