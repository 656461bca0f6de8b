// Package obd provides the vehicle sample sources: an ELM327 adapter on a
// serial port and a scripted simulator.
package obd

import (
	"context"
	"errors"

	"github.com/barnapet/smartdrive/internal/pkg/model"
)

var (
	// ErrDisconnected means the adapter or the ECU stopped answering. The
	// caller should reconnect.
	ErrDisconnected = errors.New("obd: source disconnected")

	// ErrNoData means the ECU answered but has no value for the request.
	ErrNoData = errors.New("obd: no data")
)

// Source produces one TelemetrySample per call to Fetch. Fetch must respect
// the context deadline and never block past it.
type Source interface {
	Connect(ctx context.Context) error
	Fetch(ctx context.Context) (model.TelemetrySample, error)
	Close() error
}

// FastFetcher is implemented by sources that can refresh only RPM and voltage,
// carrying the slower fields over from prev. Used at the cranking rate.
type FastFetcher interface {
	FetchFast(ctx context.Context, prev model.TelemetrySample) (model.TelemetrySample, error)
}
