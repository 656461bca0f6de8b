package vehicleagent

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/gosuri/uitable"

	"github.com/barnapet/smartdrive/internal/pkg/model"
	"github.com/barnapet/smartdrive/internal/vehicleagent/sampling"
)

// diagnosticBatch is the number of rows printed per table block. A state
// change flushes early.
const diagnosticBatch = 10

// Diagnostic is a Sink for bench testing an adapter without a broker. It
// prints ticks as table blocks and notes what would have been published.
type Diagnostic struct {
	w io.Writer

	mu     sync.Mutex
	table  *uitable.Table
	rows   int
	state  sampling.State
	prevAt time.Time
	notes  []string
}

var _ Sink = (*Diagnostic)(nil)

func NewDiagnostic(w io.Writer) *Diagnostic {
	return &Diagnostic{w: w, table: newDiagnosticTable()}
}

func newDiagnosticTable() *uitable.Table {
	t := uitable.New()
	t.MaxColWidth = 60
	t.AddRow("TIME", "RATE", "VOLTAGE", "RPM", "STATE", "NOTE")
	return t
}

func (d *Diagnostic) PublishTelemetry(context.Context, model.TelemetrySample) error {
	return nil
}

func (d *Diagnostic) PublishCranking(_ context.Context, r *model.CrankingReport) error {
	note := fmt.Sprintf("crank %s, %d points", r.Strategy, len(r.Points))
	if r.RefinedVmin != nil {
		note = fmt.Sprintf("crank %s vmin %.2f V, %d points", r.Strategy, *r.RefinedVmin, len(r.Points))
	}
	d.note(note)
	return nil
}

func (d *Diagnostic) PublishAlert(_ context.Context, a *model.Alert) error {
	d.note(fmt.Sprintf("%s %.2f V", a.Kind, a.Voltage))
	return nil
}

func (d *Diagnostic) note(s string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.notes = append(d.notes, s)
}

// Record is the agent tick hook.
func (d *Diagnostic) Record(res TickResult) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.rows > 0 && res.Decision.State != d.state {
		d.flushLocked()
	}

	rate := "-"
	if !d.prevAt.IsZero() {
		if gap := res.At.Sub(d.prevAt); gap > 0 {
			rate = fmt.Sprintf("%.1f Hz", 1/gap.Seconds())
		}
	}
	d.prevAt = res.At

	voltage, rpm := "-", "-"
	if res.Sample != nil {
		voltage = fmt.Sprintf("%.2f V", res.Sample.Voltage)
		rpm = fmt.Sprintf("%.0f", res.Sample.RPM)
	}

	notes := d.notes
	if res.Err != nil {
		notes = append(notes, "fetch failed: "+res.Err.Error())
	}
	if res.Decision.Suppress {
		notes = append(notes, "suppressed")
	}
	d.notes = nil

	d.table.AddRow(res.At.Format("15:04:05.000"), rate, voltage, rpm, string(res.Decision.State), strings.Join(notes, "; "))
	d.rows++
	d.state = res.Decision.State

	if d.rows >= diagnosticBatch {
		d.flushLocked()
	}
}

// Flush prints pending rows.
func (d *Diagnostic) Flush() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.flushLocked()
}

func (d *Diagnostic) flushLocked() {
	if d.rows == 0 {
		return
	}
	fmt.Fprintln(d.w, d.table.String())
	fmt.Fprintln(d.w)
	d.table = newDiagnosticTable()
	d.rows = 0
}
