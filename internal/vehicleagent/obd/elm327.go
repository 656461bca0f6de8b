package obd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"
	"k8s.io/utils/clock"

	"github.com/barnapet/smartdrive/internal/pkg/model"
	"github.com/barnapet/smartdrive/pkg/log"
)

// Mode 01 PIDs read by the agent.
const (
	pidCoolantTemp = "05"
	pidRPM         = "0C"
	pidSpeed       = "0D"
	pidIntakeTemp  = "0F"
)

const prompt = '>'

// Port is the serial connection to the adapter. go.bug.st/serial ports
// satisfy it.
type Port interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
}

// Opener opens a serial port by name.
type Opener func(name string, baud int) (Port, error)

// PortLister lists candidate serial ports when none is configured.
type PortLister func() ([]string, error)

// ELM327Config configures the adapter connection.
type ELM327Config struct {
	VIN string
	// Port is the serial device. Empty scans every port.
	Port     string
	BaudRate int
	// FastMode appends the expected response count to mode 01 requests, so
	// the adapter answers without waiting for more ECUs.
	FastMode bool
	// QueryTimeout bounds one request when the context has no deadline.
	QueryTimeout time.Duration
}

// ELM327 reads samples from an ELM327 compatible OBD-II adapter.
type ELM327 struct {
	cfg   ELM327Config
	open  Opener
	list  PortLister
	clock clock.PassiveClock
	log   log.Logger

	mu   sync.Mutex
	port Port
	name string
}

var (
	_ Source      = (*ELM327)(nil)
	_ FastFetcher = (*ELM327)(nil)
)

// NewELM327 returns an adapter source using the system serial ports.
func NewELM327(cfg ELM327Config, clk clock.PassiveClock) *ELM327 {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = 38400
	}
	if cfg.QueryTimeout == 0 {
		cfg.QueryTimeout = time.Second
	}
	return &ELM327{
		cfg:   cfg,
		open:  openSerial,
		list:  serial.GetPortsList,
		clock: clk,
		log:   log.WithName("elm327"),
	}
}

func openSerial(name string, baud int) (Port, error) {
	p, err := serial.Open(name, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Connect opens the configured port, or scans all ports, and initialises the
// adapter. It fails when the adapter answers but the ECU does not, which is
// the usual state with the ignition off.
func (e *ELM327) Connect(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.closeLocked()

	candidates := []string{e.cfg.Port}
	if e.cfg.Port == "" {
		ports, err := e.list()
		if err != nil {
			return fmt.Errorf("list serial ports: %w", err)
		}
		if len(ports) == 0 {
			return fmt.Errorf("%w: no serial ports found", ErrDisconnected)
		}
		candidates = ports
	}

	var errs []error
	for _, name := range candidates {
		if err := e.attempt(ctx, name); err != nil {
			e.log.Warn("Adapter not ready", "port", name, "error", err.Error())
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		e.log.Info("Adapter connected", "port", name, "baud", e.cfg.BaudRate)
		return nil
	}
	return errors.Join(errs...)
}

func (e *ELM327) attempt(ctx context.Context, name string) error {
	port, err := e.open(name, e.cfg.BaudRate)
	if err != nil {
		return err
	}
	if err := port.SetReadTimeout(50 * time.Millisecond); err != nil {
		_ = port.Close()
		return err
	}
	e.port, e.name = port, name

	init := []struct {
		cmd     string
		timeout time.Duration
	}{
		{"ATZ", 3 * time.Second},
		{"ATE0", 0},
		{"ATL0", 0},
		{"ATS0", 0},
		{"ATH0", 0},
		{"ATSP0", 0},
	}
	for _, step := range init {
		if _, err := e.queryLocked(ctx, step.cmd, step.timeout); err != nil {
			e.closeLocked()
			return fmt.Errorf("init %s: %w", step.cmd, err)
		}
	}

	// 0100 lists supported PIDs. The first one triggers protocol search, so
	// it gets a longer budget.
	resp, err := e.queryLocked(ctx, "0100", 5*time.Second)
	if err == nil {
		_, err = decodePID(resp, "00", 4)
	}
	if err != nil {
		e.closeLocked()
		return fmt.Errorf("ecu not responding: %w", err)
	}
	return nil
}

// Fetch reads all fields. RPM and voltage are required; missing speed or
// temperatures are tolerated.
func (e *ELM327) Fetch(ctx context.Context) (model.TelemetrySample, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.port == nil {
		return model.TelemetrySample{}, ErrDisconnected
	}

	rpm, err := e.readRPM(ctx)
	if err != nil {
		return model.TelemetrySample{}, err
	}
	voltage, err := e.readVoltage(ctx)
	if err != nil {
		return model.TelemetrySample{}, err
	}

	s := model.TelemetrySample{
		VIN:       e.cfg.VIN,
		Timestamp: e.clock.Now(),
		RPM:       rpm,
		Voltage:   voltage,
	}

	if v, err := e.readByte(ctx, pidSpeed); err == nil {
		s.Speed = v
	} else if !errors.Is(err, ErrNoData) {
		return model.TelemetrySample{}, err
	}
	if v, err := e.readByte(ctx, pidCoolantTemp); err == nil {
		c := v - 40
		s.CoolantTemp = &c
	} else if !errors.Is(err, ErrNoData) {
		return model.TelemetrySample{}, err
	}
	if v, err := e.readByte(ctx, pidIntakeTemp); err == nil {
		i := v - 40
		s.IntakeTemp = &i
	} else if !errors.Is(err, ErrNoData) {
		return model.TelemetrySample{}, err
	}

	return s, nil
}

// FetchFast refreshes RPM and the raw adapter voltage only. The result is a
// new sample; prev is not modified.
func (e *ELM327) FetchFast(ctx context.Context, prev model.TelemetrySample) (model.TelemetrySample, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.port == nil {
		return model.TelemetrySample{}, ErrDisconnected
	}

	rpm, err := e.readRPM(ctx)
	if err != nil {
		return model.TelemetrySample{}, err
	}
	voltage, err := e.readVoltage(ctx)
	if err != nil {
		return model.TelemetrySample{}, err
	}

	s := prev.WithVoltage(voltage)
	s.VIN = e.cfg.VIN
	s.RPM = rpm
	s.Timestamp = e.clock.Now()
	return s, nil
}

func (e *ELM327) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closeLocked()
}

func (e *ELM327) closeLocked() error {
	if e.port == nil {
		return nil
	}
	err := e.port.Close()
	e.port = nil
	return err
}

// readRPM treats NO DATA as a stopped engine; many ECUs answer that way with
// the ignition on and the engine off.
func (e *ELM327) readRPM(ctx context.Context) (float64, error) {
	resp, err := e.queryLocked(ctx, e.mode01(pidRPM), 0)
	if err != nil {
		if errors.Is(err, ErrNoData) {
			return 0, nil
		}
		return 0, err
	}
	data, err := decodePID(resp, pidRPM, 2)
	if err != nil {
		return 0, err
	}
	return float64(int(data[0])*256+int(data[1])) / 4, nil
}

func (e *ELM327) readByte(ctx context.Context, pid string) (float64, error) {
	resp, err := e.queryLocked(ctx, e.mode01(pid), 0)
	if err != nil {
		return 0, err
	}
	data, err := decodePID(resp, pid, 1)
	if err != nil {
		return 0, err
	}
	return float64(data[0]), nil
}

// readVoltage uses ATRV, the adapter's own supply measurement, which is
// answered without a bus round trip.
func (e *ELM327) readVoltage(ctx context.Context) (float64, error) {
	resp, err := e.queryLocked(ctx, "ATRV", 0)
	if err != nil {
		return 0, err
	}
	return parseVoltage(resp)
}

func (e *ELM327) mode01(pid string) string {
	if e.cfg.FastMode {
		return "01" + pid + "1"
	}
	return "01" + pid
}

// queryLocked writes one command and reads up to the prompt. I/O failures
// close the port and surface as ErrDisconnected.
func (e *ELM327) queryLocked(ctx context.Context, cmd string, timeout time.Duration) (string, error) {
	if timeout == 0 {
		timeout = e.cfg.QueryTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if _, err := e.port.Write([]byte(cmd + "\r")); err != nil {
		e.closeLocked()
		return "", fmt.Errorf("%w: write %s: %v", ErrDisconnected, cmd, err)
	}

	var buf bytes.Buffer
	chunk := make([]byte, 64)
	for {
		if err := ctx.Err(); err != nil {
			return "", fmt.Errorf("%w: %s timed out", ErrDisconnected, cmd)
		}
		n, err := e.port.Read(chunk)
		if err != nil {
			e.closeLocked()
			return "", fmt.Errorf("%w: read %s: %v", ErrDisconnected, cmd, err)
		}
		buf.Write(chunk[:n])
		if i := bytes.IndexByte(buf.Bytes(), prompt); i >= 0 {
			return classify(cmd, buf.String()[:i])
		}
	}
}

// classify normalises a raw reply and maps adapter error strings to errors.
func classify(cmd, raw string) (string, error) {
	var lines []string
	for _, line := range strings.FieldsFunc(raw, func(r rune) bool { return r == '\r' || r == '\n' }) {
		line = strings.TrimSpace(line)
		if line == "" || line == cmd || strings.HasPrefix(line, "SEARCHING") {
			continue
		}
		lines = append(lines, strings.ToUpper(line))
	}
	resp := strings.Join(lines, "\n")

	switch {
	case resp == "?":
		return "", fmt.Errorf("adapter rejected command %s", cmd)
	case strings.Contains(resp, "NO DATA"):
		return "", ErrNoData
	case strings.Contains(resp, "UNABLE TO CONNECT"),
		strings.Contains(resp, "CAN ERROR"),
		strings.Contains(resp, "BUS ERROR"),
		strings.Contains(resp, "BUS INIT"),
		strings.Contains(resp, "STOPPED"):
		return "", fmt.Errorf("%w: %s", ErrDisconnected, resp)
	}
	return resp, nil
}

// decodePID extracts the data bytes of a mode 01 reply "41<pid><data>" from
// the first matching line.
func decodePID(resp, pid string, size int) ([]byte, error) {
	header := "41" + pid
	for _, line := range strings.Split(resp, "\n") {
		line = strings.ReplaceAll(line, " ", "")
		if !strings.HasPrefix(line, header) {
			continue
		}
		hex := line[len(header):]
		if len(hex) < size*2 {
			return nil, fmt.Errorf("short reply %q for pid %s", line, pid)
		}
		out := make([]byte, size)
		for i := range out {
			b, err := strconv.ParseUint(hex[i*2:i*2+2], 16, 8)
			if err != nil {
				return nil, fmt.Errorf("bad reply %q for pid %s: %w", line, pid, err)
			}
			out[i] = byte(b)
		}
		return out, nil
	}
	return nil, fmt.Errorf("no reply for pid %s in %q", pid, resp)
}

// parseVoltage reads replies such as "12.6V".
func parseVoltage(resp string) (float64, error) {
	s := strings.TrimSuffix(strings.TrimSpace(resp), "V")
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("bad voltage reply %q: %w", resp, err)
	}
	return v, nil
}
