// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gantry Contributors

package transport

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
	"go.bug.st/serial"
)

// Serial defaults.
const (
	DefaultBaudRate   = 115200
	DefaultAckTimeout = 10 * time.Second

	connectBaseDelay  = 250 * time.Millisecond
	connectMaxRetries = 4
)

// openPort is swapped in tests to avoid touching real hardware.
var openPort = func(name string, mode *serial.Mode) (io.ReadWriteCloser, error) {
	return serial.Open(name, mode)
}

// Serial streams lines to a controller over a serial port, one
// acknowledged line at a time.
type Serial struct {
	portName   string
	baudRate   int
	ackTimeout time.Duration

	mu        sync.Mutex // serializes SendLine and guards port state
	port      io.ReadWriteCloser
	connected bool

	acks      chan string
	telemetry chan Message
	readerWG  sync.WaitGroup

	closeOnce sync.Once
}

// SerialOption configures a Serial transport.
type SerialOption func(*Serial)

// WithBaudRate sets the port speed.
func WithBaudRate(baud int) SerialOption {
	return func(s *Serial) {
		if baud > 0 {
			s.baudRate = baud
		}
	}
}

// WithAckTimeout bounds the wait for a controller acknowledgment.
func WithAckTimeout(d time.Duration) SerialOption {
	return func(s *Serial) {
		if d > 0 {
			s.ackTimeout = d
		}
	}
}

// NewSerial creates a serial transport for the named port. The link is
// not opened until Connect.
func NewSerial(portName string, opts ...SerialOption) *Serial {
	s := &Serial{
		portName:   portName,
		baudRate:   DefaultBaudRate,
		ackTimeout: DefaultAckTimeout,
		acks:       make(chan string, 1),
		telemetry:  make(chan Message, 100),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Connect opens the port, retrying with exponential backoff since
// controllers reset on connect and may not enumerate immediately.
func (s *Serial) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.connected {
		return nil
	}

	mode := &serial.Mode{BaudRate: s.baudRate}
	backoff := retry.WithMaxRetries(connectMaxRetries, retry.NewExponential(connectBaseDelay))

	var port io.ReadWriteCloser
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		p, err := openPort(s.portName, mode)
		if err != nil {
			slog.Debug("serial open failed, retrying",
				"port", s.portName,
				"error", err)
			return retry.RetryableError(err)
		}
		port = p
		return nil
	})
	if err != nil {
		return oops.In("transport").
			Code(CodeNotConnected).
			With("port", s.portName).
			With("baud", s.baudRate).
			Hint("failed to open serial port").
			Wrap(err)
	}

	s.port = port
	s.connected = true
	s.readerWG.Add(1)
	go s.readLoop(port)

	slog.Info("serial port connected",
		"port", s.portName,
		"baud", s.baudRate)
	return nil
}

// SendLine writes one line and blocks until the controller answers.
// An "error:N" or ALARM response is returned together with a
// CONTROLLER_FAULT error; a silent controller yields an ack timeout.
func (s *Serial) SendLine(ctx context.Context, line string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return "", oops.In("transport").Code(CodeNotConnected).New("serial port not connected")
	}

	// Drain a stale ack left by a previous timed-out send.
	select {
	case <-s.acks:
	default:
	}

	if _, err := s.port.Write([]byte(line + "\n")); err != nil {
		return "", oops.In("transport").
			Code(CodeDisconnected).
			With("port", s.portName).
			With("line", line).
			Hint("write failed").
			Wrap(err)
	}

	timer := time.NewTimer(s.ackTimeout)
	defer timer.Stop()

	select {
	case resp, ok := <-s.acks:
		if !ok {
			return "", oops.In("transport").Code(CodeDisconnected).New("serial link closed while awaiting acknowledgment")
		}
		if IsFaultResponse(resp) {
			return resp, oops.In("transport").
				Code(CodeControllerFault).
				With("port", s.portName).
				With("line", line).
				With("response", resp).
				New("controller rejected line")
		}
		return resp, nil
	case <-timer.C:
		return "", oops.In("transport").
			Code(CodeAckTimeout).
			With("port", s.portName).
			With("line", line).
			With("timeout", s.ackTimeout.String()).
			New("controller did not acknowledge line")
	case <-ctx.Done():
		return "", oops.In("transport").Code(CodeDisconnected).Wrap(ctx.Err())
	}
}

// Telemetry returns the unsolicited controller output channel.
func (s *Serial) Telemetry() <-chan Message {
	return s.telemetry
}

// Close closes the port and drains the reader.
func (s *Serial) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		if s.port != nil {
			err = s.port.Close()
		}
		s.connected = false
		s.mu.Unlock()

		s.readerWG.Wait()
		close(s.telemetry)
	})
	return err
}

// readLoop classifies every controller line: acknowledgments satisfy
// the pending send, everything (responses included) flows to telemetry.
func (s *Serial) readLoop(r io.Reader) {
	defer s.readerWG.Done()
	defer close(s.acks)

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}

		kind := Classify(line)
		if IsAck(line) {
			select {
			case s.acks <- line:
			default:
				// No pending send; unsolicited response.
			}
		}

		select {
		case s.telemetry <- Message{Kind: kind, Line: line, Time: time.Now()}:
		default:
			slog.Warn("telemetry dropped: buffer full", "line", line)
		}
	}
	if err := scanner.Err(); err != nil {
		slog.Warn("serial read loop ended", "port", s.portName, "error", err)
	}
}
