package hl7v2

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog"
)

const (
	// MLLPStartBlock is the MLLP start-of-message byte (VT / vertical tab).
	MLLPStartBlock = 0x0B

	// MLLPEndBlock is the MLLP end-of-message byte (FS / file separator).
	MLLPEndBlock = 0x1C

	// MLLPCarriageReturn is the trailing CR after the end block.
	MLLPCarriageReturn = 0x0D

	// mllpMaxMessageSize caps the acknowledgment buffer (1 MB).
	mllpMaxMessageSize = 1 << 20

	// DefaultMLLPTimeout bounds dial, write and the ACK read together.
	DefaultMLLPTimeout = 10 * time.Second
)

// NackError is returned when the receiver answers with anything other than
// an accept acknowledgment.
type NackError struct {
	Code string
	Text string
}

func (e *NackError) Error() string {
	if e.Text == "" {
		return fmt.Sprintf("mllp: receiver rejected message with %s", e.Code)
	}
	return fmt.Sprintf("mllp: receiver rejected message with %s: %s", e.Code, e.Text)
}

// MLLPSender delivers messages to an MLLP/TCP receiver and waits for the
// acknowledgment.
type MLLPSender struct {
	addr    string
	timeout time.Duration
	logger  zerolog.Logger
	dial    func(ctx context.Context, network, address string) (net.Conn, error)
}

// SenderOption configures an MLLPSender.
type SenderOption func(*MLLPSender)

// WithSendTimeout overrides DefaultMLLPTimeout.
func WithSendTimeout(d time.Duration) SenderOption {
	return func(s *MLLPSender) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithSenderLogger sets the logger for deliveries.
func WithSenderLogger(logger zerolog.Logger) SenderOption {
	return func(s *MLLPSender) { s.logger = logger }
}

// NewMLLPSender creates a sender for host:port.
func NewMLLPSender(addr string, opts ...SenderOption) *MLLPSender {
	s := &MLLPSender{
		addr:    addr,
		timeout: DefaultMLLPTimeout,
		logger:  zerolog.Nop(),
		dial:    (&net.Dialer{}).DialContext,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Addr returns the receiver address.
func (s *MLLPSender) Addr() string { return s.addr }

// Send frames message, writes it, and reads one framed acknowledgment. The
// parsed ACK is returned together with a *NackError when MSA-1 is not AA or CA.
func (s *MLLPSender) Send(ctx context.Context, message string) (*Message, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	conn, err := s.dial(ctx, "tcp", s.addr)
	if err != nil {
		return nil, fmt.Errorf("mllp: dial %s: %w", s.addr, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			return nil, fmt.Errorf("mllp: set deadline on %s: %w", s.addr, err)
		}
	}

	start := time.Now()
	if _, err := conn.Write(FrameMessage([]byte(message))); err != nil {
		return nil, fmt.Errorf("mllp: write to %s: %w", s.addr, err)
	}

	raw, err := readFrame(conn)
	if err != nil {
		return nil, fmt.Errorf("mllp: read ack from %s: %w", s.addr, err)
	}

	ack, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("mllp: invalid ack: %w", err)
	}

	code := ack.AckCode()
	s.logger.Info().
		Str("addr", s.addr).
		Str("ack_code", code).
		Str("control_id", ack.ControlID).
		Dur("latency", time.Since(start)).
		Msg("mllp delivery")

	if code != "AA" && code != "CA" {
		return ack, &NackError{Code: code, Text: ack.AckText()}
	}
	return ack, nil
}

// readFrame reads from conn until a complete MLLP frame has arrived.
func readFrame(conn net.Conn) ([]byte, error) {
	var buf []byte
	chunk := make([]byte, 4096)
	for {
		n, err := conn.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			if msg, _, found := UnframeMessage(buf); found {
				return msg, nil
			}
			if len(buf) > mllpMaxMessageSize {
				return nil, fmt.Errorf("frame exceeds %d bytes", mllpMaxMessageSize)
			}
		}
		if err != nil {
			return nil, err
		}
	}
}

// FrameMessage wraps raw HL7 v2 bytes in MLLP framing:
//
//	<0x0B> + message + <0x1C><0x0D>
func FrameMessage(data []byte) []byte {
	frame := make([]byte, 0, len(data)+3)
	frame = append(frame, MLLPStartBlock)
	frame = append(frame, data...)
	frame = append(frame, MLLPEndBlock, MLLPCarriageReturn)
	return frame
}

// UnframeMessage extracts the first complete frame from data. It returns the
// message, the bytes after the frame, and whether a frame was found.
func UnframeMessage(data []byte) (message []byte, rest []byte, found bool) {
	startIdx := bytes.IndexByte(data, MLLPStartBlock)
	if startIdx == -1 {
		return nil, data, false
	}

	endIdx := bytes.Index(data[startIdx+1:], []byte{MLLPEndBlock, MLLPCarriageReturn})
	if endIdx == -1 {
		return nil, data, false
	}
	endIdx += startIdx + 1

	return data[startIdx+1 : endIdx], data[endIdx+2:], true
}
