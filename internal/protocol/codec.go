package protocol

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
)

// DefaultMaxFrameBytes bounds the declared payload length of an incoming
// frame. The framing itself supports arbitrary sizes; the cap protects the
// reader from a hostile or corrupted length prefix.
const DefaultMaxFrameBytes = 1 << 20

const lengthDelimiter = '.'

var (
	ErrEmptyPayload  = errors.New("empty payload")
	ErrBadFrame      = errors.New("malformed length prefix")
	ErrFrameTooLarge = errors.New("frame exceeds size limit")
	ErrUnknownType   = errors.New("unknown packet type")
)

// Encoder writes packets framed as "<decimal-length>.<base64(json)>".
type Encoder struct {
	writer io.Writer
}

// Decoder reads packets framed as "<decimal-length>.<base64(json)>".
type Decoder struct {
	reader   *bufio.Reader
	maxFrame int
}

// NewEncoder creates a new encoder for the given writer.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{writer: w}
}

// NewDecoder creates a new decoder for the given reader.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{reader: bufio.NewReader(r), maxFrame: DefaultMaxFrameBytes}
}

// SetMaxFrame overrides the declared-length cap.
func (d *Decoder) SetMaxFrame(n int) {
	if n > 0 {
		d.maxFrame = n
	}
}

// Encode writes the packet to the underlying writer.
func (e *Encoder) Encode(ctx context.Context, pkt Packet) error {
	data, err := json.Marshal(pkt)
	if err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	payload := base64.StdEncoding.EncodeToString(data)
	frame := make([]byte, 0, len(payload)+12)
	frame = strconv.AppendInt(frame, int64(len(payload)), 10)
	frame = append(frame, lengthDelimiter)
	frame = append(frame, payload...)

	_, err = e.writer.Write(frame)
	return err
}

// Decode reads the next packet from the stream. The length prefix is
// accumulated one byte at a time until the delimiter, then exactly that
// many payload bytes are read.
func (d *Decoder) Decode(ctx context.Context) (Packet, error) {
	length, err := d.readLength(ctx)
	if err != nil {
		return nil, err
	}

	payload := make([]byte, length)
	if err := d.readFull(ctx, payload); err != nil {
		return nil, err
	}

	data := make([]byte, base64.StdEncoding.DecodedLen(len(payload)))
	n, err := base64.StdEncoding.Decode(data, payload)
	if err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	data = data[:n]
	if len(data) == 0 {
		return nil, ErrEmptyPayload
	}

	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("decode packet: %w", err)
	}

	switch probe.Type {
	case TypeRequest:
		var req Request
		if err := json.Unmarshal(data, &req); err != nil {
			return nil, fmt.Errorf("decode request: %w", err)
		}
		return req, nil
	case TypeResponse:
		var resp Response
		if err := json.Unmarshal(data, &resp); err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
		return resp, nil
	default:
		return nil, ErrUnknownType
	}
}

func (d *Decoder) readLength(ctx context.Context) (int, error) {
	digits := make([]byte, 0, 12)
	for {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		default:
		}

		b, err := d.reader.ReadByte()
		if err != nil {
			return 0, err
		}
		if b == lengthDelimiter {
			break
		}
		if b < '0' || b > '9' {
			return 0, ErrBadFrame
		}
		digits = append(digits, b)
		if len(digits) > 10 {
			return 0, ErrBadFrame
		}
	}
	if len(digits) == 0 {
		return 0, ErrBadFrame
	}

	length, err := strconv.Atoi(string(digits))
	if err != nil {
		return 0, ErrBadFrame
	}
	if length == 0 {
		return 0, ErrEmptyPayload
	}
	if length > d.maxFrame {
		return 0, ErrFrameTooLarge
	}
	return length, nil
}

func (d *Decoder) readFull(ctx context.Context, buf []byte) error {
	read := 0
	for read < len(buf) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, err := d.reader.Read(buf[read:])
		if err != nil {
			return err
		}
		read += n
	}
	return nil
}
