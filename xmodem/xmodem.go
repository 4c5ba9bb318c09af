// Package xmodem implements XMODEM-CRC file transfer over a modem data
// mode connection.
//
// Blocks carry 128 bytes, padded with SUB (0x1A), and a CRC-16/XMODEM
// checksum. The receiver starts the transfer by sending 'C'.
package xmodem

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/sigurn/crc16"
	"go.uber.org/zap"
)

const (
	SOH   = 0x01
	EOT   = 0x04
	ACK   = 0x06
	NAK   = 0x15
	CAN   = 0x18
	Pad   = 0x1A
	Start = 'C'

	BlockSize = 128
	// BlockLen is the size of a framed block: SOH, sequence, complement,
	// data and a big endian CRC.
	BlockLen = 3 + BlockSize + 2
)

var (
	ErrCancelled  = errors.New("xmodem: transfer cancelled by peer")
	ErrTimeout    = errors.New("xmodem: timeout")
	ErrRetries    = errors.New("xmodem: too many retries")
	ErrBadBlock   = errors.New("xmodem: malformed block")
	ErrOutOfOrder = errors.New("xmodem: block out of sequence")
)

var table = crc16.MakeTable(crc16.CRC16_XMODEM)

// Checksum is the CRC-16/XMODEM of data.
func Checksum(data []byte) uint16 {
	return crc16.Checksum(data, table)
}

// EncodeBlock frames up to BlockSize bytes of data as block seq.
func EncodeBlock(seq byte, data []byte) []byte {
	block := make([]byte, BlockLen)
	block[0] = SOH
	block[1] = seq
	block[2] = ^seq
	payload := block[3 : 3+BlockSize]
	n := copy(payload, data)
	for i := n; i < BlockSize; i++ {
		payload[i] = Pad
	}
	crc := Checksum(payload)
	block[BlockLen-2] = byte(crc >> 8)
	block[BlockLen-1] = byte(crc)
	return block
}

// DecodeBlock checks a framed block and returns its sequence number and
// payload.
func DecodeBlock(block []byte) (byte, []byte, error) {
	if len(block) != BlockLen || block[0] != SOH {
		return 0, nil, ErrBadBlock
	}
	if block[1] != ^block[2] {
		return 0, nil, fmt.Errorf("%w: sequence complement", ErrBadBlock)
	}
	payload := block[3 : 3+BlockSize]
	want := uint16(block[BlockLen-2])<<8 | uint16(block[BlockLen-1])
	if Checksum(payload) != want {
		return 0, nil, fmt.Errorf("%w: crc", ErrBadBlock)
	}
	return block[1], payload, nil
}

// Conn is the raw connection a transfer runs on. Read may return 0, nil
// when no data arrived within its poll interval.
type Conn interface {
	io.Reader
	io.Writer
}

type options struct {
	timeout time.Duration
	retries int
	started bool
	logger  *zap.Logger
}

// Option configures a transfer.
type Option func(*options)

// WithTimeout sets how long to wait for each reply. Defaults to 10s.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithRetries sets how often a block or start request is repeated.
// Defaults to 10.
func WithRetries(n int) Option {
	return func(o *options) { o.retries = n }
}

// WithLogger sets the logger used for transfer progress.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// Started tells Send the receiver's 'C' has already been consumed, as
// happens when it served as the intermediate prompt of the command that
// opened data mode.
func Started() Option {
	return func(o *options) { o.started = true }
}

func newOptions(opts []Option) options {
	o := options{
		timeout: 10 * time.Second,
		retries: 10,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Send transmits data to an XMODEM-CRC receiver.
func Send(ctx context.Context, conn Conn, data []byte, opts ...Option) error {
	o := newOptions(opts)
	logger := o.logger.With(zap.String("component", "xmodem"))

	if !o.started {
		if err := awaitStart(ctx, conn, o); err != nil {
			return err
		}
	}

	seq := byte(1)
	for off := 0; ; off += BlockSize {
		end := min(off+BlockSize, len(data))
		block := EncodeBlock(seq, data[off:end])
		if err := sendBlock(ctx, conn, block, o); err != nil {
			return fmt.Errorf("block %d: %w", seq, err)
		}
		logger.Debug("block sent", zap.Uint8("seq", seq), zap.Int("offset", off))
		seq++
		if end >= len(data) {
			break
		}
	}

	if err := sendBlock(ctx, conn, []byte{EOT}, o); err != nil {
		return fmt.Errorf("eot: %w", err)
	}
	logger.Debug("transfer sent", zap.Int("bytes", len(data)))
	return nil
}

func awaitStart(ctx context.Context, conn Conn, o options) error {
	deadline := time.Now().Add(o.timeout)
	for {
		b, err := readByte(ctx, conn, deadline)
		if err != nil {
			return err
		}
		switch b {
		case Start:
			return nil
		case CAN:
			return ErrCancelled
		}
	}
}

// sendBlock writes block until it is acknowledged. A stray 'C' from a
// receiver repeating its start request is ignored.
func sendBlock(ctx context.Context, conn Conn, block []byte, o options) error {
	for attempt := 0; attempt < o.retries; attempt++ {
		if _, err := conn.Write(block); err != nil {
			return err
		}
		deadline := time.Now().Add(o.timeout)
	reply:
		for {
			b, err := readByte(ctx, conn, deadline)
			if errors.Is(err, ErrTimeout) {
				break reply
			}
			if err != nil {
				return err
			}
			switch b {
			case ACK:
				return nil
			case NAK:
				break reply
			case CAN:
				return ErrCancelled
			}
		}
	}
	return ErrRetries
}

// Receive requests and reads an XMODEM-CRC transfer. Trailing padding is
// removed from the returned data.
func Receive(ctx context.Context, conn Conn, opts ...Option) ([]byte, error) {
	o := newOptions(opts)
	logger := o.logger.With(zap.String("component", "xmodem"))

	var data bytes.Buffer
	expected := byte(1)
	started := false
	request := true
	failures := 0

	for {
		if request {
			if _, err := conn.Write([]byte{Start}); err != nil {
				return nil, err
			}
			request = false
		}
		b, err := readByte(ctx, conn, time.Now().Add(o.timeout))
		if errors.Is(err, ErrTimeout) {
			if failures++; failures >= o.retries {
				return nil, ErrRetries
			}
			request = !started
			if started {
				if _, err := conn.Write([]byte{NAK}); err != nil {
					return nil, err
				}
			}
			continue
		}
		if err != nil {
			return nil, err
		}

		switch b {
		case SOH:
			started = true
			block := make([]byte, BlockLen)
			block[0] = SOH
			if err := readFull(ctx, conn, block[1:], time.Now().Add(o.timeout)); err != nil && !errors.Is(err, ErrTimeout) {
				return nil, err
			}
			seq, payload, err := DecodeBlock(block)
			switch {
			case err != nil:
				logger.Debug("bad block", zap.Error(err))
				if failures++; failures >= o.retries {
					return nil, ErrRetries
				}
				if _, err := conn.Write([]byte{NAK}); err != nil {
					return nil, err
				}
				continue
			case seq == expected:
				data.Write(payload)
				expected++
			case seq == expected-1:
				// retransmission of a block already acknowledged
			default:
				conn.Write([]byte{CAN, CAN})
				return nil, ErrOutOfOrder
			}
			failures = 0
			if _, err := conn.Write([]byte{ACK}); err != nil {
				return nil, err
			}
			logger.Debug("block received", zap.Uint8("seq", seq))

		case EOT:
			if _, err := conn.Write([]byte{ACK}); err != nil {
				return nil, err
			}
			out := bytes.TrimRight(data.Bytes(), string([]byte{Pad}))
			logger.Debug("transfer received", zap.Int("bytes", len(out)))
			return out, nil

		case CAN:
			return nil, ErrCancelled
		}
	}
}

func readByte(ctx context.Context, conn Conn, deadline time.Time) (byte, error) {
	var b [1]byte
	if err := readFull(ctx, conn, b[:], deadline); err != nil {
		return 0, err
	}
	return b[0], nil
}

func readFull(ctx context.Context, conn Conn, p []byte, deadline time.Time) error {
	read := 0
	for read < len(p) {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := conn.Read(p[read:])
		read += n
		if err != nil {
			return err
		}
		if read < len(p) && time.Now().After(deadline) {
			return ErrTimeout
		}
	}
	return nil
}
