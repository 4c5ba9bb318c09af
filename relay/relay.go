// Package relay serves a local modem transport over TCP so a remote
// client can drive the modem with modem.TCPDialer.
//
// One client is bridged at a time: the serial line has a single owner and
// interleaving two command streams would corrupt both. Further clients
// queue in the listen backlog until the current one disconnects.
package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"i4.energy/across/atcommand/at"
	"i4.energy/across/atcommand/modem"
)

// errHangup ends a bridge when the client disconnects.
var errHangup = errors.New("client disconnected")

// Server bridges TCP clients to the transport opened by Dialer.
type Server struct {
	Dialer modem.Dialer
	Logger *zap.Logger
	// PollInterval bounds every blocking read so shutdown is noticed.
	// Defaults to 50ms.
	PollInterval time.Duration
	// BufferSize is the chunk size copied in each direction. Defaults to
	// 1024.
	BufferSize int
}

func (s *Server) setDefaults() {
	if s.Logger == nil {
		s.Logger = zap.NewNop()
	}
	if s.PollInterval == 0 {
		s.PollInterval = 50 * time.Millisecond
	}
	if s.BufferSize == 0 {
		s.BufferSize = 1024
	}
}

// ListenAndServe listens on address and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context, address string) error {
	ln, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("relay: listen %s: %w", address, err)
	}
	return s.Serve(ctx, ln)
}

// Serve opens the transport and bridges clients accepted on ln until ctx
// is cancelled. It returns nil on cancellation.
func (s *Server) Serve(ctx context.Context, ln net.Listener) (err error) {
	s.setDefaults()
	logger := s.Logger.With(zap.String("component", "relay"))
	if s.Dialer == nil {
		ln.Close()
		return modem.ErrNoDialer
	}

	transport, err := s.Dialer.Dial(ctx)
	if err != nil {
		ln.Close()
		return fmt.Errorf("relay: %w: %w", modem.ErrConnection, err)
	}
	defer func() {
		err = multierr.Append(err, transport.Close())
	}()
	if err := transport.SetReadTimeout(s.PollInterval); err != nil {
		ln.Close()
		return fmt.Errorf("relay: set read timeout: %w", err)
	}

	logger.Info("listening", zap.String("address", ln.Addr().String()))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-ctx.Done()
		ln.Close()
		return nil
	})
	g.Go(func() error {
		for {
			conn, err := ln.Accept()
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("relay: accept: %w", err)
			}
			clog := logger.With(zap.String("remote", conn.RemoteAddr().String()))
			clog.Info("client connected")
			if err := s.bridge(ctx, conn, transport, clog); err != nil {
				clog.Warn("bridge failed", zap.Error(err))
				if errors.Is(err, modem.ErrConnection) {
					return err
				}
				continue
			}
			clog.Info("client disconnected")
		}
	})
	return g.Wait()
}

// bridge copies bytes in both directions until the client hangs up, ctx
// is cancelled or either side fails.
func (s *Server) bridge(ctx context.Context, conn net.Conn, transport modem.Transport, logger *zap.Logger) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		buf := make([]byte, s.BufferSize)
		for ctx.Err() == nil {
			n, err := transport.Read(buf)
			if n > 0 {
				logger.Debug("serial rx", zap.String("data", at.Printable(string(buf[:n]))))
				if _, err := conn.Write(buf[:n]); err != nil {
					return fmt.Errorf("client write: %w", err)
				}
			}
			if err != nil {
				return fmt.Errorf("%w: serial read: %w", modem.ErrConnection, err)
			}
		}
		return nil
	})

	g.Go(func() error {
		buf := make([]byte, s.BufferSize)
		for ctx.Err() == nil {
			if err := conn.SetReadDeadline(time.Now().Add(s.PollInterval)); err != nil {
				return err
			}
			n, err := conn.Read(buf)
			if n > 0 {
				logger.Debug("serial tx", zap.String("data", at.Printable(string(buf[:n]))))
				if _, err := transport.Write(buf[:n]); err != nil {
					return fmt.Errorf("%w: serial write: %w", modem.ErrConnection, err)
				}
			}
			switch {
			case err == nil, errors.Is(err, os.ErrDeadlineExceeded):
			case errors.Is(err, io.EOF):
				return errHangup
			default:
				return fmt.Errorf("client read: %w", err)
			}
		}
		return nil
	})

	err := g.Wait()
	if errors.Is(err, errHangup) {
		err = nil
	}
	return multierr.Append(err, conn.Close())
}
