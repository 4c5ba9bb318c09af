package modem

import "errors"

var (
	// ErrNoDialer is returned when a Modem is constructed without a Dialer.
	//
	// This indicates a configuration error. A Dialer is required in order to
	// establish a connection to the modem.
	ErrNoDialer = errors.New("no dialer configured")

	// ErrNotInitialized is returned when an operation is attempted on a Modem
	// that has not been successfully initialized.
	//
	// This can occur if the Dialer returned no Transport or if the Modem was
	// not created via New.
	ErrNotInitialized = errors.New("modem not initialized")

	// ErrAlreadyClosed is returned when Close is called on a Modem that has
	// already been closed.
	ErrAlreadyClosed = errors.New("modem already closed")

	// ErrConnection is returned when the transport cannot be opened, does not
	// answer the initial probe, or fails while a command is in flight.
	//
	// It is never retried internally.
	ErrConnection = errors.New("modem connection error")

	// ErrTimeout is returned by Send when no final result was received
	// within the command timeout. The connection remains usable and the
	// command may be resent.
	ErrTimeout = errors.New("AT command timeout")

	// ErrDataMode is returned when data mode I/O is attempted while the
	// data mode gate is closed.
	ErrDataMode = errors.New("data mode not active")

	// ErrDataModeActive is returned when data mode is entered twice or a
	// command is sent while a data mode session is open.
	ErrDataModeActive = errors.New("data mode active")
)
