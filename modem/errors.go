package modem

import "errors"

var (
	// ErrNoDialer is returned when a Session is constructed without a Dialer.
	//
	// This indicates a configuration error. A Dialer is required in order to
	// establish a connection to the modem.
	ErrNoDialer = errors.New("no dialer configured")

	// ErrNotInitialized is returned when the Dialer produced no transport or
	// when an operation is attempted on a zero Session.
	ErrNotInitialized = errors.New("modem not initialized")

	// ErrAlreadyClosed is returned when Close is called twice or when an
	// operation is attempted after Close.
	ErrAlreadyClosed = errors.New("modem already closed")

	// ErrLoopRunning is returned when Loop is started while another Loop is
	// already reading the transport.
	ErrLoopRunning = errors.New("modem loop already running")

	// ErrSessionNotReady is returned when an operation is attempted in a
	// state that does not allow it, for example a push before bring-up
	// completed.
	ErrSessionNotReady = errors.New("modem session not ready")

	// ErrTokenNotFound is returned by ReadLatestMessage when the response
	// holds no delimiter or is too short to carry a control byte.
	ErrTokenNotFound = errors.New("no control token in message")

	// ErrNoPowerKey is returned by PowerOn when no power key line is
	// configured.
	ErrNoPowerKey = errors.New("no power key configured")

	// ErrVerifyFailed is returned when response verification is enabled and
	// a step's expected response never showed up within its retries.
	ErrVerifyFailed = errors.New("step verification failed")
)
