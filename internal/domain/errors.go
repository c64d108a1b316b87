package domain

import "errors"

// RetriableError defines an interface for errors that can be retried
type RetriableError interface {
	error
	IsRetriable() bool
}

// IsRetriable checks if an error is retriable
func IsRetriable(err error) bool {
	var re RetriableError
	if errors.As(err, &re) {
		return re.IsRetriable()
	}
	return false
}

// MalformedMessageError is reported when a feed frame cannot be decoded or
// carries an unrecognized feed tag. The frame is dropped and the book is left untouched.
type MalformedMessageError struct {
	Reason string // Short description (e.g., "unrecognized feed tag")
	Err    error  // Underlying error, may be nil
}

func (e *MalformedMessageError) Error() string {
	if e.Err == nil {
		return "malformed message: " + e.Reason
	}
	return "malformed message: " + e.Reason + ": " + e.Err.Error()
}

func (e *MalformedMessageError) IsRetriable() bool {
	return false
}

func (e *MalformedMessageError) Is(target error) bool {
	return target == ErrMalformedMessage
}

func (e *MalformedMessageError) Unwrap() error {
	return e.Err
}

// NewMalformedMessage creates a MalformedMessageError
func NewMalformedMessage(reason string, err error) *MalformedMessageError {
	return &MalformedMessageError{Reason: reason, Err: err}
}

// TransportError represents a failure of the feed connection.
// The engine never retries; reconnect policy belongs to the transport.
type TransportError struct {
	Op  string // Operation that failed (e.g., "dial", "read", "send")
	Err error  // Underlying error
}

func (e *TransportError) Error() string {
	return "transport " + e.Op + ": " + e.Err.Error()
}

func (e *TransportError) IsRetriable() bool {
	return true
}

func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// NewTransportError creates a TransportError
func NewTransportError(op string, err error) *TransportError {
	return &TransportError{Op: op, Err: err}
}

// ConfigError represents a configuration error (never retriable)
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return "config error [" + e.Field + "]: " + e.Err.Error()
}

func (e *ConfigError) IsRetriable() bool {
	return false
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

var (
	// ErrMalformedMessage matches every MalformedMessageError.
	ErrMalformedMessage = errors.New("malformed message")

	// ErrTransport matches every TransportError.
	ErrTransport = errors.New("transport failure")

	// ErrInvalidSymbol is returned when a symbol is not supported or malformed. Not retriable.
	ErrInvalidSymbol = errors.New("invalid symbol")

	// ErrInvalidDenomination is returned for grouping widths outside the supported set.
	ErrInvalidDenomination = errors.New("invalid denomination")

	// ErrPricePrecision is returned when a price has more decimals than PriceScale.
	ErrPricePrecision = errors.New("price precision exceeds key scale")

	// ErrNotConnected is returned when a control message is sent without a live connection.
	ErrNotConnected = errors.New("not connected")
)
