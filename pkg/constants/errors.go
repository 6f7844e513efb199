package constants

import "errors"

var (
	ErrClosed          = errors.New("connection closed")
	ErrNoBaseURL       = errors.New("base url not set")
	ErrNoMarshaler     = errors.New("marshaler is not set")
	ErrNoUnmarshaler   = errors.New("unmarshaler is not set")
	ErrChannelInUse    = errors.New("channel already registered for document")
	ErrNotJoined       = errors.New("session has not joined a room")
	ErrInvalidDocument = errors.New("invalid document reference")
)
