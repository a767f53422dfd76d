package wdsp

import "errors"

var (
	// ErrInvalidChannel is returned for ids outside 0..MaxChannels-1.
	ErrInvalidChannel = errors.New("invalid channel id")
	ErrChannelOpen    = errors.New("channel already open")
	ErrChannelNotOpen = errors.New("channel not open")
	ErrChannelClosed  = errors.New("channel closed")
	ErrInvalidConfig  = errors.New("invalid channel config")
	// ErrBufferSize is returned by Exchange when the caller's buffers do not
	// match the channel's current sizes.
	ErrBufferSize = errors.New("buffer size mismatch")
	// ErrOutputUnderflow means Exchange padded its output with zeros.
	ErrOutputUnderflow = errors.New("output underflow")
)
