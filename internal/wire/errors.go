// Package wire implements the MySQL client/server wire protocol: primitive
// encoders/decoders, packet framing, and the typed packets the proxy
// terminates and re-emits.
package wire

import "errors"

// ErrMalformed is returned whenever a decoder would read past the end of
// the packet it was given, or encounters a tag the protocol disallows
// (e.g. the reserved 0xff length-encoded-integer prefix).
var ErrMalformed = errors.New("wire: malformed packet")

// ErrUnsupportedVersion is returned when a HandshakeV10 advertises a
// protocol version other than 10.
var ErrUnsupportedVersion = errors.New("wire: unsupported protocol version")
