package proxy

import "errors"

// ErrAccessDenied is returned when a JID asks for data on a usage point it
// was not granted. The message is deliberately identical whether the JID is
// wholly unknown or just missing this particular point, so callers cannot
// probe which usage points exist.
var ErrAccessDenied = errors.New("access to this usage point has not been granted")

// ErrInvalidArgument wraps caller mistakes caught before any upstream call:
// unknown direction, malformed date. Wrap with fmt.Errorf("%w: …") to attach
// the specifics.
var ErrInvalidArgument = errors.New("invalid argument")
