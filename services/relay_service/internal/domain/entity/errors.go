package entity

import "errors"

var (
	ErrUnknownEvent     = errors.New("unknown event")
	ErrMalformedEvent   = errors.New("malformed event payload")
	ErrNotRegistered    = errors.New("connection has not announced an identity")
	ErrIdentityConflict = errors.New("connection already bound to another user")
)
