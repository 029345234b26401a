package middleware

import "errors"

// ErrNoResponse indicates the chain finished without an oracle response
var ErrNoResponse = errors.New("middleware chain produced no response")
