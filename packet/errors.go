package packet

import "errors"

// ErrMalformed is returned by Parse when the input is shorter than its
// own header claims.
var ErrMalformed = errors.New("malformed packet")
