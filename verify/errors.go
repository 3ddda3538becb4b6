package verify

import "errors"

// ErrNotFound is returned by Check when the authority has no record for
// a fingerprint. It is the signal to escalate to the create path, not a
// failure.
var ErrNotFound = errors.New("verify: fingerprint not verified yet")
