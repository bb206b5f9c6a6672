package devauth

import "errors"

// Engine failure kinds. Callers match these with errors.Is; anything
// else coming out of the engine is a storage failure.
var (
	// ErrRateLimited means the caller exceeded its request quota and may
	// retry after the window elapses.
	ErrRateLimited = errors.New("rate limit exceeded")
	// ErrInvalidToken means no record matches the presented secret.
	ErrInvalidToken = errors.New("invalid token")
	// ErrRevoked means the device was explicitly denied by an administrator.
	ErrRevoked = errors.New("device access has been revoked")
	// ErrExpired means the token's lifetime has passed; the device must
	// re-register and be approved again.
	ErrExpired = errors.New("token has expired")
	// ErrNotFound means the operation referenced an unknown device_id.
	ErrNotFound = errors.New("device not found")
)
