package apperr

import "errors"

var (
	// ErrModeNotFound is the only error content generation is allowed to
	// surface to callers: the requested persona is not in the registry.
	ErrModeNotFound = errors.New("mode not found")
	// ErrValidation marks a mode definition rejected at load time.
	ErrValidation = errors.New("invalid mode definition")
	// ErrGeneration marks a provider/parse/quality failure. It never leaves
	// the generator; fallback content is substituted instead.
	ErrGeneration = errors.New("content generation failed")
	// ErrCacheMiss is returned by cache stores when a key is absent or stale.
	ErrCacheMiss = errors.New("cache miss")
)
