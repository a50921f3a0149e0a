package domain

type constError string

func (e constError) Error() string { return string(e) }

const (
	// ErrInvalidInput marks a malformed argument. It is the caller's bug.
	ErrInvalidInput = constError("invalid input")

	// ErrConfiguration marks an unusable startup configuration, such as an
	// unknown embedding provider or an empty set of enabled methods.
	ErrConfiguration = constError("configuration error")

	// ErrNotEstimable is returned when no enabled method produced a usable figure.
	ErrNotEstimable = constError("not estimable")

	// ErrUpstreamUnavailable marks a failed embedding or catalogue call.
	// Callers may retry; the engine does not.
	ErrUpstreamUnavailable = constError("upstream unavailable")

	// ErrNotFound is returned by stores for unknown identifiers.
	ErrNotFound = constError("not found")
)
