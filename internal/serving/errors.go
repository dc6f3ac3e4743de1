package serving

// noModelLoadedError signals a prediction before any artifact was activated.
type noModelLoadedError struct{}

func (noModelLoadedError) Error() string { return "no model loaded" }

// ErrNoModelLoaded constructs a noModelLoadedError.
func ErrNoModelLoaded() error { return noModelLoadedError{} }

// IsNoModelLoaded reports whether err indicates an empty serving slot.
func IsNoModelLoaded(err error) bool {
	_, ok := err.(noModelLoadedError)
	return ok
}
