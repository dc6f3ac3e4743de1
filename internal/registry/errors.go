package registry

// versionNotFoundError signals a lookup of an unregistered version id.
type versionNotFoundError struct{ id string }

func (e versionNotFoundError) Error() string { return "version not found: " + e.id }

// ErrVersionNotFound returns an error for a missing version id.
func ErrVersionNotFound(id string) error { return versionNotFoundError{id: id} }

// IsVersionNotFound reports whether err indicates a missing version id.
func IsVersionNotFound(err error) bool {
	_, ok := err.(versionNotFoundError)
	return ok
}

// storageError signals that reading or writing artifact data or metadata
// failed.
type storageError struct {
	op  string
	err error
}

func (e storageError) Error() string { return "storage " + e.op + ": " + e.err.Error() }
func (e storageError) Unwrap() error { return e.err }

// ErrStorage wraps an underlying failure of an artifact/metadata operation.
func ErrStorage(op string, err error) error { return storageError{op: op, err: err} }

// IsStorageError reports whether err indicates a storage failure.
func IsStorageError(err error) bool {
	_, ok := err.(storageError)
	return ok
}

// validationError signals malformed registration input.
type validationError struct{ msg string }

func (e validationError) Error() string { return "validation: " + e.msg }

// ErrValidation constructs a validationError.
func ErrValidation(msg string) error { return validationError{msg: msg} }

// IsValidationError reports whether err indicates malformed input.
func IsValidationError(err error) bool {
	_, ok := err.(validationError)
	return ok
}
