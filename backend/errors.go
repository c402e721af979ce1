package backend

import (
	"errors"
	"fmt"
)

// Sentinel errors for backend operation failures.
// Use errors.Is(err, backend.ErrNotFound) to check.
//
// The invalid-operation subdivisions wrap ErrInvalidOperation, so
// errors.Is(err, backend.ErrInvalidOperation) matches all of them while
// errors.Is(err, backend.ErrPathOutsideRoot) matches only path escapes.
var (
	ErrNotFound         = errors.New("backend: path not found")
	ErrAlreadyExists    = errors.New("backend: path already exists")
	ErrInvalidOperation = errors.New("backend: invalid operation")

	ErrEmptyPath                        = fmt.Errorf("%w: path cannot be empty", ErrInvalidOperation)
	ErrRootPath                         = fmt.Errorf("%w: path cannot refer to backend root", ErrInvalidOperation)
	ErrPathOutsideRoot                  = fmt.Errorf("%w: path escapes backend root", ErrInvalidOperation)
	ErrCannotReadDirectory              = fmt.Errorf("%w: cannot read directory", ErrInvalidOperation)
	ErrCannotWriteDirectory             = fmt.Errorf("%w: cannot write directory", ErrInvalidOperation)
	ErrCannotOverwriteDirectoryWithFile = fmt.Errorf("%w: cannot overwrite directory with file", ErrInvalidOperation)
	ErrCannotOverwriteFileWithDirectory = fmt.Errorf("%w: cannot overwrite file with directory", ErrInvalidOperation)
	ErrDirectoryNotEmpty                = fmt.Errorf("%w: directory not empty (delete recursively)", ErrInvalidOperation)

	ErrUnsupportedAlgorithm = errors.New("backend: unsupported checksum algorithm")
	ErrSyncRejected         = errors.New("backend: push rejected while conflicts are outstanding")
	ErrRemoteOperation      = errors.New("backend: remote operation failed")
	ErrLockTimeout          = errors.New("backend: session lock acquisition timed out")
)

// PathError wraps a sentinel error with the operation and the offending path,
// so a caller can act without re-deriving context.
type PathError struct {
	Op   string // operation being performed ("create", "read", "pull", ...)
	Path string // backend-relative path the operation targeted
	Err  error  // sentinel, for errors.Is()
}

func (e *PathError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *PathError) Unwrap() error {
	return e.Err
}

// RemoteError wraps ErrRemoteOperation with the remote operation that failed
// and the transport's diagnostic output. The core never retries these;
// retry policy belongs to the caller.
type RemoteError struct {
	Op      string // remote operation ("fetch", "push", "clone", ...)
	Message string // transport diagnostic (stderr, API error body)
}

func (e *RemoteError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: %v", e.Op, ErrRemoteOperation)
	}

	return fmt.Sprintf("%s: %v: %s", e.Op, ErrRemoteOperation, e.Message)
}

func (e *RemoteError) Unwrap() error {
	return ErrRemoteOperation
}

// AlgorithmError wraps ErrUnsupportedAlgorithm with the rejected tag.
type AlgorithmError struct {
	Algorithm string
}

func (e *AlgorithmError) Error() string {
	return fmt.Sprintf("%v: %q", ErrUnsupportedAlgorithm, e.Algorithm)
}

func (e *AlgorithmError) Unwrap() error {
	return ErrUnsupportedAlgorithm
}
