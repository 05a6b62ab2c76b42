package objectstore

import "errors"

var (
	// ErrObjectNotFound is returned on Get/Head/Delete of a missing key.
	ErrObjectNotFound = errors.New("object not found")

	// ErrInvalidKey rejects empty keys and keys escaping the store root.
	ErrInvalidKey = errors.New("invalid object key")

	// ErrPresignUnsupported is returned by backends that cannot mint
	// direct download URLs. Callers fall back to streaming the object.
	ErrPresignUnsupported = errors.New("presigned URLs not supported")
)
