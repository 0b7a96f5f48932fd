package sync

import "errors"

var (
	// ErrUnknownVersionType is returned for tokens naming an unregistered hash name.
	ErrUnknownVersionType = errors.New("unknown version type")

	// ErrMalformedToken is returned for version tokens without enough segments.
	ErrMalformedToken = errors.New("malformed version token")

	// ErrCorruptState marks persisted local state that cannot be parsed.
	// It is surfaced to the operator and never repaired automatically.
	ErrCorruptState = errors.New("corrupt local state")

	// ErrMalformedManifest is returned when a fetched manifest cannot be parsed.
	ErrMalformedManifest = errors.New("malformed manifest")

	// ErrSizeMismatch is returned when a written asset differs from its declared size.
	ErrSizeMismatch = errors.New("size mismatch")

	// ErrEmptyManifest is returned when the server answers with an empty manifest.
	ErrEmptyManifest = errors.New("empty manifest")

	// ErrDiffLogNotFound is returned when linking to a difflog that was never written.
	ErrDiffLogNotFound = errors.New("difflog not found")

	// ErrUnexpectedStatus is returned for non-200 CDN responses.
	ErrUnexpectedStatus = errors.New("unexpected http status")

	// ErrNotZip is returned when a bundle is not a zip container.
	ErrNotZip = errors.New("bundle is not a zip archive")

	// ErrPathEscapesRoot is returned for manifest paths resolving outside the asset root.
	ErrPathEscapesRoot = errors.New("path escapes asset root")
)
