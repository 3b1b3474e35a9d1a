// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Package validation failures. Reported verbatim to the submitter.
var (
	// ErrMalformedPackage indicates the container is unreadable or lacks header/manifest structure.
	ErrMalformedPackage = errors.New("malformed package")

	// ErrMissingField indicates a required manifest field is absent or empty.
	ErrMissingField = errors.New("missing field")

	// ErrInvalidIcon indicates the icon is not declared, not present or not decodable.
	ErrInvalidIcon = errors.New("invalid icon")

	// ErrDigest indicates the payload digest could not be computed or does not match.
	ErrDigest = errors.New("digest error")
)

// Identity conflicts.
var (
	// ErrDuplicateIdentity indicates another entry already uses (applicationId, architecture).
	ErrDuplicateIdentity = errors.New("duplicate identity")

	// ErrIdentityChangeRejected indicates an update tried to change the application id.
	ErrIdentityChangeRejected = errors.New("identity change rejected")

	// ErrArchitectureChangeRejected indicates an update tried to change the architecture.
	ErrArchitectureChangeRejected = errors.New("architecture change rejected")

	// ErrAlreadyExists indicates a unique constraint violation (e.g., category name taken).
	ErrAlreadyExists = errors.New("already exists")
)

// Resource failures. Logged as operational errors, reported generically.
var (
	ErrIO                    = errors.New("io error")
	ErrSourceUnreadable      = errors.New("source unreadable")
	ErrDestinationUnwritable = errors.New("destination unwritable")
	ErrSigningKeyUnavailable = errors.New("signing key unavailable")
)

// Common sentinels across repo/service layers.
var (
	// ErrNotFound indicates the requested entity does not exist (or a download has expired).
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized indicates failed authentication.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrPermissionDenied indicates the caller lacks the required change permission.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrDeviceIDRequired indicates device binding is on and the request has no device id.
	ErrDeviceIDRequired = errors.New("device_id required")
)

// IsValidation reports whether err is a package validation failure.
func IsValidation(err error) bool {
	return errors.Is(err, ErrMalformedPackage) ||
		errors.Is(err, ErrMissingField) ||
		errors.Is(err, ErrInvalidIcon) ||
		errors.Is(err, ErrDigest)
}

// IsConflict reports whether err is an identity conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrDuplicateIdentity) ||
		errors.Is(err, ErrIdentityChangeRejected) ||
		errors.Is(err, ErrArchitectureChangeRejected) ||
		errors.Is(err, ErrAlreadyExists)
}

// IsResource reports whether err is an operational storage/signing failure.
func IsResource(err error) bool {
	return errors.Is(err, ErrIO) ||
		errors.Is(err, ErrSourceUnreadable) ||
		errors.Is(err, ErrDestinationUnwritable) ||
		errors.Is(err, ErrSigningKeyUnavailable)
}
