package interfaces

import (
	"context"
	"errors"
	"fmt"
	"net/url"
)

// RecordKind is the namespace a ledger record lives in.
type RecordKind int

const (
	// ImplementationRecord holds the implementation deployed on a chain.
	ImplementationRecord RecordKind = iota
	// AccountRecord holds a provisioned token-bound account.
	AccountRecord
)

// String returns the namespace name used in storage paths.
func (k RecordKind) String() string {
	switch k {
	case ImplementationRecord:
		return "implementations"
	case AccountRecord:
		return "accounts"
	default:
		return "unknown"
	}
}

// RecordKey addresses a single ledger record.
type RecordKey struct {
	Kind RecordKind
	ID   string
}

// Path returns the relative storage path of the record.
func (k RecordKey) Path() string {
	return k.Kind.String() + "/" + k.ID
}

// StorageBackendLocation is a storage backend URI.
type StorageBackendLocation string

// NewStorageBackendLocation validates a backend URI.
func NewStorageBackendLocation(uri string) (StorageBackendLocation, error) {
	parsed, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidLocationURI, err)
	}

	switch parsed.Scheme {
	case "file", "s3", "vault":
	default:
		return "", fmt.Errorf("%w: unsupported storage scheme %q", ErrInvalidLocationURI, parsed.Scheme)
	}

	return StorageBackendLocation(uri), nil
}

var (
	// ErrRecordNotFound is returned when a record does not exist in the backend.
	ErrRecordNotFound = errors.New("record not found")

	// ErrBackendUnavailable is returned when a storage backend is not accessible.
	ErrBackendUnavailable = errors.New("storage backend unavailable")

	// ErrInvalidLocationURI is returned when a storage location URI is malformed or unsupported.
	// URIs must follow the format: [scheme]://[auth@]host[:port][/path][?params]
	ErrInvalidLocationURI = errors.New("invalid storage location URI")
)

// StorageBackend stores ledger records by key.
type StorageBackend interface {
	// Fetch retrieves the record stored under key.
	Fetch(ctx context.Context, key RecordKey) ([]byte, error)

	// Store writes data under key, replacing any previous value.
	Store(ctx context.Context, key RecordKey, data []byte) error

	// Available checks if backend is accessible.
	Available(ctx context.Context) bool

	// Name returns identifier for logging.
	Name() string

	// LocationURI returns URI identifying this backend.
	LocationURI() string
}

// StorageBackendFactory creates storage backends.
type StorageBackendFactory interface {
	// StorageBackendFor creates backend from URI.
	StorageBackendFor(locationURI StorageBackendLocation) (StorageBackend, error)

	// CreateMultiBackend creates aggregated storage backend.
	CreateMultiBackend(locationURIs []StorageBackendLocation) (StorageBackend, error)
}
