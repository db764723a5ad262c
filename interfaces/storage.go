package interfaces

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// ObjectType indicates the storage namespace of an object.
type ObjectType uint8

const (
	// ObjectTypeData for opaque provisioning data
	ObjectTypeData ObjectType = iota
	// ObjectTypeKey for sealed key records
	ObjectTypeKey
	// ObjectTypeCertificate for X.509 certificates
	ObjectTypeCertificate
	// ObjectTypeCustom for vendor specific objects
	ObjectTypeCustom
)

// MaxObjectType is the highest valid ObjectType.
const MaxObjectType = ObjectTypeCustom

// String returns type name.
func (t ObjectType) String() string {
	switch t {
	case ObjectTypeData:
		return "data"
	case ObjectTypeKey:
		return "key"
	case ObjectTypeCertificate:
		return "certificate"
	case ObjectTypeCustom:
		return "custom"
	default:
		return "unknown"
	}
}

// Valid reports whether t is a known type.
func (t ObjectType) Valid() bool {
	return t <= MaxObjectType
}

// ParseObjectType accepts a type name or its decimal value.
func ParseObjectType(s string) (ObjectType, error) {
	for t := ObjectTypeData; t <= MaxObjectType; t++ {
		if strings.EqualFold(s, t.String()) {
			return t, nil
		}
	}
	n, err := strconv.ParseUint(s, 10, 8)
	if err != nil || !ObjectType(n).Valid() {
		return 0, fmt.Errorf("invalid object type %q", s)
	}
	return ObjectType(n), nil
}

// ObjectID is the numeric identifier of a stored object.
type ObjectID uint32

// String returns the id as 0x-prefixed hex.
func (id ObjectID) String() string {
	return fmt.Sprintf("0x%08x", uint32(id))
}

// ParseObjectID accepts decimal or 0x-prefixed hex.
func ParseObjectID(s string) (ObjectID, error) {
	n, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid object id %q: %w", s, err)
	}
	return ObjectID(n), nil
}

// StoreLocation represents URI for an object store backend.
type StoreLocation struct {
	Raw    string     // Original URI
	Scheme string     // Protocol
	Host   string     // Hostname
	Path   string     // Resource path
	Query  url.Values // Query parameters
	Auth   string     // Authentication info
}

// NewStoreLocation creates a new store location from a URI string with validation.
func NewStoreLocation(uri string) (StoreLocation, error) {
	parsed, err := url.Parse(uri)
	if err != nil {
		return StoreLocation{}, fmt.Errorf("%w: %v", ErrInvalidLocationURI, err)
	}

	scheme := parsed.Scheme
	switch scheme {
	case "memory", "file", "sqlite", "s3", "ipfs", "vault":
	default:
		return StoreLocation{}, fmt.Errorf("%w: unsupported storage scheme %q", ErrInvalidLocationURI, scheme)
	}

	var auth string
	if parsed.User != nil {
		auth = parsed.User.String()
	}

	return StoreLocation{
		Raw:    uri,
		Scheme: scheme,
		Host:   parsed.Host,
		Path:   parsed.Path,
		Query:  parsed.Query(),
		Auth:   auth,
	}, nil
}

// String returns the original URI string.
func (loc StoreLocation) String() string {
	return loc.Raw
}

// URL re-parses the raw URI.
func (loc StoreLocation) URL() (*url.URL, error) {
	return url.Parse(loc.Raw)
}

// GetParam returns a query parameter value.
func (loc StoreLocation) GetParam(name string) string {
	return loc.Query.Get(name)
}

// GetParamBool returns a boolean query parameter value.
func (loc StoreLocation) GetParamBool(name string) bool {
	value := loc.Query.Get(name)
	return value == "true" || value == "1" || value == "yes"
}

var (
	// ErrObjectNotFound is returned when the requested object is not in the store.
	ErrObjectNotFound = errors.New("object not found")

	// ErrBackendUnavailable is returned when a store backend is not accessible.
	// This could be due to network issues, authentication failures, or service outages.
	ErrBackendUnavailable = errors.New("storage backend unavailable")

	// ErrInvalidLocationURI is returned when a store location URI is malformed or unsupported.
	// URIs must follow the format: [scheme]://[auth@]host[:port][/path][?params]
	ErrInvalidLocationURI = errors.New("invalid storage location URI")
)

// ObjectStore keeps opaque objects addressed by type and numeric id.
type ObjectStore interface {
	// Get retrieves an object. Returns ErrObjectNotFound when absent.
	Get(ctx context.Context, objectType ObjectType, id ObjectID) ([]byte, error)

	// Set creates or replaces an object.
	Set(ctx context.Context, objectType ObjectType, id ObjectID, data []byte) error

	// Delete removes an object. Returns ErrObjectNotFound when absent.
	Delete(ctx context.Context, objectType ObjectType, id ObjectID) error

	// Available checks if backend is accessible.
	Available(ctx context.Context) bool

	// Name returns identifier for logging.
	Name() string

	// LocationURI returns URI identifying this backend.
	LocationURI() string
}

// ObjectStoreFactory creates object stores.
type ObjectStoreFactory interface {
	// StoreFor creates a backend from a location.
	// Supports memory://, file://, sqlite://, s3://, ipfs://, vault://
	StoreFor(location StoreLocation) (ObjectStore, error)

	// CreateMultiStore creates an aggregated store with read fallback.
	CreateMultiStore(locations []StoreLocation) (ObjectStore, error)
}
