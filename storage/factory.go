package storage

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/ruteri/secure-element-agent/interfaces"
)

// StoreFactory creates object stores from location URIs and manages
// multi-backend configurations for redundant storage.
type StoreFactory struct {
	log *slog.Logger
}

// NewStoreFactory creates a new factory instance that can create object stores.
func NewStoreFactory(logger *slog.Logger) *StoreFactory {
	return &StoreFactory{log: logger}
}

// StoreFor creates an object store from a location.
// The URI format should be [scheme]://[auth@]host[:port][/path][?params]
//
// Supported schemes:
//   - memory:// - In-process storage
//   - file:// - Local filesystem storage
//   - sqlite:// - Embedded SQLite database
//   - s3:// - Amazon S3 or compatible object storage
//   - ipfs:// - IPFS mutable file system
//   - vault:// - HashiCorp Vault KV v2
func (sf *StoreFactory) StoreFor(location interfaces.StoreLocation) (interfaces.ObjectStore, error) {
	switch strings.ToLower(location.Scheme) {
	case "memory":
		sf.log.Debug("Creating memory store")
		return NewMemoryStore(sf.log), nil
	case "file":
		return sf.createFileStore(location)
	case "sqlite":
		return sf.createSQLiteStore(location)
	case "s3":
		return sf.createS3Store(location)
	case "ipfs":
		return sf.createIPFSStore(location)
	case "vault":
		return sf.createVaultStore(location)
	default:
		return nil, fmt.Errorf("%w: unsupported backend scheme: %s", interfaces.ErrInvalidLocationURI, location.Scheme)
	}
}

// CreateMultiStore creates a MultiStore from a list of locations.
// Locations whose store cannot be created are skipped with a warning.
// Returns an error if no valid stores could be created.
func (sf *StoreFactory) CreateMultiStore(locations []interfaces.StoreLocation) (interfaces.ObjectStore, error) {
	stores := make([]interfaces.ObjectStore, 0, len(locations))

	for _, location := range locations {
		store, err := sf.StoreFor(location)
		if err != nil {
			sf.log.Warn("Failed to create object store",
				"err", err,
				slog.String("locationURI", location.String()))
			continue
		}
		stores = append(stores, store)
	}

	if len(stores) == 0 {
		return nil, fmt.Errorf("no valid object stores created")
	}
	if len(stores) == 1 {
		return stores[0], nil
	}

	return NewMultiStore(stores, sf.log), nil
}

// StoreFromURIs parses uris and creates a (multi) store from them.
func (sf *StoreFactory) StoreFromURIs(uris []string) (interfaces.ObjectStore, error) {
	locations := make([]interfaces.StoreLocation, 0, len(uris))
	for _, uri := range uris {
		location, err := interfaces.NewStoreLocation(uri)
		if err != nil {
			return nil, err
		}
		locations = append(locations, location)
	}
	return sf.CreateMultiStore(locations)
}

// localPath returns the filesystem path of file:// and sqlite:// URIs.
// Both file:///abs/path and file://./relative/path are accepted.
func localPath(location interfaces.StoreLocation) (string, error) {
	path := location.Path
	if location.Host != "" {
		path = location.Host + "/" + strings.TrimPrefix(path, "/")
	}
	if path == "" {
		return "", fmt.Errorf("%w: empty path in %s", interfaces.ErrInvalidLocationURI, location.String())
	}
	return filepath.Clean(path), nil
}

// createFileStore creates a file system store.
// URI format: file:///absolute/path/ or file://./relative/path/
func (sf *StoreFactory) createFileStore(location interfaces.StoreLocation) (interfaces.ObjectStore, error) {
	sf.log.Debug("Creating file store", slog.String("uri", location.String()))

	path, err := localPath(location)
	if err != nil {
		return nil, err
	}
	return NewFileStore(path, sf.log)
}

// createSQLiteStore creates an embedded SQLite store.
// URI format: sqlite:///var/lib/sea/objects.db or sqlite::memory:
func (sf *StoreFactory) createSQLiteStore(location interfaces.StoreLocation) (interfaces.ObjectStore, error) {
	sf.log.Debug("Creating sqlite store", slog.String("uri", location.String()))

	if location.Raw == "sqlite::memory:" {
		return NewSQLiteStore(":memory:", sf.log)
	}
	path, err := localPath(location)
	if err != nil {
		return nil, err
	}
	return NewSQLiteStore(path, sf.log)
}

// createS3Store creates an S3 or S3-compatible store.
// URI format: s3://[ACCESS_KEY:SECRET_KEY@]bucket-name/path/?region=us-west-2&endpoint=custom.s3.com
func (sf *StoreFactory) createS3Store(location interfaces.StoreLocation) (interfaces.ObjectStore, error) {
	sf.log.Debug("Creating S3 store", slog.String("uri", location.String()))

	u, err := location.URL()
	if err != nil {
		return nil, err
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: missing bucket in %s", interfaces.ErrInvalidLocationURI, location.String())
	}

	region := location.GetParam("region")
	if region == "" {
		region = "us-east-1"
	}

	var accessKey, secretKey string
	if u.User != nil {
		accessKey = u.User.Username()
		secretKey, _ = u.User.Password()
		sf.log.Debug("Using embedded S3 credentials")
	}

	return NewS3Store(u.Host, strings.TrimPrefix(u.Path, "/"), region, location.GetParam("endpoint"), accessKey, secretKey, sf.log)
}

// createIPFSStore creates an IPFS store.
// URI format: ipfs://host:port/root?timeout=30s
func (sf *StoreFactory) createIPFSStore(location interfaces.StoreLocation) (interfaces.ObjectStore, error) {
	sf.log.Debug("Creating IPFS store", slog.String("uri", location.String()))

	u, err := location.URL()
	if err != nil {
		return nil, err
	}

	host := u.Hostname()
	if host == "" {
		host = "127.0.0.1"
	}
	port := u.Port()
	if port == "" {
		port = "5001" // Default IPFS API port
	}

	timeout := 30 * time.Second
	if t := location.GetParam("timeout"); t != "" {
		if timeout, err = time.ParseDuration(t); err != nil {
			return nil, fmt.Errorf("%w: invalid timeout %q", interfaces.ErrInvalidLocationURI, t)
		}
	}

	root := u.Path
	if root == "" || root == "/" {
		root = "/sea"
	}

	return NewIPFSStore(host, port, root, timeout, sf.log)
}

// createVaultStore creates a Vault KV v2 store.
// URI format: vault://[token@]host:port/mount/path?tls=true
func (sf *StoreFactory) createVaultStore(location interfaces.StoreLocation) (interfaces.ObjectStore, error) {
	sf.log.Debug("Creating Vault store", slog.String("uri", location.String()))

	u, err := location.URL()
	if err != nil {
		return nil, err
	}

	parts := strings.SplitN(strings.Trim(u.Path, "/"), "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return nil, fmt.Errorf("%w: expected vault://host/mount/path", interfaces.ErrInvalidLocationURI)
	}

	scheme := "http"
	if location.GetParamBool("tls") {
		scheme = "https"
	}

	var token string
	if u.User != nil {
		token = u.User.Username()
	}

	return NewVaultStore(fmt.Sprintf("%s://%s", scheme, u.Host), parts[0], parts[1], token, sf.log)
}

var _ interfaces.ObjectStoreFactory = (*StoreFactory)(nil)
