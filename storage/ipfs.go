package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"time"

	shell "github.com/ipfs/go-ipfs-api"
	"github.com/ruteri/secure-element-agent/interfaces"
)

// IPFSStore implements an object store in the mutable file system (MFS) of an
// IPFS node. Objects are files under root, so they keep their address when
// rewritten.
type IPFSStore struct {
	shell       *shell.Shell
	host        string
	port        string
	root        string
	log         *slog.Logger
	locationURI string
}

// NewIPFSStore creates a new IPFS object store connected to the node API at
// host:port, keeping objects under the MFS directory root.
func NewIPFSStore(host, port, root string, timeout time.Duration, log *slog.Logger) (*IPFSStore, error) {
	apiURL := fmt.Sprintf("%s:%s", host, port)
	root = "/" + strings.Trim(root, "/")

	sh := shell.NewShell(apiURL)
	sh.SetTimeout(timeout)

	return &IPFSStore{
		shell:       sh,
		host:        host,
		port:        port,
		root:        root,
		log:         log,
		locationURI: fmt.Sprintf("ipfs://%s%s?timeout=%s", apiURL, root, timeout),
	}, nil
}

// Get reads an object file. Returns ErrBackendUnavailable if the IPFS node is
// not accessible.
func (s *IPFSStore) Get(ctx context.Context, objectType interfaces.ObjectType, id interfaces.ObjectID) ([]byte, error) {
	if err := validateObjectType(objectType); err != nil {
		return nil, err
	}
	start := time.Now()
	filePath := s.filePath(objectType, id)

	if !s.shell.IsUp() {
		s.log.Warn("IPFS node unavailable",
			slog.String("host", s.host),
			slog.String("port", s.port))
		return nil, interfaces.ErrBackendUnavailable
	}

	reader, err := s.shell.FilesRead(ctx, filePath)
	if err != nil {
		if isIPFSNotFound(err) {
			s.log.Debug("Object not found in IPFS",
				slog.String("path", filePath),
				slog.Duration("duration", time.Since(start)))
			return nil, interfaces.ErrObjectNotFound
		}
		return nil, fmt.Errorf("failed to read object from IPFS: %w", err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read object from IPFS: %w", err)
	}

	s.log.Debug("Fetched object from IPFS",
		slog.String("path", filePath),
		slog.Int("size", len(data)),
		slog.Duration("duration", time.Since(start)))

	return data, nil
}

func (s *IPFSStore) Set(ctx context.Context, objectType interfaces.ObjectType, id interfaces.ObjectID, data []byte) error {
	if err := validateObjectType(objectType); err != nil {
		return err
	}
	if !s.shell.IsUp() {
		return interfaces.ErrBackendUnavailable
	}
	filePath := s.filePath(objectType, id)

	err := s.shell.FilesWrite(ctx, filePath, bytes.NewReader(data),
		shell.FilesWrite.Create(true),
		shell.FilesWrite.Parents(true),
		shell.FilesWrite.Truncate(true),
	)
	if err != nil {
		return fmt.Errorf("failed to write object to IPFS: %w", err)
	}

	s.log.Debug("Stored object in IPFS",
		slog.String("path", filePath),
		slog.Int("size", len(data)))
	return nil
}

func (s *IPFSStore) Delete(ctx context.Context, objectType interfaces.ObjectType, id interfaces.ObjectID) error {
	if err := validateObjectType(objectType); err != nil {
		return err
	}
	if !s.shell.IsUp() {
		return interfaces.ErrBackendUnavailable
	}

	if err := s.shell.FilesRm(ctx, s.filePath(objectType, id), true); err != nil {
		if isIPFSNotFound(err) {
			return interfaces.ErrObjectNotFound
		}
		return fmt.Errorf("failed to remove object from IPFS: %w", err)
	}
	return nil
}

// Available checks if the IPFS node is accessible.
func (s *IPFSStore) Available(ctx context.Context) bool {
	return s.shell.IsUp()
}

func (s *IPFSStore) Name() string {
	return fmt.Sprintf("ipfs-%s-%s", s.host, s.port)
}

func (s *IPFSStore) LocationURI() string {
	return s.locationURI
}

func (s *IPFSStore) filePath(objectType interfaces.ObjectType, id interfaces.ObjectID) string {
	return path.Join(s.root, objectKey(objectType, id))
}

func isIPFSNotFound(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "file does not exist") || strings.Contains(msg, "no link named")
}
