// Package storage defines the remote object-storage operations the relay uses.
// The Drive implementation talks to Google Drive v3; the MinIO implementation
// works with any S3-compatible provider.
package storage

import (
	"context"
	"io"

	"golang.org/x/oauth2"
)

// ObjectSpec describes an object to create.
type ObjectSpec struct {
	Name     string
	Parent   string // Drive folder the object is created in; S3 uses its own bucket
	MimeType string
	Size     int64 // -1 when unknown
}

// Metadata is the subset of remote object metadata needed to serve a download.
// Empty fields mean the remote did not report them.
type Metadata struct {
	MimeType string
	Name     string
}

// Storage is the interface for the remote object-storage API.
// Every call carries the bearer token source obtained for the request.
type Storage interface {
	// CreateObject uploads body as a new object and returns its identifier.
	CreateObject(ctx context.Context, ts oauth2.TokenSource, spec ObjectSpec, body io.Reader) (string, error)
	// GetMetadata returns the content type and display name of an object.
	GetMetadata(ctx context.Context, ts oauth2.TokenSource, id string) (*Metadata, error)
	// GetMedia opens the object's content. The caller must close it.
	GetMedia(ctx context.Context, ts oauth2.TokenSource, id string) (io.ReadCloser, error)
}
