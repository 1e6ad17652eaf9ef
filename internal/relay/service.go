// Package relay bridges inbound HTTP transfers to the remote storage API.
package relay

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	"github.com/radif/driverelay/internal/auth"
	"github.com/radif/driverelay/internal/metrics"
	"github.com/radif/driverelay/internal/storage"
)

// Authorizer issues a bearer session for a scope.
type Authorizer interface {
	Authorize(ctx context.Context, scope auth.Scope) (*auth.Session, error)
}

// UploadRequest is a fully buffered file received from a client.
type UploadRequest struct {
	Payload     []byte
	Filename    string
	ContentType string
}

// UploadResult holds the identifier assigned by the remote store.
type UploadResult struct {
	RemoteObjectID string
}

// Service implements the upload and download bridges.
type Service struct {
	authz    Authorizer
	store    storage.Storage
	folderID string
	log      *slog.Logger
}

// NewService creates a new relay Service that uploads into folderID.
func NewService(authz Authorizer, store storage.Storage, folderID string, log *slog.Logger) *Service {
	return &Service{authz: authz, store: store, folderID: folderID, log: log}
}

// Upload sends req.Payload to the remote store as a new object.
func (s *Service) Upload(ctx context.Context, req UploadRequest) (*UploadResult, error) {
	if req.Payload == nil {
		metrics.ObserveTransfer(metrics.OperationUpload, metrics.OutcomeBadRequest)
		return nil, fmt.Errorf("%w: no payload", ErrBadRequest)
	}

	id, err := s.upload(ctx, req)
	if err != nil {
		metrics.ObserveTransfer(metrics.OperationUpload, metrics.OutcomeFailure)
		return nil, fmt.Errorf("%w: %w", ErrUploadFailed, err)
	}

	metrics.ObserveTransfer(metrics.OperationUpload, metrics.OutcomeSuccess)
	metrics.AddTransferBytes(metrics.OperationUpload, int64(len(req.Payload)))
	s.log.Debug("upload complete", "file_id", id, "name", req.Filename, "bytes", len(req.Payload))
	return &UploadResult{RemoteObjectID: id}, nil
}

func (s *Service) upload(ctx context.Context, req UploadRequest) (string, error) {
	sess, err := s.authz.Authorize(ctx, auth.ScopeReadWrite)
	if err != nil {
		return "", err
	}

	spec := storage.ObjectSpec{
		Name:     req.Filename,
		Parent:   s.folderID,
		MimeType: req.ContentType,
		Size:     int64(len(req.Payload)),
	}
	return s.store.CreateObject(ctx, sess.TokenSource(), spec, bytes.NewReader(req.Payload))
}

// Download resolves the object's metadata and opens its media stream.
// On success the caller owns the returned Transfer and must close it.
func (s *Service) Download(ctx context.Context, id string) (*Transfer, error) {
	if id == "" {
		metrics.ObserveTransfer(metrics.OperationDownload, metrics.OutcomeBadRequest)
		return nil, fmt.Errorf("%w: empty file id", ErrBadRequest)
	}

	t, err := s.open(ctx, id)
	if err != nil {
		metrics.ObserveTransfer(metrics.OperationDownload, metrics.OutcomeFailure)
		return nil, fmt.Errorf("%w: %w", ErrDownloadFailed, err)
	}
	return t, nil
}

func (s *Service) open(ctx context.Context, id string) (*Transfer, error) {
	sess, err := s.authz.Authorize(ctx, auth.ScopeReadOnly)
	if err != nil {
		return nil, err
	}
	ts := sess.TokenSource()

	md, err := s.store.GetMetadata(ctx, ts, id)
	if err != nil {
		return nil, err
	}
	if md.MimeType == "" || md.Name == "" {
		return nil, ErrIncompleteMetadata
	}

	body, err := s.store.GetMedia(ctx, ts, id)
	if err != nil {
		return nil, err
	}

	return &Transfer{
		ID:       id,
		Metadata: *md,
		body:     body,
	}, nil
}
