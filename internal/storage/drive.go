package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/oauth2"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// DriveStorage implements Storage on top of the Google Drive v3 API.
type DriveStorage struct {
	endpoint string
	base     *http.Client
}

// NewDriveStorage returns a DriveStorage. endpoint overrides the API base URL
// (for emulators and tests) and may be empty. base is the transport used
// underneath the per-request bearer token; nil selects http.DefaultClient.
func NewDriveStorage(endpoint string, base *http.Client) *DriveStorage {
	if base == nil {
		base = http.DefaultClient
	}
	return &DriveStorage{endpoint: endpoint, base: base}
}

// service builds a Drive client bound to a single request's token.
func (s *DriveStorage) service(ctx context.Context, ts oauth2.TokenSource) (*drive.Service, error) {
	client := oauth2.NewClient(context.WithValue(ctx, oauth2.HTTPClient, s.base), ts)

	opts := []option.ClientOption{option.WithHTTPClient(client)}
	if s.endpoint != "" {
		opts = append(opts, option.WithEndpoint(s.endpoint))
	}

	svc, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create drive client: %w", err)
	}
	return svc, nil
}

// CreateObject uploads body into the spec.Parent folder.
func (s *DriveStorage) CreateObject(ctx context.Context, ts oauth2.TokenSource, spec ObjectSpec, body io.Reader) (string, error) {
	svc, err := s.service(ctx, ts)
	if err != nil {
		return "", err
	}

	file := &drive.File{Name: spec.Name}
	if spec.Parent != "" {
		file.Parents = []string{spec.Parent}
	}

	var media []googleapi.MediaOption
	if spec.MimeType != "" {
		media = append(media, googleapi.ContentType(spec.MimeType))
	}

	created, err := svc.Files.Create(file).
		Media(body, media...).
		Fields("id").
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("create file %q: %w", spec.Name, err)
	}
	return created.Id, nil
}

// GetMetadata fetches exactly the mimeType and name fields of a file.
func (s *DriveStorage) GetMetadata(ctx context.Context, ts oauth2.TokenSource, id string) (*Metadata, error) {
	svc, err := s.service(ctx, ts)
	if err != nil {
		return nil, err
	}

	f, err := svc.Files.Get(id).
		Fields("mimeType", "name").
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("get metadata of %q: %w", id, err)
	}
	return &Metadata{MimeType: f.MimeType, Name: f.Name}, nil
}

// GetMedia opens a streamed download of a file's content.
func (s *DriveStorage) GetMedia(ctx context.Context, ts oauth2.TokenSource, id string) (io.ReadCloser, error) {
	svc, err := s.service(ctx, ts)
	if err != nil {
		return nil, err
	}

	resp, err := svc.Files.Get(id).Context(ctx).Download()
	if err != nil {
		return nil, fmt.Errorf("download %q: %w", id, err)
	}
	return resp.Body, nil
}
