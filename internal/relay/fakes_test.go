package relay

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"golang.org/x/oauth2"

	"github.com/radif/driverelay/internal/auth"
	"github.com/radif/driverelay/internal/storage"
)

type fakeAuthorizer struct {
	mu     sync.Mutex
	scopes []auth.Scope
	err    error
}

func (a *fakeAuthorizer) Authorize(ctx context.Context, scope auth.Scope) (*auth.Session, error) {
	a.mu.Lock()
	a.scopes = append(a.scopes, scope)
	a.mu.Unlock()
	if a.err != nil {
		return nil, a.err
	}
	return &auth.Session{Scope: scope, Token: &oauth2.Token{AccessToken: "tok-" + scope.Label()}}, nil
}

func (a *fakeAuthorizer) calls() []auth.Scope {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]auth.Scope(nil), a.scopes...)
}

type fakeObject struct {
	md      storage.Metadata
	content []byte
	// media, when set, replaces content as the stream returned by GetMedia.
	media func(ctx context.Context) io.ReadCloser
}

type createCall struct {
	token   string
	spec    storage.ObjectSpec
	payload []byte
}

// fakeStore is an in-memory storage.Storage.
type fakeStore struct {
	mu        sync.Mutex
	objects   map[string]fakeObject
	created   []createCall
	nextID    atomic.Int64
	createErr error
	mdErr     error
	mediaErr  error
	mediaOpen atomic.Int32
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: make(map[string]fakeObject)}
}

func (s *fakeStore) put(id string, obj fakeObject) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[id] = obj
}

func (s *fakeStore) CreateObject(ctx context.Context, ts oauth2.TokenSource, spec storage.ObjectSpec, body io.Reader) (string, error) {
	tok, err := ts.Token()
	if err != nil {
		return "", err
	}
	payload, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	if s.createErr != nil {
		return "", s.createErr
	}

	id := fmt.Sprintf("obj-%d", s.nextID.Add(1))
	s.mu.Lock()
	defer s.mu.Unlock()
	s.created = append(s.created, createCall{token: tok.AccessToken, spec: spec, payload: payload})
	s.objects[id] = fakeObject{
		md:      storage.Metadata{MimeType: spec.MimeType, Name: spec.Name},
		content: payload,
	}
	return id, nil
}

func (s *fakeStore) GetMetadata(ctx context.Context, ts oauth2.TokenSource, id string) (*storage.Metadata, error) {
	if s.mdErr != nil {
		return nil, s.mdErr
	}
	s.mu.Lock()
	obj, ok := s.objects[id]
	s.mu.Unlock()
	if !ok {
		return nil, errors.New("404 file not found")
	}
	md := obj.md
	return &md, nil
}

func (s *fakeStore) GetMedia(ctx context.Context, ts oauth2.TokenSource, id string) (io.ReadCloser, error) {
	s.mediaOpen.Add(1)
	if s.mediaErr != nil {
		return nil, s.mediaErr
	}
	s.mu.Lock()
	obj, ok := s.objects[id]
	s.mu.Unlock()
	if !ok {
		return nil, errors.New("404 file not found")
	}
	if obj.media != nil {
		return obj.media(ctx), nil
	}
	return io.NopCloser(bytes.NewReader(obj.content)), nil
}

// failingReader yields prefix and then fails.
type failingReader struct {
	prefix *bytes.Reader
	err    error
}

func (r *failingReader) Read(p []byte) (int, error) {
	if r.prefix.Len() > 0 {
		return r.prefix.Read(p)
	}
	return 0, r.err
}

func (r *failingReader) Close() error { return nil }

// gatedReader blocks every read until a chunk is released or ctx ends.
type gatedReader struct {
	ctx    context.Context
	chunks chan []byte
	closed chan struct{}
	once   sync.Once
}

func newGatedReader(ctx context.Context) *gatedReader {
	return &gatedReader{ctx: ctx, chunks: make(chan []byte), closed: make(chan struct{})}
}

func (r *gatedReader) Read(p []byte) (int, error) {
	select {
	case <-r.ctx.Done():
		return 0, r.ctx.Err()
	case chunk, ok := <-r.chunks:
		if !ok {
			return 0, io.EOF
		}
		return copy(p, chunk), nil
	}
}

func (r *gatedReader) Close() error {
	r.once.Do(func() { close(r.closed) })
	return nil
}
