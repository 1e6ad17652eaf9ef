package relay

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/radif/driverelay/internal/storage"
)

func newTestServer(t *testing.T, svc *Service) *httptest.Server {
	t.Helper()
	r := chi.NewRouter()
	r.Use(chiMiddleware.Recoverer)
	NewHandler(svc, UploadLimits{}, slog.New(slog.NewTextHandler(io.Discard, nil))).Routes(r)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

// multipartBody builds a form with one file part under field.
func multipartBody(t *testing.T, field, filename, contentType string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, field, filename))
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func postUpload(t *testing.T, srv *httptest.Server, body io.Reader, contentType string) (*http.Response, string) {
	t.Helper()
	resp, err := srv.Client().Post(srv.URL+"/upload", contentType, body)
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(b)
}

func TestUploadHandlerMissingFile(t *testing.T) {
	svc, authz, store := newTestService()
	srv := newTestServer(t, svc)

	t.Run("other field", func(t *testing.T) {
		body, ct := multipartBody(t, "attachment", "a.txt", "text/plain", []byte("x"))
		resp, got := postUpload(t, srv, body, ct)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.JSONEq(t, `{"error":"No file received"}`, got)
	})

	t.Run("not multipart", func(t *testing.T) {
		resp, got := postUpload(t, srv, bytes.NewBufferString(`{"file":"x"}`), "application/json")
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.JSONEq(t, `{"error":"No file received"}`, got)
	})

	assert.Empty(t, authz.calls())
	assert.Empty(t, store.created)
}

func TestUploadHandlerSuccess(t *testing.T) {
	svc, _, store := newTestService()
	srv := newTestServer(t, svc)

	body, ct := multipartBody(t, "file", "photo.png", "image/png", []byte("\x89PNG data"))
	resp, got := postUpload(t, srv, body, ct)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"uploadedFileId":"obj-1"}`, got)

	require.Len(t, store.created, 1)
	assert.Equal(t, "photo.png", store.created[0].spec.Name)
	assert.Equal(t, "image/png", store.created[0].spec.MimeType)
	assert.Equal(t, []byte("\x89PNG data"), store.created[0].payload)
}

func TestUploadHandlerUpstreamFailure(t *testing.T) {
	svc, _, store := newTestService()
	store.createErr = errors.New("storage quota exceeded for user@example.com")
	srv := newTestServer(t, svc)

	body, ct := multipartBody(t, "file", "a.txt", "text/plain", []byte("x"))
	resp, got := postUpload(t, srv, body, ct)

	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.JSONEq(t, `{"error":"File upload failed"}`, got)
}

func TestUploadHandlerBodyLimit(t *testing.T) {
	svc, authz, _ := newTestService()
	r := chi.NewRouter()
	NewHandler(svc, UploadLimits{MaxBytes: 64}, slog.New(slog.NewTextHandler(io.Discard, nil))).Routes(r)
	srv := httptest.NewServer(r)
	defer srv.Close()

	body, ct := multipartBody(t, "file", "big.bin", "application/octet-stream", bytes.Repeat([]byte("z"), 4096))
	resp, got := postUpload(t, srv, body, ct)

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.JSONEq(t, `{"error":"No file received"}`, got)
	assert.Empty(t, authz.calls())
}

func TestDownloadHandlerEmptyID(t *testing.T) {
	svc, authz, _ := newTestService()
	srv := newTestServer(t, svc)

	resp, err := srv.Client().Get(srv.URL + "/download/")
	require.NoError(t, err)
	defer resp.Body.Close()
	got, _ := io.ReadAll(resp.Body)

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.JSONEq(t, `{"error":"File ID is required"}`, string(got))
	assert.Empty(t, authz.calls())
}

func TestDownloadHandlerIncompleteMetadata(t *testing.T) {
	svc, _, store := newTestService()
	store.put("doc", fakeObject{md: storage.Metadata{Name: "a.txt"}, content: []byte("secret bytes")})
	srv := newTestServer(t, svc)

	resp, err := srv.Client().Get(srv.URL + "/download/doc")
	require.NoError(t, err)
	defer resp.Body.Close()
	got, _ := io.ReadAll(resp.Body)

	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.JSONEq(t, `{"error":"File download failed"}`, string(got))
	assert.NotContains(t, string(got), "secret")
	assert.Empty(t, resp.Header.Get("Content-Disposition"))
}

func TestDownloadHandlerUnknownFile(t *testing.T) {
	svc, _, _ := newTestService()
	srv := newTestServer(t, svc)

	resp, err := srv.Client().Get(srv.URL + "/download/nope")
	require.NoError(t, err)
	defer resp.Body.Close()
	got, _ := io.ReadAll(resp.Body)

	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.JSONEq(t, `{"error":"File download failed"}`, string(got))
}

func TestDownloadHandlerRoundTrip(t *testing.T) {
	for _, size := range []int{0, 1, copyBufferSize - 1, copyBufferSize, copyBufferSize*3 + 7, 1 << 20} {
		t.Run(fmt.Sprintf("%d bytes", size), func(t *testing.T) {
			svc, _, store := newTestService()
			content := make([]byte, size)
			_, err := rand.Read(content)
			require.NoError(t, err)
			store.put("blob", fakeObject{
				md:      storage.Metadata{MimeType: "application/zip", Name: "archive.zip"},
				content: content,
			})
			srv := newTestServer(t, svc)

			resp, err := srv.Client().Get(srv.URL + "/download/blob")
			require.NoError(t, err)
			defer resp.Body.Close()
			got, err := io.ReadAll(resp.Body)
			require.NoError(t, err)

			assert.Equal(t, http.StatusOK, resp.StatusCode)
			assert.Equal(t, "application/zip", resp.Header.Get("Content-Type"))
			assert.Equal(t, `attachment; filename="archive.zip"`, resp.Header.Get("Content-Disposition"))
			assert.True(t, bytes.Equal(content, got), "body differs from upstream media")
		})
	}
}

func TestDownloadHandlerHeadersBeforeBody(t *testing.T) {
	svc, _, store := newTestService()
	gates := make(chan *gatedReader, 1)
	store.put("slow", fakeObject{
		md: storage.Metadata{MimeType: "text/plain", Name: "slow.txt"},
		media: func(ctx context.Context) io.ReadCloser {
			g := newGatedReader(ctx)
			gates <- g
			return g
		},
	})
	srv := newTestServer(t, svc)

	// The response arrives while the upstream has not produced a single byte.
	resp, err := srv.Client().Get(srv.URL + "/download/slow")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/plain", resp.Header.Get("Content-Type"))
	assert.Equal(t, `attachment; filename="slow.txt"`, resp.Header.Get("Content-Disposition"))

	g := <-gates
	g.chunks <- []byte("first ")
	g.chunks <- []byte("second")
	close(g.chunks)

	got, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "first second", string(got))
}

func TestDownloadHandlerMidStreamFailureAbortsConnection(t *testing.T) {
	svc, _, store := newTestService()
	store.put("broken", fakeObject{
		md: storage.Metadata{MimeType: "video/mp4", Name: "clip.mp4"},
		media: func(ctx context.Context) io.ReadCloser {
			return &failingReader{
				prefix: bytes.NewReader(bytes.Repeat([]byte("v"), 1000)),
				err:    errors.New("connection reset by peer"),
			}
		},
	})
	srv := newTestServer(t, svc)

	resp, err := srv.Client().Get(srv.URL + "/download/broken")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	got, err := io.ReadAll(resp.Body)
	assert.Error(t, err, "a truncated stream must not look like a complete body")
	assert.NotContains(t, string(got), "error")
}

func TestDownloadHandlerClientDisconnectReleasesUpstream(t *testing.T) {
	svc, _, store := newTestService()
	gates := make(chan *gatedReader, 1)
	store.put("big", fakeObject{
		md: storage.Metadata{MimeType: "application/octet-stream", Name: "big.bin"},
		media: func(ctx context.Context) io.ReadCloser {
			g := newGatedReader(ctx)
			gates <- g
			return g
		},
	})
	srv := newTestServer(t, svc)

	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/download/big", nil)
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)

	g := <-gates
	g.chunks <- []byte("chunk")
	buf := make([]byte, 5)
	_, err = io.ReadFull(resp.Body, buf)
	require.NoError(t, err)

	cancel()
	_ = resp.Body.Close()

	select {
	case <-g.closed:
	case <-time.After(5 * time.Second):
		t.Fatal("upstream stream was not released after the client went away")
	}
}

func TestConcurrentTransfersAreIsolated(t *testing.T) {
	svc, _, store := newTestService()
	const n = 25
	for i := 0; i < n; i++ {
		store.put(fmt.Sprintf("seed-%d", i), fakeObject{
			md:      storage.Metadata{MimeType: fmt.Sprintf("application/x-seed-%d", i), Name: fmt.Sprintf("seed-%d.bin", i)},
			content: bytes.Repeat([]byte{byte(i)}, 4096+i*1024),
		})
	}
	srv := newTestServer(t, svc)
	client := srv.Client()

	var g errgroup.Group
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			resp, err := client.Get(fmt.Sprintf("%s/download/seed-%d", srv.URL, i))
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			got, err := io.ReadAll(resp.Body)
			if err != nil {
				return err
			}
			if want := fmt.Sprintf("application/x-seed-%d", i); resp.Header.Get("Content-Type") != want {
				return fmt.Errorf("download %d: content type %q, want %q", i, resp.Header.Get("Content-Type"), want)
			}
			if want := fmt.Sprintf(`attachment; filename="seed-%d.bin"`, i); resp.Header.Get("Content-Disposition") != want {
				return fmt.Errorf("download %d: disposition %q", i, resp.Header.Get("Content-Disposition"))
			}
			if !bytes.Equal(got, bytes.Repeat([]byte{byte(i)}, 4096+i*1024)) {
				return fmt.Errorf("download %d: body corrupted", i)
			}
			return nil
		})

		content := bytes.Repeat([]byte(fmt.Sprintf("upload-%d;", i)), 500)
		body, ct := multipartBody(t, "file", fmt.Sprintf("up-%d.txt", i), "text/plain", content)
		g.Go(func() error {
			resp, err := client.Post(srv.URL+"/upload", ct, body)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("upload %d: status %d", i, resp.StatusCode)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	require.Len(t, store.created, n)
	for _, c := range store.created {
		var idx int
		_, err := fmt.Sscanf(c.spec.Name, "up-%d.txt", &idx)
		require.NoError(t, err)
		assert.Equal(t, bytes.Repeat([]byte(fmt.Sprintf("upload-%d;", idx)), 500), c.payload)
	}
}
