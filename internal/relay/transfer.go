package relay

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/radif/driverelay/internal/metrics"
	"github.com/radif/driverelay/internal/storage"
)

const copyBufferSize = 32 << 10

// Transfer is an opened download: resolved metadata plus the remote media stream.
type Transfer struct {
	ID       string
	Metadata storage.Metadata
	body     io.ReadCloser
}

// Close releases the remote media stream.
func (t *Transfer) Close() error {
	return t.body.Close()
}

// Stream sets the download headers, flushes them, then relays the media
// stream into w. Reads from the remote happen only after the previous chunk
// was accepted by w. After the first call to Stream the response status can
// no longer change; any error is an ErrStreamTransport.
func (t *Transfer) Stream(w http.ResponseWriter) (int64, error) {
	h := w.Header()
	h.Set("Content-Type", t.Metadata.MimeType)
	h.Set("Content-Disposition", contentDisposition(t.Metadata.Name))
	w.WriteHeader(http.StatusOK)
	rc := http.NewResponseController(w)
	flush := func() { _ = rc.Flush() }
	flush()

	n, err := relayStream(w, t.body, flush)
	metrics.AddTransferBytes(metrics.OperationDownload, n)
	if err != nil {
		metrics.ObserveTransfer(metrics.OperationDownload, metrics.OutcomeAborted)
		return n, fmt.Errorf("%w: %w", ErrStreamTransport, err)
	}
	metrics.ObserveTransfer(metrics.OperationDownload, metrics.OutcomeSuccess)
	return n, nil
}

// relayStream copies src to dst one bounded chunk at a time, calling flush
// after every chunk so bytes reach the client as they arrive.
func relayStream(dst io.Writer, src io.Reader, flush func()) (int64, error) {
	buf := make([]byte, copyBufferSize)
	var written int64
	for {
		nr, rerr := src.Read(buf)
		if nr > 0 {
			nw, werr := dst.Write(buf[:nr])
			written += int64(nw)
			if werr != nil {
				return written, fmt.Errorf("write to client: %w", werr)
			}
			if nw != nr {
				return written, fmt.Errorf("write to client: %w", io.ErrShortWrite)
			}
			flush()
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				return written, nil
			}
			return written, fmt.Errorf("read from remote: %w", rerr)
		}
	}
}

var dispositionEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

func contentDisposition(name string) string {
	return `attachment; filename="` + dispositionEscaper.Replace(name) + `"`
}
