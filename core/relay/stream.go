package relay

import (
	"errors"
	"fmt"
	"io"
	"net/http"
)

// ChunkSize is the copy buffer used for passthrough bodies.
const ChunkSize = 32 << 10

// Copy streams src to w one chunk at a time, flushing after every write so
// players start receiving audio immediately. Write failures are reported as
// ErrClientGone.
func Copy(w io.Writer, src io.Reader, chunk int) (int64, error) {
	if chunk <= 0 {
		chunk = ChunkSize
	}
	flusher, _ := w.(http.Flusher)
	buf := make([]byte, chunk)

	var written int64
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			m, werr := w.Write(buf[:n])
			written += int64(m)
			if werr != nil {
				return written, fmt.Errorf("%w: %v", ErrClientGone, werr)
			}
			if m != n {
				return written, fmt.Errorf("%w: %v", ErrClientGone, io.ErrShortWrite)
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				return written, nil
			}
			return written, fmt.Errorf("upstream read: %w", rerr)
		}
	}
}
