package client

import (
	"bufio"
	"fmt"
	"io"
	"time"

	"vidstream/internal/core/domain"
	"vidstream/internal/protocol"
	"vidstream/pkg/validation"
)

// DefaultChunkSize is the upload chunk granularity. One chunk becomes one
// stored segment on the server.
const DefaultChunkSize = 1 << 20 // 1 MiB

// UploadRequest describes one chunked video upload.
type UploadRequest struct {
	ChannelID   domain.ChannelID
	Title       string
	Description string

	// Source supplies exactly TotalSize bytes.
	Source    io.Reader
	TotalSize uint64

	// ChunkSize defaults to DefaultChunkSize.
	ChunkSize int

	// Continue, when non-nil, is evaluated after every acknowledged chunk;
	// returning false cancels the upload with an explicit wire-level abort.
	Continue func() bool

	// Progress, when non-nil, receives the server-reported percentage after
	// each chunk.
	Progress func(percent uint8)
}

// UploadVideo streams a file to the server in acknowledged chunks. The
// per-chunk acknowledgement is the flow-control mechanism: the next chunk is
// sent only after the previous one is acked. There is no partial success and
// no automatic retry; any I/O failure surfaces as an upload failure.
func (t *Transport) UploadVideo(req UploadRequest) (domain.VideoID, error) {
	// Cheap invariants are checked before spending a round trip; the server
	// remains the final authority.
	if err := validation.ValidateTitle(req.Title); err != nil {
		return 0, fmt.Errorf("%w: %s", ErrUploadRejected, err)
	}
	if req.TotalSize == 0 {
		return 0, fmt.Errorf("%w: empty source", ErrUploadRejected)
	}
	chunkSize := req.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	var videoID domain.VideoID
	err := t.exchangeLocked("UPLOAD_VIDEO", func(r *bufio.Reader, w *bufio.Writer) error {
		var err error
		videoID, err = t.uploadExchange(r, w, req, chunkSize)
		return err
	})
	return videoID, err
}

func (t *Transport) uploadExchange(r *bufio.Reader, w *bufio.Writer,
	req UploadRequest, chunkSize int) (domain.VideoID, error) {
	if err := protocol.WriteUint8(w, uint8(protocol.CmdUploadVideo)); err != nil {
		return 0, err
	}
	if err := protocol.WriteString(w, t.token); err != nil {
		return 0, err
	}
	if err := protocol.WriteUint32(w, uint32(req.ChannelID)); err != nil {
		return 0, err
	}
	if err := protocol.WriteString(w, req.Title); err != nil {
		return 0, err
	}
	if err := protocol.WriteString(w, req.Description); err != nil {
		return 0, err
	}
	if err := protocol.WriteUint64(w, req.TotalSize); err != nil {
		return 0, err
	}
	if err := w.Flush(); err != nil {
		return 0, err
	}

	// Header ack. A rejection here costs nothing but the header.
	status, err := protocol.ReadUint8(r, "upload.header_status")
	if err != nil {
		return 0, err
	}
	if protocol.Status(status) != protocol.StatusSuccess {
		return 0, ErrUploadRejected
	}

	buf := make([]byte, chunkSize)
	var sent uint64
	for sent < req.TotalSize {
		t.extendDeadlineLocked()

		n := uint64(chunkSize)
		if remaining := req.TotalSize - sent; remaining < n {
			n = remaining
		}
		if _, err := io.ReadFull(req.Source, buf[:n]); err != nil {
			// The source ran dry mid-upload; abort on the wire so the
			// server's receive loop is not left waiting.
			t.sendCancel(r, w)
			return 0, fmt.Errorf("upload source failed: %w", err)
		}

		if err := protocol.WriteUint8(w, protocol.UploadChunk); err != nil {
			return 0, err
		}
		if err := protocol.WritePayload(w, buf[:n]); err != nil {
			return 0, err
		}
		if err := w.Flush(); err != nil {
			return 0, err
		}

		ackStatus, err := protocol.ReadUint8(r, "upload.ack_status")
		if err != nil {
			return 0, err
		}
		progress, err := protocol.ReadUint8(r, "upload.progress")
		if err != nil {
			return 0, err
		}
		if protocol.Status(ackStatus) != protocol.StatusSuccess {
			return 0, ErrUploadRejected
		}
		sent += n
		if req.Progress != nil {
			req.Progress(progress)
		}

		if req.Continue != nil && !req.Continue() && sent < req.TotalSize {
			t.log.Infow("upload cancelled by caller", "sent", sent, "total", req.TotalSize)
			if err := t.sendCancel(r, w); err != nil {
				return 0, err
			}
			return 0, ErrUploadCancelled
		}
	}

	finalStatus, err := protocol.ReadUint8(r, "upload.final_status")
	if err != nil {
		return 0, err
	}
	if protocol.Status(finalStatus) != protocol.StatusSuccess {
		return 0, ErrUploadRejected
	}
	id, err := protocol.ReadUint32(r, "upload.video_id")
	if err != nil {
		return 0, err
	}
	return domain.VideoID(id), nil
}

// sendCancel emits the explicit abort marker and drains the server's
// FAILURE response so the connection stays usable for further commands.
func (t *Transport) sendCancel(r *bufio.Reader, w *bufio.Writer) error {
	if err := protocol.WriteUint8(w, protocol.UploadCancel); err != nil {
		return err
	}
	if err := w.Flush(); err != nil {
		return err
	}
	_, err := protocol.ReadUint8(r, "upload.cancel_ack")
	return err
}

func (t *Transport) extendDeadlineLocked() {
	if t.conn != nil {
		t.conn.SetDeadline(time.Now().Add(t.opts.CallTimeout))
	}
}
