// Package client implements the client side of the video protocol: a
// synchronous transport over one TCP connection, a segment prefetch/buffer
// engine, and the chunked upload pipeline.
package client

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"vidstream/internal/core/domain"
	"vidstream/internal/protocol"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

type Options struct {
	ConnectTimeout time.Duration
	CallTimeout    time.Duration

	// MaxPrefetch caps concurrently outstanding background fetches, each of
	// which opens its own connection. Defaults to 1.
	MaxPrefetch int64
}

// Transport owns zero or one live TCP connection and executes strict
// request-then-response exchanges on it. Calls are serialized internally;
// background fetches never touch the primary connection.
type Transport struct {
	addr string
	opts Options
	log  *zap.SugaredLogger

	mu    sync.Mutex
	conn  net.Conn
	r     *bufio.Reader
	w     *bufio.Writer
	token string

	prefetch *semaphore.Weighted
}

func NewTransport(addr string, log *zap.SugaredLogger, opts Options) *Transport {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 5 * time.Second
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 30 * time.Second
	}
	if opts.MaxPrefetch <= 0 {
		opts.MaxPrefetch = 1
	}
	return &Transport{
		addr:     addr,
		opts:     opts,
		log:      log,
		prefetch: semaphore.NewWeighted(opts.MaxPrefetch),
	}
}

// Connect establishes the primary connection.
func (t *Transport) Connect() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn != nil {
		return nil
	}
	conn, err := net.DialTimeout("tcp", t.addr, t.opts.ConnectTimeout)
	if err != nil {
		return &ConnectionError{Op: "connect", Cause: err}
	}
	t.conn = conn
	t.r = bufio.NewReader(conn)
	t.w = bufio.NewWriter(conn)
	t.log.Infow("connected", "address", t.addr)
	return nil
}

// Disconnect closes the primary connection and clears the session token.
func (t *Transport) Disconnect() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.teardownLocked()
}

// IsConnected reports whether a connection object currently exists. It is a
// capability check, not a liveness probe: a half-closed peer is still
// reported as connected until the next read or write fails.
func (t *Transport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn != nil
}

// Token returns the current session token, empty when logged out.
func (t *Transport) Token() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.token
}

// teardownLocked closes the connection and clears the token. Both the
// explicit Disconnect path and the I/O failure path come through here so the
// two behave identically.
func (t *Transport) teardownLocked() {
	if t.conn != nil {
		t.conn.Close()
		t.conn = nil
		t.r = nil
		t.w = nil
		t.log.Infow("disconnected", "address", t.addr)
	}
	t.token = ""
}

// exchange runs one request/response round trip under the transport lock.
// Any error is fatal to the connection: after a failed exchange the stream
// position is unknown and cannot be resynchronized.
func (t *Transport) exchange(op string, fn func(r *bufio.Reader, w *bufio.Writer) error) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.exchangeLocked(op, fn)
}

func (t *Transport) exchangeLocked(op string, fn func(r *bufio.Reader, w *bufio.Writer) error) error {
	if t.conn == nil {
		return &ConnectionError{Op: op, Cause: ErrNotConnected}
	}
	t.conn.SetDeadline(time.Now().Add(t.opts.CallTimeout))

	if err := fn(t.r, t.w); err != nil {
		// A rejected or cancelled upload ends with both sides at a command
		// boundary, so the connection is still usable.
		if errors.Is(err, ErrUploadRejected) || errors.Is(err, ErrUploadCancelled) {
			return err
		}
		t.log.Errorw("exchange failed", "op", op, "error", err)
		t.teardownLocked()
		return classifyWireErr(op, err)
	}
	return nil
}

// classifyWireErr keeps protocol decode failures typed as protocol.Error and
// wraps plain I/O failures as ConnectionError.
func classifyWireErr(op string, err error) error {
	var pe *protocol.Error
	if errors.As(err, &pe) {
		cause := pe.Unwrap()
		if isIOFailure(cause) {
			return &ConnectionError{Op: op, Cause: cause}
		}
		return err
	}
	if isIOFailure(err) {
		return &ConnectionError{Op: op, Cause: err}
	}
	return err
}

func isIOFailure(err error) bool {
	if err == nil {
		return false
	}
	var ne net.Error
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, net.ErrClosed) ||
		errors.As(err, &ne)
}

func flush(w *bufio.Writer) error {
	return w.Flush()
}

// Login authenticates and stores the returned session token on success.
func (t *Transport) Login(username, password string) (protocol.Status, error) {
	return t.authExchange(protocol.CmdLogin, username, password)
}

// Register creates an account and stores the returned token on success.
func (t *Transport) Register(username, password string) (protocol.Status, error) {
	return t.authExchange(protocol.CmdRegister, username, password)
}

func (t *Transport) authExchange(cmd protocol.Command, username, password string) (protocol.Status, error) {
	var status protocol.Status
	err := t.exchange(cmd.String(), func(r *bufio.Reader, w *bufio.Writer) error {
		if err := protocol.WriteUint8(w, uint8(cmd)); err != nil {
			return err
		}
		if err := protocol.WriteString(w, username); err != nil {
			return err
		}
		if err := protocol.WriteString(w, password); err != nil {
			return err
		}
		if err := flush(w); err != nil {
			return err
		}

		b, err := protocol.ReadUint8(r, "auth.status")
		if err != nil {
			return err
		}
		status = protocol.Status(b)
		if status == protocol.StatusSuccess {
			token, err := protocol.ReadString(r, "auth.token")
			if err != nil {
				return err
			}
			t.token = token
		}
		return nil
	})
	return status, err
}

func readVideoEntries(r *bufio.Reader) ([]domain.VideoEntry, error) {
	count, err := protocol.ReadUint32(r, "video_list.count")
	if err != nil {
		return nil, err
	}
	entries := make([]domain.VideoEntry, 0, count)
	for i := uint32(0); i < count; i++ {
		id, err := protocol.ReadUint32(r, "video_list.video_id")
		if err != nil {
			return nil, err
		}
		info, err := protocol.ReadVideoInfo(r)
		if err != nil {
			return nil, err
		}
		entries = append(entries, domain.VideoEntry{ID: domain.VideoID(id), Info: info})
	}
	return entries, nil
}

// VideoList fetches the catalog.
func (t *Transport) VideoList() ([]domain.VideoEntry, error) {
	var entries []domain.VideoEntry
	err := t.exchange("GET_VIDEO_LIST", func(r *bufio.Reader, w *bufio.Writer) error {
		if err := protocol.WriteUint8(w, uint8(protocol.CmdGetVideoList)); err != nil {
			return err
		}
		if err := protocol.WriteString(w, t.token); err != nil {
			return err
		}
		if err := flush(w); err != nil {
			return err
		}
		var err error
		entries, err = readVideoEntries(r)
		return err
	})
	return entries, err
}

// UserVideos fetches videos authored by the logged-in user.
func (t *Transport) UserVideos() ([]domain.VideoEntry, error) {
	var entries []domain.VideoEntry
	err := t.exchange("GET_USER_VIDEOS", func(r *bufio.Reader, w *bufio.Writer) error {
		if err := protocol.WriteUint8(w, uint8(protocol.CmdGetUserVideos)); err != nil {
			return err
		}
		if err := protocol.WriteString(w, t.token); err != nil {
			return err
		}
		if err := flush(w); err != nil {
			return err
		}
		var err error
		entries, err = readVideoEntries(r)
		return err
	})
	return entries, err
}

// EditVideo updates title and description; only the author may edit.
func (t *Transport) EditVideo(id domain.VideoID, title, description string) (bool, error) {
	var ok bool
	err := t.exchange("EDIT_VIDEO", func(r *bufio.Reader, w *bufio.Writer) error {
		if err := protocol.WriteUint8(w, uint8(protocol.CmdEditVideo)); err != nil {
			return err
		}
		if err := protocol.WriteString(w, t.token); err != nil {
			return err
		}
		if err := protocol.WriteUint32(w, uint32(id)); err != nil {
			return err
		}
		if err := protocol.WriteString(w, title); err != nil {
			return err
		}
		if err := protocol.WriteString(w, description); err != nil {
			return err
		}
		if err := flush(w); err != nil {
			return err
		}
		b, err := protocol.ReadUint8(r, "edit.result")
		if err != nil {
			return err
		}
		ok = b == 1
		return nil
	})
	return ok, err
}

// VideoInfo fetches metadata for one video; nil means unknown video.
func (t *Transport) VideoInfo(id domain.VideoID) (*domain.VideoView, error) {
	var view *domain.VideoView
	err := t.exchange("GET_VIDEO_INFO", func(r *bufio.Reader, w *bufio.Writer) error {
		if err := protocol.WriteUint8(w, uint8(protocol.CmdGetVideoInfo)); err != nil {
			return err
		}
		if err := protocol.WriteUint32(w, uint32(id)); err != nil {
			return err
		}
		if err := flush(w); err != nil {
			return err
		}
		payload, err := protocol.ReadPayload(r, "video_info.payload")
		if err != nil {
			return err
		}
		if payload == nil {
			return nil
		}
		v, err := protocol.ReadVideoInfo(bytes.NewReader(payload))
		if err != nil {
			return err
		}
		view = &v
		return nil
	})
	return view, err
}

// Segment performs a blocking fetch on the primary connection. A nil payload
// with nil error means the segment does not exist.
func (t *Transport) Segment(id domain.VideoID, index uint32, quality uint8) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil, &ConnectionError{Op: "GET_VIDEO_SEGMENT", Cause: ErrNotConnected}
	}
	var data []byte
	err := t.exchangeLocked("GET_VIDEO_SEGMENT", func(r *bufio.Reader, w *bufio.Writer) error {
		var err error
		data, err = segmentExchange(r, w, id, index, quality)
		return err
	})
	return data, err
}

func segmentExchange(r *bufio.Reader, w *bufio.Writer, id domain.VideoID, index uint32, quality uint8) ([]byte, error) {
	if err := protocol.WriteUint8(w, uint8(protocol.CmdGetVideoSegment)); err != nil {
		return nil, err
	}
	if err := protocol.WriteUint32(w, uint32(id)); err != nil {
		return nil, err
	}
	if err := protocol.WriteUint32(w, index); err != nil {
		return nil, err
	}
	if err := protocol.WriteUint8(w, quality); err != nil {
		return nil, err
	}
	if err := flush(w); err != nil {
		return nil, err
	}
	return protocol.ReadPayload(r, "segment.payload")
}

// FetchSegmentAsync schedules a background fetch over an independent
// connection and delivers the result to cb from the worker goroutine. The
// caller is responsible for marshaling the callback onto whatever thread owns
// the playback sink. Concurrency is capped by MaxPrefetch; the cap applies
// backpressure rather than dropping requests.
func (t *Transport) FetchSegmentAsync(ctx context.Context,
	id domain.VideoID, index uint32, quality uint8,
	cb func(data []byte, err error)) {
	go func() {
		if err := t.prefetch.Acquire(ctx, 1); err != nil {
			cb(nil, err)
			return
		}
		defer t.prefetch.Release(1)

		data, err := t.fetchOnNewConn(id, index, quality)
		cb(data, err)
	}()
}

// fetchOnNewConn opens a dedicated connection, performs one synchronous
// segment exchange, and closes it. The primary connection's ordering is
// untouched; the two paths address disjoint segment indices by construction.
func (t *Transport) fetchOnNewConn(id domain.VideoID, index uint32, quality uint8) ([]byte, error) {
	conn, err := net.DialTimeout("tcp", t.addr, t.opts.ConnectTimeout)
	if err != nil {
		return nil, &ConnectionError{Op: "prefetch connect", Cause: err}
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(t.opts.CallTimeout))

	r := bufio.NewReader(conn)
	w := bufio.NewWriter(conn)
	data, err := segmentExchange(r, w, id, index, quality)
	if err != nil {
		return nil, classifyWireErr("prefetch", err)
	}
	return data, nil
}

// CreateChannel creates a channel owned by the logged-in user.
func (t *Transport) CreateChannel(name, description string) (domain.ChannelID, error) {
	var channelID domain.ChannelID
	err := t.exchange("CREATE_CHANNEL", func(r *bufio.Reader, w *bufio.Writer) error {
		if err := protocol.WriteUint8(w, uint8(protocol.CmdCreateChannel)); err != nil {
			return err
		}
		if err := protocol.WriteString(w, t.token); err != nil {
			return err
		}
		if err := protocol.WriteString(w, name); err != nil {
			return err
		}
		if err := protocol.WriteString(w, description); err != nil {
			return err
		}
		if err := flush(w); err != nil {
			return err
		}
		b, err := protocol.ReadUint8(r, "create_channel.status")
		if err != nil {
			return err
		}
		if protocol.Status(b) != protocol.StatusSuccess {
			return fmt.Errorf("create channel: server returned %s", protocol.Status(b))
		}
		id, err := protocol.ReadUint32(r, "create_channel.channel_id")
		if err != nil {
			return err
		}
		channelID = domain.ChannelID(id)
		return nil
	})
	return channelID, err
}

// ChannelInfo describes a channel from the requester's point of view.
type ChannelInfo struct {
	Name            string
	Description     string
	SubscriberCount uint32
	Owned           bool
	VideoAmount     uint32
}

// GetChannelInfo fetches channel metadata; nil means unknown channel.
func (t *Transport) GetChannelInfo(id domain.ChannelID) (*ChannelInfo, error) {
	var info *ChannelInfo
	err := t.exchange("GET_CHANNEL_INFO", func(r *bufio.Reader, w *bufio.Writer) error {
		if err := protocol.WriteUint8(w, uint8(protocol.CmdGetChannelInfo)); err != nil {
			return err
		}
		if err := protocol.WriteString(w, t.token); err != nil {
			return err
		}
		if err := protocol.WriteUint32(w, uint32(id)); err != nil {
			return err
		}
		if err := flush(w); err != nil {
			return err
		}
		b, err := protocol.ReadUint8(r, "channel_info.status")
		if err != nil {
			return err
		}
		if protocol.Status(b) != protocol.StatusSuccess {
			return nil
		}
		var ci ChannelInfo
		if ci.Name, err = protocol.ReadString(r, "channel_info.name"); err != nil {
			return err
		}
		if ci.Description, err = protocol.ReadString(r, "channel_info.description"); err != nil {
			return err
		}
		if ci.SubscriberCount, err = protocol.ReadUint32(r, "channel_info.subscriber_count"); err != nil {
			return err
		}
		ownerFlag, err := protocol.ReadUint8(r, "channel_info.owner_flag")
		if err != nil {
			return err
		}
		ci.Owned = ownerFlag == 1
		if ci.VideoAmount, err = protocol.ReadUint32(r, "channel_info.video_amount"); err != nil {
			return err
		}
		info = &ci
		return nil
	})
	return info, err
}

// ChannelVideos pages through a channel's videos in creation order. A zero
// limit means "the rest".
func (t *Transport) ChannelVideos(id domain.ChannelID, offset, limit uint32) ([]domain.VideoID, error) {
	var ids []domain.VideoID
	err := t.exchange("GET_CHANNEL_VIDEOS", func(r *bufio.Reader, w *bufio.Writer) error {
		if err := protocol.WriteUint8(w, uint8(protocol.CmdGetChannelVideos)); err != nil {
			return err
		}
		if err := protocol.WriteUint32(w, uint32(id)); err != nil {
			return err
		}
		if err := protocol.WriteUint32(w, offset); err != nil {
			return err
		}
		if err := protocol.WriteUint32(w, limit); err != nil {
			return err
		}
		if err := flush(w); err != nil {
			return err
		}
		count, err := protocol.ReadUint32(r, "channel_videos.count")
		if err != nil {
			return err
		}
		ids = make([]domain.VideoID, 0, count)
		for i := uint32(0); i < count; i++ {
			vid, err := protocol.ReadUint32(r, "channel_videos.video_id")
			if err != nil {
				return err
			}
			ids = append(ids, domain.VideoID(vid))
		}
		return nil
	})
	return ids, err
}

// Subscribe adds the logged-in user to a channel's subscribers.
func (t *Transport) Subscribe(id domain.ChannelID) (bool, error) {
	return t.subscription(protocol.CmdSubscribe, id)
}

// Unsubscribe removes the logged-in user from a channel's subscribers.
func (t *Transport) Unsubscribe(id domain.ChannelID) (bool, error) {
	return t.subscription(protocol.CmdUnsubscribe, id)
}

func (t *Transport) subscription(cmd protocol.Command, id domain.ChannelID) (bool, error) {
	var ok bool
	err := t.exchange(cmd.String(), func(r *bufio.Reader, w *bufio.Writer) error {
		if err := protocol.WriteUint8(w, uint8(cmd)); err != nil {
			return err
		}
		if err := protocol.WriteString(w, t.token); err != nil {
			return err
		}
		if err := protocol.WriteUint32(w, uint32(id)); err != nil {
			return err
		}
		if err := flush(w); err != nil {
			return err
		}
		b, err := protocol.ReadUint8(r, "subscription.status")
		if err != nil {
			return err
		}
		ok = protocol.Status(b) == protocol.StatusSuccess
		return nil
	})
	return ok, err
}

// UserChannels lists channels owned by the logged-in user.
func (t *Transport) UserChannels() ([]domain.ChannelEntry, error) {
	return t.userChannels(protocol.CmdGetUserChannels, "")
}

// UserChannelsByUser lists channels owned by the named user.
func (t *Transport) UserChannelsByUser(username string) ([]domain.ChannelEntry, error) {
	return t.userChannels(protocol.CmdGetUserChannelsByUser, username)
}

func (t *Transport) userChannels(cmd protocol.Command, username string) ([]domain.ChannelEntry, error) {
	var entries []domain.ChannelEntry
	err := t.exchange(cmd.String(), func(r *bufio.Reader, w *bufio.Writer) error {
		if err := protocol.WriteUint8(w, uint8(cmd)); err != nil {
			return err
		}
		if err := protocol.WriteString(w, t.token); err != nil {
			return err
		}
		if cmd == protocol.CmdGetUserChannelsByUser {
			if err := protocol.WriteString(w, username); err != nil {
				return err
			}
		}
		if err := flush(w); err != nil {
			return err
		}
		count, err := protocol.ReadUint32(r, "user_channels.count")
		if err != nil {
			return err
		}
		entries = make([]domain.ChannelEntry, 0, count)
		for i := uint32(0); i < count; i++ {
			id, err := protocol.ReadUint32(r, "user_channels.channel_id")
			if err != nil {
				return err
			}
			info, err := protocol.ReadChannelInfo(r)
			if err != nil {
				return err
			}
			entries = append(entries, domain.ChannelEntry{ID: domain.ChannelID(id), Info: info})
		}
		return nil
	})
	return entries, err
}
