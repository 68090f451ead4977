package server

import (
	"bytes"
	"context"
	"io"
	"net"
	"testing"
	"time"

	"vidstream/internal/client"
	"vidstream/internal/core/domain"
	"vidstream/internal/infrastructure/repositories/memory"
	"vidstream/internal/protocol"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func startServer(t *testing.T) (*memory.Store, string) {
	t.Helper()

	store := memory.NewStore(time.Hour)
	srv := New(store, zap.NewNop().Sugar(), Options{
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	go srv.Serve(ln)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	})

	return store, ln.Addr().String()
}

func newClient(t *testing.T, addr string) *client.Transport {
	t.Helper()

	transport := client.NewTransport(addr, zap.NewNop().Sugar(), client.Options{
		ConnectTimeout: 2 * time.Second,
		CallTimeout:    5 * time.Second,
	})
	require.NoError(t, transport.Connect())
	t.Cleanup(transport.Disconnect)
	return transport
}

func TestRegisterAndLogin(t *testing.T) {
	_, addr := startServer(t)
	c := newClient(t, addr)

	status, err := c.Register("alice", "secret1")
	require.NoError(t, err)
	assert.Equal(t, protocol.StatusSuccess, status)
	assert.NotEmpty(t, c.Token())

	status, err = c.Register("alice", "other")
	require.NoError(t, err)
	assert.Equal(t, protocol.StatusUsernameTaken, status)

	status, err = c.Register("", "password")
	require.NoError(t, err)
	assert.Equal(t, protocol.StatusInvalidCredentials, status)
}

func TestLoginSeededUser(t *testing.T) {
	store, addr := startServer(t)
	require.NoError(t, store.SeedUser("test", "test123"))
	c := newClient(t, addr)

	status, err := c.Login("test", "wrong")
	require.NoError(t, err)
	assert.Equal(t, protocol.StatusWrongPassword, status)
	assert.Empty(t, c.Token(), "no token bytes follow a failed login")

	status, err = c.Login("nobody", "test123")
	require.NoError(t, err)
	assert.Equal(t, protocol.StatusNoAccount, status)

	status, err = c.Login("test", "test123")
	require.NoError(t, err)
	assert.Equal(t, protocol.StatusSuccess, status)
	assert.NotEmpty(t, c.Token())
}

func TestEmptyCatalog(t *testing.T) {
	_, addr := startServer(t)
	c := newClient(t, addr)

	entries, err := c.VideoList()
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSegmentNotFoundIsZeroLength(t *testing.T) {
	_, addr := startServer(t)
	c := newClient(t, addr)

	data, err := c.Segment(42, 0, 0)
	require.NoError(t, err, "unknown segment is a zero-length response, not an error")
	assert.Nil(t, data)
}

func TestUploadAndCatalog(t *testing.T) {
	_, addr := startServer(t)
	c := newClient(t, addr)

	_, err := c.Register("alice", "secret1")
	require.NoError(t, err)

	channelID, err := c.CreateChannel("alice's channel", "first channel")
	require.NoError(t, err)

	// 40 bytes in 16-byte chunks: ceil(40/16) = 3 chunks.
	payload := bytes.Repeat([]byte{0xaa}, 40)
	var progress []uint8
	videoID, err := c.UploadVideo(client.UploadRequest{
		ChannelID:   channelID,
		Title:       "my upload",
		Description: "first video",
		Source:      bytes.NewReader(payload),
		TotalSize:   uint64(len(payload)),
		ChunkSize:   16,
		Progress:    func(p uint8) { progress = append(progress, p) },
	})
	require.NoError(t, err)
	assert.NotZero(t, videoID)
	assert.Equal(t, []uint8{40, 80, 100}, progress)

	// The upload appears in the author's videos and the catalog.
	mine, err := c.UserVideos()
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, videoID, mine[0].ID)
	assert.Equal(t, "my upload", mine[0].Info.Title)
	assert.Equal(t, "alice", mine[0].Info.Author)
	assert.Equal(t, uint32(3), mine[0].Info.SegmentAmount)
	assert.Equal(t, channelID, mine[0].Info.ChannelID)

	all, err := c.VideoList()
	require.NoError(t, err)
	require.Len(t, all, 1)

	// Segments come back exactly as chunked.
	seg, err := c.Segment(videoID, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, payload[:16], seg)
	seg, err = c.Segment(videoID, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, payload[32:], seg)
	seg, err = c.Segment(videoID, 3, 0)
	require.NoError(t, err)
	assert.Nil(t, seg, "past-the-end index is not found")

	ids, err := c.ChannelVideos(channelID, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, []domain.VideoID{videoID}, ids)

	info, err := c.GetChannelInfo(channelID)
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, "alice's channel", info.Name)
	assert.True(t, info.Owned)
	assert.Equal(t, uint32(1), info.VideoAmount)
}

func TestUploadCancelKeepsConnectionUsable(t *testing.T) {
	_, addr := startServer(t)
	c := newClient(t, addr)

	_, err := c.Register("alice", "secret1")
	require.NoError(t, err)
	channelID, err := c.CreateChannel("channel", "")
	require.NoError(t, err)

	payload := bytes.Repeat([]byte{1}, 64)
	chunks := 0
	_, err = c.UploadVideo(client.UploadRequest{
		ChannelID: channelID,
		Title:     "doomed",
		Source:    bytes.NewReader(payload),
		TotalSize: uint64(len(payload)),
		ChunkSize: 16,
		Continue: func() bool {
			chunks++
			return chunks < 2
		},
	})
	require.ErrorIs(t, err, client.ErrUploadCancelled)

	// Nothing was registered and the same connection still serves commands.
	entries, err := c.VideoList()
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestUploadRejectedWithoutToken(t *testing.T) {
	_, addr := startServer(t)
	c := newClient(t, addr)

	payload := []byte("data")
	_, err := c.UploadVideo(client.UploadRequest{
		ChannelID: 1,
		Title:     "no auth",
		Source:    bytes.NewReader(payload),
		TotalSize: uint64(len(payload)),
	})
	require.ErrorIs(t, err, client.ErrUploadRejected)

	// Rejection happens at the header; the connection survives.
	_, err = c.VideoList()
	require.NoError(t, err)
}

func TestEditVideoAuthorization(t *testing.T) {
	_, addr := startServer(t)

	author := newClient(t, addr)
	_, err := author.Register("author", "secret1")
	require.NoError(t, err)
	channelID, err := author.CreateChannel("channel", "")
	require.NoError(t, err)

	payload := []byte("segment")
	videoID, err := author.UploadVideo(client.UploadRequest{
		ChannelID: channelID,
		Title:     "original",
		Source:    bytes.NewReader(payload),
		TotalSize: uint64(len(payload)),
	})
	require.NoError(t, err)

	intruder := newClient(t, addr)
	_, err = intruder.Register("intruder", "secret1")
	require.NoError(t, err)

	ok, err := intruder.EditVideo(videoID, "hijacked", "gone")
	require.NoError(t, err)
	assert.False(t, ok)

	info, err := author.VideoInfo(videoID)
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, "original", info.Title, "failed edit must not change stored fields")

	ok, err = author.EditVideo(videoID, "renamed", "new desc")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSubscriptionFlow(t *testing.T) {
	_, addr := startServer(t)

	owner := newClient(t, addr)
	_, err := owner.Register("owner", "secret1")
	require.NoError(t, err)
	channelID, err := owner.CreateChannel("channel", "")
	require.NoError(t, err)

	fan := newClient(t, addr)
	_, err = fan.Register("fan", "secret1")
	require.NoError(t, err)

	ok, err := fan.Subscribe(channelID)
	require.NoError(t, err)
	assert.True(t, ok)

	info, err := fan.GetChannelInfo(channelID)
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, uint32(1), info.SubscriberCount)
	assert.False(t, info.Owned)

	ok, err = fan.Unsubscribe(channelID)
	require.NoError(t, err)
	assert.True(t, ok)

	info, err = fan.GetChannelInfo(channelID)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), info.SubscriberCount)

	ok, err = fan.Subscribe(999)
	require.NoError(t, err)
	assert.False(t, ok, "unknown channel is a FAILURE status, not an error")
}

func TestUserChannelListings(t *testing.T) {
	_, addr := startServer(t)

	c := newClient(t, addr)
	_, err := c.Register("owner", "secret1")
	require.NoError(t, err)
	first, err := c.CreateChannel("first", "")
	require.NoError(t, err)
	second, err := c.CreateChannel("second", "")
	require.NoError(t, err)

	entries, err := c.UserChannels()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, first, entries[0].ID)
	assert.Equal(t, second, entries[1].ID)

	other := newClient(t, addr)
	_, err = other.Register("other", "secret1")
	require.NoError(t, err)
	byUser, err := other.UserChannelsByUser("owner")
	require.NoError(t, err)
	assert.Len(t, byUser, 2)
	assert.Equal(t, "owner", byUser[0].Info.Owner)
}

func TestUnknownCommandClosesConnection(t *testing.T) {
	_, addr := startServer(t)

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte{0xee})
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var buf [1]byte
	_, err = conn.Read(buf[:])
	assert.ErrorIs(t, err, io.EOF, "server must close on an unrecognized command byte")
}

func TestTruncatedRequestClosesConnection(t *testing.T) {
	_, addr := startServer(t)

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)

	// LOGIN command byte plus a username length that never arrives.
	_, err = conn.Write([]byte{byte(protocol.CmdLogin), 0x00, 0x00, 0x00, 0x10})
	require.NoError(t, err)
	conn.Close()

	// A fresh connection still works; the bad one did not wedge the server.
	c := newClient(t, addr)
	_, err = c.VideoList()
	require.NoError(t, err)
}

func TestConnectionErrorClearsToken(t *testing.T) {
	store, addr := startServer(t)
	require.NoError(t, store.SeedUser("test", "test123"))

	c := newClient(t, addr)
	_, err := c.Login("test", "test123")
	require.NoError(t, err)
	require.NotEmpty(t, c.Token())

	c.Disconnect()
	assert.False(t, c.IsConnected())
	assert.Empty(t, c.Token(), "teardown must clear the session token")

	_, err = c.VideoList()
	var connErr *client.ConnectionError
	assert.ErrorAs(t, err, &connErr)
}
