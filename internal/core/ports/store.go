package ports

import "vidstream/internal/core/domain"

// Store is the authoritative in-memory holder of users, sessions, videos,
// channels and segment bytes. Every operation is atomic; reads return copies
// or immutable views, never references into store-owned collections.
type Store interface {
	// Users / sessions.
	CreateUser(username, password string) (token string, err error)
	Authenticate(username, password string) (token string, err error)
	SessionUser(token string) (username string, ok bool)

	// Catalog.
	RegisterVideo(channelID domain.ChannelID, author, title, description string,
		segmentLength uint8, maxQuality uint8, segments [][]byte) (domain.VideoID, error)
	EditVideo(id domain.VideoID, editor, title, description string) error
	VideoInfo(id domain.VideoID) (domain.VideoView, error)
	ListVideos(token string) []domain.VideoEntry
	ListUserVideos(username string) []domain.VideoEntry
	Segment(key domain.SegmentKey) ([]byte, error)

	// Channels.
	CreateChannel(owner, name, description string) (domain.ChannelID, error)
	Channel(id domain.ChannelID) (domain.ChannelView, error)
	ChannelVideos(id domain.ChannelID, offset, limit uint32) ([]domain.VideoID, error)
	UserChannels(username string) []domain.ChannelEntry
	Subscribe(username string, id domain.ChannelID) error
	Unsubscribe(username string, id domain.ChannelID) error
}
