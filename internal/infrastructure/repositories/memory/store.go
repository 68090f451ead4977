package memory

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"vidstream/internal/core/domain"
	"vidstream/internal/core/ports"
	"vidstream/pkg/validation"
)

// Store holds all server state in memory behind one exclusive lock. Catalog
// writes are infrequent, so coarse locking is fine; segment payloads are
// immutable once stored and may be handed out without copying.
type Store struct {
	mu         sync.Mutex
	sessionTTL time.Duration

	users    map[string]*domain.User
	sessions map[string]*domain.Session

	videos     map[domain.VideoID]*domain.Video
	videoOrder []domain.VideoID
	segments   map[domain.SegmentKey][]byte

	channels     map[domain.ChannelID]*domain.Channel
	channelOrder []domain.ChannelID

	nextVideoID   domain.VideoID
	nextChannelID domain.ChannelID
}

func NewStore(sessionTTL time.Duration) *Store {
	return &Store{
		sessionTTL:    sessionTTL,
		users:         make(map[string]*domain.User),
		sessions:      make(map[string]*domain.Session),
		videos:        make(map[domain.VideoID]*domain.Video),
		segments:      make(map[domain.SegmentKey][]byte),
		channels:      make(map[domain.ChannelID]*domain.Channel),
		nextVideoID:   1,
		nextChannelID: 1,
	}
}

var _ ports.Store = (*Store)(nil)

func hashPassword(password string) string {
	sum := sha256.Sum256([]byte(password))
	return hex.EncodeToString(sum[:])
}

// newToken draws 32 bytes from a cryptographically strong source. The token
// is never derived from the username or password.
func newToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func (s *Store) issueSession(username string) (string, error) {
	token, err := newToken()
	if err != nil {
		return "", err
	}
	s.sessions[token] = &domain.Session{
		Token:    token,
		Username: username,
		IssuedAt: time.Now(),
	}
	return token, nil
}

func (s *Store) CreateUser(username, password string) (string, error) {
	if err := validation.ValidateUsername(username); err != nil {
		return "", domain.ErrInvalidCredentials
	}
	if err := validation.ValidatePassword(password); err != nil {
		return "", domain.ErrInvalidCredentials
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[username]; exists {
		return "", domain.ErrUsernameTaken
	}
	s.users[username] = &domain.User{
		Username:     username,
		PasswordHash: hashPassword(password),
		CreatedAt:    time.Now(),
	}
	return s.issueSession(username)
}

func (s *Store) Authenticate(username, password string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, exists := s.users[username]
	if !exists {
		return "", domain.ErrNoAccount
	}
	if user.PasswordHash != hashPassword(password) {
		return "", domain.ErrWrongPassword
	}
	return s.issueSession(username)
}

func (s *Store) SessionUser(token string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, exists := s.sessions[token]
	if !exists {
		return "", false
	}
	if s.sessionTTL > 0 && time.Since(session.IssuedAt) > s.sessionTTL {
		delete(s.sessions, token)
		return "", false
	}
	return session.Username, true
}

func (s *Store) RegisterVideo(channelID domain.ChannelID, author, title, description string,
	segmentLength uint8, maxQuality uint8, segments [][]byte) (domain.VideoID, error) {
	if err := validation.ValidateTitle(title); err != nil {
		return 0, domain.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	channel, exists := s.channels[channelID]
	if !exists {
		return 0, domain.ErrChannelNotFound
	}

	id := s.nextVideoID
	s.nextVideoID++

	s.videos[id] = &domain.Video{
		ID:            id,
		ChannelID:     channelID,
		Title:         title,
		Author:        author,
		Description:   description,
		SegmentLength: segmentLength,
		SegmentAmount: uint32(len(segments)),
		MaxQuality:    maxQuality,
	}
	s.videoOrder = append(s.videoOrder, id)
	channel.VideoIDs = append(channel.VideoIDs, id)

	// Uploaded content carries a single quality level; per-quality variants
	// are registered at quality 0 through maxQuality by seeding tools.
	for i, data := range segments {
		s.segments[domain.SegmentKey{VideoID: id, Index: uint32(i), Quality: 0}] = data
	}
	return id, nil
}

// StoreSegment registers one segment payload at an explicit quality level.
// Intended for seeding; segments are write-once.
func (s *Store) StoreSegment(key domain.SegmentKey, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	video, exists := s.videos[key.VideoID]
	if !exists {
		return domain.ErrVideoNotFound
	}
	if key.Index >= video.SegmentAmount || key.Quality > video.MaxQuality {
		return domain.ErrSegmentNotFound
	}
	if _, exists := s.segments[key]; exists {
		return fmt.Errorf("segment %v already stored", key)
	}
	s.segments[key] = data
	return nil
}

func (s *Store) EditVideo(id domain.VideoID, editor, title, description string) error {
	if err := validation.ValidateTitle(title); err != nil {
		return domain.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	video, exists := s.videos[id]
	if !exists {
		return domain.ErrVideoNotFound
	}
	if video.Author != editor {
		return domain.ErrUnauthorized
	}
	video.Title = title
	video.Description = description
	return nil
}

func (s *Store) VideoInfo(id domain.VideoID) (domain.VideoView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	video, exists := s.videos[id]
	if !exists {
		return domain.VideoView{}, domain.ErrVideoNotFound
	}
	return video.View(), nil
}

// ListVideos returns the catalog in creation order. The token is a
// placeholder for future per-user filtering; today the listing is
// catalog-wide regardless of who asks.
func (s *Store) ListVideos(token string) []domain.VideoEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := make([]domain.VideoEntry, 0, len(s.videoOrder))
	for _, id := range s.videoOrder {
		entries = append(entries, domain.VideoEntry{ID: id, Info: s.videos[id].View()})
	}
	return entries
}

func (s *Store) ListUserVideos(username string) []domain.VideoEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	var entries []domain.VideoEntry
	for _, id := range s.videoOrder {
		if video := s.videos[id]; video.Author == username {
			entries = append(entries, domain.VideoEntry{ID: id, Info: video.View()})
		}
	}
	return entries
}

// Segment returns the stored payload for key. The returned slice is the
// store's own copy; callers must treat it as immutable.
func (s *Store) Segment(key domain.SegmentKey) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, exists := s.segments[key]
	if !exists {
		return nil, domain.ErrSegmentNotFound
	}
	return data, nil
}

func (s *Store) CreateChannel(owner, name, description string) (domain.ChannelID, error) {
	if err := validation.ValidateTitle(name); err != nil {
		return 0, domain.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextChannelID
	s.nextChannelID++

	s.channels[id] = &domain.Channel{
		ID:          id,
		Name:        name,
		Description: description,
		Owner:       owner,
		Subscribers: make(map[string]struct{}),
	}
	s.channelOrder = append(s.channelOrder, id)
	return id, nil
}

func (s *Store) Channel(id domain.ChannelID) (domain.ChannelView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	channel, exists := s.channels[id]
	if !exists {
		return domain.ChannelView{}, domain.ErrChannelNotFound
	}
	return channel.View(), nil
}

func (s *Store) ChannelVideos(id domain.ChannelID, offset, limit uint32) ([]domain.VideoID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	channel, exists := s.channels[id]
	if !exists {
		return nil, domain.ErrChannelNotFound
	}
	total := uint64(len(channel.VideoIDs))
	if uint64(offset) >= total {
		return nil, nil
	}
	// 64-bit arithmetic so offset+limit cannot wrap.
	end := uint64(offset) + uint64(limit)
	if limit == 0 || end > total {
		end = total
	}
	ids := make([]domain.VideoID, end-uint64(offset))
	copy(ids, channel.VideoIDs[offset:end])
	return ids, nil
}

func (s *Store) UserChannels(username string) []domain.ChannelEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	var entries []domain.ChannelEntry
	for _, id := range s.channelOrder {
		if channel := s.channels[id]; channel.Owner == username {
			entries = append(entries, domain.ChannelEntry{ID: id, Info: channel.View()})
		}
	}
	return entries
}

func (s *Store) Subscribe(username string, id domain.ChannelID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	channel, exists := s.channels[id]
	if !exists {
		return domain.ErrChannelNotFound
	}
	channel.Subscribers[username] = struct{}{}
	return nil
}

func (s *Store) Unsubscribe(username string, id domain.ChannelID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	channel, exists := s.channels[id]
	if !exists {
		return domain.ErrChannelNotFound
	}
	delete(channel.Subscribers, username)
	return nil
}

// SeedUser creates a user without issuing a session. Used by the server
// binary to provision demo accounts.
func (s *Store) SeedUser(username, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[username]; exists {
		return domain.ErrUsernameTaken
	}
	s.users[username] = &domain.User{
		Username:     username,
		PasswordHash: hashPassword(password),
		CreatedAt:    time.Now(),
	}
	return nil
}
