package server

import (
	"bytes"
	"errors"
	"fmt"

	"vidstream/internal/core/domain"
	"vidstream/internal/protocol"
	"vidstream/pkg/validation"
)

func (s *Server) handleLogin(c *conn) error {
	username, err := protocol.ReadString(c.r, "login.username")
	if err != nil {
		return err
	}
	password, err := protocol.ReadString(c.r, "login.password")
	if err != nil {
		return err
	}

	token, err := s.store.Authenticate(username, password)
	switch {
	case errors.Is(err, domain.ErrNoAccount):
		return protocol.WriteUint8(c.w, uint8(protocol.StatusNoAccount))
	case errors.Is(err, domain.ErrWrongPassword):
		return protocol.WriteUint8(c.w, uint8(protocol.StatusWrongPassword))
	case err != nil:
		return fmt.Errorf("authenticate: %w", err)
	}

	c.log.Infow("user logged in", "username", username)
	if err := protocol.WriteUint8(c.w, uint8(protocol.StatusSuccess)); err != nil {
		return err
	}
	return protocol.WriteString(c.w, token)
}

func (s *Server) handleRegister(c *conn) error {
	username, err := protocol.ReadString(c.r, "register.username")
	if err != nil {
		return err
	}
	password, err := protocol.ReadString(c.r, "register.password")
	if err != nil {
		return err
	}

	token, err := s.store.CreateUser(username, password)
	switch {
	case errors.Is(err, domain.ErrUsernameTaken):
		return protocol.WriteUint8(c.w, uint8(protocol.StatusUsernameTaken))
	case errors.Is(err, domain.ErrInvalidCredentials):
		return protocol.WriteUint8(c.w, uint8(protocol.StatusInvalidCredentials))
	case err != nil:
		return fmt.Errorf("create user: %w", err)
	}

	c.log.Infow("user registered", "username", username)
	if err := protocol.WriteUint8(c.w, uint8(protocol.StatusSuccess)); err != nil {
		return err
	}
	return protocol.WriteString(c.w, token)
}

func writeVideoEntries(c *conn, entries []domain.VideoEntry) error {
	if err := protocol.WriteUint32(c.w, uint32(len(entries))); err != nil {
		return err
	}
	for _, entry := range entries {
		if err := protocol.WriteUint32(c.w, uint32(entry.ID)); err != nil {
			return err
		}
		if err := protocol.WriteVideoInfo(c.w, entry.Info); err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) handleGetVideoList(c *conn) error {
	// The token is a personalization placeholder; an empty string means an
	// anonymous catalog request.
	token, err := protocol.ReadString(c.r, "video_list.token")
	if err != nil {
		return err
	}
	return writeVideoEntries(c, s.store.ListVideos(token))
}

func (s *Server) handleGetVideoSegment(c *conn) error {
	videoID, err := protocol.ReadUint32(c.r, "segment.video_id")
	if err != nil {
		return err
	}
	index, err := protocol.ReadUint32(c.r, "segment.index")
	if err != nil {
		return err
	}
	quality, err := protocol.ReadUint8(c.r, "segment.quality")
	if err != nil {
		return err
	}

	data, err := s.store.Segment(domain.SegmentKey{
		VideoID: domain.VideoID(videoID),
		Index:   index,
		Quality: quality,
	})
	if errors.Is(err, domain.ErrSegmentNotFound) {
		// Not found travels as a zero-length payload, never as an error.
		return protocol.WriteUint32(c.w, 0)
	}
	if err != nil {
		return fmt.Errorf("segment lookup: %w", err)
	}

	if s.opts.Metrics != nil {
		s.opts.Metrics.SegmentBytesSent(len(data))
	}
	return protocol.WritePayload(c.w, data)
}

func (s *Server) handleGetVideoInfo(c *conn) error {
	videoID, err := protocol.ReadUint32(c.r, "video_info.video_id")
	if err != nil {
		return err
	}

	info, err := s.store.VideoInfo(domain.VideoID(videoID))
	if errors.Is(err, domain.ErrVideoNotFound) {
		return protocol.WriteUint32(c.w, 0)
	}
	if err != nil {
		return fmt.Errorf("video info lookup: %w", err)
	}

	var buf bytes.Buffer
	if err := protocol.WriteVideoInfo(&buf, info); err != nil {
		return err
	}
	return protocol.WritePayload(c.w, buf.Bytes())
}

func (s *Server) handleGetUserVideos(c *conn) error {
	token, err := protocol.ReadString(c.r, "user_videos.token")
	if err != nil {
		return err
	}

	username, ok := s.store.SessionUser(token)
	if !ok {
		return protocol.WriteUint32(c.w, 0)
	}
	return writeVideoEntries(c, s.store.ListUserVideos(username))
}

func (s *Server) handleEditVideo(c *conn) error {
	token, err := protocol.ReadString(c.r, "edit.token")
	if err != nil {
		return err
	}
	videoID, err := protocol.ReadUint32(c.r, "edit.video_id")
	if err != nil {
		return err
	}
	title, err := protocol.ReadString(c.r, "edit.title")
	if err != nil {
		return err
	}
	description, err := protocol.ReadString(c.r, "edit.description")
	if err != nil {
		return err
	}

	username, ok := s.store.SessionUser(token)
	if !ok {
		return protocol.WriteUint8(c.w, 0)
	}
	if err := s.store.EditVideo(domain.VideoID(videoID), username, title, description); err != nil {
		c.log.Debugw("edit video rejected", "video_id", videoID, "error", err)
		return protocol.WriteUint8(c.w, 0)
	}
	c.log.Infow("video edited", "video_id", videoID, "username", username)
	return protocol.WriteUint8(c.w, 1)
}

// handleUploadVideo receives a chunked transfer. The header is acknowledged
// with a status byte before the first chunk so a rejected upload never leaves
// the two sides disagreeing on the stream position. Each chunk is preceded by
// a marker byte so the client can cancel mid-transfer; each accepted chunk is
// acknowledged with SUCCESS plus a progress percentage, and that ack is the
// sender's permission to transmit the next chunk.
func (s *Server) handleUploadVideo(c *conn) error {
	token, err := protocol.ReadString(c.r, "upload.token")
	if err != nil {
		return err
	}
	channelID, err := protocol.ReadUint32(c.r, "upload.channel_id")
	if err != nil {
		return err
	}
	title, err := protocol.ReadString(c.r, "upload.title")
	if err != nil {
		return err
	}
	description, err := protocol.ReadString(c.r, "upload.description")
	if err != nil {
		return err
	}
	totalSize, err := protocol.ReadUint64(c.r, "upload.total_size")
	if err != nil {
		return err
	}

	username, ok := s.store.SessionUser(token)
	reject := !ok ||
		totalSize == 0 ||
		validation.ValidateTitle(title) != nil ||
		validation.ValidateDescription(description) != nil
	if !reject {
		if _, err := s.store.Channel(domain.ChannelID(channelID)); err != nil {
			reject = true
		}
	}
	if reject {
		c.log.Warnw("upload rejected", "title", title, "total_size", totalSize)
		if err := protocol.WriteUint8(c.w, uint8(protocol.StatusFailure)); err != nil {
			return err
		}
		return c.w.Flush()
	}

	if err := protocol.WriteUint8(c.w, uint8(protocol.StatusSuccess)); err != nil {
		return err
	}
	if err := c.w.Flush(); err != nil {
		return err
	}

	c.log.Infow("upload started",
		"username", username, "title", title, "total_size", totalSize)

	var segments [][]byte
	var received uint64
	for received < totalSize {
		c.extendDeadlines(s.opts.ReadTimeout, s.opts.WriteTimeout)

		marker, err := protocol.ReadUint8(c.r, "upload.chunk_marker")
		if err != nil {
			return err
		}
		if marker == protocol.UploadCancel {
			c.log.Infow("upload cancelled by client",
				"username", username, "received", received)
			if err := protocol.WriteUint8(c.w, uint8(protocol.StatusFailure)); err != nil {
				return err
			}
			return c.w.Flush()
		}
		if marker != protocol.UploadChunk {
			return &protocol.Error{Field: "upload.chunk_marker",
				Cause: fmt.Errorf("unexpected marker byte 0x%02x", marker)}
		}

		chunk, err := protocol.ReadPayload(c.r, "upload.chunk")
		if err != nil {
			return err
		}
		if len(chunk) == 0 || received+uint64(len(chunk)) > totalSize {
			return &protocol.Error{Field: "upload.chunk",
				Cause: fmt.Errorf("chunk of %d bytes overflows declared size %d", len(chunk), totalSize)}
		}

		segments = append(segments, chunk)
		received += uint64(len(chunk))
		if s.opts.Metrics != nil {
			s.opts.Metrics.UploadBytesReceived(len(chunk))
		}

		if err := protocol.WriteUint8(c.w, uint8(protocol.StatusSuccess)); err != nil {
			return err
		}
		progress := uint8(received * 100 / totalSize)
		if err := protocol.WriteUint8(c.w, progress); err != nil {
			return err
		}
		if err := c.w.Flush(); err != nil {
			return err
		}
	}

	videoID, err := s.store.RegisterVideo(domain.ChannelID(channelID), username,
		title, description, DefaultSegmentLength, 0, segments)
	if err != nil {
		c.log.Errorw("upload finalization failed", "error", err)
		return protocol.WriteUint8(c.w, uint8(protocol.StatusFailure))
	}

	c.log.Infow("upload completed",
		"username", username, "video_id", videoID, "segments", len(segments))
	if err := protocol.WriteUint8(c.w, uint8(protocol.StatusSuccess)); err != nil {
		return err
	}
	return protocol.WriteUint32(c.w, uint32(videoID))
}

func (s *Server) handleCreateChannel(c *conn) error {
	token, err := protocol.ReadString(c.r, "create_channel.token")
	if err != nil {
		return err
	}
	name, err := protocol.ReadString(c.r, "create_channel.name")
	if err != nil {
		return err
	}
	description, err := protocol.ReadString(c.r, "create_channel.description")
	if err != nil {
		return err
	}

	username, ok := s.store.SessionUser(token)
	if !ok {
		return protocol.WriteUint8(c.w, uint8(protocol.StatusFailure))
	}
	channelID, err := s.store.CreateChannel(username, name, description)
	if err != nil {
		c.log.Debugw("create channel rejected", "name", name, "error", err)
		return protocol.WriteUint8(c.w, uint8(protocol.StatusFailure))
	}

	c.log.Infow("channel created", "channel_id", channelID, "owner", username)
	if err := protocol.WriteUint8(c.w, uint8(protocol.StatusSuccess)); err != nil {
		return err
	}
	return protocol.WriteUint32(c.w, uint32(channelID))
}

func (s *Server) handleGetChannelInfo(c *conn) error {
	token, err := protocol.ReadString(c.r, "channel_info.token")
	if err != nil {
		return err
	}
	channelID, err := protocol.ReadUint32(c.r, "channel_info.channel_id")
	if err != nil {
		return err
	}

	view, err := s.store.Channel(domain.ChannelID(channelID))
	if err != nil {
		return protocol.WriteUint8(c.w, uint8(protocol.StatusFailure))
	}

	ownerFlag := uint8(0)
	if username, ok := s.store.SessionUser(token); ok && username == view.Owner {
		ownerFlag = 1
	}

	if err := protocol.WriteUint8(c.w, uint8(protocol.StatusSuccess)); err != nil {
		return err
	}
	if err := protocol.WriteString(c.w, view.Name); err != nil {
		return err
	}
	if err := protocol.WriteString(c.w, view.Description); err != nil {
		return err
	}
	if err := protocol.WriteUint32(c.w, view.SubscriberCount); err != nil {
		return err
	}
	if err := protocol.WriteUint8(c.w, ownerFlag); err != nil {
		return err
	}
	return protocol.WriteUint32(c.w, view.VideoAmount)
}

func (s *Server) handleGetChannelVideos(c *conn) error {
	channelID, err := protocol.ReadUint32(c.r, "channel_videos.channel_id")
	if err != nil {
		return err
	}
	offset, err := protocol.ReadUint32(c.r, "channel_videos.offset")
	if err != nil {
		return err
	}
	limit, err := protocol.ReadUint32(c.r, "channel_videos.limit")
	if err != nil {
		return err
	}

	ids, err := s.store.ChannelVideos(domain.ChannelID(channelID), offset, limit)
	if err != nil {
		return protocol.WriteUint32(c.w, 0)
	}
	if err := protocol.WriteUint32(c.w, uint32(len(ids))); err != nil {
		return err
	}
	for _, id := range ids {
		if err := protocol.WriteUint32(c.w, uint32(id)); err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) subscription(c *conn, field string,
	apply func(username string, id domain.ChannelID) error) error {
	token, err := protocol.ReadString(c.r, field+".token")
	if err != nil {
		return err
	}
	channelID, err := protocol.ReadUint32(c.r, field+".channel_id")
	if err != nil {
		return err
	}

	username, ok := s.store.SessionUser(token)
	if !ok {
		return protocol.WriteUint8(c.w, uint8(protocol.StatusFailure))
	}
	if err := apply(username, domain.ChannelID(channelID)); err != nil {
		return protocol.WriteUint8(c.w, uint8(protocol.StatusFailure))
	}
	return protocol.WriteUint8(c.w, uint8(protocol.StatusSuccess))
}

func (s *Server) handleSubscribe(c *conn) error {
	return s.subscription(c, "subscribe", s.store.Subscribe)
}

func (s *Server) handleUnsubscribe(c *conn) error {
	return s.subscription(c, "unsubscribe", s.store.Unsubscribe)
}

func writeChannelEntries(c *conn, entries []domain.ChannelEntry) error {
	if err := protocol.WriteUint32(c.w, uint32(len(entries))); err != nil {
		return err
	}
	for _, entry := range entries {
		if err := protocol.WriteUint32(c.w, uint32(entry.ID)); err != nil {
			return err
		}
		if err := protocol.WriteChannelInfo(c.w, entry.Info); err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) handleGetUserChannels(c *conn) error {
	token, err := protocol.ReadString(c.r, "user_channels.token")
	if err != nil {
		return err
	}

	username, ok := s.store.SessionUser(token)
	if !ok {
		return protocol.WriteUint32(c.w, 0)
	}
	return writeChannelEntries(c, s.store.UserChannels(username))
}

func (s *Server) handleGetUserChannelsByUser(c *conn) error {
	token, err := protocol.ReadString(c.r, "user_channels_by_user.token")
	if err != nil {
		return err
	}
	username, err := protocol.ReadString(c.r, "user_channels_by_user.username")
	if err != nil {
		return err
	}

	if _, ok := s.store.SessionUser(token); !ok {
		return protocol.WriteUint32(c.w, 0)
	}
	return writeChannelEntries(c, s.store.UserChannels(username))
}
