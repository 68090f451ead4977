package domain

type VideoID uint32
type ChannelID uint32

type Video struct {
	ID            VideoID
	ChannelID     ChannelID
	Title         string
	Author        string
	Description   string
	SegmentLength uint8 // seconds per segment
	SegmentAmount uint32
	MaxQuality    uint8
}

// SegmentKey addresses one immutable slice of encoded video bytes.
type SegmentKey struct {
	VideoID VideoID
	Index   uint32
	Quality uint8
}

// VideoView is the read-only projection handed out by the store and
// carried over the wire as a VideoInfo frame.
type VideoView struct {
	ChannelID     ChannelID
	SegmentAmount uint32
	SegmentLength uint8
	MaxQuality    uint8
	Author        string
	Title         string
	Description   string
}

func (v *Video) View() VideoView {
	return VideoView{
		ChannelID:     v.ChannelID,
		SegmentAmount: v.SegmentAmount,
		SegmentLength: v.SegmentLength,
		MaxQuality:    v.MaxQuality,
		Author:        v.Author,
		Title:         v.Title,
		Description:   v.Description,
	}
}

// VideoEntry pairs a video ID with its view for catalog listings.
type VideoEntry struct {
	ID   VideoID
	Info VideoView
}
