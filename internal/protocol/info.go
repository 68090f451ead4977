package protocol

import (
	"io"

	"vidstream/internal/core/domain"
)

// WriteVideoInfo encodes a VideoInfo frame:
// channel_id:u32, segment_amount:u32, segment_length:u8, max_quality:u8,
// len+author, len+title, len+description.
func WriteVideoInfo(w io.Writer, v domain.VideoView) error {
	if err := WriteUint32(w, uint32(v.ChannelID)); err != nil {
		return err
	}
	if err := WriteUint32(w, v.SegmentAmount); err != nil {
		return err
	}
	if err := WriteUint8(w, v.SegmentLength); err != nil {
		return err
	}
	if err := WriteUint8(w, v.MaxQuality); err != nil {
		return err
	}
	if err := WriteString(w, v.Author); err != nil {
		return err
	}
	if err := WriteString(w, v.Title); err != nil {
		return err
	}
	return WriteString(w, v.Description)
}

// ReadVideoInfo decodes a VideoInfo frame. It is the inverse of
// WriteVideoInfo for every well-formed value.
func ReadVideoInfo(r io.Reader) (domain.VideoView, error) {
	var v domain.VideoView
	channelID, err := ReadUint32(r, "video_info.channel_id")
	if err != nil {
		return v, err
	}
	v.ChannelID = domain.ChannelID(channelID)
	if v.SegmentAmount, err = ReadUint32(r, "video_info.segment_amount"); err != nil {
		return v, err
	}
	if v.SegmentLength, err = ReadUint8(r, "video_info.segment_length"); err != nil {
		return v, err
	}
	if v.MaxQuality, err = ReadUint8(r, "video_info.max_quality"); err != nil {
		return v, err
	}
	if v.Author, err = ReadString(r, "video_info.author"); err != nil {
		return v, err
	}
	if v.Title, err = ReadString(r, "video_info.title"); err != nil {
		return v, err
	}
	if v.Description, err = ReadString(r, "video_info.description"); err != nil {
		return v, err
	}
	return v, nil
}

// WriteChannelInfo encodes a ChannelInfo frame:
// len+name, len+description, subscriber_count:u32, video_amount:u32, len+owner.
func WriteChannelInfo(w io.Writer, c domain.ChannelView) error {
	if err := WriteString(w, c.Name); err != nil {
		return err
	}
	if err := WriteString(w, c.Description); err != nil {
		return err
	}
	if err := WriteUint32(w, c.SubscriberCount); err != nil {
		return err
	}
	if err := WriteUint32(w, c.VideoAmount); err != nil {
		return err
	}
	return WriteString(w, c.Owner)
}

// ReadChannelInfo decodes a ChannelInfo frame.
func ReadChannelInfo(r io.Reader) (domain.ChannelView, error) {
	var c domain.ChannelView
	var err error
	if c.Name, err = ReadString(r, "channel_info.name"); err != nil {
		return c, err
	}
	if c.Description, err = ReadString(r, "channel_info.description"); err != nil {
		return c, err
	}
	if c.SubscriberCount, err = ReadUint32(r, "channel_info.subscriber_count"); err != nil {
		return c, err
	}
	if c.VideoAmount, err = ReadUint32(r, "channel_info.video_amount"); err != nil {
		return c, err
	}
	if c.Owner, err = ReadString(r, "channel_info.owner"); err != nil {
		return c, err
	}
	return c, nil
}
