// Package protocol implements the wire codec for the private TCP protocol:
// one command/status byte followed by fixed-width big-endian integers and
// length-prefixed UTF-8 strings. There is no protocol version field; client
// and server binaries must agree on the command table out of band.
package protocol

// Command is the single request byte opening every exchange.
type Command uint8

const (
	CmdLogin                 Command = 0x01
	CmdRegister              Command = 0x02
	CmdGetVideoList          Command = 0x03
	CmdGetVideoSegment       Command = 0x04
	CmdUploadVideo           Command = 0x05
	CmdGetUserVideos         Command = 0x06
	CmdEditVideo             Command = 0x07
	CmdCreateChannel         Command = 0x08
	CmdGetChannelInfo        Command = 0x09
	CmdGetChannelVideos      Command = 0x0A
	CmdSubscribe             Command = 0x0B
	CmdUnsubscribe           Command = 0x0C
	CmdGetUserChannels       Command = 0x0D
	CmdGetUserChannelsByUser Command = 0x0E
	CmdGetVideoInfo          Command = 0x0F
)

var commandNames = map[Command]string{
	CmdLogin:                 "LOGIN",
	CmdRegister:              "REGISTER",
	CmdGetVideoList:          "GET_VIDEO_LIST",
	CmdGetVideoSegment:       "GET_VIDEO_SEGMENT",
	CmdUploadVideo:           "UPLOAD_VIDEO",
	CmdGetUserVideos:         "GET_USER_VIDEOS",
	CmdEditVideo:             "EDIT_VIDEO",
	CmdCreateChannel:         "CREATE_CHANNEL",
	CmdGetChannelInfo:        "GET_CHANNEL_INFO",
	CmdGetChannelVideos:      "GET_CHANNEL_VIDEOS",
	CmdSubscribe:             "SUBSCRIBE",
	CmdUnsubscribe:           "UNSUBSCRIBE",
	CmdGetUserChannels:       "GET_USER_CHANNELS",
	CmdGetUserChannelsByUser: "GET_USER_CHANNELS_BY_USER",
	CmdGetVideoInfo:          "GET_VIDEO_INFO",
}

func (c Command) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return "UNKNOWN"
}

// Known reports whether c is part of the command table.
func (c Command) Known() bool {
	_, ok := commandNames[c]
	return ok
}

// Status is the single response byte for commands with a status result.
type Status uint8

const (
	StatusSuccess            Status = 0x00
	StatusFailure            Status = 0x01
	StatusInvalidCredentials Status = 0x02
	StatusUsernameTaken      Status = 0x03
	StatusNoAccount          Status = 0x04
	StatusWrongPassword      Status = 0x05
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "SUCCESS"
	case StatusFailure:
		return "FAILURE"
	case StatusInvalidCredentials:
		return "INVALID_CREDENTIALS"
	case StatusUsernameTaken:
		return "USERNAME_TAKEN"
	case StatusNoAccount:
		return "NO_ACCOUNT"
	case StatusWrongPassword:
		return "WRONG_PASSWORD"
	}
	return "UNKNOWN"
}

// Upload chunk markers. Every chunk of an UPLOAD_VIDEO transfer is preceded
// by one marker byte so a client can abort without leaving the server's
// receive loop waiting for the declared total size.
const (
	UploadChunk  uint8 = 0x00
	UploadCancel uint8 = 0x01
)
