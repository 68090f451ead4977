// Command client is a small harness around the transport: it can register or
// log in, browse the catalog, download a video segment by segment, and upload
// a file into a channel.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"vidstream/internal/client"
	"vidstream/internal/core/domain"
	"vidstream/pkg/config"
	"vidstream/pkg/logger"
	"vidstream/pkg/retry"

	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	username := flag.String("user", "", "username")
	password := flag.String("pass", "", "password")
	register := flag.Bool("register", false, "register instead of logging in")
	action := flag.String("action", "list", "one of: list, channels, download, upload")
	videoID := flag.Uint("video", 0, "video id for download")
	channelID := flag.Uint("channel", 0, "channel id for upload")
	file := flag.String("file", "", "source file for upload / target file for download")
	title := flag.String("title", "", "video title for upload")
	description := flag.String("desc", "", "video description for upload")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	zapLogger := logger.New(cfg.Logging.Level, "console")
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	transport := client.NewTransport(cfg.Client.ServerAddress, log, client.Options{
		ConnectTimeout: cfg.Client.ConnectTimeout,
		CallTimeout:    cfg.Client.CallTimeout,
		MaxPrefetch:    cfg.Client.MaxPrefetch,
	})
	if err := retry.Do(context.Background(), retry.DefaultConfig(), transport.Connect); err != nil {
		log.Fatalw("connect failed", "error", err)
	}
	defer transport.Disconnect()

	if *username != "" {
		if err := authenticate(transport, *username, *password, *register); err != nil {
			log.Fatalw("authentication failed", "error", err)
		}
		log.Infow("authenticated", "username", *username)
	}

	switch *action {
	case "list":
		err = listVideos(transport)
	case "channels":
		err = listChannels(transport)
	case "download":
		err = download(transport, log, domain.VideoID(*videoID), *file)
	case "upload":
		err = upload(transport, log, domain.ChannelID(*channelID), *title, *description, *file)
	default:
		err = fmt.Errorf("unknown action %q", *action)
	}
	if err != nil {
		log.Fatalw("action failed", "action", *action, "error", err)
	}
}

func authenticate(t *client.Transport, username, password string, register bool) error {
	var status fmt.Stringer
	var err error
	if register {
		status, err = t.Register(username, password)
	} else {
		status, err = t.Login(username, password)
	}
	if err != nil {
		return err
	}
	if t.Token() == "" {
		return fmt.Errorf("server returned %s", status)
	}
	return nil
}

func listVideos(t *client.Transport) error {
	entries, err := t.VideoList()
	if err != nil {
		return err
	}
	for _, e := range entries {
		duration := int(e.Info.SegmentAmount) * int(e.Info.SegmentLength)
		fmt.Printf("%d\t%s\tby %s\t%ds\n", e.ID, e.Info.Title, e.Info.Author, duration)
	}
	fmt.Printf("%d videos\n", len(entries))
	return nil
}

func listChannels(t *client.Transport) error {
	entries, err := t.UserChannels()
	if err != nil {
		return err
	}
	for _, e := range entries {
		fmt.Printf("%d\t%s\t%d subscribers\t%d videos\n",
			e.ID, e.Info.Name, e.Info.SubscriberCount, e.Info.VideoAmount)
	}
	fmt.Printf("%d channels\n", len(entries))
	return nil
}

func download(t *client.Transport, log *zap.SugaredLogger, id domain.VideoID, path string) error {
	if path == "" {
		return fmt.Errorf("-file is required for download")
	}
	info, err := t.VideoInfo(id)
	if err != nil {
		return err
	}
	if info == nil {
		return fmt.Errorf("video %d not found", id)
	}

	out, err := os.Create(path)
	if err != nil {
		return err
	}
	defer out.Close()

	for index := uint32(0); index < info.SegmentAmount; index++ {
		data, err := t.Segment(id, index, 0)
		if err != nil {
			return err
		}
		if data == nil {
			return fmt.Errorf("segment %d missing", index)
		}
		if _, err := out.Write(data); err != nil {
			return err
		}
		log.Infow("segment downloaded", "index", index, "bytes", len(data))
	}
	return nil
}

func upload(t *client.Transport, log *zap.SugaredLogger,
	channel domain.ChannelID, title, description, path string) error {
	if path == "" {
		return fmt.Errorf("-file is required for upload")
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return err
	}

	videoID, err := t.UploadVideo(client.UploadRequest{
		ChannelID:   channel,
		Title:       title,
		Description: description,
		Source:      f,
		TotalSize:   uint64(stat.Size()),
		Progress: func(percent uint8) {
			log.Infow("upload progress", "percent", percent)
		},
	})
	if err != nil {
		return err
	}
	fmt.Printf("uploaded video %d\n", videoID)
	return nil
}
