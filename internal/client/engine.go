package client

import (
	"context"
	"fmt"
	"sync"

	"vidstream/internal/core/domain"

	"go.uber.org/zap"
)

// PlaybackSink consumes decoded segment bytes. The engine invokes it from
// whatever goroutine completed the work; marshaling onto a UI or decoder
// thread is the sink's concern.
type PlaybackSink interface {
	// PlaySegment starts playback of one segment at the given intra-segment
	// offset in milliseconds.
	PlaySegment(data []byte, offsetMs int64)
	// SeekWithin repositions playback inside the current segment.
	SeekWithin(offsetMs int64)
	// Ended signals that the last segment finished.
	Ended()
}

// SegmentFetcher is the transport surface the engine needs.
type SegmentFetcher interface {
	Segment(id domain.VideoID, index uint32, quality uint8) ([]byte, error)
	FetchSegmentAsync(ctx context.Context, id domain.VideoID, index uint32, quality uint8,
		cb func(data []byte, err error))
}

type segmentState int

const (
	segmentPending segmentState = iota
	segmentReady
)

type segmentEntry struct {
	state segmentState
	data  []byte
}

// Engine tracks the playback cursor across segment boundaries, prefetches
// one segment ahead of need, and serves cached bytes to the sink.
//
// Cache invariants: exactly one segment is current at any instant; a
// prefetch result never replaces the bytes backing the current segment; and
// entries more than one segment behind the cursor are evicted so memory use
// is bounded by a small sliding window.
type Engine struct {
	fetcher SegmentFetcher
	sink    PlaybackSink
	log     *zap.SugaredLogger

	mu            sync.Mutex
	videoID       domain.VideoID
	quality       uint8
	segmentLength uint8 // seconds
	totalSegments uint32
	current       uint32
	playing       bool
	ended         bool
	generation    uint64
	cache         map[uint32]*segmentEntry
}

func NewEngine(fetcher SegmentFetcher, sink PlaybackSink, log *zap.SugaredLogger) *Engine {
	return &Engine{
		fetcher: fetcher,
		sink:    sink,
		log:     log,
		cache:   make(map[uint32]*segmentEntry),
	}
}

// Play resets all engine state and starts the given video. Segment 0 is
// fetched synchronously: blocking here bounds visible start latency to one
// round trip. On success the engine schedules a background prefetch of
// segment 1.
func (e *Engine) Play(id domain.VideoID, segmentLength uint8, totalSegments uint32, quality uint8) error {
	if totalSegments == 0 {
		return fmt.Errorf("video %d has no segments", id)
	}
	if segmentLength == 0 {
		return fmt.Errorf("video %d has zero segment length", id)
	}

	e.mu.Lock()
	e.videoID = id
	e.quality = quality
	e.segmentLength = segmentLength
	e.totalSegments = totalSegments
	e.current = 0
	e.playing = true
	e.ended = false
	e.generation++
	e.cache = make(map[uint32]*segmentEntry)
	gen := e.generation
	e.mu.Unlock()

	data, err := e.fetcher.Segment(id, 0, quality)
	if err != nil {
		return fmt.Errorf("failed to fetch first segment: %w", err)
	}
	if data == nil {
		return fmt.Errorf("segment 0 of video %d not found", id)
	}

	e.mu.Lock()
	if e.generation != gen {
		e.mu.Unlock()
		return nil
	}
	e.cache[0] = &segmentEntry{state: segmentReady, data: data}
	e.mu.Unlock()

	e.log.Infow("playback started",
		"video_id", id, "segments", totalSegments, "segment_length", segmentLength)
	e.sink.PlaySegment(data, 0)
	e.schedulePrefetch(1, gen)
	return nil
}

// OnSegmentEnd advances the playback cursor. A ready prefetched segment is
// consumed immediately; otherwise the engine falls back to a synchronous
// fetch, which is correct but pays full round-trip latency.
func (e *Engine) OnSegmentEnd() {
	e.mu.Lock()
	if !e.playing || e.ended {
		e.mu.Unlock()
		return
	}
	e.current++
	if e.current >= e.totalSegments {
		e.ended = true
		e.playing = false
		e.mu.Unlock()
		e.log.Infow("playback ended", "video_id", e.videoID)
		e.sink.Ended()
		return
	}

	index := e.current
	gen := e.generation
	videoID, quality := e.videoID, e.quality
	entry, ready := e.cache[index]
	var data []byte
	if ready && entry.state == segmentReady {
		data = entry.data
	}
	e.evictLocked()
	e.mu.Unlock()

	if data == nil {
		var err error
		data, err = e.fetcher.Segment(videoID, index, quality)
		if err != nil || data == nil {
			e.log.Errorw("segment fetch failed", "index", index, "error", err)
			return
		}
		e.storeReady(index, data, gen)
	}

	e.sink.PlaySegment(data, 0)
	e.schedulePrefetch(index+1, gen)
}

// Seek repositions playback to an absolute position in milliseconds.
// Positions at or beyond the end of the video are rejected as no-ops.
func (e *Engine) Seek(positionMs int64) error {
	e.mu.Lock()
	if !e.playing && !e.ended {
		e.mu.Unlock()
		return fmt.Errorf("no active playback")
	}
	if positionMs < 0 {
		e.mu.Unlock()
		return fmt.Errorf("negative seek position %dms", positionMs)
	}
	segMs := int64(e.segmentLength) * 1000
	// Compared in int64: converting first could truncate a huge position
	// into a valid segment index.
	if positionMs/segMs >= int64(e.totalSegments) {
		e.mu.Unlock()
		return nil
	}
	target := uint32(positionMs / segMs)
	offset := positionMs % segMs

	if target == e.current && e.playing {
		e.mu.Unlock()
		e.sink.SeekWithin(offset)
		return nil
	}

	e.current = target
	e.playing = true
	e.ended = false
	gen := e.generation
	videoID, quality := e.videoID, e.quality
	entry, ok := e.cache[target]
	var data []byte
	if ok && entry.state == segmentReady {
		data = entry.data
	}
	e.evictLocked()
	e.mu.Unlock()

	if data == nil {
		var err error
		data, err = e.fetcher.Segment(videoID, target, quality)
		if err != nil {
			return fmt.Errorf("seek fetch failed: %w", err)
		}
		if data == nil {
			return fmt.Errorf("segment %d of video %d not found", target, videoID)
		}
		e.storeReady(target, data, gen)
	}

	e.sink.PlaySegment(data, offset)
	e.schedulePrefetch(target+1, gen)
	return nil
}

// CurrentSegment reports the index the cursor is on.
func (e *Engine) CurrentSegment() uint32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current
}

// Stop abandons playback and releases cached segments. In-flight prefetch
// results are discarded via the generation counter; there is no hard
// cancellation of an in-flight socket read.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.playing = false
	e.ended = false
	e.generation++
	e.cache = make(map[uint32]*segmentEntry)
}

func (e *Engine) storeReady(index uint32, data []byte, gen uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.generation != gen {
		return
	}
	e.cache[index] = &segmentEntry{state: segmentReady, data: data}
}

// schedulePrefetch requests index in the background unless it is already
// cached or out of range. The prefetched index is always ahead of current,
// so a completing prefetch can never clobber the playing segment.
func (e *Engine) schedulePrefetch(index uint32, gen uint64) {
	e.mu.Lock()
	if e.generation != gen || index >= e.totalSegments {
		e.mu.Unlock()
		return
	}
	if _, exists := e.cache[index]; exists {
		e.mu.Unlock()
		return
	}
	e.cache[index] = &segmentEntry{state: segmentPending}
	videoID, quality := e.videoID, e.quality
	e.mu.Unlock()

	e.fetcher.FetchSegmentAsync(context.Background(), videoID, index, quality,
		func(data []byte, err error) {
			e.mu.Lock()
			defer e.mu.Unlock()
			if e.generation != gen {
				return
			}
			entry, exists := e.cache[index]
			if !exists || entry.state != segmentPending {
				return
			}
			if err != nil || data == nil {
				// Drop the pending marker; OnSegmentEnd will fetch
				// synchronously when the cursor arrives.
				delete(e.cache, index)
				if err != nil {
					e.log.Warnw("prefetch failed", "index", index, "error", err)
				}
				return
			}
			entry.state = segmentReady
			entry.data = data
		})
}

// evictLocked drops entries more than one segment behind the cursor.
func (e *Engine) evictLocked() {
	for index := range e.cache {
		if index+1 < e.current {
			delete(e.cache, index)
		}
	}
}
