package client

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"vidstream/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeFetcher serves segments from an in-memory table and records every call.
// Async fetches complete inline so tests stay deterministic.
type fakeFetcher struct {
	mu        sync.Mutex
	segments  map[uint32][]byte
	syncCalls []uint32
	asyncCall []uint32
	failAsync bool
}

func newFakeFetcher(total uint32) *fakeFetcher {
	f := &fakeFetcher{segments: make(map[uint32][]byte)}
	for i := uint32(0); i < total; i++ {
		f.segments[i] = []byte{byte(i), byte(i), byte(i)}
	}
	return f
}

func (f *fakeFetcher) Segment(id domain.VideoID, index uint32, quality uint8) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.syncCalls = append(f.syncCalls, index)
	return f.segments[index], nil
}

func (f *fakeFetcher) FetchSegmentAsync(ctx context.Context, id domain.VideoID, index uint32,
	quality uint8, cb func(data []byte, err error)) {
	f.mu.Lock()
	f.asyncCall = append(f.asyncCall, index)
	data := f.segments[index]
	fail := f.failAsync
	f.mu.Unlock()
	if fail {
		cb(nil, errors.New("prefetch failed"))
		return
	}
	cb(data, nil)
}

type playEvent struct {
	data     []byte
	offsetMs int64
}

type fakeSink struct {
	mu    sync.Mutex
	plays []playEvent
	seeks []int64
	ended int
}

func (s *fakeSink) PlaySegment(data []byte, offsetMs int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plays = append(s.plays, playEvent{data, offsetMs})
}

func (s *fakeSink) SeekWithin(offsetMs int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seeks = append(s.seeks, offsetMs)
}

func (s *fakeSink) Ended() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ended++
}

func newTestEngine(total uint32) (*Engine, *fakeFetcher, *fakeSink) {
	fetcher := newFakeFetcher(total)
	sink := &fakeSink{}
	return NewEngine(fetcher, sink, zap.NewNop().Sugar()), fetcher, sink
}

func TestPlayFetchesFirstSegmentAndPrefetchesNext(t *testing.T) {
	e, fetcher, sink := newTestEngine(3)

	require.NoError(t, e.Play(1, 10, 3, 0))

	assert.Equal(t, []uint32{0}, fetcher.syncCalls, "segment 0 is fetched synchronously")
	assert.Equal(t, []uint32{1}, fetcher.asyncCall, "segment 1 is prefetched")
	require.Len(t, sink.plays, 1)
	assert.Equal(t, []byte{0, 0, 0}, sink.plays[0].data)
	assert.Equal(t, int64(0), sink.plays[0].offsetMs)
}

func TestPlayRejectsEmptyVideo(t *testing.T) {
	e, _, _ := newTestEngine(0)
	assert.Error(t, e.Play(1, 10, 0, 0))
	assert.Error(t, e.Play(1, 0, 3, 0))
}

func TestOnSegmentEndConsumesPrefetchedSegment(t *testing.T) {
	e, fetcher, sink := newTestEngine(3)
	require.NoError(t, e.Play(1, 10, 3, 0))

	e.OnSegmentEnd()

	assert.Equal(t, uint32(1), e.CurrentSegment())
	assert.Equal(t, []uint32{0}, fetcher.syncCalls,
		"prefetched segment must be served from cache, not refetched")
	require.Len(t, sink.plays, 2)
	assert.Equal(t, []byte{1, 1, 1}, sink.plays[1].data)
}

func TestOnSegmentEndFallsBackToSyncFetch(t *testing.T) {
	e, fetcher, sink := newTestEngine(3)
	fetcher.failAsync = true
	require.NoError(t, e.Play(1, 10, 3, 0))

	e.OnSegmentEnd()

	assert.Equal(t, []uint32{0, 1}, fetcher.syncCalls,
		"failed prefetch forces a synchronous fetch on arrival")
	require.Len(t, sink.plays, 2)
	assert.Equal(t, []byte{1, 1, 1}, sink.plays[1].data)
}

func TestOnSegmentEndSignalsEnded(t *testing.T) {
	e, _, sink := newTestEngine(2)
	require.NoError(t, e.Play(1, 10, 2, 0))

	e.OnSegmentEnd()
	assert.Zero(t, sink.ended)

	e.OnSegmentEnd()
	assert.Equal(t, 1, sink.ended)

	// Further boundary events after the end are ignored.
	e.OnSegmentEnd()
	assert.Equal(t, 1, sink.ended)
}

func TestSeekResolvesSegmentAndOffset(t *testing.T) {
	e, _, sink := newTestEngine(3)
	require.NoError(t, e.Play(1, 10, 3, 0))

	// 25s into a video of 10s segments: segment 2, 5s in.
	require.NoError(t, e.Seek(25000))

	assert.Equal(t, uint32(2), e.CurrentSegment())
	require.Len(t, sink.plays, 2)
	assert.Equal(t, []byte{2, 2, 2}, sink.plays[1].data)
	assert.Equal(t, int64(5000), sink.plays[1].offsetMs)
}

func TestSeekWithinCurrentSegment(t *testing.T) {
	e, fetcher, sink := newTestEngine(3)
	require.NoError(t, e.Play(1, 10, 3, 0))

	require.NoError(t, e.Seek(4000))

	assert.Equal(t, uint32(0), e.CurrentSegment())
	assert.Equal(t, []int64{4000}, sink.seeks, "same-segment seek repositions in place")
	assert.Len(t, sink.plays, 1, "no new segment is played")
	assert.Equal(t, []uint32{0}, fetcher.syncCalls)
}

func TestSeekBeyondEndIsNoOp(t *testing.T) {
	e, _, sink := newTestEngine(3)
	require.NoError(t, e.Play(1, 10, 3, 0))

	require.NoError(t, e.Seek(30000))
	require.NoError(t, e.Seek(999999))
	// Positions whose segment index overflows uint32 must not truncate
	// back into range.
	require.NoError(t, e.Seek(math.MaxInt64))

	assert.Equal(t, uint32(0), e.CurrentSegment())
	assert.Len(t, sink.plays, 1)
}

func TestSeekRejectsNegativePosition(t *testing.T) {
	e, _, sink := newTestEngine(3)
	require.NoError(t, e.Play(1, 10, 3, 0))

	assert.Error(t, e.Seek(-5000))
	assert.Equal(t, uint32(0), e.CurrentSegment())
	assert.Len(t, sink.plays, 1)
	assert.Empty(t, sink.seeks)
}

func TestSeekWithoutPlayback(t *testing.T) {
	e, _, _ := newTestEngine(3)
	assert.Error(t, e.Seek(1000))
}

func TestEvictionKeepsSlidingWindow(t *testing.T) {
	e, _, _ := newTestEngine(5)
	require.NoError(t, e.Play(1, 10, 5, 0))

	e.OnSegmentEnd() // current = 1
	e.OnSegmentEnd() // current = 2
	e.OnSegmentEnd() // current = 3

	e.mu.Lock()
	_, haveOld := e.cache[0]
	_, haveOlder := e.cache[1]
	_, havePrev := e.cache[2]
	e.mu.Unlock()
	assert.False(t, haveOld, "segments far behind the cursor are evicted")
	assert.False(t, haveOlder)
	assert.True(t, havePrev, "the immediately previous segment is retained")
}

func TestStopDiscardsStaleResults(t *testing.T) {
	fetcher := newFakeFetcher(3)
	sink := &fakeSink{}

	// Hold the async callback so it completes only after Stop.
	var held func()
	blocking := &callbackHolder{inner: fetcher, held: &held}
	e := NewEngine(blocking, sink, zap.NewNop().Sugar())

	require.NoError(t, e.Play(1, 10, 3, 0))
	e.Stop()
	require.NotNil(t, held)
	held()

	e.mu.Lock()
	cached := len(e.cache)
	e.mu.Unlock()
	assert.Zero(t, cached, "results from a stopped generation must be dropped")
}

// callbackHolder defers async completions until the test releases them.
type callbackHolder struct {
	inner SegmentFetcher
	held  *func()
}

func (h *callbackHolder) Segment(id domain.VideoID, index uint32, quality uint8) ([]byte, error) {
	return h.inner.Segment(id, index, quality)
}

func (h *callbackHolder) FetchSegmentAsync(ctx context.Context, id domain.VideoID, index uint32,
	quality uint8, cb func(data []byte, err error)) {
	*h.held = func() {
		h.inner.FetchSegmentAsync(ctx, id, index, quality, cb)
	}
}
