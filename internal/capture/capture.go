package capture

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog/log"
)

var (
	// ErrCaptureDenied means the media source refused access.
	ErrCaptureDenied = errors.New("capture denied")

	// ErrCaptureUnavailable means no usable media source exists.
	ErrCaptureUnavailable = errors.New("capture unavailable")
)

// errNoStream is returned by a Source kind that has no media; the pump for
// that kind exits quietly.
var errNoStream = errors.New("no stream")

// Constraints describe the requested local media. They are carried to the
// source as metadata; the defaults mirror a front-facing 720p camera with
// processed audio.
type Constraints struct {
	Width            int
	Height           int
	FacingMode       string
	EchoCancellation bool
	NoiseSuppression bool
}

// DefaultConstraints returns the standard media request.
func DefaultConstraints() Constraints {
	return Constraints{
		Width:            1280,
		Height:           720,
		FacingMode:       "user",
		EchoCancellation: true,
		NoiseSuppression: true,
	}
}

// Source produces timed media samples for the local tracks. ReadVideo and
// ReadAudio block until the next sample is due or return errNoStream when
// the kind is absent.
type Source interface {
	Open(c Constraints) error
	ReadVideo() (media.Sample, error)
	ReadAudio() (media.Sample, error)
	Close() error
}

// sampleSink abstracts the underlying pion track for tests.
type sampleSink interface {
	WriteSample(s media.Sample) error
}

// Track is a local media track with a purely local mute flag. Disabling a
// track drops its samples without stopping it or touching negotiation.
type Track struct {
	local   *webrtc.TrackLocalStaticSample
	sink    sampleSink
	enabled atomic.Bool
}

// NewTrack creates an enabled local track for the given codec. Used by
// the Manager and by custom sources.
func NewTrack(codec webrtc.RTPCodecCapability, id, streamID string) (*Track, error) {
	local, err := webrtc.NewTrackLocalStaticSample(codec, id, streamID)
	if err != nil {
		return nil, fmt.Errorf("create local track: %w", err)
	}
	t := &Track{local: local, sink: local}
	t.enabled.Store(true)
	return t, nil
}

// Local returns the underlying pion track for attachment to a peer
// connection.
func (t *Track) Local() *webrtc.TrackLocalStaticSample {
	return t.local
}

// Enabled reports whether samples are currently forwarded.
func (t *Track) Enabled() bool {
	return t.enabled.Load()
}

// SetEnabled flips the mute flag.
func (t *Track) SetEnabled(v bool) {
	t.enabled.Store(v)
}

// WriteSample forwards a sample unless the track is muted.
func (t *Track) WriteSample(s media.Sample) error {
	if !t.enabled.Load() {
		return nil
	}
	return t.sink.WriteSample(s)
}

// TrackSet is the local media track set. It is shared by reference with
// successive negotiation handles; only the Manager stops the underlying
// sample flow.
type TrackSet struct {
	Audio *Track
	Video *Track
}

// Manager owns local media acquisition and release. Tracks acquired once
// are reused across negotiation attempts within a session.
type Manager struct {
	source Source

	mu     sync.Mutex
	tracks *TrackSet
	stop   chan struct{}
}

// NewManager creates a Manager around the given source.
func NewManager(source Source) *Manager {
	return &Manager{source: source}
}

// Acquire opens the source and returns the local track set, starting the
// sample pumps. A second call while tracks are held returns the same set.
func (m *Manager) Acquire(c Constraints) (*TrackSet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.tracks != nil {
		return m.tracks, nil
	}
	if m.source == nil {
		return nil, ErrCaptureUnavailable
	}

	if err := m.source.Open(c); err != nil {
		return nil, fmt.Errorf("open media source: %w", err)
	}

	streamID := "guffgaff-" + uuid.NewString()
	audio, err := NewTrack(webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypeOpus,
		ClockRate: 48000,
		Channels:  2,
	}, "audio-"+uuid.NewString(), streamID)
	if err != nil {
		m.source.Close()
		return nil, err
	}
	video, err := NewTrack(webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypeVP8,
		ClockRate: 90000,
	}, "video-"+uuid.NewString(), streamID)
	if err != nil {
		m.source.Close()
		return nil, err
	}

	m.tracks = &TrackSet{Audio: audio, Video: video}
	m.stop = make(chan struct{})

	go m.pump(audio, m.source.ReadAudio, m.stop)
	go m.pump(video, m.source.ReadVideo, m.stop)

	log.Info().Str("module", "capture").Str("stream", streamID).Msg("local tracks acquired")
	return m.tracks, nil
}

// ToggleAudio flips the audio mute flag and returns the new enabled state.
func (m *Manager) ToggleAudio() bool {
	return m.toggle(func(ts *TrackSet) *Track { return ts.Audio })
}

// ToggleVideo flips the video mute flag and returns the new enabled state.
func (m *Manager) ToggleVideo() bool {
	return m.toggle(func(ts *TrackSet) *Track { return ts.Video })
}

func (m *Manager) toggle(pick func(*TrackSet) *Track) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.tracks == nil {
		return false
	}
	t := pick(m.tracks)
	next := !t.Enabled()
	t.SetEnabled(next)
	return next
}

// Release stops the sample pumps and closes the source. Idempotent.
// Negotiation teardown never calls this; only the session owner does.
func (m *Manager) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.tracks == nil {
		return
	}
	close(m.stop)
	if err := m.source.Close(); err != nil {
		log.Warn().Err(err).Str("module", "capture").Msg("close source")
	}
	m.tracks = nil

	log.Info().Str("module", "capture").Msg("local tracks released")
}

// pump copies samples from the source into a track, pacing by sample
// duration.
func (m *Manager) pump(t *Track, read func() (media.Sample, error), stop chan struct{}) {
	for {
		select {
		case <-stop:
			return
		default:
		}

		sample, err := read()
		if err != nil {
			if !errors.Is(err, errNoStream) {
				log.Warn().Err(err).Str("module", "capture").Msg("source read")
			}
			return
		}
		if err := t.WriteSample(sample); err != nil {
			log.Warn().Err(err).Str("module", "capture").Msg("write sample")
		}
		if sample.Duration > 0 {
			select {
			case <-stop:
				return
			case <-time.After(sample.Duration):
			}
		}
	}
}
