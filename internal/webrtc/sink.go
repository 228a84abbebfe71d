package webrtc

import (
	"path/filepath"
	"strings"

	"github.com/pion/rtp"
	pion "github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media/ivfwriter"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
	"github.com/rs/zerolog/log"
)

// rtpWriter is the shared surface of pion's media file writers.
type rtpWriter interface {
	WriteRTP(packet *rtp.Packet) error
	Close() error
}

// RemoteSink records remote tracks to disk: VP8 to IVF, Opus to Ogg.
// Tracks with other codecs, or all tracks when dir is empty, are drained.
type RemoteSink struct {
	dir string
}

// NewRemoteSink creates a sink writing into dir. An empty dir produces a
// drain-only sink.
func NewRemoteSink(dir string) *RemoteSink {
	return &RemoteSink{dir: dir}
}

// Consume reads a remote track until it ends. Meant to run on its own
// goroutine, one per track.
func (s *RemoteSink) Consume(track *pion.TrackRemote) {
	w := s.newWriter(track)
	if w == nil {
		drainTrack(track)
		return
	}
	defer w.Close()

	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			return
		}
		if err := w.WriteRTP(pkt); err != nil {
			log.Warn().Err(err).Str("module", "webrtc").Msg("write remote sample")
			return
		}
	}
}

func (s *RemoteSink) newWriter(track *pion.TrackRemote) rtpWriter {
	if s.dir == "" {
		return nil
	}

	mime := strings.ToLower(track.Codec().MimeType)
	name := track.StreamID() + "-" + track.Kind().String()

	switch mime {
	case strings.ToLower(pion.MimeTypeVP8):
		w, err := ivfwriter.New(filepath.Join(s.dir, name+".ivf"))
		if err != nil {
			log.Warn().Err(err).Str("module", "webrtc").Msg("open ivf writer")
			return nil
		}
		return w
	case strings.ToLower(pion.MimeTypeOpus):
		w, err := oggwriter.New(filepath.Join(s.dir, name+".ogg"), 48000, track.Codec().Channels)
		if err != nil {
			log.Warn().Err(err).Str("module", "webrtc").Msg("open ogg writer")
			return nil
		}
		return w
	default:
		return nil
	}
}
