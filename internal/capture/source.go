package capture

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/ivfreader"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"
)

const opusSampleRate = 48000

// FileSource reads local media from disk: VP8 video from an IVF file and
// Opus audio from an Ogg file. Both streams loop when they reach the end,
// standing in for a live camera and microphone on a headless client.
type FileSource struct {
	videoPath string
	audioPath string

	mu        sync.Mutex
	videoFile *os.File
	audioFile *os.File
	ivf       *ivfreader.IVFReader
	ivfHeader *ivfreader.IVFFileHeader
	ogg       *oggreader.OggReader
	granule   uint64
}

var _ Source = (*FileSource)(nil)

// NewFileSource creates a source for the given paths. Either path may be
// empty; the corresponding kind then produces no samples.
func NewFileSource(videoPath, audioPath string) *FileSource {
	return &FileSource{videoPath: videoPath, audioPath: audioPath}
}

// Open opens both files. Missing files map to ErrCaptureUnavailable and
// permission failures to ErrCaptureDenied, mirroring device acquisition.
func (s *FileSource) Open(_ Constraints) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.videoPath == "" && s.audioPath == "" {
		return fmt.Errorf("no media files configured: %w", ErrCaptureUnavailable)
	}

	if s.videoPath != "" {
		f, err := os.Open(s.videoPath)
		if err != nil {
			return mapOpenError(s.videoPath, err)
		}
		ivf, header, err := ivfreader.NewWith(f)
		if err != nil {
			f.Close()
			return fmt.Errorf("parse ivf %s: %w", s.videoPath, err)
		}
		s.videoFile = f
		s.ivf = ivf
		s.ivfHeader = header
	}

	if s.audioPath != "" {
		f, err := os.Open(s.audioPath)
		if err != nil {
			s.closeLocked()
			return mapOpenError(s.audioPath, err)
		}
		ogg, _, err := oggreader.NewWith(f)
		if err != nil {
			f.Close()
			s.closeLocked()
			return fmt.Errorf("parse ogg %s: %w", s.audioPath, err)
		}
		s.audioFile = f
		s.ogg = ogg
		s.granule = 0
	}

	return nil
}

func mapOpenError(path string, err error) error {
	switch {
	case os.IsNotExist(err):
		return fmt.Errorf("%s: %w", path, ErrCaptureUnavailable)
	case os.IsPermission(err):
		return fmt.Errorf("%s: %w", path, ErrCaptureDenied)
	default:
		return fmt.Errorf("open %s: %w", path, err)
	}
}

// ReadVideo returns the next VP8 frame. Frame duration comes from the IVF
// timebase.
func (s *FileSource) ReadVideo() (media.Sample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ivf == nil {
		return media.Sample{}, errNoStream
	}

	frame, _, err := s.ivf.ParseNextFrame()
	if err == io.EOF {
		if err := s.rewindVideoLocked(); err != nil {
			return media.Sample{}, err
		}
		frame, _, err = s.ivf.ParseNextFrame()
	}
	if err != nil {
		return media.Sample{}, fmt.Errorf("read ivf frame: %w", err)
	}

	duration := time.Duration(float64(s.ivfHeader.TimebaseNumerator) /
		float64(s.ivfHeader.TimebaseDenominator) * float64(time.Second))
	return media.Sample{Data: frame, Duration: duration}, nil
}

// ReadAudio returns the next Opus page. Page duration comes from the Ogg
// granule delta at 48kHz.
func (s *FileSource) ReadAudio() (media.Sample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ogg == nil {
		return media.Sample{}, errNoStream
	}

	data, header, err := s.ogg.ParseNextPage()
	if err == io.EOF {
		if err := s.rewindAudioLocked(); err != nil {
			return media.Sample{}, err
		}
		data, header, err = s.ogg.ParseNextPage()
	}
	if err != nil {
		return media.Sample{}, fmt.Errorf("read ogg page: %w", err)
	}

	delta := header.GranulePosition - s.granule
	s.granule = header.GranulePosition
	duration := time.Duration(delta) * time.Second / opusSampleRate
	return media.Sample{Data: data, Duration: duration}, nil
}

func (s *FileSource) rewindVideoLocked() error {
	if _, err := s.videoFile.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewind ivf: %w", err)
	}
	ivf, header, err := ivfreader.NewWith(s.videoFile)
	if err != nil {
		return fmt.Errorf("reopen ivf: %w", err)
	}
	s.ivf = ivf
	s.ivfHeader = header
	return nil
}

func (s *FileSource) rewindAudioLocked() error {
	if _, err := s.audioFile.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewind ogg: %w", err)
	}
	ogg, _, err := oggreader.NewWith(s.audioFile)
	if err != nil {
		return fmt.Errorf("reopen ogg: %w", err)
	}
	s.ogg = ogg
	s.granule = 0
	return nil
}

// Close closes both files. Idempotent.
func (s *FileSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
	return nil
}

func (s *FileSource) closeLocked() {
	if s.videoFile != nil {
		s.videoFile.Close()
		s.videoFile = nil
		s.ivf = nil
	}
	if s.audioFile != nil {
		s.audioFile.Close()
		s.audioFile = nil
		s.ogg = nil
	}
}
