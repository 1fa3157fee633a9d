package audio

import (
	"io"
	"sync"
	"time"

	goaudio "github.com/go-audio/audio"
)

const silenceChunk = 20 * time.Millisecond

// SilenceSource produces digital silence paced at the real sample rate. It
// stands in for capture hardware on machines without a sound server.
type SilenceSource struct{}

func (SilenceSource) Open(format goaudio.Format) (Stream, error) {
	chunk := format.SampleRate * format.NumChannels * 2 * int(silenceChunk/time.Millisecond) / 1000
	return &silenceStream{
		chunk:  chunk,
		ticker: time.NewTicker(silenceChunk),
		closed: make(chan struct{}),
	}, nil
}

type silenceStream struct {
	chunk  int
	ticker *time.Ticker
	closed chan struct{}
	once   sync.Once
}

func (s *silenceStream) Read(p []byte) (int, error) {
	select {
	case <-s.closed:
		return 0, io.EOF
	case <-s.ticker.C:
	}

	n := s.chunk
	if n > len(p) {
		n = len(p)
	}
	clear(p[:n])
	return n, nil
}

func (s *silenceStream) Close() error {
	s.once.Do(func() {
		s.ticker.Stop()
		close(s.closed)
	})
	return nil
}
