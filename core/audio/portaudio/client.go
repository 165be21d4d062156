// Package portaudio captures microphone audio through PortAudio.
package portaudio

import (
	"context"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
	"github.com/koscakluka/ema-stage/core/audio"
)

const DefaultBufferSize = 512

// Source reads the default input device in blocking mode on its own
// goroutine.
type Source struct {
	bufferSize int
	stream     *portaudio.Stream
	in         []int16

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped chan struct{}
}

func NewSource(bufferSize int) (*Source, error) {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize PortAudio: %w", err)
	}

	in := make([]int16, bufferSize)
	stream, err := portaudio.OpenDefaultStream(audio.DefaultChannels, 0, audio.DefaultSampleRate, bufferSize, in)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("failed to open PortAudio stream: %w", err)
	}

	return &Source{
		bufferSize: bufferSize,
		stream:     stream,
		in:         in,
	}, nil
}

func (s *Source) Start(ctx context.Context, onAudio func(audio []byte)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return nil
	}

	if err := s.stream.Start(); err != nil {
		return fmt.Errorf("failed to start PortAudio stream: %w", err)
	}

	readCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.stopped = make(chan struct{})
	go s.read(readCtx, s.stopped, onAudio)
	return nil
}

func (s *Source) read(ctx context.Context, stopped chan struct{}, onAudio func(audio []byte)) {
	defer close(stopped)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := s.stream.Read(); err != nil {
			logger.WarnContext(ctx, "failed to read from PortAudio stream", "error", err)
			continue
		}
		onAudio(audio.Int16ToBytes(s.in))
	}
}

func (s *Source) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil {
		return nil
	}

	s.cancel()
	<-s.stopped
	s.cancel = nil
	if err := s.stream.Stop(); err != nil {
		return fmt.Errorf("failed to stop PortAudio stream: %w", err)
	}
	return nil
}

func (s *Source) Close() error {
	err := s.Stop()
	if closeErr := s.stream.Close(); closeErr != nil && err == nil {
		err = fmt.Errorf("failed to close PortAudio stream: %w", closeErr)
	}
	_ = portaudio.Terminate()
	return err
}

func (s *Source) EncodingInfo() audio.EncodingInfo {
	return audio.EncodingInfo{
		SampleRate: audio.DefaultSampleRate,
		Channels:   audio.DefaultChannels,
		Format:     audio.EncodingLinear16,
	}
}

var _ audio.Source = (*Source)(nil)
