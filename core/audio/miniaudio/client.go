// Package miniaudio captures microphone audio through miniaudio (malgo).
package miniaudio

import (
	"context"
	"errors"
	"fmt"

	"github.com/gen2brain/malgo"
	"github.com/koscakluka/ema-stage/core/audio"
)

// Source is the default capture device as an audio.Source.
type Source struct {
	// audioContext is only saved to be able to uninitialize it, it is an
	// ownership thing
	audioContext *malgo.AllocatedContext
	captureClient
}

func NewSource() (*Source, error) {
	audioCtx, err := malgo.InitContext(
		nil,
		malgo.ContextConfig{},
		func(message string) { logger.Debug("malgo", "message", message) },
	)
	if err != nil {
		return nil, fmt.Errorf("malgo InitContext failed: %w", err)
	}

	source := Source{audioContext: audioCtx}
	if err := source.captureClient.Init(audioCtx); err != nil {
		_ = source.Close()
		return nil, fmt.Errorf("failed to initialize capture client: %w", err)
	}

	return &source, nil
}

func (s *Source) Start(_ context.Context, onAudio func(audio []byte)) error {
	return s.captureClient.Start(onAudio)
}

func (s *Source) Stop() error {
	return s.captureClient.Stop()
}

func (s *Source) Close() error {
	err := s.captureClient.Uninit()
	if uninitErr := s.audioContext.Uninit(); uninitErr != nil {
		err = errors.Join(err, fmt.Errorf("failed to uninitialize audio context: %w", uninitErr))
	}
	s.audioContext.Free()
	return err
}

func (s *Source) EncodingInfo() audio.EncodingInfo {
	return audio.EncodingInfo{
		SampleRate: audio.DefaultSampleRate,
		Channels:   channels,
		Format:     audio.EncodingLinear16,
	}
}

var _ audio.Source = (*Source)(nil)
