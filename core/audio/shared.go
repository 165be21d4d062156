package audio

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/koscakluka/ema-stage/internal/observers"
)

var ErrDeviceUnavailable = errors.New("audio: capture device unavailable")

// Source is a capture device delivering PCM in its EncodingInfo.
type Source interface {
	Start(ctx context.Context, onAudio func(audio []byte)) error
	Stop() error
	EncodingInfo() EncodingInfo
}

// Shared multiplexes one Source to any number of read-only taps. The device
// is started by the first tap and stopped once the last tap is released.
type Shared struct {
	source Source

	// mu guards the tap count and device state.
	mu   sync.Mutex
	refs int

	// deliveryMu is held for reading while taps run, releasing a tap waits
	// for callbacks in flight so none fires after release returns.
	deliveryMu sync.RWMutex
	taps       observers.List[func([]byte)]
}

func NewShared(source Source) *Shared {
	return &Shared{source: source}
}

func (s *Shared) EncodingInfo() EncodingInfo {
	return s.source.EncodingInfo()
}

// Refs reports how many taps are attached.
func (s *Shared) Refs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refs
}

// Tap attaches fn to the stream. fn is called on the device goroutine and
// must not call release itself.
func (s *Shared) Tap(ctx context.Context, fn func(audio []byte)) (release func() error, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	unregister := s.taps.Add(fn)
	if s.refs == 0 {
		if err := s.source.Start(ctx, s.deliver); err != nil {
			unregister()
			return nil, fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
		}
	}
	s.refs++

	var once sync.Once
	return func() error {
		var err error
		once.Do(func() { err = s.release(unregister) })
		return err
	}, nil
}

func (s *Shared) release(unregister func()) error {
	s.deliveryMu.Lock()
	unregister()
	s.deliveryMu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.refs--
	if s.refs > 0 {
		return nil
	}
	if err := s.source.Stop(); err != nil {
		return fmt.Errorf("failed to stop capture device: %w", err)
	}
	return nil
}

func (s *Shared) deliver(audio []byte) {
	s.deliveryMu.RLock()
	defer s.deliveryMu.RUnlock()

	for _, tap := range s.taps.Snapshot() {
		tap(audio)
	}
}
