package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestFloat32ToInt16Clamps(t *testing.T) {
	got := Float32ToInt16([]float32{0, 1, -1, 2, -2, 0.5})
	expected := []int16{0, 32767, -32768, 32767, -32768, 16384}
	for i := range expected {
		if got[i] != expected[i] {
			t.Fatalf("sample %d: expected %d, got %d", i, expected[i], got[i])
		}
	}
}

func TestPCMBytesRoundTrip(t *testing.T) {
	samples := []int16{0, 1, -1, 32767, -32768}
	if got := BytesToInt16(Int16ToBytes(samples)); len(got) != len(samples) || got[4] != -32768 {
		t.Fatalf("expected samples back, got %v", got)
	}
}

func TestRMS(t *testing.T) {
	if got := RMS(nil); got != 0 {
		t.Fatalf("expected zero for empty input, got %v", got)
	}
	full := Int16ToBytes([]int16{-32768, -32768})
	if got := RMS(full); got != 1 {
		t.Fatalf("expected full scale RMS of 1, got %v", got)
	}
}

func TestEncodeWAVHeader(t *testing.T) {
	pcm := Int16ToBytes([]int16{1, 2, 3})
	wav := EncodeWAV(pcm, GetDefaultEncodingInfo())

	if len(wav) != wavHeaderSize+len(pcm) {
		t.Fatalf("expected %d bytes, got %d", wavHeaderSize+len(pcm), len(wav))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" || string(wav[36:40]) != "data" {
		t.Fatalf("expected canonical chunk ids, got %q", wav[:44])
	}
	if rate := binary.LittleEndian.Uint32(wav[24:28]); rate != DefaultSampleRate {
		t.Fatalf("expected sample rate %d, got %d", DefaultSampleRate, rate)
	}
	if size := binary.LittleEndian.Uint32(wav[40:44]); size != uint32(len(pcm)) {
		t.Fatalf("expected data size %d, got %d", len(pcm), size)
	}
	if !bytes.Equal(wav[44:], pcm) {
		t.Fatalf("expected pcm payload after header")
	}
}

func TestEncodingDuration(t *testing.T) {
	info := GetDefaultEncodingInfo()
	if got := info.Duration(DefaultSampleRate * 2); got != time.Second {
		t.Fatalf("expected one second, got %v", got)
	}
}

func TestFramerProducesFixedFrames(t *testing.T) {
	f := NewFramer(4, GetDefaultEncodingInfo())

	if frames := f.Write(make([]byte, 6)); len(frames) != 0 {
		t.Fatalf("expected no frame yet, got %d", len(frames))
	}
	frames := f.Write(make([]byte, 12))
	if len(frames) != 2 || len(frames[0]) != 8 || len(frames[1]) != 8 {
		t.Fatalf("expected two 8-byte frames, got %v", frames)
	}
	if tail := f.Flush(); len(tail) != 2 {
		t.Fatalf("expected 2-byte tail, got %d", len(tail))
	}
	if tail := f.Flush(); tail != nil {
		t.Fatalf("expected empty framer after flush")
	}
}

type fakeSource struct {
	mu      sync.Mutex
	onAudio func([]byte)
	starts  int
	stops   int
	failing bool
}

func (s *fakeSource) Start(_ context.Context, onAudio func([]byte)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return errors.New("permission denied")
	}
	s.starts++
	s.onAudio = onAudio
	return nil
}

func (s *fakeSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stops++
	s.onAudio = nil
	return nil
}

func (s *fakeSource) EncodingInfo() EncodingInfo { return GetDefaultEncodingInfo() }

func (s *fakeSource) emit(audio []byte) {
	s.mu.Lock()
	onAudio := s.onAudio
	s.mu.Unlock()
	if onAudio != nil {
		onAudio(audio)
	}
}

func TestSharedReferenceCounting(t *testing.T) {
	source := &fakeSource{}
	shared := NewShared(source)
	ctx := context.Background()

	var first, second int
	releaseFirst, err := shared.Tap(ctx, func([]byte) { first++ })
	if err != nil {
		t.Fatalf("expected first tap, got %v", err)
	}
	releaseSecond, err := shared.Tap(ctx, func([]byte) { second++ })
	if err != nil {
		t.Fatalf("expected second tap, got %v", err)
	}
	if source.starts != 1 {
		t.Fatalf("expected device to start once, got %d", source.starts)
	}

	source.emit([]byte{0, 0})
	if first != 1 || second != 1 {
		t.Fatalf("expected both taps to receive audio, got %d and %d", first, second)
	}

	_ = releaseFirst()
	_ = releaseFirst()
	source.emit([]byte{0, 0})
	if first != 1 || second != 2 {
		t.Fatalf("expected released tap to stop receiving, got %d and %d", first, second)
	}
	if source.stops != 0 || shared.Refs() != 1 {
		t.Fatalf("expected device to keep running with one tap, stops=%d refs=%d", source.stops, shared.Refs())
	}

	_ = releaseSecond()
	if source.stops != 1 || shared.Refs() != 0 {
		t.Fatalf("expected device to stop with the last tap, stops=%d refs=%d", source.stops, shared.Refs())
	}
}

func TestSharedReportsDeviceFailure(t *testing.T) {
	shared := NewShared(&fakeSource{failing: true})

	if _, err := shared.Tap(context.Background(), func([]byte) {}); !errors.Is(err, ErrDeviceUnavailable) {
		t.Fatalf("expected ErrDeviceUnavailable, got %v", err)
	}
	if shared.Refs() != 0 {
		t.Fatalf("expected no reference after failure, got %d", shared.Refs())
	}
}
