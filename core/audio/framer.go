package audio

// DefaultFrameSamples is the frame size used for streamed transcription.
const DefaultFrameSamples = 2048

// Framer regroups a PCM byte stream into fixed-size frames. It is not safe
// for concurrent use.
type Framer struct {
	frameBytes int
	pending    []byte
}

func NewFramer(samples int, info EncodingInfo) *Framer {
	if samples <= 0 {
		samples = DefaultFrameSamples
	}
	frameSize := info.FrameSize()
	if frameSize <= 0 {
		frameSize = 2
	}
	return &Framer{frameBytes: samples * frameSize}
}

// Write appends pcm and returns every frame it completed, in order.
func (f *Framer) Write(pcm []byte) [][]byte {
	f.pending = append(f.pending, pcm...)

	var frames [][]byte
	for len(f.pending) >= f.frameBytes {
		frame := make([]byte, f.frameBytes)
		copy(frame, f.pending)
		frames = append(frames, frame)
		f.pending = f.pending[f.frameBytes:]
	}
	return frames
}

// Flush returns the incomplete tail, if any, and empties the framer.
func (f *Framer) Flush() []byte {
	if len(f.pending) == 0 {
		return nil
	}
	tail := make([]byte, len(f.pending))
	copy(tail, f.pending)
	f.pending = nil
	return tail
}
