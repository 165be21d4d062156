package voice

import (
	"context"
	"errors"
	"sync"

	"github.com/koscakluka/ema-stage/core/audio"
	"github.com/koscakluka/ema-stage/core/speechtotext"
	"github.com/koscakluka/ema-stage/internal/serial"
)

// capture is one speech segment. Audio is always recorded so a failed
// stream can fall back to a batch request.
type capture struct {
	generation uint64
	encoding   audio.EncodingInfo
	ctx        context.Context
	cancel     context.CancelFunc

	releaseOnce sync.Once
	release     func() error

	mu     sync.Mutex
	pcm    []byte
	framer *audio.Framer

	stream speechtotext.Stream
	// sends orders frame delivery; ready, failed and pending are only
	// touched from it.
	sends   serial.Queue
	ready   bool
	failed  bool
	pending [][]byte
}

// write runs on the device goroutine.
func (c *capture) write(pcm []byte) {
	c.mu.Lock()
	c.pcm = append(c.pcm, pcm...)
	var frames [][]byte
	if c.framer != nil {
		frames = c.framer.Write(pcm)
	}
	c.mu.Unlock()

	for _, frame := range frames {
		c.sends.Push(func() { c.sendFrame(frame) })
	}
}

func (c *capture) sendFrame(frame []byte) {
	if c.failed {
		return
	}
	if !c.ready {
		c.pending = append(c.pending, frame)
		return
	}
	if err := c.stream.SendAudio(frame); err != nil {
		logger.WarnContext(c.ctx, "failed to stream audio frame", "error", err)
		c.failed = true
	}
}

func (c *capture) awaitReady() {
	select {
	case <-c.stream.Ready():
		c.sends.Push(c.markReady)
	case <-c.stream.Done():
		logger.WarnContext(c.ctx, "transcription stream failed before it was ready", "error", c.stream.Err())
		c.sends.Push(func() {
			c.failed = true
			c.pending = nil
		})
	case <-c.ctx.Done():
	}
}

// markReady runs on the sends queue and flushes the frames buffered while
// the stream was connecting.
func (c *capture) markReady() {
	if c.ready || c.failed {
		return
	}
	c.ready = true
	pending := c.pending
	c.pending = nil
	for _, frame := range pending {
		c.sendFrame(frame)
	}
}

func (c *capture) recorded() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pcm
}

// finishStream sends what is left of the audio and waits for the final
// result. The stream is closed afterwards either way.
func (c *capture) finishStream(ctx context.Context) (speechtotext.Result, error) {
	defer func() { _ = c.stream.Close() }()

	c.mu.Lock()
	tail := c.framer.Flush()
	c.mu.Unlock()
	if len(tail) > 0 {
		c.sends.Push(func() { c.sendFrame(tail) })
	}

	// The stream may have become ready after the last frame was queued but
	// before awaitReady got to run. Decide here, on the sends queue, so no
	// frame can follow the stop message.
	usable := false
	err := c.sends.Do(ctx, func() {
		select {
		case <-c.stream.Ready():
			c.markReady()
		default:
		}
		usable = c.ready && !c.failed
		if !usable {
			c.failed = true
			c.pending = nil
		}
	})
	if err != nil {
		return speechtotext.Result{}, err
	}
	if !usable {
		if err := c.stream.Err(); err != nil {
			return speechtotext.Result{}, err
		}
		return speechtotext.Result{}, speechtotext.ErrNotReady
	}

	return c.stream.Finish(ctx)
}

func (c *capture) releaseTap() error {
	var err error
	c.releaseOnce.Do(func() {
		if c.release != nil {
			err = c.release()
		}
	})
	return err
}

// abort drops the capture without transcribing it.
func (c *capture) abort() error {
	err := c.releaseTap()
	c.cancel()
	if c.stream != nil {
		err = errors.Join(err, c.stream.Close())
	}
	return err
}
