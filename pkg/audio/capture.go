package audio

import (
	"log/slog"
	"sync"
)

// defaultPumpBuffer is the outbound chunk channel depth. Roughly two
// seconds of audio at the default frame size — enough to ride out send-loop
// jitter without growing into a real buffer.
const defaultPumpBuffer = 8

// PumpOption is a functional option for configuring a [Pump].
type PumpOption func(*Pump)

// WithPumpBuffer sets the encoded-chunk channel depth. The default is 8.
func WithPumpBuffer(n int) PumpOption {
	return func(p *Pump) { p.buf = n }
}

// Pump bridges a live capture stream to the encode path. It reads frames
// from the stream's callback cadence, encodes each via [EncodeFrame], and
// offers the chunk on a bounded channel without ever blocking: when the
// consumer is not keeping up — or no consumer is attached yet because the
// session has not finished connecting — frames are dropped silently rather
// than buffered.
//
// Frame order is preserved for every chunk that is delivered.
type Pump struct {
	stream CaptureStream
	buf    int

	out     chan Chunk
	done    chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
	dropped int64
	mu      sync.Mutex
}

// NewPump creates a Pump over stream and starts forwarding immediately.
func NewPump(stream CaptureStream, opts ...PumpOption) *Pump {
	p := &Pump{
		stream: stream,
		buf:    defaultPumpBuffer,
		done:   make(chan struct{}),
	}
	for _, o := range opts {
		o(p)
	}
	p.out = make(chan Chunk, p.buf)

	p.wg.Add(1)
	go p.run()
	return p
}

// run is the forwarding loop. It owns p.out and closes it on exit.
func (p *Pump) run() {
	defer p.wg.Done()
	defer close(p.out)

	for {
		select {
		case <-p.done:
			return
		case frame, ok := <-p.stream.Frames():
			if !ok {
				return
			}
			samples := frame.Samples
			if frame.SampleRate != 0 && frame.SampleRate != CaptureRate {
				samples = ResampleMono(samples, frame.SampleRate, CaptureRate)
			}
			chunk := EncodeFrame(samples)
			if chunk.Data == "" {
				continue
			}
			select {
			case p.out <- chunk:
			default:
				p.mu.Lock()
				p.dropped++
				p.mu.Unlock()
			}
		}
	}
}

// Out returns the channel on which encoded chunks arrive, in capture order.
// The channel is closed when the pump stops.
func (p *Pump) Out() <-chan Chunk { return p.out }

// Dropped reports how many frames were discarded because the consumer was
// not keeping up (or not yet attached).
func (p *Pump) Dropped() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dropped
}

// Stop halts forwarding and releases the capture hardware. The microphone
// is released synchronously; the forwarding goroutine has exited by the
// time Stop returns. Idempotent.
func (p *Pump) Stop() {
	p.once.Do(func() {
		close(p.done)
		if err := p.stream.Close(); err != nil {
			slog.Warn("capture stream close error", "err", err)
		}
	})
	p.wg.Wait()
}
