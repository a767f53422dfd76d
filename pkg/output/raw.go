package output

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"time"

	"github.com/norasector/turbine-common/types"
)

const sampleBufferLength int = 8

// RawOutput writes frames as little endian float32 to dest, a batch at a
// time. A partial batch is written once no frame has arrived for flushAfter.
type RawOutput struct {
	dest       io.Writer
	recvChan   chan *types.TaggedAudioSampleFloat32
	batch      int
	flushAfter time.Duration
	filter     map[int]struct{}
}

type RawOption func(r *RawOutput)

func WithBatch(frames int) RawOption {
	return func(r *RawOutput) {
		if frames > 0 {
			r.batch = frames
		}
	}
}

func WithFlushAfter(d time.Duration) RawOption {
	return func(r *RawOutput) {
		if d > 0 {
			r.flushAfter = d
		}
	}
}

// NewRawOutput writes frames of the given channels, or of all channels when
// channels is empty.
func NewRawOutput(dest io.Writer, channels []int, opts ...RawOption) *RawOutput {
	ret := &RawOutput{
		dest:       dest,
		recvChan:   make(chan *types.TaggedAudioSampleFloat32, sampleBufferLength),
		batch:      sampleBufferLength,
		flushAfter: 100 * time.Millisecond,
		filter:     channelFilter(channels),
	}
	for _, opt := range opts {
		opt(ret)
	}
	return ret
}

func (r *RawOutput) Receive() chan<- *types.TaggedAudioSampleFloat32 {
	return r.recvChan
}

func (r *RawOutput) Start(ctx context.Context) error {
	var b bytes.Buffer
	frames := 0

	write := func(frame *types.TaggedAudioSampleFloat32) error {
		if !accepts(r.filter, frame) {
			return nil
		}
		if err := binary.Write(&b, binary.LittleEndian, frame.Audio.Data); err != nil {
			return err
		}
		frames++
		return nil
	}

	flush := func() error {
		if frames == 0 {
			return nil
		}
		frames = 0
		_, err := b.WriteTo(r.dest)
		return err
	}

	idle := time.NewTimer(r.flushAfter)
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			// Queued frames still go out.
			for len(r.recvChan) > 0 {
				if err := write(<-r.recvChan); err != nil {
					return err
				}
			}
			if err := flush(); err != nil {
				return err
			}
			return ctx.Err()

		case <-idle.C:
			if err := flush(); err != nil {
				return err
			}
			idle.Reset(r.flushAfter)

		case frame := <-r.recvChan:
			if err := write(frame); err != nil {
				return err
			}
			if frames >= r.batch {
				if err := flush(); err != nil {
					return err
				}
			}
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(r.flushAfter)
		}
	}
}
