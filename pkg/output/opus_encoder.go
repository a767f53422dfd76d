package output

import (
	"context"
	"time"

	"github.com/hraban/opus"
	"github.com/norasector/turbine-common/types"
)

// frameDuration is the preferred opus frame length.
const frameDuration = 40 * time.Millisecond

// shortFrames are the shorter opus frame lengths used to flush a remainder.
var shortFrames = []time.Duration{
	2500 * time.Microsecond,
	5 * time.Millisecond,
	10 * time.Millisecond,
	20 * time.Millisecond,
}

func samplesIn(d time.Duration, sampleRate int) int {
	return int(d * time.Duration(sampleRate) / time.Second)
}

// OpusEncoder encodes one channel's audio into opus frames.
type OpusEncoder struct {
	sampleRate    int
	encoder       *opus.Encoder
	segmentNumber int
	talkGroup     types.TalkGroup

	inBuf    []float32
	encBuf   [4096]byte
	inBufPos int

	receiveChan chan *types.TaggedAudioSampleFloat32
	outputChan  chan *types.TaggedAudioFrameOpus
}

func NewOpusEncoder(sampleRate int, outputChan chan *types.TaggedAudioFrameOpus) (*OpusEncoder, error) {
	enc, err := opus.NewEncoder(sampleRate, 1, opus.AppVoIP)
	if err != nil {
		return nil, err
	}
	if err := enc.SetPacketLossPerc(20); err != nil {
		return nil, err
	}
	if err := enc.SetBitrateToAuto(); err != nil {
		return nil, err
	}

	return &OpusEncoder{
		sampleRate:  sampleRate,
		encoder:     enc,
		inBuf:       make([]float32, 4*samplesIn(frameDuration, sampleRate)),
		receiveChan: make(chan *types.TaggedAudioSampleFloat32, 1),
		outputChan:  outputChan,
	}, nil
}

func (o *OpusEncoder) ReceiveChannel() chan<- *types.TaggedAudioSampleFloat32 {
	return o.receiveChan
}

func (o *OpusEncoder) Start(ctx context.Context) error {
	idle := frameDuration * 3 / 2
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(idle):
			if err := o.flush(ctx, true); err != nil {
				return err
			}
		case seg := <-o.receiveChan:
			o.talkGroup = *seg.TalkGroup
			data := seg.Audio.Data
			for len(data) > 0 {
				n := copy(o.inBuf[o.inBufPos:], data)
				o.inBufPos += n
				data = data[n:]
				if err := o.flush(ctx, false); err != nil {
					return err
				}
			}
		}
	}
}

// flush encodes every full frame. With force set a remainder is sent in the
// longest short frame that fits and anything shorter is dropped.
func (o *OpusEncoder) flush(ctx context.Context, force bool) error {
	full := samplesIn(frameDuration, o.sampleRate)
	for o.inBufPos >= full {
		if err := o.encode(ctx, full); err != nil {
			return err
		}
	}
	if !force || o.inBufPos == 0 {
		return nil
	}

	for j := len(shortFrames) - 1; j >= 0; j-- {
		if n := samplesIn(shortFrames[j], o.sampleRate); n <= o.inBufPos {
			if err := o.encode(ctx, n); err != nil {
				return err
			}
		}
	}
	o.inBufPos = 0
	return nil
}

func (o *OpusEncoder) encode(ctx context.Context, samples int) error {
	n, err := o.encoder.EncodeFloat32(o.inBuf[:samples], o.encBuf[:])
	if err != nil {
		return err
	}

	o.inBufPos -= samples
	copy(o.inBuf, o.inBuf[samples:samples+o.inBufPos])

	data := make([]byte, n)
	copy(data, o.encBuf[:n])
	tg := o.talkGroup

	select {
	case <-ctx.Done():
		return ctx.Err()
	case o.outputChan <- &types.TaggedAudioFrameOpus{
		Audio: &types.SegmentBinaryBytes{
			SegmentNumber: o.segmentNumber,
			Data:          data,
		},
		TalkGroup:                &tg,
		SampleLengthMicroseconds: samples * 1e6 / o.sampleRate,
		Timestamp:                time.Now().UTC(),
	}:
		o.segmentNumber++
	}
	return nil
}
