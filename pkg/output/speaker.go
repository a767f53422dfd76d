package output

import (
	"context"

	"github.com/gordonklaus/portaudio"
	"github.com/norasector/turbine-common/types"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// SpeakerOutput plays one channel on the default audio device.
type SpeakerOutput struct {
	channel         int
	sampleRate      int
	framesPerBuffer int
	recvChan        chan *types.TaggedAudioSampleFloat32
	logger          zerolog.Logger
}

func NewSpeakerOutput(channel, sampleRate, framesPerBuffer int) *SpeakerOutput {
	if framesPerBuffer <= 0 {
		framesPerBuffer = 1024
	}
	return &SpeakerOutput{
		channel:         channel,
		sampleRate:      sampleRate,
		framesPerBuffer: framesPerBuffer,
		recvChan:        make(chan *types.TaggedAudioSampleFloat32, sampleBufferLength),
		logger:          log.Logger.With().Int("channel", channel).Logger(),
	}
}

func (s *SpeakerOutput) Receive() chan<- *types.TaggedAudioSampleFloat32 {
	return s.recvChan
}

func (s *SpeakerOutput) Start(ctx context.Context) error {
	if err := portaudio.Initialize(); err != nil {
		return err
	}
	defer portaudio.Terminate()

	buf := make([]float32, s.framesPerBuffer)
	stream, err := portaudio.OpenDefaultStream(0, 1, float64(s.sampleRate), s.framesPerBuffer, buf)
	if err != nil {
		return err
	}
	defer stream.Close()

	if err := stream.Start(); err != nil {
		return err
	}
	defer stream.Stop()

	s.logger.Info().Int("sample_rate", s.sampleRate).Msg("speaker output starting")

	var pending []float32
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case frame := <-s.recvChan:
			if frame.TalkGroup.ID != s.channel {
				continue
			}
			pending = append(pending, frame.Audio.Data...)
			for len(pending) >= len(buf) {
				copy(buf, pending)
				pending = pending[:copy(pending, pending[len(buf):])]
				if err := stream.Write(); err != nil {
					s.logger.Warn().Err(err).Msg("error writing audio")
				}
			}
		}
	}
}
