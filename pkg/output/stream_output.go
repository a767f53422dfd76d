package output

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"strconv"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go"
	"github.com/influxdata/influxdb-client-go/api"
	"github.com/norasector/turbine-common/types"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"google.golang.org/protobuf/proto"
)

const (
	receiveBuffer = 8
	numSenders    = 4
)

type encoderKey struct {
	station, channel int
}

// sender picks one of n senders. A key always maps to the same sender, so
// its frames leave in encode order.
func (k encoderKey) sender(n int) int {
	return int(uint(k.station*31+k.channel) % uint(n))
}

// TaggedOpusFrameUDPOutput encodes each channel with its own opus encoder and
// sends the frames, as length prefixed protobuf, to every destination.
type TaggedOpusFrameUDPOutput struct {
	dests      []Destination
	sampleRate int
	filter     map[int]struct{}
	recvChan   chan *types.TaggedAudioSampleFloat32
	opusChans  []chan *types.TaggedAudioFrameOpus
	metrics    api.WriteAPI
	logger     zerolog.Logger
}

func NewTaggedOpusFrameUDPOutput(dests []Destination, sampleRate int, channels []int, metrics api.WriteAPI) *TaggedOpusFrameUDPOutput {
	opusChans := make([]chan *types.TaggedAudioFrameOpus, numSenders)
	for i := range opusChans {
		opusChans[i] = make(chan *types.TaggedAudioFrameOpus)
	}
	return &TaggedOpusFrameUDPOutput{
		dests:      dests,
		sampleRate: sampleRate,
		filter:     channelFilter(channels),
		recvChan:   make(chan *types.TaggedAudioSampleFloat32, receiveBuffer),
		opusChans:  opusChans,
		metrics:    metrics,
		logger:     log.Logger,
	}
}

func (s *TaggedOpusFrameUDPOutput) Receive() chan<- *types.TaggedAudioSampleFloat32 {
	return s.recvChan
}

// frameMessage prefixes encoded with its length as a little endian uint16.
func frameMessage(encoded []byte) ([]byte, error) {
	if len(encoded) > 0xffff {
		return nil, fmt.Errorf("frame of %d bytes too long", len(encoded))
	}
	msg := make([]byte, 2, 2+len(encoded))
	binary.LittleEndian.PutUint16(msg, uint16(len(encoded)))
	return append(msg, encoded...), nil
}

func resolve(dests []Destination) ([]*net.UDPAddr, error) {
	addrs := make([]*net.UDPAddr, 0, len(dests))
	for _, dest := range dests {
		ips, err := net.LookupIP(dest.Host)
		if err != nil {
			return nil, fmt.Errorf("resolving %s: %w", dest.Host, err)
		}
		if len(ips) == 0 {
			return nil, fmt.Errorf("no IPs returned for %s", dest.Host)
		}
		addrs = append(addrs, &net.UDPAddr{IP: ips[0], Port: dest.Port})
	}
	return addrs, nil
}

func (s *TaggedOpusFrameUDPOutput) send(conn *net.UDPConn, addrs []*net.UDPAddr, frame *types.TaggedAudioFrameOpus) {
	encoded, err := proto.Marshal(frame.ToProtobuf())
	if err != nil {
		s.logger.Warn().Err(err).Msg("error marshaling protobuf")
		return
	}
	msg, err := frameMessage(encoded)
	if err != nil {
		s.logger.Warn().Err(err).Msg("error framing message")
		return
	}

	var sent, dropped, written int
	for _, addr := range addrs {
		n, err := conn.WriteToUDP(msg, addr)
		if err != nil {
			s.logger.Error().Err(err).Str("dest", addr.String()).Msg("error writing")
			dropped++
			continue
		}
		sent++
		written += n
	}

	s.metrics.WritePoint(influxdb2.NewPoint("opus.sent_frame",
		map[string]string{
			"station": strconv.Itoa(frame.TalkGroup.SystemID),
			"channel": strconv.Itoa(frame.TalkGroup.ID),
		},
		map[string]interface{}{
			"bytes_written":  written,
			"frame_length":   len(frame.Audio.Data),
			"encoded_length": len(encoded),
			"sent":           sent,
			"dropped":        dropped,
		}, time.Now()))
}

// Start sends until ctx is done. A single dispatcher feeds the encoders and
// each encoder feeds one fixed sender socket, so a channel's frames stay in
// order end to end.
func (s *TaggedOpusFrameUDPOutput) Start(ctx context.Context) error {
	addrs, err := resolve(s.dests)
	if err != nil {
		return err
	}
	for _, addr := range addrs {
		s.logger.Info().IPAddr("dest_ip", addr.IP).Int("port", addr.Port).Msg("stream output starting")
	}

	eg, ctx := errgroup.WithContext(ctx)

	for _, frames := range s.opusChans {
		frames := frames
		eg.Go(func() error {
			conn, err := net.ListenUDP("udp", nil)
			if err != nil {
				return err
			}
			defer conn.Close()

			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case frame := <-frames:
					s.send(conn, addrs, frame)
				}
			}
		})
	}

	eg.Go(func() error {
		encoders := make(map[encoderKey]*OpusEncoder)
		for {
			var frame *types.TaggedAudioSampleFloat32
			select {
			case <-ctx.Done():
				return ctx.Err()
			case frame = <-s.recvChan:
			}
			if !accepts(s.filter, frame) {
				continue
			}

			key := encoderKey{frame.TalkGroup.SystemID, frame.TalkGroup.ID}
			enc, ok := encoders[key]
			if !ok {
				var err error
				enc, err = NewOpusEncoder(s.sampleRate, s.opusChans[key.sender(len(s.opusChans))])
				if err != nil {
					return fmt.Errorf("opus encoder for channel %d: %w", key.channel, err)
				}
				encoders[key] = enc
				eg.Go(func() error {
					return enc.Start(ctx)
				})
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			case enc.ReceiveChannel() <- frame:
			}
		}
	})

	return eg.Wait()
}
