// Package output delivers channel audio to files, the network and speakers.
package output

import (
	"context"
	"time"

	"github.com/norasector/turbine-common/types"
)

// Output handles tagged audio frames produced by channels.
type Output interface {
	// Start runs until ctx is done or the output fails.
	Start(ctx context.Context) error
	// Receive returns the channel frames are delivered on.
	Receive() chan<- *types.TaggedAudioSampleFloat32
}

// Destination is a UDP host and port.
type Destination struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// NewFrame tags the in-phase part of a channel's output block. The talk group
// id carries the channel id and the system id the station id.
func NewFrame(stationID, channel, segment int, samples []complex64) *types.TaggedAudioSampleFloat32 {
	audio := make([]float32, len(samples))
	for i, s := range samples {
		audio[i] = real(s)
	}
	return &types.TaggedAudioSampleFloat32{
		TalkGroup: &types.TalkGroup{
			ID:         channel,
			SystemID:   stationID,
			LastUpdate: time.Now(),
		},
		Audio: &types.SegmentFloat32{
			SegmentNumber: segment,
			Data:          audio,
		},
	}
}

func channelFilter(channels []int) map[int]struct{} {
	ret := make(map[int]struct{}, len(channels))
	for _, ch := range channels {
		ret[ch] = struct{}{}
	}
	return ret
}

func accepts(filter map[int]struct{}, frame *types.TaggedAudioSampleFloat32) bool {
	if len(filter) == 0 {
		return true
	}
	_, ok := filter[frame.TalkGroup.ID]
	return ok
}
