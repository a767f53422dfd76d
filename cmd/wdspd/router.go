package main

import (
	"context"
	"errors"

	"github.com/norasector/turbine-common/types"
	"github.com/rs/zerolog"

	"github.com/norasector/wdsp/pkg/dsp/iobuff"
	"github.com/norasector/wdsp/pkg/output"
	"github.com/norasector/wdsp/pkg/wdsp"
)

// router cuts device segments into each channel's input blocks and fans the
// results out to the outputs.
type router struct {
	manager   *wdsp.Manager
	stationID int
	outputs   []output.Output
	logger    zerolog.Logger

	fifos   map[int]*iobuff.FIFO
	segment int
}

func newRouter(manager *wdsp.Manager, stationID int, outputs []output.Output, logger zerolog.Logger) *router {
	return &router{
		manager:   manager,
		stationID: stationID,
		outputs:   outputs,
		logger:    logger,
		fifos:     make(map[int]*iobuff.FIFO),
	}
}

func (r *router) run(ctx context.Context, segments <-chan *types.SegmentComplex64) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case seg := <-segments:
			if err := r.route(ctx, seg.Data); err != nil {
				return err
			}
		}
	}
}

func (r *router) route(ctx context.Context, data []complex64) error {
	r.segment++
	open := make(map[int]struct{})

	for _, info := range r.manager.Channels() {
		open[info.ID] = struct{}{}
		c, err := r.manager.Channel(info.ID)
		if err != nil {
			continue
		}

		fifo, ok := r.fifos[info.ID]
		if !ok {
			fifo = iobuff.NewFIFO(len(data) + info.Config.InputSize)
			r.fifos[info.ID] = fifo
		}
		fifo.Write(data)

		if err := r.exchange(ctx, c, fifo); err != nil {
			return err
		}
	}

	for id := range r.fifos {
		if _, ok := open[id]; !ok {
			delete(r.fifos, id)
		}
	}
	return nil
}

// exchanger is the part of a channel the router drives.
type exchanger interface {
	ID() int
	InputSize() int
	OutputSize() int
	Info() wdsp.ChannelInfo
	Exchange(in, out []complex64) error
}

func (r *router) exchange(ctx context.Context, c exchanger, fifo *iobuff.FIFO) error {
	for {
		// Sizes change when a pending reconfiguration lands.
		inSize := c.InputSize()
		if fifo.Len() < inSize {
			return nil
		}
		in := make([]complex64, inSize)
		fifo.Peek(in)
		out := make([]complex64, c.OutputSize())

		active := c.Info().Exchanging
		err := c.Exchange(in, out)
		switch {
		case errors.Is(err, wdsp.ErrBufferSize):
			// Reconfigured between the size reads and the exchange. The
			// block stays queued and is cut again at the new size.
			if c.InputSize() == inSize && c.OutputSize() == len(out) {
				return err
			}
			continue
		case errors.Is(err, wdsp.ErrChannelClosed):
			return nil
		case errors.Is(err, wdsp.ErrOutputUnderflow):
			r.logger.Debug().Int("channel", c.ID()).Msg("output underflow")
		case err != nil:
			return err
		}
		fifo.Discard(inSize)
		if !active {
			continue
		}

		frame := output.NewFrame(r.stationID, c.ID(), r.segment, out)
		for _, o := range r.outputs {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case o.Receive() <- frame:
			}
		}
	}
}
