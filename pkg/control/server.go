// Package control serves a JSON API for inspecting and steering the channels
// of a wdsp.Manager.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/norasector/wdsp/pkg/wdsp"
)

var errBadRequest = errors.New("bad request")

type Server struct {
	manager *wdsp.Manager
	srv     *http.Server
	logger  zerolog.Logger
}

type Option func(s *Server)

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

func NewServer(addr string, manager *wdsp.Manager, opts ...Option) *Server {
	s := &Server{
		manager: manager,
		srv: &http.Server{
			Addr:              addr,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: log.Logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.srv.Handler = s.Handler()
	return s
}

func (s *Server) Run(ctx context.Context) error {
	eg, ctx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		<-ctx.Done()
		return s.srv.Shutdown(context.Background())
	})

	eg.Go(func() error {
		s.logger.Info().Str("addr", s.srv.Addr).Msg("control server listening")
		err := s.srv.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	return eg.Wait()
}

func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) Handler() http.Handler {
	router := httprouter.New()

	router.GET("/channels", func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		s.writeJSON(w, http.StatusOK, s.manager.Channels())
	})
	router.GET("/channels/:id", s.channelHandler(s.getChannel))
	router.PUT("/channels/:id/state", s.channelHandler(s.putState))
	router.PUT("/channels/:id/type", s.channelHandler(s.putType))
	router.PUT("/channels/:id/buffers", s.channelHandler(s.putBuffers))
	router.PUT("/channels/:id/rates", s.channelHandler(s.putRates))
	router.PUT("/channels/:id/timing", s.channelHandler(s.putTiming))

	return router
}

type channelFunc func(r *http.Request, c *wdsp.Channel) (interface{}, error)

func (s *Server) channelHandler(fn channelFunc) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
		id, err := strconv.Atoi(params.ByName("id"))
		if err != nil {
			s.writeError(w, r, fmt.Errorf("%w: channel id %q", wdsp.ErrInvalidChannel, params.ByName("id")))
			return
		}
		c, err := s.manager.Channel(id)
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		resp, err := fn(r, c)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if resp == nil {
			resp = c.Info()
		}
		s.logger.Debug().Int("channel", id).Str("method", r.Method).Str("path", r.URL.Path).Msg("control request")
		s.writeJSON(w, http.StatusOK, resp)
	}
}

func decode(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

func (s *Server) getChannel(r *http.Request, c *wdsp.Channel) (interface{}, error) {
	return nil, nil
}

type stateRequest struct {
	State wdsp.State `json:"state"`
	Wait  bool       `json:"wait"`
}

type stateResponse struct {
	Prior wdsp.State `json:"prior"`
}

func (s *Server) putState(r *http.Request, c *wdsp.Channel) (interface{}, error) {
	var req stateRequest
	if err := decode(r, &req); err != nil {
		return nil, err
	}
	mode := wdsp.DrainNoWait
	if req.Wait {
		mode = wdsp.DrainWait
	}
	prior, err := c.SetState(r.Context(), req.State, mode)
	if err != nil {
		return nil, err
	}
	return stateResponse{Prior: prior}, nil
}

type typeRequest struct {
	Type wdsp.ChannelType `json:"type"`
}

func (s *Server) putType(r *http.Request, c *wdsp.Channel) (interface{}, error) {
	var req typeRequest
	if err := decode(r, &req); err != nil {
		return nil, err
	}
	return nil, c.SetType(req.Type)
}

type buffersRequest struct {
	Input int `json:"input"`
	DSP   int `json:"dsp"`
}

func (s *Server) putBuffers(r *http.Request, c *wdsp.Channel) (interface{}, error) {
	var req buffersRequest
	if err := decode(r, &req); err != nil {
		return nil, err
	}
	return nil, c.Reconfigure(func(cfg *wdsp.ChannelConfig) {
		if req.Input != 0 {
			cfg.InputSize = req.Input
		}
		if req.DSP != 0 {
			cfg.DSPSize = req.DSP
		}
	})
}

type ratesRequest struct {
	Input  int `json:"input"`
	DSP    int `json:"dsp"`
	Output int `json:"output"`
}

func (s *Server) putRates(r *http.Request, c *wdsp.Channel) (interface{}, error) {
	var req ratesRequest
	if err := decode(r, &req); err != nil {
		return nil, err
	}
	target := c.Target()
	if req.Input == 0 {
		req.Input = target.InputRate
	}
	if req.DSP == 0 {
		req.DSP = target.DSPRate
	}
	if req.Output == 0 {
		req.Output = target.OutputRate
	}
	return nil, c.SetAllRates(req.Input, req.DSP, req.Output)
}

type timingRequest struct {
	DelayUp   *string `json:"delay_up"`
	SlewUp    *string `json:"slew_up"`
	DelayDown *string `json:"delay_down"`
	SlewDown  *string `json:"slew_down"`
}

func (s *Server) putTiming(r *http.Request, c *wdsp.Channel) (interface{}, error) {
	var req timingRequest
	if err := decode(r, &req); err != nil {
		return nil, err
	}

	setters := []struct {
		name  string
		value *string
		set   func(time.Duration) error
	}{
		{"delay_up", req.DelayUp, c.SetTDelayUp},
		{"slew_up", req.SlewUp, c.SetTSlewUp},
		{"delay_down", req.DelayDown, c.SetTDelayDown},
		{"slew_down", req.SlewDown, c.SetTSlewDown},
	}
	// Nothing is applied unless every field parses.
	durations := make([]time.Duration, len(setters))
	for i, setter := range setters {
		if setter.value == nil {
			continue
		}
		d, err := time.ParseDuration(*setter.value)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", errBadRequest, setter.name, err)
		}
		if d < 0 {
			return nil, fmt.Errorf("%w: %s: negative duration %s", errBadRequest, setter.name, d)
		}
		durations[i] = d
	}
	for i, setter := range setters {
		if setter.value == nil {
			continue
		}
		if err := setter.set(durations[i]); err != nil {
			return nil, err
		}
	}
	return nil, nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, wdsp.ErrChannelNotOpen), errors.Is(err, wdsp.ErrChannelClosed):
		return http.StatusNotFound
	case errors.Is(err, wdsp.ErrInvalidChannel),
		errors.Is(err, wdsp.ErrInvalidConfig),
		errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	s.logger.Warn().Err(err).Str("path", r.URL.Path).Int("status", status).Msg("control request failed")
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error().Err(err).Msg("failed to write control response")
	}
}
