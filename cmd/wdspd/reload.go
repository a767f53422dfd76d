package main

import (
	"context"
	"fmt"
	"path/filepath"
	"reflect"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/norasector/wdsp/pkg/config"
	"github.com/norasector/wdsp/pkg/wdsp"
)

const reloadDebounce = 250 * time.Millisecond

// applyChannels moves the manager from the channels of prev to those of next.
func applyChannels(ctx context.Context, m *wdsp.Manager, prev, next *config.Config, logger zerolog.Logger) error {
	for _, ch := range prev.Channels {
		if _, ok := next.Channel(ch.ID); !ok {
			logger.Info().Int("channel", ch.ID).Msg("channel removed from config")
			if err := m.CloseChannel(ch.ID); err != nil {
				return err
			}
		}
	}

	for _, ch := range next.Channels {
		old, ok := prev.Channel(ch.ID)
		switch {
		case !ok:
			if err := m.OpenChannel(ch.ID, ch.ChannelConfig, ch.Options()...); err != nil {
				return fmt.Errorf("opening channel %d: %w", ch.ID, err)
			}
		case !old.SameStages(ch):
			logger.Info().Int("channel", ch.ID).Msg("stages changed, reopening channel")
			if err := m.CloseChannel(ch.ID); err != nil {
				return err
			}
			if err := m.OpenChannel(ch.ID, ch.ChannelConfig, ch.Options()...); err != nil {
				return fmt.Errorf("reopening channel %d: %w", ch.ID, err)
			}
		default:
			if err := applyDiff(ctx, m, ch.ID, old.ChannelConfig, ch.ChannelConfig); err != nil {
				return fmt.Errorf("updating channel %d: %w", ch.ID, err)
			}
		}
	}
	return nil
}

// applyDiff changes one open channel from prev to next. Structural fields
// change together so no intermediate combination has to be valid.
func applyDiff(ctx context.Context, m *wdsp.Manager, id int, prev, next wdsp.ChannelConfig) error {
	switch {
	case prev.Type != next.Type && sameShape(prev, next):
		if err := m.SetType(id, next.Type); err != nil {
			return err
		}
	case !sameShape(prev, next) || prev.Type != next.Type:
		c, err := m.Channel(id)
		if err != nil {
			return err
		}
		if err := c.Reconfigure(func(cfg *wdsp.ChannelConfig) {
			cfg.Type = next.Type
			cfg.InputSize, cfg.DSPSize = next.InputSize, next.DSPSize
			cfg.InputRate, cfg.DSPRate, cfg.OutputRate = next.InputRate, next.DSPRate, next.OutputRate
		}); err != nil {
			return err
		}
	}

	timing := []struct {
		prev, next time.Duration
		set        func(int, time.Duration) error
	}{
		{prev.Timing.DelayUp, next.Timing.DelayUp, m.SetChannelTDelayUp},
		{prev.Timing.SlewUp, next.Timing.SlewUp, m.SetChannelTSlewUp},
		{prev.Timing.DelayDown, next.Timing.DelayDown, m.SetChannelTDelayDown},
		{prev.Timing.SlewDown, next.Timing.SlewDown, m.SetChannelTSlewDown},
	}
	for _, t := range timing {
		if t.prev != t.next {
			if err := t.set(id, t.next); err != nil {
				return err
			}
		}
	}

	if prev.State != next.State {
		if _, err := m.SetChannelState(ctx, id, next.State, wdsp.DrainNoWait); err != nil {
			return err
		}
	}
	return nil
}

func sameShape(a, b wdsp.ChannelConfig) bool {
	return a.InputSize == b.InputSize && a.DSPSize == b.DSPSize &&
		a.InputRate == b.InputRate && a.DSPRate == b.DSPRate && a.OutputRate == b.OutputRate
}

// reloader re-reads the config file and applies channel changes. Other
// sections need a restart.
type reloader struct {
	path    string
	manager *wdsp.Manager
	logger  zerolog.Logger

	mu      sync.Mutex
	current *config.Config
}

func (r *reloader) reload(ctx context.Context) {
	next, err := config.Load(r.path)
	if err != nil {
		r.logger.Warn().Err(err).Msg("ignoring invalid config")
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if !reflect.DeepEqual(r.current.Device, next.Device) || !reflect.DeepEqual(r.current.Outputs, next.Outputs) {
		r.logger.Warn().Msg("device and output changes apply on restart")
	}
	if err := applyChannels(ctx, r.manager, r.current, next, r.logger); err != nil {
		r.logger.Error().Err(err).Msg("failed to apply config")
	}
	// Channels keep whatever was applied; the next reload diffs against the file.
	r.current = next
	r.logger.Info().Str("path", r.path).Msg("reloaded config")
}

// watch calls r.reload after writes to the config file settle.
func (r *reloader) watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// Editors often replace the file, so watch its directory.
	target := filepath.Clean(r.path)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return err
	}

	debounce := time.NewTimer(reloadDebounce)
	debounce.Stop()
	defer debounce.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				debounce.Reset(reloadDebounce)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			r.logger.Warn().Err(err).Msg("config watcher error")
		case <-debounce.C:
			r.reload(ctx)
		}
	}
}
