package main

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/afroash/w1-monitor/internal/models"
	"github.com/afroash/w1-monitor/internal/plugin"
)

// pluginSource serialises access to the plugin handle. The reader polls
// from its own goroutine while heartbeats and SIGHUP reloads touch the
// handle from others.
type pluginSource struct {
	mu     sync.Mutex
	handle *plugin.Handle
}

func newPluginSource(doc []byte, logger zerolog.Logger) (*pluginSource, error) {
	h, err := plugin.InitDocument(doc, logger)
	if err != nil {
		return nil, err
	}
	return &pluginSource{handle: h}, nil
}

func (s *pluginSource) Poll() (*models.PollResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle.Poll()
}

func (s *pluginSource) DeviceCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handle.Devices())
}

// Reconfigure swaps in the handle built from doc. The old handle is kept
// when doc is rejected. restarted reports a devices path change.
func (s *pluginSource) Reconfigure(doc []byte) (cfg plugin.Config, restarted bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, err := s.handle.ReconfigureDocument(doc)
	if err != nil {
		return s.handle.Config(), false, err
	}
	if next.RestartRequested() {
		s.handle.Shutdown()
	}
	s.handle = next
	return next.Config(), next.RestartRequested(), nil
}

func (s *pluginSource) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handle.Shutdown()
}
