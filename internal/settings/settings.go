// Package settings holds the operator-facing mode switch: simulated
// diagnostics against the mock generator, or live calls to the configured
// services.
//
// The value is explicit state injected into its dependents, not ambient
// process state: the hosting environment persists it across sessions through
// a Persister, reads it once at startup and writes it on every toggle.
// Dependents that need to react to a flip (the store invalidating in-flight
// work) subscribe for change notifications.
package settings

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
)

// Persister stores the mode flag across sessions.
type Persister interface {
	// Load returns the persisted value and whether one was found.
	Load() (value bool, found bool, err error)
	// Save persists the value.
	Save(value bool) error
}

// FileStore persists the flag as a small JSON file.
type FileStore struct {
	path string
}

// NewFileStore creates a file-backed persister.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

type fileState struct {
	Simulated bool `json:"simulated"`
}

// Load reads the persisted flag. A missing file means no value, not an error.
func (f *FileStore) Load() (bool, bool, error) {
	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return false, false, nil
	}
	if err != nil {
		return false, false, fmt.Errorf("reading settings file: %w", err)
	}

	var state fileState
	if err := json.Unmarshal(data, &state); err != nil {
		return false, false, fmt.Errorf("parsing settings file: %w", err)
	}
	return state.Simulated, true, nil
}

// Save writes the flag.
func (f *FileStore) Save(value bool) error {
	data, err := json.Marshal(fileState{Simulated: value})
	if err != nil {
		return err
	}
	if err := os.WriteFile(f.path, data, 0o644); err != nil {
		return fmt.Errorf("writing settings file: %w", err)
	}
	return nil
}

// Settings is the injectable mode value with change notification.
type Settings struct {
	mu        sync.Mutex
	simulated bool
	persist   Persister
	subs      []chan bool
	logger    *slog.Logger
}

// New loads the persisted mode, falling back to the given default. A nil
// persister keeps the value session-only.
func New(persist Persister, defaultSimulated bool, logger *slog.Logger) *Settings {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}

	s := &Settings{
		simulated: defaultSimulated,
		persist:   persist,
		logger:    logger,
	}

	if persist != nil {
		value, found, err := persist.Load()
		if err != nil {
			logger.Warn("failed to load persisted settings, using default", "error", err)
		} else if found {
			s.simulated = value
		}
	}

	return s
}

// Simulated reports whether diagnostics run against the mock generator.
func (s *Settings) Simulated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.simulated
}

// SetSimulated switches the mode, persists it and notifies subscribers.
// Setting the current value again is a no-op.
func (s *Settings) SetSimulated(value bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.simulated == value {
		return
	}
	s.simulated = value

	if s.persist != nil {
		if err := s.persist.Save(value); err != nil {
			s.logger.Warn("failed to persist settings", "error", err)
		}
	}

	for _, ch := range s.subs {
		// Non-blocking: a subscriber that has not drained the previous
		// notification only needs to learn that the mode changed, so the
		// pending one is replaced.
		select {
		case ch <- value:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- value:
			default:
			}
		}
	}

	s.logger.Info("mode changed", "simulated", value)
}

// Toggle flips the mode and returns the new value.
func (s *Settings) Toggle() bool {
	next := !s.Simulated()
	s.SetSimulated(next)
	return next
}

// Subscribe returns a channel receiving the new mode after every change.
// The channel is buffered; only the latest unconsumed change is retained.
func (s *Settings) Subscribe() <-chan bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan bool, 1)
	s.subs = append(s.subs, ch)
	return ch
}
