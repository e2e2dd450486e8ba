package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"atelier/internal/domain"
)

// Start launches the background flush loop. Dirty sessions are written to
// durable storage once per interval; a failed write re-marks the session
// dirty so the next cycle retries it. Persistence never fails the in-memory
// mutation that triggered it.
func (s *Store) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.flushInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.done:
				return
			case <-ticker.C:
				s.Flush()
			}
		}
	}()
}

// Shutdown stops the flush loop and performs one final flush so no committed
// mutation is lost on a clean exit.
func (s *Store) Shutdown() {
	s.stop.Do(func() { close(s.done) })
	s.Flush()
}

// Flush writes every dirty session to disk. Returns the number of sessions
// successfully persisted.
func (s *Store) Flush() int {
	s.mu.Lock()
	pending := make([]*domain.Session, 0, len(s.dirty))
	for id := range s.dirty {
		if sess, ok := s.sessions[id]; ok {
			pending = append(pending, cloneSession(sess))
		}
		delete(s.dirty, id)
	}
	s.mu.Unlock()

	flushed := 0
	for _, sess := range pending {
		if err := s.writeDocument(sess); err != nil {
			s.logger.Error().Err(err).Str("session_id", sess.ID).Msg("store: flush failed, will retry")
			s.mu.Lock()
			// Only re-mark if the session still exists; a concurrent delete wins.
			if _, ok := s.sessions[sess.ID]; ok {
				s.dirty[sess.ID] = struct{}{}
			}
			s.mu.Unlock()
			continue
		}
		flushed++
	}
	return flushed
}

func (s *Store) writeDocument(sess *domain.Session) error {
	if err := os.MkdirAll(s.dataPath, 0o755); err != nil {
		return fmt.Errorf("%w: ensure data path: %v", domain.ErrPersistenceFailed, err)
	}
	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: marshal session: %v", domain.ErrPersistenceFailed, err)
	}
	final := s.documentPath(sess.ID)
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("%w: write session: %v", domain.ErrPersistenceFailed, err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return fmt.Errorf("%w: replace session: %v", domain.ErrPersistenceFailed, err)
	}
	return nil
}

func (s *Store) removeDocument(id string) {
	if err := os.Remove(s.documentPath(id)); err != nil && !os.IsNotExist(err) {
		s.logger.Warn().Err(err).Str("session_id", id).Msg("store: remove session document failed")
	}
}

func (s *Store) documentPath(id string) string {
	return filepath.Join(s.dataPath, id+".json")
}

// ensureLoaded loads every persisted session document into memory before the
// store serves its first request.
func (s *Store) ensureLoaded() {
	s.loadOnce.Do(func() {
		entries, err := os.ReadDir(s.dataPath)
		if err != nil {
			if !os.IsNotExist(err) {
				s.logger.Error().Err(err).Str("path", s.dataPath).Msg("store: read data path failed")
			}
			return
		}
		loaded := 0
		s.mu.Lock()
		defer s.mu.Unlock()
		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
				continue
			}
			data, err := os.ReadFile(filepath.Join(s.dataPath, entry.Name()))
			if err != nil {
				s.logger.Warn().Err(err).Str("file", entry.Name()).Msg("store: read session document failed")
				continue
			}
			var sess domain.Session
			if err := json.Unmarshal(data, &sess); err != nil {
				s.logger.Warn().Err(err).Str("file", entry.Name()).Msg("store: decode session document failed")
				continue
			}
			if sess.ID == "" {
				continue
			}
			s.sessions[sess.ID] = &sess
			loaded++
		}
		if loaded > 0 {
			s.logger.Info().Int("sessions", loaded).Msg("store: loaded persisted sessions")
		}
	})
}
