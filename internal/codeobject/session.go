package codeobject

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
)

const (
	dirPrefix        = "ROCm_Tmp_"
	waveDumpFileName = "ROCm_Wave_State_Dump"
	maxSessionIDLen  = 64
)

// SessionID builds the id shared by the log file name and the temp directory.
func SessionID(debuggerSession string, pid int) string {
	if debuggerSession == "" {
		return fmt.Sprintf("PID_%d", pid)
	}
	return fmt.Sprintf("SessionID_%s_PID_%d", debuggerSession, pid)
}

func DefaultDir(sessionID string) string {
	return filepath.Join(os.TempDir(), dirPrefix+sessionID)
}

// Session is the per-process directory holding persisted code objects and
// the wave state dump. A retained session leaves its files in place.
type Session struct {
	mu     sync.Mutex
	dir    string
	retain bool
	cache  *Cache
	logger *zap.Logger
}

func NewSession(dir string, retain bool, logger *zap.Logger) (*Session, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating session dir: %w", err)
	}
	if len(filepath.Base(dir)) > len(dirPrefix)+maxSessionIDLen {
		logger.Warn("code object file path exceeds max length", zap.String("dir", dir))
	}
	return &Session{dir: dir, retain: retain, logger: logger}, nil
}

func (s *Session) Dir() string {
	return s.dir
}

func (s *Session) Retained() bool {
	return s.retain
}

func (s *Session) WaveDumpPath() string {
	return filepath.Join(s.dir, waveDumpFileName)
}

func (s *Session) Save(name string, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	s.logger.Debug("saved code object", zap.String("path", path), zap.Int("bytes", len(data)))
	return path, nil
}

// EvictFrom makes Remove drop parsed symbol tables from c.
func (s *Session) EvictFrom(c *Cache) {
	s.mu.Lock()
	s.cache = c
	s.mu.Unlock()
}

func (s *Session) Remove(path string) error {
	s.mu.Lock()
	cache := s.cache
	s.mu.Unlock()
	if cache != nil {
		cache.Evict(path)
	}
	if s.retain {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	s.logger.Debug("removed code object", zap.String("path", path))
	return nil
}

// Close deletes the directory unless the session is retained.
func (s *Session) Close() error {
	if s.retain {
		s.logger.Info("keeping session files", zap.String("dir", s.dir))
		return nil
	}
	return os.RemoveAll(s.dir)
}
