// Package envfile stores the per-environment dotenv files of projects.
//
// Writes are atomic: content goes to a temporary file in the target
// directory, is synced, and is renamed over the destination. A concurrent
// reader therefore sees either the previous or the new content, never a
// partial file.
package envfile

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"

	"github.com/artpar/reflow/internal/core/domain"
	"github.com/artpar/reflow/internal/shell/keylock"
)

// Store reads and writes env files under a data directory.
type Store struct {
	dataDir string
	locks   *keylock.Locker
	logger  *slog.Logger
}

// New creates a Store. Relative env file paths resolve under
// <dataDir>/projects/<name>/.
func New(dataDir string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		dataDir: dataDir,
		locks:   keylock.New(),
		logger:  logger.With("component", "envfile"),
	}
}

// Path returns the resolved location of the env file of p in env.
func (s *Store) Path(p *domain.Project, env domain.Environment) string {
	path := p.EnvConfig(env).EnvFile
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(s.dataDir, "projects", p.Name, path)
}

// Read returns the raw content of the env file.
func (s *Store) Read(p *domain.Project, env domain.Environment) (string, error) {
	path := s.Path(p, env)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", domain.NewError(domain.KindNotFound, "env_file_not_found", domain.ErrEnvFileNotFound,
				fmt.Sprintf("env file for %s/%s not found", p.Name, env), nil)
		}
		return "", domain.NewInternalError(fmt.Errorf("read env file %s: %w", path, err))
	}
	return string(data), nil
}

// Write replaces the env file with content, byte for byte.
func (s *Store) Write(p *domain.Project, env domain.Environment, content string) error {
	path := s.Path(p, env)
	unlock := s.locks.Lock(path)
	defer unlock()

	if err := writeAtomic(path, []byte(content)); err != nil {
		return domain.NewInternalError(err)
	}
	s.logger.Info("env file written", "project", p.Name, "env", env, "path", path, "bytes", len(content))
	return nil
}

// Vars parses the env file into variables. A missing file yields no variables.
func (s *Store) Vars(p *domain.Project, env domain.Environment) (map[string]string, error) {
	path := s.Path(p, env)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]string{}, nil
		}
		return nil, domain.NewInternalError(fmt.Errorf("read env file %s: %w", path, err))
	}

	vars, err := godotenv.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, domain.NewValidationError(domain.ErrInvalidConfig,
			fmt.Sprintf("env file for %s/%s is malformed: %v", p.Name, env, err))
	}
	return vars, nil
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create env file dir: %w", err)
	}

	file, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp env file: %w", err)
	}
	tmpFile := file.Name()

	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(tmpFile)
		return fmt.Errorf("write env file: %w", err)
	}

	// Sync to ensure data is on disk before rename
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tmpFile)
		return fmt.Errorf("sync env file: %w", err)
	}

	if err := file.Close(); err != nil {
		os.Remove(tmpFile)
		return fmt.Errorf("close env file: %w", err)
	}

	if err := os.Chmod(tmpFile, 0o600); err != nil {
		os.Remove(tmpFile)
		return fmt.Errorf("chmod env file: %w", err)
	}

	if err := os.Rename(tmpFile, path); err != nil {
		os.Remove(tmpFile)
		return fmt.Errorf("rename env file: %w", err)
	}
	return nil
}
