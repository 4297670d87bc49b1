package projects

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// StateStore persists the pid of every running project. A store with no
// path keeps its state in memory.
type StateStore struct {
	path string
	mu   sync.Mutex
	pids map[string]int
}

type stateFile struct {
	PIDs map[string]int `yaml:"pids"`
}

// OpenStateStore loads the store at path. A missing file is an empty
// store.
func OpenStateStore(path string) (*StateStore, error) {
	s := &StateStore{path: path, pids: map[string]int{}}
	if path == "" {
		return s, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading state file: %w", err)
	}

	var file stateFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing state file '%s': %w", path, err)
	}
	if file.PIDs != nil {
		s.pids = file.PIDs
	}
	return s, nil
}

func (s *StateStore) Get(id string) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pid, ok := s.pids[id]
	return pid, ok
}

func (s *StateStore) All() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.pids)
}

func (s *StateStore) Set(id string, pid int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pids[id] = pid
	return s.save()
}

func (s *StateStore) Clear(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pids[id]; !ok {
		return nil
	}
	delete(s.pids, id)
	return s.save()
}

// save writes the file through a temporary file so that readers never
// observe a partial write.
func (s *StateStore) save() error {
	if s.path == "" {
		return nil
	}

	data, err := yaml.Marshal(stateFile{PIDs: s.pids})
	if err != nil {
		return fmt.Errorf("encoding state: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".procgroup-state-*")
	if err != nil {
		return fmt.Errorf("writing state file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("writing state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("writing state file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("replacing state file: %w", err)
	}
	return nil
}
