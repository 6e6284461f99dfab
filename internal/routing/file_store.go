package routing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// FileStore keeps the table as a JSON object {"output": "variable"} on disk.
// Each Put or Delete re-reads the file and replaces it atomically.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore creates a store at path. The file is created on first write.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load reads the file. A missing file is an empty table.
func (s *FileStore) Load(_ context.Context) ([]Route, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	table, err := s.read()
	if err != nil {
		return nil, err
	}

	routes := make([]Route, 0, len(table))
	for output, variable := range table {
		routes = append(routes, Route{Output: output, Variable: variable})
	}
	sort.Slice(routes, func(i, j int) bool { return routes[i].Output < routes[j].Output })
	return routes, nil
}

// Put sets the variable for one output.
func (s *FileStore) Put(_ context.Context, r Route) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	table, err := s.read()
	if err != nil {
		return err
	}
	table[r.Output] = r.Variable
	return s.write(table)
}

// Delete removes one output.
func (s *FileStore) Delete(_ context.Context, output string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	table, err := s.read()
	if err != nil {
		return err
	}
	if _, ok := table[output]; !ok {
		return nil
	}
	delete(table, output)
	return s.write(table)
}

func (s *FileStore) read() (map[string]string, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("failed to read routing file: %w", err)
	}

	table := map[string]string{}
	if err := json.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("failed to parse routing file %s: %w", s.path, err)
	}
	return table, nil
}

// write stages the table in a temporary file next to the target, syncs it
// and renames it over the target.
func (s *FileStore) write(table map[string]string) error {
	data, err := json.MarshalIndent(table, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode routing table: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create routing directory: %w", err)
	}

	file, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary routing file: %w", err)
	}
	tmp := file.Name()
	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to write temporary routing file: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to sync temporary routing file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to close temporary routing file: %w", err)
	}
	if err := os.Chmod(tmp, 0o644); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to set routing file permissions: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace routing file: %w", err)
	}
	return nil
}
