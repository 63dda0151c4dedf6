package dedup

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"sync"

	"github.com/ilri/odktools-sub000/internal/database"
)

// FileStore keeps one document id per line in a plain text file.
type FileStore struct {
	path string

	mu   sync.Mutex
	seen map[string]bool
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) load() error {
	if s.seen != nil {
		return nil
	}
	s.seen = make(map[string]bool)

	f, err := os.Open(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to open processed list %s: %w", s.path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if id := strings.TrimSpace(scanner.Text()); id != "" {
			s.seen[id] = true
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read processed list %s: %w", s.path, err)
	}
	return nil
}

func (s *FileStore) Seen(_ context.Context, documentID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.load(); err != nil {
		return false, err
	}
	return s.seen[documentID], nil
}

// Mark is a no-op: the file cannot be rolled back with the transaction.
func (s *FileStore) Mark(context.Context, *database.Tx, string) error {
	return nil
}

func (s *FileStore) Finalize(_ context.Context, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.load(); err != nil {
		return err
	}
	if s.seen[documentID] {
		return nil
	}

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open processed list %s: %w", s.path, err)
	}
	defer f.Close()

	if _, err := fmt.Fprintln(f, documentID); err != nil {
		return fmt.Errorf("failed to append to processed list: %w", err)
	}
	s.seen[documentID] = true
	return f.Close()
}
