package shell

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// History appends every entered line to a file. The path is made absolute
// when opened so that lcd does not move it.
type History struct {
	mu   sync.Mutex
	path string
	file *os.File
}

// OpenHistory opens (creating if needed) an append-only history file.
func OpenHistory(path string) (*History, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve history path: %w", err)
	}
	f, err := os.OpenFile(abs, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	return &History{path: abs, file: f}, nil
}

// Path returns the absolute history file path.
func (h *History) Path() string { return h.path }

// Append records one line. Embedded newlines are flattened.
func (h *History) Append(line string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	line = strings.ReplaceAll(line, "\n", " ")
	if _, err := h.file.WriteString(line + "\n"); err != nil {
		return fmt.Errorf("write history: %w", err)
	}
	return nil
}

func (h *History) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.file.Close()
}
