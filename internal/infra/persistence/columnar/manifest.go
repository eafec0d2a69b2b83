package columnar

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	json "github.com/goccy/go-json"
)

// Manifest is an append-only JSONL file. Writes open with O_APPEND so
// concurrent appenders interleave whole lines; a crash mid-write leaves at
// most one partial trailing line, which readers discard.
type Manifest struct {
	path string
	mu   sync.Mutex
}

// NewManifest ensures the parent directory exists and binds the file path.
func NewManifest(path string) (*Manifest, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("columnar: empty manifest path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("columnar: manifest dir: %w", err)
	}
	return &Manifest{path: path}, nil
}

// Path returns the manifest file location.
func (m *Manifest) Path() string { return m.path }

// Append serialises the record and writes it as a single line.
func (m *Manifest) Append(record any) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("columnar: marshal manifest record: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	file, err := os.OpenFile(m.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("columnar: open manifest: %w", err)
	}
	defer file.Close()
	if _, err := file.Write(append(payload, '\n')); err != nil {
		return fmt.Errorf("columnar: append manifest: %w", err)
	}
	return nil
}

// ReadLines returns every complete line in the manifest. A missing file reads
// as empty; a partial trailing line from an interrupted write is dropped.
func (m *Manifest) ReadLines() ([][]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	file, err := os.Open(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("columnar: open manifest: %w", err)
	}
	defer file.Close()

	var lines [][]byte
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		lines = append(lines, append([]byte(nil), line...))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("columnar: scan manifest: %w", err)
	}
	// Scanner strips newlines, so re-check the raw tail: if the file does not
	// end in '\n', the final line was cut short by a crash and is discarded.
	if len(lines) > 0 {
		terminated, err := endsWithNewline(file)
		if err != nil {
			return nil, err
		}
		if !terminated {
			lines = lines[:len(lines)-1]
		}
	}
	return lines, nil
}

func endsWithNewline(file *os.File) (bool, error) {
	info, err := file.Stat()
	if err != nil {
		return false, fmt.Errorf("columnar: stat manifest: %w", err)
	}
	if info.Size() == 0 {
		return true, nil
	}
	buf := make([]byte, 1)
	if _, err := file.ReadAt(buf, info.Size()-1); err != nil {
		return false, fmt.Errorf("columnar: read manifest tail: %w", err)
	}
	return buf[0] == '\n', nil
}
