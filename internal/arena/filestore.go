package arena

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"stylist/internal/infra"
)

// FileStore keeps entries as one JSON document per line in a single
// append-only file. O_APPEND keeps whole-line writes atomic on POSIX
// filesystems, so concurrent server instances sharing the file interleave
// lines rather than corrupt them; the mutex only serializes writers
// inside this process.
type FileStore struct {
	path   string
	logger *infra.Logger

	mu sync.Mutex
}

// NewFileStore creates the parent directory if needed and returns a
// store backed by the given path. The file itself is created lazily on
// first append.
func NewFileStore(path string, logger *infra.Logger) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("arena: store path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("arena: create store directory: %w", err)
		}
	}
	if logger == nil {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	return &FileStore{path: path, logger: logger}, nil
}

// Append writes one entry as a JSON line.
func (s *FileStore) Append(ctx context.Context, entry Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("arena: encode entry: %w", err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("arena: open store: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("arena: append entry: %w", err)
	}
	return nil
}

// Leaderboard returns the highest-rated entries, best first. Ties break
// toward the more recent submission. Unreadable lines are skipped, not
// fatal; another writer may be mid-line.
func (s *FileStore) Leaderboard(ctx context.Context, limit int) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	limit = normalizeLimit(limit)

	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return []Entry{}, nil
		}
		return nil, fmt.Errorf("arena: open store: %w", err)
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var entry Entry
		if err := json.Unmarshal(line, &entry); err != nil {
			s.logger.Warn().Err(err).Msg("arena: skipping unreadable entry")
			continue
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("arena: read store: %w", err)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].OverallRating != entries[j].OverallRating {
			return entries[i].OverallRating > entries[j].OverallRating
		}
		return entries[i].CreatedAt.After(entries[j].CreatedAt)
	})
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}
