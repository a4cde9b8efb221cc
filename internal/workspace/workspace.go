// Package workspace names and cleans the temporary audio files of a turn.
package workspace

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

type Workspace struct {
	dir    string
	now    func() time.Time
	logger *slog.Logger
}

func New(dir string, logger *slog.Logger) *Workspace {
	if logger == nil {
		logger = slog.Default()
	}
	return &Workspace{dir: dir, now: time.Now, logger: logger}
}

// Turn holds the files of one voice turn. A path is reserved when it is
// first asked for; nothing is created on disk by the Turn itself.
type Turn struct {
	base   string
	files  []string
	logger *slog.Logger
}

// Begin creates the temp dir if needed and returns the file set for a message.
// Names derive from the user and message id so two messages never collide.
func (w *Workspace) Begin(username string, messageID int) (*Turn, error) {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to ensure temp dir: %w", err)
	}
	name := fmt.Sprintf("%s-%010d", filepath.Base(username), messageID)
	return &Turn{base: filepath.Join(w.dir, name), logger: w.logger}, nil
}

func (t *Turn) reserve(suffix string) string {
	p := t.base + suffix
	for _, f := range t.files {
		if f == p {
			return p
		}
	}
	t.files = append(t.files, p)
	return p
}

// Input is the downloaded voice message.
func (t *Turn) Input() string { return t.reserve(".oga") }

// Intermediate is the transcription input; ext is given without the dot.
func (t *Turn) Intermediate(ext string) string { return t.reserve("." + ext) }

// ReplyWAV is the synthesized speech.
func (t *Turn) ReplyWAV() string { return t.reserve("_response.wav") }

// ReplyVoice is the encoded voice reply.
func (t *Turn) ReplyVoice() string { return t.reserve("_response.ogg") }

// Files lists the reserved paths.
func (t *Turn) Files() []string { return append([]string(nil), t.files...) }

// Cleanup removes every reserved file that exists.
func (t *Turn) Cleanup() {
	for _, f := range t.files {
		if err := os.Remove(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			t.logger.Warn("failed to cleanup temp file", "file", f, "err", err)
		}
	}
}

// Sweep deletes regular files in the temp dir older than maxAge and returns
// how many were removed. It catches leftovers of a crashed process.
func (w *Workspace) Sweep(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(w.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read temp dir: %w", err)
	}
	cutoff := w.now().Add(-maxAge)
	removed := 0
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		p := filepath.Join(w.dir, e.Name())
		if err := os.Remove(p); err != nil {
			w.logger.Warn("failed to sweep temp file", "file", p, "err", err)
			continue
		}
		removed++
	}
	return removed, nil
}
