package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
)

// FileRepository reads an extra allow-list from a JSON array of usernames.
type FileRepository struct {
	path string
}

func NewFileRepository(path string) *FileRepository {
	return &FileRepository{path: path}
}

func (r *FileRepository) LoadAll() ([]string, error) {
	f, err := os.Open(r.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	defer func(f *os.File) {
		_ = f.Close()
	}(f)

	var users []string
	if err := json.NewDecoder(f).Decode(&users); err != nil {
		if errors.Is(err, io.EOF) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("decode %s: %w", r.path, err)
	}
	return users, nil
}
