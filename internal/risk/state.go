package risk

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"GapPullback/internal/model"
)

// Book is the on-disk snapshot of one trading day's positions.
type Book struct {
	Date      string           `json:"date"`
	Positions []model.Position `json:"positions"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// LoadBook reads a book from a JSON file. Returns an empty book if the file doesn't exist.
func LoadBook(path string) (*Book, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Book{}, nil
		}
		return nil, err
	}
	var b Book
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// SaveBook writes b through a temp file and rename so readers never see a torn file.
func SaveBook(path string, b *Book) error {
	b.UpdatedAt = time.Now()
	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
