package dataset

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// Table is a parsed source file: header-keyed rows plus a digest of the raw bytes.
type Table struct {
	Rows []map[string]string
	Hash string
}

// Source produces parsed tables for dataset file paths.
type Source interface {
	Read(ctx context.Context, path string) (*Table, error)
}

// NewSource returns an HTTP source when root is a URL and a file source otherwise.
func NewSource(root string) Source {
	if strings.HasPrefix(root, "http://") || strings.HasPrefix(root, "https://") {
		return &HTTPSource{BaseURL: root, Client: http.DefaultClient}
	}
	return &FileSource{Root: root}
}

// FileSource reads CSV files relative to Root.
type FileSource struct {
	Root string
}

func (s *FileSource) Read(_ context.Context, path string) (*Table, error) {
	data, err := os.ReadFile(filepath.Join(s.Root, path))
	if err != nil {
		return nil, err
	}
	return ParseCSV(data)
}

// HTTPSource fetches CSV files relative to BaseURL, bypassing caches.
type HTTPSource struct {
	BaseURL string
	Client  *http.Client
}

func (s *HTTPSource) Read(ctx context.Context, path string) (*Table, error) {
	u, err := url.JoinPath(s.BaseURL, path)
	if err != nil {
		return nil, fmt.Errorf("build url: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Cache-Control", "no-store")
	resp, err := s.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: status %d", u, resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", u, err)
	}
	return ParseCSV(data)
}

// ParseCSV parses data with a header row. Blank lines are skipped and short
// rows leave missing columns empty.
func ParseCSV(data []byte) (*Table, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, errors.New("empty file: missing header row")
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(header[i], "\ufeff"))
	}

	var rows []map[string]string
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row %d: %w", len(rows)+2, err)
		}
		row := make(map[string]string, len(header))
		for i, col := range header {
			if i < len(rec) {
				row[col] = rec[i]
			}
		}
		rows = append(rows, row)
	}

	sum := sha256.Sum256(data)
	return &Table{Rows: rows, Hash: hex.EncodeToString(sum[:])}, nil
}
