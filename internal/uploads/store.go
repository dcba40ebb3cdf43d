// Package uploads stores uploaded sequence artifacts under opaque tokens
// until a session consumes and deletes them.
package uploads

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"seqscope/go-backend/internal/seqio"
)

var ErrArtifactNotFound = errors.New("upload artifact not found")

// acceptedExtensions is the lookup order; first match wins.
var acceptedExtensions = []string{"fastq", "fasta", "fa", "fq"}

// Artifact is a stored upload resolved by token.
type Artifact struct {
	Token    string
	Path     string
	Filename string
	Format   seqio.Format
}

type Store struct {
	dir string
}

func NewStore(dir string) (*Store, error) {
	if dir == "" {
		return nil, errors.New("upload directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Save writes the uploaded byte stream under a fresh token, keyed by the
// client-declared type. Unknown declared types fall back to fastq, the
// original intake default.
func (s *Store) Save(declaredType string, r io.Reader) (string, error) {
	ext := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(declaredType), "."))
	if _, ok := seqio.FormatForExtension(ext); !ok {
		ext = "fastq"
	}
	token := uuid.NewString()

	fh, err := os.Create(filepath.Join(s.dir, token+"."+ext))
	if err != nil {
		return "", fmt.Errorf("store upload: %w", err)
	}
	if _, err := io.Copy(fh, r); err != nil {
		_ = fh.Close()
		_ = os.Remove(fh.Name())
		return "", fmt.Errorf("store upload: %w", err)
	}
	if err := fh.Close(); err != nil {
		return "", fmt.Errorf("store upload: %w", err)
	}
	return token, nil
}

// Lookup resolves a token against the accepted extensions, first match
// wins. A malformed token never escapes the upload directory.
func (s *Store) Lookup(token string) (Artifact, bool) {
	if !validToken(token) {
		return Artifact{}, false
	}
	for _, ext := range acceptedExtensions {
		name := token + "." + ext
		path := filepath.Join(s.dir, name)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		format, _ := seqio.FormatForExtension(ext)
		return Artifact{Token: token, Path: path, Filename: name, Format: format}, true
	}
	return Artifact{}, false
}

// Remove deletes every stored variant of the token. Removing twice, or
// removing a token that was never stored, is a no-op.
func (s *Store) Remove(token string) {
	if !validToken(token) {
		return
	}
	for _, ext := range acceptedExtensions {
		_ = os.Remove(filepath.Join(s.dir, token+"."+ext))
	}
}

func validToken(token string) bool {
	if token == "" || token == "." {
		return false
	}
	return !strings.ContainsAny(token, "/\\")
}
