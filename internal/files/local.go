// Package files stores budget attachments on the local disk and serves them
// under a public URL prefix.
//
// The content type is sniffed from the bytes with mimetype rather than taken
// from the client, and only PDF, JPEG and PNG files are accepted.
package files

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"github.com/tbourn/go-budget-backend/internal/domain"
)

// DefaultMaxBytes is the largest accepted attachment (5 MiB).
const DefaultMaxBytes int64 = 5 << 20

var (
	// ErrTooLarge is returned when an upload exceeds the size limit.
	ErrTooLarge = errors.New("file exceeds the maximum allowed size")
	// ErrUnsupportedType is returned for anything other than PDF, JPEG or PNG.
	ErrUnsupportedType = errors.New("only PDF, JPEG and PNG files are allowed")
	// ErrInvalidName is returned for stored names that are not plain file names.
	ErrInvalidName = errors.New("invalid stored file name")
)

// allowed maps accepted MIME types to the extension used on disk.
var allowed = map[string]string{
	"application/pdf": ".pdf",
	"image/jpeg":      ".jpg",
	"image/png":       ".png",
}

// LocalStore keeps attachments in Dir and exposes them at BaseURL.
type LocalStore struct {
	Dir      string
	BaseURL  string
	MaxBytes int64
}

// NewLocalStore creates dir if needed. baseURL is the public prefix files are
// served from, e.g. "http://localhost:8080/uploads".
func NewLocalStore(dir, baseURL string, maxBytes int64) (*LocalStore, error) {
	if dir == "" {
		return nil, errors.New("upload dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &LocalStore{Dir: dir, BaseURL: strings.TrimRight(baseURL, "/"), MaxBytes: maxBytes}, nil
}

// Save validates r and writes it under a fresh random name. The returned
// attachment is ready to be stored on a budget.
func (s *LocalStore) Save(ctx context.Context, originalName string, r io.Reader) (domain.Attachment, error) {
	data, err := io.ReadAll(io.LimitReader(r, s.MaxBytes+1))
	if err != nil {
		return domain.Attachment{}, err
	}
	if int64(len(data)) > s.MaxBytes {
		return domain.Attachment{}, ErrTooLarge
	}
	if err := ctx.Err(); err != nil {
		return domain.Attachment{}, err
	}

	mt := mimetype.Detect(data)
	ext := ""
	for m := mt; m != nil; m = m.Parent() {
		if e, ok := allowed[m.String()]; ok {
			ext = e
			break
		}
	}
	if ext == "" {
		return domain.Attachment{}, ErrUnsupportedType
	}

	stored := uuid.NewString() + ext
	tmp, err := os.CreateTemp(s.Dir, ".upload-*")
	if err != nil {
		return domain.Attachment{}, err
	}
	if _, err := io.Copy(tmp, bytes.NewReader(data)); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return domain.Attachment{}, err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return domain.Attachment{}, err
	}
	if err := os.Rename(tmp.Name(), filepath.Join(s.Dir, stored)); err != nil {
		os.Remove(tmp.Name())
		return domain.Attachment{}, err
	}

	mime := mt.String()
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = mime[:i]
	}
	return domain.Attachment{
		OriginalName: filepath.Base(originalName),
		StoredName:   stored,
		MimeType:     mime,
		Size:         int64(len(data)),
		URL:          s.BaseURL + "/" + stored,
	}, nil
}

// Remove deletes a stored file. Missing files are not an error.
func (s *LocalStore) Remove(_ context.Context, storedName string) error {
	p, err := s.Path(storedName)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Path returns the on-disk path of storedName, rejecting anything that is
// not a bare file name.
func (s *LocalStore) Path(storedName string) (string, error) {
	if storedName == "" || storedName != filepath.Base(storedName) || strings.HasPrefix(storedName, ".") {
		return "", ErrInvalidName
	}
	return filepath.Join(s.Dir, storedName), nil
}
