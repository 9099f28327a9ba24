package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/fruitsalade/dropbox/internal/metrics"
	"github.com/fruitsalade/dropbox/pkg/models"
	"github.com/fruitsalade/dropbox/pkg/protocol"
)

// UploadSource resolves to the name and bytes of a file to upload.
type UploadSource interface {
	open() (name string, r io.ReadCloser, err error)
}

type fileSource struct{ f *os.File }

func (s fileSource) open() (string, io.ReadCloser, error) {
	if s.f == nil {
		return "", nil, fmt.Errorf("%w: nil file", ErrInvalidUploadSource)
	}
	// the caller keeps ownership of the handle
	return filepath.Base(s.f.Name()), io.NopCloser(s.f), nil
}

// FromFile uploads an open file under its base name.
func FromFile(f *os.File) UploadSource {
	return fileSource{f: f}
}

type fsSource struct {
	fs   afero.Fs
	path string
}

func (s fsSource) open() (string, io.ReadCloser, error) {
	if s.fs == nil || s.path == "" {
		return "", nil, fmt.Errorf("%w: empty path", ErrInvalidUploadSource)
	}
	f, err := s.fs.Open(s.path)
	if err != nil {
		return "", nil, err
	}
	return filepath.Base(s.path), f, nil
}

// FromPath uploads the local file at path.
func FromPath(path string) UploadSource {
	return fsSource{fs: afero.NewOsFs(), path: path}
}

// FromFs uploads the file at path on fs.
func FromFs(fs afero.Fs, path string) UploadSource {
	return fsSource{fs: fs, path: path}
}

type readerSource struct {
	name string
	r    io.Reader
}

func (s readerSource) open() (string, io.ReadCloser, error) {
	if s.name == "" || s.r == nil {
		return "", nil, fmt.Errorf("%w: reader needs a name", ErrInvalidUploadSource)
	}
	return s.name, io.NopCloser(s.r), nil
}

// FromReader uploads the bytes of r under name.
func FromReader(name string, r io.Reader) UploadSource {
	return readerSource{name: name, r: r}
}

// Upload stores src in the folder remoteDir and returns the new file's
// metadata. The request goes to the content host but is signed against the
// API host, which is what the service expects.
func (s *Session) Upload(ctx context.Context, src UploadSource, remoteDir string, opts ...Option) (*models.Metadata, error) {
	if src == nil {
		return nil, ErrInvalidUploadSource
	}
	o := applyOptions(opts)
	dir, err := cleanPath(remoteDir, true)
	if err != nil {
		return nil, err
	}

	name, r, err := src.open()
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile(protocol.UploadField, name)
	if err != nil {
		return nil, err
	}
	n, err := io.Copy(part, r)
	if err != nil {
		return nil, fmt.Errorf("read upload source: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	c := apiCall{
		method:        http.MethodPost,
		segments:      []string{protocol.EndpointFiles, resolveRoot(s.mode, o), dir},
		body:          body.Bytes(),
		contentType:   mw.FormDataContentType(),
		signCanonical: true,
		signForm:      url.Values{protocol.UploadField: {name}},
	}
	obj, err := s.sendJSON(ctx, o, &c)
	if err != nil {
		return nil, err
	}
	metrics.RecordUpload(n)
	return metadataFrom(obj, &c)
}
