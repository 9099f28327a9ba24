package client

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"path"

	"github.com/disintegration/imaging"
	"github.com/hashicorp/go-multierror"
	"github.com/spf13/afero"

	"github.com/fruitsalade/dropbox/pkg/models"
)

// Entry is a file or folder addressed by path. It caches the metadata it
// fetches and, on request, a local temporary copy of the file. Entries are
// not safe for concurrent use.
type Entry struct {
	ops      Operations
	path     string
	metadata *models.Metadata

	fs   afero.Fs
	file afero.File
}

// NewEntry creates an entry for path. No request is made.
func NewEntry(ops Operations, p string) *Entry {
	return &Entry{ops: ops, path: p, fs: afero.NewOsFs()}
}

// EntryFromMetadata creates an entry pre-seeded with m.
func EntryFromMetadata(ops Operations, m *models.Metadata) *Entry {
	e := NewEntry(ops, m.RelativePath())
	e.metadata = m
	return e
}

// WithFs sets the filesystem temporary files are written to.
func (e *Entry) WithFs(fs afero.Fs) *Entry {
	e.fs = fs
	return e
}

// Path returns the current path.
func (e *Entry) Path() string {
	return e.path
}

// Name returns the last element of the path.
func (e *Entry) Name() string {
	return path.Base(NormalizeDirPath(e.path))
}

// CachedMetadata returns the cached metadata without fetching.
func (e *Entry) CachedMetadata() *models.Metadata {
	return e.metadata
}

// SetMetadata replaces the cached metadata.
func (e *Entry) SetMetadata(m *models.Metadata) {
	e.metadata = m
}

// Metadata returns the cached metadata, fetching it when absent. Force
// refetches without a prior response; IgnoreCache refetches sending the
// cached result as the prior response.
func (e *Entry) Metadata(ctx context.Context, opts ...Option) (*models.Metadata, error) {
	o := applyOptions(opts)
	if e.metadata != nil && !o.force && !o.ignoreCache {
		return e.metadata, nil
	}
	if o.force {
		return e.fetch(ctx, nil, opts)
	}
	return e.fetch(ctx, e.metadata, opts)
}

// UpdateMetadata always fetches, sending the cached result as the prior
// response unless Force is given.
func (e *Entry) UpdateMetadata(ctx context.Context, opts ...Option) (*models.Metadata, error) {
	o := applyOptions(opts)
	if o.force {
		return e.fetch(ctx, nil, opts)
	}
	return e.fetch(ctx, e.metadata, opts)
}

func (e *Entry) fetch(ctx context.Context, prior *models.Metadata, opts []Option) (*models.Metadata, error) {
	if prior != nil {
		opts = append(append([]Option(nil), opts...), WithPriorResponse(prior))
	}
	m, err := e.ops.Metadata(ctx, e.path, opts...)
	if err != nil {
		return nil, err
	}
	e.metadata = m
	return m, nil
}

// Directory reports whether the entry is a folder, fetching metadata if
// needed.
func (e *Entry) Directory(ctx context.Context) (bool, error) {
	m, err := e.Metadata(ctx)
	if err != nil {
		return false, err
	}
	return m.Directory(), nil
}

// List refreshes the folder's metadata with its listing and returns the
// children as entries seeded with their metadata. A cached listing is sent
// as the prior response unless Force is given.
func (e *Entry) List(ctx context.Context, opts ...Option) ([]*Entry, error) {
	o := applyOptions(opts)
	var prior *models.Metadata
	if e.metadata != nil && e.metadata.Listed && !o.force {
		prior = e.metadata
	}
	m, err := e.fetch(ctx, prior, append(append([]Option(nil), opts...), withListing()))
	if err != nil {
		return nil, err
	}
	if !m.Directory() {
		return nil, ErrNotADirectory
	}

	children := make([]*Entry, 0, len(m.Contents))
	for _, child := range m.Contents {
		children = append(children, EntryFromMetadata(e.ops, child).WithFs(e.fs))
	}
	return children, nil
}

// File downloads the entry into a temporary file and returns it positioned
// at the start. The file is cached until Force is given or Close is called.
func (e *Entry) File(ctx context.Context, opts ...Option) (afero.File, error) {
	o := applyOptions(opts)
	if e.file != nil && !o.force {
		if _, err := e.file.Seek(0, io.SeekStart); err != nil {
			return nil, err
		}
		return e.file, nil
	}
	if err := e.removeFile(); err != nil {
		return nil, err
	}

	dir, err := e.Directory(ctx)
	if err != nil {
		return nil, err
	}
	if dir {
		return nil, ErrNotAFile
	}

	data, err := e.ops.Download(ctx, e.path, opts...)
	if err != nil {
		return nil, err
	}

	f, err := afero.TempFile(e.fs, "", "dropbox-*-"+e.Name())
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		e.fs.Remove(f.Name())
		return nil, fmt.Errorf("write temp file: %w", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		f.Close()
		e.fs.Remove(f.Name())
		return nil, err
	}
	e.file = f
	return f, nil
}

func (e *Entry) removeFile() error {
	if e.file == nil {
		return nil
	}
	var result *multierror.Error
	name := e.file.Name()
	if err := e.file.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := e.fs.Remove(name); err != nil {
		result = multierror.Append(result, err)
	}
	e.file = nil
	return result.ErrorOrNil()
}

// Close releases the temporary file, if any.
func (e *Entry) Close() error {
	return e.removeFile()
}

// CloseAll closes every entry and aggregates the failures.
func CloseAll(entries []*Entry) error {
	var result *multierror.Error
	for _, e := range entries {
		if err := e.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", e.path, err))
		}
	}
	return result.ErrorOrNil()
}

// Move moves the entry to dst. The path is taken from the server's answer.
func (e *Entry) Move(ctx context.Context, dst string, opts ...Option) (*models.Metadata, error) {
	m, err := e.ops.Move(ctx, e.path, dst, opts...)
	if err != nil {
		return nil, err
	}
	e.path = m.RelativePath()
	e.metadata = m
	return m, nil
}

// Rename renames the entry in place. The path is taken from the server's
// answer.
func (e *Entry) Rename(ctx context.Context, newName string, opts ...Option) (*models.Metadata, error) {
	m, err := e.ops.Rename(ctx, e.path, newName, opts...)
	if err != nil {
		return nil, err
	}
	e.path = m.RelativePath()
	e.metadata = m
	return m, nil
}

// Copy copies the entry to dst and returns an entry for the copy.
func (e *Entry) Copy(ctx context.Context, dst string, opts ...Option) (*Entry, error) {
	m, err := e.ops.Copy(ctx, e.path, dst, opts...)
	if err != nil {
		return nil, err
	}
	return EntryFromMetadata(e.ops, m).WithFs(e.fs), nil
}

// Delete removes the entry and drops the cached metadata.
func (e *Entry) Delete(ctx context.Context, opts ...Option) (bool, error) {
	ok, err := e.ops.Delete(ctx, e.path, opts...)
	if err != nil {
		return false, err
	}
	e.metadata = nil
	return ok, nil
}

// Download returns the file contents.
func (e *Entry) Download(ctx context.Context, opts ...Option) ([]byte, error) {
	return e.ops.Download(ctx, e.path, opts...)
}

// Thumbnail returns the encoded thumbnail, or nil when there is none.
func (e *Entry) Thumbnail(ctx context.Context, opts ...Option) ([]byte, error) {
	return e.ops.Thumbnail(ctx, e.path, opts...)
}

// ThumbnailImage decodes the thumbnail. It returns nil when there is none.
func (e *Entry) ThumbnailImage(ctx context.Context, opts ...Option) (image.Image, error) {
	data, err := e.Thumbnail(ctx, opts...)
	if err != nil || data == nil {
		return nil, err
	}
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode thumbnail: %w", err)
	}
	return img, nil
}

// Link returns a shareable URL.
func (e *Entry) Link(ctx context.Context, opts ...Option) (string, error) {
	return e.ops.Link(ctx, e.path, opts...)
}
