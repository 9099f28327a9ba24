package client

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/fruitsalade/dropbox/internal/metrics"
	"github.com/fruitsalade/dropbox/pkg/cache"
	"github.com/fruitsalade/dropbox/pkg/models"
	"github.com/fruitsalade/dropbox/pkg/protocol"
)

// Memoized caches the results of read operations in a cache.Store. Writes
// pass through and drop every key it stored. It is not safe for concurrent
// use.
type Memoized struct {
	ops     Operations
	store   cache.Store
	enabled bool
	keys    map[string]struct{}
}

var _ Operations = (*Memoized)(nil)

// NewMemoized wraps ops. A nil store gets an unbounded in-memory store.
func NewMemoized(ops Operations, store cache.Store) *Memoized {
	if store == nil {
		store = cache.New(0)
	}
	return &Memoized{
		ops:     ops,
		store:   store,
		enabled: true,
		keys:    make(map[string]struct{}),
	}
}

// Enable turns caching on.
func (m *Memoized) Enable() {
	m.enabled = true
}

// Disable turns caching off and forgets every stored result.
func (m *Memoized) Disable() {
	m.enabled = false
	m.Flush()
}

// Enabled reports whether caching is on.
func (m *Memoized) Enabled() bool {
	return m.enabled
}

// Flush deletes every key stored through m.
func (m *Memoized) Flush() {
	for key := range m.keys {
		m.store.Delete(key)
	}
	m.keys = make(map[string]struct{})
	if mem, ok := m.store.(*cache.Memory); ok {
		metrics.SetMemoEntries(mem.Len())
	}
}

// Entry returns a façade for path backed by the memoized operations.
func (m *Memoized) Entry(path string) *Entry {
	return NewEntry(m, path)
}

// sessionDefaults is implemented by operations whose default root and
// scheme can change between calls.
type sessionDefaults interface {
	Mode() Mode
	SSL() bool
}

// scope renders the wrapped operations' current defaults so results fetched
// under another mode or scheme are not reused.
func (m *Memoized) scope() string {
	d, ok := m.ops.(sessionDefaults)
	if !ok {
		return ""
	}
	return fmt.Sprintf("%s/%t", d.Mode(), d.SSL())
}

// memoKey hashes the operation name, the session scope and the normalized
// arguments.
func memoKey(op, scope string, args []string, opts []Option) string {
	h := sha256.New()
	h.Write([]byte(op))
	h.Write([]byte{0})
	h.Write([]byte(scope))
	for _, a := range args {
		h.Write([]byte{0})
		h.Write([]byte(a))
	}
	h.Write([]byte{0})
	h.Write([]byte(applyOptions(opts).key()))
	return hex.EncodeToString(h.Sum(nil))
}

func memoize[T any](m *Memoized, op string, args []string, opts []Option, compute func() (T, error)) (T, error) {
	if !m.enabled {
		return compute()
	}
	key := memoKey(op, m.scope(), args, opts)
	hit := true
	v, err := m.store.Fetch(key, func() (interface{}, error) {
		hit = false
		return compute()
	})
	metrics.RecordMemoLookup(op, hit)
	if err != nil {
		var zero T
		return zero, err
	}
	m.keys[key] = struct{}{}
	if mem, ok := m.store.(*cache.Memory); ok {
		metrics.SetMemoEntries(mem.Len())
	}

	out, ok := v.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("memo: cached %s value has type %T", op, v)
	}
	return out, nil
}

func pathArg(p string) string {
	return strings.Trim(p, "/")
}

func (m *Memoized) Account(ctx context.Context, opts ...Option) (*models.Account, error) {
	return memoize(m, "account", nil, opts, func() (*models.Account, error) {
		return m.ops.Account(ctx, opts...)
	})
}

func (m *Memoized) Download(ctx context.Context, path string, opts ...Option) ([]byte, error) {
	return memoize(m, "download", []string{pathArg(path)}, opts, func() ([]byte, error) {
		return m.ops.Download(ctx, path, opts...)
	})
}

func (m *Memoized) Thumbnail(ctx context.Context, path string, opts ...Option) ([]byte, error) {
	return memoize(m, "thumbnail", []string{pathArg(path)}, opts, func() ([]byte, error) {
		return m.ops.Thumbnail(ctx, path, opts...)
	})
}

func (m *Memoized) Link(ctx context.Context, path string, opts ...Option) (string, error) {
	return memoize(m, "link", []string{pathArg(path)}, opts, func() (string, error) {
		return m.ops.Link(ctx, path, opts...)
	})
}

func (m *Memoized) Metadata(ctx context.Context, path string, opts ...Option) (*models.Metadata, error) {
	return memoize(m, "metadata", []string{pathArg(path)}, opts, func() (*models.Metadata, error) {
		return m.ops.Metadata(ctx, path, opts...)
	})
}

func (m *Memoized) List(ctx context.Context, path string, opts ...Option) ([]*models.Metadata, error) {
	return memoize(m, "list", []string{pathArg(path)}, opts, func() ([]*models.Metadata, error) {
		return m.ops.List(ctx, path, opts...)
	})
}

// Writes and event lookups are never cached.

func (m *Memoized) Upload(ctx context.Context, src UploadSource, remoteDir string, opts ...Option) (*models.Metadata, error) {
	return written(m, func() (*models.Metadata, error) { return m.ops.Upload(ctx, src, remoteDir, opts...) })
}

func (m *Memoized) Copy(ctx context.Context, src, dst string, opts ...Option) (*models.Metadata, error) {
	return written(m, func() (*models.Metadata, error) { return m.ops.Copy(ctx, src, dst, opts...) })
}

func (m *Memoized) Move(ctx context.Context, src, dst string, opts ...Option) (*models.Metadata, error) {
	return written(m, func() (*models.Metadata, error) { return m.ops.Move(ctx, src, dst, opts...) })
}

func (m *Memoized) Rename(ctx context.Context, path, newName string, opts ...Option) (*models.Metadata, error) {
	return written(m, func() (*models.Metadata, error) { return m.ops.Rename(ctx, path, newName, opts...) })
}

func (m *Memoized) CreateFolder(ctx context.Context, path string, opts ...Option) (*models.Metadata, error) {
	return written(m, func() (*models.Metadata, error) { return m.ops.CreateFolder(ctx, path, opts...) })
}

func (m *Memoized) Delete(ctx context.Context, path string, opts ...Option) (bool, error) {
	return written(m, func() (bool, error) { return m.ops.Delete(ctx, path, opts...) })
}

func (m *Memoized) EventMetadata(ctx context.Context, payload string, opts ...Option) (protocol.EventMetadataResponse, error) {
	return m.ops.EventMetadata(ctx, payload, opts...)
}

func (m *Memoized) EventContent(ctx context.Context, id string, opts ...Option) ([]byte, map[string]interface{}, error) {
	return m.ops.EventContent(ctx, id, opts...)
}

func written[T any](m *Memoized, op func() (T, error)) (T, error) {
	v, err := op()
	if err == nil {
		m.Flush()
	}
	return v, err
}
