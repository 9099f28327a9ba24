package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fruitsalade/dropbox/pkg/client"
	"github.com/fruitsalade/dropbox/pkg/models"
)

// Kinds of data a revision loads lazily.
const (
	KindMetadata = "metadata"
	KindContent  = "content"
)

// Attribute names in revision metadata.
const (
	AttrPath    = "path"
	AttrLatest  = "latest"
	AttrIsDir   = "is_dir"
	AttrMtime   = "mtime"
	AttrSize    = "size"
	AttrError   = "error"
	AttrDeleted = "is_deleted"
)

// ErrUnknownAttribute is returned by Revision.Attr for names the metadata
// does not carry.
var ErrUnknownAttribute = errors.New("unknown revision attribute")

// NotLoadedError is returned by revision accessors whose data has not been
// fetched yet.
type NotLoadedError struct {
	Kind string
}

func (e *NotLoadedError) Error() string {
	if e.Kind == KindContent {
		return "revision content not loaded; call Load first"
	}
	return "revision metadata not loaded; call Event.LoadMetadata or Load first"
}

// ContentSource downloads one revision.
type ContentSource interface {
	EventContent(ctx context.Context, id string, opts ...client.Option) ([]byte, map[string]interface{}, error)
}

// MetadataFetcher looks up current metadata for a path.
type MetadataFetcher interface {
	Metadata(ctx context.Context, path string, opts ...client.Option) (*models.Metadata, error)
}

// Revision is one (user, namespace, journal) entry of a pingback.
type Revision struct {
	UserID      int64
	NamespaceID int64
	JournalID   int64

	mu            sync.RWMutex
	metadata      map[string]interface{}
	content       []byte
	contentLoaded bool
	errValue      interface{}
}

// Identifier returns "user:namespace:journal", the form the server expects
// in target_event.
func (r *Revision) Identifier() string {
	return fmt.Sprintf("%d:%d:%d", r.UserID, r.NamespaceID, r.JournalID)
}

func (r *Revision) String() string { return r.Identifier() }

// Load downloads the revision's content along with its metadata.
func (r *Revision) Load(ctx context.Context, src ContentSource, opts ...client.Option) error {
	body, meta, err := src.EventContent(ctx, r.Identifier(), opts...)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.content = body
	r.contentLoaded = true
	r.metadata = normalizeAttrs(meta)
	r.errValue = nil
	return nil
}

// ProcessMetadata applies one entry of an event metadata response. An entry
// carrying an "error" attribute is recorded only while no metadata is loaded;
// an error never replaces good metadata. A good entry clears any recorded
// error and replaces the metadata.
func (r *Revision) ProcessMetadata(attrs map[string]interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := attrs[AttrError]; ok && isTruthy(e) {
		if r.metadata == nil {
			r.errValue = e
		}
		return
	}
	r.errValue = nil
	r.metadata = normalizeAttrs(attrs)
}

func isTruthy(v interface{}) bool {
	if v == nil {
		return false
	}
	if b, ok := v.(bool); ok {
		return b
	}
	return true
}

func normalizeAttrs(attrs map[string]interface{}) map[string]interface{} {
	if attrs == nil {
		return map[string]interface{}{}
	}
	m, _ := models.Normalize(attrs).(map[string]interface{})
	return m
}

// HasError reports whether the last metadata attempt failed.
func (r *Revision) HasError() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.errValue != nil
}

// ErrorCode returns the HTTP status the server reported for this revision,
// or 0 when there is none.
func (r *Revision) ErrorCode() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, _ := models.Int64(r.errValue)
	return n
}

// MetadataLoaded reports whether attributes are available.
func (r *Revision) MetadataLoaded() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.metadata != nil
}

// ContentLoaded reports whether Load has succeeded.
func (r *Revision) ContentLoaded() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.contentLoaded
}

func (r *Revision) attr(name string) (interface{}, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.metadata == nil {
		return nil, false, &NotLoadedError{Kind: KindMetadata}
	}
	v, ok := r.metadata[name]
	return v, ok, nil
}

// Attr returns a raw metadata attribute.
func (r *Revision) Attr(name string) (interface{}, error) {
	v, ok, err := r.attr(name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAttribute, name)
	}
	return v, nil
}

// Attrs returns a copy of the loaded metadata.
func (r *Revision) Attrs() (map[string]interface{}, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.metadata == nil {
		return nil, &NotLoadedError{Kind: KindMetadata}
	}
	out := make(map[string]interface{}, len(r.metadata))
	for k, v := range r.metadata {
		out[k] = v
	}
	return out, nil
}

// Path returns the path of the file this revision belongs to.
func (r *Revision) Path() (string, error) {
	v, _, err := r.attr(AttrPath)
	if err != nil {
		return "", err
	}
	s, _ := v.(string)
	return s, nil
}

// Latest reports whether this is the file's most recent revision.
func (r *Revision) Latest() (bool, error) {
	v, _, err := r.attr(AttrLatest)
	return models.Bool(v), err
}

// Directory reports whether the revision is of a folder.
func (r *Revision) Directory() (bool, error) {
	v, _, err := r.attr(AttrIsDir)
	return models.Bool(v), err
}

// Modified returns the revision's modification time, nil for deletions.
func (r *Revision) Modified() (*time.Time, error) {
	v, _, err := r.attr(AttrMtime)
	if err != nil {
		return nil, err
	}
	t, _ := v.(*time.Time)
	return t, nil
}

// Size returns the revision's size in bytes, nil for deletions.
func (r *Revision) Size() (*int64, error) {
	v, _, err := r.attr(AttrSize)
	if err != nil {
		return nil, err
	}
	n, ok := models.Int64(v)
	if !ok {
		return nil, nil
	}
	return &n, nil
}

// Deleted reports whether the revision records a deletion. The server marks
// deletions with is_deleted or with a size of -1.
func (r *Revision) Deleted() (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.metadata == nil {
		return false, &NotLoadedError{Kind: KindMetadata}
	}
	if models.Bool(r.metadata[AttrDeleted]) {
		return true, nil
	}
	size, ok := r.metadata[AttrSize]
	return ok && size == nil, nil
}

// Content returns the body fetched by Load. Folders have no content.
func (r *Revision) Content() ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.contentLoaded {
		return nil, &NotLoadedError{Kind: KindContent}
	}
	return r.content, nil
}

// MetadataForLatestRevision fetches the current metadata of the revision's
// path, which may be newer than this revision.
func (r *Revision) MetadataForLatestRevision(ctx context.Context, src MetadataFetcher, opts ...client.Option) (*models.Metadata, error) {
	p, err := r.Path()
	if err != nil {
		return nil, err
	}
	return src.Metadata(ctx, p, opts...)
}
