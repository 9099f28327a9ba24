package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/fruitsalade/dropbox/pkg/client"
	"github.com/fruitsalade/dropbox/pkg/models"
	"github.com/fruitsalade/dropbox/pkg/protocol"
)

func identifiers(revs []*Revision) []string {
	out := make([]string, len(revs))
	for i, r := range revs {
		out[i] = r.Identifier()
	}
	return out
}

func TestParse(t *testing.T) {
	ev, err := Parse(`{"2": {"20": [7]}, "1": {"11": [102], "10": [100, 101, 100]}}`)
	require.NoError(t, err)

	assert.Equal(t, []int64{1, 2}, ev.UserIDs())
	assert.Equal(t, []string{"1:10:100", "1:10:101", "1:11:102", "2:20:7"}, identifiers(ev.Entries()))
	assert.Equal(t, []string{"2:20:7"}, identifiers(ev.EntriesFor(2)))

	rev, ok := ev.Lookup(1, 10, 101)
	require.True(t, ok)
	assert.Same(t, ev.EntriesFor(1)[1], rev)
	assert.False(t, rev.MetadataLoaded())
	assert.False(t, rev.ContentLoaded())
}

func TestParse_SinglePayload(t *testing.T) {
	ev, err := Parse(`{"1":{"10":[100,101]}}`)
	require.NoError(t, err)

	assert.Equal(t, []string{"1:10:100", "1:10:101"}, identifiers(ev.Entries()))
	assert.Empty(t, ev.EntriesFor(2))
	assert.NotNil(t, ev.EntriesFor(2))
}

func TestEntriesForReturnsCopy(t *testing.T) {
	ev, err := Parse(`{"1":{"10":[100,101]}}`)
	require.NoError(t, err)

	got := ev.EntriesFor(1)
	got[0] = nil
	assert.NotNil(t, ev.EntriesFor(1)[0])
}

func TestParse_Invalid(t *testing.T) {
	tests := map[string]string{
		"not json":         `{"1":`,
		"not an object":    `[1, 2]`,
		"string journal":   `{"1": {"10": ["a"]}}`,
		"non-numeric user": `{"bob": {"10": [1]}}`,
		"non-numeric ns":   `{"1": {"home": [1]}}`,
	}
	for name, payload := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(payload)
			assert.ErrorIs(t, err, ErrInvalidPingback)
			var pe *client.ParseError
			assert.ErrorAs(t, err, &pe)
		})
	}
}

type fakeSource struct {
	metadata protocol.EventMetadataResponse
	err      error
	payload  string

	content    []byte
	contentMD  map[string]interface{}
	contentIDs []string

	paths []string
}

func (f *fakeSource) EventMetadata(ctx context.Context, payload string, opts ...client.Option) (protocol.EventMetadataResponse, error) {
	f.payload = payload
	return f.metadata, f.err
}

func (f *fakeSource) EventContent(ctx context.Context, id string, opts ...client.Option) ([]byte, map[string]interface{}, error) {
	f.contentIDs = append(f.contentIDs, id)
	if f.err != nil {
		return nil, nil, f.err
	}
	return f.content, f.contentMD, nil
}

func (f *fakeSource) Metadata(ctx context.Context, path string, opts ...client.Option) (*models.Metadata, error) {
	f.paths = append(f.paths, path)
	return &models.Metadata{Path: path, Rev: "latest"}, nil
}

func TestLoadMetadata(t *testing.T) {
	ev, err := Parse(`{"1":{"10":[100,101]}}`)
	require.NoError(t, err)
	ev.WithLogger(zaptest.NewLogger(t))

	src := &fakeSource{metadata: protocol.EventMetadataResponse{
		"1": {"10": {
			"100": {"path": "/a.txt", "latest": true, "is_dir": false, "size": int64(12), "mtime": int64(1300000000)},
			"101": {"error": int64(403)},
			"999": {"path": "/unknown"},
		}},
	}}
	require.NoError(t, ev.LoadMetadata(context.Background(), src))
	assert.Equal(t, `{"1":{"10":[100,101]}}`, src.payload)

	a, _ := ev.Lookup(1, 10, 100)
	p, err := a.Path()
	require.NoError(t, err)
	assert.Equal(t, "/a.txt", p)
	latest, err := a.Latest()
	require.NoError(t, err)
	assert.True(t, latest)
	size, err := a.Size()
	require.NoError(t, err)
	require.NotNil(t, size)
	assert.Equal(t, int64(12), *size)
	mod, err := a.Modified()
	require.NoError(t, err)
	require.NotNil(t, mod)
	assert.True(t, mod.Equal(time.Unix(1300000000, 0)))

	b, _ := ev.Lookup(1, 10, 101)
	assert.True(t, b.HasError())
	assert.Equal(t, int64(403), b.ErrorCode())
	assert.False(t, b.MetadataLoaded())
	_, err = b.Path()
	var nle *NotLoadedError
	require.ErrorAs(t, err, &nle)
	assert.Equal(t, KindMetadata, nle.Kind)
}

func TestLoadMetadata_Error(t *testing.T) {
	ev, err := Parse(`{"1":{"10":[100]}}`)
	require.NoError(t, err)
	boom := errors.New("boom")

	err = ev.LoadMetadata(context.Background(), &fakeSource{err: boom})
	assert.ErrorIs(t, err, boom)
	assert.False(t, ev.Entries()[0].MetadataLoaded())
}

func TestProcessMetadata_ErrorThenSuccess(t *testing.T) {
	r := &Revision{UserID: 1, NamespaceID: 10, JournalID: 100}

	r.ProcessMetadata(map[string]interface{}{"error": int64(403)})
	assert.True(t, r.HasError())
	assert.False(t, r.MetadataLoaded())

	r.ProcessMetadata(map[string]interface{}{"path": "/a.txt", "size": int64(3)})
	assert.False(t, r.HasError())
	assert.True(t, r.MetadataLoaded())

	// a later error does not discard good metadata
	r.ProcessMetadata(map[string]interface{}{"error": int64(500)})
	assert.False(t, r.HasError())
	p, err := r.Path()
	require.NoError(t, err)
	assert.Equal(t, "/a.txt", p)
}

func TestProcessMetadata_Deletion(t *testing.T) {
	r := &Revision{}
	r.ProcessMetadata(map[string]interface{}{"path": "/gone.txt", "size": int64(-1), "mtime": int64(-1)})

	size, err := r.Size()
	require.NoError(t, err)
	assert.Nil(t, size)
	mod, err := r.Modified()
	require.NoError(t, err)
	assert.Nil(t, mod)
	deleted, err := r.Deleted()
	require.NoError(t, err)
	assert.True(t, deleted)

	v, err := r.Attr("size")
	require.NoError(t, err)
	assert.Nil(t, v)
	_, err = r.Attr("colour")
	assert.ErrorIs(t, err, ErrUnknownAttribute)
}

func TestRevisionAccessorsBeforeLoad(t *testing.T) {
	r := &Revision{}
	var nle *NotLoadedError

	_, err := r.Directory()
	assert.ErrorAs(t, err, &nle)
	_, err = r.Attrs()
	assert.ErrorAs(t, err, &nle)
	_, err = r.Deleted()
	assert.ErrorAs(t, err, &nle)

	_, err = r.Content()
	require.ErrorAs(t, err, &nle)
	assert.Equal(t, KindContent, nle.Kind)
}

func TestRevisionLoad(t *testing.T) {
	r := &Revision{UserID: 1, NamespaceID: 10, JournalID: 100}
	r.ProcessMetadata(map[string]interface{}{"error": int64(404)})

	src := &fakeSource{
		content:   []byte("hello"),
		contentMD: map[string]interface{}{"path": "/a.txt", "is_dir": false, "mtime": "Sat, 21 Aug 2010 22:31:20 +0000"},
	}
	require.NoError(t, r.Load(context.Background(), src))
	assert.Equal(t, []string{"1:10:100"}, src.contentIDs)

	assert.True(t, r.ContentLoaded())
	assert.False(t, r.HasError())
	body, err := r.Content()
	require.NoError(t, err)
	assert.Equal(t, "hello", string(body))
	mod, err := r.Modified()
	require.NoError(t, err)
	require.NotNil(t, mod)
	assert.Equal(t, 2010, mod.UTC().Year())

	latest, err := r.MetadataForLatestRevision(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, "latest", latest.Rev)
	assert.Equal(t, []string{"/a.txt"}, src.paths)
}

func TestRevisionLoadFailure(t *testing.T) {
	r := &Revision{UserID: 1, NamespaceID: 2, JournalID: 3}
	err := r.Load(context.Background(), &fakeSource{err: errors.New("offline")})
	assert.Error(t, err)
	assert.False(t, r.ContentLoaded())
}
