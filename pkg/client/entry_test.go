package client

import (
	"bytes"
	"context"
	"image/color"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func countRequests(ft *fakeTransport, endpoint string) int {
	n := 0
	for _, r := range ft.requests {
		if strings.Contains(r.URL, "/0/"+endpoint) {
			n++
		}
	}
	return n
}

func TestEntry_MetadataCaching(t *testing.T) {
	s, ft := testSession(t, func(req *Request) *Response {
		return jsonResponse(200, `{"path": "/a.txt", "hash": "h1", "bytes": 3}`)
	})
	e := s.Entry("a.txt")

	_, err := e.Metadata(context.Background())
	require.NoError(t, err)
	m, err := e.Metadata(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "/a.txt", m.Path)
	assert.Len(t, ft.requests, 1)

	_, err = e.Metadata(context.Background(), Force())
	require.NoError(t, err)
	assert.Len(t, ft.requests, 2)
	assert.Empty(t, requestQuery(t, ft.last(t)).Get("hash"))
}

func TestEntry_IgnoreCacheSendsPriorResponse(t *testing.T) {
	status := 200
	s, ft := testSession(t, func(req *Request) *Response {
		return jsonResponse(status, `{"path": "/dir", "hash": "h1", "is_dir": true, "contents": []}`)
	})
	e := s.Entry("dir")

	first, err := e.Metadata(context.Background())
	require.NoError(t, err)

	status = http.StatusNotModified
	again, err := e.Metadata(context.Background(), IgnoreCache())
	require.NoError(t, err)
	assert.Same(t, first, again)
	assert.Equal(t, "h1", requestQuery(t, ft.last(t)).Get("hash"))

	_, err = e.UpdateMetadata(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "h1", requestQuery(t, ft.last(t)).Get("hash"))
	assert.Len(t, ft.requests, 3)
}

func TestEntry_UpdateMetadataForce(t *testing.T) {
	s, ft := testSession(t, func(req *Request) *Response {
		return jsonResponse(200, `{"path": "/a.txt", "hash": "h1"}`)
	})
	e := s.Entry("a.txt")
	_, err := e.Metadata(context.Background())
	require.NoError(t, err)

	_, err = e.UpdateMetadata(context.Background(), Force())
	require.NoError(t, err)
	assert.Len(t, ft.requests, 2)
	assert.Empty(t, requestQuery(t, ft.last(t)).Get("hash"))
}

func TestEntry_MoveThenRenameTracksServerPath(t *testing.T) {
	s, ft := testSession(t, func(req *Request) *Response {
		q := requestQuery(t, req)
		return jsonResponse(200, `{"path": "/`+q.Get("to_path")+` (1)"}`)
	})
	e := s.Entry("old/file.txt")

	_, err := e.Move(context.Background(), "new/path")
	require.NoError(t, err)
	assert.Equal(t, "new/path (1)", e.Path())

	_, err = e.Rename(context.Background(), "x")
	require.NoError(t, err)

	q := requestQuery(t, ft.last(t))
	assert.Equal(t, "new/path (1)", q.Get("from_path"))
	assert.Equal(t, "new/x", q.Get("to_path"))
	assert.Equal(t, "new/x (1)", e.Path())
}

func TestEntry_MoveFailureKeepsPath(t *testing.T) {
	s, _ := testSession(t, func(req *Request) *Response { return jsonResponse(403, `{"error": "exists"}`) })
	e := s.Entry("a.txt")

	_, err := e.Move(context.Background(), "b.txt")
	var fe *FileExistsError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "a.txt", e.Path())
}

func TestEntry_List(t *testing.T) {
	s, ft := testSession(t, func(req *Request) *Response { return jsonResponse(200, folderJSON) })
	e := s.Entry("Photos")

	children, err := e.List(context.Background())
	require.NoError(t, err)
	require.Len(t, children, 2)
	assert.Equal(t, "Photos/a.jpg", children[0].Path())
	assert.Equal(t, 1, countRequests(ft, "metadata"))

	// children are seeded: no extra request
	m, err := children[0].Metadata(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "1f", m.Rev)
	dir, err := children[1].Directory(context.Background())
	require.NoError(t, err)
	assert.True(t, dir)
	assert.Equal(t, 1, countRequests(ft, "metadata"))

	// every List refreshes, offering the cached listing as the prior response
	_, err = e.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, countRequests(ft, "metadata"))
	assert.Equal(t, "37eb1ba1849d4b0fb0b28caf7ef3af52", requestQuery(t, ft.last(t)).Get("hash"))

	_, err = e.List(context.Background(), Force())
	require.NoError(t, err)
	assert.Equal(t, 3, countRequests(ft, "metadata"))
	assert.Equal(t, "true", requestQuery(t, ft.last(t)).Get("list"))
	assert.Empty(t, requestQuery(t, ft.last(t)).Get("hash"))
}

func TestEntry_ListAfterMetadataRefreshes(t *testing.T) {
	status := 200
	s, ft := testSession(t, func(req *Request) *Response {
		return jsonResponse(status, `{"path": "/dir", "hash": "h9", "is_dir": true, "contents": [{"path": "/dir/x"}]}`)
	})
	e := s.Entry("dir")

	_, err := e.Metadata(context.Background())
	require.NoError(t, err)
	_, err = e.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, countRequests(ft, "metadata"))

	status = http.StatusNotModified
	children, err := e.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, countRequests(ft, "metadata"))
	require.Len(t, children, 1)
	assert.Equal(t, "dir/x", children[0].Path())
}

func TestEntry_ListRefreshesFileLevelCache(t *testing.T) {
	s, ft := testSession(t, func(req *Request) *Response { return jsonResponse(200, folderJSON) })
	e := s.Entry("Photos")

	_, err := e.Metadata(context.Background(), WithSuppressList())
	require.NoError(t, err)
	// the response above carries contents, so clear them to mimic list=false
	e.CachedMetadata().Listed = false

	_, err = e.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, countRequests(ft, "metadata"))
}

func TestEntry_ListNotADirectory(t *testing.T) {
	s, _ := testSession(t, func(req *Request) *Response { return jsonResponse(200, `{"path": "/a.txt", "is_dir": false}`) })

	_, err := s.Entry("a.txt").List(context.Background())
	assert.ErrorIs(t, err, ErrNotADirectory)
}

func TestEntry_File(t *testing.T) {
	s, ft := testSession(t, func(req *Request) *Response {
		if strings.Contains(req.URL, "/0/metadata/") {
			return jsonResponse(200, `{"path": "/docs/a.txt", "is_dir": false}`)
		}
		return &Response{StatusCode: 200, Body: []byte("file body")}
	})
	fs := afero.NewMemMapFs()
	e := s.Entry("docs/a.txt").WithFs(fs)

	f, err := e.File(context.Background())
	require.NoError(t, err)
	data, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, "file body", string(data))
	name := f.Name()

	again, err := e.File(context.Background())
	require.NoError(t, err)
	assert.Equal(t, name, again.Name())
	assert.Equal(t, 1, countRequests(ft, "files"))

	forced, err := e.File(context.Background(), Force())
	require.NoError(t, err)
	assert.Equal(t, 2, countRequests(ft, "files"))
	exists, err := afero.Exists(fs, name)
	require.NoError(t, err)
	assert.False(t, exists, "forced refresh removes the old temp file")

	require.NoError(t, e.Close())
	exists, err = afero.Exists(fs, forced.Name())
	require.NoError(t, err)
	assert.False(t, exists)
	require.NoError(t, e.Close())
}

func TestEntry_FileOnDirectory(t *testing.T) {
	s, ft := testSession(t, func(req *Request) *Response { return jsonResponse(200, `{"path": "/docs", "is_dir": true}`) })

	_, err := s.Entry("docs").WithFs(afero.NewMemMapFs()).File(context.Background())
	assert.ErrorIs(t, err, ErrNotAFile)
	assert.Equal(t, 0, countRequests(ft, "files"))
}

func TestEntry_ThumbnailImage(t *testing.T) {
	var buf bytes.Buffer
	img := imaging.New(8, 4, color.NRGBA{R: 255, A: 255})
	require.NoError(t, imaging.Encode(&buf, img, imaging.PNG))

	status := 200
	s, _ := testSession(t, func(req *Request) *Response {
		return &Response{StatusCode: status, Body: buf.Bytes()}
	})
	e := s.Entry("a.png")

	decoded, err := e.ThumbnailImage(context.Background(), WithSize("small"))
	require.NoError(t, err)
	assert.Equal(t, 8, decoded.Bounds().Dx())
	assert.Equal(t, 4, decoded.Bounds().Dy())

	status = 404
	decoded, err = e.ThumbnailImage(context.Background())
	require.NoError(t, err)
	assert.Nil(t, decoded)
}

func TestEntry_CopyAndDelete(t *testing.T) {
	s, ft := testSession(t, func(req *Request) *Response {
		return jsonResponse(200, `{"path": "/backup/a.txt"}`)
	})
	e := s.Entry("a.txt")

	cp, err := e.Copy(context.Background(), "backup/")
	require.NoError(t, err)
	assert.Equal(t, "backup/a.txt", cp.Path())
	assert.Equal(t, "a.txt", e.Path())

	ok, err := cp.Delete(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Nil(t, cp.CachedMetadata())
	assert.Equal(t, "backup/a.txt", requestQuery(t, ft.last(t)).Get("path"))
}

func TestCloseAll(t *testing.T) {
	fs := afero.NewMemMapFs()
	s, _ := testSession(t, func(req *Request) *Response {
		if strings.Contains(req.URL, "/0/metadata/") {
			return jsonResponse(200, `{"path": "/a.txt"}`)
		}
		return &Response{StatusCode: 200, Body: []byte("x")}
	})

	entries := []*Entry{s.Entry("a.txt").WithFs(fs), s.Entry("b.txt").WithFs(fs)}
	_, err := entries[0].File(context.Background())
	require.NoError(t, err)
	assert.NoError(t, CloseAll(entries))
}
