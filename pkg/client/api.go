package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fruitsalade/dropbox/internal/metrics"
	"github.com/fruitsalade/dropbox/pkg/models"
	"github.com/fruitsalade/dropbox/pkg/protocol"
)

// Operations is the API surface shared by Session and Memoized.
type Operations interface {
	Account(ctx context.Context, opts ...Option) (*models.Account, error)
	Download(ctx context.Context, path string, opts ...Option) ([]byte, error)
	Thumbnail(ctx context.Context, path string, opts ...Option) ([]byte, error)
	Upload(ctx context.Context, src UploadSource, remoteDir string, opts ...Option) (*models.Metadata, error)
	Copy(ctx context.Context, src, dst string, opts ...Option) (*models.Metadata, error)
	Move(ctx context.Context, src, dst string, opts ...Option) (*models.Metadata, error)
	Rename(ctx context.Context, path, newName string, opts ...Option) (*models.Metadata, error)
	CreateFolder(ctx context.Context, path string, opts ...Option) (*models.Metadata, error)
	Delete(ctx context.Context, path string, opts ...Option) (bool, error)
	Link(ctx context.Context, path string, opts ...Option) (string, error)
	Metadata(ctx context.Context, path string, opts ...Option) (*models.Metadata, error)
	List(ctx context.Context, path string, opts ...Option) ([]*models.Metadata, error)
	EventMetadata(ctx context.Context, payload string, opts ...Option) (protocol.EventMetadataResponse, error)
	EventContent(ctx context.Context, id string, opts ...Option) ([]byte, map[string]interface{}, error)
}

var _ Operations = (*Session)(nil)

type apiCall struct {
	method        string
	segments      []string
	params        url.Values
	body          []byte
	contentType   string
	signCanonical bool
	signForm      url.Values

	// set by send
	url string
}

// send performs one request. Non-2xx responses come back as
// *UnsuccessfulResponseError.
func (s *Session) send(ctx context.Context, o *callOptions, c *apiCall) (*Response, error) {
	if !s.Authorized() {
		return nil, ErrUnauthorized
	}

	ssl := s.ssl
	if o.ssl != nil {
		ssl = *o.ssl
	}
	req := &Request{
		Method:      c.method,
		URL:         APIURL(ssl, c.segments, c.params),
		Body:        c.body,
		ContentType: c.contentType,
		SignForm:    c.signForm,
	}
	c.url = req.URL
	if c.signCanonical {
		req.SignURL = SigningURL(ssl, c.segments, c.params)
	}

	endpoint := c.segments[0]
	start := time.Now()
	resp, err := s.transport.Do(ctx, s.consumer, *s.accessToken, req)
	duration := time.Since(start)
	if err != nil {
		s.logger.Debug("api request failed",
			zap.String("method", c.method),
			zap.String("endpoint", endpoint),
			zap.Duration("duration", duration),
			zap.Error(err),
		)
		metrics.RecordAPIRequest(c.method, endpoint, 0, duration)
		return nil, err
	}

	s.logger.Debug("api request",
		zap.String("method", c.method),
		zap.String("endpoint", endpoint),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", duration),
	)
	metrics.RecordAPIRequest(c.method, endpoint, resp.StatusCode, duration)

	if !resp.Success() {
		return resp, &UnsuccessfulResponseError{
			Method:     c.method,
			URL:        req.URL,
			StatusCode: resp.StatusCode,
			Header:     resp.Header,
			Body:       resp.Body,
		}
	}
	return resp, nil
}

func (s *Session) sendJSON(ctx context.Context, o *callOptions, c *apiCall) (map[string]interface{}, error) {
	resp, err := s.send(ctx, o, c)
	if err != nil {
		return nil, err
	}
	return decodeObject(resp, c)
}

func decodeObject(resp *Response, c *apiCall) (map[string]interface{}, error) {
	obj, err := models.DecodeObject(resp.Body)
	if err != nil {
		return nil, &ParseError{URL: c.url, Body: resp.Body, Err: err}
	}
	return obj, nil
}

func metadataFrom(obj map[string]interface{}, c *apiCall) (*models.Metadata, error) {
	m, err := models.MetadataFromMap(obj)
	if err != nil {
		return nil, &ParseError{URL: c.url, Err: err}
	}
	return m, nil
}

func statusOf(err error) int {
	if ue, ok := AsUnsuccessful(err); ok {
		return ue.StatusCode
	}
	return 0
}

// Account returns information about the user's account.
func (s *Session) Account(ctx context.Context, opts ...Option) (*models.Account, error) {
	o := applyOptions(opts)
	c := apiCall{method: http.MethodGet, segments: []string{protocol.EndpointAccountInfo}}
	resp, err := s.send(ctx, o, &c)
	if err != nil {
		return nil, err
	}
	acct, err := models.ParseAccount(resp.Body)
	if err != nil {
		return nil, &ParseError{URL: c.url, Body: resp.Body, Err: err}
	}
	return acct, nil
}

// Download returns the contents of a file.
func (s *Session) Download(ctx context.Context, p string, opts ...Option) ([]byte, error) {
	o := applyOptions(opts)
	p, err := cleanPath(p, false)
	if err != nil {
		return nil, err
	}
	resp, err := s.send(ctx, o, &apiCall{
		method:   http.MethodGet,
		segments: []string{protocol.EndpointFiles, resolveRoot(s.mode, o), p},
	})
	if err != nil {
		return nil, err
	}
	metrics.RecordDownload(int64(len(resp.Body)))
	return resp.Body, nil
}

// Thumbnail returns a thumbnail image of a file. A missing thumbnail yields
// nil data and no error.
func (s *Session) Thumbnail(ctx context.Context, p string, opts ...Option) ([]byte, error) {
	o := applyOptions(opts)
	p, err := cleanPath(p, false)
	if err != nil {
		return nil, err
	}
	var params url.Values
	if o.size != "" {
		params = url.Values{protocol.ParamSize: {o.size}}
	}
	resp, err := s.send(ctx, o, &apiCall{
		method:   http.MethodGet,
		segments: []string{protocol.EndpointThumbnails, resolveRoot(s.mode, o), p},
		params:   params,
	})
	if err != nil {
		if statusOf(err) == http.StatusNotFound {
			return nil, nil
		}
		return nil, err
	}
	metrics.RecordDownload(int64(len(resp.Body)))
	return resp.Body, nil
}

// Copy copies src to dst. A dst ending in "/" receives src's base name.
func (s *Session) Copy(ctx context.Context, src, dst string, opts ...Option) (*models.Metadata, error) {
	return s.fileop(ctx, protocol.EndpointCopy, src, dst, opts)
}

// Move moves src to dst. A dst ending in "/" receives src's base name.
func (s *Session) Move(ctx context.Context, src, dst string, opts ...Option) (*models.Metadata, error) {
	return s.fileop(ctx, protocol.EndpointMove, src, dst, opts)
}

func (s *Session) fileop(ctx context.Context, endpoint, src, dst string, opts []Option) (*models.Metadata, error) {
	o := applyOptions(opts)
	dst = destinationPath(src, dst)
	src, err := cleanPath(src, true)
	if err != nil {
		return nil, err
	}
	if dst, err = cleanPath(dst, true); err != nil {
		return nil, err
	}

	c := apiCall{
		method:   http.MethodPost,
		segments: []string{endpoint},
		params: url.Values{
			protocol.ParamRoot:     {resolveRoot(s.mode, o)},
			protocol.ParamFromPath: {src},
			protocol.ParamToPath:   {dst},
		},
	}
	obj, err := s.sendJSON(ctx, o, &c)
	if err != nil {
		ue, ok := AsUnsuccessful(err)
		switch {
		case ok && ue.StatusCode == http.StatusNotFound:
			return nil, &FileNotFoundError{Path: src, Response: ue}
		case ok && ue.StatusCode == http.StatusForbidden:
			return nil, &FileExistsError{Path: dst, Response: ue}
		}
		return nil, err
	}
	return metadataFrom(obj, &c)
}

// Rename gives the file or folder at p a new name in the same folder.
func (s *Session) Rename(ctx context.Context, p, newName string, opts ...Option) (*models.Metadata, error) {
	if strings.Contains(newName, "/") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, newName)
	}
	return s.Move(ctx, p, renameTarget(p, newName), opts...)
}

func renameTarget(p, newName string) string {
	dir := path.Dir(NormalizeDirPath(p))
	if dir == "." {
		return newName
	}
	return dir + "/" + newName
}

// CreateFolder creates a folder.
func (s *Session) CreateFolder(ctx context.Context, p string, opts ...Option) (*models.Metadata, error) {
	o := applyOptions(opts)
	p, err := cleanPath(p, true)
	if err != nil {
		return nil, err
	}
	c := apiCall{
		method:   http.MethodPost,
		segments: []string{protocol.EndpointCreateFolder},
		params: url.Values{
			protocol.ParamRoot: {resolveRoot(s.mode, o)},
			protocol.ParamPath: {p},
		},
	}
	obj, err := s.sendJSON(ctx, o, &c)
	if err != nil {
		if ue, ok := AsUnsuccessful(err); ok && ue.StatusCode == http.StatusForbidden {
			return nil, &FileExistsError{Path: p, Response: ue}
		}
		return nil, err
	}
	return metadataFrom(obj, &c)
}

// Delete removes a file or folder.
func (s *Session) Delete(ctx context.Context, p string, opts ...Option) (bool, error) {
	o := applyOptions(opts)
	p, err := cleanPath(p, true)
	if err != nil {
		return false, err
	}
	_, err = s.send(ctx, o, &apiCall{
		method:   http.MethodPost,
		segments: []string{protocol.EndpointDelete},
		params: url.Values{
			protocol.ParamRoot: {resolveRoot(s.mode, o)},
			protocol.ParamPath: {p},
		},
	})
	if err != nil {
		if ue, ok := AsUnsuccessful(err); ok && ue.StatusCode == http.StatusNotFound {
			return false, &FileNotFoundError{Path: p, Response: ue}
		}
		return false, err
	}
	return true, nil
}

// Link returns a shareable URL for p. The server answers with a redirect
// whose Location is the link.
func (s *Session) Link(ctx context.Context, p string, opts ...Option) (string, error) {
	o := applyOptions(opts)
	p, err := cleanPath(p, false)
	if err != nil {
		return "", err
	}
	resp, err := s.send(ctx, o, &apiCall{
		method:   http.MethodGet,
		segments: []string{protocol.EndpointLinks, resolveRoot(s.mode, o), p},
	})
	if err != nil {
		if ue, ok := AsUnsuccessful(err); ok && ue.StatusCode == http.StatusFound {
			if loc := ue.Header.Get("Location"); loc != "" {
				return loc, nil
			}
		}
		return "", err
	}
	if loc := resp.Header.Get("Location"); loc != "" {
		return loc, nil
	}
	return strings.TrimSpace(string(resp.Body)), nil
}

// Metadata returns the metadata of p, including its contents when p is a
// folder unless WithSuppressList is given.
func (s *Session) Metadata(ctx context.Context, p string, opts ...Option) (*models.Metadata, error) {
	o := applyOptions(opts)
	p, err := cleanPath(p, true)
	if err != nil {
		return nil, err
	}

	params := url.Values{protocol.ParamList: {strconv.FormatBool(!o.suppressList)}}
	if o.limit > 0 {
		params.Set(protocol.ParamFileLimit, strconv.Itoa(o.limit))
	}
	if o.prior != nil && o.prior.Hash != "" {
		params.Set(protocol.ParamHash, o.prior.Hash)
	}

	c := apiCall{
		method:   http.MethodGet,
		segments: []string{protocol.EndpointMetadata, resolveRoot(s.mode, o), p},
		params:   params,
	}
	obj, err := s.sendJSON(ctx, o, &c)
	if err != nil {
		ue, ok := AsUnsuccessful(err)
		switch {
		case ok && ue.StatusCode == http.StatusNotModified && o.prior != nil:
			return o.prior, nil
		case ok && ue.StatusCode == http.StatusNotAcceptable:
			return nil, &TooManyEntriesError{Path: p, Response: ue}
		case ok && ue.StatusCode == http.StatusNotFound:
			return nil, &FileNotFoundError{Path: p, Response: ue}
		}
		return nil, err
	}
	return metadataFrom(obj, &c)
}

// List returns the contents of the folder at p.
func (s *Session) List(ctx context.Context, p string, opts ...Option) ([]*models.Metadata, error) {
	m, err := s.Metadata(ctx, p, append(opts, withListing())...)
	if err != nil {
		return nil, err
	}
	if !m.Directory() {
		return nil, ErrNotADirectory
	}
	return m.Contents, nil
}

// EventMetadata resolves a pingback payload into revision attributes keyed by
// user, namespace and journal IDs.
func (s *Session) EventMetadata(ctx context.Context, payload string, opts ...Option) (protocol.EventMetadataResponse, error) {
	o := applyOptions(opts)
	c := apiCall{
		method:   http.MethodPost,
		segments: []string{protocol.EndpointEventMetadata},
		params:   url.Values{protocol.ParamTargetEvents: {payload}},
	}
	obj, err := s.sendJSON(ctx, o, &c)
	if err != nil {
		return nil, err
	}

	out := make(protocol.EventMetadataResponse, len(obj))
	for uid, nsv := range obj {
		namespaces, ok := nsv.(map[string]interface{})
		if !ok {
			return nil, &ParseError{URL: c.url, Err: fmt.Errorf("user %s: expected object", uid)}
		}
		out[uid] = make(map[string]map[string]map[string]interface{}, len(namespaces))
		for nid, jv := range namespaces {
			journals, ok := jv.(map[string]interface{})
			if !ok {
				return nil, &ParseError{URL: c.url, Err: fmt.Errorf("namespace %s:%s: expected object", uid, nid)}
			}
			out[uid][nid] = make(map[string]map[string]interface{}, len(journals))
			for jid, av := range journals {
				attrs, ok := av.(map[string]interface{})
				if !ok {
					return nil, &ParseError{URL: c.url, Err: fmt.Errorf("journal %s:%s:%s: expected object", uid, nid, jid)}
				}
				out[uid][nid][jid] = attrs
			}
		}
	}
	return out, nil
}

// EventContent downloads the content of one revision. Its metadata comes
// from the X-Dropbox-Metadata response header.
func (s *Session) EventContent(ctx context.Context, id string, opts ...Option) ([]byte, map[string]interface{}, error) {
	o := applyOptions(opts)
	c := apiCall{
		method:   http.MethodGet,
		segments: []string{protocol.EndpointEventContent},
		params:   url.Values{protocol.ParamTargetEvent: {id}},
	}
	resp, err := s.send(ctx, o, &c)
	if err != nil {
		return nil, nil, err
	}
	metrics.RecordDownload(int64(len(resp.Body)))

	header := resp.Header.Get(protocol.HeaderMetadata)
	if header == "" {
		return resp.Body, map[string]interface{}{}, nil
	}
	meta, err := models.DecodeObject([]byte(header))
	if err != nil {
		return nil, nil, &ParseError{URL: c.url, Body: []byte(header), Err: err}
	}
	return resp.Body, meta, nil
}
