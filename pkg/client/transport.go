package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/garyburd/go-oauth/oauth"

	"github.com/fruitsalade/dropbox/pkg/protocol"
)

// Consumer identifies the application.
type Consumer struct {
	Key    string
	Secret string
}

// Token is an OAuth request or access token.
type Token struct {
	Token  string
	Secret string
}

// Request is a fully built API request handed to a Transport.
type Request struct {
	Method string
	URL    string
	// SignURL, when set, is the URL the signature is computed against
	// instead of URL.
	SignURL string
	// SignForm holds extra parameters included in the signature only.
	SignForm    url.Values
	Body        []byte
	ContentType string
}

// Response is what a Transport returns for a Request.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Success reports a 2xx status.
func (r *Response) Success() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Transport signs and performs requests and runs the OAuth handshake.
type Transport interface {
	RequestToken(ctx context.Context, consumer Consumer) (Token, error)
	AuthorizeURL(consumer Consumer, requestToken Token, params url.Values) string
	AccessToken(ctx context.Context, consumer Consumer, requestToken Token, params url.Values) (Token, error)
	Do(ctx context.Context, consumer Consumer, token Token, req *Request) (*Response, error)
}

// OAuthTransport is the HTTP Transport signing requests with OAuth 1.0a.
// Redirects are not followed.
type OAuthTransport struct {
	httpClient *http.Client
	ssl        bool
}

// NewOAuthTransport creates a transport. ssl selects https for the OAuth
// handshake endpoints. A nil httpClient gets a default client with timeout.
func NewOAuthTransport(httpClient *http.Client, ssl bool, timeout time.Duration) *OAuthTransport {
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:        100,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		}
	}
	c := *httpClient
	c.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	return &OAuthTransport{httpClient: &c, ssl: ssl}
}

func (t *OAuthTransport) oauthClient(consumer Consumer) *oauth.Client {
	api, www := protocol.Host, protocol.AuthorizeHost
	if t.ssl {
		api, www = protocol.SSLHost, protocol.AuthorizeSSLHost
	}
	prefix := "/" + protocol.Version + "/"
	return &oauth.Client{
		Credentials:                   oauth.Credentials{Token: consumer.Key, Secret: consumer.Secret},
		TemporaryCredentialRequestURI: api + prefix + protocol.EndpointRequestToken,
		ResourceOwnerAuthorizationURI: www + prefix + protocol.EndpointAuthorize,
		TokenRequestURI:               api + prefix + protocol.EndpointAccessToken,
	}
}

// RequestToken fetches temporary credentials.
func (t *OAuthTransport) RequestToken(ctx context.Context, consumer Consumer) (Token, error) {
	if err := ctx.Err(); err != nil {
		return Token{}, err
	}
	creds, err := t.oauthClient(consumer).RequestTemporaryCredentials(t.httpClient, "", nil)
	if err != nil {
		return Token{}, fmt.Errorf("request token: %w", err)
	}
	return Token{Token: creds.Token, Secret: creds.Secret}, nil
}

// AuthorizeURL returns the page the user visits to grant access.
func (t *OAuthTransport) AuthorizeURL(consumer Consumer, requestToken Token, params url.Values) string {
	creds := &oauth.Credentials{Token: requestToken.Token, Secret: requestToken.Secret}
	return t.oauthClient(consumer).AuthorizationURL(creds, params)
}

// AccessToken exchanges an authorized request token for an access token.
func (t *OAuthTransport) AccessToken(ctx context.Context, consumer Consumer, requestToken Token, params url.Values) (Token, error) {
	if err := ctx.Err(); err != nil {
		return Token{}, err
	}
	creds := &oauth.Credentials{Token: requestToken.Token, Secret: requestToken.Secret}
	access, _, err := t.oauthClient(consumer).RequestToken(t.httpClient, creds, params.Get(protocol.ParamVerifier))
	if err != nil {
		return Token{}, fmt.Errorf("access token: %w", err)
	}
	return Token{Token: access.Token, Secret: access.Secret}, nil
}

// Do signs and sends req.
func (t *OAuthTransport) Do(ctx context.Context, consumer Consumer, token Token, req *Request) (*Response, error) {
	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, err
	}
	if req.ContentType != "" {
		httpReq.Header.Set("Content-Type", req.ContentType)
	}

	signURL := httpReq.URL
	if req.SignURL != "" {
		if signURL, err = url.Parse(req.SignURL); err != nil {
			return nil, fmt.Errorf("parse signing url: %w", err)
		}
	}
	creds := &oauth.Credentials{Token: token.Token, Secret: token.Secret}
	if err := t.oauthClient(consumer).SetAuthorizationHeader(httpReq.Header, creds, req.Method, signURL, req.SignForm); err != nil {
		return nil, fmt.Errorf("sign request: %w", err)
	}

	resp, err := t.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}, nil
}
