// Package client talks to the Dropbox REST API: OAuth session handling,
// API operations with typed errors, the Entry façade and memoization.
package client

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/fruitsalade/dropbox/internal/logging"
	"github.com/fruitsalade/dropbox/internal/metrics"
)

// Session holds the consumer credentials and either a request token
// (unauthorized) or an access token (authorized). It is not safe for
// concurrent mutation.
type Session struct {
	consumer     Consumer
	requestToken *Token
	accessToken  *Token
	ssl          bool
	mode         Mode
	timeout      time.Duration

	transport Transport
	logger    *zap.Logger
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithSessionSSL makes the session use https hosts.
func WithSessionSSL(ssl bool) SessionOption {
	return func(s *Session) { s.ssl = ssl }
}

// WithSessionMode sets the default mode.
func WithSessionMode(m Mode) SessionOption {
	return func(s *Session) { s.mode = m }
}

// WithTransport replaces the default OAuth HTTP transport.
func WithTransport(t Transport) SessionOption {
	return func(s *Session) { s.transport = t }
}

// WithLogger sets the session logger.
func WithLogger(l *zap.Logger) SessionOption {
	return func(s *Session) { s.logger = l }
}

// WithTimeout sets the HTTP timeout of the default transport.
func WithTimeout(d time.Duration) SessionOption {
	return func(s *Session) { s.timeout = d }
}

func newSession(consumer Consumer, opts []SessionOption) (*Session, error) {
	s := &Session{consumer: consumer, mode: ModeSandbox}
	for _, opt := range opts {
		opt(s)
	}
	if !s.mode.Valid() {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMode, s.mode)
	}
	if s.transport == nil {
		s.transport = NewOAuthTransport(nil, s.ssl, s.timeout)
	}
	if s.logger == nil {
		s.logger = logging.L()
	}
	return s, nil
}

// NewSession creates an unauthorized session and fetches its request token.
func NewSession(ctx context.Context, key, secret string, opts ...SessionOption) (*Session, error) {
	s, err := newSession(Consumer{Key: key, Secret: secret}, opts)
	if err != nil {
		return nil, err
	}
	tok, err := s.transport.RequestToken(ctx, s.consumer)
	if err != nil {
		return nil, err
	}
	s.requestToken = &tok
	s.logger.Debug("request token obtained", zap.String("consumer", key))
	return s, nil
}

// Authorized reports whether the session holds an access token.
func (s *Session) Authorized() bool {
	return s.accessToken != nil
}

// AuthorizeURL returns the page the user visits to grant access. params are
// passed through (e.g. oauth_callback).
func (s *Session) AuthorizeURL(params url.Values) (string, error) {
	if s.Authorized() {
		return "", ErrAlreadyAuthorized
	}
	if s.requestToken == nil {
		return "", ErrUnauthorized
	}
	return s.transport.AuthorizeURL(s.consumer, *s.requestToken, params), nil
}

// Authorize exchanges the request token for an access token. The verifier,
// if any, is read from the oauth_verifier param. It reports whether an access
// token was obtained; the request token is dropped on success.
func (s *Session) Authorize(ctx context.Context, params url.Values) (bool, error) {
	if s.requestToken == nil {
		if s.Authorized() {
			return false, ErrAlreadyAuthorized
		}
		return false, ErrUnauthorized
	}
	tok, err := s.transport.AccessToken(ctx, s.consumer, *s.requestToken, params)
	if err != nil {
		metrics.RecordAuthorize(false)
		return false, err
	}
	if tok.Token == "" {
		metrics.RecordAuthorize(false)
		return false, nil
	}
	s.accessToken = &tok
	s.requestToken = nil
	metrics.RecordAuthorize(true)
	s.logger.Info("session authorized", zap.String("consumer", s.consumer.Key))
	return true, nil
}

// Mode returns the default mode.
func (s *Session) Mode() Mode {
	return s.mode
}

// SetMode changes the default mode.
func (s *Session) SetMode(m Mode) error {
	if !m.Valid() {
		return fmt.Errorf("%w: %v", ErrInvalidMode, m)
	}
	s.mode = m
	return nil
}

// SetModeString parses and sets the default mode.
func (s *Session) SetModeString(mode string) error {
	m, err := ParseMode(mode)
	if err != nil {
		return err
	}
	s.mode = m
	return nil
}

// SSL reports whether the session uses https hosts.
func (s *Session) SSL() bool {
	return s.ssl
}

// Consumer returns the application credentials.
func (s *Session) Consumer() Consumer {
	return s.consumer
}

// Token returns the active token: the access token once authorized, the
// request token before.
func (s *Session) Token() Token {
	if s.accessToken != nil {
		return *s.accessToken
	}
	if s.requestToken != nil {
		return *s.requestToken
	}
	return Token{}
}

// Serialize encodes the session as a YAML sequence
// [consumer_key, consumer_secret, authorized, token, token_secret, ssl, mode].
func (s *Session) Serialize() (string, error) {
	tok := s.Token()
	out, err := yaml.Marshal([]interface{}{
		s.consumer.Key,
		s.consumer.Secret,
		s.Authorized(),
		tok.Token,
		tok.Secret,
		s.ssl,
		s.mode.String(),
	})
	if err != nil {
		return "", fmt.Errorf("serialize session: %w", err)
	}
	return string(out), nil
}

// Deserialize rebuilds a session from Serialize output without any network
// call. Encodings lacking ssl or mode default to false and sandbox.
func Deserialize(data string, opts ...SessionOption) (*Session, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(data), &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSerialization, err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) != 1 || doc.Content[0].Kind != yaml.SequenceNode {
		return nil, fmt.Errorf("%w: expected a sequence", ErrInvalidSerialization)
	}

	fields := doc.Content[0].Content
	if len(fields) < 5 || len(fields) > 7 {
		return nil, fmt.Errorf("%w: expected 5 to 7 fields, got %d", ErrInvalidSerialization, len(fields))
	}
	values := make([]string, len(fields))
	for i, n := range fields {
		if n.Kind != yaml.ScalarNode {
			return nil, fmt.Errorf("%w: field %d is not a scalar", ErrInvalidSerialization, i)
		}
		if n.Tag != "!!null" {
			values[i] = n.Value
		}
	}

	for _, i := range []int{0, 1, 3, 4} {
		if values[i] == "" {
			return nil, fmt.Errorf("%w: field %d is empty", ErrInvalidSerialization, i)
		}
	}

	authorized, err := strconv.ParseBool(values[2])
	if err != nil {
		return nil, fmt.Errorf("%w: authorized flag %q", ErrInvalidSerialization, values[2])
	}
	ssl := false
	if len(values) > 5 && values[5] != "" {
		if ssl, err = strconv.ParseBool(values[5]); err != nil {
			return nil, fmt.Errorf("%w: ssl flag %q", ErrInvalidSerialization, values[5])
		}
	}
	mode := ModeSandbox
	if len(values) > 6 && values[6] != "" {
		if mode, err = ParseMode(values[6]); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidSerialization, err)
		}
	}

	base := []SessionOption{WithSessionSSL(ssl), WithSessionMode(mode)}
	s, err := newSession(Consumer{Key: values[0], Secret: values[1]}, append(base, opts...))
	if err != nil {
		return nil, err
	}
	tok := Token{Token: values[3], Secret: values[4]}
	if authorized {
		s.accessToken = &tok
	} else {
		s.requestToken = &tok
	}
	return s, nil
}

// Entry returns a façade for path. No request is made.
func (s *Session) Entry(path string) *Entry {
	return NewEntry(s, path)
}

// File is Entry for a path expected to name a file.
func (s *Session) File(path string) *Entry {
	return NewEntry(s, path)
}

// Directory is Entry for a path expected to name a folder.
func (s *Session) Directory(path string) *Entry {
	return NewEntry(s, path)
}
