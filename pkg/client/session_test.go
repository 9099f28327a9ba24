package client

import (
	"context"
	"errors"
	"net/url"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSession_AuthorizationFlow(t *testing.T) {
	ft := newFakeTransport(nil)
	s, err := NewSession(context.Background(), "key", "secret", WithTransport(ft))
	require.NoError(t, err)
	assert.False(t, s.Authorized())
	assert.Equal(t, ModeSandbox, s.Mode())

	u, err := s.AuthorizeURL(url.Values{"oauth_callback": {"http://localhost/cb"}})
	require.NoError(t, err)
	assert.Contains(t, u, "oauth_token=req-token")
	assert.Contains(t, u, "oauth_callback=")

	ok, err := s.Authorize(context.Background(), url.Values{"oauth_verifier": {"v123"}})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, s.Authorized())
	assert.Equal(t, "v123", ft.accessParams.Get("oauth_verifier"))
	assert.Equal(t, Token{Token: "acc-token", Secret: "acc-secret"}, s.Token())

	_, err = s.AuthorizeURL(nil)
	assert.ErrorIs(t, err, ErrAlreadyAuthorized)

	// the request token is gone
	_, err = s.Authorize(context.Background(), nil)
	assert.Error(t, err)
}

func TestSession_AuthorizeFailure(t *testing.T) {
	ft := newFakeTransport(nil)
	ft.accessErr = errors.New("401 unauthorized")
	s, err := NewSession(context.Background(), "key", "secret", WithTransport(ft))
	require.NoError(t, err)

	ok, err := s.Authorize(context.Background(), nil)
	assert.Error(t, err)
	assert.False(t, ok)
	assert.False(t, s.Authorized())

	// still usable for another attempt
	_, err = s.AuthorizeURL(nil)
	assert.NoError(t, err)
}

func TestSession_AuthorizeWithoutAccessToken(t *testing.T) {
	ft := newFakeTransport(nil)
	ft.accessToken = Token{}
	s, err := NewSession(context.Background(), "key", "secret", WithTransport(ft))
	require.NoError(t, err)

	ok, err := s.Authorize(context.Background(), nil)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, s.Authorized())
}

func TestSession_SetMode(t *testing.T) {
	ft := newFakeTransport(nil)
	s, err := NewSession(context.Background(), "key", "secret", WithTransport(ft))
	require.NoError(t, err)

	require.NoError(t, s.SetMode(ModeFullAccess))
	assert.Equal(t, ModeFullAccess, s.Mode())

	assert.ErrorIs(t, s.SetMode(Mode(42)), ErrInvalidMode)
	assert.ErrorIs(t, s.SetModeString("everything"), ErrInvalidMode)
	assert.Equal(t, ModeFullAccess, s.Mode())

	require.NoError(t, s.SetModeString("full_access"))
	assert.Equal(t, ModeFullAccess, s.Mode())
	require.NoError(t, s.SetModeString("metadata_only"))
	assert.Equal(t, "dropbox", s.Mode().Root())

	_, err = NewSession(context.Background(), "key", "secret", WithTransport(ft), WithSessionMode(Mode(-1)))
	assert.ErrorIs(t, err, ErrInvalidMode)
}

func TestSession_SerializeRoundTrip(t *testing.T) {
	for _, authorized := range []bool{false, true} {
		ft := newFakeTransport(nil)
		s, err := NewSession(context.Background(), "key", "secret", WithTransport(ft), WithSessionSSL(true))
		require.NoError(t, err)
		require.NoError(t, s.SetMode(ModeFullAccess))
		if authorized {
			_, err := s.Authorize(context.Background(), nil)
			require.NoError(t, err)
		}

		blob, err := s.Serialize()
		require.NoError(t, err)

		restored, err := Deserialize(blob, WithTransport(ft))
		require.NoError(t, err)
		assert.Equal(t, s.Authorized(), restored.Authorized())
		assert.Equal(t, s.Mode(), restored.Mode())
		assert.Equal(t, s.SSL(), restored.SSL())
		assert.Equal(t, s.Consumer(), restored.Consumer())
		assert.Equal(t, s.Token(), restored.Token())
	}
}

func TestSession_DeserializedSessionSignsWithSameToken(t *testing.T) {
	s, _ := testSession(t, nil)
	blob, err := s.Serialize()
	require.NoError(t, err)

	ft := newFakeTransport(func(req *Request) *Response { return jsonResponse(200, `{"uid": 1}`) })
	var gotToken Token
	recording := &tokenRecorder{fakeTransport: ft, got: &gotToken}
	restored, err := Deserialize(blob, WithTransport(recording))
	require.NoError(t, err)

	_, err = restored.Account(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Token{Token: "acc-token", Secret: "acc-secret"}, gotToken)
}

type tokenRecorder struct {
	*fakeTransport
	got *Token
}

func (r *tokenRecorder) Do(ctx context.Context, consumer Consumer, token Token, req *Request) (*Response, error) {
	*r.got = token
	return r.fakeTransport.Do(ctx, consumer, token, req)
}

func TestDeserialize_LegacyEncodings(t *testing.T) {
	s, err := Deserialize("- key\n- secret\n- true\n- tok\n- toksecret\n", WithTransport(newFakeTransport(nil)))
	require.NoError(t, err)
	assert.True(t, s.Authorized())
	assert.False(t, s.SSL())
	assert.Equal(t, ModeSandbox, s.Mode())

	s, err = Deserialize("[key, secret, false, tok, toksecret, true]", WithTransport(newFakeTransport(nil)))
	require.NoError(t, err)
	assert.False(t, s.Authorized())
	assert.True(t, s.SSL())
	assert.Equal(t, ModeSandbox, s.Mode())
}

func TestDeserialize_Malformed(t *testing.T) {
	tests := map[string]string{
		"not yaml":       "[unclosed",
		"mapping":        "key: value",
		"too short":      "[key, secret, true]",
		"bad bool":       "[key, secret, maybe, tok, sec]",
		"bad mode":       "[key, secret, true, tok, sec, false, everything]",
		"nested":         "[key, [secret], true, tok, sec]",
		"too many":       "[a, b, true, c, d, false, sandbox, extra]",
		"empty document": "",
		"null fields":    "- ~\n- ~\n- true\n- ~\n- ~\n",
		"empty token":    "[key, secret, true, '', sec]",
	}
	for name, blob := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Deserialize(blob, WithTransport(newFakeTransport(nil)))
			assert.ErrorIs(t, err, ErrInvalidSerialization)
		})
	}
}

func TestSessionFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	s, ft := testSession(t, nil)

	require.NoError(t, SaveSession(fs, "/home/u/.config/dropbox/session.yaml", s))
	exists, err := afero.Exists(fs, "/home/u/.config/dropbox/session.yaml")
	require.NoError(t, err)
	assert.True(t, exists)

	restored, err := LoadSession(fs, "/home/u/.config/dropbox/session.yaml", WithTransport(ft))
	require.NoError(t, err)
	assert.True(t, restored.Authorized())

	require.NoError(t, DeleteSession(fs, "/home/u/.config/dropbox/session.yaml"))
	require.NoError(t, DeleteSession(fs, "/home/u/.config/dropbox/session.yaml"))
	_, err = LoadSession(fs, "/home/u/.config/dropbox/session.yaml")
	assert.Error(t, err)
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in   string
		want Mode
		root string
	}{
		{"sandbox", ModeSandbox, "sandbox"},
		{"dropbox", ModeFullAccess, "dropbox"},
		{"full_access", ModeFullAccess, "dropbox"},
		{"metadata_only", ModeMetadataOnly, "dropbox"},
	}
	for _, tt := range tests {
		m, err := ParseMode(tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.want, m)
		assert.Equal(t, tt.root, m.Root())
	}
	_, err := ParseMode("")
	assert.ErrorIs(t, err, ErrInvalidMode)
}
