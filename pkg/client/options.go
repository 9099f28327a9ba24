package client

import (
	"strconv"
	"strings"

	"github.com/fruitsalade/dropbox/pkg/models"
)

// Option customizes a single API call or Entry method.
type Option func(*callOptions)

type callOptions struct {
	mode         *Mode
	ssl          *bool
	limit        int
	suppressList bool
	prior        *models.Metadata
	size         string

	// Entry façade flags
	force       bool
	ignoreCache bool
}

func applyOptions(opts []Option) *callOptions {
	o := &callOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o
}

// WithMode overrides the session mode for one call.
func WithMode(m Mode) Option {
	return func(o *callOptions) { o.mode = &m }
}

// WithSandbox is the boolean form of WithMode: true selects ModeSandbox,
// false ModeFullAccess.
func WithSandbox(sandbox bool) Option {
	if sandbox {
		return WithMode(ModeSandbox)
	}
	return WithMode(ModeFullAccess)
}

// WithSSL overrides the session SSL flag for one call.
func WithSSL(ssl bool) Option {
	return func(o *callOptions) { o.ssl = &ssl }
}

// WithLimit caps the number of directory entries a metadata call may return.
func WithLimit(n int) Option {
	return func(o *callOptions) { o.limit = n }
}

// WithSuppressList omits directory contents from a metadata call.
func WithSuppressList() Option {
	return func(o *callOptions) { o.suppressList = true }
}

// WithPriorResponse sends the hash of a previous metadata result; the server
// answers 304 when nothing changed and the prior result is returned.
func WithPriorResponse(m *models.Metadata) Option {
	return func(o *callOptions) { o.prior = m }
}

// WithSize selects the thumbnail size ("small", "medium", "large", ...).
func WithSize(size string) Option {
	return func(o *callOptions) { o.size = size }
}

// Force makes the Entry façade bypass and replace its cached state.
func Force() Option {
	return func(o *callOptions) { o.force = true }
}

// IgnoreCache makes the Entry façade refetch metadata, sending the cached
// result as the prior response.
func IgnoreCache() Option {
	return func(o *callOptions) { o.ignoreCache = true }
}

func withListing() Option {
	return func(o *callOptions) { o.suppressList = false }
}

// key renders the options that change a request, for memoization.
func (o *callOptions) key() string {
	var b strings.Builder
	if o.mode != nil {
		b.WriteString("mode=" + o.mode.String() + ";")
	}
	if o.ssl != nil {
		b.WriteString("ssl=" + strconv.FormatBool(*o.ssl) + ";")
	}
	if o.limit > 0 {
		b.WriteString("limit=" + strconv.Itoa(o.limit) + ";")
	}
	if o.suppressList {
		b.WriteString("list=false;")
	}
	if o.prior != nil {
		b.WriteString("hash=" + o.prior.Hash + ";")
	}
	if o.size != "" {
		b.WriteString("size=" + o.size + ";")
	}
	return b.String()
}
