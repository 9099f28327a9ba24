// Package events parses Dropbox pingback notifications and loads the
// revisions they name.
//
// A pingback payload maps user IDs to namespace IDs to lists of journal IDs:
//
//	{"1": {"10": [100, 101]}}
//
// Each (user, namespace, journal) triple identifies one Revision. Revisions
// are created unloaded; Event.LoadMetadata fills in their attributes with a
// single batch request and Revision.Load fetches one revision's content.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"go.uber.org/zap"

	"github.com/fruitsalade/dropbox/internal/logging"
	"github.com/fruitsalade/dropbox/pkg/client"
	"github.com/fruitsalade/dropbox/pkg/protocol"
)

// ErrInvalidPingback is returned (wrapped in a *client.ParseError) when a
// pingback payload is not a well-formed user/namespace/journal map.
var ErrInvalidPingback = errors.New("invalid pingback event data")

// MetadataSource resolves a pingback payload into revision attributes.
// *client.Session and *client.Memoized satisfy it.
type MetadataSource interface {
	EventMetadata(ctx context.Context, payload string, opts ...client.Option) (protocol.EventMetadataResponse, error)
}

type revisionKey struct {
	user, namespace, journal int64
}

// Event is a parsed pingback. It is safe to read concurrently once
// LoadMetadata has returned.
type Event struct {
	payload string
	entries []*Revision
	byUser  map[int64][]*Revision
	users   []int64
	index   map[revisionKey]*Revision
	logger  *zap.Logger
}

// Parse decodes a pingback payload. User and namespace IDs are visited in
// ascending numeric order and journal IDs in payload order, so Entries is
// stable for a given payload. Repeated journal IDs yield one revision.
func Parse(payload string) (*Event, error) {
	var raw protocol.Pingback
	if err := json.Unmarshal([]byte(payload), &raw); err != nil {
		return nil, invalid(payload, err)
	}

	e := &Event{
		payload: payload,
		byUser:  make(map[int64][]*Revision, len(raw)),
		index:   make(map[revisionKey]*Revision),
		logger:  logging.L(),
	}

	users, err := sortedIDs(raw)
	if err != nil {
		return nil, invalid(payload, err)
	}
	for _, u := range users {
		namespaces, err := sortedIDs(raw[u.key])
		if err != nil {
			return nil, invalid(payload, err)
		}
		e.users = append(e.users, u.id)
		for _, ns := range namespaces {
			for _, j := range raw[u.key][ns.key] {
				k := revisionKey{u.id, ns.id, j}
				if _, dup := e.index[k]; dup {
					continue
				}
				rev := &Revision{UserID: u.id, NamespaceID: ns.id, JournalID: j}
				e.index[k] = rev
				e.entries = append(e.entries, rev)
				e.byUser[u.id] = append(e.byUser[u.id], rev)
			}
		}
	}
	return e, nil
}

func invalid(payload string, err error) error {
	return &client.ParseError{
		URL:  "pingback",
		Body: []byte(payload),
		Err:  fmt.Errorf("%w: %v", ErrInvalidPingback, err),
	}
}

type numericKey struct {
	key string
	id  int64
}

func sortedIDs[V any](m map[string]V) ([]numericKey, error) {
	keys := make([]numericKey, 0, len(m))
	for k := range m {
		id, err := strconv.ParseInt(k, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("id %q is not an integer", k)
		}
		keys = append(keys, numericKey{key: k, id: id})
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].id < keys[j].id })
	return keys, nil
}

// WithLogger replaces the logger used to report skipped revisions.
func (e *Event) WithLogger(logger *zap.Logger) *Event {
	if logger != nil {
		e.logger = logger
	}
	return e
}

// Payload returns the raw JSON the event was parsed from.
func (e *Event) Payload() string { return e.payload }

// UserIDs returns the users named by the pingback.
func (e *Event) UserIDs() []int64 {
	return append([]int64(nil), e.users...)
}

// Entries returns every revision in the event.
func (e *Event) Entries() []*Revision {
	return append([]*Revision(nil), e.entries...)
}

// EntriesFor returns the revisions of one user. Unknown users yield an empty
// slice. The slice is a copy; the revisions are shared.
func (e *Event) EntriesFor(userID int64) []*Revision {
	return append([]*Revision{}, e.byUser[userID]...)
}

// Lookup finds the revision for a triple.
func (e *Event) Lookup(userID, namespaceID, journalID int64) (*Revision, bool) {
	rev, ok := e.index[revisionKey{userID, namespaceID, journalID}]
	return rev, ok
}

// LoadMetadata fetches attributes for every revision in one request and
// feeds each revision through ProcessMetadata. Triples in the response that
// the event does not contain are logged and skipped.
func (e *Event) LoadMetadata(ctx context.Context, src MetadataSource, opts ...client.Option) error {
	res, err := src.EventMetadata(ctx, e.payload, opts...)
	if err != nil {
		return err
	}

	for uid, namespaces := range res {
		for nid, journals := range namespaces {
			for jid, attrs := range journals {
				rev, ok := e.lookupString(uid, nid, jid)
				if !ok {
					e.logger.Warn("skipping unknown revision in event metadata",
						zap.String("revision", uid+":"+nid+":"+jid))
					continue
				}
				rev.ProcessMetadata(attrs)
			}
		}
	}
	return nil
}

func (e *Event) lookupString(uid, nid, jid string) (*Revision, bool) {
	var ids [3]int64
	for i, s := range []string{uid, nid, jid} {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, false
		}
		ids[i] = n
	}
	return e.Lookup(ids[0], ids[1], ids[2])
}
