package client

import (
	"fmt"

	"github.com/fruitsalade/dropbox/pkg/protocol"
)

// Mode selects the root that paths resolve against.
type Mode int

const (
	// ModeSandbox confines paths to the application's folder.
	ModeSandbox Mode = iota
	// ModeFullAccess resolves paths against the whole Dropbox.
	ModeFullAccess
	// ModeMetadataOnly resolves like ModeFullAccess; the server rejects writes.
	ModeMetadataOnly
)

func (m Mode) String() string {
	switch m {
	case ModeSandbox:
		return "sandbox"
	case ModeFullAccess:
		return "dropbox"
	case ModeMetadataOnly:
		return "metadata_only"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// Root returns the physical root name used in request paths.
func (m Mode) Root() string {
	if m == ModeSandbox {
		return protocol.RootSandbox
	}
	return protocol.RootDropbox
}

// Valid reports whether m is one of the defined modes.
func (m Mode) Valid() bool {
	return m >= ModeSandbox && m <= ModeMetadataOnly
}

// ParseMode converts a mode identifier. "full_access" is accepted as an
// alias of "dropbox".
func ParseMode(s string) (Mode, error) {
	switch s {
	case "sandbox":
		return ModeSandbox, nil
	case "dropbox", "full_access":
		return ModeFullAccess, nil
	case "metadata_only":
		return ModeMetadataOnly, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidMode, s)
}

// resolveRoot picks the per-call override when present, else the session mode.
func resolveRoot(sessionMode Mode, o *callOptions) string {
	if o != nil && o.mode != nil {
		return o.mode.Root()
	}
	return sessionMode.Root()
}
