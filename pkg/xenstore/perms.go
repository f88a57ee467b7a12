package xenstore

import (
	"fmt"
	"strconv"
)

// Access is the access letter of a xenstore permission entry.
type Access byte

const (
	AccessNone      Access = 'n'
	AccessRead      Access = 'r'
	AccessWrite     Access = 'w'
	AccessReadWrite Access = 'b'
)

// Permission grants Access to Domain. In a node's permission list the
// first entry names the owner and the access everyone else gets.
type Permission struct {
	Domain uint32
	Access Access
}

func (p Permission) String() string {
	return string(rune(p.Access)) + strconv.FormatUint(uint64(p.Domain), 10)
}

// ParsePermission parses the wire form, e.g. "w5" or "n0".
func ParsePermission(s string) (Permission, error) {
	if len(s) < 2 {
		return Permission{}, fmt.Errorf("xenstore: malformed permission %q", s)
	}
	access := Access(s[0])
	switch access {
	case AccessNone, AccessRead, AccessWrite, AccessReadWrite:
	default:
		return Permission{}, fmt.Errorf("xenstore: unknown access %q in permission %q", s[0], s)
	}
	domain, err := strconv.ParseUint(s[1:], 10, 32)
	if err != nil {
		return Permission{}, fmt.Errorf("xenstore: malformed permission %q: %w", s, err)
	}
	return Permission{Domain: uint32(domain), Access: access}, nil
}
