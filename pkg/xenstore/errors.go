package xenstore

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound   = errors.New("xenstore: no such node")
	ErrPermission = errors.New("xenstore: permission denied")
	ErrExists     = errors.New("xenstore: node exists")
	ErrClosed     = errors.New("xenstore: connection closed")
)

// Error is an errno-style reply from xenstored that has no sentinel.
type Error struct {
	Code string
	Op   string
	Path string
}

func (e *Error) Error() string {
	return fmt.Sprintf("xenstore: %s %s: %s", e.Op, e.Path, e.Code)
}

func replyError(op msgType, path string, payload []byte) error {
	code := "EINVAL"
	if parts := splitNul(payload); len(parts) > 0 {
		code = parts[0]
	}
	switch code {
	case "ENOENT":
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	case "EACCES", "EPERM":
		return fmt.Errorf("%w: %s", ErrPermission, path)
	case "EEXIST":
		return fmt.Errorf("%w: %s", ErrExists, path)
	default:
		return &Error{Code: code, Op: op.String(), Path: path}
	}
}
