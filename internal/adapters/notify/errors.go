package notify

import "errors"

// ErrClosed is returned once the broker has been closed.
var ErrClosed = errors.New("notify: broker closed")
