package sweeper

import "errors"

var errPanic = errors.New("sweep job panicked")
