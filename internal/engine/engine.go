// Package engine hands composed run configurations to the external training
// and evaluation engine, either as a local subprocess or over HTTP.
package engine

import (
	"errors"

	"github.com/google/uuid"
)

// EnvDispatchID is set in the environment of engine subprocesses and sent
// as the X-Request-ID header to remote engines.
const EnvDispatchID = "NHRUN_DISPATCH_ID"

var ErrNoCommand = errors.New("engine: no command configured")

func newDispatchID() string {
	return uuid.NewString()
}
