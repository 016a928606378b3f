// Package idgen mints the short hex identifiers used for transfers and
// queue entries throughout the engine.
package idgen

import (
	"strings"

	"github.com/google/uuid"
	"github.com/digster/lan-file-transfer/internal/constants"
)

// New returns a fresh identifier of constants.TransferIDHexLen hex characters,
// derived from a random UUID so collisions are effectively impossible
// without needing a central counter.
func New() string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	if len(id) < constants.TransferIDHexLen {
		// Unreachable in practice (a UUID always yields 32 hex chars), but
		// keeps this function total rather than panicking on a short string.
		return id
	}
	return id[:constants.TransferIDHexLen]
}
