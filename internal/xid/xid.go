package xid

import (
	"strings"

	"github.com/google/uuid"
)

// New returns a prefixed random id such as "shift-2f1c...". Prefixes keep ids
// readable in logs and ledger exports.
func New(prefix string) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	if prefix == "" {
		return id
	}
	return prefix + "-" + id
}
