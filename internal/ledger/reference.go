// internal/ledger/reference.go
package ledger

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// GenerateReference produces a caller-visible transaction reference: "TX",
// the current Unix time in milliseconds, and nine uppercase hex characters
// of a v4 UUID. Collisions are overwhelmingly unlikely; the unique index on
// transactions.reference is the backstop either way.
func GenerateReference() string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:9]
	return fmt.Sprintf("TX%d%s", time.Now().UnixMilli(), suffix)
}
