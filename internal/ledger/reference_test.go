// internal/ledger/reference_test.go
package ledger

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateReferenceFormat(t *testing.T) {
	ref := GenerateReference()
	assert.Regexp(t, regexp.MustCompile(`^TX\d{13}[0-9A-F]{9}$`), ref)
}

func TestGenerateReferenceUniqueness(t *testing.T) {
	const n = 100000

	seen := make(map[string]struct{}, n)
	for i := 0; i < n; i++ {
		ref := GenerateReference()
		_, dup := seen[ref]
		require.False(t, dup, "collision after %d references: %s", i, ref)
		seen[ref] = struct{}{}
	}
}
