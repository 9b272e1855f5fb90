package wallet

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewTransactionID returns a human reference such as TXN20250101120000A1B2C3.
func NewTransactionID(now time.Time) string {
	u := uuid.New()
	return fmt.Sprintf("TXN%s%X", now.UTC().Format("20060102150405"), u[:3])
}

// NewQuickPeID returns a random alias of the form QP12345678.
func NewQuickPeID() string {
	return fmt.Sprintf("QP%08d", rand.IntN(100_000_000))
}

// IsQuickPeID reports whether s has the QuickPe id shape.
func IsQuickPeID(s string) bool {
	digits, ok := strings.CutPrefix(s, "QP")
	if !ok || len(digits) != 8 {
		return false
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
