package payment

import (
	"fmt"
	"strings"
	"time"
)

const txRefPrefix = "TOKEN_"

// NewTxRef builds the order reference used with gateways that cannot carry
// structured metadata: TOKEN_<accountID>_<nonce>. Adapters that generate
// this reference own parsing it back; nothing outside this package reads
// the convention.
func NewTxRef(accountID string) string {
	return fmt.Sprintf("%s%s_%d", txRefPrefix, accountID, time.Now().UnixNano())
}

// AccountFromTxRef recovers the account id from a TOKEN_ reference.
func AccountFromTxRef(ref string) (string, bool) {
	rest, found := strings.CutPrefix(ref, txRefPrefix)
	if !found {
		return "", false
	}
	i := strings.LastIndex(rest, "_")
	if i <= 0 || i == len(rest)-1 {
		return "", false
	}
	return rest[:i], true
}
