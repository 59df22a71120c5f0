package txp

import (
	"errors"
	"fmt"
)

// ErrTipsChanged is the Invalid reason returned by ProcessTx when the
// UtxoStore tip moved between the caller observing it and the admission
// lock being acquired.
var ErrTipsChanged = errors.New("tips aren't same")

// contractViolation panics with a fail-stop error. It is reserved for the
// faults this package treats as caller-contract breaches or store failures
// rather than ordinary verification failures: an empty chain handed to
// ApplyBlocks, VerifyBlocks or RollbackBlocks, a chain that does not
// extend the tip (at entry or mid-chain) or fails its assertValid
// re-verification, a length mismatch between a block's transactions and
// its undo list during rollback, a resolver miss while building an undo
// record after verification against the same resolver already succeeded,
// and a failed tip read or batch commit. None of the contract breaches can
// happen without a bug upstream of this package — recovering
// from them would risk silently corrupting the UtxoStore instead of
// surfacing the bug, so they fail the process instead of returning an
// error.
func contractViolation(format string, args ...any) {
	panic(fmt.Errorf("txp: contract violation: "+format, args...))
}
