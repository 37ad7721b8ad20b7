// Package credit implements C9: SMB2 credit-based flow control. A send's
// charge is max(1, ceil(max(payload_size, expected_response_size)/65536)),
// matching lorenz-go-smb2/conn.go's loanCredit/chargeCredit shape but
// generalized to the atomic reserve/release pair spec.md §9 Open Question
// (a) resolves: charge atomically before send, release atomically when the
// matching response is dispatched.
package credit

import (
	"fmt"
	"sync"
)

const unit = 64 * 1024

// Charge computes the credit charge for a message carrying payloadSize
// bytes out and expecting up to expectedResponseSize bytes back.
func Charge(payloadSize, expectedResponseSize int) uint16 {
	n := payloadSize
	if expectedResponseSize > n {
		n = expectedResponseSize
	}
	if n <= 0 {
		return 1
	}
	charge := (n + unit - 1) / unit
	if charge < 1 {
		charge = 1
	}
	return uint16(charge)
}

// Control tracks the client's outstanding credit balance. Reserve must
// succeed before a message is put on the wire; Release returns credits
// granted by the matching response. Both are atomic with respect to the
// balance: a send that never reaches the wire calls Release immediately to
// undo its Reserve, so no partial-charge state is ever visible.
type Control struct {
	mu      sync.Mutex
	balance uint64
}

// NewControl starts a credit balance at initial (the first NEGOTIATE/
// SESSION_SETUP round trip grants 1 and the server's CreditResponse values
// accumulate from there).
func NewControl(initial uint64) *Control {
	return &Control{balance: initial}
}

// Reserve deducts charge from the balance, failing if insufficient
// credits are available.
func (c *Control) Reserve(charge uint16) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if uint64(charge) > c.balance {
		return fmt.Errorf("credit: insufficient credits: have %d, need %d", c.balance, charge)
	}
	c.balance -= uint64(charge)
	return nil
}

// Release returns granted credits to the balance, called once per
// response (success or error) as reported by its CreditResponse field, and
// also to undo a Reserve whose send never reached the wire.
func (c *Control) Release(granted uint16) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.balance += uint64(granted)
}

// Balance reports the current credit balance.
func (c *Control) Balance() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.balance
}
