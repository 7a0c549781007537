package chain

// Account is an address plus its current balance and nonce. Nonce is
// monotonically non-decreasing; Balance is the sum of all inbound credits
// minus outbound debits and fees. Accounts are created on first credit or
// explicit creation and are never destroyed.
type Account struct {
	Address Address
	Balance uint64
	Nonce   uint64
}

// CanAfford reports whether the account's balance covers amount+fee.
func (a Account) CanAfford(amount, fee uint64) bool {
	total := amount + fee
	if total < amount {
		// overflow: amount+fee wrapped around uint64, definitely unaffordable.
		return false
	}
	return a.Balance >= total
}
