package domain

import "time"

// Vault is the value-transfer primitive of the hosting environment.
// It holds the contract's funds; all movements go through a VaultTx so a call
// either applies every transfer or none.
type Vault interface {
	Held() int64
	Begin() VaultTx
}

// VaultTx stages value movements until Commit. Rollback discards them.
type VaultTx interface {
	// Receive credits value attached to a call to the contract.
	Receive(from Identity, amount int64) error
	// Pay moves value from the contract to a recipient. The recipient may reject it.
	Pay(to Identity, amount int64) error
	Commit()
	Rollback()
}

// Clock supplies the monotonic wall-clock time read once per call.
type Clock interface {
	Now() time.Time
}

// EventPublisher receives events of successful calls.
type EventPublisher interface {
	Publish(ev Event)
}
