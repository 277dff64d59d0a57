package event

import (
	"sync"
)

// callPool provides sync.Pool for call envelopes to reduce GC pressure.
//
// Usage:
//
//	c := AcquireCall()
//	c.Kind = KindPlaceBid
//	// ... submit and wait on c.Reply() ...
//	ReleaseCall(c)  // Only after the reply was received
var callPool = sync.Pool{
	New: func() interface{} {
		return &Call{reply: make(chan Result, 1)}
	},
}

// AcquireCall gets a Call from the pool.
// The returned call has zero values and must be initialized.
func AcquireCall() *Call {
	return callPool.Get().(*Call)
}

// ReleaseCall returns a Call to the pool.
// A call whose reply was never received must not be released.
func ReleaseCall(c *Call) {
	if c == nil {
		return
	}
	c.Seq = 0
	c.Kind = ""
	c.Caller = ""
	c.Value = 0
	c.Subject = ""
	// Drain a stale reply, if any
	select {
	case <-c.reply:
	default:
	}

	callPool.Put(c)
}

// Warmup pre-allocates call envelopes to reduce GC pressure at startup.
func Warmup() {
	const batchSize = 256

	calls := make([]*Call, 0, batchSize)
	for i := 0; i < batchSize; i++ {
		calls = append(calls, AcquireCall())
	}
	for _, c := range calls {
		ReleaseCall(c)
	}
}
