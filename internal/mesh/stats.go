package mesh

import "github.com/1ureka/loramesh/internal/util"

// Stats holds the node's cumulative counters plus the current table sizes.
type Stats struct {
	Tx               uint64 // data fragments transmitted
	Rx               uint64 // packets decoded
	Relayed          uint64
	AcksSent         uint64
	AcksReceived     uint64
	DroppedDuplicate uint64
	DroppedTTL       uint64
	Timeouts         uint64 // messages given up after all retries

	DroppedMalformed  uint64
	DroppedIncomplete uint64 // assemblies expired, evicted or aborted
	TxFailed          uint64

	Seen        int
	Assembling  int
	PendingAcks int
	Queued      int
}

// Counters lists the cumulative counters for the periodic reporter.
func (s Stats) Counters() []util.Counter {
	return []util.Counter{
		{Name: "tx", Value: s.Tx},
		{Name: "rx", Value: s.Rx},
		{Name: "relayed", Value: s.Relayed},
		{Name: "acks_sent", Value: s.AcksSent},
		{Name: "acks_received", Value: s.AcksReceived},
		{Name: "dup", Value: s.DroppedDuplicate},
		{Name: "ttl", Value: s.DroppedTTL},
		{Name: "timeouts", Value: s.Timeouts},
		{Name: "malformed", Value: s.DroppedMalformed},
		{Name: "incomplete", Value: s.DroppedIncomplete},
		{Name: "tx_failed", Value: s.TxFailed},
	}
}
