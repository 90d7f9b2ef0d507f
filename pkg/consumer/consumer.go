// Package consumer defines the sink the heap-walk pipeline reports
// allocations to, decoupling the walker from what happens with each record
// (a running summary, a UMDH-style log, a verbose trace).
package consumer

// Consumer receives heap records as the walker discovers them: every
// VirtualAlloc'd-blocks record is reported after a heap's last segment, and
// within a segment every record (backend and LFH alike) is reported in
// ascending address order.
type Consumer interface {
	// StartHeap announces that heap is about to be walked.
	StartHeap(heap uint64)
	// StartSegment announces a backend segment spanning
	// [segment, lastValidEntry) is about to be scanned.
	StartSegment(segment, lastValidEntry uint64)
	// Register reports one busy allocation. ustAddress is zero when the
	// user-mode stack-trace database is not in use.
	Register(ustAddress, size, address, userSize, userAddress uint64)
	// FinishSegment announces the end of a backend segment.
	FinishSegment(segment, lastValidEntry uint64)
	// FinishHeap announces the end of a heap.
	FinishHeap(heap uint64)
}
