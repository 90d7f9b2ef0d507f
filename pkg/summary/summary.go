// Package summary implements a consumer.Consumer that aggregates heap
// records by their ust-address into a running per-call-site summary, the
// Go counterpart of the original extension's SummaryProcessor.
package summary

import (
	"fmt"
	"io"
	"sort"

	"github.com/derekparker/trie"

	"github.com/go-heapstat/heapstat/pkg/consumer"
	"github.com/go-heapstat/heapstat/pkg/ustdb"
)

// Record is the aggregate for one ust-address: every allocation whose
// Register call carried it, folded into a count and size summary.
type Record struct {
	UstAddress   uint64
	Count        uint64
	TotalSize    uint64
	MaxSize      uint64
	LargestEntry uint64
}

// Module describes one loaded module's address range. Real module
// enumeration talks to the debugger-engine client; that client is an
// external collaborator this package never constructs, only consumes
// through ModuleResolver.
type Module struct {
	Name string
	Base uint64
	Size uint64
}

// ModuleResolver looks up the module containing a frame's return address.
type ModuleResolver interface {
	ModuleForAddress(address uint64) (Module, bool)
}

// StackWalker resolves a ust-address to the stack trace recorded at it.
// *ustdb.Database satisfies this.
type StackWalker interface {
	Trace(ustAddress uint64) (ustdb.Trace, error)
}

// Processor aggregates Register calls into one Record per ust-address.
type Processor struct {
	records  map[uint64]*Record
	resolver ModuleResolver
	stacks   StackWalker
}

// New returns a Processor. resolver and stacks may be nil: the
// prefix-filtered PrintFiltered then reports nothing rather than failing,
// since module and stack-trace lookups are genuinely optional diagnostics.
func New(resolver ModuleResolver, stacks StackWalker) *Processor {
	return &Processor{
		records:  make(map[uint64]*Record),
		resolver: resolver,
		stacks:   stacks,
	}
}

var _ consumer.Consumer = (*Processor)(nil)

func (p *Processor) StartHeap(uint64)             {}
func (p *Processor) StartSegment(uint64, uint64)  {}
func (p *Processor) FinishSegment(uint64, uint64) {}
func (p *Processor) FinishHeap(uint64)            {}

// Register folds one allocation into its ust-address's running Record.
func (p *Processor) Register(ustAddress, size, address, userSize, userAddress uint64) {
	r, ok := p.records[ustAddress]
	if !ok {
		r = &Record{UstAddress: ustAddress}
		p.records[ustAddress] = r
	}
	r.Count++
	r.TotalSize += size
	if size > r.MaxSize {
		r.MaxSize = size
		r.LargestEntry = address
	}
}

// Records returns every aggregated Record, largest TotalSize first
// (SummaryProcessor::UstRecord::operator< sorts ascending by TotalSize;
// this package reports the heaviest call sites first).
func (p *Processor) Records() []Record {
	out := make([]Record, 0, len(p.records))
	for _, r := range p.records {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TotalSize > out[j].TotalSize })
	return out
}

// Print writes every aggregated record to w, largest total size first.
func (p *Processor) Print(w io.Writer) {
	for _, r := range p.Records() {
		printRecord(w, r)
	}
}

// PrintFiltered writes only the records with a stack frame inside a module
// whose name starts with prefix (SummaryProcessor::Print(key),
// HasMatchedFrame).
func (p *Processor) PrintFiltered(w io.Writer, prefix string) error {
	for _, r := range p.Records() {
		matched, err := p.hasMatchedFrame(r.UstAddress, prefix)
		if err != nil {
			return err
		}
		if matched {
			printRecord(w, r)
		}
	}
	return nil
}

func printRecord(w io.Writer, r Record) {
	fmt.Fprintf(w, "ust:%#x\tcount:%d\ttotalSize:%#x\tmaxSize:%#x\tlargestEntry:%#x\n",
		r.UstAddress, r.Count, r.TotalSize, r.MaxSize, r.LargestEntry)
}

// hasMatchedFrame walks ustAddress's trace, resolves each frame to its
// module, and reports whether any resolved module name has prefix as a
// prefix. The per-trace module names are indexed in a trie and queried
// with HasKeysWithPrefix, since that is the direction the trie's public
// API actually supports: "does some added key start with this string".
func (p *Processor) hasMatchedFrame(ustAddress uint64, prefix string) (bool, error) {
	if p.stacks == nil || p.resolver == nil {
		return false, nil
	}
	tr, err := p.stacks.Trace(ustAddress)
	if err != nil {
		return false, err
	}

	names := trie.New()
	for _, frame := range tr.Frames {
		if mod, ok := p.resolver.ModuleForAddress(frame.ReturnAddress); ok {
			names.Add(mod.Name, nil)
		}
	}
	return names.HasKeysWithPrefix(prefix), nil
}
