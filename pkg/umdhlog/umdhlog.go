// Package umdhlog implements the second consumer.Consumer sink spec.md §6
// names but leaves out of scope: a UMDH-compatible heap-diff log writer.
// Allocations are grouped by ust-address into block listings, the same
// shape UMDH's own "+ <bytes> ( <bytes> - <bytes>)\t<n> allocs\tBackTraceNNNN"
// lines take, with an optional YAML-backed baseline for diffing two runs.
package umdhlog

import (
	"fmt"
	"io"
	"os"
	"sort"

	"gopkg.in/yaml.v2"

	"github.com/go-heapstat/heapstat/pkg/consumer"
)

// Block is every allocation recorded against one ust-address in a run.
type Block struct {
	UstAddress uint64   `yaml:"ustAddress"`
	Count      uint64   `yaml:"count"`
	TotalSize  uint64   `yaml:"totalSize"`
	Addresses  []uint64 `yaml:"addresses"`
}

// Writer accumulates Register calls into one Block per ust-address,
// preserving the order each ust-address was first seen so repeated writes
// of the same run are stable.
type Writer struct {
	blocks map[uint64]*Block
	order  []uint64
}

// New returns an empty Writer.
func New() *Writer {
	return &Writer{blocks: make(map[uint64]*Block)}
}

var _ consumer.Consumer = (*Writer)(nil)

func (w *Writer) StartHeap(uint64)             {}
func (w *Writer) StartSegment(uint64, uint64)  {}
func (w *Writer) FinishSegment(uint64, uint64) {}
func (w *Writer) FinishHeap(uint64)            {}

// Register folds one allocation into its ust-address's Block.
func (w *Writer) Register(ustAddress, size, address, userSize, userAddress uint64) {
	b, ok := w.blocks[ustAddress]
	if !ok {
		b = &Block{UstAddress: ustAddress}
		w.blocks[ustAddress] = b
		w.order = append(w.order, ustAddress)
	}
	b.Count++
	b.TotalSize += size
	b.Addresses = append(b.Addresses, address)
}

// Blocks returns every accumulated Block in first-seen order.
func (w *Writer) Blocks() []Block {
	out := make([]Block, 0, len(w.order))
	for _, ust := range w.order {
		out = append(out, *w.blocks[ust])
	}
	return out
}

// WriteTo writes every accumulated Block to out in the standard heap-diff
// block-listing format.
func (w *Writer) WriteTo(out io.Writer) error {
	for _, b := range w.Blocks() {
		if err := writeBlock(out, b); err != nil {
			return err
		}
	}
	return nil
}

func writeBlock(out io.Writer, b Block) error {
	if _, err := fmt.Fprintf(out, "+ %8X ( %8X - %8X)\t%d allocs\tBackTrace%016X\n",
		b.TotalSize, b.TotalSize, 0, b.Count, b.UstAddress); err != nil {
		return err
	}
	for _, addr := range b.Addresses {
		if _, err := fmt.Fprintf(out, "\t%016X\n", addr); err != nil {
			return err
		}
	}
	return nil
}

// Snapshot is a Writer's accumulated state, serializable for use as a
// --baseline file in a later diff run.
type Snapshot struct {
	Blocks []Block `yaml:"blocks"`
}

// Snapshot captures w's current state.
func (w *Writer) Snapshot() Snapshot {
	return Snapshot{Blocks: w.Blocks()}
}

// LoadBaseline reads a Snapshot saved by SaveBaseline.
func LoadBaseline(path string) (Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Snapshot{}, err
	}
	var snap Snapshot
	if err := yaml.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("umdhlog: decoding baseline %s: %w", path, err)
	}
	return snap, nil
}

// SaveBaseline writes snap to path for use as a future baseline.
func SaveBaseline(path string, snap Snapshot) error {
	data, err := yaml.Marshal(snap)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Delta is one ust-address's growth between a baseline and a current run.
type Delta struct {
	UstAddress uint64
	CountDelta int64
	SizeDelta  int64
}

// Diff compares current against baseline, returning one Delta per
// ust-address whose count or total size changed, largest growth first.
// A ust-address absent from baseline is reported as growth from zero; one
// present in baseline but absent from current is reported as negative
// growth to zero, matching UMDH's "freed since baseline" reporting.
func Diff(current, baseline Snapshot) []Delta {
	byUst := make(map[uint64]Block, len(baseline.Blocks))
	for _, b := range baseline.Blocks {
		byUst[b.UstAddress] = b
	}
	seen := make(map[uint64]bool, len(current.Blocks))

	var deltas []Delta
	for _, cur := range current.Blocks {
		seen[cur.UstAddress] = true
		prior := byUst[cur.UstAddress]
		d := Delta{
			UstAddress: cur.UstAddress,
			CountDelta: int64(cur.Count) - int64(prior.Count),
			SizeDelta:  int64(cur.TotalSize) - int64(prior.TotalSize),
		}
		if d.CountDelta != 0 || d.SizeDelta != 0 {
			deltas = append(deltas, d)
		}
	}
	for _, prior := range baseline.Blocks {
		if seen[prior.UstAddress] {
			continue
		}
		deltas = append(deltas, Delta{
			UstAddress: prior.UstAddress,
			CountDelta: -int64(prior.Count),
			SizeDelta:  -int64(prior.TotalSize),
		})
	}

	sort.Slice(deltas, func(i, j int) bool { return deltas[i].SizeDelta > deltas[j].SizeDelta })
	return deltas
}

// WriteDiff writes deltas in the same block-listing style as WriteTo, with
// a leading sign on the byte delta.
func WriteDiff(out io.Writer, deltas []Delta) error {
	for _, d := range deltas {
		sign := "+"
		size := d.SizeDelta
		if size < 0 {
			sign = "-"
			size = -size
		}
		if _, err := fmt.Fprintf(out, "%s %8X\t%+d allocs\tBackTrace%016X\n", sign, size, d.CountDelta, d.UstAddress); err != nil {
			return err
		}
	}
	return nil
}
