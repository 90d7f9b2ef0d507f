// Package cmds builds the heapstat command tree: the debugger-extension
// command surface (heapstat.cpp's DECLARE_API(heapstat)/DECLARE_API(umdh)/
// DECLARE_API(ust)) realized as a standalone cobra CLI over the walker
// pipeline.
package cmds

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/cosiner/argv"
	"github.com/spf13/cobra"

	"github.com/go-heapstat/heapstat/pkg/config"
	"github.com/go-heapstat/heapstat/pkg/logflags"
	"github.com/go-heapstat/heapstat/pkg/summary"
	"github.com/go-heapstat/heapstat/pkg/target"
	"github.com/go-heapstat/heapstat/pkg/umdhlog"
	"github.com/go-heapstat/heapstat/pkg/ustdb"
	"github.com/go-heapstat/heapstat/pkg/walker"
)

var (
	verbose   bool
	logOutput string

	umdhBaselinePath     string
	umdhSaveBaselinePath string

	conf *config.Config
)

// errNoTarget is returned by newTarget's default implementation. A real
// integration replaces newTarget with one backed by pkg/target/wdbg.Adapter,
// wired to a live debugger-engine client; no such binding ships here.
var errNoTarget = errors.New("heapstat: no debugger-engine target wired (see pkg/target/wdbg.Adapter)")

// newTarget builds the target.Target for one command invocation. Tests
// override this to point at a synthetic.Target.
var newTarget = func() (target.Target, error) {
	return nil, errNoTarget
}

const heapstatLongDesc = `heapstat inspects a Windows process's user-mode heaps.

It walks the low-fragmentation heap, VirtualAlloc'd blocks and backend
segments of every heap in the target and reports every busy allocation it
finds, the same records the original !heapstat, !umdh and !ust extension
commands surfaced from within a live debugging session.`

// New returns the root heapstat command tree.
func New() *cobra.Command {
	conf = config.LoadConfig()

	rootCmd := &cobra.Command{
		Use:   "heapstat",
		Short: "Reports busy heap allocations for the current target.",
		Long:  heapstatLongDesc,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHeapstat(cmd.OutOrStdout())
		},
	}
	rootCmd.PersistentFlags().BoolVarP(&verbose, "v", "v", conf.VerboseByDefault, "enable verbose per-layer tracing")
	defaultLogLayers := ""
	if conf.VerboseByDefault {
		defaultLogLayers = conf.LogLayers
	}
	rootCmd.PersistentFlags().StringVar(&logOutput, "log-output", defaultLogLayers,
		"comma separated list of layers to trace (walker,lfh,valloc,segment,umdh,ust)")

	umdhCmd := &cobra.Command{
		Use:   "umdh <path>",
		Short: "Runs the walker with a UMDH-compatible log sink, writing <path>.",
		Long: `Runs the walker with a UMDH-compatible log sink.

Requires the target to have the user-mode stack-trace database or page-heap
enabled (set with gflags.exe); otherwise an advisory is printed and no file
is written.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUmdh(cmd.OutOrStdout(), args[0])
		},
	}
	umdhCmd.Flags().StringVar(&umdhBaselinePath, "baseline", "",
		"prior run's saved baseline; when set, the output is a diff instead of a full listing")
	umdhCmd.Flags().StringVar(&umdhSaveBaselinePath, "save-baseline", "",
		"path to save this run's snapshot for use as a future --baseline")
	rootCmd.AddCommand(umdhCmd)

	ustCmd := &cobra.Command{
		Use:   "ust <addr-expression...>",
		Short: "Prints the stack trace recorded at a stack-trace-database address.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUst(cmd.OutOrStdout(), strings.Join(args, " "))
		},
	}
	rootCmd.AddCommand(ustCmd)

	rootCmd.DisableAutoGenTag = true
	return rootCmd
}

func runHeapstat(out io.Writer) error {
	if err := logflags.Setup(verbose, logOutput); err != nil {
		return err
	}
	t, err := newTarget()
	if err != nil {
		return err
	}
	desc := target.Describe(t)
	printGflagsAdvisory(out, desc)

	proc := summary.New(nil, ustdb.New(t))
	if err := walker.Walk(t, proc); err != nil {
		proc.Print(out)
		return err
	}
	proc.Print(out)
	return nil
}

func runUmdh(out io.Writer, path string) error {
	if err := logflags.Setup(verbose, logOutput); err != nil {
		return err
	}
	t, err := newTarget()
	if err != nil {
		return err
	}
	desc := target.Describe(t)
	if !desc.HasUST() && !desc.HasHPA() {
		printGflagsAdvisory(out, desc)
		return nil
	}

	w := umdhlog.New()
	if err := walker.Walk(t, w); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if umdhBaselinePath != "" {
		baseline, err := umdhlog.LoadBaseline(umdhBaselinePath)
		if err != nil {
			return err
		}
		if err := umdhlog.WriteDiff(f, umdhlog.Diff(w.Snapshot(), baseline)); err != nil {
			return err
		}
	} else if err := w.WriteTo(f); err != nil {
		return err
	}

	if umdhSaveBaselinePath != "" {
		return umdhlog.SaveBaseline(umdhSaveBaselinePath, w.Snapshot())
	}
	return nil
}

func runUst(out io.Writer, raw string) error {
	if err := logflags.Setup(verbose, logOutput); err != nil {
		return err
	}
	addr, err := parseUstAddress(raw)
	if err != nil {
		return err
	}

	t, err := newTarget()
	if err != nil {
		return err
	}

	tr, err := ustdb.New(t).Trace(addr)
	if err != nil {
		return err
	}
	for i, frame := range tr.Frames {
		fmt.Fprintf(out, "%d\t%#016x\n", i, frame.ReturnAddress)
	}
	return nil
}

// parseUstAddress tokenizes raw with argv, so a pasted address with
// surrounding whitespace or quoting still parses. The first token must be a
// hex address, with or without a 0x prefix; other debugger expressions are
// not evaluated.
func parseUstAddress(raw string) (uint64, error) {
	sections, err := argv.Argv(raw, nil, nil)
	if err != nil {
		return 0, fmt.Errorf("parsing ust address %q: %w", raw, err)
	}
	if len(sections) == 0 || len(sections[0]) == 0 {
		return 0, fmt.Errorf("ust: no address given")
	}
	tok := strings.TrimPrefix(strings.TrimPrefix(sections[0][0], "0x"), "0X")
	addr, err := strconv.ParseUint(tok, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("ust: %q is not a hex address: %w", sections[0][0], err)
	}
	return addr, nil
}

// printGflagsAdvisory reproduces the original heapstat command's warning
// when neither UST nor HPA is enabled: records will be missing the detail
// only those diagnostic modes provide.
func printGflagsAdvisory(out io.Writer, desc target.Descriptor) {
	if desc.HasUST() || desc.HasHPA() {
		return
	}
	fmt.Fprintln(out, "warning: neither UST nor HPA is enabled for this target; "+
		"set one with gflags.exe (+ust or +hpa) for stack-trace and user-size detail")
}
