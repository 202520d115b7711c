package main

import (
	"bytes"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/k0kubun/pp/v3"
	"golang.org/x/tools/txtar"

	"hdlc/internal/alloc"
	"hdlc/internal/designs"
	"hdlc/internal/diag"
	"hdlc/internal/fsm"
	"hdlc/internal/ir"
	"hdlc/internal/passes"
	"hdlc/internal/sim"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 {
		printGlobalUsage()
		return fmt.Errorf("missing command")
	}

	switch args[0] {
	case "list":
		return runList(args[1:])
	case "compile":
		return runCompile(args[1:])
	case "sim":
		return runSim(args[1:])
	case "alloc":
		return runAlloc(args[1:])
	default:
		printGlobalUsage()
		return fmt.Errorf("unknown command: %s", args[0])
	}
}

func printGlobalUsage() {
	fmt.Fprintf(os.Stderr, "hdlc sequencer compiler\n\n")
	fmt.Fprintf(os.Stderr, "Usage:\n")
	fmt.Fprintf(os.Stderr, "  hdlc <command> [options]\n\n")
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  list       List the bundled designs\n")
	fmt.Fprintf(os.Stderr, "  compile    Elaborate a design and emit its IR or state table\n")
	fmt.Fprintf(os.Stderr, "  sim        Elaborate a design and run it to completion\n")
	fmt.Fprintf(os.Stderr, "  alloc      Assign register addresses for a design\n")
}

func runList(args []string) error {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	output := fs.String("o", "", "output file path (stdout when omitted)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	return withOutputWriter(*output, func(w io.Writer) error {
		for _, d := range designs.All() {
			fmt.Fprintf(w, "%-12s %s\n", d.Name, d.Summary)
		}
		return nil
	})
}

func runCompile(args []string) error {
	fs := flag.NewFlagSet("compile", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	design := fs.String("design", "", "design name, or all (txtar only)")
	emit := fs.String("emit", "ir", "output format (ir|states|txtar)")
	output := fs.String("o", "", "output file path (stdout when omitted)")
	encoding := fs.String("encoding", "binary", "state encoding (binary|onehot)")
	diagFormat := fs.String("diag-format", "text", "diagnostic output format (text|json)")
	verbose := fs.Bool("v", false, "print elaboration notes")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *design == "" {
		fs.Usage()
		return fmt.Errorf("compile requires -design")
	}
	enc, err := parseEncoding(*encoding)
	if err != nil {
		return err
	}
	reporter := diag.NewReporter(os.Stderr, *diagFormat)
	reporter.SetVerbose(*verbose)

	names := []string{*design}
	if *design == "all" {
		if *emit != "txtar" {
			return fmt.Errorf("-design all requires -emit txtar")
		}
		names = names[:0]
		for _, d := range designs.All() {
			names = append(names, d.Name)
		}
	}
	results := make([]*designs.Result, 0, len(names))
	for _, name := range names {
		res, err := buildDesign(name, enc, reporter)
		if err != nil {
			return err
		}
		results = append(results, res)
	}

	switch *emit {
	case "ir":
		return withOutputWriter(*output, func(w io.Writer) error {
			ir.Dump(results[0].Design, w)
			return nil
		})
	case "states":
		return withOutputWriter(*output, func(w io.Writer) error {
			printer := pp.New()
			printer.SetColoringEnabled(false)
			_, err := printer.Fprintln(w, results[0].Seq.FSM.Table())
			return err
		})
	case "txtar":
		return withOutputWriter(*output, func(w io.Writer) error {
			_, err := w.Write(txtar.Format(archive(results, enc)))
			return err
		})
	default:
		return fmt.Errorf("unknown emit format: %s", *emit)
	}
}

// archive bundles the IR dump and state table of every design.
func archive(results []*designs.Result, enc fsm.Encoding) *txtar.Archive {
	ar := &txtar.Archive{
		Comment: []byte(fmt.Sprintf("hdlc compile -emit txtar -encoding %s\n", enc)),
	}
	for _, res := range results {
		var dump, table bytes.Buffer
		ir.DumpModule(res.Module, &dump)
		writeTable(&table, res.Seq.FSM.Table())
		ar.Files = append(ar.Files,
			txtar.File{Name: res.Module.Name + ".ir", Data: dump.Bytes()},
			txtar.File{Name: res.Module.Name + ".states", Data: table.Bytes()},
		)
	}
	return ar
}

func writeTable(w io.Writer, rows []fsm.Row) {
	for _, row := range rows {
		name := row.Name
		if name == "" {
			name = "-"
		}
		fmt.Fprintf(w, "state %d %s code=%#x\n", row.Index, name, row.Code)
		for _, e := range row.Edges {
			target := strconv.Itoa(e.To)
			if e.To < 0 {
				target = e.Expr
			}
			if e.Cond == "" {
				fmt.Fprintf(w, "  -> %s\n", target)
				continue
			}
			fmt.Fprintf(w, "  %s -> %s\n", e.Cond, target)
		}
	}
}

func runSim(args []string) error {
	fs := flag.NewFlagSet("sim", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	design := fs.String("design", "", "design name")
	cycles := fs.Int("cycles", 1000, "maximum clock cycles to run after start")
	trace := fs.String("trace", "", "comma-separated signals to print after every cycle")
	expectPath := fs.String("expect", "", "path to file containing expected simulator stdout (optional)")
	output := fs.String("o", "", "output file path (stdout when omitted)")
	encoding := fs.String("encoding", "binary", "state encoding (binary|onehot)")
	diagFormat := fs.String("diag-format", "text", "diagnostic output format (text|json)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *design == "" {
		fs.Usage()
		return fmt.Errorf("sim requires -design")
	}
	enc, err := parseEncoding(*encoding)
	if err != nil {
		return err
	}
	reporter := diag.NewReporter(os.Stderr, *diagFormat)
	res, err := buildDesign(*design, enc, reporter)
	if err != nil {
		return err
	}

	var stdoutBuf bytes.Buffer
	traced := splitList(*trace)
	var probeErr error
	probe := func(s *sim.Simulator, tick int) {
		if len(traced) == 0 || probeErr != nil {
			return
		}
		fmt.Fprintf(&stdoutBuf, "%d:", tick)
		for _, name := range traced {
			v, err := s.Value(name)
			if err != nil {
				probeErr = err
				return
			}
			fmt.Fprintf(&stdoutBuf, " %s=%s", name, v.Dec())
		}
		fmt.Fprintln(&stdoutBuf)
	}
	s, ticks, err := designs.Run(res, *cycles, probe)
	if err != nil {
		return err
	}
	if probeErr != nil {
		return probeErr
	}
	fmt.Fprintf(&stdoutBuf, "%s finished after %d cycles\n", res.Module.Name, ticks)
	for _, e := range res.Expect {
		v, err := s.Get(e.Signal)
		if err != nil {
			return err
		}
		fmt.Fprintf(&stdoutBuf, "%s=%d\n", e.Signal, v)
	}

	if err := withOutputWriter(*output, func(w io.Writer) error {
		_, err := w.Write(stdoutBuf.Bytes())
		return err
	}); err != nil {
		return err
	}
	if err := designs.Check(s, res); err != nil {
		return err
	}
	if *expectPath != "" {
		if err := compareSimulatorOutput(*expectPath, stdoutBuf.Bytes()); err != nil {
			return err
		}
	}
	return nil
}

func runAlloc(args []string) error {
	fs := flag.NewFlagSet("alloc", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	design := fs.String("design", "", "design name")
	word := fs.Int("word", 32, "word size in bits")
	first := fs.Uint64("first", 0, "first address of the range")
	last := fs.Uint64("last", 0xffff, "last address of the range")
	output := fs.String("o", "", "output file path (stdout when omitted)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *design == "" {
		fs.Usage()
		return fmt.Errorf("alloc requires -design")
	}
	res, err := buildDesign(*design, fsm.Binary, diag.NewReporter(os.Stderr, "text"))
	if err != nil {
		return err
	}
	a, err := alloc.New(*word, alloc.Range{First: *first, Last: *last})
	if err != nil {
		return err
	}
	for _, name := range res.Module.SignalNames() {
		sig := res.Module.Signals[name]
		if sig.Kind != ir.Reg && sig.Kind != ir.Memory {
			continue
		}
		if _, err := a.Allocate(sig); err != nil {
			return fmt.Errorf("alloc %s: %w", res.Module.Name, err)
		}
	}
	return withOutputWriter(*output, func(w io.Writer) error {
		for _, e := range a.Entries() {
			fmt.Fprintf(w, "%-16s %#06x %d\n", e.Name, e.Address, e.Words)
		}
		fmt.Fprintf(w, "head %#06x\n", a.Head())
		return nil
	})
}

func buildDesign(name string, enc fsm.Encoding, reporter *diag.Reporter) (*designs.Result, error) {
	d, ok := designs.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("unknown design: %s (see hdlc list)", name)
	}
	res, err := d.Build(designs.Options{Encoding: enc, Reporter: reporter})
	if err != nil {
		return nil, err
	}
	if err := runDefaultPasses(res.Design, reporter); err != nil {
		return nil, err
	}
	return res, nil
}

func runDefaultPasses(design *ir.Design, reporter *diag.Reporter) error {
	passMgr := passes.NewManager()
	passMgr.Add(passes.NewWidthCheck(reporter))
	if err := passMgr.Run(design); err != nil {
		return err
	}
	if reporter != nil && reporter.HasErrors() {
		return fmt.Errorf("analysis passes reported errors")
	}
	return nil
}

func parseEncoding(s string) (fsm.Encoding, error) {
	switch s {
	case "binary", "":
		return fsm.Binary, nil
	case "onehot":
		return fsm.OneHot, nil
	default:
		return fsm.Binary, fmt.Errorf("unknown encoding: %s", s)
	}
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func compareSimulatorOutput(expectPath string, got []byte) error {
	want, err := os.ReadFile(expectPath)
	if err != nil {
		return fmt.Errorf("read expect file: %w", err)
	}
	if !bytes.Equal(bytes.TrimSpace(got), bytes.TrimSpace(want)) {
		return fmt.Errorf("simulator output mismatch\nexpected:\n%s\nactual:\n%s", string(want), string(got))
	}
	return nil
}

func withOutputWriter(path string, fn func(io.Writer) error) error {
	w, cleanup, err := outputWriter(path)
	if err != nil {
		return err
	}
	if cleanup == nil {
		return fn(w)
	}
	err = fn(w)
	if closeErr := cleanup(); err == nil && closeErr != nil {
		err = closeErr
	}
	return err
}

func outputWriter(path string) (io.Writer, func() error, error) {
	if path == "" || path == "-" {
		return os.Stdout, nil, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, err
	}
	return f, f.Close, nil
}
