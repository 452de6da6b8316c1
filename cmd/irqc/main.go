package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"

	"github.com/davecgh/go-spew/spew"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"

	"github.com/tinyrange/irqc/internal/machine"
)

func run() error {
	verbose := flag.Bool("v", false, "enable debug logging")
	jsonLogs := flag.Bool("json", false, "write logs as JSON")
	dump := flag.Bool("dump", false, "dump every controller's state after the run")
	noProgress := flag.Bool("no-progress", false, "never show a progress bar")
	restore := flag.String("restore", "", "restore controller state from a snapshot before running")
	save := flag.String("save", "", "save controller state to a snapshot after running")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `irqc - run interrupt controller scenarios against an emulated machine

USAGE:
  irqc [flags] <machine.yaml> [scenario.yaml]

FLAGS:
  -v              Enable debug logging (every register access and output update)
  -json           Write logs as JSON instead of text
  -dump           Dump every controller's state after the run
  -no-progress    Never show a progress bar (shown by default on a terminal)
  -restore FILE   Restore controller state from FILE before running
  -save FILE      Save controller state to FILE after running

Without a scenario the machine layout and initial state are printed.

EXAMPLES:
  irqc machine.yaml                          Show the MMIO layout
  irqc machine.yaml boot.yaml                Run a scenario
  irqc -v machine.yaml boot.yaml             Run with access tracing
  irqc -save state.snap machine.yaml a.yaml  Run and keep the final state
  irqc -restore state.snap machine.yaml b.yaml
`)
	}
	flag.Parse()

	if flag.NArg() < 1 || flag.NArg() > 2 {
		flag.Usage()
		os.Exit(1)
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler = slog.NewTextHandler(os.Stderr, opts)
	if *jsonLogs {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	log := slog.New(handler)

	cfg, err := machine.LoadConfig(flag.Arg(0))
	if err != nil {
		return err
	}

	m, err := machine.New(cfg, log)
	if err != nil {
		return err
	}
	defer m.Close()

	if *restore != "" {
		if err := m.LoadSnapshot(*restore); err != nil {
			return fmt.Errorf("restore %s: %w", *restore, err)
		}
		log.Info("restored snapshot", "path", *restore)
	}

	printLayout(os.Stdout, m)

	if flag.NArg() == 2 {
		sc, err := machine.LoadScenario(flag.Arg(1))
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		if err := runScenario(ctx, m, sc, !*noProgress && term.IsTerminal(int(os.Stderr.Fd()))); err != nil {
			return err
		}
		log.Info("scenario passed", "name", sc.Name, "steps", len(sc.Steps))
	}

	printState(os.Stdout, m)
	if *dump {
		for _, ctrl := range m.Controllers() {
			fmt.Fprint(os.Stdout, spew.Sdump(ctrl))
		}
	}

	if *save != "" {
		if err := m.SaveSnapshot(*save); err != nil {
			return fmt.Errorf("save %s: %w", *save, err)
		}
		log.Info("saved snapshot", "path", *save, "config", m.ConfigHash().String())
	}

	return nil
}

func runScenario(ctx context.Context, m *machine.Machine, sc *machine.Scenario, progress bool) error {
	if !progress {
		return m.Run(ctx, sc, nil)
	}

	description := sc.Name
	if description == "" {
		description = "scenario"
	}
	bar := progressbar.NewOptions(len(sc.Steps),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription(description),
		progressbar.OptionClearOnFinish(),
	)
	defer bar.Close()

	return m.Run(ctx, sc, func(machine.StepResult) {
		_ = bar.Add(1)
	})
}

func printLayout(w io.Writer, m *machine.Machine) {
	if m.MemorySize() > 0 {
		fmt.Fprintf(w, "%-12s [0x%08x-0x%08x)\n", "ram", m.MemoryBase(), m.MemoryBase()+m.MemorySize())
	}
	for _, alloc := range m.Layout() {
		line, _ := m.CPULine(alloc.Name)
		fmt.Fprintf(w, "%-12s %s cpu_line=%d\n", alloc.Name, alloc.Region(), line)
	}
}

func printState(w io.Writer, m *machine.Machine) {
	for i, name := range m.ControllerNames() {
		fmt.Fprintf(w, "%-12s %s\n", name, m.Controllers()[i])
	}
	if lines := m.AssertedCPULines(); len(lines) > 0 {
		fmt.Fprintf(w, "cpu lines asserted: %v\n", lines)
	}
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "irqc: %v\n", err)
		os.Exit(1)
	}
}
