package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	isatty "github.com/mattn/go-isatty"
	"github.com/peterh/liner"

	clovec "github.com/clove-lang/clovec"
	"github.com/clove-lang/clovec/pkg/irfmt"
)

const (
	appName     = "clovec"
	historyFile = ".clovec_history"
	promptMain  = "=> "
	promptCont  = ".. "
)

var banner = fmt.Sprintf("%s REPL: type a form to see its lowering.\nCtrl+D exits. Type :quit to exit.", appName)

func red(s string) string {
	if useColor {
		return "\x1b[31m" + s + "\x1b[0m"
	}
	return s
}

var useColor bool

func main() {
	os.Exit(run())
}

func run() int {
	logLevel := flag.String("log-level", "", "compiler log level (debug, info, warn, error)")
	noAddr := flag.Bool("bare", false, "omit addresses and comments from listings")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] [file]\n", appName)
		fmt.Fprintf(os.Stderr, "With no file, reads stdin; on a terminal, starts a REPL.\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	useColor = isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd())

	opts := clovec.DefaultOptions()
	if *logLevel != "" {
		opts.Logger = clovec.NewLogger(clovec.ParseLogLevel(*logLevel), os.Stderr)
	}
	cfg := irfmt.DefaultCfg()
	if *noAddr {
		cfg = irfmt.Cfg{}
	}

	switch {
	case flag.NArg() > 1:
		flag.Usage()
		return 2
	case flag.NArg() == 1:
		return compileFile(flag.Arg(0), opts, cfg)
	case isatty.IsTerminal(os.Stdin.Fd()) || isatty.IsCygwinTerminal(os.Stdin.Fd()):
		return repl(opts, cfg)
	default:
		src, err := io.ReadAll(os.Stdin)
		if err != nil {
			fmt.Fprintln(os.Stderr, red(err.Error()))
			return 1
		}
		return compileAndPrint(string(src), opts, cfg)
	}
}

func compileFile(path string, opts clovec.CompileOptions, cfg irfmt.Cfg) int {
	src, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, red(err.Error()))
		return 1
	}
	return compileAndPrint(string(src), opts, cfg)
}

func compileAndPrint(src string, opts clovec.CompileOptions, cfg irfmt.Cfg) int {
	prog, err := clovec.CompileSource(src, opts)
	if err != nil {
		fmt.Fprintln(os.Stderr, red(err.Error()))
		return 1
	}
	fmt.Print(irfmt.Format(prog, cfg))
	return 0
}

func repl(opts clovec.CompileOptions, cfg irfmt.Cfg) int {
	fmt.Println(banner)

	home, _ := os.UserHomeDir()
	histPath := filepath.Join(home, historyFile)

	ln := liner.NewLiner()
	defer ln.Close()
	ln.SetCtrlCAborts(true)

	defer func() {
		if f, err := os.Create(histPath); err == nil {
			_, _ = ln.WriteHistory(f)
			_ = f.Close()
		}
	}()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigc)
	go func() {
		<-sigc
		ln.Close()
		os.Exit(130)
	}()

	if f, err := os.Open(histPath); err == nil {
		_, _ = ln.ReadHistory(f)
		_ = f.Close()
	}

	for {
		src, ok := readForm(ln)
		if !ok {
			fmt.Println()
			return 0
		}
		trimmed := strings.TrimSpace(src)
		if trimmed == "" {
			continue
		}
		if trimmed == ":quit" {
			return 0
		}

		prog, err := clovec.CompileSource(src, opts)
		if err != nil {
			fmt.Fprintln(os.Stderr, red(err.Error()))
			continue
		}
		fmt.Print(irfmt.Format(prog, cfg))
		ln.AppendHistory(strings.ReplaceAll(src, "\n", " "))
	}
}

// readForm keeps prompting while the accumulated input parses as
// incomplete, so delimited forms can span lines.
func readForm(ln *liner.State) (string, bool) {
	var b strings.Builder
	for {
		var line string
		var err error
		if b.Len() == 0 {
			line, err = ln.Prompt(promptMain)
		} else {
			line, err = ln.Prompt(promptCont)
		}
		if errors.Is(err, io.EOF) {
			return "", false
		}
		if err != nil {
			return "", true
		}

		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(line)

		src := b.String()
		if _, perr := clovec.Parse(src); errors.Is(perr, clovec.ErrIncomplete) {
			continue
		}
		return src, true
	}
}
