// Command wisp is the CLI driver for the wisp language: with no arguments
// it starts a REPL, with a file argument it compiles and runs the file, and
// subcommands expose ahead-of-time compilation to .wbc bytecode images plus
// a disassembler for inspecting compiled code.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"
	pkgerrors "github.com/pkg/errors"
	"github.com/urfave/cli/v3"

	"github.com/wisplang/wisp/pkg/bytecode"
	"github.com/wisplang/wisp/pkg/compiler"
	"github.com/wisplang/wisp/pkg/debug"
	"github.com/wisplang/wisp/pkg/object"
	"github.com/wisplang/wisp/pkg/table"
	"github.com/wisplang/wisp/pkg/vm"
)

const version = "0.1.0"

// Exit codes follow the BSD sysexits convention: EX_USAGE for bad
// invocations, EX_DATAERR for compile errors, EX_SOFTWARE for runtime
// errors, EX_IOERR for unreadable input.
const (
	exitUsage        = 64
	exitCompileError = 65
	exitRuntimeError = 70
	exitIOError      = 74
)

var flagDebug bool

func main() {
	cmd := newCommand()
	if err := cmd.Run(context.Background(), os.Args); err != nil {
		if flagDebug {
			fmt.Fprintf(os.Stderr, "%+v\n", err)
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(exitCode(err))
	}
}

func newCommand() *cli.Command {
	return &cli.Command{
		Name:      "wisp",
		Usage:     "a bytecode-compiled scripting language",
		Version:   version,
		ArgsUsage: "[file]",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "trace-execution",
				Usage: "print the stack and each instruction as it executes",
			},
			&cli.BoolFlag{
				Name:  "dump-code",
				Usage: "disassemble each compiled function before running",
			},
			&cli.BoolFlag{
				Name:        "debug",
				Usage:       "print wrapped error traces on failure",
				Destination: &flagDebug,
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "run",
				Usage:     "compile and run a .wisp source file or .wbc image",
				ArgsUsage: "FILE",
				Action: func(_ context.Context, cmd *cli.Command) error {
					if cmd.Args().Len() == 0 {
						return cli.Exit("Usage: wisp run FILE", exitUsage)
					}
					return runFile(cmd, cmd.Args().First())
				},
			},
			{
				Name:      "compile",
				Usage:     "compile a .wisp source file to a .wbc bytecode image",
				ArgsUsage: "IN [OUT]",
				Action:    compileAction,
			},
			{
				Name:      "disassemble",
				Aliases:   []string{"disasm"},
				Usage:     "dump the compiled form of a .wisp or .wbc file without running it",
				ArgsUsage: "FILE",
				Action:    disassembleAction,
			},
		},
		Action: func(_ context.Context, cmd *cli.Command) error {
			if cmd.Args().Len() == 0 {
				return runREPL(cmd)
			}
			return runFile(cmd, cmd.Args().First())
		},
	}
}

// exitCode maps an error to the process exit status: compile errors and
// runtime errors keep their sysexits codes, everything else (unreadable
// files, corrupt images) is an I/O failure.
func exitCode(err error) int {
	var runtimeErr *vm.RuntimeError
	if errors.As(err, &runtimeErr) {
		return exitRuntimeError
	}
	var compileErrs compiler.ErrorList
	if errors.As(err, &compileErrs) {
		return exitCompileError
	}
	return exitIOError
}

func runFile(cmd *cli.Command, path string) error {
	interns := table.New()
	machine := vm.New(interns)
	machine.TraceExecution = cmd.Bool("trace-execution")

	fn, err := loadFunction(cmd, path, interns)
	if err != nil {
		return err
	}
	return machine.RunFunction(fn)
}

// loadFunction produces a runnable top-level function from path: .wbc images
// are decoded directly, anything else is treated as source and compiled.
func loadFunction(cmd *cli.Command, path string, interns *table.Table) (*object.ObjFunction, error) {
	var fn *object.ObjFunction
	if filepath.Ext(path) == ".wbc" {
		f, err := os.Open(path)
		if err != nil {
			return nil, pkgerrors.Wrapf(err, "opening %s", path)
		}
		defer f.Close()
		fn, err = bytecode.Decode(f, interns)
		if err != nil {
			return nil, pkgerrors.Wrapf(err, "loading %s", path)
		}
	} else {
		src, err := os.ReadFile(path)
		if err != nil {
			return nil, pkgerrors.Wrapf(err, "reading %s", path)
		}
		fn, err = compiler.New(interns).Compile(string(src))
		if err != nil {
			return nil, err
		}
	}

	if cmd.Bool("dump-code") {
		debug.DisassembleFunction(debug.Colorable(os.Stdout), fn)
	}
	return fn, nil
}

func compileAction(_ context.Context, cmd *cli.Command) error {
	if cmd.Args().Len() == 0 {
		return cli.Exit("Usage: wisp compile IN [OUT]", exitUsage)
	}
	input := cmd.Args().Get(0)
	output := cmd.Args().Get(1)
	if output == "" {
		output = strings.TrimSuffix(input, ".wisp") + ".wbc"
	}

	src, err := os.ReadFile(input)
	if err != nil {
		return pkgerrors.Wrapf(err, "reading %s", input)
	}
	fn, err := compiler.New(table.New()).Compile(string(src))
	if err != nil {
		return err
	}

	out, err := os.Create(output)
	if err != nil {
		return pkgerrors.Wrapf(err, "creating %s", output)
	}
	defer out.Close()
	if err := bytecode.Encode(fn, out); err != nil {
		return pkgerrors.Wrapf(err, "writing %s", output)
	}

	fmt.Printf("Compiled %s -> %s\n", input, output)
	return nil
}

func disassembleAction(_ context.Context, cmd *cli.Command) error {
	if cmd.Args().Len() == 0 {
		return cli.Exit("Usage: wisp disassemble FILE", exitUsage)
	}
	path := cmd.Args().First()

	interns := table.New()
	var fn *object.ObjFunction
	if filepath.Ext(path) == ".wbc" {
		f, err := os.Open(path)
		if err != nil {
			return pkgerrors.Wrapf(err, "opening %s", path)
		}
		defer f.Close()
		fn, err = bytecode.Decode(f, interns)
		if err != nil {
			return pkgerrors.Wrapf(err, "loading %s", path)
		}
	} else {
		src, err := os.ReadFile(path)
		if err != nil {
			return pkgerrors.Wrapf(err, "reading %s", path)
		}
		fn, err = compiler.New(interns).Compile(string(src))
		if err != nil {
			return err
		}
	}

	debug.DisassembleFunction(debug.Colorable(os.Stdout), fn)
	return nil
}

// runREPL reads one line at a time, interpreting each against a VM whose
// globals and interned strings persist for the whole session, so variables
// defined on one line stay visible on the next.
func runREPL(cmd *cli.Command) error {
	interns := table.New()
	machine := vm.New(interns)
	machine.TraceExecution = cmd.Bool("trace-execution")

	fmt.Printf("wisp %s\n", version)

	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	histPath := historyPath()
	if histPath != "" {
		if f, err := os.Open(histPath); err == nil {
			line.ReadHistory(f)
			f.Close()
		}
	}

	for {
		input, err := line.Prompt("> ")
		if err == liner.ErrPromptAborted {
			continue
		}
		if err != nil {
			break
		}
		if strings.TrimSpace(input) == "" {
			continue
		}
		line.AppendHistory(input)

		if cmd.Bool("dump-code") {
			fn, err := compiler.New(interns).Compile(input)
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				continue
			}
			debug.DisassembleFunction(debug.Colorable(os.Stdout), fn)
			if err := machine.RunFunction(fn); err != nil {
				fmt.Fprintln(os.Stderr, err)
			}
			continue
		}

		if err := machine.Interpret(input); err != nil {
			fmt.Fprintln(os.Stderr, err)
		}
	}
	fmt.Println()

	if histPath != "" {
		if f, err := os.Create(histPath); err == nil {
			line.WriteHistory(f)
			f.Close()
		}
	}
	return nil
}

func historyPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".wisp_history")
}
