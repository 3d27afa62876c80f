package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/wippyai/lua-runtime/errors"
	"github.com/wippyai/lua-runtime/runtime"
)

func main() {
	var (
		expr        = flag.String("e", "", "Expression or statement to run")
		interactive = flag.Bool("i", false, "Interactive REPL with TUI")
		memLimit    = flag.Uint64("mem", 0, "Guest memory cap in megabytes (0 = unlimited)")
		allLibs     = flag.Bool("all-libs", false, "Open every guest standard library, including io and debug")
	)
	flag.Parse()

	if *expr == "" && !*interactive && flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "Usage: lua <script.lua> [args...]")
		fmt.Fprintln(os.Stderr, "       lua -e '<code>'")
		fmt.Fprintln(os.Stderr, "       lua -i  (interactive mode)")
		os.Exit(1)
	}

	var opts []runtime.Option
	if *memLimit > 0 {
		opts = append(opts, runtime.WithMaxMemory(*memLimit<<20))
	}
	if *allLibs {
		opts = append(opts, runtime.WithAllLibraries())
	}

	rt, err := runtime.New(opts...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer rt.Close()

	if *interactive {
		if err := runInteractive(rt); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if *expr != "" {
		if err := runChunk(rt, *expr, nil); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	data, err := os.ReadFile(flag.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: read script: %v\n", err)
		os.Exit(1)
	}
	args := make([]any, flag.NArg()-1)
	for i, a := range flag.Args()[1:] {
		args[i] = a
	}
	if err := runChunk(rt, string(data), args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// runChunk evaluates code as an expression first, so "1+2" just works,
// and falls back to statement execution when it does not parse as one.
func runChunk(rt *runtime.Runtime, code string, args []any) error {
	result, err := rt.Eval(code, args...)
	if errors.IsKind(err, errors.KindSyntax) {
		result, err = rt.Execute(code, args...)
	}
	if err != nil {
		return err
	}
	if result != nil {
		fmt.Println(result)
	}
	return nil
}
