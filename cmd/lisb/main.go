package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/kristofer/lisb/pkg/interp"
)

const (
	exitCompileError = 65
	exitRuntimeError = 70
	exitIOError      = 74
	exitUsageError   = 64
)

func main() {
	switch len(os.Args) {
	case 1:
		runREPL()
	case 2:
		runFile(os.Args[1])
	default:
		fmt.Fprintln(os.Stderr, "Usage: lisb [path]")
		os.Exit(exitUsageError)
	}
}

func runFile(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading %s: %v\n", path, err)
		os.Exit(exitIOError)
	}

	in := interp.New()
	_, result, err := in.Interpret(string(data))
	switch result {
	case interp.CompileError:
		fmt.Fprintln(os.Stderr, interp.FormatError(err))
		os.Exit(exitCompileError)
	case interp.RuntimeError:
		fmt.Fprintln(os.Stderr, interp.FormatError(err))
		os.Exit(exitRuntimeError)
	}
}

// runREPL reads input from stdin, buffering it across lines until
// parentheses balance, evaluates every form in it, and prints the value of
// the last one unless that value is Void. Unlike the teacher's period-terminated REPL, lisb forms are
// self-delimiting by parenthesis nesting, so there is no sentinel
// punctuation to wait for.
func runREPL() {
	fmt.Println("lisb")
	scanner := bufio.NewScanner(os.Stdin)

	in := interp.New()
	var buf strings.Builder

	for {
		if buf.Len() == 0 {
			fmt.Print("> ")
		} else {
			fmt.Print("... ")
		}

		if !scanner.Scan() {
			break
		}
		buf.WriteString(scanner.Text())
		buf.WriteString("\n")

		if !parensBalanced(buf.String()) {
			continue
		}

		input := strings.TrimSpace(buf.String())
		buf.Reset()
		if input == "" {
			continue
		}

		v, result, err := in.Interpret(input)
		switch result {
		case interp.CompileError, interp.RuntimeError:
			fmt.Fprintln(os.Stderr, interp.FormatError(err))
		default:
			if !v.IsVoid() {
				fmt.Println(v.String())
			}
		}
	}

	if err := scanner.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "Error reading input: %v\n", err)
	}
}

// parensBalanced reports whether src contains no unclosed '(' outside of
// string literals and ';' comments, i.e. whether the REPL has read a
// complete sequence of top-level forms.
func parensBalanced(src string) bool {
	depth := 0
	inString := false
	for i := 0; i < len(src); i++ {
		c := src[i]
		switch {
		case inString:
			if c == '"' {
				inString = false
			}
		case c == ';':
			for i < len(src) && src[i] != '\n' {
				i++
			}
		case c == '"':
			inString = true
		case c == '(':
			depth++
		case c == ')':
			depth--
		}
	}
	return depth <= 0
}
