package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"rattle/internal/ast"
	"rattle/internal/compiler"
	"rattle/internal/sexp"
)

const VERSION = "0.1.0"

func main() {
	os.Exit(run())
}

func run() int {
	cfg := loadConfig(configFile)

	parseTree := cfg.ParseTree
	noRequire := cfg.NoRequire
	outPath := cfg.Output
	filePath := ""

	args := os.Args[1:]
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--parse-tree":
			parseTree = true
		case "--norequire":
			noRequire = true
		case "-o":
			if i+1 >= len(args) {
				fmt.Fprintln(os.Stderr, "Error: -o needs a file name")
				return 1
			}
			i++
			outPath = args[i]
		case "--version":
			fmt.Println("rattle " + VERSION)
			return 0
		case "--help":
			usage()
			return 0
		default:
			if filePath == "" {
				filePath = args[i]
			}
		}
	}

	// Read the file argument when it names an existing file, standard input
	// otherwise.
	src := ""
	srcDir := "."
	if filePath != "" && fileExists(filePath) {
		content, err := os.ReadFile(filePath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: could not read %s: %s\n", filePath, err)
			return 1
		}
		src = string(content)
		srcDir = filepath.Dir(filePath)
	} else {
		content, err := io.ReadAll(os.Stdin)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: could not read stdin: %s\n", err)
			return 1
		}
		src = string(content)
	}

	tree, err := sexp.Parse(src)
	if err != nil {
		printParseError(err)
		return 1
	}

	if !noRequire {
		tree, err = sexp.ExpandRequires(tree, srcDir)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
			return 1
		}
	}

	if parseTree {
		fmt.Print(ast.DebugString(tree))
		return 0
	}

	out := os.Stdout
	if outPath != "" {
		f, err := os.Create(outPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: could not create %s: %s\n", outPath, err)
			return 1
		}
		defer f.Close()
		out = f
	}

	opts := &compiler.Options{Output: out, Diag: os.Stderr}
	if err := compiler.Compile(tree, opts); err != nil {
		fmt.Fprintf(os.Stderr, "Compile error: %s\n", err)
		return 1
	}
	return 0
}

func printParseError(err error) {
	pe, ok := err.(*sexp.ParseError)
	if !ok {
		fmt.Fprintf(os.Stderr, "Parse error: %s\n", err)
		return
	}
	fmt.Fprintf(os.Stderr, "Parse error: %s\n", pe.Msg)
	fmt.Fprintf(os.Stderr, "  at line %d, col %d\n", pe.Pos.Line, pe.Pos.Column)
	if pe.Remaining != "" {
		fmt.Fprintf(os.Stderr, "  unconsumed input: %q\n", pe.Remaining)
	}
}

func usage() {
	fmt.Println("Usage: rattle [flags] [file]")
	fmt.Println("Reads the file if it exists, standard input otherwise.")
	fmt.Println()
	fmt.Println("Flags:")
	fmt.Println("  --parse-tree   dump the parse tree and stop")
	fmt.Println("  --norequire    do not expand require forms statically")
	fmt.Println("  -o <file>      write assembly to <file> instead of stdout")
	fmt.Println("  --version      print the version")
}

func fileExists(path string) bool {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return false
	}
	return true
}
