package compiler

import (
	"path/filepath"
	"strings"
)

// parseOutcome classifies an argument list that cannot be cached.
type parseOutcome int

const (
	// parseOK means the invocation is a single-file compile we can cache
	parseOK parseOutcome = iota

	// parseNotCompilation means the compiler was invoked without -c,
	// e.g. to link or to print information
	parseNotCompilation

	// parseNotCacheable means the invocation compiles but uses features
	// the cache key cannot capture safely
	parseNotCacheable
)

// parsedArgs is the result of understanding a cacheable invocation.
type parsedArgs struct {
	// input is the single source file, as given on the command line
	input string

	// output is the object file path, from -o or derived from input
	output string
}

// takesValue lists flags that consume the following argument when the
// value is not attached.
var takesValue = map[string]bool{
	"-I":             true,
	"-D":             true,
	"-U":             true,
	"-x":             true,
	"-include":       true,
	"-isystem":       true,
	"-iquote":        true,
	"-idirafter":     true,
	"-Xlinker":       true,
	"-Xpreprocessor": true,
}

// parseArguments decides whether a gcc-style argument list is a
// cacheable single-file compile, and if so extracts the input and
// output paths.
func parseArguments(args []string) (parsedArgs, parseOutcome) {
	var (
		compile bool
		output  string
		inputs  []string
	)

	for i := 0; i < len(args); i++ {
		arg := args[i]

		switch {
		case arg == "-c":
			compile = true

		case arg == "-o":
			if i+1 < len(args) {
				i++
				output = args[i]
			}

		case strings.HasPrefix(arg, "-o"):
			// attached form, -oFILE
			output = arg[2:]

		case arg == "-" || strings.HasPrefix(arg, "@"):
			// stdin input or a response file: contents are invisible
			// to the key derivation
			return parsedArgs{}, parseNotCacheable

		case arg == "-E" || strings.HasPrefix(arg, "-M"):
			// caller wants preprocessor output, not an object
			return parsedArgs{}, parseNotCacheable

		case strings.HasPrefix(arg, "-"):
			if takesValue[arg] {
				i++
			}

		default:
			inputs = append(inputs, arg)
		}
	}

	if !compile {
		return parsedArgs{}, parseNotCompilation
	}

	if len(inputs) != 1 {
		return parsedArgs{}, parseNotCacheable
	}

	input := inputs[0]
	if output == "" {
		base := filepath.Base(input)
		ext := filepath.Ext(base)
		output = strings.TrimSuffix(base, ext) + ".o"
	}

	return parsedArgs{input: input, output: output}, parseOK
}

// preprocessArgs rewrites a compile argument list into the matching
// preprocessor invocation: -c becomes -E and the explicit output is
// dropped so the preprocessed text arrives on stdout.
func preprocessArgs(args []string) []string {
	out := make([]string, 0, len(args))

	for i := 0; i < len(args); i++ {
		arg := args[i]

		switch {
		case arg == "-c":
			out = append(out, "-E")

		case arg == "-o":
			i++ // skip the output path too

		case strings.HasPrefix(arg, "-o"):
			// attached output dropped for the same reason

		default:
			out = append(out, arg)
		}
	}

	return out
}
