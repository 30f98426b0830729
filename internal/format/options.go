package format

import "github.com/ShayCichocki/phylorun/internal/matrix"

// Options carries the configurable tokens shared by every dialect.
type Options struct {
	Missing string
	Gap     string
	// Open and Close delimit polymorphic cells on export; both are also
	// accepted on import next to the dialect's native pair.
	Open  string
	Close string
}

// DefaultOptions returns ? for missing, - for gap and () for polymorphism.
func DefaultOptions() Options {
	return Options{Missing: "?", Gap: "-", Open: "(", Close: ")"}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Missing == "" {
		o.Missing = d.Missing
	}
	if o.Gap == "" {
		o.Gap = d.Gap
	}
	if o.Open == "" || o.Close == "" {
		o.Open, o.Close = d.Open, d.Close
	}
	return o
}

// fromToken maps a file token to the canonical state.
func (o Options) fromToken(tok string) string {
	switch tok {
	case o.Missing:
		return matrix.Missing
	case o.Gap:
		return matrix.Gap
	}
	return tok
}

// toToken maps a canonical state to the file token.
func (o Options) toToken(state string) string {
	switch state {
	case matrix.Missing:
		return o.Missing
	case matrix.Gap:
		return o.Gap
	}
	return state
}

// delimiters returns the accepted polymorphism pairs: the configured one
// first, then the dialect's native pairs.
func (o Options) delimiters(native ...[2]rune) map[rune]rune {
	pairs := make(map[rune]rune, 1+len(native))
	if open, close := []rune(o.Open), []rune(o.Close); len(open) == 1 && len(close) == 1 {
		pairs[open[0]] = close[0]
	}
	for _, p := range native {
		if _, ok := pairs[p[0]]; !ok {
			pairs[p[0]] = p[1]
		}
	}
	return pairs
}
