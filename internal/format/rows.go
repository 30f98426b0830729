package format

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/ShayCichocki/phylorun/internal/matrix"
	"github.com/ShayCichocki/phylorun/pkg/models"
)

// piece is either one state character or a delimited polymorphic group.
type piece struct {
	text   string
	group  bool
	states []string
}

// scanRow splits a state string into whitespace separated words, each a
// sequence of pieces. Whitespace inside a polymorphic group does not split.
func scanRow(s string, pairs map[rune]rune) ([][]piece, error) {
	var words [][]piece
	var cur []piece
	rs := []rune(s)
	for i := 0; i < len(rs); i++ {
		r := rs[i]
		if unicode.IsSpace(r) {
			if len(cur) > 0 {
				words = append(words, cur)
				cur = nil
			}
			continue
		}
		closer, ok := pairs[r]
		if !ok {
			cur = append(cur, piece{text: string(r)})
			continue
		}
		end := -1
		for k := i + 1; k < len(rs); k++ {
			if rs[k] == closer {
				end = k
				break
			}
		}
		if end < 0 {
			return nil, fmt.Errorf("unterminated polymorphism %q", string(rs[i:]))
		}
		content := string(rs[i+1 : end])
		cur = append(cur, piece{text: string(rs[i : end+1]), group: true, states: groupStates(content)})
		i = end
	}
	if len(cur) > 0 {
		words = append(words, cur)
	}
	return words, nil
}

// groupStates splits the inside of a polymorphic group. Whitespace or
// commas separate multi-character tokens; otherwise every rune is a state.
func groupStates(content string) []string {
	if strings.ContainsFunc(content, func(r rune) bool { return unicode.IsSpace(r) || r == ',' }) {
		return strings.FieldsFunc(content, func(r rune) bool { return unicode.IsSpace(r) || r == ',' })
	}
	var out []string
	for _, r := range content {
		out = append(out, string(r))
	}
	return out
}

// parseCells converts the complete state string of one taxon into nchars cells.
//
// When the string holds exactly nchars whitespace separated words, each word
// is one (possibly multi-character) token. Otherwise the words are joined and
// every character or delimited group is one cell.
func parseCells(s string, nchars int, pairs map[rune]rune, opts Options) ([]matrix.Cell, error) {
	words, err := scanRow(s, pairs)
	if err != nil {
		return nil, err
	}
	var cells []matrix.Cell
	if len(words) == nchars {
		for _, w := range words {
			if len(w) == 1 && w[0].group {
				cells = append(cells, polyCell(w[0].states, opts))
				continue
			}
			var tok strings.Builder
			for _, p := range w {
				if p.group {
					return nil, fmt.Errorf("polymorphism inside token %q", joinPieces(w))
				}
				tok.WriteString(p.text)
			}
			cells = append(cells, matrix.Single(opts.fromToken(tok.String())))
		}
		return cells, nil
	}
	for _, w := range words {
		for _, p := range w {
			if p.group {
				cells = append(cells, polyCell(p.states, opts))
				continue
			}
			cells = append(cells, matrix.Single(opts.fromToken(p.text)))
		}
	}
	if len(cells) != nchars {
		return nil, fmt.Errorf("found %d states, expected %d", len(cells), nchars)
	}
	return cells, nil
}

func polyCell(states []string, opts Options) matrix.Cell {
	mapped := make([]string, len(states))
	for i, s := range states {
		mapped[i] = opts.fromToken(s)
	}
	if len(mapped) == 1 {
		return matrix.Single(mapped[0])
	}
	return matrix.Poly(mapped...)
}

func joinPieces(w []piece) string {
	var b strings.Builder
	for _, p := range w {
		b.WriteString(p.text)
	}
	return b.String()
}

// compact reports whether every state of m renders as a single character,
// in which case rows are written without separators.
func compact(m *matrix.DataMatrix, opts Options) bool {
	for i := 0; i < m.NTaxa; i++ {
		for j := 0; j < m.NChars; j++ {
			for _, s := range m.Cell(i, j).States {
				if len([]rune(opts.toToken(s))) != 1 {
					return false
				}
			}
		}
	}
	return true
}

// rowStates renders the states of taxon i.
func rowStates(m *matrix.DataMatrix, i int, opts Options, dense bool) string {
	var b strings.Builder
	for j := 0; j < m.NChars; j++ {
		if j > 0 && !dense {
			b.WriteByte(' ')
		}
		c := m.Cell(i, j).Canonical()
		if len(c.States) == 0 {
			b.WriteString(opts.Missing)
			continue
		}
		tokens := make([]string, len(c.States))
		for k, s := range c.States {
			tokens[k] = opts.toToken(s)
		}
		if len(tokens) == 1 {
			b.WriteString(tokens[0])
			continue
		}
		b.WriteString(opts.Open)
		b.WriteString(strings.Join(tokens, " "))
		b.WriteString(opts.Close)
	}
	return b.String()
}

// readName splits a matrix line into a taxon name and the remaining text.
// Names may be single-quoted, with '' standing for a literal quote.
func readName(line string) (name, rest string, err error) {
	line = strings.TrimLeftFunc(line, unicode.IsSpace)
	if line == "" {
		return "", "", nil
	}
	if line[0] != '\'' {
		i := strings.IndexFunc(line, unicode.IsSpace)
		if i < 0 {
			return line, "", nil
		}
		return line[:i], line[i:], nil
	}
	var b strings.Builder
	for i := 1; i < len(line); i++ {
		if line[i] != '\'' {
			b.WriteByte(line[i])
			continue
		}
		if i+1 < len(line) && line[i+1] == '\'' {
			b.WriteByte('\'')
			i++
			continue
		}
		return b.String(), line[i+1:], nil
	}
	return "", "", fmt.Errorf("unterminated quoted name %q", line)
}

// plainName makes a name safe for dialects without quoting.
func plainName(name string) string {
	return strings.Join(strings.Fields(name), "_")
}

// rowSet accumulates state text per taxon in first-seen order, which is how
// every interleaved layout is reassembled.
type rowSet struct {
	order []string
	text  map[string]*strings.Builder
}

func newRowSet() *rowSet {
	return &rowSet{text: make(map[string]*strings.Builder)}
}

func (rs *rowSet) add(name, states string) {
	b, ok := rs.text[name]
	if !ok {
		b = &strings.Builder{}
		rs.text[name] = b
		rs.order = append(rs.order, name)
	}
	if b.Len() > 0 {
		b.WriteByte(' ')
	}
	b.WriteString(strings.TrimSpace(states))
}

// build turns accumulated rows into a matrix of the declared dimensions.
func (rs *rowSet) build(d models.Dialect, name string, taxa []string, ntax, nchar int, pairs map[rune]rune, opts Options) (*matrix.DataMatrix, error) {
	if taxa == nil {
		taxa = rs.order
	}
	if len(taxa) != ntax {
		return nil, parseErr(d, 0, "found %d taxa, expected %d", len(taxa), ntax)
	}
	m := matrix.New(name)
	m.NTaxa, m.NChars = ntax, nchar
	m.Taxa = make([]string, 0, ntax)
	m.Cells = make([][]matrix.Cell, 0, ntax)
	seen := make(map[string]bool, ntax)
	for _, t := range taxa {
		if seen[t] {
			return nil, parseErr(d, 0, "duplicate taxon %q", t)
		}
		seen[t] = true
		b, ok := rs.text[t]
		if !ok {
			return nil, parseErr(d, 0, "no data for taxon %q", t)
		}
		cells, err := parseCells(b.String(), nchar, pairs, opts)
		if err != nil {
			return nil, parseErr(d, 0, "taxon %q: %v", t, err)
		}
		m.Taxa = append(m.Taxa, t)
		m.Cells = append(m.Cells, cells)
	}
	if len(rs.order) > len(taxa) {
		for _, t := range rs.order {
			if !seen[t] {
				return nil, parseErr(d, 0, "matrix row for undeclared taxon %q", t)
			}
		}
	}
	m.Characters = make([]string, nchar)
	for j := range m.Characters {
		m.Characters[j] = matrix.DefaultLabel(j)
	}
	return m, nil
}
