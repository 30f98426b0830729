package tree

import (
	"bufio"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/ShayCichocki/phylorun/internal/format"
	"github.com/ShayCichocki/phylorun/pkg/models"
)

// TreeList holds the trees found in one file. Every tree is stored in
// canonical Newick.
type TreeList struct {
	// Named groups trees by their NEXUS label.
	Named map[string][]string
	// Order lists the labels of Named in file order.
	Order []string
	// Trees is every tree in file order, named or not.
	Trees []string
}

func newTreeList() *TreeList {
	return &TreeList{Named: make(map[string][]string)}
}

func (l *TreeList) add(label, newick string) {
	if label != "" {
		if _, ok := l.Named[label]; !ok {
			l.Order = append(l.Order, label)
		}
		l.Named[label] = append(l.Named[label], newick)
	}
	l.Trees = append(l.Trees, newick)
}

// Len returns the number of trees.
func (l *TreeList) Len() int {
	return len(l.Trees)
}

// Select returns the first tree stored under label.
func (l *TreeList) Select(label string) (string, bool) {
	trees := l.Named[label]
	if len(trees) == 0 {
		return "", false
	}
	return trees[0], true
}

// Last returns the final tree of the file.
func (l *TreeList) Last() (string, bool) {
	if len(l.Trees) == 0 {
		return "", false
	}
	return l.Trees[len(l.Trees)-1], true
}

// Options tunes tree decoding.
type Options struct {
	// TNTIndexBase is the first taxon number TNT writes. Indices are shifted
	// so that the decoded trees number taxa from 1.
	TNTIndexBase int
}

// DefaultOptions treats TNT indices as 1-based.
func DefaultOptions() Options {
	return Options{TNTIndexBase: 1}
}

// Decode extracts every tree from text written in dialect d
// (Newick, NEXUS or TNT).
func Decode(text string, d models.Dialect) (*TreeList, error) {
	return DecodeWith(text, d, DefaultOptions())
}

// DecodeWith is Decode with explicit options.
func DecodeWith(text string, d models.Dialect, opts Options) (*TreeList, error) {
	switch d {
	case models.DialectNewick:
		return decodeNewick(text)
	case models.DialectNexus:
		return decodeNexus(text)
	case models.DialectTNT:
		return decodeTNT(text, opts.TNTIndexBase)
	}
	return nil, fmt.Errorf("tree dialect %q: %w", d, format.ErrFormatDetection)
}

// DecodeFile reads and decodes the tree file at path, sniffing its dialect.
func DecodeFile(path string, opts Options) (*TreeList, models.Dialect, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("read tree file: %w", err)
	}
	text := string(raw)
	d := Sniff(text)
	l, err := DecodeWith(text, d, opts)
	if err != nil {
		return nil, d, fmt.Errorf("decode %s: %w", path, err)
	}
	return l, d, nil
}

var treadWord = regexp.MustCompile(`(?i)\btread\b`)

// Sniff decides the dialect of tree file content. Anything that is neither
// NEXUS nor a TNT tread dump is read as Newick.
func Sniff(text string) models.Dialect {
	sc := bufio.NewScanner(strings.NewReader(text))
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(strings.ToUpper(line), "#NEXUS") {
			return models.DialectNexus
		}
		break
	}
	if treadWord.MatchString(text) {
		return models.DialectTNT
	}
	return models.DialectNewick
}

// decodeNewick reads one or more ';'-terminated trees.
func decodeNewick(text string) (*TreeList, error) {
	l := newTreeList()
	for _, stmt := range splitTopLevel(text, ';') {
		if strings.TrimSpace(stripComments(stmt)) == "" {
			continue
		}
		t, err := Parse(stmt)
		if err != nil {
			return nil, err
		}
		l.add("", t.Newick())
	}
	if l.Len() == 0 {
		return nil, &format.ParseError{Dialect: models.DialectNewick, Msg: "no trees found"}
	}
	return l, nil
}

// decodeNexus reads every trees block, applying translate tables.
func decodeNexus(text string) (*TreeList, error) {
	stmts, err := format.SplitNexus(text)
	if err != nil {
		return nil, err
	}
	blocks, err := format.NexusBlocks(stmts)
	if err != nil {
		return nil, err
	}
	l := newTreeList()
	for _, b := range blocks {
		if b.Name != "trees" {
			continue
		}
		var translate map[string]string
		for _, s := range b.Body {
			switch s.Keyword() {
			case "translate":
				translate = parseTranslate(s.Rest())
			case "tree", "utree":
				lhs, rhs, ok := strings.Cut(s.Rest(), "=")
				if !ok {
					return nil, &format.ParseError{Dialect: models.DialectNexus, Line: s.Line, Msg: "tree statement without '='"}
				}
				label := ""
				for _, w := range format.NexusWords(lhs) {
					if w != "*" {
						label = w
					}
				}
				t, err := Parse(rhs)
				if err != nil {
					return nil, fmt.Errorf("tree %q: %w", label, err)
				}
				if translate != nil {
					for _, leaf := range t.Leaves() {
						if name, ok := translate[leaf.Label]; ok {
							leaf.Label = name
						}
					}
				}
				l.add(label, t.Newick())
			}
		}
	}
	if l.Len() == 0 {
		return nil, &format.ParseError{Dialect: models.DialectNexus, Msg: "no trees block"}
	}
	return l, nil
}

func parseTranslate(s string) map[string]string {
	out := make(map[string]string)
	for _, part := range splitTopLevel(s, ',') {
		w := format.NexusWords(part)
		if len(w) >= 2 {
			out[w[0]] = w[1]
		}
	}
	return out
}

// decodeTNT reads tread sections. Trees inside a section are separated by
// '*' and siblings by whitespace.
func decodeTNT(text string, base int) (*TreeList, error) {
	l := newTreeList()
	locs := treadWord.FindAllStringIndex(text, -1)
	if len(locs) == 0 {
		return nil, &format.ParseError{Dialect: models.DialectTNT, Msg: "no tread command"}
	}
	for _, loc := range locs {
		line := 1 + strings.Count(text[:loc[0]], "\n")
		body := strings.TrimLeftFunc(text[loc[1]:], unicode.IsSpace)
		if strings.HasPrefix(body, "'") {
			end := strings.IndexByte(body[1:], '\'')
			if end < 0 {
				return nil, &format.ParseError{Dialect: models.DialectTNT, Line: line, Msg: "unterminated tread comment"}
			}
			body = body[end+2:]
		}
		end := strings.IndexByte(body, ';')
		if end < 0 {
			return nil, &format.ParseError{Dialect: models.DialectTNT, Line: line, Msg: "tread not terminated by ';'"}
		}
		for _, raw := range strings.Split(body[:end], "*") {
			if strings.TrimSpace(raw) == "" {
				continue
			}
			nwk, err := tntToNewick(raw)
			if err != nil {
				return nil, &format.ParseError{Dialect: models.DialectTNT, Line: line, Msg: err.Error()}
			}
			t, err := Parse(nwk)
			if err != nil {
				return nil, err
			}
			if base != 1 {
				shiftLeaves(t, 1-base)
			}
			l.add("", t.Newick())
		}
	}
	return l, nil
}

// tntToNewick inserts the commas TNT leaves out between siblings.
func tntToNewick(s string) (string, error) {
	var b strings.Builder
	depth, sibling := 0, false
	for i := 0; i < len(s); {
		c := s[i]
		switch {
		case c == '(':
			if sibling {
				b.WriteByte(',')
			}
			b.WriteByte('(')
			depth++
			sibling = false
			i++
		case c == ')':
			if depth == 0 {
				return "", fmt.Errorf("unbalanced parentheses")
			}
			b.WriteByte(')')
			depth--
			sibling = true
			i++
		case c == ',' || unicode.IsSpace(rune(c)):
			i++
		default:
			j := i
			for j < len(s) && !strings.ContainsRune("(),", rune(s[j])) && !unicode.IsSpace(rune(s[j])) {
				j++
			}
			if sibling {
				b.WriteByte(',')
			}
			b.WriteString(s[i:j])
			sibling = true
			i = j
		}
	}
	if depth != 0 {
		return "", fmt.Errorf("unbalanced parentheses")
	}
	b.WriteByte(';')
	return b.String(), nil
}

func shiftLeaves(t *Tree, by int) {
	for _, leaf := range t.Leaves() {
		if i, ok := leafIndex(leaf.Label); ok {
			leaf.Label = strconv.Itoa(i + by)
		}
	}
}

// splitTopLevel splits s on sep outside quotes and bracketed comments.
func splitTopLevel(s string, sep byte) []string {
	var out []string
	depth, quoted, start := 0, false, 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case quoted:
			if c == '\'' {
				quoted = false
			}
		case c == '\'':
			quoted = true
		case c == '[':
			depth++
		case c == ']' && depth > 0:
			depth--
		case c == sep && depth == 0:
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	return append(out, s[start:])
}

func stripComments(s string) string {
	var b strings.Builder
	depth := 0
	for _, r := range s {
		switch {
		case r == '[':
			depth++
		case r == ']' && depth > 0:
			depth--
		case depth == 0:
			b.WriteRune(r)
		}
	}
	return b.String()
}
