// Package tree parses and writes Newick trees and reads the tree files
// produced by the analysis engines.
package tree

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/ShayCichocki/phylorun/internal/format"
	"github.com/ShayCichocki/phylorun/pkg/models"
)

// Node is one vertex of a parsed tree.
type Node struct {
	Label string
	// Length is nil when the branch length was not given.
	Length   *float64
	Children []*Node
}

// IsLeaf reports whether the node has no children.
func (n *Node) IsLeaf() bool {
	return len(n.Children) == 0
}

// Tree is a rooted tree as written in Newick.
type Tree struct {
	Root *Node
}

// Leaves returns the leaf nodes in left-to-right order.
func (t *Tree) Leaves() []*Node {
	var out []*Node
	var walk func(*Node)
	walk = func(n *Node) {
		if n.IsLeaf() {
			out = append(out, n)
			return
		}
		for _, c := range n.Children {
			walk(c)
		}
	}
	if t.Root != nil {
		walk(t.Root)
	}
	return out
}

// LeafLabels returns the leaf labels in left-to-right order.
func (t *Tree) LeafLabels() []string {
	leaves := t.Leaves()
	out := make([]string, len(leaves))
	for i, n := range leaves {
		out[i] = n.Label
	}
	return out
}

// Newick returns the canonical encoding: no whitespace, labels quoted only
// when required, branch lengths in shortest 'g' form, terminated by ';'.
func (t *Tree) Newick() string {
	var b strings.Builder
	if t.Root != nil {
		writeNode(&b, t.Root)
	}
	b.WriteByte(';')
	return b.String()
}

func writeNode(b *strings.Builder, n *Node) {
	if len(n.Children) > 0 {
		b.WriteByte('(')
		for i, c := range n.Children {
			if i > 0 {
				b.WriteByte(',')
			}
			writeNode(b, c)
		}
		b.WriteByte(')')
	}
	b.WriteString(quoteLabel(n.Label))
	if n.Length != nil {
		b.WriteByte(':')
		b.WriteString(strconv.FormatFloat(*n.Length, 'g', -1, 64))
	}
}

const newickPunct = "()[]':;,"

func quoteLabel(s string) string {
	if s == "" {
		return ""
	}
	if !strings.ContainsAny(s, newickPunct) && !strings.ContainsFunc(s, unicode.IsSpace) {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// Parse reads a single Newick tree. The terminating ';' is optional and
// bracketed comments, including [&U] style annotations, are dropped.
func Parse(s string) (*Tree, error) {
	p := &parser{src: s}
	if err := p.skip(); err != nil {
		return nil, err
	}
	if p.done() {
		return nil, p.errorf("empty tree")
	}
	root, err := p.node()
	if err != nil {
		return nil, err
	}
	if err := p.skip(); err != nil {
		return nil, err
	}
	if !p.done() && p.peek() == ';' {
		p.pos++
		if err := p.skip(); err != nil {
			return nil, err
		}
	}
	if !p.done() {
		return nil, p.errorf("unexpected %q after tree", p.src[p.pos:])
	}
	return &Tree{Root: root}, nil
}

type parser struct {
	src string
	pos int
}

func (p *parser) done() bool { return p.pos >= len(p.src) }

func (p *parser) peek() byte { return p.src[p.pos] }

func (p *parser) errorf(msg string, args ...any) error {
	return &format.ParseError{
		Dialect: models.DialectNewick,
		Msg:     fmt.Sprintf("offset %d: ", p.pos) + fmt.Sprintf(msg, args...),
	}
}

// skip advances past whitespace and (nested) comments.
func (p *parser) skip() error {
	for !p.done() {
		c := p.peek()
		switch {
		case c == '[':
			start, depth := p.pos, 0
			for ; !p.done(); p.pos++ {
				if p.src[p.pos] == '[' {
					depth++
				} else if p.src[p.pos] == ']' {
					depth--
					if depth == 0 {
						break
					}
				}
			}
			if p.done() {
				p.pos = start
				return p.errorf("unterminated comment")
			}
			p.pos++
		case unicode.IsSpace(rune(c)):
			p.pos++
		default:
			return nil
		}
	}
	return nil
}

func (p *parser) node() (*Node, error) {
	n := &Node{}
	if err := p.skip(); err != nil {
		return nil, err
	}
	if !p.done() && p.peek() == '(' {
		p.pos++
		for {
			child, err := p.node()
			if err != nil {
				return nil, err
			}
			n.Children = append(n.Children, child)
			if err := p.skip(); err != nil {
				return nil, err
			}
			if p.done() {
				return nil, p.errorf("unbalanced parentheses")
			}
			c := p.peek()
			p.pos++
			if c == ')' {
				break
			}
			if c != ',' {
				p.pos--
				return nil, p.errorf("expected ',' or ')', found %q", c)
			}
		}
	}
	if err := p.skip(); err != nil {
		return nil, err
	}
	label, err := p.label()
	if err != nil {
		return nil, err
	}
	n.Label = label
	if err := p.skip(); err != nil {
		return nil, err
	}
	if !p.done() && p.peek() == ':' {
		p.pos++
		if err := p.skip(); err != nil {
			return nil, err
		}
		start := p.pos
		for !p.done() && !strings.ContainsRune(newickPunct, rune(p.peek())) && !unicode.IsSpace(rune(p.peek())) {
			p.pos++
		}
		text := p.src[start:p.pos]
		v, err := strconv.ParseFloat(text, 64)
		if err != nil {
			p.pos = start
			return nil, p.errorf("bad branch length %q", text)
		}
		n.Length = &v
	}
	return n, nil
}

func (p *parser) label() (string, error) {
	if p.done() {
		return "", nil
	}
	if p.peek() != '\'' {
		start := p.pos
		for !p.done() && !strings.ContainsRune(newickPunct, rune(p.peek())) && !unicode.IsSpace(rune(p.peek())) {
			p.pos++
		}
		return p.src[start:p.pos], nil
	}
	start := p.pos
	var b strings.Builder
	for p.pos++; !p.done(); p.pos++ {
		c := p.peek()
		if c != '\'' {
			b.WriteByte(c)
			continue
		}
		if p.pos+1 < len(p.src) && p.src[p.pos+1] == '\'' {
			b.WriteByte('\'')
			p.pos++
			continue
		}
		p.pos++
		return b.String(), nil
	}
	p.pos = start
	return "", p.errorf("unterminated quoted label")
}

// RemapLeaves replaces purely numeric leaf labels i with taxa[i-1].
// Leaves whose index is out of range keep their label and are returned.
func RemapLeaves(t *Tree, taxa []string) []string {
	var unmapped []string
	for _, leaf := range t.Leaves() {
		i, ok := leafIndex(leaf.Label)
		if !ok {
			continue
		}
		if i < 1 || i > len(taxa) {
			unmapped = append(unmapped, leaf.Label)
			continue
		}
		leaf.Label = taxa[i-1]
	}
	return unmapped
}

// RemapNewick parses s, remaps its numeric leaves and returns the
// canonical encoding along with any labels that could not be mapped.
func RemapNewick(s string, taxa []string) (string, []string, error) {
	t, err := Parse(s)
	if err != nil {
		return "", nil, err
	}
	unmapped := RemapLeaves(t, taxa)
	return t.Newick(), unmapped, nil
}

// RenameLeaves replaces leaf labels found in names.
func RenameLeaves(t *Tree, names map[string]string) {
	for _, leaf := range t.Leaves() {
		if to, ok := names[leaf.Label]; ok {
			leaf.Label = to
		}
	}
}

func leafIndex(label string) (int, bool) {
	if label == "" {
		return 0, false
	}
	for _, r := range label {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	i, err := strconv.Atoi(label)
	return i, err == nil
}
