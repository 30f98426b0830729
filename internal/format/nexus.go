package format

import (
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/ShayCichocki/phylorun/internal/matrix"
	"github.com/ShayCichocki/phylorun/pkg/models"
)

// Statement is one ';'-terminated NEXUS command.
type Statement struct {
	// Text is the command with bracketed comments removed.
	Text string
	// Start and End are byte offsets of the raw command in the source,
	// End including the terminating ';'.
	Start, End int
	// Line is the 1-based line the command starts on.
	Line int
}

// Keyword returns the lower-cased first word of the statement.
func (s Statement) Keyword() string {
	f := strings.Fields(s.Text)
	if len(f) == 0 {
		return ""
	}
	return strings.ToLower(f[0])
}

// Rest returns the statement text after the keyword.
func (s Statement) Rest() string {
	t := strings.TrimLeftFunc(s.Text, unicode.IsSpace)
	i := strings.IndexFunc(t, unicode.IsSpace)
	if i < 0 {
		return ""
	}
	return t[i:]
}

// SplitNexus checks the #NEXUS header and splits the rest of src into
// statements. Semicolons inside quotes and comments do not terminate a
// statement; comments nest.
func SplitNexus(src string) ([]Statement, error) {
	trimmed := strings.TrimLeftFunc(src, unicode.IsSpace)
	if !strings.HasPrefix(strings.ToUpper(trimmed), "#NEXUS") {
		return nil, parseErr(models.DialectNexus, 1, "missing #NEXUS header")
	}
	pos := len(src) - len(trimmed) + len("#NEXUS")

	var stmts []Statement
	var text strings.Builder
	start, line, startLine := -1, 1+strings.Count(src[:pos], "\n"), 0
	depth, quoted := 0, false
	commentLine := 0
	for i := pos; i < len(src); i++ {
		c := src[i]
		if c == '\n' {
			line++
		}
		switch {
		case depth > 0:
			if c == '[' {
				depth++
			} else if c == ']' {
				depth--
			}
			continue
		case quoted:
			text.WriteByte(c)
			if c == '\'' {
				if i+1 < len(src) && src[i+1] == '\'' {
					text.WriteByte('\'')
					i++
					continue
				}
				quoted = false
			}
			continue
		}
		if start < 0 && !unicode.IsSpace(rune(c)) {
			start, startLine = i, line
		}
		switch c {
		case '[':
			depth, commentLine = 1, line
		case '\'':
			quoted = true
			text.WriteByte(c)
		case ';':
			stmts = append(stmts, Statement{Text: strings.TrimSpace(text.String()), Start: start, End: i + 1, Line: startLine})
			text.Reset()
			start = -1
		default:
			text.WriteByte(c)
		}
	}
	if depth > 0 {
		return nil, parseErr(models.DialectNexus, commentLine, "unterminated comment")
	}
	if quoted {
		return nil, parseErr(models.DialectNexus, startLine, "unterminated quoted token")
	}
	if rest := strings.TrimSpace(text.String()); rest != "" {
		stmts = append(stmts, Statement{Text: rest, Start: start, End: len(src), Line: startLine})
	}
	return stmts, nil
}

// NexusBlock is a begin ... end; section.
type NexusBlock struct {
	Name  string
	Body  []Statement
	Begin Statement
	End   Statement
}

// Raw returns the verbatim source of the block.
func (b NexusBlock) Raw(src string) string {
	return src[b.Begin.Start:b.End.End]
}

// NexusBlocks groups statements into blocks. Statements outside any block
// are ignored.
func NexusBlocks(stmts []Statement) ([]NexusBlock, error) {
	var blocks []NexusBlock
	for i := 0; i < len(stmts); i++ {
		if stmts[i].Keyword() != "begin" {
			continue
		}
		name := strings.ToLower(strings.TrimSpace(stmts[i].Rest()))
		j := i + 1
		for ; j < len(stmts); j++ {
			if kw := stmts[j].Keyword(); kw == "end" || kw == "endblock" {
				break
			}
		}
		if j == len(stmts) {
			return nil, parseErr(models.DialectNexus, stmts[i].Line, "block %q has no end", name)
		}
		blocks = append(blocks, NexusBlock{Name: name, Body: stmts[i+1 : j], Begin: stmts[i], End: stmts[j]})
		i = j
	}
	return blocks, nil
}

var equalsSpace = regexp.MustCompile(`\s*=\s*`)

// nexusOptions parses key=value settings such as "ntax=3 nchar=4".
// Keys are lower-cased; bare words map to "".
func nexusOptions(s string) map[string]string {
	out := make(map[string]string)
	for _, f := range NexusWords(equalsSpace.ReplaceAllString(s, "=")) {
		k, v, _ := strings.Cut(f, "=")
		out[strings.ToLower(k)] = strings.Trim(v, "\"")
	}
	return out
}

// NexusWords splits on whitespace, keeping single-quoted tokens whole and
// unquoted.
func NexusWords(s string) []string {
	var words []string
	for {
		s = strings.TrimLeftFunc(s, unicode.IsSpace)
		if s == "" {
			return words
		}
		w, rest, err := readName(s)
		if err != nil {
			return append(words, strings.Fields(s)...)
		}
		words = append(words, w)
		s = rest
	}
}

type nexusCodec struct{}

func (nexusCodec) decode(r io.Reader, opts Options) (*matrix.DataMatrix, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read nexus: %w", err)
	}
	src := string(raw)
	stmts, err := SplitNexus(src)
	if err != nil {
		return nil, err
	}
	blocks, err := NexusBlocks(stmts)
	if err != nil {
		return nil, err
	}

	var taxa []string
	var data *NexusBlock
	var verbatim []string
	for i := range blocks {
		b := &blocks[i]
		switch b.Name {
		case "data", "characters":
			if data != nil {
				return nil, parseErr(models.DialectNexus, b.Begin.Line, "more than one character block")
			}
			data = b
		case "taxa":
			for _, s := range b.Body {
				if s.Keyword() == "taxlabels" {
					taxa = NexusWords(s.Rest())
				}
			}
		default:
			verbatim = append(verbatim, b.Raw(src))
		}
	}
	if data == nil {
		return nil, parseErr(models.DialectNexus, 0, "no data or characters block")
	}
	m, err := decodeDataBlock(*data, taxa, opts)
	if err != nil {
		return nil, err
	}
	m.Verbatim = verbatim
	return m, nil
}

func decodeDataBlock(b NexusBlock, taxa []string, opts Options) (*matrix.DataMatrix, error) {
	d := models.DialectNexus
	ntax, nchar := -1, -1
	if len(taxa) > 0 {
		ntax = len(taxa)
	}
	var cmds matrix.Commands
	datatype := "standard"
	var labels []string
	var body *Statement

	for i := range b.Body {
		s := b.Body[i]
		switch s.Keyword() {
		case "dimensions":
			cmds.Dimensions = strings.Join(strings.Fields(s.Text), " ")
			kv := nexusOptions(s.Rest())
			if v, ok := kv["ntax"]; ok {
				n, err := strconv.Atoi(v)
				if err != nil {
					return nil, parseErr(d, s.Line, "bad ntax %q", v)
				}
				ntax = n
			}
			v, ok := kv["nchar"]
			if !ok {
				return nil, parseErr(d, s.Line, "dimensions without nchar")
			}
			n, err := strconv.Atoi(v)
			if err != nil {
				return nil, parseErr(d, s.Line, "bad nchar %q", v)
			}
			nchar = n
		case "format":
			cmds.Format = strings.Join(strings.Fields(s.Text), " ")
			kv := nexusOptions(s.Rest())
			if v := kv["missing"]; v != "" {
				opts.Missing = v
			}
			if v := kv["gap"]; v != "" {
				opts.Gap = v
			}
			if v := kv["datatype"]; v != "" {
				datatype = strings.ToLower(v)
			}
		case "charlabels":
			labels = NexusWords(s.Rest())
		case "charstatelabels":
			for _, part := range strings.Split(s.Rest(), ",") {
				head, _, _ := strings.Cut(part, "/")
				w := NexusWords(head)
				if len(w) < 2 {
					continue
				}
				idx, err := strconv.Atoi(w[0])
				if err != nil || idx < 1 {
					return nil, parseErr(d, s.Line, "bad character number %q", w[0])
				}
				for len(labels) < idx {
					labels = append(labels, "")
				}
				labels[idx-1] = w[1]
			}
		case "matrix":
			body = &b.Body[i]
		}
	}
	if nchar < 0 {
		return nil, parseErr(d, b.Begin.Line, "missing dimensions command")
	}
	if body == nil {
		return nil, parseErr(d, b.Begin.Line, "missing matrix command")
	}

	rows := newRowSet()
	for k, line := range strings.Split(body.Rest(), "\n") {
		name, states, err := readName(line)
		if err != nil {
			return nil, parseErr(d, body.Line+k, "%v", err)
		}
		if name == "" {
			continue
		}
		rows.add(name, states)
	}
	if ntax < 0 {
		ntax = len(rows.order)
	}
	pairs := opts.delimiters([2]rune{'(', ')'}, [2]rune{'{', '}'})
	m, err := rows.build(d, "", nilIfEmpty(taxa), ntax, nchar, pairs, opts)
	if err != nil {
		return nil, err
	}
	for j, l := range labels {
		if j < nchar && l != "" {
			m.Characters[j] = l
		}
	}
	m.Datatype = datatype
	m.Commands = cmds
	return m, nil
}

func nilIfEmpty(s []string) []string {
	if len(s) == 0 {
		return nil
	}
	return s
}

var nexusSafe = regexp.MustCompile(`^[A-Za-z0-9_.\-]+$`)

// QuoteNexus quotes a token when NEXUS punctuation or whitespace requires it.
func QuoteNexus(s string) string {
	if nexusSafe.MatchString(s) {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func (nexusCodec) encode(w io.Writer, m *matrix.DataMatrix, opts Options) error {
	format := storedFormat(m)
	if format != "" {
		kv := nexusOptions(strings.TrimPrefix(strings.TrimSpace(format), "format"))
		if v := kv["missing"]; v != "" {
			opts.Missing = v
		}
		if v := kv["gap"]; v != "" {
			opts.Gap = v
		}
	} else {
		datatype := m.Datatype
		if datatype == "" {
			datatype = "standard"
		}
		format = fmt.Sprintf("format datatype=%s gap=%s missing=%s", datatype, opts.Gap, opts.Missing)
	}

	var b strings.Builder
	b.WriteString("#NEXUS\n\nbegin data;\n")
	fmt.Fprintf(&b, "\t%s;\n", storedDimensions(m))
	fmt.Fprintf(&b, "\t%s;\n", format)
	if !m.HasDefaultLabels() {
		b.WriteString("\tcharlabels")
		for j := 0; j < m.NChars; j++ {
			b.WriteString(" ")
			b.WriteString(QuoteNexus(m.CharacterLabel(j)))
		}
		b.WriteString(";\n")
	}
	b.WriteString("\tmatrix\n")
	b.WriteString(matrixRows(m, opts, "\t", QuoteNexus))
	b.WriteString("\n\t;\nend;\n")
	for _, v := range m.Verbatim {
		b.WriteString("\n")
		b.WriteString(v)
		b.WriteString("\n")
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// storedDimensions reuses the captured command while it still matches the
// matrix, otherwise regenerates it.
func storedDimensions(m *matrix.DataMatrix) string {
	if c := m.Commands.Dimensions; c != "" {
		kv := nexusOptions(c)
		if kv["ntax"] == strconv.Itoa(m.NTaxa) && kv["nchar"] == strconv.Itoa(m.NChars) {
			return c
		}
	}
	return fmt.Sprintf("dimensions ntax=%d nchar=%d", m.NTaxa, m.NChars)
}

// storedFormat returns the captured format command unless it declares an
// interleaved layout, which the encoder never writes.
func storedFormat(m *matrix.DataMatrix) string {
	c := m.Commands.Format
	if c == "" {
		return ""
	}
	if v, ok := nexusOptions(c)["interleave"]; ok && !strings.EqualFold(v, "no") {
		return ""
	}
	return c
}
