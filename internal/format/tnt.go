package format

import (
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/ShayCichocki/phylorun/internal/matrix"
	"github.com/ShayCichocki/phylorun/pkg/models"
)

var xreadWord = regexp.MustCompile(`(?i)\bxread\b`)

type tntCodec struct{}

// decode reads the first xread block. Commands before it (mxram, nstates)
// and after its terminating ';' are ignored.
func (tntCodec) decode(r io.Reader, opts Options) (*matrix.DataMatrix, error) {
	d := models.DialectTNT
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read tnt: %w", err)
	}
	src := string(raw)
	loc := xreadWord.FindStringIndex(src)
	if loc == nil {
		return nil, parseErr(d, 0, "no xread command")
	}
	line := 1 + strings.Count(src[:loc[0]], "\n")
	rest := src[loc[1]:]

	title := ""
	trimmed := strings.TrimLeft(rest, " \t\r\n")
	if strings.HasPrefix(trimmed, "'") {
		end := strings.Index(trimmed[1:], "'")
		if end < 0 {
			return nil, parseErr(d, line, "unterminated xread title")
		}
		title = strings.TrimSpace(trimmed[1 : end+1])
		trimmed = trimmed[end+2:]
	}

	first, after := nextField(trimmed)
	second, body := nextField(after)
	if second == "" {
		return nil, parseErr(d, line, "xread without dimensions")
	}
	nchar, err1 := strconv.Atoi(first)
	ntax, err2 := strconv.Atoi(second)
	if err1 != nil || err2 != nil {
		return nil, parseErr(d, line, "bad xread dimensions %q %q", first, second)
	}
	end := strings.IndexByte(body, ';')
	if end < 0 {
		return nil, parseErr(d, line, "xread block not terminated by ';'")
	}
	body = body[:end]

	rows := newRowSet()
	for _, l := range strings.Split(body, "\n") {
		l = strings.TrimSpace(l)
		if l == "" || strings.HasPrefix(l, "&") {
			continue
		}
		name, states, err := readName(l)
		if err != nil {
			return nil, parseErr(d, 0, "%v", err)
		}
		rows.add(name, states)
	}
	pairs := opts.delimiters([2]rune{'[', ']'}, [2]rune{'(', ')'})
	return rows.build(d, title, nil, ntax, nchar, pairs, opts)
}

func (tntCodec) encode(w io.Writer, m *matrix.DataMatrix, opts Options) error {
	var b strings.Builder
	b.WriteString("xread\n")
	title := m.Name
	if title == "" {
		title = "phylorun"
	}
	fmt.Fprintf(&b, "'%s'\n", strings.ReplaceAll(title, "'", ""))
	fmt.Fprintf(&b, "%d %d\n", m.NChars, m.NTaxa)
	b.WriteString(matrixRows(m, opts, "", plainName))
	b.WriteString("\n;\nproc/;\n")
	_, err := io.WriteString(w, b.String())
	return err
}

// nextField returns the first whitespace separated field of s and the text after it.
func nextField(s string) (field, rest string) {
	s = strings.TrimLeft(s, " \t\r\n")
	i := strings.IndexAny(s, " \t\r\n")
	if i < 0 {
		return s, ""
	}
	return s[:i], s[i:]
}
