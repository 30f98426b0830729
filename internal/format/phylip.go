package format

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/ShayCichocki/phylorun/internal/matrix"
	"github.com/ShayCichocki/phylorun/pkg/models"
)

type phylipCodec struct{}

// decode reads relaxed PHYLIP: names end at the first whitespace. After the
// first ntaxa named rows, further non-blank lines are interleaved blocks and
// are assigned to taxa in order.
func (phylipCodec) decode(r io.Reader, opts Options) (*matrix.DataMatrix, error) {
	d := models.DialectPhylip
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)

	ntax, nchar := -1, -1
	rows := newRowSet()
	next, line := 0, 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		if ntax < 0 {
			f := strings.Fields(text)
			if len(f) < 2 {
				return nil, parseErr(d, line, "expected 'ntaxa nchars' header")
			}
			var err1, err2 error
			ntax, err1 = strconv.Atoi(f[0])
			nchar, err2 = strconv.Atoi(f[1])
			if err1 != nil || err2 != nil || ntax < 0 || nchar < 0 {
				return nil, parseErr(d, line, "bad header %q", text)
			}
			continue
		}
		if len(rows.order) < ntax {
			name, states, err := readName(text)
			if err != nil {
				return nil, parseErr(d, line, "%v", err)
			}
			if _, dup := rows.text[name]; dup {
				return nil, parseErr(d, line, "duplicate taxon %q", name)
			}
			rows.add(name, states)
			continue
		}
		if ntax == 0 {
			return nil, parseErr(d, line, "data after empty matrix")
		}
		rows.add(rows.order[next%ntax], text)
		next++
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read phylip: %w", err)
	}
	if ntax < 0 {
		return nil, parseErr(d, 0, "empty file")
	}
	pairs := opts.delimiters([2]rune{'(', ')'}, [2]rune{'{', '}'})
	return rows.build(d, "", nil, ntax, nchar, pairs, opts)
}

func (phylipCodec) encode(w io.Writer, m *matrix.DataMatrix, opts Options) error {
	var b strings.Builder
	fmt.Fprintf(&b, "%d %d\n", m.NTaxa, m.NChars)
	b.WriteString(matrixRows(m, opts, "", plainName))
	b.WriteString("\n")
	_, err := io.WriteString(w, b.String())
	return err
}
