// Package format reads and writes character matrices in the NEXUS, TNT and
// PHYLIP dialects, and detects which dialect a file uses.
package format

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ShayCichocki/phylorun/internal/matrix"
	"github.com/ShayCichocki/phylorun/pkg/models"
)

type codec interface {
	decode(r io.Reader, opts Options) (*matrix.DataMatrix, error)
	encode(w io.Writer, m *matrix.DataMatrix, opts Options) error
}

var codecs = map[models.Dialect]codec{
	models.DialectNexus:  nexusCodec{},
	models.DialectTNT:    tntCodec{},
	models.DialectPhylip: phylipCodec{},
}

func codecFor(d models.Dialect) (codec, error) {
	c, ok := codecs[d]
	if !ok {
		return nil, fmt.Errorf("%q: %w", d, ErrFormatDetection)
	}
	return c, nil
}

// Decode parses a matrix in dialect d. On error no partial matrix is returned.
func Decode(r io.Reader, d models.Dialect, opts Options) (*matrix.DataMatrix, error) {
	c, err := codecFor(d)
	if err != nil {
		return nil, err
	}
	m, err := c.decode(r, opts.withDefaults())
	if err != nil {
		return nil, err
	}
	if err := m.Validate(); err != nil {
		return nil, parseErr(d, 0, "%v", err)
	}
	return m, nil
}

// DecodeFile sniffs and decodes the file at path. The matrix is named after
// the file unless the content carries a title.
func DecodeFile(path string, opts Options) (*matrix.DataMatrix, models.Dialect, error) {
	d, err := Sniff(path)
	if err != nil {
		return nil, "", err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	m, err := Decode(f, d, opts)
	if err != nil {
		return nil, d, fmt.Errorf("decode %s: %w", path, err)
	}
	if m.Name == "" {
		base := filepath.Base(path)
		m.Name = strings.TrimSuffix(base, filepath.Ext(base))
	}
	return m, d, nil
}

// Encode writes m in dialect d.
func Encode(w io.Writer, m *matrix.DataMatrix, d models.Dialect, opts Options) error {
	c, err := codecFor(d)
	if err != nil {
		return err
	}
	return c.encode(w, m, opts.withDefaults())
}

// EncodeString is Encode into a string.
func EncodeString(m *matrix.DataMatrix, d models.Dialect, opts Options) (string, error) {
	var b bytes.Buffer
	if err := Encode(&b, m, d, opts); err != nil {
		return "", err
	}
	return b.String(), nil
}

// EncodeFile writes m to path in dialect d.
func EncodeFile(path string, m *matrix.DataMatrix, d models.Dialect, opts Options) error {
	s, err := EncodeString(m, d, opts)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, []byte(s), 0644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// MatrixAsString renders one "name<sep>states" line per taxon.
func MatrixAsString(m *matrix.DataMatrix, sep string, opts Options) string {
	opts = opts.withDefaults()
	dense := compact(m, opts)
	lines := make([]string, m.NTaxa)
	for i := range lines {
		lines[i] = m.TaxonName(i) + sep + rowStates(m, i, opts, dense)
	}
	return strings.Join(lines, "\n")
}

// AsPhylipFormat renders m as relaxed PHYLIP.
func AsPhylipFormat(m *matrix.DataMatrix, opts Options) string {
	s, _ := EncodeString(m, models.DialectPhylip, opts)
	return s
}

// AsTNTFormat renders m as a TNT xread block.
func AsTNTFormat(m *matrix.DataMatrix, opts Options) string {
	s, _ := EncodeString(m, models.DialectTNT, opts)
	return s
}

// AsNexusFormat renders m as a NEXUS data block.
func AsNexusFormat(m *matrix.DataMatrix, opts Options) string {
	s, _ := EncodeString(m, models.DialectNexus, opts)
	return s
}

// matrixRows renders the rows with names aligned in one column.
func matrixRows(m *matrix.DataMatrix, opts Options, indent string, name func(string) string) string {
	dense := compact(m, opts)
	names := make([]string, m.NTaxa)
	width := 0
	for i := range names {
		names[i] = name(m.TaxonName(i))
		width = max(width, len([]rune(names[i])))
	}
	lines := make([]string, m.NTaxa)
	for i := range lines {
		pad := strings.Repeat(" ", width-len([]rune(names[i]))+2)
		lines[i] = indent + names[i] + pad + rowStates(m, i, opts, dense)
	}
	return strings.Join(lines, "\n")
}
