package format

import (
	"errors"
	"strings"
	"testing"

	"github.com/ShayCichocki/phylorun/internal/matrix"
	"github.com/ShayCichocki/phylorun/pkg/models"
)

const threeTaxaNexus = `#NEXUS
[ example from the import dialog ]
begin data;
	dimensions ntax=3 nchar=3;
	format datatype=standard gap=- missing=?;
	matrix
Taxon_A 010
Taxon_B 101
Taxon_C 001
	;
end;
`

var dialects = []models.Dialect{models.DialectNexus, models.DialectTNT, models.DialectPhylip}

// buildMatrix creates a matrix from compact rows, one rune per state.
func buildMatrix(t *testing.T, taxa []string, rows []string) *matrix.DataMatrix {
	t.Helper()
	m := matrix.New("fixture")
	for _, name := range taxa {
		if err := m.AddTaxon(name); err != nil {
			t.Fatalf("AddTaxon(%q) failed: %v", name, err)
		}
	}
	for j := 0; j < len(rows[0]); j++ {
		m.AddCharacter("")
	}
	for i, row := range rows {
		for j, r := range row {
			if err := m.SetCell(i, j, matrix.Single(string(r))); err != nil {
				t.Fatalf("SetCell failed: %v", err)
			}
		}
	}
	return m
}

func TestDecode_ThreeTaxaNexus(t *testing.T) {
	m, err := Decode(strings.NewReader(threeTaxaNexus), models.DialectNexus, DefaultOptions())
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if m.NTaxa != 3 || m.NChars != 3 {
		t.Fatalf("dimensions = %dx%d, want 3x3", m.NTaxa, m.NChars)
	}
	if got := m.Cell(1, 0).String(); got != "1" {
		t.Errorf("Taxon_B char 1 = %q, want %q", got, "1")
	}

	phy := AsPhylipFormat(m, DefaultOptions())
	if !strings.HasPrefix(phy, "3 3\n") {
		t.Errorf("AsPhylipFormat() = %q, want prefix %q", phy, "3 3\n")
	}
}

func TestRoundTrip(t *testing.T) {
	binary := func(t *testing.T) *matrix.DataMatrix {
		return buildMatrix(t, []string{"Taxon_A", "Taxon_B", "Taxon_C"}, []string{"010", "101", "001"})
	}
	withPoly := func(t *testing.T) *matrix.DataMatrix {
		m := buildMatrix(t, []string{"a", "b", "c", "d"}, []string{"01?-", "1100", "0?10", "1-11"})
		m.SetCell(0, 1, matrix.Poly("0", "1"))
		m.SetCell(3, 3, matrix.Poly("2", "0", "1"))
		return m
	}
	multiToken := func(t *testing.T) *matrix.DataMatrix {
		m := buildMatrix(t, []string{"x", "y"}, []string{"00", "00"})
		m.SetCell(0, 0, matrix.Single("A10"))
		m.SetCell(0, 1, matrix.Poly("B2", "C3"))
		m.SetCell(1, 0, matrix.Single("?"))
		m.SetCell(1, 1, matrix.Single("D"))
		return m
	}
	unsortedPoly := func(t *testing.T) *matrix.DataMatrix {
		m := buildMatrix(t, []string{"a", "b"}, []string{"01", "10"})
		m.SetCell(0, 0, matrix.Cell{States: []string{"1", "0"}})
		// Cells assigned directly skip SetCell.
		m.Cells[1][1] = matrix.Cell{States: []string{"2", "1", "2"}}
		return m
	}
	dna := func(t *testing.T) *matrix.DataMatrix {
		return buildMatrix(t, []string{"human", "chimp", "gorilla", "orang"},
			[]string{"ACGTACGTAA", "ACGTACGTAC", "ACG-ACGTTC", "ACGTAC??TC"})
	}

	fixtures := map[string]func(*testing.T) *matrix.DataMatrix{
		"binary":        binary,
		"polymorphic":   withPoly,
		"multi token":   multiToken,
		"unsorted poly": unsortedPoly,
		"dna":           dna,
	}

	for name, build := range fixtures {
		for _, d := range dialects {
			t.Run(name+"/"+string(d), func(t *testing.T) {
				m := build(t)
				s, err := EncodeString(m, d, DefaultOptions())
				if err != nil {
					t.Fatalf("Encode failed: %v", err)
				}
				got, err := Decode(strings.NewReader(s), d, DefaultOptions())
				if err != nil {
					t.Fatalf("Decode failed: %v\n%s", err, s)
				}
				if !got.Equal(m) {
					t.Errorf("round trip mismatch\nencoded:\n%s\ngot:\n%s\nwant:\n%s",
						s, MatrixAsString(got, " ", DefaultOptions()), MatrixAsString(m, " ", DefaultOptions()))
				}
				first, again := MatrixAsString(m, " ", DefaultOptions()), MatrixAsString(got, " ", DefaultOptions())
				if again != first {
					t.Errorf("rows not stable across encodes:\n%s\n%s", first, again)
				}
			})
		}
	}
}

func TestRoundTrip_NexusKeepsLabels(t *testing.T) {
	m := buildMatrix(t, []string{"Homo sapiens", "Pan"}, []string{"01", "10"})
	m.Characters[0] = "wing colour"
	m.Characters[1] = "legs"

	s := AsNexusFormat(m, DefaultOptions())
	if !strings.Contains(s, "'Homo sapiens'") {
		t.Errorf("expected quoted taxon name in:\n%s", s)
	}
	got, err := Decode(strings.NewReader(s), models.DialectNexus, DefaultOptions())
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !got.Equal(m) {
		t.Errorf("labels lost: got %v, want %v", got.Characters, m.Characters)
	}
}

func TestPolymorphicFidelity(t *testing.T) {
	src := "2 3\nalpha 0(A B)1\nbeta  1(B A)0\n"
	m, err := Decode(strings.NewReader(src), models.DialectPhylip, DefaultOptions())
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	c := m.Cell(0, 1)
	if !c.IsPolymorphic() || len(c.States) != 2 || c.States[0] != "A" || c.States[1] != "B" {
		t.Fatalf("cell = %v, want {A,B}", c.States)
	}

	first := MatrixAsString(m, " ", DefaultOptions())
	if !strings.Contains(first, "(A B)") {
		t.Errorf("encoded %q does not contain (A B)", first)
	}
	again, err := Decode(strings.NewReader(AsPhylipFormat(m, DefaultOptions())), models.DialectPhylip, DefaultOptions())
	if err != nil {
		t.Fatalf("re-decode failed: %v", err)
	}
	if second := MatrixAsString(again, " ", DefaultOptions()); second != first {
		t.Errorf("encoding not stable:\n%s\n%s", first, second)
	}
	if !m.Cell(1, 1).Equal(c) {
		t.Errorf("(B A) decoded to %v, want same set as (A B)", m.Cell(1, 1).States)
	}
}

func TestDecode_CustomDelimitersAndTokens(t *testing.T) {
	opts := Options{Missing: "N", Gap: "*", Open: "<", Close: ">"}
	src := "2 3\none 0<0 1>N\ntwo *11\n"
	m, err := Decode(strings.NewReader(src), models.DialectPhylip, opts)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !m.Cell(0, 2).IsUnknown() {
		t.Errorf("N decoded to %v, want missing", m.Cell(0, 2).States)
	}
	if got := m.Cell(1, 0).States[0]; got != matrix.Gap {
		t.Errorf("* decoded to %q, want gap", got)
	}
	if got := MatrixAsString(m, " ", opts); got != "one 0<0 1>N\ntwo *11" {
		t.Errorf("MatrixAsString() = %q", got)
	}
}

func TestDecode_TNTInterleaved(t *testing.T) {
	src := `mxram 100;
xread
'beetles'
6 3
&[num]
a 010
b 1[01]1
c 000
&[num]
a 111
b 000
c 0?1
;
proc/;
`
	m, err := Decode(strings.NewReader(src), models.DialectTNT, DefaultOptions())
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if m.Name != "beetles" {
		t.Errorf("Name = %q, want %q", m.Name, "beetles")
	}
	if m.NTaxa != 3 || m.NChars != 6 {
		t.Fatalf("dimensions = %dx%d, want 3x6", m.NTaxa, m.NChars)
	}
	if got := m.Cell(1, 1).String(); got != "(0 1)" {
		t.Errorf("b char 2 = %q, want (0 1)", got)
	}
	if got := m.Cell(0, 5).String(); got != "1" {
		t.Errorf("a char 6 = %q, want 1", got)
	}
}

func TestDecode_PhylipInterleaved(t *testing.T) {
	src := `3 8
one   ACGT
two   ACGA
three ACCA

TTTT
GGGG
CCCC
`
	m, err := Decode(strings.NewReader(src), models.DialectPhylip, DefaultOptions())
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if got := MatrixAsString(m, " ", DefaultOptions()); got != "one ACGTTTTT\ntwo ACGAGGGG\nthree ACCACCCC" {
		t.Errorf("MatrixAsString() = %q", got)
	}
}

func TestDecode_PhylipSpacedBlocks(t *testing.T) {
	src := "2 10\nx ACGTA CGTAC\ny ACGTA CGTAA\n"
	m, err := Decode(strings.NewReader(src), models.DialectPhylip, DefaultOptions())
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if got := m.Cell(1, 9).String(); got != "A" {
		t.Errorf("y char 10 = %q, want A", got)
	}
}

func TestDecode_NexusFeatures(t *testing.T) {
	src := `#NEXUS
begin taxa;
	dimensions ntax=2;
	taxlabels 'Homo sapiens' Pan;
end;

begin characters;
	dimensions nchar=3;
	format datatype=standard missing=N gap=- interleave;
	charstatelabels 1 'wing colour' / red blue, 2 legs, 3 eyes;
	matrix
	'Homo sapiens' 0{01}
	Pan            1N
	'Homo sapiens' 1 [ comment ; with semicolon ]
	Pan            -
	;
end;

begin assumptions;
	typeset * default = unord: 1-3;
end;
`
	m, err := Decode(strings.NewReader(src), models.DialectNexus, DefaultOptions())
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if m.Taxa[0] != "Homo sapiens" {
		t.Errorf("Taxa[0] = %q", m.Taxa[0])
	}
	if m.Characters[0] != "wing colour" || m.Characters[2] != "eyes" {
		t.Errorf("Characters = %v", m.Characters)
	}
	if !m.Cell(1, 1).IsUnknown() {
		t.Errorf("N decoded to %v, want missing", m.Cell(1, 1).States)
	}
	if got := m.Cell(0, 1).String(); got != "(0 1)" {
		t.Errorf("{01} decoded to %q", got)
	}
	if len(m.Verbatim) != 1 || !strings.HasPrefix(m.Verbatim[0], "begin assumptions;") {
		t.Fatalf("Verbatim = %q", m.Verbatim)
	}

	out := AsNexusFormat(m, DefaultOptions())
	if !strings.Contains(out, "typeset * default = unord: 1-3;") {
		t.Errorf("verbatim block not re-emitted:\n%s", out)
	}
	if strings.Contains(out, "interleave") {
		t.Errorf("interleaved format command reused:\n%s", out)
	}
	again, err := Decode(strings.NewReader(out), models.DialectNexus, DefaultOptions())
	if err != nil {
		t.Fatalf("re-decode failed: %v\n%s", err, out)
	}
	if !again.Equal(m) {
		t.Errorf("re-decoded matrix differs")
	}
}

func TestEncode_NexusFormatCommand(t *testing.T) {
	m := buildMatrix(t, []string{"a", "b"}, []string{"01", "10"})
	out := AsNexusFormat(m, DefaultOptions())
	if !strings.Contains(out, "format datatype=standard gap=- missing=?;") {
		t.Errorf("default format command missing:\n%s", out)
	}
	if !strings.Contains(out, "dimensions ntax=2 nchar=2;") {
		t.Errorf("dimensions missing:\n%s", out)
	}

	m.Commands.Format = "format datatype=standard missing=N gap=-"
	m.SetCell(0, 0, matrix.Unknown())
	out = AsNexusFormat(m, DefaultOptions())
	if !strings.Contains(out, "N1") {
		t.Errorf("stored missing token not used:\n%s", out)
	}
}

func TestEncode_PadsShortGrid(t *testing.T) {
	m := &matrix.DataMatrix{Taxa: []string{"a", "b"}, NTaxa: 2, NChars: 3, Cells: [][]matrix.Cell{{matrix.Single("1")}}}
	for _, d := range dialects {
		s, err := EncodeString(m, d, DefaultOptions())
		if err != nil {
			t.Fatalf("%s: Encode failed: %v", d, err)
		}
		if !strings.Contains(s, "1??") || !strings.Contains(s, "???") {
			t.Errorf("%s: short grid not padded:\n%s", d, s)
		}
	}
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name string
		d    models.Dialect
		src  string
	}{
		{"nexus without header", models.DialectNexus, "begin data; end;"},
		{"nexus without matrix", models.DialectNexus, "#NEXUS\nbegin data; dimensions ntax=1 nchar=1; end;"},
		{"nexus unterminated comment", models.DialectNexus, "#NEXUS\n[ oops\nbegin data;"},
		{"nexus wrong state count", models.DialectNexus, "#NEXUS\nbegin data; dimensions ntax=1 nchar=3; matrix a 01; end;"},
		{"tnt without xread", models.DialectTNT, "mxram 10;"},
		{"tnt unterminated", models.DialectTNT, "xread\n2 1\na 01\n"},
		{"tnt too few taxa", models.DialectTNT, "xread\n2 2\na 01\n;"},
		{"phylip bad header", models.DialectPhylip, "three taxa\n"},
		{"phylip unterminated poly", models.DialectPhylip, "1 2\na 0(1\n"},
		{"phylip duplicate taxon", models.DialectPhylip, "2 1\na 0\na 1\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := Decode(strings.NewReader(tt.src), tt.d, DefaultOptions())
			if err == nil {
				t.Fatalf("expected error, got matrix %v", m)
			}
			if m != nil {
				t.Error("expected nil matrix on error")
			}
			if !errors.Is(err, ErrDataParsing) {
				t.Errorf("error %v does not wrap ErrDataParsing", err)
			}
		})
	}
}
