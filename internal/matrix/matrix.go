// Package matrix holds the canonical in-memory character matrix shared by
// every data file dialect.
package matrix

import (
	"fmt"
	"slices"
	"strconv"
)

// Missing is the dialect-neutral unknown state.
// Codecs translate it to and from their configured missing token.
const Missing = "?"

// Gap is the dialect-neutral gap (inapplicable) state.
const Gap = "-"

// Cell is a single matrix entry. A cell with more than one state is polymorphic.
type Cell struct {
	States []string
}

// Single returns a cell holding one state.
func Single(state string) Cell {
	return Cell{States: []string{state}}
}

// Poly returns a polymorphic cell. States are sorted and deduplicated so
// that repeated encodes of the same set are identical.
func Poly(states ...string) Cell {
	s := slices.Clone(states)
	slices.Sort(s)
	s = slices.Compact(s)
	return Cell{States: s}
}

// Canonical returns the cell with its states sorted and deduplicated.
func (c Cell) Canonical() Cell {
	if len(c.States) < 2 {
		return c
	}
	return Poly(c.States...)
}

// Unknown returns a cell holding the missing state.
func Unknown() Cell {
	return Single(Missing)
}

// IsPolymorphic reports whether the cell holds more than one state.
func (c Cell) IsPolymorphic() bool {
	return len(c.States) > 1
}

// IsUnknown reports whether the cell is empty or holds only the missing state.
func (c Cell) IsUnknown() bool {
	return len(c.States) == 0 || (len(c.States) == 1 && c.States[0] == Missing)
}

// Equal reports whether two cells hold the same set of states.
func (c Cell) Equal(o Cell) bool {
	if c.IsUnknown() && o.IsUnknown() {
		return true
	}
	return slices.Equal(c.Canonical().States, o.Canonical().States)
}

// String renders the cell with the default polymorphism delimiters.
func (c Cell) String() string {
	return c.Format("(", ")")
}

// Format renders the cell, wrapping polymorphic sets in open/close.
func (c Cell) Format(open, close string) string {
	c = c.Canonical()
	switch len(c.States) {
	case 0:
		return Missing
	case 1:
		return c.States[0]
	}
	s := open
	for i, st := range c.States {
		if i > 0 {
			s += " "
		}
		s += st
	}
	return s + close
}

// Commands keeps the verbatim NEXUS command text captured on import.
type Commands struct {
	Dimensions string
	Format     string
}

// DataMatrix is an ordered taxon-by-character grid.
//
// NTaxa and NChars are authoritative. The grid may be shorter than the
// declared dimensions; Cell reports any absent entry as unknown.
type DataMatrix struct {
	Name       string
	Datatype   string
	Taxa       []string
	Characters []string
	Cells      [][]Cell
	NTaxa      int
	NChars     int

	// Commands and Verbatim are NEXUS-only metadata preserved for re-emission.
	Commands Commands
	Verbatim []string
}

// New returns an empty matrix with the given name.
func New(name string) *DataMatrix {
	return &DataMatrix{Name: name, Datatype: "standard"}
}

// DefaultLabel is the label given to the j-th (0-based) character when a
// dialect does not carry character names.
func DefaultLabel(j int) string {
	return strconv.Itoa(j + 1)
}

// Cell returns the cell at taxon i, character j, padding with unknown.
func (m *DataMatrix) Cell(i, j int) Cell {
	if i < 0 || i >= len(m.Cells) {
		return Unknown()
	}
	row := m.Cells[i]
	if j < 0 || j >= len(row) {
		return Unknown()
	}
	return row[j]
}

// TaxonName returns the name of taxon i, inventing one for a short taxa list.
func (m *DataMatrix) TaxonName(i int) string {
	if i < len(m.Taxa) {
		return m.Taxa[i]
	}
	return fmt.Sprintf("taxon_%d", i+1)
}

// CharacterLabel returns the label of character j.
func (m *DataMatrix) CharacterLabel(j int) string {
	if j < len(m.Characters) && m.Characters[j] != "" {
		return m.Characters[j]
	}
	return DefaultLabel(j)
}

// HasDefaultLabels reports whether every character label equals DefaultLabel.
func (m *DataMatrix) HasDefaultLabels() bool {
	for j := 0; j < m.NChars; j++ {
		if m.CharacterLabel(j) != DefaultLabel(j) {
			return false
		}
	}
	return true
}

// TaxonIndex returns the row of the named taxon, or -1.
func (m *DataMatrix) TaxonIndex(name string) int {
	return slices.Index(m.Taxa, name)
}

// AddTaxon appends a row of unknown cells.
func (m *DataMatrix) AddTaxon(name string) error {
	if name == "" {
		return fmt.Errorf("empty taxon name")
	}
	if m.TaxonIndex(name) >= 0 {
		return fmt.Errorf("taxon %q already in matrix", name)
	}
	row := make([]Cell, m.NChars)
	for j := range row {
		row[j] = Unknown()
	}
	m.Taxa = append(m.Taxa, name)
	m.Cells = append(m.Cells, row)
	m.NTaxa++
	return nil
}

// AddCharacter appends a column of unknown cells.
// An empty label is replaced by the default label.
func (m *DataMatrix) AddCharacter(label string) {
	if label == "" {
		label = DefaultLabel(m.NChars)
	}
	for len(m.Characters) < m.NChars {
		m.Characters = append(m.Characters, DefaultLabel(len(m.Characters)))
	}
	m.Characters = append(m.Characters, label)
	for i := range m.Cells {
		for len(m.Cells[i]) < m.NChars {
			m.Cells[i] = append(m.Cells[i], Unknown())
		}
		m.Cells[i] = append(m.Cells[i], Unknown())
	}
	m.NChars++
}

// RemoveTaxon deletes row i.
func (m *DataMatrix) RemoveTaxon(i int) error {
	if i < 0 || i >= m.NTaxa {
		return fmt.Errorf("taxon index %d out of range", i)
	}
	if i < len(m.Taxa) {
		m.Taxa = slices.Delete(m.Taxa, i, i+1)
	}
	if i < len(m.Cells) {
		m.Cells = slices.Delete(m.Cells, i, i+1)
	}
	m.NTaxa--
	return nil
}

// RemoveCharacter deletes column j.
func (m *DataMatrix) RemoveCharacter(j int) error {
	if j < 0 || j >= m.NChars {
		return fmt.Errorf("character index %d out of range", j)
	}
	if j < len(m.Characters) {
		m.Characters = slices.Delete(m.Characters, j, j+1)
	}
	for i := range m.Cells {
		if j < len(m.Cells[i]) {
			m.Cells[i] = slices.Delete(m.Cells[i], j, j+1)
		}
	}
	m.NChars--
	return nil
}

// SetCell stores c at taxon i, character j, growing a short grid as needed.
// Polymorphic sets are stored in canonical order.
func (m *DataMatrix) SetCell(i, j int, c Cell) error {
	if i < 0 || i >= m.NTaxa || j < 0 || j >= m.NChars {
		return fmt.Errorf("cell (%d,%d) outside %dx%d matrix", i, j, m.NTaxa, m.NChars)
	}
	for len(m.Cells) <= i {
		m.Cells = append(m.Cells, nil)
	}
	for len(m.Cells[i]) <= j {
		m.Cells[i] = append(m.Cells[i], Unknown())
	}
	m.Cells[i][j] = c.Canonical()
	return nil
}

// Validate checks the taxon invariants.
func (m *DataMatrix) Validate() error {
	if m.NTaxa < 0 || m.NChars < 0 {
		return fmt.Errorf("negative dimensions %dx%d", m.NTaxa, m.NChars)
	}
	if len(m.Taxa) != m.NTaxa {
		return fmt.Errorf("matrix declares %d taxa, has %d names", m.NTaxa, len(m.Taxa))
	}
	seen := make(map[string]bool, len(m.Taxa))
	for _, t := range m.Taxa {
		if t == "" {
			return fmt.Errorf("empty taxon name")
		}
		if seen[t] {
			return fmt.Errorf("duplicate taxon %q", t)
		}
		seen[t] = true
	}
	return nil
}

// Equal compares taxa, character labels and cell contents.
// Short grids compare equal to grids padded with unknown cells.
func (m *DataMatrix) Equal(o *DataMatrix) bool {
	if m.NTaxa != o.NTaxa || m.NChars != o.NChars {
		return false
	}
	for i := 0; i < m.NTaxa; i++ {
		if m.TaxonName(i) != o.TaxonName(i) {
			return false
		}
	}
	for j := 0; j < m.NChars; j++ {
		if m.CharacterLabel(j) != o.CharacterLabel(j) {
			return false
		}
	}
	for i := 0; i < m.NTaxa; i++ {
		for j := 0; j < m.NChars; j++ {
			if !m.Cell(i, j).Equal(o.Cell(i, j)) {
				return false
			}
		}
	}
	return true
}

// Clone returns a deep copy.
func (m *DataMatrix) Clone() *DataMatrix {
	c := *m
	c.Taxa = slices.Clone(m.Taxa)
	c.Characters = slices.Clone(m.Characters)
	c.Verbatim = slices.Clone(m.Verbatim)
	c.Cells = make([][]Cell, len(m.Cells))
	for i, row := range m.Cells {
		c.Cells[i] = make([]Cell, len(row))
		for j, cell := range row {
			c.Cells[i][j] = Cell{States: slices.Clone(cell.States)}
		}
	}
	return &c
}
