package models

import (
	"fmt"
	"strings"
)

// Category identifies the kind of external engine an analysis runs on.
type Category string

const (
	// CategoryParsimony runs a maximum-parsimony search (TNT).
	CategoryParsimony Category = "parsimony"
	// CategoryMaximumLikelihood runs a maximum-likelihood search (IQ-TREE).
	CategoryMaximumLikelihood Category = "ml"
	// CategoryBayesian runs Bayesian MCMC inference (MrBayes).
	CategoryBayesian Category = "bayesian"
)

// Categories lists every known category in display order.
var Categories = []Category{CategoryParsimony, CategoryMaximumLikelihood, CategoryBayesian}

// Valid returns true if the category is a known value.
func (c Category) Valid() bool {
	switch c {
	case CategoryParsimony, CategoryMaximumLikelihood, CategoryBayesian:
		return true
	default:
		return false
	}
}

// ParseCategory converts user input into a Category.
// It accepts the canonical names plus a few common aliases.
func ParseCategory(s string) (Category, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "parsimony", "mp", "tnt":
		return CategoryParsimony, nil
	case "ml", "maximumlikelihood", "maximum-likelihood", "likelihood", "iqtree":
		return CategoryMaximumLikelihood, nil
	case "bayesian", "bayes", "mrbayes":
		return CategoryBayesian, nil
	}
	return "", fmt.Errorf("unknown analysis category %q", s)
}

// Dialect is a phylogenetic data file format.
type Dialect string

const (
	DialectNexus  Dialect = "nexus"
	DialectTNT    Dialect = "tnt"
	DialectPhylip Dialect = "phylip"
	// DialectNewick is only meaningful for tree files.
	DialectNewick Dialect = "newick"
)

// Valid returns true if the dialect is one of the data matrix dialects.
func (d Dialect) Valid() bool {
	switch d {
	case DialectNexus, DialectTNT, DialectPhylip:
		return true
	default:
		return false
	}
}

// ParseDialect converts user input into a data matrix Dialect.
func ParseDialect(s string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "nexus", "nex", "nxs":
		return DialectNexus, nil
	case "tnt", "hennig":
		return DialectTNT, nil
	case "phylip", "phy":
		return DialectPhylip, nil
	}
	return "", fmt.Errorf("unknown data format %q", s)
}
