package engine

import (
	"math"
	"regexp"
	"strconv"
)

var (
	mlReplicate     = regexp.MustCompile(`===> START BOOTSTRAP REPLICATE NUMBER (\d+)`)
	bayesGeneration = regexp.MustCompile(`^\s+(\d+).*(\d+:\d+:\d+)$`)
)

// Extractor turns one line of engine output into a completion percentage.
type Extractor interface {
	// Extract returns the percentage signalled by line, if any.
	Extract(line string) (float64, bool)
}

type noProgress struct{}

func (noProgress) Extract(string) (float64, bool) { return 0, false }

// regexExtractor reads a counter from the first capture group and reports
// it as a share of total.
type regexExtractor struct {
	re    *regexp.Regexp
	total int
}

func (e *regexExtractor) Extract(line string) (float64, bool) {
	m := e.re.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return Percent(n, e.total), true
}

// Percent returns current/total as a percentage rounded to one decimal and
// clamped to [0,100].
func Percent(current, total int) float64 {
	if total <= 0 {
		return 0
	}
	p := math.Round(float64(current)/float64(total)*1000) / 10
	return math.Max(0, math.Min(100, p))
}
