package format

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ShayCichocki/phylorun/pkg/models"
)

var extensions = map[string]models.Dialect{
	".nex":    models.DialectNexus,
	".nexus":  models.DialectNexus,
	".nxs":    models.DialectNexus,
	".phy":    models.DialectPhylip,
	".phylip": models.DialectPhylip,
	".tnt":    models.DialectTNT,
	".ss":     models.DialectTNT,
}

// Sniff decides the dialect of the data file at path.
// The extension wins; otherwise the first non-blank line is inspected.
func Sniff(path string) (models.Dialect, error) {
	if d, ok := extensions[strings.ToLower(filepath.Ext(path))]; ok {
		return d, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return SniffReader(path, f)
}

// SniffReader is Sniff for content that is already open.
// The name is only used for the extension check and error messages.
func SniffReader(name string, r io.Reader) (models.Dialect, error) {
	if d, ok := extensions[strings.ToLower(filepath.Ext(name))]; ok {
		return d, nil
	}
	line, err := firstLine(r)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", name, err)
	}
	if d, ok := sniffContent(line); ok {
		return d, nil
	}
	return "", fmt.Errorf("%s: %w", name, ErrFormatDetection)
}

func firstLine(r io.Reader) (string, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			return line, nil
		}
	}
	return "", sc.Err()
}

func sniffContent(line string) (models.Dialect, bool) {
	if strings.HasPrefix(strings.ToUpper(line), "#NEXUS") {
		return models.DialectNexus, true
	}
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", false
	}
	if strings.EqualFold(strings.TrimSuffix(fields[0], ";"), "xread") {
		return models.DialectTNT, true
	}
	if len(fields) >= 2 && isInt(fields[0]) && isInt(fields[1]) {
		return models.DialectPhylip, true
	}
	return "", false
}

func isInt(s string) bool {
	n, err := strconv.Atoi(s)
	return err == nil && n >= 0
}
