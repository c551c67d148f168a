package pipeline

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrAddressList is returned when the address list cannot be read.
var ErrAddressList = errors.New("address list unavailable")

// LoadAddresses reads one product address per line. Blank lines and lines
// starting with # are skipped; surrounding whitespace is trimmed.
func LoadAddresses(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAddressList, err)
	}
	defer f.Close()

	var urls []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", ErrAddressList, path, err)
	}
	return urls, nil
}
