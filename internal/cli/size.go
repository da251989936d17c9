package cli

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
)

// parseSize parses a size string like "512m", "64MB", "1GiB" or "1024" into
// bytes. Single-letter suffixes are binary ("4k" is 4096); unit names follow
// humanize ("64MB" is 64*10^6, "64MiB" is 64*2^20). A negative plain number
// passes through; the store reads it as "disabled".
func parseSize(s string) (int64, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return 0, nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}

	switch s[len(s)-1] {
	case 'k', 'm', 'g', 't':
		s += "i"
	}
	n, err := humanize.ParseBytes(s)
	if err != nil || n > math.MaxInt64 {
		return 0, fmt.Errorf("invalid size %q", s)
	}
	return int64(n), nil
}
