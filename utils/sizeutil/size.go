// Package sizeutil formats and parses human-readable byte sizes.
package sizeutil

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

const (
	KB = 1024
	MB = KB * 1024
	GB = MB * 1024
	TB = GB * 1024
)

var units = map[string]float64{
	"B":  1,
	"KB": KB,
	"MB": MB,
	"GB": GB,
	"TB": TB,
}

var sizePattern = regexp.MustCompile(`^([\d.]+)\s*([a-zA-Z]+)$`)

// Format renders bytes as megabytes, switching to gigabytes from 1024 MB up,
// always with two decimals ("512.00 MB", "1.00 GB").
func Format(bytes int64) string {
	mb := float64(bytes) / MB
	if mb >= 1024 {
		return fmt.Sprintf("%.2f GB", mb/1024)
	}
	return fmt.Sprintf("%.2f MB", mb)
}

// Parse reads a size such as "1.5GB", "512 MB" or "0B". Units are powers of
// 1024; an unknown unit counts as bytes. Malformed input yields 0 and an error.
func Parse(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}

	m := sizePattern.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("invalid size %q", s)
	}

	value, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}

	factor, ok := units[strings.ToUpper(m[2])]
	if !ok {
		factor = 1
	}

	return int64(value * factor), nil
}
