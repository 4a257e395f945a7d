package config

import (
	"errors"
	"strconv"
	"strings"
)

// ParsePortRange parses a "start-end" passive port range string.
func ParsePortRange(s string) (start, end int, err error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, 0, errors.New("empty port range")
	}
	parts := strings.SplitN(s, "-", 2)
	if len(parts) != 2 {
		return 0, 0, errors.New("port range must be start-end")
	}
	start, err = strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, 0, err
	}
	end, err = strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return 0, 0, err
	}
	if start <= 0 || end > 65535 || start > end {
		return 0, 0, errors.New("port range out of order")
	}
	return start, end, nil
}
