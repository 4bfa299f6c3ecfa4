package protocol

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Protocol numbers look like 20240101-001: the day prefix plus a per-day
// sequence suffix, zero-padded to three digits. Suffixes past 999 widen but
// keep sorting with creation order.

// ProtocolPrefix formats the day prefix for t.
func ProtocolPrefix(t time.Time) string {
	return t.Format("20060102")
}

// NextNumber computes the protocol number that follows latest for the given
// day prefix. latest is the most recently allocated number for that prefix,
// or empty when the day has no records yet.
func NextNumber(prefix, latest string) (string, error) {
	next := 1
	if latest != "" {
		idx := strings.LastIndex(latest, "-")
		if idx < 0 {
			return "", fmt.Errorf("malformed protocol number %q", latest)
		}
		suffix, err := strconv.Atoi(latest[idx+1:])
		if err != nil {
			return "", fmt.Errorf("malformed protocol number %q: %w", latest, err)
		}
		next = suffix + 1
	}
	return fmt.Sprintf("%s-%03d", prefix, next), nil
}
