package common

import (
	"strconv"
	"strings"
)

// ParseUint64orHex converts val into a uint64, accepting config values
// with or without a "0x" prefix (e.g. a starting-block override). A
// nil val parses as zero.
func ParseUint64orHex(val *string) (uint64, error) {
	if val == nil {
		return 0, nil
	}

	str := *val
	base := 10

	if strings.HasPrefix(str, "0x") {
		str = str[2:]
		base = 16
	}

	return strconv.ParseUint(str, base, 64)
}

const bytesInMB = 1024 * 1024

// MBToBytes converts a megabyte count to bytes.
func MBToBytes(mb uint64) uint64 {
	return mb * bytesInMB
}

// BytesToMB is the inverse of MBToBytes.
func BytesToMB(bytes uint64) uint64 {
	return bytes / bytesInMB
}

// ToLowerWithTrim normalizes config values (log levels and component
// names) before comparison.
func ToLowerWithTrim(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
