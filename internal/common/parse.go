package common

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseUint64orHex converts the given uint64 string into the number.
// It can parse the string with 0x prefix as well.
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

const (
	// tai64Epoch is 2^62, the TAI64 label of 1970-01-01 00:00:00 TAI.
	tai64Epoch = uint64(1) << 62
	// taiUTCOffset is the TAI-UTC offset applied by fuel-core when producing block times.
	taiUTCOffset = 10
)

// TAI64ToUnix converts a TAI64 label (as returned by fuel-core for block times) into unix seconds.
// Values below the TAI64 epoch are treated as plain unix seconds.
func TAI64ToUnix(val string) (int64, error) {
	label, err := ParseUint64orHex(&val)
	if err != nil {
		return 0, fmt.Errorf("invalid block time %q: %w", val, err)
	}

	if label < tai64Epoch {
		return int64(label), nil //nolint:gosec
	}

	return int64(label-tai64Epoch) - taiUTCOffset, nil //nolint:gosec
}

const bytesInMB = 1024 * 1024

func MBToBytes(mb uint64) uint64 {
	return mb * bytesInMB
}

func BytesToMB(bytes uint64) uint64 {
	return bytes / bytesInMB
}

func ToLowerWithTrim(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
