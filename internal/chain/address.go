package chain

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrNoAddress = errors.New("no hex address in output")

	addressPattern = regexp.MustCompile(`0x[0-9a-fA-F]{40}`)
)

// ExtractAddress returns the first 20-byte hex address in tool output.
// Longer hex runs such as transaction hashes are not mistaken for addresses.
func ExtractAddress(output string) (common.Address, error) {
	for _, loc := range addressPattern.FindAllStringIndex(output, -1) {
		end := loc[1]
		if end < len(output) && isHexDigit(output[end]) {
			continue
		}
		return common.HexToAddress(output[loc[0]:end]), nil
	}

	return common.Address{}, fmt.Errorf("%w: %q", ErrNoAddress, truncate(strings.TrimSpace(output), 200))
}

// ExtractLabeledAddress returns the address on the first line containing
// label, falling back to ExtractAddress over the whole output.
func ExtractLabeledAddress(output, label string) (common.Address, error) {
	for _, line := range strings.Split(output, "\n") {
		if !strings.Contains(strings.ToLower(line), strings.ToLower(label)) {
			continue
		}
		if addr, err := ExtractAddress(line); err == nil {
			return addr, nil
		}
	}
	return ExtractAddress(output)
}

func isHexDigit(b byte) bool {
	return (b >= '0' && b <= '9') || (b >= 'a' && b <= 'f') || (b >= 'A' && b <= 'F')
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
