package chain

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
)

// ErrInvalidAmount is returned for amounts that cannot be expressed exactly
// in base units.
var ErrInvalidAmount = errors.New("invalid amount")

// displayDecimals is how many fractional digits FormatBalance keeps.
const displayDecimals = 4

// minPower and maxPower bound the SI prefixes FormatBalance picks from.
const (
	minPower = -15
	maxPower = 24
)

var siPrefixes = map[int]string{
	-15: "f",
	-12: "p",
	-9:  "n",
	-6:  "µ",
	-3:  "m",
	0:   "",
	3:   "k",
	6:   "M",
	9:   "B",
	12:  "T",
	15:  "P",
	18:  "E",
	21:  "Z",
	24:  "Y",
}

// ToBaseUnits converts a decimal amount in display units into base units,
// amount * 10^decimals, without going through floating point.
func ToBaseUnits(amount string, decimals int) (*big.Int, error) {
	if decimals < 0 {
		return nil, fmt.Errorf("%w: negative decimals %d", ErrInvalidAmount, decimals)
	}
	s := strings.TrimSpace(amount)
	if s == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidAmount)
	}

	whole, frac, found := strings.Cut(s, ".")
	if found && whole == "" && frac == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, amount)
	}
	if !allDigits(whole) || !allDigits(frac) {
		return nil, fmt.Errorf("%w: %q is not a decimal number", ErrInvalidAmount, amount)
	}

	frac = strings.TrimRight(frac, "0")
	if len(frac) > decimals {
		return nil, fmt.Errorf("%w: %q has more than %d decimal places", ErrInvalidAmount, amount, decimals)
	}
	digits := whole + frac + strings.Repeat("0", decimals-len(frac))
	digits = strings.TrimLeft(digits, "0")
	if digits == "" {
		return new(big.Int), nil
	}

	out, ok := new(big.Int).SetString(digits, 10)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, amount)
	}
	return out, nil
}

// FormatUnits renders base units as an exact decimal in display units with
// trailing zeros removed. ToBaseUnits(FormatUnits(x, d), d) == x for x >= 0.
func FormatUnits(base *big.Int, decimals int) string {
	if base == nil {
		return "0"
	}
	sign := ""
	if base.Sign() < 0 {
		sign = "-"
	}
	digits := padDigits(new(big.Int).Abs(base).String(), decimals)
	point := len(digits) - decimals
	whole, frac := digits[:point], strings.TrimRight(digits[point:], "0")
	if frac == "" {
		return sign + whole
	}
	return sign + whole + "." + frac
}

// FormatBalance renders base units for display: the value is scaled to an SI
// prefix so that one to three digits precede the point, and four fractional
// digits are kept, e.g. "1.2345 kDOT" or "500.0000 mDOT".
func FormatBalance(base *big.Int, decimals int, unit string) string {
	if base == nil || base.Sign() == 0 {
		return strings.TrimSpace("0 " + unit)
	}
	sign := ""
	if base.Sign() < 0 {
		sign = "-"
	}
	if decimals < 0 {
		decimals = 0
	}
	digits := padDigits(new(big.Int).Abs(base).String(), decimals)
	whole := len(digits) - decimals

	var power int
	if digits[:whole] != "0" {
		power = (whole - 1) / 3 * 3
	} else {
		frac := digits[whole:]
		zeros := len(frac) - len(strings.TrimLeft(frac, "0"))
		power = -(zeros/3 + 1) * 3
	}
	power = max(minPower, min(power, maxPower))

	point := whole - power
	if point > len(digits) {
		digits += strings.Repeat("0", point-len(digits))
	}
	intPart := strings.TrimLeft(digits[:point], "0")
	if intPart == "" {
		intPart = "0"
	}
	frac := digits[point:]
	if len(frac) > displayDecimals {
		frac = frac[:displayDecimals]
	} else {
		frac += strings.Repeat("0", displayDecimals-len(frac))
	}
	return fmt.Sprintf("%s%s.%s %s%s", sign, intPart, frac, siPrefixes[power], unit)
}

// padDigits left-pads digits so at least one digit precedes the point.
func padDigits(digits string, decimals int) string {
	if len(digits) <= decimals {
		return strings.Repeat("0", decimals-len(digits)+1) + digits
	}
	return digits
}

func allDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
