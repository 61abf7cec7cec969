package domain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrInvalidEnergy = errors.New("invalid energy amount")

// Energy is the virtual currency amount, stored in hundredths.
type Energy int64

const energyScale = 100

func EnergyFromInt(units int64) Energy {
	return Energy(units * energyScale)
}

// ParseEnergy reads a decimal such as "10", "0.5" or "-2.25".
// More than two fractional digits are accepted only when the extra digits are zeros.
func ParseEnergy(value string) (Energy, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return 0, ErrInvalidEnergy
	}

	negative := false
	switch trimmed[0] {
	case '-':
		negative = true
		trimmed = trimmed[1:]
	case '+':
		trimmed = trimmed[1:]
	}

	whole, fraction, _ := strings.Cut(trimmed, ".")
	if (whole == "" && fraction == "") || !onlyDigits(whole) || !onlyDigits(fraction) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidEnergy, value)
	}
	if whole == "" {
		whole = "0"
	}
	if len(fraction) > 2 {
		if strings.Trim(fraction[2:], "0") != "" {
			return 0, fmt.Errorf("%w: %q has more than two decimals", ErrInvalidEnergy, value)
		}
		fraction = fraction[:2]
	}
	for len(fraction) < 2 {
		fraction += "0"
	}

	units, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidEnergy, value)
	}
	cents, err := strconv.ParseInt(fraction, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidEnergy, value)
	}

	total := units*energyScale + cents
	if negative {
		total = -total
	}
	return Energy(total), nil
}

func onlyDigits(value string) bool {
	for index := 0; index < len(value); index++ {
		if value[index] < '0' || value[index] > '9' {
			return false
		}
	}
	return true
}

func (e Energy) String() string {
	value := int64(e)
	sign := ""
	if value < 0 {
		sign = "-"
		value = -value
	}
	whole := value / energyScale
	cents := value % energyScale
	if cents == 0 {
		return fmt.Sprintf("%s%d", sign, whole)
	}
	if cents%10 == 0 {
		return fmt.Sprintf("%s%d.%d", sign, whole, cents/10)
	}
	return fmt.Sprintf("%s%d.%02d", sign, whole, cents)
}

func (e Energy) MarshalJSON() ([]byte, error) {
	return []byte(e.String()), nil
}

func (e *Energy) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" {
		*e = 0
		return nil
	}
	raw = strings.Trim(raw, `"`)
	parsed, err := ParseEnergy(raw)
	if err != nil {
		return err
	}
	*e = parsed
	return nil
}
