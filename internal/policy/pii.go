package policy

import (
	"encoding/json"
	"regexp"
)

var (
	emailPattern = regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}\b`)
	phonePattern = regexp.MustCompile(`(?:\+?\d[\d()\-\s.]{7,}\d)`)
	cardPattern  = regexp.MustCompile(`\b(?:\d[ -]*?){13,16}\b`)
)

// TextFields are the envelope fields that carry user or provider text.
var TextFields = []string{"message", "last_message", "error"}

func MaskPIIString(value string) string {
	masked := emailPattern.ReplaceAllString(value, "[email_redacted]")
	masked = cardPattern.ReplaceAllStringFunc(masked, maskCardNumber)
	masked = phonePattern.ReplaceAllString(masked, "[phone_redacted]")
	return masked
}

// MaskEnvelopeText masks the given string fields of a JSON object and leaves
// ids, timestamps and everything else untouched. Payloads that are not JSON
// objects are masked as plain text.
func MaskEnvelopeText(payload json.RawMessage, fields ...string) json.RawMessage {
	var decoded map[string]json.RawMessage
	if err := json.Unmarshal(payload, &decoded); err != nil {
		encoded, _ := json.Marshal(MaskPIIString(string(payload)))
		return encoded
	}

	changed := false
	for _, field := range fields {
		raw, ok := decoded[field]
		if !ok {
			continue
		}
		var text string
		if err := json.Unmarshal(raw, &text); err != nil {
			continue
		}
		masked := MaskPIIString(text)
		if masked == text {
			continue
		}
		encoded, err := json.Marshal(masked)
		if err != nil {
			continue
		}
		decoded[field] = encoded
		changed = true
	}
	if !changed {
		return append(json.RawMessage(nil), payload...)
	}

	encoded, err := json.Marshal(decoded)
	if err != nil {
		return append(json.RawMessage(nil), payload...)
	}
	return encoded
}

func maskCardNumber(value string) string {
	digits := make([]rune, 0, len(value))
	for _, char := range value {
		if char >= '0' && char <= '9' {
			digits = append(digits, char)
		}
	}
	if len(digits) < 8 {
		return "[card_redacted]"
	}
	return "**** **** **** " + string(digits[len(digits)-4:])
}
