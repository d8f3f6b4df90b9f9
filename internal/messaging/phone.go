package messaging

import "strings"

const whatsappPrefix = "whatsapp:"

// NormalizeE164 ensures the value begins with + and only contains digits
// afterward. A whatsapp: prefix is dropped.
func NormalizeE164(value string) string {
	value = strings.TrimSpace(value)
	value = strings.TrimPrefix(strings.ToLower(value), whatsappPrefix)
	if value == "" {
		return ""
	}
	digits := sanitizePhone(value)
	if digits == "" {
		return ""
	}
	return "+" + digits
}

// WhatsAppAddress returns the Twilio WhatsApp address for a phone number or
// an existing whatsapp: address.
func WhatsAppAddress(value string) string {
	number := NormalizeE164(value)
	if number == "" {
		return ""
	}
	return whatsappPrefix + number
}

func sanitizePhone(value string) string {
	var b strings.Builder
	for _, r := range value {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
