package sanitize

import (
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// MaxDeviceLength bounds the stored User-Agent.
const MaxDeviceLength = 256

var strict = bluemonday.StrictPolicy()

// Text strips all HTML and surrounding whitespace.
func Text(input string) string {
	return strings.TrimSpace(strict.Sanitize(input))
}

// Device cleans a client-supplied User-Agent before it is stored on a session
// and echoed back by the diagnostics route.
func Device(userAgent string) string {
	cleaned := Text(userAgent)
	if len(cleaned) <= MaxDeviceLength {
		return cleaned
	}
	cut := MaxDeviceLength
	for cut > 0 && !utf8.RuneStart(cleaned[cut]) {
		cut--
	}
	return cleaned[:cut]
}
