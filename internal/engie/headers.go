package engie

import (
	"net/http"
	"strings"
)

// HeaderBuilder produces the header set for one request.
type HeaderBuilder interface {
	Headers() http.Header
}

// DesktopHeaders mimics the my.engie.ro web client and authenticates with a
// bearer token.
type DesktopHeaders struct {
	Token string
}

func (d DesktopHeaders) Headers() http.Header {
	return sanitized(map[string]string{
		"Accept":           "application/json",
		"Accept-Language":  "ro-RO,ro;q=0.9,en-US;q=0.8,en;q=0.7",
		"Authorization":    "Bearer " + Clean(d.Token),
		"Cache-Control":    "no-cache",
		"Pragma":           "no-cache",
		"Origin":           "https://my.engie.ro",
		"Referer":          "https://my.engie.ro/",
		"source":           "desktop",
		"User-Agent":       "Mozilla/5.0",
		"X-Requested-With": "XMLHttpRequest",
	})
}

// MobileHeaders mimics the Android application. Device-Id is per call.
type MobileHeaders struct {
	DeviceID string
}

func (m MobileHeaders) Headers() http.Header {
	return sanitized(map[string]string{
		"source":              "android",
		"App-Version":         "2.0.33",
		"App-Build":           "161",
		"OS-Version":          "6.0",
		"OS-Platform":         "Android",
		"Device-Type":         "phone",
		"Device-Manufacturer": "Vodafone",
		"Device-Model":        "VFD 500",
		"Screen-Height":       "854",
		"Screen-Width":        "480",
		"User-Agent":          "okhttp/4.12.0",
		"Accept":              "application/json",
		"Device-Id":           m.DeviceID,
	})
}

// Clean removes CR/LF anywhere in s and trims surrounding whitespace.
func Clean(s string) string {
	s = strings.ReplaceAll(s, "\r", "")
	s = strings.ReplaceAll(s, "\n", "")
	return strings.TrimSpace(s)
}

func sanitized(values map[string]string) http.Header {
	h := make(http.Header, len(values))
	for k, v := range values {
		// Non-canonical keys ("source") are sent as-is, like the apps do.
		h[k] = []string{Clean(v)}
	}
	return h
}
