package services

import (
	"strings"

	"golang.org/x/text/language"
)

// DetectDeviceType classifies a user-agent as mobile, tablet, or desktop.
// Used only when the click carried no device snapshot.
func DetectDeviceType(userAgent string) string {
	if userAgent == "" {
		return ""
	}
	ua := strings.ToLower(userAgent)
	switch {
	case strings.Contains(ua, "tablet") || strings.Contains(ua, "ipad"):
		return "tablet"
	case strings.Contains(ua, "mobile") || strings.Contains(ua, "android") ||
		strings.Contains(ua, "iphone") || strings.Contains(ua, "ipod") ||
		strings.Contains(ua, "blackberry") || strings.Contains(ua, "windows phone"):
		return "mobile"
	default:
		return "desktop"
	}
}

// DetectBrowser classifies a user-agent into the major browser families.
// Edge and Opera embed "chrome" in their user-agents, so they are matched
// first; Safari is matched only when Chrome is absent.
func DetectBrowser(userAgent string) string {
	if userAgent == "" {
		return ""
	}
	ua := strings.ToLower(userAgent)
	switch {
	case strings.Contains(ua, "edg"):
		return "Edge"
	case strings.Contains(ua, "opr") || strings.Contains(ua, "opera"):
		return "Opera"
	case strings.Contains(ua, "chrome"):
		return "Chrome"
	case strings.Contains(ua, "firefox"):
		return "Firefox"
	case strings.Contains(ua, "safari"):
		return "Safari"
	default:
		return "Other"
	}
}

// canonicalLocale normalizes a BCP 47 locale from a device snapshot
// ("en-us" → "en-US"). Unparseable values pass through untouched.
func canonicalLocale(locale string) string {
	if locale == "" {
		return ""
	}
	tag, err := language.Parse(locale)
	if err != nil {
		return locale
	}
	return tag.String()
}
