package extract

import (
	"regexp"
	"strings"
)

var (
	sourceRe  = regexp.MustCompile(`(?i)(?:youtube\.com|youtu\.be)/`)
	videoIDRe = regexp.MustCompile(`(?:youtu\.be/|v=|shorts/|embed/)([a-zA-Z0-9_-]{11})`)
	unsafeRe  = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1F]`)
	spacesRe  = regexp.MustCompile(`\s+`)
)

const maxFileNameLen = 150

// ValidSourceURL reports whether the URL points at a recognized source.
// Validation happens synchronously at submit time, before any strategy
// is attempted.
func ValidSourceURL(url string) bool {
	return sourceRe.MatchString(url)
}

// NormalizeURL canonicalizes a source URL to the plain watch form,
// stripping playlist and timestamp noise. Unrecognized shapes pass
// through unchanged.
func NormalizeURL(url string) string {
	m := videoIDRe.FindStringSubmatch(url)
	if m == nil {
		return url
	}
	return "https://www.youtube.com/watch?v=" + m[1]
}

// SanitizeFileName strips filesystem-hostile runes from a display name
// and bounds its length so it is safe as a storage object name.
func SanitizeFileName(name string) string {
	name = unsafeRe.ReplaceAllString(name, "_")
	name = spacesRe.ReplaceAllString(name, " ")
	name = strings.TrimSpace(name)
	if len(name) > maxFileNameLen {
		name = name[:maxFileNameLen]
	}
	return name
}
