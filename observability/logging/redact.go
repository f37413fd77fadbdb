package logging

import (
	"net/url"
	"strings"
)

// RedactedValue is the canonical placeholder used for sensitive fields in logs.
const RedactedValue = "[REDACTED]"

// minSecretSegment is the shortest path segment treated as an embedded API key.
const minSecretSegment = 24

// MaskValue returns the redacted placeholder for non-empty values.
func MaskValue(value string) string {
	if strings.TrimSpace(value) == "" {
		return value
	}
	return RedactedValue
}

// RedactURL masks credentials carried by RPC URLs and database DSNs: userinfo
// passwords, query values and long path segments (provider API keys).
func RedactURL(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return trimmed
	}
	parsed, err := url.Parse(trimmed)
	if err != nil || parsed.Scheme == "" {
		return MaskValue(trimmed)
	}
	if parsed.User != nil {
		if _, ok := parsed.User.Password(); ok {
			parsed.User = url.UserPassword(parsed.User.Username(), RedactedValue)
		}
	}
	if parsed.RawQuery != "" {
		query := parsed.Query()
		for key := range query {
			query.Set(key, RedactedValue)
		}
		parsed.RawQuery = query.Encode()
	}
	if parsed.Opaque == "" && parsed.Path != "" {
		segments := strings.Split(parsed.Path, "/")
		for i, segment := range segments {
			if len(segment) >= minSecretSegment {
				segments[i] = RedactedValue
			}
		}
		parsed.Path = strings.Join(segments, "/")
		parsed.RawPath = ""
	}
	out, err := url.PathUnescape(parsed.String())
	if err != nil {
		return parsed.String()
	}
	return out
}
