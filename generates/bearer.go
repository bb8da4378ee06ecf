package generates

import "strings"

// ExtractBearer returns the token from an Authorization header value, or ""
// when the header is absent or uses another scheme.
func ExtractBearer(header string) string {
	header = strings.TrimSpace(header)
	const prefix = "bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}
