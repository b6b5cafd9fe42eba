package models

import "net/url"

// redactURL strips userinfo, query string, and fragment from a URL for
// safe inclusion in logs and manifests. Malformed URLs are returned
// unchanged, since redaction is best-effort, not validation.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.User = nil
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}
