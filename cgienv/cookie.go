package cgienv

import (
	"net/url"
	"strings"
)

// DecodeCookies splits a Cookie header value on `;`, trims each token,
// splits it on the first `=`, and percent-decodes the value. Tokens with
// an empty name are ignored.
func DecodeCookies(header string) map[string]string {
	cookies := make(map[string]string)
	if header == "" {
		return cookies
	}

	for _, token := range strings.Split(header, ";") {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}

		name, value, _ := strings.Cut(token, "=")
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}

		decoded, err := url.QueryUnescape(strings.TrimSpace(value))
		if err != nil {
			decoded = value
		}
		cookies[name] = decoded
	}

	return cookies
}
