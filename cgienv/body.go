package cgienv

import (
	"strings"

	json "github.com/goccy/go-json"
)

// decodeBody dispatches on the lowercased, parameter-stripped content type
// per spec §4.4: JSON objects parse to map[string]any (falling back to the
// raw text on a parse failure, never raising); form-urlencoded bodies run
// through the query decoder; text/*, application/xml and a body with no
// content type become a plain string; any other media type — or an empty
// body — parses to nil while the raw
// bytes are still retained on the Request.
func decodeBody(contentType string, raw []byte) any {
	if len(raw) == 0 {
		return nil
	}

	mediaType := strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))

	switch {
	case mediaType == "application/json":
		var parsed any
		if err := json.Unmarshal(raw, &parsed); err != nil {
			return string(raw)
		}
		return parsed

	case mediaType == "application/x-www-form-urlencoded":
		return DecodeQuery(string(raw))

	case mediaType == "":
		return string(raw)

	case strings.HasPrefix(mediaType, "text/"), mediaType == "application/xml":
		return string(raw)

	default:
		return nil
	}
}
