package cgienv

import (
	"net/url"
	"strings"
)

const listKeySuffix = "[]"

// DecodeQuery parses a raw (already-assembled, possibly percent-encoded)
// query string into an ordered Query, applying the aggregation rule from
// spec §4.4: a `[]`-suffixed key always appends to a list; a repeated plain
// key is promoted to a list on its second occurrence; anything else is
// recorded as a single value. A missing or empty query string yields an
// empty Query.
func DecodeQuery(raw string) Query {
	q := newQuery()
	if raw == "" {
		return q
	}

	for _, pair := range strings.Split(raw, "&") {
		if pair == "" {
			continue
		}
		key, value, _ := strings.Cut(pair, "=")

		decodedKey, err := url.QueryUnescape(key)
		if err != nil {
			decodedKey = key
		}
		decodedValue, err := url.QueryUnescape(value)
		if err != nil {
			decodedValue = value
		}

		forceList := strings.HasSuffix(decodedKey, listKeySuffix)
		if forceList {
			decodedKey = strings.TrimSuffix(decodedKey, listKeySuffix)
		}

		q.set(decodedKey, decodedValue, forceList)
	}

	return q
}
