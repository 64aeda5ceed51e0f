package fastcgi

import (
	"strconv"

	"github.com/go-fcgi/fcgiserver/protocol"
)

// Known GET_VALUES query keys, per spec §4.6.
const (
	keyMaxConns  = "FCGI_MAX_CONNS"
	keyMaxReqs   = "FCGI_MAX_REQS"
	keyMpxsConns = "FCGI_MPXS_CONNS"
)

// buildGetValuesResult answers a GET_VALUES management record: for each
// queried key that is one of the three FastCGI capability keys, the reply
// carries the server's configured value. Unrecognized keys are silently
// dropped rather than rejected.
func buildGetValuesResult(queried map[string]string, maxConns, maxReqs int) []byte {
	answers := make(map[string]string, len(queried))
	for key := range queried {
		switch key {
		case keyMaxConns:
			answers[key] = strconv.Itoa(maxConns)
		case keyMaxReqs:
			answers[key] = strconv.Itoa(maxReqs)
		case keyMpxsConns:
			answers[key] = "1"
		}
	}
	return protocol.EncodePairs(answers)
}
