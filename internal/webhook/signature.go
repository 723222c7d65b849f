// Package webhook authenticates and decodes inbound platform webhook
// deliveries. Verification is a pure predicate; decoding turns the loosely
// shaped JSON payload into a flat Event.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

// DefaultTolerance is the replay window applied by Verify.
const DefaultTolerance = 300 * time.Second

// Verify reports whether header carries a valid timestamped HMAC-SHA256
// signature for rawBody. The header has the form "t=<unix>,v0=<hex>"; the
// signed string is "<t>.<rawBody>". Missing keys, malformed values and
// timestamps more than DefaultTolerance away from now all yield false.
func Verify(rawBody []byte, header string, secret []byte, now time.Time) bool {
	return VerifyWithin(rawBody, header, secret, now, DefaultTolerance)
}

// VerifyWithin is Verify with an explicit replay window.
func VerifyWithin(rawBody []byte, header string, secret []byte, now time.Time, tolerance time.Duration) bool {
	ts, sig, ok := parseHeader(header)
	if !ok {
		return false
	}
	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return false
	}
	skew := now.Sub(time.Unix(unix, 0))
	if skew < 0 {
		skew = -skew
	}
	if skew > tolerance {
		return false
	}
	expected := Sign(rawBody, ts, secret)
	return hmac.Equal([]byte(expected), []byte(sig))
}

// Sign returns the hex signature for body at timestamp ts.
func Sign(body []byte, ts string, secret []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(ts))
	mac.Write([]byte{'.'})
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// SignatureHeader builds a header value for body signed at t.
func SignatureHeader(body []byte, secret []byte, t time.Time) string {
	ts := strconv.FormatInt(t.Unix(), 10)
	return "t=" + ts + ",v0=" + Sign(body, ts, secret)
}

// parseHeader extracts t and v0. Every comma-separated part must be a
// key=value pair; later duplicates win.
func parseHeader(header string) (ts, sig string, ok bool) {
	if strings.TrimSpace(header) == "" {
		return "", "", false
	}
	for _, part := range strings.Split(header, ",") {
		k, v, found := strings.Cut(part, "=")
		if !found {
			return "", "", false
		}
		switch strings.TrimSpace(k) {
		case "t":
			ts = strings.TrimSpace(v)
		case "v0":
			sig = strings.TrimSpace(v)
		}
	}
	return ts, sig, ts != "" && sig != ""
}
