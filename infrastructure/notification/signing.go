package notification

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

// Signature headers set on every signed delivery.
const (
	HeaderSignature = "X-Roundtable-Signature"
	HeaderTimestamp = "X-Roundtable-Timestamp"
)

// Sign returns "sha256=<hex>" over "<unix timestamp>.<payload>". Binding the
// timestamp into the MAC lets receivers reject replayed deliveries.
func Sign(payload []byte, secret string, ts time.Time) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", ts.Unix())
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// SignedHeaders returns the headers of a signed delivery.
func SignedHeaders(payload []byte, secret string, ts time.Time) map[string]string {
	return map[string]string{
		HeaderSignature: Sign(payload, secret, ts),
		HeaderTimestamp: strconv.FormatInt(ts.Unix(), 10),
	}
}

// Verify checks a delivery's signature and that its timestamp lies within
// tolerance of now.
func Verify(payload []byte, secret, signature, timestamp string, tolerance time.Duration) bool {
	unix, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return false
	}
	ts := time.Unix(unix, 0)
	if d := time.Since(ts); d > tolerance || d < -tolerance {
		return false
	}
	return hmac.Equal([]byte(Sign(payload, secret, ts)), []byte(signature))
}
