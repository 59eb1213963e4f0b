package carrier

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

const (
	// maxSignatureAge is the replay window: signatures older than this are rejected
	// regardless of validity. One policy for every carrier.
	maxSignatureAge = 5 * time.Minute
	// maxClockSkew tolerates slightly fast carrier clocks.
	maxClockSkew = time.Minute
)

// computeSignature returns the hex HMAC-SHA256 of "timestamp.payload".
func computeSignature(secret string, payload []byte, timestamp string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// verifySignature checks the timestamp freshness and the HMAC in constant time.
func verifySignature(secret string, payload []byte, signature, timestamp string) error {
	if signature == "" || timestamp == "" {
		return fmt.Errorf("%w: missing signature or timestamp header", ErrBadSignature)
	}

	unix, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: malformed timestamp", ErrBadSignature)
	}
	ts := time.Unix(unix, 0)
	now := time.Now()
	if now.Sub(ts) > maxSignatureAge {
		return fmt.Errorf("%w: timestamp outside replay window", ErrBadSignature)
	}
	if ts.Sub(now) > maxClockSkew {
		return fmt.Errorf("%w: timestamp in the future", ErrBadSignature)
	}

	expected := computeSignature(secret, payload, timestamp)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return fmt.Errorf("%w: signature mismatch", ErrBadSignature)
	}
	return nil
}

// SignWebhook produces the signature a carrier would send for payload at the given
// time. Exposed for tests and for the webhook simulator.
func SignWebhook(secret string, payload []byte, at time.Time) (signature, timestamp string) {
	timestamp = strconv.FormatInt(at.Unix(), 10)
	return computeSignature(secret, payload, timestamp), timestamp
}

// VerifyWebhookSignature is the package-level entry point used by the webhook
// endpoint, which must verify before it knows which shipment (and therefore which
// integration) a payload refers to.
func VerifyWebhookSignature(secret string, payload []byte, signature, timestamp string) error {
	return verifySignature(secret, payload, signature, timestamp)
}
