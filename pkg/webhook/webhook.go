// Package webhook verifies inbound Shopify webhook signatures.
//
// Shopify signs each webhook delivery with HMAC-SHA256 over the raw request
// body using the app's shared secret and sends the base64-encoded digest in
// the X-Shopify-Hmac-Sha256 header.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
)

// HeaderName is the request header carrying the signature.
const HeaderName = "X-Shopify-Hmac-Sha256"

// Verify reports whether hmacHeader is a valid signature for data under
// secret. The comparison is constant-time.
func Verify(data []byte, hmacHeader, secret string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(data)
	computed := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(computed), []byte(hmacHeader))
}
