package rest

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"io"
	"net/http"
)

const signatureHeader = "X-Turn-Hook-Signature"

// ValidateHMAC verifies the webhook body signature. With an empty secret
// the check is disabled entirely. A missing or empty header is 401; a
// signature that does not match the body is 403.
func ValidateHMAC(secret string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if secret == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			signature := r.Header.Get(signatureHeader)
			if signature == "" {
				http.Error(w, signatureHeader+" not found in request headers", http.StatusUnauthorized)
				return
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				http.Error(w, "could not read request body", http.StatusBadRequest)
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			mac := hmac.New(sha256.New, []byte(secret))
			mac.Write(body)
			expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))

			if !hmac.Equal([]byte(expected), []byte(signature)) {
				http.Error(w, "HMAC signature does not match", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
