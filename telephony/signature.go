package telephony

import (
	"crypto/hmac"
	"crypto/sha1" //nolint:gosec // Twilio signs webhooks with HMAC-SHA1
	"encoding/base64"
	"errors"
	"net/http"
	"net/url"
	"sort"
	"strings"
)

// SignatureHeader carries Twilio's webhook signature.
const SignatureHeader = "X-Twilio-Signature"

// ErrBadSignature is returned when a webhook signature does not verify.
var ErrBadSignature = errors.New("telephony: invalid webhook signature")

// Signature computes the webhook signature Twilio sends for a request to
// fullURL with the given POST parameters: HMAC-SHA1 over the URL followed
// by every parameter name and value in name order, base64 encoded.
func Signature(authToken, fullURL string, params url.Values) string {
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString(fullURL)
	for _, name := range names {
		for _, value := range params[name] {
			b.WriteString(name)
			b.WriteString(value)
		}
	}

	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// ValidateSignature checks signature against the one expected for
// fullURL and params.
func ValidateSignature(authToken, fullURL string, params url.Values, signature string) error {
	if authToken == "" || signature == "" {
		return ErrBadSignature
	}
	expected := Signature(authToken, fullURL, params)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrBadSignature
	}
	return nil
}

// ValidateRequest checks the signature of a webhook request. publicBaseURL
// replaces the scheme and host the request arrived on, since Twilio signs
// the public URL rather than the one seen behind a proxy. The form is
// parsed as a side effect.
func ValidateRequest(r *http.Request, authToken, publicBaseURL string) error {
	if err := r.ParseForm(); err != nil {
		return ErrBadSignature
	}
	full := r.URL.RequestURI()
	if base := strings.TrimRight(publicBaseURL, "/"); base != "" {
		full = base + full
	} else {
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		full = scheme + "://" + r.Host + full
	}
	params := r.PostForm
	if r.Method != http.MethodPost {
		params = nil
	}
	return ValidateSignature(authToken, full, params, r.Header.Get(SignatureHeader))
}
