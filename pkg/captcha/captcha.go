// Package captcha verifies registration challenges against the Google
// reCAPTCHA siteverify endpoint.
package captcha

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	svcerr "github.com/samplecove/samplecove/pkg/errors"
)

// Verifier checks a captcha response token.
type Verifier interface {
	Verify(ctx context.Context, token string) error
}

const siteverifyURL = "https://www.google.com/recaptcha/api/siteverify"

// RecaptchaVerifier verifies tokens against the reCAPTCHA API.
type RecaptchaVerifier struct {
	secret   string
	endpoint string
	client   *http.Client
}

// NewRecaptchaVerifier builds a verifier for the given site secret.
// Returns nil when the secret is empty, which disables verification.
func NewRecaptchaVerifier(secret string) *RecaptchaVerifier {
	if secret == "" {
		return nil
	}
	return &RecaptchaVerifier{
		secret:   secret,
		endpoint: siteverifyURL,
		client:   &http.Client{Timeout: 5 * time.Second},
	}
}

// Verify posts the token to siteverify and rejects failed challenges.
func (v *RecaptchaVerifier) Verify(ctx context.Context, token string) error {
	form := url.Values{
		"secret":   {v.secret},
		"response": {token},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.endpoint,
		strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("building siteverify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := v.client.Do(req)
	if err != nil {
		return fmt.Errorf("calling siteverify: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var result struct {
		Success    bool     `json:"success"`
		ErrorCodes []string `json:"error-codes"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("decoding siteverify response: %w", err)
	}
	if !result.Success {
		return svcerr.NewForbiddenError("captcha verification failed", nil)
	}
	return nil
}
