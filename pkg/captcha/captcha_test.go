package captcha

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	svcerr "github.com/samplecove/samplecove/pkg/errors"
)

func TestNewRecaptchaVerifierDisabledWithoutSecret(t *testing.T) {
	t.Parallel()
	assert.Nil(t, NewRecaptchaVerifier(""))
	assert.NotNil(t, NewRecaptchaVerifier("secret"))
}

func TestVerify(t *testing.T) {
	t.Parallel()

	var gotSecret, gotResponse string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotSecret = r.FormValue("secret")
		gotResponse = r.FormValue("response")

		w.Header().Set("Content-Type", "application/json")
		if gotResponse == "good-token" {
			_, _ = w.Write([]byte(`{"success":true}`))
			return
		}
		_, _ = w.Write([]byte(`{"success":false,"error-codes":["invalid-input-response"]}`))
	}))
	t.Cleanup(srv.Close)

	v := NewRecaptchaVerifier("site-secret")
	v.endpoint = srv.URL

	require.NoError(t, v.Verify(context.Background(), "good-token"))
	assert.Equal(t, "site-secret", gotSecret)
	assert.Equal(t, "good-token", gotResponse)

	err := v.Verify(context.Background(), "bad-token")
	assert.True(t, svcerr.IsForbidden(err))
}
