package hmacauth

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var fixedNow = time.Unix(1_700_000_000, 0)

func clock() time.Time { return fixedNow }

func echoHandler(t *testing.T, called *bool, wantBody string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*called = true
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.Equal(t, wantBody, string(body))
		w.WriteHeader(http.StatusOK)
	})
}

func TestSignerAndVerifierAgree(t *testing.T) {
	body := `{"address":"0x00000000000000000000000000000000000000aa"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/fund", strings.NewReader(body))
	(&Signer{Secret: "secret", Now: clock}).SignRequest(req, []byte(body))

	v := &Verifier{Secret: "secret", MaxSkew: time.Minute, Now: clock}
	rec := httptest.NewRecorder()
	called := false
	v.Middleware(echoHandler(t, &called, body)).ServeHTTP(rec, req)

	require.True(t, called)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestVerifierRejectsInvalidSignature(t *testing.T) {
	body := `{"foo":"bar"}`
	req := httptest.NewRequest(http.MethodPost, "/test", strings.NewReader(body))
	req.Header.Set(DefaultSignatureHeader, "deadbeef")
	req.Header.Set(DefaultTimestampHeader, strconv.FormatInt(fixedNow.Unix(), 10))

	v := &Verifier{Secret: "secret", MaxSkew: time.Minute, Now: clock}
	rec := httptest.NewRecorder()
	v.Middleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler should not be called")
	})).ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestVerifyErrors(t *testing.T) {
	body := []byte(`{}`)
	v := &Verifier{Secret: "secret", MaxSkew: time.Minute, Now: clock}

	tests := []struct {
		name   string
		mutate func(r *http.Request)
		want   error
	}{
		{
			name:   "missing signature",
			mutate: func(r *http.Request) { r.Header.Del(DefaultSignatureHeader) },
			want:   ErrMissingSignature,
		},
		{
			name:   "missing timestamp",
			mutate: func(r *http.Request) { r.Header.Del(DefaultTimestampHeader) },
			want:   ErrMissingTimestamp,
		},
		{
			name: "stale timestamp",
			mutate: func(r *http.Request) {
				ts := strconv.FormatInt(fixedNow.Add(-2*time.Minute).Unix(), 10)
				r.Header.Set(DefaultTimestampHeader, ts)
				r.Header.Set(DefaultSignatureHeader, Sign("secret", ts, body))
			},
			want: ErrStaleTimestamp,
		},
		{
			name: "future timestamp",
			mutate: func(r *http.Request) {
				ts := strconv.FormatInt(fixedNow.Add(2*time.Minute).Unix(), 10)
				r.Header.Set(DefaultTimestampHeader, ts)
				r.Header.Set(DefaultSignatureHeader, Sign("secret", ts, body))
			},
			want: ErrStaleTimestamp,
		},
		{
			name:   "wrong secret",
			mutate: func(r *http.Request) { (&Signer{Secret: "other", Now: clock}).SignRequest(r, body) },
			want:   ErrInvalidSignature,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(string(body)))
			(&Signer{Secret: "secret", Now: clock}).SignRequest(req, body)
			tc.mutate(req)
			require.ErrorIs(t, v.Verify(req), tc.want)
		})
	}
}

func TestCustomHeadersAndDisabledSecret(t *testing.T) {
	body := []byte(`{}`)
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(string(body)))
	signer := &Signer{Secret: "s", Now: clock, SignatureHeader: "X-Sig", TimestampHeader: "X-Ts"}
	signer.SignRequest(req, body)
	require.NotEmpty(t, req.Header.Get("X-Sig"))
	require.Empty(t, req.Header.Get(DefaultSignatureHeader))

	v := &Verifier{Secret: "s", MaxSkew: time.Minute, Now: clock, SignatureHeader: "X-Sig", TimestampHeader: "X-Ts"}
	require.NoError(t, v.Verify(req))

	open := &Verifier{}
	require.NoError(t, open.Verify(httptest.NewRequest(http.MethodPost, "/", nil)))
}
