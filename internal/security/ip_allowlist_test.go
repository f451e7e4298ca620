package security

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAllowlist(t *testing.T) {
	list, err := ParseAllowlist([]string{"10.0.0.0/8", " 192.168.1.7 ", "", "2001:db8::/32"})
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "192.168.1.7/32", list[1].String())

	_, err = ParseAllowlist([]string{"10.0.0.0/33"})
	assert.Error(t, err)
	_, err = ParseAllowlist([]string{"not-an-ip"})
	assert.Error(t, err)
}

func TestIPAllowlist(t *testing.T) {
	list, err := ParseAllowlist([]string{"10.0.0.0/8", "::1"})
	require.NoError(t, err)
	h := IPAllowlist(list)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		remote string
		want   int
	}{
		{"10.1.2.3:5555", http.StatusOK},
		{"[::1]:5555", http.StatusOK},
		{"[::ffff:10.9.9.9]:80", http.StatusOK},
		{"11.0.0.1:5555", http.StatusForbidden},
		{"garbage", http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.remote, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			req.Header.Set("X-Forwarded-For", "10.0.0.1")
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestIPAllowlistEmptyAdmitsAll(t *testing.T) {
	h := IPAllowlist(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "203.0.113.9:1234"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
