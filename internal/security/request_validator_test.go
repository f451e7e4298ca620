package security

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const transferSchema = `{
  "type": "object",
  "required": ["to_user_id", "amount"],
  "additionalProperties": false,
  "properties": {
    "to_user_id": {"type": "string", "minLength": 1},
    "amount": {"type": "string", "pattern": "^[0-9]+(\\.[0-9]+)?$"}
  }
}`

func TestSchemaSetValidate(t *testing.T) {
	set, err := CompileSchemas(map[string]string{"transfer": transferSchema})
	require.NoError(t, err)

	var seen string
	h := CorrelationID(MaxBytes(256)(set.Validate("transfer")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		seen = string(b)
		w.WriteHeader(http.StatusOK)
	}))))

	tests := []struct {
		name string
		body string
		want int
		code string
	}{
		{"valid", `{"to_user_id":"bob","amount":"10.50"}`, http.StatusOK, ""},
		{"malformed", `{"to_user_id":`, http.StatusBadRequest, "invalid_json"},
		{"missing field", `{"to_user_id":"bob"}`, http.StatusUnprocessableEntity, "validation_error"},
		{"numeric amount", `{"to_user_id":"bob","amount":10}`, http.StatusUnprocessableEntity, "validation_error"},
		{"too large", `{"to_user_id":"` + strings.Repeat("x", 300) + `","amount":"1"}`, http.StatusRequestEntityTooLarge, "payload_too_large"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = ""
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			require.Equal(t, tt.want, rec.Code)
			if tt.code == "" {
				assert.Equal(t, tt.body, seen, "body replayed to handler")
				return
			}
			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.code, resp.Error)
			assert.NotEmpty(t, resp.CorrelationID)
		})
	}
}

func TestSchemaSetUnknownNamePanics(t *testing.T) {
	set, err := CompileSchemas(nil)
	require.NoError(t, err)
	assert.Panics(t, func() { set.Validate("missing") })
}

func TestCorrelationID(t *testing.T) {
	var got string
	h := CorrelationID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = CorrelationIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(CorrelationIDHeader, "req-42")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "req-42", got)
	assert.Equal(t, "req-42", rec.Header().Get(CorrelationIDHeader))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(CorrelationIDHeader, "bad id with spaces")
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.NotEqual(t, "bad id with spaces", got)
	assert.Len(t, got, 36)
}
