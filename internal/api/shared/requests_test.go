package shared

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sampleRequest struct {
	Loops int    `json:"loops" validate:"gte=0,lte=10"`
	Topic string `json:"topic" validate:"omitempty,max=8"`
}

func TestDecodeJSON(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		body    string
		want    sampleRequest
		wantErr bool
	}{
		{"valid", `{"loops":3,"topic":"t1"}`, sampleRequest{Loops: 3, Topic: "t1"}, false},
		{"empty body", ``, sampleRequest{}, false},
		{"unknown field", `{"loops":1,"extra":true}`, sampleRequest{}, true},
		{"malformed", `{"loops":`, sampleRequest{}, true},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tc.body))
			w := httptest.NewRecorder()

			var got sampleRequest
			err := DecodeJSON(w, req, &got)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestValidateRequest(t *testing.T) {
	t.Parallel()

	assert.NoError(t, ValidateRequest(&sampleRequest{Loops: 10}))
	assert.Error(t, ValidateRequest(&sampleRequest{Loops: 11}))
	assert.Error(t, ValidateRequest(&sampleRequest{Topic: "too-long-topic"}))
}
