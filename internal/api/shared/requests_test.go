package shared

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeJSON(t *testing.T) {
	t.Parallel()

	type body struct {
		Story     string `json:"story"`
		NumScenes int    `json:"num_scenes"`
	}

	tests := []struct {
		name    string
		body    string
		wantErr error
		wantAny bool
	}{
		{name: "valid json", body: `{"story": "once", "num_scenes": 3}`},
		{name: "invalid json", body: `{"story": "once",}`, wantAny: true},
		{name: "empty body", body: "", wantAny: true},
		{name: "too large", body: `{"story":"` + strings.Repeat("a", MaxJSONBodyBytes) + `"}`, wantErr: ErrBodyTooLarge},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			req := httptest.NewRequest(http.MethodPost, "/test", bytes.NewBufferString(tc.body))
			var got body
			err := DecodeJSON(req, &got)
			switch {
			case tc.wantErr != nil:
				assert.ErrorIs(t, err, tc.wantErr)
			case tc.wantAny:
				assert.Error(t, err)
			default:
				require.NoError(t, err)
				assert.Equal(t, body{Story: "once", NumScenes: 3}, got)
			}
		})
	}
}

type errorReader struct{}

func (errorReader) Read([]byte) (int, error) { return 0, io.ErrUnexpectedEOF }

func TestDecodeJSONWithReadError(t *testing.T) {
	t.Parallel()
	req := httptest.NewRequest(http.MethodPost, "/test", errorReader{})
	var target struct{}
	assert.ErrorIs(t, DecodeJSON(req, &target), io.ErrUnexpectedEOF)
}

type selfValidating struct{ ok bool }

func (s selfValidating) Validate() error {
	if !s.ok {
		return io.EOF
	}
	return nil
}

func TestValidateRequest(t *testing.T) {
	t.Parallel()

	type tagged struct {
		Story string `validate:"required"`
		N     int    `validate:"gte=0,lte=10"`
	}

	assert.NoError(t, ValidateRequest(selfValidating{ok: true}))
	assert.Error(t, ValidateRequest(selfValidating{}))
	assert.NoError(t, ValidateRequest(&tagged{Story: "x", N: 3}))
	assert.Error(t, ValidateRequest(&tagged{N: 3}))
	assert.Error(t, ValidateRequest(&tagged{Story: "x", N: 11}))
}

func TestQueryInt(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodGet, "/tasks?limit=25&offset=abc", nil)
	n, err := QueryInt(req, "limit", 10)
	require.NoError(t, err)
	assert.Equal(t, 25, n)

	n, err = QueryInt(req, "missing", 10)
	require.NoError(t, err)
	assert.Equal(t, 10, n)

	_, err = QueryInt(req, "offset", 0)
	assert.EqualError(t, err, "offset must be an integer")
}

func TestFormValues(t *testing.T) {
	t.Parallel()

	form := url.Values{
		"replace_original": {"true"},
		"flag_on":          {"on"},
		"flag_bad":         {"maybe"},
		"num_scenes":       {"4"},
		"num_bad":          {"four"},
	}
	req := httptest.NewRequest(http.MethodPost, "/test", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	b, err := FormBool(req, "replace_original", false)
	require.NoError(t, err)
	assert.True(t, b)

	b, err = FormBool(req, "flag_on", false)
	require.NoError(t, err)
	assert.True(t, b)

	b, err = FormBool(req, "absent", false)
	require.NoError(t, err)
	assert.False(t, b)

	_, err = FormBool(req, "flag_bad", false)
	assert.Error(t, err)

	n, err := FormInt(req, "num_scenes", 0)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	_, err = FormInt(req, "num_bad", 0)
	assert.Error(t, err)
}
