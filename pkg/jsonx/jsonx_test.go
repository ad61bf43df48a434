package jsonx

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type body struct {
	Name string `json:"name"`
	N    int    `json:"n"`
}

func TestParseStrictJSONBody(t *testing.T) {
	req := httptest.NewRequest("POST", "/", strings.NewReader(`{"name":"a","n":2}`))
	var b body
	require.NoError(t, ParseStrictJSONBody(req, &b))
	assert.Equal(t, body{Name: "a", N: 2}, b)
}

func TestParseStrictJSONBodyRejects(t *testing.T) {
	cases := map[string]string{
		"empty":    "  \n",
		"unknown":  `{"name":"a","extra":1}`,
		"trailing": `{"name":"a"}{"name":"b"}`,
		"type":     `{"n":"two"}`,
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			var b body
			err := ParseStrictJSONBody(httptest.NewRequest("POST", "/", strings.NewReader(in)), &b)
			require.Error(t, err)
		})
	}

	var b body
	assert.ErrorIs(t, ParseStrictJSONBody(httptest.NewRequest("POST", "/", strings.NewReader("")), &b), ErrEmptyBody)
	assert.ErrorIs(t, DecodeStrict([]byte(`{} {}`), &b), ErrTrailingJSON)
}
