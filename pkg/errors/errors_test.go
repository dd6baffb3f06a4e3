package errors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPStatusMapping(t *testing.T) {
	cases := []struct {
		err    *AppError
		status int
	}{
		{Unauthorized("no token"), http.StatusUnauthorized},
		{Forbidden("denied"), http.StatusForbidden},
		{ObjectNotFound("no such config"), http.StatusNotFound},
		{ObjectExists("already there"), http.StatusBadRequest},
		{InvalidParameter("bad shape"), http.StatusBadRequest},
		{NoArchive("no archive for kind"), http.StatusBadRequest},
		{NoChanges("nothing to do"), http.StatusAccepted},
		{CipherError("key missing", nil), http.StatusInternalServerError},
		{Internal("boom", nil), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.status, tc.err.HTTPStatus(), tc.err.Message)
	}
}

func TestErrorStringAndUnwrap(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	err := Internal("cannot load policies", cause)
	assert.Equal(t, "cannot load policies: connection refused", err.Error())
	assert.Equal(t, cause, err.Unwrap())

	bare := InvalidParameter("bad shape")
	assert.Equal(t, "bad shape", bare.Error())
	assert.Nil(t, bare.Unwrap())
}

func TestIsKind(t *testing.T) {
	err := ObjectNotFound("gone")
	assert.True(t, IsKind(err, KindNotFound))
	assert.False(t, IsKind(err, KindForbidden))

	wrapped := fmt.Errorf("outer: %w", err)
	assert.True(t, IsKind(wrapped, KindNotFound))

	assert.False(t, IsKind(fmt.Errorf("plain"), KindNotFound))
	assert.False(t, IsKind(nil, KindNotFound))
}

func TestNewf(t *testing.T) {
	err := Newf(KindInvalid, "bad value %q in %s", "x", "col")
	require.NotNil(t, err)
	assert.Equal(t, `bad value "x" in col`, err.Message)
	assert.Equal(t, KindInvalid, err.Kind)
}
