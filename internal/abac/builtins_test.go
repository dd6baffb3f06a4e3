package abac

import (
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reflex-engine/internal/pkg/crypto"
)

func hashOf(t *testing.T, password string) string {
	hash, err := crypto.HashPassword(password)
	require.NoError(t, err)
	return hash
}

func b64(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}

func b64List(t *testing.T, passwords ...string) string {
	raw, err := json.Marshal(passwords)
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(raw)
}

func TestPwin(t *testing.T) {
	groups := map[string][]string{
		"deployers": {hashOf(t, "open-sesame")},
	}

	ok, err := pwin(map[string]string{headerPassword: b64("open-sesame")}, "deployers", groups)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = pwin(map[string]string{headerPassword: b64("wrong")}, "deployers", groups)
	require.NoError(t, err)
	assert.False(t, ok)

	// no header, no group: no match, no error
	ok, err = pwin(map[string]string{}, "deployers", groups)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = pwin(map[string]string{headerPassword: b64("open-sesame")}, "nonexistent", groups)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = pwin(map[string]string{headerPassword: "not base64!"}, "deployers", groups)
	assert.Error(t, err)
}

func TestPwinNamedMembers(t *testing.T) {
	groups := map[string][]string{
		"ops": {"alice:" + hashOf(t, "pw-alice"), "not-a-hash"},
	}

	ok, err := pwin(map[string]string{headerPassword: b64("pw-alice")}, "ops", groups)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPwsin(t *testing.T) {
	groups := map[string][]string{
		"signers": {hashOf(t, "first"), hashOf(t, "second")},
	}

	ok, err := pwsin(map[string]string{headerPasswords: b64List(t, "first", "second")}, "signers", groups)
	require.NoError(t, err)
	assert.True(t, ok)

	// one of two fails: the whole check fails
	ok, err = pwsin(map[string]string{headerPasswords: b64List(t, "first", "bogus")}, "signers", groups)
	require.NoError(t, err)
	assert.False(t, ok)

	// empty submitted list never matches
	ok, err = pwsin(map[string]string{headerPasswords: b64List(t)}, "signers", groups)
	require.NoError(t, err)
	assert.False(t, ok)

	// duplicates are an error, not a silent pass
	_, err = pwsin(map[string]string{headerPasswords: b64List(t, "first", "first")}, "signers", groups)
	assert.Error(t, err)

	_, err = pwsin(map[string]string{headerPasswords: b64("not json")}, "signers", groups)
	assert.Error(t, err)
}

func TestPwinThroughPolicy(t *testing.T) {
	attrs := NewAttributes()
	attrs.TokenName = "pipeline-token"
	attrs.Groups["deployers"] = []string{hashOf(t, "open-sesame")}
	attrs.HTTPHeaders[headerPassword] = b64("open-sesame")

	p := mustPolicy(t, 1, `pwin(http_headers, "deployers")`, ActionWrite, ResultPass, 1, 0)
	matched, err := p.Eval(attrs.Env("Config", nil, ActionWrite, true))
	require.NoError(t, err)
	assert.True(t, matched)
}

func TestMemberHash(t *testing.T) {
	hash := hashOf(t, "x")

	got, ok := memberHash(hash)
	assert.True(t, ok)
	assert.Equal(t, hash, got)

	got, ok = memberHash("bob:" + hash)
	assert.True(t, ok)
	assert.Equal(t, hash, got)

	_, ok = memberHash("plain-name")
	assert.False(t, ok)
}
