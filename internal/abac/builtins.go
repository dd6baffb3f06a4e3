package abac

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"reflex-engine/internal/pkg/crypto"
	"reflex-engine/internal/pkg/logger"
)

// Header names carrying proof-of-possession passwords, normalized form.
const (
	headerPassword  = "x_password"
	headerPasswords = "x_passwords"
)

// addBuiltins installs the helper functions every policy expression may call.
// Python-style True/False aliases are included because stored expressions
// commonly use them.
func addBuiltins(env map[string]interface{}, attrs *Attributes) {
	env["True"] = true
	env["False"] = false
	env["rx"] = rxSearch
	env["re"] = map[string]interface{}{
		"search": rxSearch,
		"match":  rxMatch,
	}
	env["pwin"] = func(headers map[string]string, group string) (bool, error) {
		return pwin(headers, group, attrs.Groups)
	}
	env["pwsin"] = func(headers map[string]string, group string) (bool, error) {
		return pwsin(headers, group, attrs.Groups)
	}
	env["debug"] = func(args ...interface{}) bool {
		logger.Info("policy debug", zap.String("args", fmt.Sprint(args...)))
		return true
	}
}

// rxSearch reports whether pattern matches anywhere in s.
func rxSearch(pattern, s string) (bool, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return false, fmt.Errorf("bad pattern %q: %w", pattern, err)
	}
	return re.MatchString(s), nil
}

// rxMatch anchors the pattern at the start of s.
func rxMatch(pattern, s string) (bool, error) {
	if !strings.HasPrefix(pattern, "^") {
		pattern = "^" + pattern
	}
	return rxSearch(pattern, s)
}

// memberHash extracts the password hash from a group member entry. Password
// group members are stored as bare bcrypt hashes; set members may carry a
// "name:hash" form.
func memberHash(member string) (string, bool) {
	if crypto.IsHashedPassword(member) {
		return member, true
	}
	if i := strings.Index(member, ":"); i >= 0 && crypto.IsHashedPassword(member[i+1:]) {
		return member[i+1:], true
	}
	return "", false
}

// pwin verifies the base64 X-Password header against the named password
// group. Missing header or group is simply no match.
func pwin(headers map[string]string, group string, groups map[string][]string) (bool, error) {
	raw, ok := headers[headerPassword]
	if !ok || raw == "" {
		return false, nil
	}
	plain, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return false, fmt.Errorf("x-password is not base64: %w", err)
	}
	for _, member := range groups[group] {
		hash, ok := memberHash(member)
		if !ok {
			continue
		}
		if crypto.CheckPassword(string(plain), hash) {
			return true, nil
		}
	}
	return false, nil
}

// pwsin verifies the base64 JSON array in X-Passwords against the named
// password group. Every submitted password must verify against some member,
// and duplicates in the submitted list are an error.
func pwsin(headers map[string]string, group string, groups map[string][]string) (bool, error) {
	raw, ok := headers[headerPasswords]
	if !ok || raw == "" {
		return false, nil
	}
	decoded, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return false, fmt.Errorf("x-passwords is not base64: %w", err)
	}
	var plains []string
	if err := json.Unmarshal(decoded, &plains); err != nil {
		return false, fmt.Errorf("x-passwords is not a json array: %w", err)
	}
	if len(plains) == 0 {
		return false, nil
	}
	seen := map[string]bool{}
	for _, p := range plains {
		if seen[p] {
			return false, fmt.Errorf("duplicate password submitted")
		}
		seen[p] = true
	}
	members := groups[group]
	for _, plain := range plains {
		matched := false
		for _, member := range members {
			hash, ok := memberHash(member)
			if !ok {
				continue
			}
			if crypto.CheckPassword(plain, hash) {
				matched = true
				break
			}
		}
		if !matched {
			return false, nil
		}
	}
	return true, nil
}
