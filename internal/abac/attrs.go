package abac

import (
	"strings"
)

// Actions recognized by policies and policyscopes.
const (
	ActionRead  = "read"
	ActionWrite = "write"
	ActionAdmin = "admin"
)

// Attributes is the per-request identity bundle policies evaluate against.
// Every field is empty/zero when the request did not establish it.
type Attributes struct {
	CertCN      string
	IP          string
	TokenNbr    int64
	TokenName   string
	HTTPHeaders map[string]string
	Groups      map[string][]string
}

// NewAttributes returns an empty skeleton.
func NewAttributes() *Attributes {
	return &Attributes{
		HTTPHeaders: map[string]string{},
		Groups:      map[string][]string{},
	}
}

// MasterAttrs is the internal identity used during bootstrap, before any
// session exists.
func MasterAttrs() *Attributes {
	attrs := NewAttributes()
	attrs.TokenNbr = 100
	attrs.TokenName = "master"
	return attrs
}

// HeaderKey normalizes an HTTP header name for the policy namespace:
// lowercased, dashes become underscores.
func HeaderKey(name string) string {
	return strings.ReplaceAll(strings.ToLower(name), "-", "_")
}

// Env builds the closed evaluation namespace for one decision. Only the names
// assembled here are resolvable inside policy expressions.
func (a *Attributes) Env(objType string, obj map[string]interface{}, action string, sensitive bool) map[string]interface{} {
	if obj == nil {
		obj = map[string]interface{}{}
	}
	env := map[string]interface{}{
		"token_name":   a.TokenName,
		"token_nbr":    a.TokenNbr,
		"ip":           a.IP,
		"cert_cn":      a.CertCN,
		"http_headers": a.HTTPHeaders,
		"groups":       a.Groups,
		"obj":          obj,
		"obj_type":     objType,
		"action":       action,
		"sensitive":    sensitive,
	}
	addBuiltins(env, a)
	return env
}

// MatchEnv builds the namespace for policyscope match expressions, which run
// without a requesting identity.
func MatchEnv(objType string, obj map[string]interface{}, groups map[string][]string) map[string]interface{} {
	if obj == nil {
		obj = map[string]interface{}{}
	}
	if groups == nil {
		groups = map[string][]string{}
	}
	attrs := NewAttributes()
	attrs.Groups = groups
	env := map[string]interface{}{
		"obj":      obj,
		"obj_type": objType,
		"groups":   groups,
	}
	addBuiltins(env, attrs)
	return env
}
