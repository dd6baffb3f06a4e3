package store

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"gorm.io/gorm"

	"reflex-engine/internal/abac"
	"reflex-engine/internal/cache"
	"reflex-engine/internal/pkg/crypto"
	pkgErrors "reflex-engine/pkg/errors"
)

// apikeySecretLen is the raw byte length of generated apikey secrets.
const apikeySecretLen = 66

// registry holds every kind exposed through the object API, in schema
// creation order.
var registry []*Kind

func init() {
	registry = []*Kind{
		policyKind(),
		policyscopeKind(),
		pipelineKind(),
		serviceKind(),
		configKind(),
		instanceKind(),
		apikeyKind(),
		buildKind(),
		groupKind(),
		stateKind(),
	}
}

// Kinds returns all registered kinds in declaration order.
func Kinds() []*Kind {
	return registry
}

// KindByName resolves a kind by its lowercase API name. "group" and "grp"
// both resolve to the group kind.
func KindByName(name string) (*Kind, bool) {
	name = strings.ToLower(name)
	if name == "grp" {
		name = "group"
	}
	for _, k := range registry {
		if k.Name == name {
			return k, true
		}
	}
	return nil, false
}

// KindNames lists the lowercase API names of every kind.
func KindNames() []string {
	return lo.Map(registry, func(k *Kind, _ int) string { return k.Name })
}

func pipelineKind() *Kind {
	return &Kind{
		Name: "pipeline", Table: "Pipeline",
		Archive: true, VarData: true, PolicyMap: true, Foreign: true,
		Cols: append(baseCols(),
			ColMap{Name: "title", Stored: "data", SType: STypeOpt},
			ColMap{Name: "contacts", Stored: "data", DType: DTypeMap, SType: STypeOpt},
			ColMap{Name: "launch", Stored: "data", DType: DTypeMap, SType: STypeOpt},
			ColMap{Name: "monitor", Stored: "data", DType: DTypeList, SType: STypeOpt},
		),
	}
}

func serviceKind() *Kind {
	k := &Kind{
		Name: "service", Table: "Service",
		Archive: true, VarData: true, PolicyMap: true, Foreign: true,
		Cols: append(baseCols(),
			ColMap{Name: "pipeline", Stored: "data", SType: STypeAlter, HasID: "pipeline_id"},
			ColMap{Name: "pipeline_id", Stored: "pipeline_id", SType: STypeRead},
			ColMap{Name: "config", Stored: "data", SType: STypeAlter, HasID: "config_id"},
			ColMap{Name: "config_id", Stored: "config_id", SType: STypeRead},
			ColMap{Name: "region", Stored: "data", SType: STypeOpt},
			ColMap{Name: "lane", Stored: "data", SType: STypeOpt},
			ColMap{Name: "tenant", Stored: "data", SType: STypeOpt},
			ColMap{Name: "dynamic-instances", Stored: "data", DType: DTypeList, SType: STypeOpt},
			ColMap{Name: "active-instances", Stored: "data", DType: DTypeList, SType: STypeOpt},
			ColMap{Name: "static-instances", Stored: "data", DType: DTypeList, SType: STypeOpt},
		),
	}
	k.MapRelations = func(s *Store, tx *gorm.DB, obj Object) ([]string, error) {
		var warnings []string
		pipeline, _ := KindByName("pipeline")
		config, _ := KindByName("config")
		instance, _ := KindByName("instance")
		for _, ref := range []struct {
			kind *Kind
			key  string
		}{{pipeline, "pipeline"}, {config, "config"}} {
			w, err := s.mapRef(tx, ref.kind, obj, ref.key)
			if err != nil {
				return nil, err
			}
			warnings = append(warnings, w...)
		}
		for _, key := range []string{"dynamic-instances", "static-instances", "active-instances"} {
			w, err := s.mapRefList(tx, instance, obj, key)
			if err != nil {
				return nil, err
			}
			warnings = append(warnings, w...)
		}
		return warnings, nil
	}
	return k
}

func configKind() *Kind {
	k := &Kind{
		Name: "config", Table: "Config",
		Archive: true, VarData: true, PolicyMap: true, Foreign: true,
		Cols: append(baseCols(),
			ColMap{Name: "extends", Stored: "data", DType: DTypeList, SType: STypeOpt},
			ColMap{Name: "imports", Stored: "data", DType: DTypeList, SType: STypeOpt},
			ColMap{Name: "exports", Stored: "data", DType: DTypeList, SType: STypeOpt},
			ColMap{Name: "content", Stored: "data", DType: DTypeMap, SType: STypeOpt},
			ColMap{Name: "sensitive", Stored: "data", DType: DTypeMap, SType: STypeOpt, Encrypt: true},
			ColMap{Name: "setenv", Stored: "data", DType: DTypeMap, SType: STypeOpt},
			ColMap{Name: "file", Stored: "data", SType: STypeOpt},
			ColMap{Name: "type", Stored: "data", SType: STypeAlter},
		),
	}
	k.MapRelations = func(s *Store, tx *gorm.DB, obj Object) ([]string, error) {
		ctype, _ := obj["type"].(string)
		if ctype != "parameter" && ctype != "file" {
			return nil, pkgErrors.InvalidParameter("invalid type=" + ctype + " not one of: parameter or file")
		}
		var warnings []string
		for _, key := range []string{"extends", "imports", "exports"} {
			w, err := s.mapRefList(tx, k, obj, key)
			if err != nil {
				return nil, err
			}
			warnings = append(warnings, w...)
		}
		return warnings, nil
	}
	return k
}

func instanceKind() *Kind {
	k := &Kind{
		Name: "instance", Table: "Instance",
		VarData: true, PolicyMap: true, Foreign: true,
		Cols: append(baseCols(),
			ColMap{Name: "service", Stored: "data", SType: STypeAlter, HasID: "service_id"},
			ColMap{Name: "service_id", Stored: "service_id", SType: STypeRead},
			ColMap{Name: "status", Stored: "data", SType: STypeAlter},
			ColMap{Name: "address", Stored: "data", DType: DTypeMap, SType: STypeAlter},
		),
	}
	k.Validate = func(s *Store, obj Object) error {
		if _, ok := obj["address"].(map[string]interface{}); !ok {
			return pkgErrors.InvalidParameter("address is not an object")
		}
		return nil
	}
	k.MapRelations = func(s *Store, tx *gorm.DB, obj Object) ([]string, error) {
		service, _ := KindByName("service")
		return s.mapRef(tx, service, obj, "service")
	}
	return k
}

// InstanceSkeleton is the default shape for instances registered by ping.
func InstanceSkeleton() Object {
	return Object{
		"address": map[string]interface{}{},
		"service": "unknown",
		"status":  "new",
	}
}

func stateKind() *Kind {
	return &Kind{
		Name: "state", Table: "State",
		VarData: true, PolicyMap: true, Foreign: true,
		Cols:    baseCols(),
	}
}

func buildKind() *Kind {
	return &Kind{
		Name: "build", Table: "Build",
		VarData: true, PolicyMap: true, Foreign: true,
		Cols: append(baseCols(),
			ColMap{Name: "application", Stored: "data", SType: STypeOpt},
			ColMap{Name: "version", Stored: "data", SType: STypeOpt},
			ColMap{Name: "state", Stored: "data", SType: STypeOpt},
			ColMap{Name: "status", Stored: "data", DType: DTypeMap, SType: STypeOpt},
			ColMap{Name: "type", Stored: "data", SType: STypeOpt},
			ColMap{Name: "link", Stored: "data", SType: STypeOpt},
		),
	}
}

func groupKind() *Kind {
	k := &Kind{
		Name: "group", Table: "Grp",
		VarData: true, PolicyMap: true, Foreign: true,
		Cols: append(baseCols(),
			ColMap{Name: "group", Stored: "data", DType: DTypeList, SType: STypeAlter},
			ColMap{Name: "_grp", Stored: "_grp", DType: DTypeList, SType: STypeOpt},
			ColMap{Name: "type", Stored: "typ", SType: STypeAlter},
		),
	}
	k.Validate = func(s *Store, obj Object) error {
		gtype, _ := obj["type"].(string)
		opts := append(KindNames(), "set", "password")
		if !lo.Contains(opts, strings.ToLower(gtype)) {
			return pkgErrors.InvalidParameter("invalid type=" + gtype +
				" not one of: " + strings.Join(opts, ", "))
		}
		return nil
	}
	k.MapRelations = func(s *Store, tx *gorm.DB, obj Object) ([]string, error) {
		members, err := stringList(obj["group"])
		if err != nil {
			return nil, pkgErrors.InvalidParameter("group is not a list of strings")
		}
		gtype := strings.ToLower(obj["type"].(string))
		switch gtype {
		case "set":
			set := lo.Uniq(lo.Map(members, func(m string, _ int) string {
				return strings.ToLower(m)
			}))
			sort.Strings(set)
			obj["group"] = toIfaceList(set)
			obj["_grp"] = toIfaceList(set)
		case "password":
			grp := make([]string, 0, len(members))
			hashes := make([]string, 0, len(members))
			for _, elem := range members {
				parts := strings.SplitN(elem, ":", 2)
				if len(parts) != 2 {
					return nil, pkgErrors.InvalidParameter("password group items should be a list of name:passwords")
				}
				name, pword := parts[0], parts[1]
				if crypto.IsHashedPassword(pword) {
					grp = append(grp, elem)
					hashes = append(hashes, pword)
					continue
				}
				hashed, err := crypto.HashPassword(pword)
				if err != nil {
					return nil, pkgErrors.Internal("cannot hash group password", err)
				}
				grp = append(grp, strings.ToLower(name)+":"+hashed)
				hashes = append(hashes, hashed)
			}
			obj["group"] = toIfaceList(grp)
			obj["_grp"] = toIfaceList(hashes)
		default:
			ref, ok := KindByName(gtype)
			if !ok {
				return nil, pkgErrors.InvalidParameter("invalid type: " + gtype)
			}
			var warnings []string
			mapped := make([]string, 0, len(members))
			bare := make([]string, 0, len(members))
			for _, target := range members {
				resolved, warning := s.resolveSoftRef(tx, ref, target)
				if warning != "" {
					warnings = append(warnings, warning)
				}
				mapped = append(mapped, resolved)
				bare = append(bare, BaseName(resolved))
			}
			mapped = lo.Uniq(mapped)
			bare = lo.Uniq(bare)
			sort.Strings(mapped)
			sort.Strings(bare)
			obj["group"] = toIfaceList(mapped)
			obj["_grp"] = toIfaceList(bare)
			return warnings, nil
		}
		return nil, nil
	}
	k.Changed = func(s *Store, tx *gorm.DB, obj Object) error {
		s.cache.ClearType(cache.TypeGroups)
		return nil
	}
	k.Deleted = func(s *Store, tx *gorm.DB, obj Object) error {
		s.cache.ClearType(cache.TypeGroups)
		return nil
	}
	return k
}

func apikeyKind() *Kind {
	k := &Kind{
		Name: "apikey", Table: "Apikey",
		VarData: true, PolicyMap: true, Foreign: true,
		Cols: append(baseCols(),
			ColMap{Name: "uuid", Stored: "uuid", SType: STypeAlter},
			ColMap{Name: "secrets", Stored: "secrets", DType: DTypeList, SType: STypeOpt, Sensitive: true},
			ColMap{Name: "description", Stored: "data", SType: STypeOpt},
		),
	}
	k.Validate = func(s *Store, obj Object) error {
		if name, _ := obj["name"].(string); name == "" {
			return pkgErrors.InvalidParameter("object load: missing 'name'")
		}
		return nil
	}
	return k
}

// NewApikeyMaterial generates the identity and first secret for a new
// apikey. Existing values are rejected so keys cannot be forged on create.
func NewApikeyMaterial(obj Object) error {
	if _, ok := obj["id"]; ok {
		return pkgErrors.InvalidParameter("id must be left undefined on apikey creation")
	}
	secret, err := crypto.RandomSecret(apikeySecretLen)
	if err != nil {
		return pkgErrors.Internal("cannot generate apikey secret", err)
	}
	obj["uuid"] = uuid.NewString()
	obj["secrets"] = []interface{}{secret}
	return nil
}

func policyKind() *Kind {
	k := &Kind{
		Name: "policy", Table: "Policy",
		Archive: true, VarData: true, PolicyMap: true, Foreign: true,
		Cols: append(baseCols(),
			ColMap{Name: "policy", Stored: "policy", SType: STypeAlter},
			ColMap{Name: "result", Stored: "result", SType: STypeOpt},
			ColMap{Name: "order", Stored: "sort_order", SType: STypeOpt},
		),
	}
	k.Validate = func(s *Store, obj Object) error {
		if _, ok := obj["order"]; !ok {
			obj["order"] = 1000
		}
		result, _ := obj["result"].(string)
		if result == "" {
			result = abac.ResultPass
		}
		result = strings.ToLower(result)
		if result != abac.ResultPass && result != abac.ResultFail {
			return pkgErrors.InvalidParameter("result may be only pass or fail")
		}
		obj["result"] = result
		src, _ := obj["policy"].(string)
		if _, err := abac.Compile(src); err != nil {
			return err
		}
		return nil
	}
	k.Changed = func(s *Store, tx *gorm.DB, obj Object) error {
		s.cache.ClearType(cache.TypePolicyMap)
		return nil
	}
	k.Deleted = func(s *Store, tx *gorm.DB, obj Object) error {
		id := objID(obj)
		if err := tx.Exec("DELETE FROM PolicyFor WHERE policy_id = ?", id).Error; err != nil {
			return err
		}
		if err := tx.Exec("DELETE FROM Policyscope WHERE policy_id = ?", id).Error; err != nil {
			return err
		}
		s.cache.ClearType(cache.TypePolicyMap)
		return nil
	}
	return k
}

func policyscopeKind() *Kind {
	k := &Kind{
		Name: "policyscope", Table: "Policyscope",
		Archive: true, VarData: true, PolicyMap: true, Foreign: true,
		Cols: append(baseCols(),
			ColMap{Name: "policy", Stored: "data", SType: STypeAlter, HasID: "policy_id"},
			ColMap{Name: "policy_id", Stored: "policy_id", SType: STypeRead},
			ColMap{Name: "objects", Stored: "objects", DType: DTypeList, SType: STypeOpt},
			ColMap{Name: "matches", Stored: "matches", SType: STypeAlter},
			ColMap{Name: "actions", Stored: "actions", SType: STypeAlter},
			ColMap{Name: "type", Stored: "type", SType: STypeAlter},
		),
	}
	k.Validate = func(s *Store, obj Object) error {
		matches, _ := obj["matches"].(string)
		if _, err := abac.Compile(matches); err != nil {
			return pkgErrors.InvalidParameter("cannot prepare match expression: " + err.Error())
		}
		stype, _ := obj["type"].(string)
		stype = strings.ToLower(stype)
		if stype != "targeted" && stype != "global" {
			return pkgErrors.InvalidParameter("scope type is not one of: global, targeted")
		}
		obj["type"] = stype
		if err := normalizeScopeObjects(obj); err != nil {
			return err
		}
		return normalizeScopeActions(obj)
	}
	k.MapRelations = func(s *Store, tx *gorm.DB, obj Object) ([]string, error) {
		policy, _ := KindByName("policy")
		warnings, err := s.mapRef(tx, policy, obj, "policy")
		if err != nil {
			return nil, err
		}
		if len(warnings) > 0 {
			return nil, pkgErrors.InvalidParameter(warnings[0])
		}
		return nil, nil
	}
	k.Changed = func(s *Store, tx *gorm.DB, obj Object) error {
		s.cache.ClearType(cache.TypePolicyScope)
		s.cache.ClearType(cache.TypePolicyMatch)
		return s.MapScope(tx, objID(obj))
	}
	k.Deleted = func(s *Store, tx *gorm.DB, obj Object) error {
		s.cache.ClearType(cache.TypePolicyScope)
		s.cache.ClearType(cache.TypePolicyMatch)
		if err := tx.Exec("DELETE FROM PolicyFor WHERE pscope_id = ?", objID(obj)).Error; err != nil {
			return err
		}
		s.cache.ClearType(cache.TypePolicyMap)
		return nil
	}
	return k
}

// normalizeScopeObjects resolves the objects list against the policy-mapped
// kinds, accepting "*" as a wildcard.
func normalizeScopeObjects(obj Object) error {
	raw, ok := obj["objects"]
	if !ok || raw == nil {
		return nil
	}
	values, err := stringList(raw)
	if err != nil {
		return pkgErrors.InvalidParameter("objects is not a list of strings")
	}
	tables := map[string]string{}
	var valid []string
	for _, k := range registry {
		if !k.PolicyMap {
			continue
		}
		tables[strings.ToLower(k.Table)] = k.Table
		tables[k.Name] = k.Table
		valid = append(valid, k.Table)
	}
	resolved := map[string]bool{}
	var errs []string
	for _, v := range values {
		if v == "*" {
			obj["objects"] = []interface{}{"*"}
			return nil
		}
		table, ok := tables[strings.ToLower(v)]
		if !ok {
			errs = append(errs, "object '"+v+"' is not valid")
			continue
		}
		resolved[table] = true
	}
	if len(errs) > 0 {
		return pkgErrors.InvalidParameter(strings.Join(errs, ", ") +
			". Must be one of: " + strings.Join(valid, ", "))
	}
	names := lo.Keys(resolved)
	sort.Strings(names)
	obj["objects"] = toIfaceList(names)
	return nil
}

// normalizeScopeActions lowercases and validates the comma separated actions
// list. Admin subsumes everything else.
func normalizeScopeActions(obj Object) error {
	raw, _ := obj["actions"].(string)
	var actions []string
	for _, action := range strings.Split(raw, ",") {
		action = strings.ToLower(strings.TrimSpace(action))
		if action == "" {
			continue
		}
		if action != abac.ActionAdmin && action != abac.ActionRead && action != abac.ActionWrite {
			return pkgErrors.InvalidParameter("invalid action type: " + action)
		}
		actions = append(actions, action)
	}
	if len(actions) == 0 {
		return pkgErrors.InvalidParameter("no valid actions defined")
	}
	if lo.Contains(actions, abac.ActionAdmin) {
		obj["actions"] = abac.ActionAdmin
	} else {
		obj["actions"] = strings.Join(lo.Uniq(actions), ",")
	}
	return nil
}

// stringList coerces a decoded JSON array into []string.
func stringList(v interface{}) ([]string, error) {
	switch list := v.(type) {
	case []string:
		return list, nil
	case []interface{}:
		out := make([]string, 0, len(list))
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("element %v is not a string", item)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("not a list")
	}
}

func toIfaceList(items []string) []interface{} {
	out := make([]interface{}, len(items))
	for i, s := range items {
		out[i] = s
	}
	return out
}

// objID reads the numeric id from an object regardless of JSON decode type.
func objID(obj Object) int64 {
	switch v := obj["id"].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case uint64:
		return int64(v)
	case float64:
		return int64(v)
	case string:
		_, id := SplitNameID(v)
		return id
	default:
		return 0
	}
}
