package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"reflex-engine/internal/abac"
	"reflex-engine/internal/cache"
	"reflex-engine/internal/pkg/crypto"
	"reflex-engine/internal/pkg/logger"
	pkgErrors "reflex-engine/pkg/errors"
)

// maskedValue replaces secret material in responses the caller may list but
// not read, and redactedValue replaces sensitive columns likewise.
const (
	maskedValue   = "encrypted"
	redactedValue = "redacted"
)

// Store mediates every object operation: policy gating, encryption, soft
// reference normalization, and the scope index that backs policy lookup.
type Store struct {
	db      *gorm.DB
	cache   *cache.Cache
	keyring *crypto.Keyring
}

// New wires a store over an initialized database handle.
func New(db *gorm.DB, c *cache.Cache, kr *crypto.Keyring) *Store {
	return &Store{db: db, cache: c, keyring: kr}
}

// DB exposes the underlying handle for session and schema helpers.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Keyring exposes the configured crypto keys.
func (s *Store) Keyring() *crypto.Keyring {
	return s.keyring
}

// NameToID resolves a soft reference to an existing object id, or 0.
func (s *Store) NameToID(k *Kind, target string) int64 {
	id, _ := s.resolveRef(s.db, k, target)
	return id
}

// resolveRef looks a soft reference up by id first, then by name. It returns
// the current id (0 when missing) and the canonical name.
func (s *Store) resolveRef(tx *gorm.DB, k *Kind, target string) (int64, string) {
	name, id := SplitNameID(target)
	type row struct {
		ID   int64
		Name string
	}
	var found row
	if id != 0 {
		if err := tx.Raw("SELECT id, name FROM "+k.Table+" WHERE id = ?", id).
			Scan(&found).Error; err == nil && found.ID != 0 {
			return found.ID, found.Name
		}
	}
	if name != "" {
		found = row{}
		if err := tx.Raw("SELECT id, name FROM "+k.Table+" WHERE name = ?", name).
			Scan(&found).Error; err == nil && found.ID != 0 {
			return found.ID, found.Name
		}
	}
	return 0, name
}

// resolveSoftRef normalizes one reference into name.id form, or name.notfound
// with a warning when the target does not exist.
func (s *Store) resolveSoftRef(tx *gorm.DB, k *Kind, target string) (string, string) {
	id, name := s.resolveRef(tx, k, target)
	if id != 0 {
		return name + "." + strconv.FormatInt(id, 10), ""
	}
	base := BaseName(target)
	return base + ".notfound", k.Table + ":" + base + " not found"
}

// mapRef normalizes a single soft reference attribute in place.
func (s *Store) mapRef(tx *gorm.DB, refKind *Kind, obj Object, key string) ([]string, error) {
	raw, ok := obj[key]
	if !ok || raw == nil {
		return nil, nil
	}
	target, ok := raw.(string)
	if !ok {
		return nil, pkgErrors.InvalidParameter(key + " is not a string reference")
	}
	resolved, warning := s.resolveSoftRef(tx, refKind, target)
	obj[key] = resolved
	if warning != "" {
		return []string{warning}, nil
	}
	return nil, nil
}

// mapRefList normalizes a list attribute of soft references in place.
func (s *Store) mapRefList(tx *gorm.DB, refKind *Kind, obj Object, key string) ([]string, error) {
	raw, ok := obj[key]
	if !ok || raw == nil {
		return nil, nil
	}
	targets, err := stringList(raw)
	if err != nil {
		return nil, pkgErrors.InvalidParameter(key + " is not a list of references")
	}
	var warnings []string
	resolved := make([]interface{}, 0, len(targets))
	for _, target := range targets {
		ref, warning := s.resolveSoftRef(tx, refKind, target)
		if warning != "" {
			warnings = append(warnings, warning)
		}
		resolved = append(resolved, ref)
	}
	obj[key] = resolved
	return warnings, nil
}

// Groups loads the name to member index used by policy evaluation, cached
// under a single key.
func (s *Store) Groups() map[string][]string {
	if v, ok := s.cache.Get(cache.TypeGroups, "."); ok {
		return v.(map[string][]string)
	}
	type row struct {
		Name string
		Grp  string `gorm:"column:_grp"`
	}
	var rows []row
	groups := map[string][]string{}
	if err := s.db.Raw("SELECT name, _grp FROM Grp").Scan(&rows).Error; err != nil {
		logger.Error("cannot load groups", zap.Error(err))
		return groups
	}
	for _, r := range rows {
		var members []string
		if r.Grp != "" {
			if err := json.Unmarshal([]byte(r.Grp), &members); err != nil {
				logger.Warn("bad group member list", zap.String("group", r.Name), zap.Error(err))
				continue
			}
		}
		groups[r.Name] = members
	}
	s.cache.Set(cache.TypeGroups, ".", groups)
	return groups
}

// policyRow is the join shape of the scope index and policy tables.
type policyRow struct {
	Action    string
	Result    string
	SortOrder int `gorm:"column:sort_order"`
	ID        int64
	Name      string
	Policy    string
	UpdatedAt int64 `gorm:"column:updated_at"`
	TargetID  int64 `gorm:"column:target_id"`
}

// PoliciesFor returns the compiled policy set scoped to one object, from
// cache when every member policy is still live.
func (s *Store) PoliciesFor(tx *gorm.DB, k *Kind, targetID int64) (abac.PolicySet, error) {
	if !k.PolicyMap {
		return abac.PolicySet{}, nil
	}
	key := k.Table + "." + strconv.FormatInt(targetID, 10)
	if v, ok := s.cache.Get(cache.TypePolicyMap, key); ok {
		set := v.(abac.PolicySet)
		if s.policySetLive(set) {
			return set, nil
		}
	}
	return s.policiesDirect(tx, k, targetID, key)
}

// policySetLive reports whether every policy in the set is still present in
// the swept policy cache. A single eviction invalidates the whole set.
func (s *Store) policySetLive(set abac.PolicySet) bool {
	for _, bucket := range set {
		for _, p := range bucket {
			if _, ok := s.cache.Get(cache.TypePolicy, strconv.FormatInt(p.ID, 10)); !ok {
				return false
			}
		}
	}
	return true
}

func (s *Store) policiesDirect(tx *gorm.DB, k *Kind, targetID int64, key string) (abac.PolicySet, error) {
	sql := `SELECT action, result, sort_order, id, name, policy,
                   unix_timestamp(updated_at) AS updated_at, target_id
              FROM Policy, PolicyFor
             WHERE id = policy_id AND obj = ?`
	args := []interface{}{k.Table}
	if targetID != 0 {
		sql += " AND (target_id = ? OR target_id = 0)"
		args = append(args, targetID)
	} else {
		sql += " AND target_id = 0"
	}
	var rows []policyRow
	if err := tx.Raw(sql, args...).Scan(&rows).Error; err != nil {
		return nil, pkgErrors.Internal("cannot load policies", err)
	}

	set := abac.PolicySet{}
	base := time.Now()
	for _, r := range rows {
		p, err := abac.NewPolicy(r.ID, r.Name, r.Policy, r.Action, r.Result, r.SortOrder, r.UpdatedAt)
		if err != nil {
			logger.Warn("skipping uncompilable policy",
				zap.Int64("policy", r.ID), zap.Error(err))
			continue
		}
		set[p.Action] = append(set[p.Action], p)
		s.cache.SetFrom(cache.TypePolicy, strconv.FormatInt(p.ID, 10), p, base)
	}
	set.Sort()
	s.cache.SetFrom(cache.TypePolicyMap, key, set, base)
	return set, nil
}

// authorized runs the policy decision for one object. A nil attrs is the
// internal override used by bootstrap and scheduled jobs.
func (s *Store) authorized(set abac.PolicySet, attrs *abac.Attributes, k *Kind,
	obj Object, action string, sensitive bool) bool {
	if attrs == nil {
		return true
	}
	return set.Allowed(action, attrs.Env(k.Table, obj, action, sensitive))
}

// Get loads one object by soft reference. A nonzero archiveAt pulls the
// archived version stamped with that unix time instead.
func (s *Store) Get(k *Kind, target string, attrs *abac.Attributes, archiveAt int64) (Object, error) {
	id, _ := s.resolveRef(s.db, k, target)
	if id == 0 {
		return nil, pkgErrors.ObjectNotFound(fmt.Sprintf("unable to load %s: %s", k.Table, target))
	}

	var set abac.PolicySet
	if attrs != nil {
		var err error
		set, err = s.PoliciesFor(s.db, k, id)
		if err != nil {
			return nil, err
		}
	}

	sql := "SELECT * FROM " + k.Table + " WHERE id = ?"
	args := []interface{}{id}
	if archiveAt != 0 {
		if !k.Archive {
			return nil, pkgErrors.NoArchive(k.Table + " does not support archives")
		}
		sql = "SELECT * FROM " + k.Table + "Archive WHERE id = ? AND updated_at = from_unixtime(?)"
		args = append(args, archiveAt)
	}

	row := map[string]interface{}{}
	if err := s.db.Raw(sql, args...).Scan(&row).Error; err != nil {
		return nil, pkgErrors.Internal("cannot load "+k.Table, err)
	}
	if len(row) == 0 {
		return nil, pkgErrors.ObjectNotFound(fmt.Sprintf("unable to load %s: %s", k.Table, target))
	}

	obj, err := s.decode(k, set, attrs, row, nil)
	if err != nil {
		return nil, err
	}
	if attrs != nil && !s.authorized(set, attrs, k, obj, abac.ActionRead, false) {
		return nil, pkgErrors.Forbidden("unable to get permission")
	}
	return obj, nil
}

// List returns name and id summaries of objects the caller may read.
func (s *Store) List(k *Kind, attrs *abac.Attributes, limit int, match string,
	archiveFrom, archiveTo int64) ([]Object, error) {
	return s.ListCols(k, attrs, []string{"name", "id"}, limit, match, archiveFrom, archiveTo)
}

// ListCols lists objects with a chosen set of attributes. "*" expands to the
// full attribute map. Column gating applies per row.
func (s *Store) ListCols(k *Kind, attrs *abac.Attributes, cols []string, limit int,
	match string, archiveFrom, archiveTo int64) ([]Object, error) {
	rootSet, err := s.PoliciesFor(s.db, k, 0)
	if err != nil {
		return nil, err
	}
	if attrs != nil && !s.authorized(rootSet, attrs, k, Object{}, abac.ActionRead, false) {
		return nil, pkgErrors.Forbidden("unable to get permission")
	}

	want := map[string]bool{"id": true}
	for _, c := range cols {
		if c == "*" {
			for _, name := range k.ColNames() {
				want[name] = true
			}
			continue
		}
		want[c] = true
	}

	keys := map[string]bool{}
	for name := range want {
		col, ok := k.Col(name)
		switch {
		case !ok || col.Stored == "data":
			keys["data"] = true
		case name == "updated_at":
			keys["unix_timestamp(updated_at) AS updated_at"] = true
		default:
			keys["`"+col.Stored+"`"] = true
		}
	}
	selected := make([]string, 0, len(keys))
	for key := range keys {
		selected = append(selected, key)
	}
	sort.Strings(selected)

	table := k.Table
	var where []string
	var args []interface{}
	if archiveFrom != 0 || archiveTo != 0 {
		if !k.Archive {
			return nil, pkgErrors.NoArchive(k.Table + " does not support archives")
		}
		table += "Archive"
		if archiveTo < archiveFrom {
			archiveFrom, archiveTo = archiveTo, archiveFrom
		}
		where = append(where, "(updated_at <= from_unixtime(?) AND updated_at >= from_unixtime(?))")
		args = append(args, archiveTo, archiveFrom)
	}
	if match != "" {
		where = append([]string{"name LIKE ?"}, where...)
		args = append([]interface{}{match}, args...)
	}

	sql := "SELECT " + strings.Join(selected, ",") + " FROM " + table
	if len(where) > 0 {
		sql += " WHERE " + strings.Join(where, " AND ")
	}
	sql += " ORDER BY name"
	if limit > 0 {
		sql += " LIMIT ?"
		args = append(args, limit)
	}

	var rows []map[string]interface{}
	if err := s.db.Raw(sql, args...).Scan(&rows).Error; err != nil {
		return nil, pkgErrors.Internal("cannot list "+k.Table, err)
	}

	result := make([]Object, 0, len(rows))
	for _, row := range rows {
		set := rootSet
		if attrs != nil {
			if id := rowInt(row["id"]); id != 0 {
				rowSet, err := s.PoliciesFor(s.db, k, id)
				if err != nil {
					return nil, err
				}
				set = rowSet
			}
		}
		obj, err := s.decode(k, set, attrs, row, want)
		if err != nil {
			return nil, err
		}
		result = append(result, obj)
	}
	return result, nil
}

// decode converts a database row into the external object shape, applying
// per-column crypto and gating. cols limits output when non-nil.
func (s *Store) decode(k *Kind, set abac.PolicySet, attrs *abac.Attributes,
	row map[string]interface{}, cols map[string]bool) (Object, error) {
	data := map[string]interface{}{}
	if k.VarData {
		if blob := rowString(row["data"]); blob != "" {
			if err := json.Unmarshal([]byte(blob), &data); err != nil {
				return nil, pkgErrors.Internal("corrupt data blob in "+k.Table, err)
			}
		}
	}

	foreign := map[string]bool{}
	if k.Foreign {
		for name := range data {
			foreign[name] = true
		}
	}

	// gating identity for policy checks on this row
	gateObj := Object{"id": rowInt(row["id"]), "name": rowString(row["name"])}

	obj := Object{}
	for _, col := range k.Cols {
		name := col.Name
		if cols != nil && !cols[name] {
			continue
		}

		var value interface{}
		switch {
		case col.Stored == "data":
			value = data[name]
		case name == "updated_at":
			value = rowUnix(row["updated_at"])
			if value == int64(0) {
				value = nil
			}
		default:
			value = row[col.Stored]
		}
		if b, ok := value.([]byte); ok {
			value = string(b)
		}

		if value == nil {
			if col.SType == STypeOpt {
				continue
			}
			if cols != nil {
				continue
			}
			return nil, pkgErrors.InvalidParameter("object load: missing '" + col.Stored + "'")
		}

		switch {
		case col.Encrypt:
			decoded, err := s.decodeEncrypted(value)
			if err != nil {
				return nil, err
			}
			if attrs != nil && !s.authorized(set, attrs, k, gateObj, abac.ActionRead, true) {
				decoded = maskValues(decoded)
			}
			value = decoded
		case col.Sensitive:
			if attrs == nil || s.authorized(set, attrs, k, gateObj, abac.ActionWrite, true) {
				value = decodeJSONish(value)
			} else {
				value = []interface{}{redactedValue}
			}
		case col.DType != DTypeValue:
			value = decodeJSONish(value)
		}

		delete(foreign, name)
		obj[name] = value
	}

	for name := range foreign {
		if cols != nil && !cols[name] {
			continue
		}
		obj[name] = decodeJSONish(data[name])
	}
	return obj, nil
}

// decodeEncrypted unwraps a framed ciphertext into its JSON value. Unframed
// input is treated as plaintext JSON.
func (s *Store) decodeEncrypted(value interface{}) (interface{}, error) {
	text, ok := value.(string)
	if !ok {
		return value, nil
	}
	if crypto.IsFramed(text) {
		plain, err := s.keyring.DecryptField(text)
		if err != nil {
			return nil, err
		}
		text = plain
	}
	var out interface{}
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return text, nil
	}
	return out, nil
}

// decodeJSONish parses a value that may be a JSON-encoded string, falling
// back to the raw value.
func decodeJSONish(value interface{}) interface{} {
	text, ok := value.(string)
	if !ok {
		return value
	}
	var out interface{}
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return text
	}
	return out
}

// maskValues replaces every leaf of a decoded secret with a placeholder so
// unauthorized readers see shape but not material.
func maskValues(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for name, item := range val {
			out[name] = maskValues(item)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = maskValues(item)
		}
		return out
	default:
		return maskedValue
	}
}

// isSentinelEcho reports whether a value is a previously gated read being
// echoed back, which must not overwrite stored secrets. Every leaf has to be
// the sentinel for the value to count as an echo.
func isSentinelEcho(v interface{}, sentinel string) bool {
	switch val := v.(type) {
	case map[string]interface{}:
		if len(val) == 0 {
			return false
		}
		for _, item := range val {
			if !isSentinelEcho(item, sentinel) {
				return false
			}
		}
		return true
	case []interface{}:
		if len(val) == 0 {
			return false
		}
		for _, item := range val {
			if !isSentinelEcho(item, sentinel) {
				return false
			}
		}
		return true
	case string:
		return val == sentinel
	default:
		return false
	}
}

func isMaskedEcho(v interface{}) bool   { return isSentinelEcho(v, maskedValue) }
func isRedactedEcho(v interface{}) bool { return isSentinelEcho(v, redactedValue) }

var nameCharset = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// validate applies the generic column rules before kind specific checks.
func (s *Store) validate(k *Kind, obj Object) error {
	if name, _ := obj["name"].(string); name != "" && !nameCharset.MatchString(name) {
		return pkgErrors.InvalidParameter("object validate: invalid characters in 'name'")
	}
	for _, col := range k.Cols {
		value, present := obj[col.Name]
		if col.SType == STypeAlter && (!present || value == nil) {
			return pkgErrors.InvalidParameter("object validate: missing '" + col.Name + "'")
		}
		if !present || value == nil {
			continue
		}
		switch col.DType {
		case DTypeMap:
			if _, ok := value.(map[string]interface{}); !ok {
				return pkgErrors.InvalidParameter(fmt.Sprintf("object load: `%s` is not an object", col.Name))
			}
		case DTypeList:
			if _, err := stringAnyList(value); err != nil {
				return pkgErrors.InvalidParameter(fmt.Sprintf("object load: `%s` is not a list", col.Name))
			}
		}
	}
	if !k.Foreign {
		for name := range obj {
			if _, ok := k.Col(name); !ok {
				return pkgErrors.InvalidParameter(fmt.Sprintf(
					"foreign element in object: `%s` not one of: %s",
					name, strings.Join(k.ColNames(), ", ")))
			}
		}
	}
	if k.Validate != nil {
		return k.Validate(s, obj)
	}
	return nil
}

// Create stores a new object. The name must not already exist.
func (s *Store) Create(k *Kind, obj Object, attrs *abac.Attributes) ([]string, error) {
	if _, ok := obj["id"]; ok {
		return nil, pkgErrors.InvalidParameter("id must be left undefined on creation")
	}
	name, _ := obj["name"].(string)
	if name == "" {
		return nil, pkgErrors.InvalidParameter("object validate: missing 'name'")
	}
	if id, _ := s.resolveRef(s.db, k, name); id != 0 {
		return nil, pkgErrors.ObjectExists(k.Table + " named `" + name + "` already exists")
	}
	if k.Name == "apikey" {
		if err := NewApikeyMaterial(obj); err != nil {
			return nil, err
		}
	}
	return s.put(k, obj, attrs)
}

// Update stores changes to an existing object, resolved by id or name.
func (s *Store) Update(k *Kind, obj Object, attrs *abac.Attributes) ([]string, error) {
	if objID(obj) == 0 {
		name, _ := obj["name"].(string)
		id, _ := s.resolveRef(s.db, k, name)
		if id == 0 {
			return nil, pkgErrors.ObjectNotFound(k.Table + " named `" + name + "` not found")
		}
		obj["id"] = id
	}
	return s.put(k, obj, attrs)
}

// put runs the full write pipeline inside one transaction.
func (s *Store) put(k *Kind, obj Object, attrs *abac.Attributes) ([]string, error) {
	var warnings []string
	err := s.db.Transaction(func(tx *gorm.DB) error {
		targetID := objID(obj)
		set, err := s.PoliciesFor(tx, k, targetID)
		if err != nil {
			return err
		}
		if attrs != nil && !s.authorized(set, attrs, k, obj, abac.ActionWrite, false) {
			return pkgErrors.Forbidden("unable to get permission")
		}
		if err := s.validate(k, obj); err != nil {
			return err
		}
		if k.MapRelations != nil {
			w, err := k.MapRelations(s, tx, obj)
			if err != nil {
				return err
			}
			warnings = append(warnings, w...)
		}

		changes := []string{"updated_by=?"}
		args := []interface{}{updatedBy(attrs)}
		data := map[string]interface{}{}
		foreign := map[string]bool{}
		if k.Foreign {
			for name := range obj {
				if name == "id" || name == "name" || name == "updated_at" || name == "updated_by" {
					continue
				}
				foreign[name] = true
			}
		}

		names := k.ColNames()
		sort.Strings(names)
		for _, name := range names {
			col, _ := k.Col(name)
			value, present := obj[name]
			if col.SType == STypeRead || !present || value == nil {
				delete(foreign, name)
				continue
			}

			if col.HasID != "" {
				ref, _ := value.(string)
				_, relID := SplitNameID(ref)
				changes = append(changes, col.HasID+"=?")
				args = append(args, relID)
				obj[col.HasID] = relID
			}

			var stored interface{} = value
			switch {
			case col.Encrypt:
				if isMaskedEcho(value) {
					delete(foreign, name)
					continue
				}
				if attrs != nil && !s.authorized(set, attrs, k, obj, abac.ActionWrite, true) {
					return pkgErrors.Forbidden("unable to get permission")
				}
				plain, err := json.Marshal(value)
				if err != nil {
					return pkgErrors.Internal("cannot encode "+name, err)
				}
				framed, err := s.keyring.EncryptField(string(plain))
				if err != nil {
					return err
				}
				stored = framed
			case col.Sensitive:
				if isRedactedEcho(value) {
					delete(foreign, name)
					continue
				}
				if attrs != nil && !s.authorized(set, attrs, k, obj, abac.ActionWrite, true) {
					return pkgErrors.Forbidden("unable to get permission")
				}
				encoded, err := json.Marshal(value)
				if err != nil {
					return pkgErrors.Internal("cannot encode "+name, err)
				}
				stored = string(encoded)
			case col.DType != DTypeValue:
				encoded, err := json.Marshal(value)
				if err != nil {
					return pkgErrors.Internal("cannot encode "+name, err)
				}
				stored = string(encoded)
			}

			delete(foreign, name)
			if col.Stored == "data" {
				data[name] = stored
			} else {
				changes = append(changes, "`"+col.Stored+"`=?")
				args = append(args, stored)
			}
		}

		for name := range foreign {
			value := obj[name]
			if value == nil {
				continue
			}
			encoded, err := json.Marshal(value)
			if err != nil {
				return pkgErrors.Internal("cannot encode "+name, err)
			}
			data[name] = string(encoded)
		}

		if k.VarData {
			blob, err := json.Marshal(data)
			if err != nil {
				return pkgErrors.Internal("cannot encode data blob", err)
			}
			changes = append(changes, "data=?")
			args = append(args, string(blob))
		}

		sql := "INSERT INTO " + k.Table + " SET " + strings.Join(changes, ",")
		if targetID != 0 {
			sql = "UPDATE " + k.Table + " SET " + strings.Join(changes, ",") + " WHERE id=?"
			args = append(args, targetID)
		}

		res := tx.Exec(sql, args...)
		if res.Error != nil {
			if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
				return pkgErrors.ObjectExists(k.Table + " named `" + fmt.Sprint(obj["name"]) + "` already exists")
			}
			logger.Error("database write failed", zap.String("table", k.Table), zap.Error(res.Error))
			return pkgErrors.InvalidParameter(res.Error.Error())
		}
		if targetID == 0 {
			var newID int64
			if err := tx.Raw("SELECT LAST_INSERT_ID()").Scan(&newID).Error; err != nil {
				return pkgErrors.Internal("cannot read new id", err)
			}
			obj["id"] = newID
		} else if res.RowsAffected == 0 {
			return pkgErrors.NoChanges("no changes were made")
		}

		return s.objectChanged(tx, k, obj)
	})
	if err != nil {
		return warnings, err
	}
	return warnings, nil
}

// updatedBy records the writing identity; internal writes are stamped empty
// like schema seeding.
func updatedBy(attrs *abac.Attributes) string {
	if attrs == nil {
		return ""
	}
	return strconv.FormatInt(attrs.TokenNbr, 10)
}

// Delete removes an object and its scope index rows. Archives are kept.
func (s *Store) Delete(k *Kind, target string, attrs *abac.Attributes) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		id, _ := s.resolveRef(tx, k, target)
		if id == 0 {
			return pkgErrors.ObjectNotFound("target not found")
		}
		set, err := s.PoliciesFor(tx, k, id)
		if err != nil {
			return err
		}
		obj := Object{"id": id}
		if attrs != nil && !s.authorized(set, attrs, k, obj, abac.ActionWrite, false) {
			return pkgErrors.Forbidden("unable to get permission to delete object")
		}
		res := tx.Exec("DELETE FROM "+k.Table+" WHERE id = ?", id)
		if res.Error != nil {
			return pkgErrors.Internal("cannot delete from "+k.Table, res.Error)
		}
		if res.RowsAffected == 0 {
			return pkgErrors.ObjectNotFound("target not found")
		}
		return s.objectDeleted(tx, k, obj)
	})
}

// objectChanged refreshes the scope index rows for a changed object and
// invalidates dependent caches. Kind hooks run after the generic remap.
func (s *Store) objectChanged(tx *gorm.DB, k *Kind, obj Object) error {
	if k.PolicyMap {
		if err := s.remapObject(tx, k, obj); err != nil {
			return err
		}
	}
	if k.Changed != nil {
		return k.Changed(s, tx, obj)
	}
	return nil
}

// objectDeleted drops the scope index rows for a deleted object.
func (s *Store) objectDeleted(tx *gorm.DB, k *Kind, obj Object) error {
	if k.PolicyMap {
		if err := tx.Exec("DELETE FROM PolicyFor WHERE obj = ? AND target_id = ?",
			k.Table, objID(obj)).Error; err != nil {
			return err
		}
		s.cache.Remove(cache.TypePolicyMap, k.Table+"."+strconv.FormatInt(objID(obj), 10))
	}
	if k.Deleted != nil {
		return k.Deleted(s, tx, obj)
	}
	return nil
}

// rowString extracts a string column regardless of driver type.
func rowString(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case []byte:
		return string(val)
	default:
		return ""
	}
}

// rowInt extracts an integer column regardless of driver type.
func rowInt(v interface{}) int64 {
	switch val := v.(type) {
	case int64:
		return val
	case int:
		return int64(val)
	case uint64:
		return int64(val)
	case int32:
		return int64(val)
	case float64:
		return int64(val)
	case []byte:
		n, _ := strconv.ParseInt(string(val), 10, 64)
		return n
	case string:
		n, _ := strconv.ParseInt(val, 10, 64)
		return n
	default:
		return 0
	}
}

// rowUnix converts a timestamp column to unix seconds.
func rowUnix(v interface{}) int64 {
	if t, ok := v.(time.Time); ok {
		return t.Unix()
	}
	return rowInt(v)
}

// stringAnyList accepts []string or []interface{} input lists.
func stringAnyList(v interface{}) ([]interface{}, error) {
	switch list := v.(type) {
	case []interface{}:
		return list, nil
	case []string:
		return toIfaceList(list), nil
	default:
		return nil, fmt.Errorf("not a list")
	}
}
