package store

import (
	"strconv"
	"strings"

	"gorm.io/gorm"
)

// DType is the JSON shape a column is allowed to carry.
type DType int

const (
	DTypeValue DType = iota // scalar
	DTypeMap                // JSON object
	DTypeList               // JSON array
)

// SType is how a column participates in writes.
type SType int

const (
	STypeRead  SType = iota // server managed, rejected on input
	STypeOpt                // optional on input
	STypeAlter              // required on input
)

// ColMap describes one externally visible attribute of a kind and where it
// lives at rest. Stored is either a real column name or "data", meaning the
// attribute folds into the JSON blob column.
type ColMap struct {
	Name      string
	Stored    string
	DType     DType
	SType     SType
	Encrypt   bool
	Sensitive bool
	HasID     string
}

// Kind describes one object type: its table, storage map, and lifecycle
// hooks. Hooks are nil when a kind has no extra behavior.
type Kind struct {
	Name      string
	Table     string
	Archive   bool
	VarData   bool
	PolicyMap bool
	Foreign   bool
	Cols      []ColMap

	// Validate checks obj beyond the generic column rules. It may mutate
	// obj to apply defaults.
	Validate func(s *Store, obj Object) error

	// MapRelations normalizes soft references and derived columns before
	// store. Returned strings are warnings, not failures.
	MapRelations func(s *Store, tx *gorm.DB, obj Object) ([]string, error)

	// Changed and Deleted run after a successful write or delete, inside
	// the same transaction.
	Changed func(s *Store, tx *gorm.DB, obj Object) error
	Deleted func(s *Store, tx *gorm.DB, obj Object) error
}

// Object is the external JSON representation of a stored record.
type Object = map[string]interface{}

// baseCols are present on every kind.
func baseCols() []ColMap {
	return []ColMap{
		{Name: "id", Stored: "id", SType: STypeRead},
		{Name: "name", Stored: "name", SType: STypeAlter},
		{Name: "updated_by", Stored: "updated_by", SType: STypeRead},
		{Name: "updated_at", Stored: "updated_at", SType: STypeRead},
	}
}

// Col returns the column map for an attribute name.
func (k *Kind) Col(name string) (ColMap, bool) {
	for _, c := range k.Cols {
		if c.Name == name {
			return c, true
		}
	}
	return ColMap{}, false
}

// ColNames lists the attribute names in declaration order.
func (k *Kind) ColNames() []string {
	names := make([]string, 0, len(k.Cols))
	for _, c := range k.Cols {
		names = append(names, c.Name)
	}
	return names
}

// SplitNameID parses a soft reference of the form name, name.id, or a bare
// id. The id portion wins when present.
func SplitNameID(target string) (string, int64) {
	if target == "" {
		return "", 0
	}
	if target[0] >= '0' && target[0] <= '9' {
		id, _ := strconv.ParseInt(strings.SplitN(target, ".", 2)[0], 10, 64)
		return "", id
	}
	parts := strings.SplitN(target, ".", 2)
	if len(parts) == 2 && parts[1] != "" && parts[1][0] >= '0' && parts[1][0] <= '9' {
		id, _ := strconv.ParseInt(parts[1], 10, 64)
		return parts[0], id
	}
	return parts[0], 0
}

// BaseName strips the .id or .notfound suffix from a soft reference.
func BaseName(target string) string {
	return strings.SplitN(target, ".", 2)[0]
}
