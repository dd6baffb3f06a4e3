package store

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/expr-lang/expr/vm"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"reflex-engine/internal/abac"
	"reflex-engine/internal/cache"
	"reflex-engine/internal/pkg/logger"
	pkgErrors "reflex-engine/pkg/errors"
)

// scopeRecord is one policyscope row with its compiled match expression.
type scopeRecord struct {
	ID       int64
	PolicyID int64
	Matches  string
	Objects  []string
	Actions  string
	Type     string
	prog     *vm.Program
}

// scopesByType loads policyscopes of one type, compiled, from cache when
// possible.
func (s *Store) scopesByType(tx *gorm.DB, stype string) ([]*scopeRecord, error) {
	if v, ok := s.cache.Get(cache.TypePolicyScope, stype); ok {
		return v.([]*scopeRecord), nil
	}
	scopes, err := s.scopesDirect(tx, "SELECT id, policy_id, matches, objects, actions, type FROM Policyscope WHERE type = ?", stype)
	if err != nil {
		return nil, err
	}
	s.cache.Set(cache.TypePolicyScope, stype, scopes)
	return scopes, nil
}

func (s *Store) scopesDirect(tx *gorm.DB, sql string, args ...interface{}) ([]*scopeRecord, error) {
	type row struct {
		ID       int64
		PolicyID int64  `gorm:"column:policy_id"`
		Matches  string
		Objects  string
		Actions  string
		Type     string
	}
	var rows []row
	if err := tx.Raw(sql, args...).Scan(&rows).Error; err != nil {
		return nil, pkgErrors.Internal("cannot load policyscopes", err)
	}
	scopes := make([]*scopeRecord, 0, len(rows))
	for _, r := range rows {
		prog, err := abac.Compile(r.Matches)
		if err != nil {
			logger.Warn("skipping uncompilable policyscope",
				zap.Int64("scope", r.ID), zap.Error(err))
			continue
		}
		var objects []string
		if r.Objects != "" {
			if err := json.Unmarshal([]byte(r.Objects), &objects); err != nil {
				logger.Warn("bad objects list on policyscope", zap.Int64("scope", r.ID))
			}
		}
		scopes = append(scopes, &scopeRecord{
			ID:       r.ID,
			PolicyID: r.PolicyID,
			Matches:  r.Matches,
			Objects:  objects,
			Actions:  r.Actions,
			Type:     r.Type,
			prog:     prog,
		})
	}
	return scopes, nil
}

// appliesTo checks the optional objects filter on a scope.
func (sc *scopeRecord) appliesTo(table string) bool {
	if len(sc.Objects) == 0 || sc.Objects[0] == "*" {
		return true
	}
	for _, o := range sc.Objects {
		if o == table {
			return true
		}
	}
	return false
}

// mapScopeFor evaluates one scope against one object and writes the matching
// index rows. Evaluation problems are logged, never fatal.
func (s *Store) mapScopeFor(tx *gorm.DB, sc *scopeRecord, table string,
	obj Object, targetID int64, groups map[string][]string) {
	if !sc.appliesTo(table) {
		return
	}
	matched := false
	if targetID == 0 {
		// global matches depend only on the scope and the kind
		key := strconv.FormatInt(sc.ID, 10) + ":" + table
		if v, ok := s.cache.Get(cache.TypePolicyMatch, key); ok {
			matched = v.(bool)
		} else {
			matched = abac.MatchesScope(sc.prog, table, obj, groups)
			s.cache.Set(cache.TypePolicyMatch, key, matched)
		}
	} else {
		matched = abac.MatchesScope(sc.prog, table, obj, groups)
	}
	if !matched {
		return
	}
	for _, action := range strings.Split(sc.Actions, ",") {
		action = strings.TrimSpace(action)
		if action == "" {
			continue
		}
		err := tx.Exec(`REPLACE INTO PolicyFor
		                   SET obj = ?, policy_id = ?, target_id = ?,
		                       pscope_id = ?, action = ?`,
			table, sc.PolicyID, targetID, sc.ID, action).Error
		if err != nil {
			logger.Error("cannot write scope index row",
				zap.Int64("scope", sc.ID),
				zap.Int64("policy", sc.PolicyID),
				zap.String("table", table),
				zap.Error(err))
		}
	}
}

// remapObject rebuilds the targeted index rows for a single changed object.
func (s *Store) remapObject(tx *gorm.DB, k *Kind, obj Object) error {
	targetID := objID(obj)
	if err := tx.Exec("DELETE FROM PolicyFor WHERE obj = ? AND target_id = ?",
		k.Table, targetID).Error; err != nil {
		return pkgErrors.Internal("cannot clear scope index", err)
	}
	scopes, err := s.scopesByType(tx, "targeted")
	if err != nil {
		return err
	}
	groups := s.Groups()
	for _, sc := range scopes {
		s.mapScopeFor(tx, sc, k.Table, obj, targetID, groups)
	}
	s.cache.Remove(cache.TypePolicyMap, k.Table+"."+strconv.FormatInt(targetID, 10))
	return nil
}

// MapScope rebuilds the index rows produced by one policyscope, global or
// targeted, across every policy mapped kind.
func (s *Store) MapScope(tx *gorm.DB, scopeID int64) error {
	scopes, err := s.scopesDirect(tx, "SELECT id, policy_id, matches, objects, actions, type FROM Policyscope WHERE id = ?", scopeID)
	if err != nil {
		return err
	}
	if len(scopes) == 0 {
		return pkgErrors.ObjectNotFound("policyscope not found")
	}
	sc := scopes[0]

	if err := tx.Exec("DELETE FROM PolicyFor WHERE pscope_id = ?", sc.ID).Error; err != nil {
		return pkgErrors.Internal("cannot clear scope index", err)
	}
	groups := s.Groups()

	if sc.Type == "global" {
		for _, k := range Kinds() {
			if !k.PolicyMap {
				continue
			}
			s.mapScopeFor(tx, sc, k.Table, Object{"name": "n/a"}, 0, groups)
		}
	} else {
		for _, k := range Kinds() {
			if !k.PolicyMap {
				continue
			}
			type row struct {
				ID   int64
				Name string
			}
			var rows []row
			if err := tx.Raw("SELECT id, name FROM " + k.Table).Scan(&rows).Error; err != nil {
				return pkgErrors.Internal("cannot list "+k.Table, err)
			}
			for _, r := range rows {
				s.mapScopeFor(tx, sc, k.Table,
					Object{"id": r.ID, "name": r.Name}, r.ID, groups)
			}
		}
	}

	s.cache.ClearType(cache.TypePolicyMap)
	return nil
}

// RemapAll rebuilds the whole scope index. Run periodically so the index
// converges after manual database edits or missed invalidations.
func (s *Store) RemapAll() error {
	var ids []int64
	if err := s.db.Raw("SELECT id FROM Policyscope").Scan(&ids).Error; err != nil {
		return pkgErrors.Internal("cannot list policyscopes", err)
	}
	for _, id := range ids {
		if err := s.MapScope(s.db, id); err != nil {
			logger.Error("scope remap failed", zap.Int64("scope", id), zap.Error(err))
		}
	}
	s.cache.ClearType(cache.TypePolicyMap)
	return nil
}
