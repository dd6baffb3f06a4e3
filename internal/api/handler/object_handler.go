package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"reflex-engine/internal/abac"
	"reflex-engine/internal/store"
	pkgErrors "reflex-engine/pkg/errors"
	"reflex-engine/pkg/responses"
	"reflex-engine/pkg/utils"
)

// ContextAttrs is the gin context key holding the gathered attributes.
const ContextAttrs = "attrs"

// ObjectHandler serves the generic CRUD surface shared by every kind.
type ObjectHandler struct {
	store *store.Store
}

func NewObjectHandler(st *store.Store) *ObjectHandler {
	return &ObjectHandler{store: st}
}

// Attrs pulls the request attributes, or nil when none were gathered.
func Attrs(c *gin.Context) *abac.Attributes {
	if v, ok := c.Get(ContextAttrs); ok {
		if attrs, ok := v.(*abac.Attributes); ok {
			return attrs
		}
	}
	return nil
}

// requireToken rejects requests that did not establish a session identity.
func requireToken(c *gin.Context) (*abac.Attributes, bool) {
	attrs := Attrs(c)
	if attrs == nil || attrs.TokenNbr == 0 {
		responses.Error(c, pkgErrors.Unauthorized("no session identity"))
		return nil, false
	}
	return attrs, true
}

// parseArchive parses the archive query parameter: a unix time, optionally a
// from~to range.
func parseArchive(raw string) (int64, int64, error) {
	if raw == "" {
		return 0, 0, nil
	}
	parts := strings.SplitN(raw, "~", 2)
	from, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, 0, pkgErrors.InvalidParameter("archive is not a unix time")
	}
	to := from
	if len(parts) == 2 {
		to, err = strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return 0, 0, pkgErrors.InvalidParameter("archive is not a unix time range")
		}
	}
	return from, to, nil
}

// List handles GET on a kind's collection, with optional match, cols, and
// archive range parameters.
func (h *ObjectHandler) List(k *store.Kind) gin.HandlerFunc {
	return func(c *gin.Context) {
		attrs, ok := requireToken(c)
		if !ok {
			return
		}
		match := ""
		if glob := c.Query("match"); glob != "" {
			match = utils.GlobToLike(glob)
		}
		from, to, err := parseArchive(c.Query("archive"))
		if err != nil {
			responses.Error(c, err)
			return
		}

		var data []store.Object
		if raw := c.Query("cols"); raw != "" {
			cols := strings.Split(raw, ",")
			data, err = h.store.ListCols(k, attrs, cols, 0, match, from, to)
		} else {
			data, err = h.store.List(k, attrs, 0, match, from, to)
		}
		if err != nil {
			responses.Error(c, err)
			return
		}
		responses.OK(c, data)
	}
}

// Get handles GET on a single object, by id, name, or name.id.
func (h *ObjectHandler) Get(k *store.Kind) gin.HandlerFunc {
	return func(c *gin.Context) {
		attrs, ok := requireToken(c)
		if !ok {
			return
		}
		archiveAt, _, err := parseArchive(c.Query("archive"))
		if err != nil {
			responses.Error(c, err)
			return
		}
		obj, err := h.store.Get(k, c.Param("target"), attrs, archiveAt)
		if err != nil {
			responses.Error(c, err)
			return
		}
		responses.OK(c, obj)
	}
}

// Create handles POST on a kind's collection.
func (h *ObjectHandler) Create(k *store.Kind) gin.HandlerFunc {
	return func(c *gin.Context) {
		attrs, ok := requireToken(c)
		if !ok {
			return
		}
		var body store.Object
		if err := c.ShouldBindJSON(&body); err != nil {
			responses.Error(c, pkgErrors.InvalidParameter("unable to load JSON content"))
			return
		}
		warnings, err := h.store.Create(k, body, attrs)
		if err != nil {
			responses.Error(c, err)
			return
		}
		if len(warnings) > 0 {
			responses.StatusWarning(c, http.StatusCreated, "created", strings.Join(warnings, "; "))
			return
		}
		responses.Status(c, http.StatusCreated, "created")
	}
}

// Update handles PUT on a single object. With merge=true the body is deep
// merged over the stored object instead of replacing it.
func (h *ObjectHandler) Update(k *store.Kind) gin.HandlerFunc {
	return func(c *gin.Context) {
		attrs, ok := requireToken(c)
		if !ok {
			return
		}
		var body store.Object
		if err := c.ShouldBindJSON(&body); err != nil {
			responses.Error(c, pkgErrors.InvalidParameter("unable to load JSON content"))
			return
		}

		target := c.Param("target")
		if target == "" {
			responses.Error(c, pkgErrors.ObjectNotFound("no target given"))
			return
		}
		if target[0] >= '0' && target[0] <= '9' {
			id, _ := strconv.ParseInt(target, 10, 64)
			body["id"] = id
		} else {
			body["name"] = target
		}

		if strings.EqualFold(c.Query("merge"), "true") {
			current, err := h.store.Get(k, target, attrs, 0)
			if err != nil {
				responses.Error(c, err)
				return
			}
			merged, err := utils.MergeObjects(current, body)
			if err != nil {
				responses.Error(c, err)
				return
			}
			body = merged
		}

		warnings, err := h.store.Update(k, body, attrs)
		if err != nil {
			responses.Error(c, err)
			return
		}
		if len(warnings) > 0 {
			responses.StatusWarning(c, http.StatusOK, "updated", strings.Join(warnings, "; "))
			return
		}
		responses.Status(c, http.StatusOK, "updated")
	}
}

// Delete handles DELETE on a single object.
func (h *ObjectHandler) Delete(k *store.Kind) gin.HandlerFunc {
	return func(c *gin.Context) {
		attrs, ok := requireToken(c)
		if !ok {
			return
		}
		target := c.Param("target")
		if target == "" {
			responses.Error(c, pkgErrors.ObjectNotFound("no target given"))
			return
		}
		if err := h.store.Delete(k, target, attrs); err != nil {
			responses.Error(c, err)
			return
		}
		responses.Status(c, http.StatusOK, "deleted")
	}
}
