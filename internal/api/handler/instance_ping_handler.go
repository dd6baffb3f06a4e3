package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"reflex-engine/internal/store"
	pkgErrors "reflex-engine/pkg/errors"
	"reflex-engine/pkg/responses"
	"reflex-engine/pkg/utils"
)

// InstancePingHandler lets running instances register themselves with a
// partial body. Missing instances are created from the skeleton.
type InstancePingHandler struct {
	store *store.Store
}

func NewInstancePingHandler(st *store.Store) *InstancePingHandler {
	return &InstancePingHandler{store: st}
}

// Ping handles PUT /instance-ping/{name}: merge the body over the current
// instance (or the skeleton) and stamp the caller's address.
func (h *InstancePingHandler) Ping(c *gin.Context) {
	attrs, ok := requireToken(c)
	if !ok {
		return
	}
	name := c.Param("target")
	if name == "" {
		responses.Error(c, pkgErrors.ObjectNotFound("no target given"))
		return
	}

	var body store.Object
	if err := c.ShouldBindJSON(&body); err != nil {
		responses.Error(c, pkgErrors.InvalidParameter("unable to load JSON content"))
		return
	}

	instanceKind, _ := store.KindByName("instance")
	base := store.InstanceSkeleton()
	created := true
	if current, err := h.store.Get(instanceKind, name, attrs, 0); err == nil {
		base = current
		created = false
	} else if !pkgErrors.IsKind(err, pkgErrors.KindNotFound) {
		responses.Error(c, err)
		return
	}

	merged, err := utils.MergeObjects(base, body)
	if err != nil {
		responses.Error(c, err)
		return
	}
	merged["name"] = name
	if addr, ok := merged["address"].(map[string]interface{}); ok {
		addr["ping-from-ip"] = attrs.IP
	} else {
		merged["address"] = map[string]interface{}{"ping-from-ip": attrs.IP}
	}
	if svc, ok := merged["service"].(string); ok {
		merged["service"] = strings.TrimSuffix(svc, ".notfound")
	}

	var warnings []string
	if created {
		delete(merged, "id")
		delete(merged, "updated_at")
		delete(merged, "updated_by")
		warnings, err = h.store.Create(instanceKind, merged, attrs)
	} else {
		delete(merged, "updated_at")
		delete(merged, "updated_by")
		warnings, err = h.store.Update(instanceKind, merged, attrs)
	}
	if err != nil {
		responses.Error(c, err)
		return
	}

	status := http.StatusOK
	word := "updated"
	if created {
		status = http.StatusCreated
		word = "created"
	}
	if len(warnings) > 0 {
		responses.StatusWarning(c, status, word, strings.Join(warnings, "; "))
		return
	}
	responses.Status(c, status, word)
}
