package v1

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/samplecove/samplecove/pkg/model"
	"github.com/samplecove/samplecove/pkg/objects"
)

// AttributesRoutes defines the routes for attribute key administration.
type AttributesRoutes struct {
	objects *objects.Manager
}

// AttributesRouter creates the attribute definition router.
func AttributesRouter(objectManager *objects.Manager) http.Handler {
	routes := AttributesRoutes{objects: objectManager}

	r := chi.NewRouter()
	r.Post("/", routes.defineAttribute)
	r.Get("/{key}", routes.getDefinition)
	r.Put("/{key}/permissions", routes.setPermission)

	return r
}

type attributeDefinitionRequest struct {
	Key         string `json:"key"`
	Label       string `json:"label"`
	Description string `json:"description"`
	URLTemplate string `json:"url_template"`
	Hidden      bool   `json:"hidden"`
}

type attributeDefinitionResponse struct {
	Key         string `json:"key"`
	Label       string `json:"label"`
	Description string `json:"description"`
	URLTemplate string `json:"url_template"`
	Hidden      bool   `json:"hidden"`
}

func (s *AttributesRoutes) defineAttribute(w http.ResponseWriter, r *http.Request) {
	var req attributeDefinitionRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}

	def := &model.AttributeDefinition{
		Key:         req.Key,
		Label:       req.Label,
		Description: req.Description,
		URLTemplate: req.URLTemplate,
		Hidden:      req.Hidden,
	}
	if err := s.objects.DefineAttribute(r.Context(), identity(r), def); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, attributeDefinitionResponse(req))
}

func (s *AttributesRoutes) getDefinition(w http.ResponseWriter, r *http.Request) {
	def, err := s.objects.AttributeDefinition(r.Context(), identity(r), chi.URLParam(r, "key"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, attributeDefinitionResponse{
		Key:         def.Key,
		Label:       def.Label,
		Description: def.Description,
		URLTemplate: def.URLTemplate,
		Hidden:      def.Hidden,
	})
}

type attributePermissionRequest struct {
	Group   string `json:"group"`
	CanRead bool   `json:"can_read"`
	CanSet  bool   `json:"can_set"`
}

func (s *AttributesRoutes) setPermission(w http.ResponseWriter, r *http.Request) {
	var req attributePermissionRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}

	key := chi.URLParam(r, "key")
	err := s.objects.SetAttributePermission(r.Context(), identity(r), key, req.Group, req.CanRead, req.CanSet)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"key": key, "group": req.Group})
}
