package v1

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/samplecove/samplecove/pkg/model"
	"github.com/samplecove/samplecove/pkg/objects"
	"github.com/samplecove/samplecove/pkg/search"
)

// SearchRoutes defines the query endpoint.
type SearchRoutes struct {
	objects *objects.Manager
}

// SearchRouter creates the search router.
func SearchRouter(objectManager *objects.Manager) http.Handler {
	routes := SearchRoutes{objects: objectManager}

	r := chi.NewRouter()
	r.Post("/", routes.search)

	return r
}

type searchRequest struct {
	Query string `json:"query"`
	Type  string `json:"type"`
	Limit int    `json:"limit"`
}

func (s *SearchRoutes) search(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}

	pred, err := search.Compile(req.Query)
	if err != nil {
		writeError(w, err)
		return
	}

	limit := req.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	objs, err := s.objects.List(r.Context(), identity(r), model.ObjectType(req.Type), pred, limit)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := make([]objectResponse, 0, len(objs))
	for _, o := range objs {
		resp = append(resp, objectToResponse(o))
	}
	writeJSON(w, http.StatusOK, map[string]any{"objects": resp})
}
