package v1

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/samplecove/samplecove/pkg/capabilities"
	"github.com/samplecove/samplecove/pkg/groups"
	"github.com/samplecove/samplecove/pkg/model"
)

// GroupsRoutes defines the routes for group management.
type GroupsRoutes struct {
	groups *groups.Manager
}

// GroupsRouter creates the group management router.
func GroupsRouter(groupManager *groups.Manager) http.Handler {
	routes := GroupsRoutes{groups: groupManager}

	r := chi.NewRouter()
	r.Get("/", routes.listGroups)
	r.Post("/", routes.createGroup)
	r.Get("/{name}", routes.getGroup)
	r.Put("/{name}", routes.setCapabilities)
	r.Post("/{name}/members/{login}", routes.addMember)
	r.Delete("/{name}/members/{login}", routes.removeMember)

	return r
}

type groupResponse struct {
	Name         string                    `json:"name"`
	Capabilities []capabilities.Capability `json:"capabilities"`
	Private      bool                      `json:"private"`
	Members      []string                  `json:"members,omitempty"`
}

func groupToResponse(g *model.Group, members []string) groupResponse {
	caps := g.Capabilities
	if caps == nil {
		caps = []capabilities.Capability{}
	}
	return groupResponse{
		Name:         g.Name,
		Capabilities: caps,
		Private:      g.Private,
		Members:      members,
	}
}

func (s *GroupsRoutes) listGroups(w http.ResponseWriter, r *http.Request) {
	groupList, err := s.groups.List(r.Context(), identity(r))
	if err != nil {
		writeError(w, err)
		return
	}
	resp := make([]groupResponse, 0, len(groupList))
	for _, g := range groupList {
		resp = append(resp, groupToResponse(g, nil))
	}
	writeJSON(w, http.StatusOK, map[string]any{"groups": resp})
}

type createGroupRequest struct {
	Name         string                    `json:"name"`
	Capabilities []capabilities.Capability `json:"capabilities"`
}

func (s *GroupsRoutes) createGroup(w http.ResponseWriter, r *http.Request) {
	var req createGroupRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}

	group, err := s.groups.Create(r.Context(), identity(r), req.Name, req.Capabilities)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, groupToResponse(group, nil))
}

func (s *GroupsRoutes) getGroup(w http.ResponseWriter, r *http.Request) {
	group, members, err := s.groups.Get(r.Context(), identity(r), chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, groupToResponse(group, members))
}

type setCapabilitiesRequest struct {
	Capabilities []capabilities.Capability `json:"capabilities"`
}

func (s *GroupsRoutes) setCapabilities(w http.ResponseWriter, r *http.Request) {
	var req setCapabilitiesRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}

	name := chi.URLParam(r, "name")
	if err := s.groups.SetCapabilities(r.Context(), identity(r), name, req.Capabilities); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"name": name})
}

func (s *GroupsRoutes) addMember(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	login := chi.URLParam(r, "login")
	if err := s.groups.AddMember(r.Context(), identity(r), name, login); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"name": name, "login": login})
}

func (s *GroupsRoutes) removeMember(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	login := chi.URLParam(r, "login")
	if err := s.groups.RemoveMember(r.Context(), identity(r), name, login); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"name": name, "login": login})
}
