package v1

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/samplecove/samplecove/pkg/model"
	"github.com/samplecove/samplecove/pkg/users"
)

// UsersRoutes defines the routes for account administration.
type UsersRoutes struct {
	users *users.Manager
}

// UsersRouter creates the user administration router.
func UsersRouter(userManager *users.Manager) http.Handler {
	routes := UsersRoutes{users: userManager}

	r := chi.NewRouter()
	r.Get("/", routes.listUsers)
	r.Post("/", routes.createUser)
	r.Get("/{login}", routes.getUser)
	r.Put("/{login}", routes.editUser)
	r.Post("/{login}/approve", routes.approveUser)
	r.Post("/{login}/reject", routes.rejectUser)
	r.Get("/{login}/change_password", routes.setPasswordToken)
	r.Get("/{login}/api_key", routes.listAPIKeys)
	r.Post("/{login}/api_key", routes.issueAPIKey)
	r.Delete("/{login}/api_key/{keyID}", routes.revokeAPIKey)

	return r
}

func userToResponse(u *model.User) userResponse {
	fmtTime := func(t time.Time) string {
		if t.IsZero() {
			return ""
		}
		return t.UTC().Format(time.RFC3339)
	}
	return userResponse{
		Login:          u.Login,
		Email:          u.Email,
		AdditionalInfo: u.AdditionalInfo,
		FeedQuality:    u.FeedQuality,
		Disabled:       u.Disabled,
		Pending:        u.Pending,
		RequestedOn:    fmtTime(u.RequestedOn),
		RegisteredOn:   fmtTime(u.RegisteredOn),
		LoggedOn:       fmtTime(u.LoggedOn),
	}
}

func (s *UsersRoutes) listUsers(w http.ResponseWriter, r *http.Request) {
	var pending *bool
	switch r.URL.Query().Get("pending") {
	case "true":
		v := true
		pending = &v
	case "false":
		v := false
		pending = &v
	}

	userList, err := s.users.List(r.Context(), identity(r), pending)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := make([]userResponse, 0, len(userList))
	for _, u := range userList {
		resp = append(resp, userToResponse(u))
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": resp})
}

type createUserRequest struct {
	Login          string `json:"login"`
	Email          string `json:"email"`
	AdditionalInfo string `json:"additional_info"`
}

func (s *UsersRoutes) createUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}

	user, token, err := s.users.Create(r.Context(), identity(r), req.Login, req.Email, req.AdditionalInfo)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{
		"login":              user.Login,
		"set_password_token": token,
	})
}

func (s *UsersRoutes) getUser(w http.ResponseWriter, r *http.Request) {
	user, err := s.users.Get(r.Context(), identity(r), chi.URLParam(r, "login"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, userToResponse(user))
}

type editUserRequest struct {
	Email          *string `json:"email"`
	AdditionalInfo *string `json:"additional_info"`
	FeedQuality    *string `json:"feed_quality"`
	Disabled       *bool   `json:"disabled"`
}

func (s *UsersRoutes) editUser(w http.ResponseWriter, r *http.Request) {
	var req editUserRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}

	user, err := s.users.Edit(r.Context(), identity(r), chi.URLParam(r, "login"), users.EditRequest{
		Email:          req.Email,
		AdditionalInfo: req.AdditionalInfo,
		FeedQuality:    req.FeedQuality,
		Disabled:       req.Disabled,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, userToResponse(user))
}

func (s *UsersRoutes) approveUser(w http.ResponseWriter, r *http.Request) {
	user, err := s.users.Approve(r.Context(), identity(r), chi.URLParam(r, "login"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, userToResponse(user))
}

func (s *UsersRoutes) rejectUser(w http.ResponseWriter, r *http.Request) {
	login := chi.URLParam(r, "login")
	if err := s.users.Reject(r.Context(), identity(r), login); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"login": login})
}

func (s *UsersRoutes) setPasswordToken(w http.ResponseWriter, r *http.Request) {
	login := chi.URLParam(r, "login")
	token, err := s.users.SetPasswordToken(r.Context(), identity(r), login)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"login": login, "token": token})
}

type apiKeyResponse struct {
	ID       string `json:"id"`
	IssuedOn string `json:"issued_on"`
	Token    string `json:"token,omitempty"`
}

func (s *UsersRoutes) listAPIKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := s.users.ListAPIKeys(r.Context(), identity(r), chi.URLParam(r, "login"))
	if err != nil {
		writeError(w, err)
		return
	}
	resp := make([]apiKeyResponse, 0, len(keys))
	for _, k := range keys {
		resp = append(resp, apiKeyResponse{ID: k.ID, IssuedOn: k.IssuedOn.UTC().Format(time.RFC3339)})
	}
	writeJSON(w, http.StatusOK, map[string]any{"api_keys": resp})
}

func (s *UsersRoutes) issueAPIKey(w http.ResponseWriter, r *http.Request) {
	key, token, err := s.users.IssueAPIKey(r.Context(), identity(r), chi.URLParam(r, "login"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, apiKeyResponse{
		ID:       key.ID,
		IssuedOn: key.IssuedOn.UTC().Format(time.RFC3339),
		Token:    token,
	})
}

func (s *UsersRoutes) revokeAPIKey(w http.ResponseWriter, r *http.Request) {
	keyID := chi.URLParam(r, "keyID")
	if err := s.users.RevokeAPIKey(r.Context(), identity(r), keyID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": keyID})
}
