package v1

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/samplecove/samplecove/pkg/auth"
	"github.com/samplecove/samplecove/pkg/capabilities"
	"github.com/samplecove/samplecove/pkg/users"
)

// AuthRoutes defines the routes for authentication and credential flows.
type AuthRoutes struct {
	users  *users.Manager
	tokens *auth.TokenService
}

// userResponse is the serialized user profile shared by several routes.
type userResponse struct {
	Login          string `json:"login"`
	Email          string `json:"email"`
	AdditionalInfo string `json:"additional_info,omitempty"`
	FeedQuality    string `json:"feed_quality"`
	Disabled       bool   `json:"disabled"`
	Pending        bool   `json:"pending"`
	RequestedOn    string `json:"requested_on,omitempty"`
	RegisteredOn   string `json:"registered_on,omitempty"`
	LoggedOn       string `json:"logged_on,omitempty"`
}

type loginRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

type loginResponse struct {
	Login        string                    `json:"login"`
	Token        string                    `json:"token"`
	Capabilities []capabilities.Capability `json:"capabilities"`
	Groups       []string                  `json:"groups"`
}

// authSuccess serializes a freshly authenticated identity together with
// its session token.
func authSuccess(id *auth.Identity, token string) loginResponse {
	groupNames := make([]string, 0, len(id.Groups))
	for _, g := range id.Groups {
		groupNames = append(groupNames, g.Name)
	}
	return loginResponse{
		Login:        id.User.Login,
		Token:        token,
		Capabilities: id.Capabilities(),
		Groups:       groupNames,
	}
}

type registerRequest struct {
	Login          string `json:"login"`
	Email          string `json:"email"`
	AdditionalInfo string `json:"additional_info"`
	Captcha        string `json:"captcha"`
}

type recoverRequest struct {
	Login   string `json:"login"`
	Email   string `json:"email"`
	Captcha string `json:"captcha"`
}

type setPasswordRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

// AuthRouter creates the authentication router. Every route here is
// reachable without a bearer token except refresh and validate, which the
// caller mounts behind the auth middleware.
func AuthRouter(userManager *users.Manager, tokens *auth.TokenService) (public, protected http.Handler) {
	routes := AuthRoutes{users: userManager, tokens: tokens}

	pub := chi.NewRouter()
	pub.Post("/login", routes.login)
	pub.Post("/register", routes.register)
	pub.Post("/recover_password", routes.recoverPassword)
	pub.Post("/change_password", routes.changePassword)

	prot := chi.NewRouter()
	prot.Post("/refresh", routes.refresh)
	prot.Get("/validate", routes.validate)

	return pub, prot
}

func (s *AuthRoutes) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}

	user, token, err := s.users.Login(r.Context(), req.Login, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}
	id, err := s.users.Identity(r.Context(), user)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, authSuccess(id, token))
}

func (s *AuthRoutes) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}

	user, err := s.users.Register(r.Context(), users.RegisterRequest{
		Login:          req.Login,
		Email:          req.Email,
		AdditionalInfo: req.AdditionalInfo,
		CaptchaToken:   req.Captcha,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"login": user.Login})
}

func (s *AuthRoutes) recoverPassword(w http.ResponseWriter, r *http.Request) {
	var req recoverRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}

	if err := s.users.RequestRecovery(r.Context(), req.Login, req.Email, req.Captcha); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"login": req.Login})
}

func (s *AuthRoutes) changePassword(w http.ResponseWriter, r *http.Request) {
	var req setPasswordRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}

	user, err := s.users.SetPassword(r.Context(), req.Token, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"login": user.Login})
}

// refresh issues a fresh session token for the authenticated identity.
func (s *AuthRoutes) refresh(w http.ResponseWriter, r *http.Request) {
	id := identity(r)
	token, err := s.tokens.MintSession(id.User)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, authSuccess(id, token))
}

// validate answers the authenticated identity with its capability set, for
// clients probing whether their token still works.
func (s *AuthRoutes) validate(w http.ResponseWriter, r *http.Request) {
	id := identity(r)
	writeJSON(w, http.StatusOK, map[string]any{
		"login":        id.User.Login,
		"capabilities": id.Capabilities(),
	})
}
