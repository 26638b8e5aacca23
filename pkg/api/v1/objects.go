package v1

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/samplecove/samplecove/pkg/errors"
	"github.com/samplecove/samplecove/pkg/model"
	"github.com/samplecove/samplecove/pkg/objects"
	"github.com/samplecove/samplecove/pkg/storage"
)

const (
	maxUploadSize    = 128 << 20
	defaultListLimit = 50
)

// ObjectsRoutes defines the routes of one object kind; kind "" serves the
// kind-agnostic /object tree, which cannot upload.
type ObjectsRoutes struct {
	objects *objects.Manager
	kind    model.ObjectType
}

// ObjectsRouter creates a router for one object kind.
func ObjectsRouter(objectManager *objects.Manager, kind model.ObjectType) http.Handler {
	routes := ObjectsRoutes{objects: objectManager, kind: kind}

	r := chi.NewRouter()
	r.Get("/", routes.list)
	if kind != "" {
		r.Post("/", routes.upload)
	}
	r.Get("/{dhash}", routes.get)
	if kind == model.TypeFile {
		r.Get("/{dhash}/download", routes.download)
	}
	r.Get("/{dhash}/comments", routes.listComments)
	r.Post("/{dhash}/comments", routes.addComment)
	r.Delete("/{dhash}/comments/{commentID}", routes.deleteComment)
	r.Post("/{dhash}/tags", routes.addTag)
	r.Delete("/{dhash}/tags/{tag}", routes.removeTag)
	r.Post("/{dhash}/relations", routes.addRelation)
	r.Get("/{dhash}/shares", routes.listShares)
	r.Post("/{dhash}/shares", routes.share)
	r.Get("/{dhash}/attributes", routes.listAttributes)
	r.Post("/{dhash}/attributes", routes.addAttribute)
	r.Delete("/{dhash}/attributes/{key}", routes.removeAttribute)

	return r
}

// objectResponse is the serialized object common to every kind.
type objectResponse struct {
	DHash      string   `json:"dhash"`
	Type       string   `json:"type"`
	UploadTime string   `json:"upload_time,omitempty"`
	Tags       []string `json:"tags,omitempty"`

	FileName string `json:"file_name,omitempty"`
	FileSize int64  `json:"file_size,omitempty"`
	SHA256   string `json:"sha256,omitempty"`

	ConfigFamily string `json:"family,omitempty"`
	ConfigType   string `json:"config_type,omitempty"`
	Config       string `json:"cfg,omitempty"`

	BlobName string `json:"blob_name,omitempty"`
	BlobType string `json:"blob_type,omitempty"`
	Content  string `json:"content,omitempty"`

	Parents  []objectResponse `json:"parents,omitempty"`
	Children []objectResponse `json:"children,omitempty"`
}

func objectToResponse(o *model.Object) objectResponse {
	resp := objectResponse{
		DHash:        o.DHash,
		Type:         string(o.Type),
		FileName:     o.FileName,
		FileSize:     o.FileSize,
		SHA256:       o.SHA256,
		ConfigFamily: o.ConfigFamily,
		ConfigType:   o.ConfigType,
		Config:       o.Config,
		BlobName:     o.BlobName,
		BlobType:     o.BlobType,
		Content:      o.Content,
	}
	if !o.UploadTime.IsZero() {
		resp.UploadTime = o.UploadTime.UTC().Format(time.RFC3339)
	}
	return resp
}

func viewToResponse(v *model.ObjectView) objectResponse {
	resp := objectToResponse(&v.Object)
	resp.Tags = v.Tags
	for i := range v.Parents {
		resp.Parents = append(resp.Parents, objectToResponse(&v.Parents[i]))
	}
	for i := range v.Children {
		resp.Children = append(resp.Children, objectToResponse(&v.Children[i]))
	}
	return resp
}

func (s *ObjectsRoutes) list(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			writeError(w, errors.NewSchemaInvalidError("invalid limit", nil))
			return
		}
		limit = parsed
	}

	objs, err := s.objects.List(r.Context(), identity(r), s.kind, storage.True(), limit)
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

type uploadRequest struct {
	Parent    string `json:"parent"`
	ShareWith string `json:"share_with"`

	Family     string `json:"family"`
	ConfigType string `json:"config_type"`
	Config     string `json:"cfg"`

	BlobName string `json:"blob_name"`
	BlobType string `json:"blob_type"`
	Content  string `json:"content"`
}

// upload ingests a new object. Files arrive as multipart/form-data with the
// payload in the "file" field; configs and blobs as JSON.
func (s *ObjectsRoutes) upload(w http.ResponseWriter, r *http.Request) {
	var (
		req     objects.UploadRequest
		content io.Reader
	)

	if s.kind == model.TypeFile {
		if err := r.ParseMultipartForm(maxUploadSize); err != nil {
			writeError(w, errors.NewSchemaInvalidError("invalid multipart body", err))
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			writeError(w, errors.NewSchemaInvalidError("missing file field", err))
			return
		}
		defer func() { _ = file.Close() }()

		content = file
		req = objects.UploadRequest{
			Object:      &model.Object{Type: model.TypeFile, FileName: header.Filename},
			ParentDHash: r.FormValue("parent"),
			ShareWith:   r.FormValue("share_with"),
		}
	} else {
		var body uploadRequest
		if err := decode(r, &body); err != nil {
			writeError(w, err)
			return
		}
		obj := &model.Object{Type: s.kind}
		if s.kind == model.TypeStaticConfig {
			obj.ConfigFamily = body.Family
			obj.ConfigType = body.ConfigType
			obj.Config = body.Config
		} else {
			obj.BlobName = body.BlobName
			obj.BlobType = body.BlobType
			obj.Content = body.Content
		}
		req = objects.UploadRequest{
			Object:      obj,
			ParentDHash: body.Parent,
			ShareWith:   body.ShareWith,
		}
	}
	req.Content = content

	obj, created, err := s.objects.Upload(r.Context(), identity(r), req)
	if err != nil {
		writeError(w, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, objectToResponse(obj))
}

func (s *ObjectsRoutes) get(w http.ResponseWriter, r *http.Request) {
	view, err := s.objects.Access(r.Context(), identity(r), chi.URLParam(r, "dhash"))
	if err != nil {
		writeError(w, err)
		return
	}
	if s.kind != "" && view.Type != s.kind {
		writeError(w, errors.NewNotFoundError("object not found", nil))
		return
	}
	writeJSON(w, http.StatusOK, viewToResponse(view))
}

func (s *ObjectsRoutes) download(w http.ResponseWriter, r *http.Request) {
	rc, err := s.objects.FileContent(r.Context(), identity(r), chi.URLParam(r, "dhash"))
	if err != nil {
		writeError(w, err)
		return
	}
	defer func() { _ = rc.Close() }()

	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = io.Copy(w, rc)
}

type commentRequest struct {
	Comment string `json:"comment"`
}

type commentResponse struct {
	ID        int64  `json:"id"`
	Comment   string `json:"comment"`
	Author    string `json:"author"`
	Timestamp string `json:"timestamp"`
}

func commentToResponse(c *model.Comment) commentResponse {
	return commentResponse{
		ID:        c.ID,
		Comment:   c.Comment,
		Author:    c.Author,
		Timestamp: c.Timestamp.UTC().Format(time.RFC3339),
	}
}

func (s *ObjectsRoutes) addComment(w http.ResponseWriter, r *http.Request) {
	var req commentRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	comment, err := s.objects.AddComment(r.Context(), identity(r), chi.URLParam(r, "dhash"), req.Comment)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, commentToResponse(comment))
}

func (s *ObjectsRoutes) listComments(w http.ResponseWriter, r *http.Request) {
	comments, err := s.objects.Comments(r.Context(), identity(r), chi.URLParam(r, "dhash"))
	if err != nil {
		writeError(w, err)
		return
	}
	resp := make([]commentResponse, 0, len(comments))
	for _, c := range comments {
		resp = append(resp, commentToResponse(c))
	}
	writeJSON(w, http.StatusOK, map[string]any{"comments": resp})
}

func (s *ObjectsRoutes) deleteComment(w http.ResponseWriter, r *http.Request) {
	commentID, err := strconv.ParseInt(chi.URLParam(r, "commentID"), 10, 64)
	if err != nil {
		writeError(w, errors.NewSchemaInvalidError("invalid comment id", err))
		return
	}
	if err := s.objects.DeleteComment(r.Context(), identity(r), chi.URLParam(r, "dhash"), commentID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"id": commentID})
}

type tagRequest struct {
	Tag string `json:"tag"`
}

func (s *ObjectsRoutes) addTag(w http.ResponseWriter, r *http.Request) {
	var req tagRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	dhash := chi.URLParam(r, "dhash")
	if err := s.objects.AddTag(r.Context(), identity(r), dhash, req.Tag); err != nil {
		writeError(w, err)
		return
	}
	tags, err := s.objects.Tags(r.Context(), identity(r), dhash)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tags": tags})
}

func (s *ObjectsRoutes) removeTag(w http.ResponseWriter, r *http.Request) {
	dhash := chi.URLParam(r, "dhash")
	if err := s.objects.RemoveTag(r.Context(), identity(r), dhash, chi.URLParam(r, "tag")); err != nil {
		writeError(w, err)
		return
	}
	tags, err := s.objects.Tags(r.Context(), identity(r), dhash)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tags": tags})
}

type relationRequest struct {
	Parent string `json:"parent"`
	Child  string `json:"child"`
}

// addRelation links the object to an existing parent or child.
func (s *ObjectsRoutes) addRelation(w http.ResponseWriter, r *http.Request) {
	var req relationRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	dhash := chi.URLParam(r, "dhash")

	var err error
	switch {
	case req.Parent != "" && req.Child == "":
		err = s.objects.AddRelation(r.Context(), identity(r), req.Parent, dhash)
	case req.Child != "" && req.Parent == "":
		err = s.objects.AddRelation(r.Context(), identity(r), dhash, req.Child)
	default:
		err = errors.NewSchemaInvalidError("exactly one of parent or child is required", nil)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"dhash": dhash})
}

type shareRequest struct {
	Group string `json:"group"`
}

type shareResponse struct {
	GroupID    int64  `json:"group_id"`
	Reason     string `json:"reason"`
	AccessTime string `json:"access_time"`
}

func (s *ObjectsRoutes) share(w http.ResponseWriter, r *http.Request) {
	var req shareRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	dhash := chi.URLParam(r, "dhash")
	if err := s.objects.ShareWith(r.Context(), identity(r), dhash, req.Group); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"dhash": dhash})
}

func (s *ObjectsRoutes) listShares(w http.ResponseWriter, r *http.Request) {
	perms, err := s.objects.Shares(r.Context(), identity(r), chi.URLParam(r, "dhash"))
	if err != nil {
		writeError(w, err)
		return
	}
	resp := make([]shareResponse, 0, len(perms))
	for _, p := range perms {
		resp = append(resp, shareResponse{
			GroupID:    p.GroupID,
			Reason:     string(p.ReasonType),
			AccessTime: p.AccessTime.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"shares": resp})
}

type attributeRequest struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type attributeResponse struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

func (s *ObjectsRoutes) addAttribute(w http.ResponseWriter, r *http.Request) {
	var req attributeRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	dhash := chi.URLParam(r, "dhash")
	if err := s.objects.AddAttribute(r.Context(), identity(r), dhash, req.Key, req.Value); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, attributeResponse{Key: req.Key, Value: req.Value})
}

func (s *ObjectsRoutes) listAttributes(w http.ResponseWriter, r *http.Request) {
	showHidden := r.URL.Query().Get("hidden") == "true"
	attrs, err := s.objects.Attributes(r.Context(), identity(r), chi.URLParam(r, "dhash"), showHidden)
	if err != nil {
		writeError(w, err)
		return
	}
	resp := make([]attributeResponse, 0, len(attrs))
	for _, a := range attrs {
		resp = append(resp, attributeResponse{Key: a.Key, Value: a.Value})
	}
	writeJSON(w, http.StatusOK, map[string]any{"attributes": resp})
}

func (s *ObjectsRoutes) removeAttribute(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if err := s.objects.RemoveAttribute(r.Context(), identity(r), chi.URLParam(r, "dhash"), key); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"key": key})
}
