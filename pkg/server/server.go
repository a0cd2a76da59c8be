// Package server exposes the import request API: creating import targets,
// triggering jobs and polling their progress.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/julienschmidt/httprouter"
	"github.com/sirupsen/logrus"

	"github.com/acmoj/polygon-importer/pkg/importer"
	"github.com/acmoj/polygon-importer/pkg/judge"
	"github.com/acmoj/polygon-importer/pkg/polygon"
	"github.com/acmoj/polygon-importer/pkg/worker"
)

// userHeader carries the authenticated username, set by the fronting proxy.
const userHeader = "X-Forwarded-User"

// Server handles the import request endpoints.
type Server struct {
	store    *judge.Store
	runtime  *worker.Runtime
	importer *importer.Importer
	client   polygon.Client
	logger   *logrus.Entry
}

// New wires the server to its collaborators.
func New(store *judge.Store, runtime *worker.Runtime, imp *importer.Importer, client polygon.Client, logger *logrus.Entry) *Server {
	return &Server{store: store, runtime: runtime, importer: imp, client: client, logger: logger}
}

// Routes returns the HTTP routes of the import API.
func (s *Server) Routes() *httprouter.Router {
	router := httprouter.New()
	router.POST("/api/imports", s.createImport)
	router.POST("/api/sources/:id/reimport", s.reimport)
	router.GET("/api/sources/:id", s.getSource)
	router.GET("/api/tasks/:id", s.getTask)
	router.GET("/api/suggest-code", s.suggestCode)
	return router
}

func (s *Server) caller(w http.ResponseWriter, r *http.Request) *judge.Profile {
	username := r.Header.Get(userHeader)
	if username == "" {
		http.Error(w, "not authenticated", http.StatusUnauthorized)
		return nil
	}
	profile, err := s.store.ProfileByUsername(username)
	if err != nil {
		s.logger.WithError(err).Error("Could not load caller profile")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return nil
	}
	if profile == nil || !profile.CanImport {
		http.Error(w, "you are not allowed to import problems", http.StatusForbidden)
		return nil
	}
	return profile
}

// canTouchSource checks that the caller may act on an existing source: for
// a realized problem the caller must be one of its editors, otherwise the
// source's creator.
func (s *Server) canTouchSource(caller *judge.Profile, source *judge.ProblemSource) (bool, error) {
	if source.ProblemID != nil {
		return s.store.IsAuthor(*source.ProblemID, caller.ID)
	}
	return source.AuthorID == caller.ID, nil
}

type importRequest struct {
	PolygonID int    `json:"polygon_id"`
	Code      string `json:"code"`
}

type taskResponse struct {
	TaskID   string `json:"task_id"`
	SourceID int64  `json:"source_id"`
}

func (s *Server) createImport(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	caller := s.caller(w, r)
	if caller == nil {
		return
	}

	request := importRequest{}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, fmt.Sprintf("malformed request: %v", err), http.StatusBadRequest)
		return
	}
	if err := importer.ValidateCode(request.Code); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	source, err := s.store.CreateProblemSource(request.PolygonID, caller.ID, request.Code)
	if err != nil {
		http.Error(w, fmt.Sprintf("could not create problem source: %v", err), http.StatusBadRequest)
		return
	}

	s.dispatch(w, source)
}

func (s *Server) reimport(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	caller := s.caller(w, r)
	if caller == nil {
		return
	}
	source := s.sourceFromParams(w, params)
	if source == nil {
		return
	}

	allowed, err := s.canTouchSource(caller, source)
	if err != nil {
		s.logger.WithError(err).Error("Could not check permissions")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if !allowed {
		http.Error(w, "you are not an editor of this problem", http.StatusForbidden)
		return
	}

	s.dispatch(w, source)
}

func (s *Server) dispatch(w http.ResponseWriter, source *judge.ProblemSource) {
	taskID, err := s.runtime.Submit(fmt.Sprintf("source-%d", source.ID), func(ctx context.Context, reporter worker.Reporter, logger *logrus.Entry) error {
		return s.importer.Run(ctx, source.ID, reporter, logger)
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	writeJSON(w, taskResponse{TaskID: taskID, SourceID: source.ID})
}

type sourceResponse struct {
	ID          int64            `json:"id"`
	PolygonID   int              `json:"polygon_id"`
	ProblemCode string           `json:"problem_code"`
	ProblemID   *int64           `json:"problem_id,omitempty"`
	Imports     []importResponse `json:"imports"`
}

type importResponse struct {
	ID        int64  `json:"id"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
	CreatedAt string `json:"created_at"`
}

func (s *Server) getSource(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	caller := s.caller(w, r)
	if caller == nil {
		return
	}
	source := s.sourceFromParams(w, params)
	if source == nil {
		return
	}
	allowed, err := s.canTouchSource(caller, source)
	if err != nil || !allowed {
		http.Error(w, "you are not an editor of this problem", http.StatusForbidden)
		return
	}

	imports, err := s.store.ImportsBySource(source.ID)
	if err != nil {
		s.logger.WithError(err).Error("Could not list imports")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	response := sourceResponse{
		ID:          source.ID,
		PolygonID:   source.PolygonID,
		ProblemCode: source.ProblemCode,
		ProblemID:   source.ProblemID,
		Imports:     []importResponse{},
	}
	for _, record := range imports {
		response.Imports = append(response.Imports, importResponse{
			ID:        record.ID,
			Status:    record.Status,
			Error:     record.Error,
			CreatedAt: record.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	writeJSON(w, response)
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	status, ok := s.runtime.Status(params.ByName("id"))
	if !ok {
		http.Error(w, "unknown task", http.StatusNotFound)
		return
	}
	writeJSON(w, status)
}

func (s *Server) suggestCode(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	caller := s.caller(w, r)
	if caller == nil {
		return
	}
	polygonID, err := strconv.Atoi(r.URL.Query().Get("problem_id"))
	if err != nil {
		http.Error(w, "problem_id must be an integer", http.StatusBadRequest)
		return
	}
	problem, err := s.client.GetProblem(r.Context(), polygonID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	code, err := SuggestCode(problem.Name, s.codeTaken)
	if err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	writeJSON(w, map[string]string{"code": code})
}

func (s *Server) codeTaken(code string) (bool, error) {
	problem, err := s.store.ProblemByCode(code)
	if err != nil {
		return false, err
	}
	return problem != nil, nil
}

func (s *Server) sourceFromParams(w http.ResponseWriter, params httprouter.Params) *judge.ProblemSource {
	id, err := strconv.ParseInt(params.ByName("id"), 10, 64)
	if err != nil {
		http.Error(w, "source id must be an integer", http.StatusBadRequest)
		return nil
	}
	source, err := s.store.ProblemSourceByID(id)
	if err != nil {
		s.logger.WithError(err).Error("Could not load problem source")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return nil
	}
	if source == nil {
		http.Error(w, "unknown problem source", http.StatusNotFound)
		return nil
	}
	return source
}

func writeJSON(w http.ResponseWriter, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logrus.WithError(err).Error("Could not encode response")
	}
}
