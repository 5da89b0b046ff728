package server

import (
	"errors"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"bizdash/analytics"
	"bizdash/assistant"
	"bizdash/chart"
	"bizdash/dashboard"
	"bizdash/db"
	"bizdash/session"
	"bizdash/utils"
)

// maxMultipartMemory bounds the in-memory part of an upload form
const maxMultipartMemory = 32 << 20

type sessionHandler func(w http.ResponseWriter, r *http.Request, sess *session.Session)

// withSession resolves the {id} path segment to an open session
func (s *Server) withSession(fn sessionHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, err := s.manager.Get(r.PathValue("id"))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		fn(w, r, sess)
	}
}

type messageRequest struct {
	Message string `json:"message"`
}

type messageResponse struct {
	Response string `json:"response"`
}

// handleProcessMessage is the single-endpoint chat bridge. It always answers
// with text: provider failures come back as an error message in the
// response field.
func (s *Server) handleProcessMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	sess, err := s.manager.Default()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := sess.Chat(r.Context(), req.Message)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.metrics.observeChat(res)
	writeJSON(w, http.StatusOK, messageResponse{Response: res.Reply})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "ok",
		"version":  s.version,
		"provider": s.manager.Bridge().Describe(),
	})
}

type statsResponse struct {
	*db.DBStats
	Usage *db.UsageStats `json:"usage,omitempty"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.manager.Store().GetStats()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	end := time.Now()
	usage, err := s.manager.Store().GetUsageStats(end.AddDate(0, 0, -30), end)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statsResponse{DBStats: stats, Usage: usage})
}

func (s *Server) handlePages(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, dashboard.Pages())
}

type createSessionRequest struct {
	Page string `json:"page"`
	Seed int64  `json:"seed"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	sess, err := s.manager.Create(req.Page, req.Seed)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess.Info())
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions := s.manager.List()
	infos := make([]db.Session, 0, len(sessions))
	for _, sess := range sessions {
		infos = append(infos, sess.Info())
	}
	writeJSON(w, http.StatusOK, infos)
}

type sessionResponse struct {
	db.Session
	Title     string               `json:"title"`
	Filters   analytics.FilterSpec `json:"filters"`
	CodeState session.CodeState    `json:"code_state"`
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	writeJSON(w, http.StatusOK, sessionResponse{
		Session:   sess.Info(),
		Title:     sess.Page().Title,
		Filters:   sess.Filters(),
		CodeState: sess.CodeState(),
	})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.Delete(r.PathValue("id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleControls(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	writeJSON(w, http.StatusOK, sess.Controls())
}

type monthRange struct {
	Column string `json:"column"`
	From   string `json:"from"`
	To     string `json:"to"`
}

type viewRequest struct {
	Predicates []analytics.Predicate `json:"predicates"`
	MonthRange *monthRange           `json:"month_range,omitempty"`
}

// filterSpec folds the optional month range into the predicate list
func (v viewRequest) filterSpec() (analytics.FilterSpec, error) {
	spec := analytics.FilterSpec{Predicates: v.Predicates}
	if v.MonthRange != nil {
		p, err := dashboard.MonthRange(v.MonthRange.Column, v.MonthRange.From, v.MonthRange.To)
		if err != nil {
			return analytics.FilterSpec{}, err
		}
		spec.Predicates = append(spec.Predicates, p)
	}
	return spec, nil
}

func (s *Server) handleView(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	var req viewRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	spec, err := req.filterSpec()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	view, err := sess.View(r.Context(), spec)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	var req messageRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := sess.Chat(r.Context(), req.Message)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.metrics.observeChat(res)
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleConversation(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	msgs, err := sess.Conversation()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

type codeStateResponse struct {
	State session.CodeState `json:"state"`
}

func (s *Server) handleBeginCode(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	if err := sess.BeginCode(); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, codeStateResponse{State: sess.CodeState()})
}

func (s *Server) handleCancelCode(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	if err := sess.CancelCode(); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, codeStateResponse{State: sess.CodeState()})
}

type submitCodeRequest struct {
	Name   string `json:"name"`
	Source string `json:"source"`
}

func (s *Server) handleSubmitCode(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	var req submitCodeRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := sess.SubmitCode(req.Name, req.Source)
	s.observeSnippet(err)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) handleListCode(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	items, err := sess.SavedCode()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

// observeSnippet counts interpreter outcomes, ignoring requests that never
// reached the interpreter
func (s *Server) observeSnippet(err error) {
	var ee *assistant.ExecutionError
	if err == nil || errors.As(err, &ee) {
		s.metrics.observeSnippet(err)
	}
}

type runCodeResponse struct {
	Plot *db.Plot `json:"plot"`
}

func (s *Server) handleRunCode(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	plot, err := sess.RunSaved(r.PathValue("itemID"))
	s.observeSnippet(err)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, runCodeResponse{Plot: plot})
}

func (s *Server) handleRemoveCode(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	if err := sess.RemoveCode(r.PathValue("itemID")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListPlots(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	plots, err := sess.Plots()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, plots)
}

func (s *Server) handleRemovePlot(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	if err := sess.RemovePlot(r.PathValue("plotID")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		s.writeError(w, r, badRequest("invalid multipart form", err))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, r, badRequest("missing file field", err))
		return
	}
	defer file.Close()

	format := strings.TrimPrefix(strings.ToLower(filepath.Ext(header.Filename)), ".")
	up, err := sess.Upload(header.Filename, file)
	s.metrics.observeUpload(format, err)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, up)
}

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	files, err := sess.Files()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	summaries := make([]dashboard.FileSummary, 0, len(files))
	for _, f := range files {
		summaries = append(summaries, dashboard.Summarize(f))
	}
	writeJSON(w, http.StatusOK, summaries)
}

func (s *Server) handleRemoveFile(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	if err := sess.RemoveFile(r.PathValue("fileID")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type chartRequest struct {
	chart.Spec
	Filters *analytics.FilterSpec `json:"filters,omitempty"`
}

func (s *Server) handleChart(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	var req chartRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	fig, err := sess.BuildChart(req.Spec, req.Filters)
	s.metrics.observeChart(string(req.Kind), err)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, fig)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	format, err := utils.ParseExportFormat(r.URL.Query().Get("format"))
	if err != nil {
		s.writeError(w, r, &analytics.ValidationError{Field: "format", Reason: err.Error()})
		return
	}
	data, err := sess.Export(format)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	contentType := "application/json"
	if format == utils.FormatMarkdown {
		contentType = "text/markdown; charset=utf-8"
	}
	name := utils.GenerateExportFilename(sess.Page().Title, format)
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}
