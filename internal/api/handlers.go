package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"coursecast/internal/broadcast"
	"coursecast/internal/term"
	logx "coursecast/pkg/logx"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	type health struct {
		OK       bool   `json:"ok"`
		Domain   string `json:"domain"`
		Platform string `json:"platform,omitempty"`
	}
	h := health{OK: true, Domain: s.gw.Domain()}
	if err := s.gw.Ping(r.Context()); err != nil {
		h.OK = false
		h.Platform = err.Error()
	}
	writeJSON(w, http.StatusOK, h)
}

func (s *Server) handleSelf(w http.ResponseWriter, r *http.Request) {
	p, err := s.gw.Self(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleCourses(w http.ResponseWriter, r *http.Request) {
	filter := r.URL.Query().Get("term")
	if filter == "" {
		filter = s.cfg.DefaultTerm
	}
	courses, err := s.gw.ListCourses(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, courses)
}

func (s *Server) handleSections(w http.ResponseWriter, r *http.Request) {
	courseID, err := queryInt64(r, "course_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	sections, err := s.gw.ListSections(r.Context(), courseID)
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, sections)
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	courseID, err := queryInt64(r, "course_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	name := strings.TrimSpace(r.URL.Query().Get("name"))
	res, err := s.gw.ResolveRecipient(r.Context(), courseID, name)
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleSends(w http.ResponseWriter, r *http.Request) {
	courseID, err := queryInt64(r, "course_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	termKey := r.URL.Query().Get("term_key")
	if label := r.URL.Query().Get("term"); label != "" {
		termKey = term.Key(label)
	}
	units, err := s.store.ListSent(r.Context(), s.gw.Domain(), courseID, termKey)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	type sentUnit struct {
		CourseID  int64  `json:"course_id"`
		SectionID int64  `json:"section_id,omitempty"`
		Wide      bool   `json:"course_wide"`
		TermKey   string `json:"term_key"`
	}
	out := make([]sentUnit, 0, len(units))
	for _, u := range units {
		out = append(out, sentUnit{
			CourseID:  u.CourseID,
			SectionID: u.Section.ID,
			Wide:      u.Section.Wide,
			TermKey:   u.TermKey,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

type sendRequest struct {
	CourseID   int64  `json:"course_id"`
	CourseCode string `json:"course_code"`
	CourseName string `json:"course_name"`
	TermLabel  string `json:"term_label"`
	LinkURL    string `json:"link_url"`
	Subject    string `json:"subject"`
	Body       string `json:"body"`
	Token      string `json:"token,omitempty"`
}

type sendResponse struct {
	TotalRecipients int `json:"total_recipients"`
	BatchCount      int `json:"batch_count"`
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	if req.CourseID <= 0 {
		writeError(w, http.StatusBadRequest, fmt.Errorf("course_id is required"))
		return
	}
	if strings.TrimSpace(req.Body) == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("body is required"))
		return
	}

	course := broadcast.CourseRef{
		ID:        req.CourseID,
		Code:      req.CourseCode,
		Name:      req.CourseName,
		TermLabel: req.TermLabel,
		LinkURL:   req.LinkURL,
	}
	msg := broadcast.Message{Subject: req.Subject, Body: req.Body, Token: req.Token}

	sum, err := s.bc.SendToCourse(r.Context(), course, msg)
	if err != nil {
		s.log.Warn("send failed", logx.Int64("course_id", req.CourseID), logx.Err(err))
		status := http.StatusBadGateway
		if errors.Is(err, broadcast.ErrNoToken) {
			status = http.StatusConflict
		}
		writeError(w, status, err)
		return
	}
	writeJSON(w, http.StatusOK, sendResponse{TotalRecipients: sum.TotalRecipients, BatchCount: sum.BatchCount})
}

func (s *Server) handleTokenGet(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.tokens.Latest())
}

func (s *Server) handleTokenClear(w http.ResponseWriter, r *http.Request) {
	s.tokens.Clear()
	w.WriteHeader(http.StatusNoContent)
}

type tokenIngest struct {
	Value string `json:"value"`
}

func (s *Server) handleTokenHeader(w http.ResponseWriter, r *http.Request) {
	var in tokenIngest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	s.tokens.RecordHeader(in.Value)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTokenCookie(w http.ResponseWriter, r *http.Request) {
	var in tokenIngest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	s.tokens.RecordCookie(in.Value)
	w.WriteHeader(http.StatusNoContent)
}

func queryInt64(r *http.Request, key string) (int64, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("%s: invalid value %q", key, raw)
	}
	return v, nil
}
