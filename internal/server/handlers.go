package server

import (
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/michaelbrown/runbox/internal/admission"
	"github.com/michaelbrown/runbox/internal/language"
	"github.com/michaelbrown/runbox/internal/pipeline"
	"github.com/michaelbrown/runbox/internal/scoring"
	"github.com/michaelbrown/runbox/internal/storage"
)

// --- JSON helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeResponse sends a pipeline response, mirroring its status on the
// status line.
func writeResponse(w http.ResponseWriter, resp pipeline.Response) {
	w.Header().Set("Content-Type", "application/json")
	if resp.ID != "" {
		w.Header().Set("X-Execution-Id", resp.ID)
	}
	if resp.RetryAfter > 0 {
		secs := int(math.Ceil(resp.RetryAfter.Seconds()))
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}
	writeJSON(w, resp.Status, resp)
}

// maxBodyBytes leaves room for JSON escaping around the largest accepted code.
func (s *Server) maxBodyBytes() int64 {
	return int64(s.cfg.Limits.MaxCodeBytes)*6 + 4096
}

// --- Execution ---

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBodyBytes()))
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeResponse(w, pipeline.ErrorResponse(http.StatusRequestEntityTooLarge, "request body too large"))
			return
		}
		writeResponse(w, pipeline.ErrorResponse(http.StatusBadRequest, "reading request body: "+err.Error()))
		return
	}

	writeResponse(w, s.pipeline.Execute(r.Context(), body))
}

// --- Catalog handlers ---

func (s *Server) handleListLanguages(w http.ResponseWriter, r *http.Request) {
	langs := s.languages.List()
	if langs == nil {
		langs = []language.Language{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"default":   s.languages.Default().ID,
		"languages": langs,
	})
}

type rubricSummary struct {
	ID        string             `json:"id"`
	Title     string             `json:"title"`
	Grader    scoring.GraderKind `json:"grader"`
	Checks    int                `json:"checks"`
	MaxPoints float64            `json:"max_points"`
}

func (s *Server) handleListRubrics(w http.ResponseWriter, r *http.Request) {
	rubrics := s.rubrics.List()
	out := make([]rubricSummary, 0, len(rubrics))
	for _, rb := range rubrics {
		out = append(out, rubricSummary{ID: rb.ID, Title: rb.Title, Grader: rb.Grader, Checks: len(rb.Checks), MaxPoints: rb.MaxPoints()})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetRubric(w http.ResponseWriter, r *http.Request) {
	rb, ok := s.rubrics.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "rubric not found")
		return
	}
	writeJSON(w, http.StatusOK, rb)
}

// --- Ledger handlers ---

func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusNotFound, "execution ledger is disabled")
		return
	}

	opts := storage.ExecutionListOptions{
		ExitStatus: r.URL.Query().Get("status"),
		Mode:       r.URL.Query().Get("mode"),
	}
	if limit := r.URL.Query().Get("limit"); limit != "" {
		if n, err := strconv.Atoi(limit); err == nil {
			opts.Limit = n
		}
	}
	if offset := r.URL.Query().Get("offset"); offset != "" {
		if n, err := strconv.Atoi(offset); err == nil {
			opts.Offset = n
		}
	}

	execs, err := s.store.ListExecutions(r.Context(), opts)
	if err != nil {
		s.logger.Error().Err(err).Msg("listing executions")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	if execs == nil {
		execs = []storage.Execution{}
	}
	writeJSON(w, http.StatusOK, execs)
}

func (s *Server) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusNotFound, "execution ledger is disabled")
		return
	}
	e, err := s.store.GetExecution(r.Context(), chi.URLParam(r, "id"))
	switch {
	case err == nil:
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "execution not found")
		return
	case errors.Is(err, storage.ErrAmbiguous):
		writeError(w, http.StatusBadRequest, "ambiguous execution id prefix")
		return
	default:
		s.logger.Error().Err(err).Msg("getting execution")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (s *Server) handleExecutionSummary(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusNotFound, "execution ledger is disabled")
		return
	}
	summary, err := s.store.Summary(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("summarizing executions")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if summary == nil {
		summary = []storage.StatusCount{}
	}
	writeJSON(w, http.StatusOK, summary)
}

// --- Health ---

type healthResponse struct {
	Status    string          `json:"status"`
	Admission admission.Stats `json:"admission"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, http.StatusOK, healthResponse{
		Status:    "ok",
		Admission: s.pipeline.Admission().Stats(),
	})
}
