package server

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/leapstack-labs/leapref/internal/state"
	"github.com/leapstack-labs/leapref/pkg/compile"
	"github.com/leapstack-labs/leapref/pkg/core"
	"github.com/leapstack-labs/leapref/pkg/facet"
	"github.com/leapstack-labs/leapref/pkg/reference"
	"github.com/leapstack-labs/leapref/pkg/validate"
)

const maxBodyBytes = 1 << 20

func (s *Server) routes(r chi.Router) {
	r.Get("/healthz", s.handleHealth)
	r.Get("/compile", s.handleCompile)
	r.Get("/read", s.handleRead)
	r.Route("/facets", func(r chi.Router) {
		r.Post("/encode", s.handleFacetsEncode)
		r.Get("/decode", s.handleFacetsDecode)
		r.Post("/apply", s.handleFacetsApply)
	})
	r.Route("/queries", func(r chi.Router) {
		r.Get("/", s.handleListQueries)
		r.Get("/{name}", s.handleGetQuery)
		r.Put("/{name}", s.handlePutQuery)
		r.Delete("/{name}", s.handleDeleteQuery)
	})
}

// CompileResponse describes a compiled reference.
type CompileResponse struct {
	URI     string            `json:"uri"`
	Table   string            `json:"table"`
	Context string            `json:"context"`
	Mode    compile.Mode      `json:"mode"`
	URL     string            `json:"url"`
	Sort    []compile.SortKey `json:"sort"`
	Outputs []compile.Output  `json:"outputs,omitempty"`
}

// RowResponse is one row of a page.
type RowResponse struct {
	Name      string   `json:"name"`
	Data      core.Row `json:"data"`
	Linked    core.Row `json:"linked,omitempty"`
	CanUpdate bool     `json:"can_update"`
	CanDelete bool     `json:"can_delete"`
}

// ReadResponse is one page of a reference.
type ReadResponse struct {
	URI      string        `json:"uri"`
	Rows     []RowResponse `json:"rows"`
	Next     string        `json:"next,omitempty"`
	Previous string        `json:"previous,omitempty"`
}

// ApplyResponse is the reference produced by adding facets.
type ApplyResponse struct {
	URI    string          `json:"uri"`
	Issues validate.Issues `json:"issues"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to write response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", slog.String("path", r.URL.Path), slog.String("error", err.Error()))
	}
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}

func statusFor(err error) int {
	var te *core.TransportError
	switch {
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrInvalidInput),
		errors.Is(err, core.ErrInvalidSortCriteria),
		errors.Is(err, core.ErrInvalidPageCriteria),
		errors.Is(err, core.ErrInvalidFacetOperator):
		return http.StatusBadRequest
	case errors.As(err, &te):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// reference resolves the uri query parameter, moved into the context
// parameter when one is given.
func (s *Server) reference(r *http.Request) (*reference.Reference, error) {
	uri := r.URL.Query().Get("uri")
	if uri == "" {
		return nil, &core.InvalidInputError{Message: "uri is required"}
	}
	ref, err := s.Resolver().Resolve(uri)
	if err != nil {
		return nil, err
	}
	if name := r.URL.Query().Get("context"); name != "" {
		c, err := core.ParseContext(name)
		if err != nil {
			return nil, err
		}
		if ref, err = ref.Contextualize(c); err != nil {
			return nil, err
		}
	}
	return ref, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	cat := s.Resolver().Catalog()
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"catalog": cat.ID,
		"tables":  len(cat.Tables()),
	})
}

func (s *Server) handleCompile(w http.ResponseWriter, r *http.Request) {
	ref, err := s.reference(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := ref.Compile()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, CompileResponse{
		URI:     ref.URI(),
		Table:   ref.Table().QualifiedName(),
		Context: ref.Context().String(),
		Mode:    res.Mode,
		URL:     res.URL(0),
		Sort:    res.Sort,
		Outputs: res.Outputs,
	})
}

func (s *Server) handleRead(w http.ResponseWriter, r *http.Request) {
	ref, err := s.reference(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	limit := s.cfg.PageLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if limit, err = strconv.Atoi(raw); err != nil || limit < 1 {
			s.writeError(w, r, &core.InvalidInputError{Message: "limit must be a positive integer"})
			return
		}
	}

	page, err := ref.Read(r.Context(), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	resp := ReadResponse{URI: ref.URI(), Rows: make([]RowResponse, len(page.Rows))}
	for i, t := range page.Rows {
		resp.Rows[i] = RowResponse{
			Name:      ref.RowName(t),
			Data:      t.Data,
			Linked:    t.Linked,
			CanUpdate: t.CanUpdate,
			CanDelete: t.CanDelete,
		}
	}
	if next, ok := ref.Next(page); ok {
		resp.Next = next.URI()
	}
	if prev, ok := ref.Previous(page); ok {
		resp.Previous = prev.URI()
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func decodeSet(r *http.Request) (facet.Set, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return facet.Set{}, &core.InvalidInputError{Message: "cannot read body", Cause: err}
	}
	var set facet.Set
	if err := json.Unmarshal(body, &set); err != nil {
		return facet.Set{}, err
	}
	return set, nil
}

func (s *Server) handleFacetsEncode(w http.ResponseWriter, r *http.Request) {
	set, err := decodeSet(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	blob, err := facet.Encode(set)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"blob": blob})
}

func (s *Server) handleFacetsDecode(w http.ResponseWriter, r *http.Request) {
	blob := r.URL.Query().Get("blob")
	if blob == "" {
		s.writeError(w, r, &core.InvalidInputError{Message: "blob is required"})
		return
	}
	set, err := facet.Decode(blob)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, set)
}

func (s *Server) handleFacetsApply(w http.ResponseWriter, r *http.Request) {
	ref, err := s.reference(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	set, err := decodeSet(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out, issues, err := ref.AddFacets(r.Context(), set.Definitions()...)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ApplyResponse{URI: out.URI(), Issues: issues})
}

// --- Saved queries ---

func (s *Server) store(w http.ResponseWriter, r *http.Request) (state.Store, bool) {
	if s.cfg.Store == nil {
		s.writeError(w, r, &core.NotFoundError{Kind: "feature", Name: "saved queries"})
		return nil, false
	}
	return s.cfg.Store, true
}

func (s *Server) handleListQueries(w http.ResponseWriter, r *http.Request) {
	st, ok := s.store(w, r)
	if !ok {
		return
	}
	queries, err := st.ListQueries(r.Context(), s.Resolver().Catalog().ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if queries == nil {
		queries = []state.SavedQuery{}
	}
	s.writeJSON(w, http.StatusOK, queries)
}

func (s *Server) handleGetQuery(w http.ResponseWriter, r *http.Request) {
	st, ok := s.store(w, r)
	if !ok {
		return
	}
	q, err := st.GetQuery(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, q)
}

func (s *Server) handlePutQuery(w http.ResponseWriter, r *http.Request) {
	st, ok := s.store(w, r)
	if !ok {
		return
	}
	var body struct {
		URI         string `json:"uri"`
		Context     string `json:"context"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&body); err != nil {
		s.writeError(w, r, &core.InvalidInputError{Message: "malformed body", Cause: err})
		return
	}
	if _, err := s.Resolver().Resolve(body.URI); err != nil {
		s.writeError(w, r, err)
		return
	}
	if body.Context != "" {
		if _, err := core.ParseContext(body.Context); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	q := state.SavedQuery{
		Name:        chi.URLParam(r, "name"),
		CatalogID:   s.Resolver().Catalog().ID,
		URI:         body.URI,
		Context:     body.Context,
		Description: body.Description,
	}
	if err := st.SaveQuery(r.Context(), q); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteQuery(w http.ResponseWriter, r *http.Request) {
	st, ok := s.store(w, r)
	if !ok {
		return
	}
	if err := st.DeleteQuery(r.Context(), chi.URLParam(r, "name")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
