// Package httpapi exposes the catalog service and report exports over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"plasticatlas/docs/schema/openapi"
	"plasticatlas/internal/adapters/reports"
	"plasticatlas/internal/core"
	"plasticatlas/internal/plates"
	"plasticatlas/pkg/domain"
)

// Catalog is the read surface served by the API. *core.Service satisfies it.
type Catalog interface {
	ListEnzymes(ctx context.Context, filter domain.EnzymeFilter, page domain.Page) (domain.EnzymePage, error)
	GetEnzyme(ctx context.Context, ref domain.EnzymeRef) (domain.EnzymeRecord, error)
	GetVariants(ctx context.Context, enzymeID int64) ([]domain.VariantRecord, error)
	GetFamilyMembers(ctx context.Context, family int64) ([]domain.EnzymeRecord, error)
	GetComponentMembers(ctx context.Context, component int64) ([]domain.EnzymeRecord, error)
	FamilySummaries(ctx context.Context, component int64) ([]domain.FamilySummary, error)
	OverviewStats(ctx context.Context) (domain.OverviewStats, error)
	AverageByGene(ctx context.Context, gene string) ([]domain.GroupedAverage, error)
	ListByGene(ctx context.Context, gene string) ([]domain.PlateRecord, error)
	ActivityByGene(ctx context.Context, gene string) ([]domain.ActivityRow, error)
	ActivityByExperiment(ctx context.Context, expID string) ([]domain.ActivityRow, error)
	ListSequences(ctx context.Context) ([]domain.SequenceRecord, error)
	GetSequence(ctx context.Context, accession string) (domain.SequenceRecord, error)
	StructureByAccession(ctx context.Context, accession string) (domain.Structure, error)
	StructureByID(ctx context.Context, pdbID string) (domain.Structure, error)
	ComputeStats(ctx context.Context, fs domain.SequenceFeatureSet) domain.SummaryStats
}

// Pinger reports whether the row source is reachable. *sql.DB satisfies it.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 8 << 20

// Handler routes API requests.
type Handler struct {
	catalog  Catalog
	reports  reports.Scheduler
	metrics  http.Handler
	logger   core.Logger
	recorder core.MetricsRecorder
	pinger   Pinger
	router   *mux.Router
}

// Option configures a Handler.
type Option func(*Handler)

// WithReports enables the /api/v1/reports endpoints.
func WithReports(s reports.Scheduler) Option {
	return func(h *Handler) { h.reports = s }
}

// WithMetricsHandler mounts h at /metrics.
func WithMetricsHandler(m http.Handler) Option {
	return func(h *Handler) { h.metrics = m }
}

// WithLogger sets the request logger.
func WithLogger(l core.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithPinger makes /healthz check the row source.
func WithPinger(p Pinger) Option {
	return func(h *Handler) { h.pinger = p }
}

// WithRequestMetrics records one observation per request, keyed by method
// and route template.
func WithRequestMetrics(m core.MetricsRecorder) Option {
	return func(h *Handler) { h.recorder = m }
}

// NewHandler constructs the API router.
func NewHandler(c Catalog, opts ...Option) *Handler {
	h := &Handler{catalog: c, logger: core.NopLogger()}
	for _, opt := range opts {
		opt(h)
	}
	h.router = h.routes()
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(h.observe)
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "route not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.HandleFunc("/healthz", h.handleHealth).Methods(http.MethodGet)
	if h.metrics != nil {
		r.Handle("/metrics", h.metrics).Methods(http.MethodGet)
	}

	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/openapi.yaml", handleOpenAPI).Methods(http.MethodGet)
	api.HandleFunc("/enzymes", h.handleListEnzymes).Methods(http.MethodGet)
	api.HandleFunc("/enzymes/{ref}", h.handleGetEnzyme).Methods(http.MethodGet)
	api.HandleFunc("/enzymes/accession/{accession}", h.handleGetEnzymeByAccession).Methods(http.MethodGet)
	api.HandleFunc("/enzymes/{id}/variants", h.handleVariants).Methods(http.MethodGet)
	api.HandleFunc("/families/{id}/members", h.handleFamilyMembers).Methods(http.MethodGet)
	api.HandleFunc("/components/{id}/members", h.handleComponentMembers).Methods(http.MethodGet)
	api.HandleFunc("/components/{id}/families", h.handleComponentFamilies).Methods(http.MethodGet)
	api.HandleFunc("/stats/overview", h.handleOverview).Methods(http.MethodGet)
	api.HandleFunc("/plates/genes/{gene}/averages", h.handleAverages).Methods(http.MethodGet)
	api.HandleFunc("/plates/genes/{gene}/records", h.handleRecords).Methods(http.MethodGet)
	api.HandleFunc("/activity/genes/{gene}", h.handleActivityGene).Methods(http.MethodGet)
	api.HandleFunc("/activity/experiments/{exp}", h.handleActivityExperiment).Methods(http.MethodGet)
	api.HandleFunc("/sequences", h.handleListSequences).Methods(http.MethodGet)
	api.HandleFunc("/sequences/{accession}", h.handleGetSequence).Methods(http.MethodGet)
	api.HandleFunc("/structures/accession/{accession}", h.handleStructureByAccession).Methods(http.MethodGet)
	api.HandleFunc("/structures/{pdb_id}", h.handleStructureByID).Methods(http.MethodGet)
	api.HandleFunc("/features/stats", h.handleFeatureStats).Methods(http.MethodPost)
	if h.reports != nil {
		api.HandleFunc("/reports", h.handleCreateReport).Methods(http.MethodPost)
		api.HandleFunc("/reports", h.handleListReports).Methods(http.MethodGet)
		api.HandleFunc("/reports/{id}", h.handleGetReport).Methods(http.MethodGet)
		api.HandleFunc("/reports/{id}/artifacts/{format}", h.handleReportArtifact).Methods(http.MethodGet)
	}
	return r
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if h.pinger != nil {
		if err := h.pinger.PingContext(r.Context()); err != nil {
			h.logger.Error("health check failed", "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"status": "error"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func handleOpenAPI(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(openapi.Spec())
}

func (h *Handler) handleListEnzymes(w http.ResponseWriter, r *http.Request) {
	filter, page, err := parseListQuery(r.URL.Query())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	result, err := h.catalog.ListEnzymes(r.Context(), filter, page)
	respond(w, result, err)
}

func (h *Handler) handleGetEnzyme(w http.ResponseWriter, r *http.Request) {
	ref, err := domain.ParseEnzymeRef(mux.Vars(r)["ref"])
	if err != nil {
		writeDomainError(w, err)
		return
	}
	record, err := h.catalog.GetEnzyme(r.Context(), ref)
	respond(w, record, err)
}

func (h *Handler) handleGetEnzymeByAccession(w http.ResponseWriter, r *http.Request) {
	ref, err := domain.ParseAccession(mux.Vars(r)["accession"])
	if err != nil {
		writeDomainError(w, err)
		return
	}
	record, err := h.catalog.GetEnzyme(r.Context(), ref)
	respond(w, record, err)
}

func (h *Handler) handleVariants(w http.ResponseWriter, r *http.Request) {
	id, err := domain.ParseID("enzyme", mux.Vars(r)["id"])
	if err != nil {
		writeDomainError(w, err)
		return
	}
	variants, err := h.catalog.GetVariants(r.Context(), id)
	respond(w, map[string]any{"variants": variants}, err)
}

func (h *Handler) handleFamilyMembers(w http.ResponseWriter, r *http.Request) {
	id, err := domain.ParseID("family", mux.Vars(r)["id"])
	if err != nil {
		writeDomainError(w, err)
		return
	}
	members, err := h.catalog.GetFamilyMembers(r.Context(), id)
	respond(w, map[string]any{"members": members}, err)
}

func (h *Handler) handleComponentMembers(w http.ResponseWriter, r *http.Request) {
	id, err := domain.ParseID("component", mux.Vars(r)["id"])
	if err != nil {
		writeDomainError(w, err)
		return
	}
	members, err := h.catalog.GetComponentMembers(r.Context(), id)
	respond(w, map[string]any{"members": members}, err)
}

func (h *Handler) handleComponentFamilies(w http.ResponseWriter, r *http.Request) {
	id, err := domain.ParseID("component", mux.Vars(r)["id"])
	if err != nil {
		writeDomainError(w, err)
		return
	}
	families, err := h.catalog.FamilySummaries(r.Context(), id)
	respond(w, map[string]any{"families": families}, err)
}

func (h *Handler) handleOverview(w http.ResponseWriter, r *http.Request) {
	stats, err := h.catalog.OverviewStats(r.Context())
	respond(w, stats, err)
}

func (h *Handler) handleAverages(w http.ResponseWriter, r *http.Request) {
	groups, err := h.catalog.AverageByGene(r.Context(), mux.Vars(r)["gene"])
	if err != nil {
		writeDomainError(w, err)
		return
	}
	body := map[string]any{"averages": groups}
	if conflicts := plates.MetadataConflicts(groups); len(conflicts) > 0 {
		body["metadata_conflicts"] = conflicts
	}
	writeJSON(w, http.StatusOK, body)
}

func (h *Handler) handleRecords(w http.ResponseWriter, r *http.Request) {
	records, err := h.catalog.ListByGene(r.Context(), mux.Vars(r)["gene"])
	respond(w, map[string]any{"records": records}, err)
}

func (h *Handler) handleActivityGene(w http.ResponseWriter, r *http.Request) {
	rows, err := h.catalog.ActivityByGene(r.Context(), mux.Vars(r)["gene"])
	respond(w, map[string]any{"activity": rows}, err)
}

func (h *Handler) handleActivityExperiment(w http.ResponseWriter, r *http.Request) {
	rows, err := h.catalog.ActivityByExperiment(r.Context(), mux.Vars(r)["exp"])
	respond(w, map[string]any{"activity": rows}, err)
}

func (h *Handler) handleListSequences(w http.ResponseWriter, r *http.Request) {
	rows, err := h.catalog.ListSequences(r.Context())
	respond(w, map[string]any{"sequences": rows}, err)
}

func (h *Handler) handleGetSequence(w http.ResponseWriter, r *http.Request) {
	record, err := h.catalog.GetSequence(r.Context(), mux.Vars(r)["accession"])
	respond(w, record, err)
}

func (h *Handler) handleStructureByAccession(w http.ResponseWriter, r *http.Request) {
	structure, err := h.catalog.StructureByAccession(r.Context(), mux.Vars(r)["accession"])
	respond(w, structure, err)
}

func (h *Handler) handleStructureByID(w http.ResponseWriter, r *http.Request) {
	structure, err := h.catalog.StructureByID(r.Context(), mux.Vars(r)["pdb_id"])
	respond(w, structure, err)
}

type featureStatsResponse struct {
	Stats     domain.SummaryStats   `json:"stats"`
	Formatted domain.FormattedStats `json:"formatted"`
}

func (h *Handler) handleFeatureStats(w http.ResponseWriter, r *http.Request) {
	var fs domain.SequenceFeatureSet
	if err := decodeBody(r, &fs); err != nil {
		writeError(w, http.StatusBadRequest, "invalid feature set payload")
		return
	}
	stats := h.catalog.ComputeStats(r.Context(), fs)
	writeJSON(w, http.StatusOK, featureStatsResponse{Stats: stats, Formatted: stats.Format()})
}

func (h *Handler) handleCreateReport(w http.ResponseWriter, r *http.Request) {
	var req reports.Request
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid report request payload")
		return
	}
	record, err := h.reports.Enqueue(r.Context(), req)
	switch {
	case errors.Is(err, reports.ErrQueueFull), errors.Is(err, reports.ErrStopped):
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	case err != nil:
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"report": record})
}

func (h *Handler) handleListReports(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"reports": h.reports.List()})
}

func (h *Handler) handleGetReport(w http.ResponseWriter, r *http.Request) {
	record, ok := h.reports.Get(mux.Vars(r)["id"])
	if !ok {
		writeError(w, http.StatusNotFound, "report not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"report": record})
}

func (h *Handler) handleReportArtifact(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	info, rc, err := h.reports.OpenArtifact(r.Context(), vars["id"], reports.Format(strings.ToLower(vars["format"])))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	defer rc.Close()
	if info.ContentType != "" {
		w.Header().Set("Content-Type", info.ContentType)
	}
	if info.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(info.Size, 10))
	}
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, rc)
}

// parseListQuery reads family, component, has_component, limit and offset.
// Malformed values are validation errors.
func parseListQuery(q url.Values) (domain.EnzymeFilter, domain.Page, error) {
	var filter domain.EnzymeFilter
	if raw := q.Get("family"); raw != "" {
		id, err := domain.ParseID("family", raw)
		if err != nil {
			return filter, domain.Page{}, err
		}
		filter.Family = &id
	}
	if raw := q.Get("component"); raw != "" {
		id, err := domain.ParseID("component", raw)
		if err != nil {
			return filter, domain.Page{}, err
		}
		filter.Component = &id
	}
	if raw := q.Get("has_component"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return filter, domain.Page{}, domain.ValidationError{Field: "has_component", Reason: "must be true or false"}
		}
		filter.HasComponent = &v
	}
	var page domain.Page
	for _, p := range []struct {
		name string
		dst  *int
	}{{"limit", &page.Limit}, {"offset", &page.Offset}} {
		raw := q.Get(p.name)
		if raw == "" {
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil {
			return filter, domain.Page{}, domain.ValidationError{Field: p.name, Reason: "must be an integer"}
		}
		*p.dst = v
	}
	return filter, page, nil
}

func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func respond(w http.ResponseWriter, payload any, err error) {
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

// statusFor maps NotFound to 404, validation failures to 400 and everything
// else to 500.
func statusFor(err error) int {
	switch {
	case domain.IsNotFound(err):
		return http.StatusNotFound
	case domain.IsValidation(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeDomainError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "internal error"
	}
	writeError(w, status, message)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}
