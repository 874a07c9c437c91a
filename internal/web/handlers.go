package web

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/a-h/templ"
	"github.com/shopspring/decimal"

	"github.com/JonMunkholm/carvalue/internal/core"
	"github.com/JonMunkholm/carvalue/internal/web/templates"
)

// healthTimeout bounds the database ping behind /health.
const healthTimeout = 2 * time.Second

// handleIndex renders the empty valuation form.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	templ.Handler(templates.EstimatePage(templates.EstimatePageData{})).ServeHTTP(w, r)
}

// handleEstimateForm values the submitted vehicle. Invalid input re-renders
// the form with every message and status 400.
func (s *Server) handleEstimateForm(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.respondError(w, r, err, http.StatusBadRequest)
		return
	}

	form := templates.EstimateForm{
		Year:    r.PostFormValue("year"),
		Make:    r.PostFormValue("make"),
		Model:   r.PostFormValue("model"),
		Mileage: r.PostFormValue("mileage"),
	}
	q, errs := core.ParseEstimateQuery(form.Year, form.Make, form.Model, form.Mileage, nil)
	if len(errs) > 0 {
		page := templates.EstimatePage(templates.EstimatePageData{Form: form, Errors: errs.Messages()})
		templ.Handler(page, templ.WithStatus(http.StatusBadRequest)).ServeHTTP(w, r)
		return
	}

	result, err := s.service.Estimate(r.Context(), q)
	if err != nil {
		s.respondError(w, r, err, http.StatusInternalServerError)
		return
	}

	page := templates.EstimatePage(templates.EstimatePageData{
		Form:    form,
		Result:  result,
		Vehicle: vehicleLabel(q),
	})
	templ.Handler(page).ServeHTTP(w, r)
}

// EstimateResponse is the JSON body of GET /api/estimate.
type EstimateResponse struct {
	Year        int                 `json:"year"`
	Make        string              `json:"make"`
	Model       string              `json:"model"`
	Mileage     *int32              `json:"mileage"`
	Estimate    decimal.NullDecimal `json:"estimate"`
	Comparables []core.Comparable   `json:"comparables"`
	Count       int                 `json:"count"`
	Policy      PolicyResponse      `json:"policy"`
}

// PolicyResponse names the policies that produced an estimate.
type PolicyResponse struct {
	Filter    core.FilterPolicy  `json:"filter"`
	Estimator core.EstimatorKind `json:"estimator"`
	Ranking   core.RankingPolicy `json:"ranking"`
}

// handleEstimateAPI is the JSON form of the estimate. The status parameter,
// comma-separated or repeated, overrides the configured status filter.
func (s *Server) handleEstimateAPI(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	q, errs := core.ParseEstimateQuery(
		params.Get("year"), params.Get("make"), params.Get("model"), params.Get("mileage"),
		splitStatuses(params["status"]),
	)
	if len(errs) > 0 {
		respondValidation(w, errs)
		return
	}

	result, err := s.service.Estimate(r.Context(), q)
	if err != nil {
		s.respondError(w, r, err, http.StatusInternalServerError)
		return
	}

	policy := s.service.Policy()
	resp := EstimateResponse{
		Year:        q.Year,
		Make:        q.Make,
		Model:       q.Model,
		Estimate:    result.Estimate,
		Comparables: result.Comparables,
		Count:       len(result.Comparables),
		Policy:      PolicyResponse{Filter: policy.Filter, Estimator: policy.Estimator, Ranking: policy.Ranking},
	}
	if q.Mileage.Valid {
		resp.Mileage = &q.Mileage.Int32
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleHealth reports whether the database is reachable.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	if err := s.service.Ping(ctx); err != nil {
		s.respondError(w, r.WithContext(ctx), err, http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"active_imports": len(s.service.ActiveImports()),
	})
}

func vehicleLabel(q core.EstimateQuery) string {
	label := strconv.Itoa(q.Year) + " " + q.Make + " " + q.Model
	if q.Mileage.Valid {
		label += ", " + templates.Miles(int(q.Mileage.Int32))
	}
	return label
}

// splitStatuses flattens "a,b" and repeated values into one list.
func splitStatuses(values []string) []string {
	var statuses []string
	for _, v := range values {
		for part := range strings.SplitSeq(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				statuses = append(statuses, part)
			}
		}
	}
	return statuses
}
