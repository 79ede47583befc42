package transport

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/pitabwire/chargecfg/internal/catalog"
	"github.com/pitabwire/chargecfg/internal/draft"
	"github.com/pitabwire/chargecfg/internal/observability"
	"github.com/pitabwire/chargecfg/internal/rules"
	"github.com/pitabwire/chargecfg/model"
)

// ChargeDetail is a charge with the structural findings about its rules.
type ChargeDetail struct {
	Charge      model.ChargeConfig `json:"charge"`
	Diagnostics rules.Diagnostics  `json:"diagnostics"`
	Warnings    []rules.Warning    `json:"warnings"`
}

func handleListCharges(registry *catalog.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		var tags []string
		for _, f := range q["filter"] {
			for _, tag := range strings.Split(f, ",") {
				if tag = strings.TrimSpace(tag); tag != "" {
					tags = append(tags, tag)
				}
			}
		}

		summaries := catalog.Search(registry, catalog.Filter{Query: q.Get("q"), Tags: tags})
		WriteJSON(w, http.StatusOK, map[string]any{
			"data":        summaries,
			"total_count": len(summaries),
		})
	}
}

func handleCreateCharge(svc *draft.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}

		var body model.ChargeDraft
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			WriteError(w, model.NewBadRequestError("invalid JSON body"))
			return
		}

		ch, err := svc.CreateCharge(r.Context(), rctx, body)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusCreated, ch)
	}
}

func handleGetCharge(registry *catalog.Registry, metrics *observability.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code := chi.URLParam(r, "code")
		ch, ok := registry.Get(code)
		if !ok {
			WriteError(w, model.NewChargeNotFoundError(code))
			return
		}

		warnings := rules.StructuralWarnings(ch.Rules)
		for _, warn := range warnings {
			metrics.RecordDiagnosticWarning(warn.Code)
		}
		if warnings == nil {
			warnings = []rules.Warning{}
		}
		WriteJSON(w, http.StatusOK, ChargeDetail{
			Charge:      ch,
			Diagnostics: rules.DiagnoseCharge(ch.Rules),
			Warnings:    warnings,
		})
	}
}

func handleListRules(registry *catalog.Registry, order rules.PriorityOrder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code := chi.URLParam(r, "code")
		rs, ok := registry.Rules(code)
		if !ok {
			WriteError(w, model.NewChargeNotFoundError(code))
			return
		}
		ranked := rules.Rank(rs, order)
		WriteJSON(w, http.StatusOK, map[string]any{
			"data":        ranked,
			"total_count": len(ranked),
		})
	}
}

func handleReference(registry *catalog.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		ref := registry.Reference()
		ref.ComputeOn = model.ComputeOnOptions
		WriteJSON(w, http.StatusOK, ref)
	}
}
