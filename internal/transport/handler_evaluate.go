package transport

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pitabwire/chargecfg/internal/approval"
	"github.com/pitabwire/chargecfg/internal/catalog"
	"github.com/pitabwire/chargecfg/internal/rules"
	"github.com/pitabwire/chargecfg/model"
)

// SlabCheck is the continuity report of a slab table.
type SlabCheck struct {
	Valid      bool                  `json:"valid"`
	Violations []rules.SlabViolation `json:"violations"`
}

// RoutingCheck lists the approval levels required for a set of values.
type RoutingCheck struct {
	// Satisfied is the union of the levels of the satisfied routing rules.
	Satisfied []string `json:"satisfied_levels"`
	// Required is what an entry with these values waits for, in workflow
	// order.
	Required []string `json:"required_levels"`
}

func handleEvaluateSlabs() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			RateType model.RateType `json:"rate_type"`
			Slabs    []model.Slab   `json:"slabs"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			WriteError(w, model.NewBadRequestError("invalid JSON body"))
			return
		}
		if !body.RateType.Valid() {
			WriteError(w, model.NewValidationError([]model.FieldError{{
				Field: "rate_type", Code: "INVALID_VALUE", Message: "rate_type must be one of Fixed, Per-unit, Slabbed, Slab+Overflow",
			}}))
			return
		}

		violations := rules.SlabViolations(body.RateType, body.Slabs)
		if violations == nil {
			violations = []rules.SlabViolation{}
		}
		WriteJSON(w, http.StatusOK, SlabCheck{Valid: len(violations) == 0, Violations: violations})
	}
}

// handleEvaluateRouting resolves approval levels against the workflow in
// the body, or against the workflow of the named charge.
func handleEvaluateRouting(registry *catalog.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			ChargeCode string                  `json:"charge_code"`
			Workflow   *model.ApprovalWorkflow `json:"workflow"`
			Values     map[string]float64      `json:"values"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			WriteError(w, model.NewBadRequestError("invalid JSON body"))
			return
		}

		workflow := body.Workflow
		if body.ChargeCode != "" {
			ch, ok := registry.Get(body.ChargeCode)
			if !ok {
				WriteError(w, model.NewChargeNotFoundError(body.ChargeCode))
				return
			}
			workflow = ch.Approval
		}
		if workflow == nil {
			WriteError(w, model.NewBadRequestError("a workflow or a charge with an approval workflow is required"))
			return
		}

		satisfied := rules.RequiredLevels(workflow.Routing, body.Values)
		required := approval.RouteLevels(*workflow, body.Values)
		if required == nil {
			required = []string{}
		}
		WriteJSON(w, http.StatusOK, RoutingCheck{Satisfied: satisfied, Required: required})
	}
}

func handleQuote(engine *approval.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body approval.QuoteRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			WriteError(w, model.NewBadRequestError("invalid JSON body"))
			return
		}

		res, err := engine.Quote(r.Context(), chi.URLParam(r, "code"), body)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, res)
	}
}
