package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/pitabwire/chargecfg/internal/approval"
	"github.com/pitabwire/chargecfg/internal/bulkupload"
	"github.com/pitabwire/chargecfg/internal/catalog"
	"github.com/pitabwire/chargecfg/internal/config"
	"github.com/pitabwire/chargecfg/internal/draft"
	"github.com/pitabwire/chargecfg/internal/idempotency"
	"github.com/pitabwire/chargecfg/internal/observability"
	"github.com/pitabwire/chargecfg/internal/rules"
	"github.com/pitabwire/chargecfg/model"
)

// Dependencies holds all injected dependencies for the HTTP transport layer.
type Dependencies struct {
	Config             *config.Config
	Logger             *zap.Logger
	Metrics            *observability.Metrics
	Authenticate       func(http.Handler) http.Handler
	CapabilityResolver model.CapabilityResolver
	Readiness          observability.ReadinessChecks
	PriorityOrder      rules.PriorityOrder

	Registry    *catalog.Registry
	Drafts      *draft.Service
	Approvals   *approval.Engine
	BulkUpload  *bulkupload.Service
	Idempotency *idempotency.Guard
}

// NewRouter creates a chi.Router with the full middleware pipeline and all
// route registrations. Health, readiness, and metrics endpoints bypass the
// authentication middleware.
func NewRouter(deps Dependencies) chi.Router {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()

	// Global middleware: applied to all routes including health.
	r.Use(Recovery(logger))
	r.Use(CORS(deps.Config.Server.CORS))
	r.Use(RequestID)
	r.Use(SecurityHeaders)

	// Public routes bypass authentication.
	r.Get("/health", observability.HandleHealth())
	r.Get("/ready", observability.HandleReady(deps.Readiness))
	metricsPath := deps.Config.Observability.Metrics.Path
	if metricsPath == "" {
		metricsPath = "/metrics"
	}
	r.Handle(metricsPath, observability.Handler())

	auth := deps.Authenticate
	if auth == nil {
		auth = func(next http.Handler) http.Handler { return next }
	}
	view := RequireCapability(model.CapChargesView)
	author := RequireCapability(model.CapRulesDraft)

	r.Group(func(r chi.Router) {
		r.Use(observability.TracingMiddleware)
		if deps.Metrics != nil {
			r.Use(deps.Metrics.MetricsMiddleware)
		}
		r.Use(auth)
		r.Use(BuildRequestContext(deps.Config.Identity.ClaimPaths))
		r.Use(ResolveCapabilities(deps.CapabilityResolver, logger))
		r.Use(HandlerTimeout(deps.Config.Server.HandlerTimeout))
		r.Use(RequestLogging(logger))

		r.With(view).Get("/reference", handleReference(deps.Registry))

		r.Route(model.ChargesRoute, func(r chi.Router) {
			r.With(view).Get("/", handleListCharges(deps.Registry))
			r.With(RequireCapability(model.CapChargesCreate)).Post("/", handleCreateCharge(deps.Drafts))

			r.Route("/{code}", func(r chi.Router) {
				r.With(view).Get("/", handleGetCharge(deps.Registry, deps.Metrics))
				r.With(view).Get("/rules", handleListRules(deps.Registry, deps.PriorityOrder))
				r.With(view).Get("/rules/drafts", handleListDrafts(deps.Drafts))
				r.With(author).Post("/rules/drafts", handleCreateDraft(deps.Drafts))
				r.With(view).Post("/quote", handleQuote(deps.Approvals))

				r.Route("/bulk", func(r chi.Router) {
					r.Use(RequireCapability(model.CapRulesBulkUpload))
					r.Get("/template", handleBulkTemplate(deps.BulkUpload))
					r.Post("/validate", handleBulkValidate(deps.BulkUpload))
					r.Post("/errors", handleBulkErrors(deps.BulkUpload))
					r.Post("/apply", handleBulkApply(deps.BulkUpload, deps.Idempotency, deps.Metrics))
				})

				r.With(RequireCapability(model.CapEntriesSubmit)).Post("/entries", handleSubmitEntry(deps.Approvals))
				r.With(RequireCapability(model.CapEntriesApprove)).Get("/entries/pending", handlePendingEntries(deps.Approvals))
			})
		})

		r.Route("/drafts/{id}", func(r chi.Router) {
			r.With(view).Get("/", handleGetDraft(deps.Drafts))
			r.With(author).Put("/", handleUpdateDraft(deps.Drafts, false))
			r.With(author).Delete("/", handleDeleteDraft(deps.Drafts))
			r.With(author).Post("/save", handleUpdateDraft(deps.Drafts, true))
			r.With(author).Post("/slabs", handleAppendSlab(deps.Drafts))
			r.With(author).Post("/review", handleReviewDraft(deps.Drafts))
			r.With(RequireCapability(model.CapRulesPublish)).Post("/publish",
				handlePublishDraft(deps.Drafts, deps.Idempotency, deps.Metrics))
		})

		r.Route("/evaluate", func(r chi.Router) {
			r.Use(author)
			r.Post("/slabs", handleEvaluateSlabs())
			r.Post("/routing", handleEvaluateRouting(deps.Registry))
		})

		r.Route("/entries/{id}", func(r chi.Router) {
			r.With(view).Get("/", handleGetEntry(deps.Approvals))
			r.With(RequireCapability(model.CapEntriesApprove)).Post("/approve", handleApproveEntry(deps.Approvals))
			r.With(RequireCapability(model.CapEntriesApprove)).Post("/reject", handleRejectEntry(deps.Approvals))
		})
	})

	return r
}
