// Package approval prices charge entries added to journeys and loads and
// routes them through the multi-level approval workflow of their charge.
package approval

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pitabwire/chargecfg/internal/catalog"
	"github.com/pitabwire/chargecfg/internal/events"
	"github.com/pitabwire/chargecfg/internal/observability"
	"github.com/pitabwire/chargecfg/internal/pricing"
	"github.com/pitabwire/chargecfg/internal/rules"
	"github.com/pitabwire/chargecfg/model"
)

// Audit trail event names.
const (
	EventSubmitted     = "submitted"
	EventLevelApproved = "level_approved"
	EventApproved      = "approved"
	EventRejected      = "rejected"
	EventNotApplicable = "not_applicable"
)

// Quote outcomes recorded in metrics.
const (
	quoteOK            = "ok"
	quoteNotMatched    = "not_matched"
	quoteNotApplicable = "not_applicable"
	quoteError         = "error"
)

// QuoteRequest describes the shipment a charge is priced for.
type QuoteRequest struct {
	// Date is the shipment date; zero means today.
	Date       model.Date                 `json:"date"`
	Dimensions map[model.Dimension]string `json:"dimensions"`
	Variables  map[string]float64         `json:"variables"`
	MGTTonnage float64                    `json:"mgt_tonnage"`
}

// QuoteResult is the matched rule and its price.
type QuoteResult struct {
	ChargeCode string           `json:"charge_code"`
	Rule       model.RuleConfig `json:"rule"`
	Quote      pricing.Quote    `json:"quote"`
}

// SubmitRequest adds a charge to a journey or load.
type SubmitRequest struct {
	QuoteRequest
	// Reference identifies the journey or load.
	Reference   string   `json:"reference"`
	Provisional bool     `json:"provisional"`
	Remarks     string   `json:"remarks"`
	Attachments []string `json:"attachments"`
	// BaseFreightOverridePct is the base freight override of the journey,
	// when one was made.
	BaseFreightOverridePct *float64 `json:"base_freight_override_pct,omitempty"`
}

// EntryView is an entry with its audit trail.
type EntryView struct {
	Entry  model.ChargeEntry  `json:"entry"`
	Events []model.EntryEvent `json:"events"`
}

// Engine prices and approves charge entries.
type Engine struct {
	registry  *catalog.Registry
	store     Store
	calc      *pricing.Calculator
	order     rules.PriorityOrder
	publisher events.Publisher
	metrics   *observability.Metrics
	logger    *zap.Logger
	now       func() time.Time
}

// NewEngine creates an approval engine. metrics may be nil.
func NewEngine(
	registry *catalog.Registry,
	store Store,
	calc *pricing.Calculator,
	order rules.PriorityOrder,
	publisher events.Publisher,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *Engine {
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		registry:  registry,
		store:     store,
		calc:      calc,
		order:     order,
		publisher: publisher,
		metrics:   metrics,
		logger:    logger,
		now:       time.Now,
	}
}

// Quote selects the rule of a charge that applies to the shipment and
// prices it.
func (e *Engine) Quote(ctx context.Context, chargeCode string, req QuoteRequest) (QuoteResult, error) {
	ch, ok := e.registry.Get(chargeCode)
	if !ok {
		return QuoteResult{}, model.NewChargeNotFoundError(chargeCode)
	}
	return e.quote(ctx, ch, req)
}

func (e *Engine) quote(ctx context.Context, ch model.ChargeConfig, req QuoteRequest) (res QuoteResult, err error) {
	ctx, span := observability.StartSpan(ctx, "approval.quote", observability.AttrChargeCode.String(ch.Code))
	defer func() { observability.EndSpanWithError(span, err) }()

	start := e.now()
	outcome := quoteOK
	defer func() { e.metrics.RecordQuote(ch.Code, outcome, e.now().Sub(start)) }()

	date := req.Date
	if date.IsZero() {
		date = model.DateOf(e.now())
	}
	rule, found := rules.Match(ch.Rules, rules.ShipmentContext{Date: date, Dimensions: req.Dimensions}, e.order)
	if !found {
		outcome = quoteNotMatched
		return QuoteResult{}, model.NewRuleNotMatchedError(ch.Code)
	}
	span.SetAttributes(observability.AttrRuleID.String(rule.ID))

	q, err := e.calc.Compute(rule, pricing.Inputs{Variables: req.Variables, MGTTonnage: req.MGTTonnage})
	if err != nil {
		outcome = quoteError
		observability.RequestLogger(ctx, e.logger).Warn("pricing failed",
			zap.String("charge_code", ch.Code),
			zap.String("rule_id", rule.ID),
			zap.Error(err),
		)
		return QuoteResult{}, model.NewPricingUnavailableError(err.Error())
	}
	if !q.Applicable {
		outcome = quoteNotApplicable
	}
	return QuoteResult{ChargeCode: ch.Code, Rule: rule, Quote: q}, nil
}

// Submit adds a charge entry. The entry is priced with the matching rule and,
// when approval applies, waits for the levels its routing requires.
func (e *Engine) Submit(ctx context.Context, rctx *model.RequestContext, chargeCode string, req SubmitRequest) (model.ChargeEntry, error) {
	// 1. Look up the charge.
	ch, ok := e.registry.Get(chargeCode)
	if !ok {
		return model.ChargeEntry{}, model.NewChargeNotFoundError(chargeCode)
	}
	if ch.Status != model.ChargeStatusActive {
		return model.ChargeEntry{}, model.NewInvalidTransitionError(
			fmt.Sprintf("charge %q is %s; entries can only be added to active charges", ch.Code, ch.Status),
		)
	}

	// 2. Check who may add the charge.
	if !ch.CanAdd(rctx.Roles) {
		return model.ChargeEntry{}, model.NewForbiddenError(
			fmt.Sprintf("none of your roles may add charge %q", ch.Code),
		)
	}

	// 3. Price.
	res, err := e.quote(ctx, ch, req.QuoteRequest)
	if err != nil {
		return model.ChargeEntry{}, err
	}

	// 4. Governance of the matched rule.
	if details := governanceErrors(ch.GovernanceFor(res.Rule), req); len(details) > 0 {
		e.metrics.RecordValidationFailures("entry", len(details))
		return model.ChargeEntry{}, model.NewValidationError(details)
	}

	// 5. Build the entry.
	now := e.now().UTC()
	entry := model.ChargeEntry{
		ID:          uuid.New().String(),
		ChargeCode:  ch.Code,
		RuleID:      res.Rule.ID,
		Reference:   strings.TrimSpace(req.Reference),
		SubjectID:   rctx.SubjectID,
		Amount:      res.Quote.Amount.StringFixed(2),
		Quantity:    res.Quote.Quantity.String(),
		Provisional: req.Provisional,
		Remarks:     strings.TrimSpace(req.Remarks),
		Attachments: req.Attachments,
		Variables:   req.Variables,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	// 6. Route.
	event := EventSubmitted
	workflow := ch.WorkflowFor(res.Rule)
	switch {
	case !res.Quote.Applicable:
		entry.Status = model.EntryStatusNotApplicable
		entry.Reason = res.Quote.Reason
		event = EventNotApplicable
	case !ch.ApprovalRequired(res.Rule):
		entry.Status = model.EntryStatusApproved
	case workflow == nil || len(workflow.Levels) == 0:
		return model.ChargeEntry{}, model.NewInvalidTransitionError(
			fmt.Sprintf("rule %q of charge %q requires approval but no approval levels are defined", res.Rule.ID, ch.Code),
		)
	default:
		values := map[string]float64{
			model.FieldComputedChargeAmount: res.Quote.Amount.InexactFloat64(),
		}
		if req.BaseFreightOverridePct != nil {
			values[model.FieldBaseFreightOverridePct] = *req.BaseFreightOverridePct
		}
		entry.RequiredLevels = RouteLevels(*workflow, values)
		entry.Status = model.EntryStatusPendingApproval
	}

	// 7. Persist.
	if err := e.store.Create(ctx, entry); err != nil {
		return model.ChargeEntry{}, err
	}
	if err := e.appendEvent(ctx, entry.ID, event, "", rctx.SubjectID, entry.Reason); err != nil {
		return model.ChargeEntry{}, err
	}

	// 8. Announce.
	e.metrics.RecordEntrySubmitted(ch.Code, entry.Status)
	e.emit(ctx, events.New(events.TypeEntrySubmitted, ch.Code, rctx.SubjectID, entry))
	observability.RequestLogger(ctx, e.logger).Info("charge entry submitted",
		zap.String("entry_id", entry.ID),
		zap.String("charge_code", ch.Code),
		zap.String("rule_id", entry.RuleID),
		zap.String("amount", entry.Amount),
		zap.String("status", entry.Status),
		zap.Strings("required_levels", entry.RequiredLevels),
	)
	return entry, nil
}

// RouteLevels returns the levels an entry with the given values must pass,
// in the order the workflow defines them. When no routing rule is satisfied
// the lowest level is required.
func RouteLevels(w model.ApprovalWorkflow, values map[string]float64) []string {
	required := rules.RequiredLevels(w.Routing, values)
	var out []string
	for _, l := range w.Levels {
		if slices.Contains(required, l.Level) {
			out = append(out, l.Level)
		}
	}
	if len(out) == 0 && len(w.Levels) > 0 {
		out = []string{w.Levels[0].Level}
	}
	return out
}

func governanceErrors(g model.Governance, req SubmitRequest) []model.FieldError {
	var details []model.FieldError
	if g.RemarksMandatory && strings.TrimSpace(req.Remarks) == "" {
		details = append(details, model.FieldError{Field: "remarks", Code: "REQUIRED", Message: "Remarks are mandatory for this charge"})
	}
	if g.AttachmentsMandatory && len(req.Attachments) == 0 {
		details = append(details, model.FieldError{Field: "attachments", Code: "REQUIRED", Message: "An attachment is mandatory for this charge"})
	}
	if req.Provisional && !g.ProvisionalAllowed {
		details = append(details, model.FieldError{Field: "provisional", Code: "INVALID_VALUE", Message: "Provisional entries are not allowed for this charge"})
	}
	return details
}

// Approve records the approval of level by the actor. Levels are approved in
// the order they are required; the entry is approved once the last one is.
func (e *Engine) Approve(ctx context.Context, rctx *model.RequestContext, entryID, level, comment string) (model.ChargeEntry, error) {
	entry, ch, lvl, err := e.pendingLevel(ctx, rctx, entryID)
	if err != nil {
		return model.ChargeEntry{}, err
	}
	if level != lvl.Level {
		if !slices.Contains(entry.RequiredLevels, level) {
			return model.ChargeEntry{}, model.NewInvalidTransitionError(
				fmt.Sprintf("level %q is not required for charge entry %q", level, entryID),
			)
		}
		return model.ChargeEntry{}, model.NewInvalidTransitionError(
			fmt.Sprintf("level %q must be approved before %q", lvl.Level, level),
		)
	}

	entry.ApprovedLevels = append(slices.Clone(entry.ApprovedLevels), level)
	_, stillPending := entry.PendingLevel()
	if !stillPending {
		entry.Status = model.EntryStatusApproved
	}

	updated, err := e.store.Update(ctx, entry)
	if err != nil {
		return model.ChargeEntry{}, err
	}
	if err := e.appendEvent(ctx, entryID, EventLevelApproved, level, rctx.SubjectID, comment); err != nil {
		return model.ChargeEntry{}, err
	}
	e.metrics.RecordApprovalDecision(level, EventApproved)

	if !stillPending {
		if err := e.appendEvent(ctx, entryID, EventApproved, "", rctx.SubjectID, ""); err != nil {
			return model.ChargeEntry{}, err
		}
		e.emit(ctx, events.New(events.TypeEntryApproved, ch.Code, rctx.SubjectID, updated))
	}

	observability.RequestLogger(ctx, e.logger).Info("charge entry level approved",
		zap.String("entry_id", entryID),
		zap.String("level", level),
		zap.String("status", updated.Status),
	)
	return updated, nil
}

// Reject rejects an entry at its pending level.
func (e *Engine) Reject(ctx context.Context, rctx *model.RequestContext, entryID, reason string) (model.ChargeEntry, error) {
	entry, ch, lvl, err := e.pendingLevel(ctx, rctx, entryID)
	if err != nil {
		return model.ChargeEntry{}, err
	}
	if strings.TrimSpace(reason) == "" {
		return model.ChargeEntry{}, model.NewValidationError([]model.FieldError{{
			Field: "reason", Code: "REQUIRED", Message: "A rejection reason is required",
		}})
	}

	entry.Status = model.EntryStatusRejected
	entry.Reason = strings.TrimSpace(reason)
	updated, err := e.store.Update(ctx, entry)
	if err != nil {
		return model.ChargeEntry{}, err
	}
	if err := e.appendEvent(ctx, entryID, EventRejected, lvl.Level, rctx.SubjectID, entry.Reason); err != nil {
		return model.ChargeEntry{}, err
	}

	e.metrics.RecordApprovalDecision(lvl.Level, EventRejected)
	e.emit(ctx, events.New(events.TypeEntryRejected, ch.Code, rctx.SubjectID, updated))
	observability.RequestLogger(ctx, e.logger).Info("charge entry rejected",
		zap.String("entry_id", entryID),
		zap.String("level", lvl.Level),
	)
	return updated, nil
}

// pendingLevel loads an entry awaiting approval and checks that the actor
// holds a role of the level it waits on.
func (e *Engine) pendingLevel(ctx context.Context, rctx *model.RequestContext, entryID string) (model.ChargeEntry, model.ChargeConfig, model.ApprovalLevel, error) {
	// 1. Load entry.
	entry, err := e.store.Get(ctx, entryID)
	if err != nil {
		return model.ChargeEntry{}, model.ChargeConfig{}, model.ApprovalLevel{}, err
	}

	// 2. Verify status.
	if entry.Status != model.EntryStatusPendingApproval {
		return model.ChargeEntry{}, model.ChargeConfig{}, model.ApprovalLevel{}, model.NewInvalidTransitionError(
			fmt.Sprintf("charge entry %q is %s, not pending approval", entryID, entry.Status),
		)
	}
	pending, ok := entry.PendingLevel()
	if !ok {
		return model.ChargeEntry{}, model.ChargeConfig{}, model.ApprovalLevel{}, model.NewInvalidTransitionError(
			fmt.Sprintf("charge entry %q has no level awaiting approval", entryID),
		)
	}

	// 3. Look up the level definition in the workflow of the entry's rule.
	ch, ok := e.registry.Get(entry.ChargeCode)
	if !ok {
		return model.ChargeEntry{}, model.ChargeConfig{}, model.ApprovalLevel{}, model.NewChargeNotFoundError(entry.ChargeCode)
	}
	rule, _ := ch.Rule(entry.RuleID)
	workflow := ch.WorkflowFor(rule)
	var lvl model.ApprovalLevel
	if workflow != nil {
		lvl, ok = workflow.Level(pending)
	}
	if !ok || workflow == nil {
		return model.ChargeEntry{}, model.ChargeConfig{}, model.ApprovalLevel{}, model.NewInvalidTransitionError(
			fmt.Sprintf("approval level %q is no longer defined for charge %q", pending, ch.Code),
		)
	}

	// 4. Check the actor's role.
	if !rctx.HasAnyRole(lvl.Roles) {
		return model.ChargeEntry{}, model.ChargeConfig{}, model.ApprovalLevel{}, model.NewForbiddenError(
			fmt.Sprintf("level %s can only be decided by: %s", lvl.Level, strings.Join(lvl.Roles, ", ")),
		)
	}
	return entry, ch, lvl, nil
}

// Get returns an entry with its audit trail.
func (e *Engine) Get(ctx context.Context, entryID string) (EntryView, error) {
	entry, err := e.store.Get(ctx, entryID)
	if err != nil {
		return EntryView{}, err
	}
	evs, err := e.store.GetEvents(ctx, entryID)
	if err != nil {
		return EntryView{}, err
	}
	return EntryView{Entry: entry, Events: evs}, nil
}

// Pending lists the entries awaiting approval, optionally for one charge.
func (e *Engine) Pending(ctx context.Context, chargeCode string) ([]model.ChargeEntry, error) {
	return e.store.FindPending(ctx, chargeCode)
}

func (e *Engine) appendEvent(ctx context.Context, entryID, event, level, actorID, comment string) error {
	return e.store.AppendEvent(ctx, model.EntryEvent{
		ID:        uuid.New().String(),
		EntryID:   entryID,
		Event:     event,
		Level:     level,
		ActorID:   actorID,
		Comment:   comment,
		Timestamp: e.now().UTC(),
	})
}

// emit publishes an event; delivery failures are logged.
func (e *Engine) emit(ctx context.Context, ev events.Event) {
	if err := e.publisher.Publish(ctx, ev); err != nil {
		observability.RequestLogger(ctx, e.logger).Error("publish domain event",
			zap.String("event_type", ev.Type),
			zap.String("charge_code", ev.ChargeCode),
			zap.Error(err),
		)
	}
}
