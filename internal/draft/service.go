// Package draft implements the charge creation wizard and the rule authoring
// wizard: drafts are edited step by step, reviewed against the existing rules
// of their charge and finally published into the catalogue.
package draft

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pitabwire/chargecfg/internal/catalog"
	"github.com/pitabwire/chargecfg/internal/events"
	"github.com/pitabwire/chargecfg/internal/observability"
	"github.com/pitabwire/chargecfg/internal/rules"
	"github.com/pitabwire/chargecfg/model"
)

// Publish outcomes recorded in metrics.
const (
	outcomePublished = "published"
	outcomeBlocked   = "blocked"
	outcomeInvalid   = "invalid"
)

// Service runs the charge and rule wizards.
type Service struct {
	registry  *catalog.Registry
	store     Store
	checker   *catalog.Validator
	validate  *validator.Validate
	publisher events.Publisher
	metrics   *observability.Metrics
	logger    *zap.Logger
	now       func() time.Time
}

// NewService creates a wizard service. metrics may be nil.
func NewService(
	registry *catalog.Registry,
	store Store,
	checker *catalog.Validator,
	publisher events.Publisher,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *Service {
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		registry:  registry,
		store:     store,
		checker:   checker,
		validate:  newValidate(),
		publisher: publisher,
		metrics:   metrics,
		logger:    logger,
		now:       time.Now,
	}
}

// --- Charge wizard ---

// CreateCharge validates the wizard input and adds the charge to the
// catalogue as a Draft.
func (s *Service) CreateCharge(ctx context.Context, rctx *model.RequestContext, cd model.ChargeDraft) (model.ChargeConfig, error) {
	// 1. Structural validation of the wizard input.
	if err := s.validate.Struct(cd); err != nil {
		return model.ChargeConfig{}, validationError(err)
	}

	// 2. Resolve the charge type.
	ref := s.registry.Reference()
	ch := model.ChargeConfig{
		Scope:           cd.Scope,
		Granularity:     cd.Granularity,
		Status:          model.ChargeStatusDraft,
		ApprovalEnabled: cd.ApprovalEnabled,
		Governance:      cd.Governance,
		WhoCanAdd:       cd.WhoCanAdd,
		Approval:        cd.Approval,
	}
	switch cd.TypeMode {
	case model.ChargeTypePredefined:
		ct, ok := ref.ChargeType(cd.PredefinedCode)
		if !ok {
			return model.ChargeConfig{}, model.NewValidationError([]model.FieldError{{
				Field:   "predefined_code",
				Code:    "UNKNOWN_CHARGE_TYPE",
				Message: fmt.Sprintf("charge type %q does not exist", cd.PredefinedCode),
			}})
		}
		ch.Code, ch.Name, ch.Category = ct.Code, ct.Name, ct.Category
	case model.ChargeTypeCustom:
		ch.Code = strings.ToUpper(strings.TrimSpace(cd.CustomCode))
		ch.Name = strings.TrimSpace(cd.CustomName)
		ch.Category = strings.TrimSpace(cd.CustomCategory)
	}
	if ch.Scope == model.ScopeBranch {
		ch.BranchID = cd.BranchID
		if b, ok := ref.Branch(cd.BranchID); ok {
			ch.BranchName = b.Name
		}
	}

	// 3. Reference checks shared with catalogue loading.
	if errs := s.checker.ValidateCharge("charge", ch, ref); len(errs) > 0 {
		s.metrics.RecordValidationFailures("charge", len(errs))
		return model.ChargeConfig{}, model.NewValidationError(fieldErrors(errs))
	}

	// 4. Reject duplicate codes and store.
	stored, err := s.registry.Create(ch)
	if err != nil {
		return model.ChargeConfig{}, err
	}

	// 5. Announce.
	s.emit(ctx, events.New(events.TypeChargeCreated, stored.Code, rctx.SubjectID, stored.Summary()))
	observability.RequestLogger(ctx, s.logger).Info("charge created",
		zap.String("charge_code", stored.Code),
		zap.String("scope", string(stored.Scope)),
	)
	return stored, nil
}

// --- Rule wizard ---

// NewDraft starts a rule draft for the charge with the given code.
func (s *Service) NewDraft(ctx context.Context, rctx *model.RequestContext, chargeCode string) (model.RuleDraft, error) {
	if _, ok := s.registry.Get(chargeCode); !ok {
		return model.RuleDraft{}, model.NewChargeNotFoundError(chargeCode)
	}

	now := s.now().UTC()
	d := model.NewRuleDraft(chargeCode)
	d.ID = uuid.New().String()
	d.SubjectID = rctx.SubjectID
	d.Version = 1
	d.CreatedAt = now
	d.UpdatedAt = now

	if err := s.store.Create(ctx, d); err != nil {
		return model.RuleDraft{}, err
	}
	return d, nil
}

// Get returns a draft.
func (s *Service) Get(ctx context.Context, id string) (model.RuleDraft, error) {
	return s.store.Get(ctx, id)
}

// List returns the drafts of a charge.
func (s *Service) List(ctx context.Context, chargeCode string) ([]model.RuleDraft, error) {
	if _, ok := s.registry.Get(chargeCode); !ok {
		return nil, model.NewChargeNotFoundError(chargeCode)
	}
	return s.store.List(ctx, chargeCode)
}

// Update replaces the editable fields of a draft. The draft's identity,
// charge and owner cannot change; the status chosen in the Basics step is
// kept as entered.
func (s *Service) Update(ctx context.Context, d model.RuleDraft) (model.RuleDraft, error) {
	existing, err := s.store.Get(ctx, d.ID)
	if err != nil {
		return model.RuleDraft{}, err
	}

	var details []model.FieldError
	if d.CurrentStep == "" {
		d.CurrentStep = existing.CurrentStep
	} else if !d.CurrentStep.Valid() {
		details = append(details, model.FieldError{Field: "current_step", Code: "INVALID_VALUE",
			Message: fmt.Sprintf("invalid wizard step %q", d.CurrentStep)})
	}
	if d.Status == "" {
		d.Status = model.RuleStatusDraft
	} else if d.Status == model.RuleStatusExpired || !d.Status.Valid() {
		details = append(details, model.FieldError{Field: "status", Code: "INVALID_VALUE",
			Message: fmt.Sprintf("status must be %s or %s", model.RuleStatusActive, model.RuleStatusDraft)})
	}
	if d.RateType != "" && !d.RateType.Valid() {
		details = append(details, model.FieldError{Field: "rate_type", Code: "INVALID_VALUE",
			Message: fmt.Sprintf("invalid rate type %q", d.RateType)})
	}
	if d.ComputeOn != "" && !d.ComputeOn.Valid() {
		details = append(details, model.FieldError{Field: "compute_on", Code: "INVALID_VALUE",
			Message: fmt.Sprintf("invalid compute on %q", d.ComputeOn)})
	}
	if len(details) > 0 {
		return model.RuleDraft{}, model.NewValidationError(details)
	}

	d.ChargeCode = existing.ChargeCode
	d.SubjectID = existing.SubjectID
	d.CreatedAt = existing.CreatedAt
	return s.store.Update(ctx, d)
}

// SaveDraft stores the wizard state with status Draft, whatever the Basics
// step selected.
func (s *Service) SaveDraft(ctx context.Context, d model.RuleDraft) (model.RuleDraft, error) {
	d.Status = model.RuleStatusDraft
	return s.Update(ctx, d)
}

// Delete discards a draft.
func (s *Service) Delete(ctx context.Context, id string) error {
	return s.store.Delete(ctx, id)
}

// AppendSlab adds a slab row starting where the last row ends.
func (s *Service) AppendSlab(ctx context.Context, id string, version int) (model.RuleDraft, error) {
	d, err := s.store.Get(ctx, id)
	if err != nil {
		return model.RuleDraft{}, err
	}
	d.Version = version
	d.Pricing.Slabs = model.AppendSlab(d.Pricing.Slabs)
	return s.store.Update(ctx, d)
}

// Review is everything the Review step shows before publishing.
type Review struct {
	Draft         model.RuleDraft    `json:"draft"`
	Summary       Summary            `json:"summary"`
	PublishErrors []string           `json:"publish_errors"`
	Issues        []model.FieldError `json:"issues,omitempty"`
	Warnings      []rules.Warning    `json:"warnings"`
	Diagnostics   rules.Diagnostics  `json:"diagnostics"`
	Publishable   bool               `json:"publishable"`
}

// Review summarises a draft, lists what blocks its publication and reports
// the structural warnings the rule set would have once it is added. Nothing
// is stored.
func (s *Service) Review(ctx context.Context, id string) (Review, error) {
	d, err := s.store.Get(ctx, id)
	if err != nil {
		return Review{}, err
	}
	ch, ok := s.registry.Get(d.ChargeCode)
	if !ok {
		return Review{}, model.NewChargeNotFoundError(d.ChargeCode)
	}

	rv := Review{
		Draft:         d,
		Summary:       Summarize(d),
		PublishErrors: rules.ValidateForPublish(d),
	}
	if rv.PublishErrors == nil {
		rv.PublishErrors = []string{}
	}

	priority, perr := model.ParsePriority(d.Priority)
	if perr != nil {
		rv.Issues = append(rv.Issues, model.FieldError{Field: "priority", Code: "INVALID_VALUE", Message: perr.Error()})
	}
	candidate := d.Rule(priority)
	candidate.ID = pendingRuleID
	rv.Issues = append(rv.Issues, s.ruleIssues(ch, candidate)...)

	set := append(ch.Rules[:len(ch.Rules):len(ch.Rules)], candidate)
	rv.Warnings = rules.StructuralWarnings(set)
	if rv.Warnings == nil {
		rv.Warnings = []rules.Warning{}
	}
	for _, w := range rv.Warnings {
		s.metrics.RecordDiagnosticWarning(w.Code)
	}
	rv.Diagnostics = rules.DiagnoseCharge(set)
	rv.Publishable = len(rv.PublishErrors) == 0 && len(rv.Issues) == 0
	return rv, nil
}

// pendingRuleID stands in for the ID a rule receives when it is published.
const pendingRuleID = "(new)"

// ruleIssues runs the catalogue rule checks that publish validation does not
// cover: dimension values, pricing values and the rule's approval workflow,
// which falls back to the charge's.
func (s *Service) ruleIssues(ch model.ChargeConfig, r model.RuleConfig) []model.FieldError {
	errs := catalog.ValidateRuleApproval("rule", ch, r)
	if s.checker != nil {
		errs = append(errs, s.checker.ValidateRule("rule", r, s.registry.Reference())...)
	}
	var out []model.FieldError
	for _, ve := range errs {
		if ve.Code == model.ErrPublishBlocked {
			continue
		}
		out = append(out, model.FieldError{Field: strings.TrimPrefix(strings.TrimPrefix(ve.Path, "rule"), "."), Code: ve.Code, Message: ve.Message})
	}
	return out
}

// Publish validates a draft and adds it to its charge with the given status
// (Active when empty). The draft is removed once the rule is stored.
func (s *Service) Publish(ctx context.Context, rctx *model.RequestContext, id string, status model.RuleStatus) (rule model.RuleConfig, err error) {
	ctx, span := observability.StartSpan(ctx, "draft.publish", observability.AttrDraftID.String(id))
	defer func() { observability.EndSpanWithError(span, err) }()

	// 1. Load the draft.
	d, err := s.store.Get(ctx, id)
	if err != nil {
		return model.RuleConfig{}, err
	}
	span.SetAttributes(observability.AttrChargeCode.String(d.ChargeCode))

	// 2. Publish validation.
	if msgs := rules.ValidateForPublish(d); len(msgs) > 0 {
		s.metrics.RecordPublish(d.ChargeCode, outcomeBlocked, len(msgs))
		observability.RequestLogger(ctx, s.logger).Warn("rule publish blocked",
			zap.String("draft_id", id),
			zap.Strings("messages", msgs),
		)
		return model.RuleConfig{}, model.NewPublishBlockedError(msgs)
	}

	// 3. Priority and requested status.
	priority, err := model.ParsePriority(d.Priority)
	if err != nil {
		s.metrics.RecordPublish(d.ChargeCode, outcomeInvalid, 1)
		return model.RuleConfig{}, model.NewValidationError([]model.FieldError{{
			Field: "priority", Code: "INVALID_VALUE", Message: err.Error(),
		}})
	}
	if status == "" {
		status = model.RuleStatusActive
	}
	if status != model.RuleStatusActive && status != model.RuleStatusDraft {
		return model.RuleConfig{}, model.NewBadRequestError(
			fmt.Sprintf("status must be %s or %s", model.RuleStatusActive, model.RuleStatusDraft))
	}
	rule = d.Rule(priority)
	rule.Status = status

	// 4. Dimension, pricing and approval checks.
	ch, ok := s.registry.Get(d.ChargeCode)
	if !ok {
		return model.RuleConfig{}, model.NewChargeNotFoundError(d.ChargeCode)
	}
	candidate := rule
	candidate.ID = pendingRuleID
	if issues := s.ruleIssues(ch, candidate); len(issues) > 0 {
		s.metrics.RecordPublish(d.ChargeCode, outcomeInvalid, len(issues))
		return model.RuleConfig{}, model.NewValidationError(issues)
	}

	// 5. Store the rule and drop the draft.
	added, err := s.registry.AddRules(d.ChargeCode, rule)
	if err != nil {
		return model.RuleConfig{}, err
	}
	rule = added[0]
	if err := s.store.Delete(ctx, id); err != nil {
		var envErr *model.ErrorEnvelope
		if !errors.As(err, &envErr) || envErr.Code != model.ErrNotFound {
			return model.RuleConfig{}, fmt.Errorf("remove published draft %s: %w", id, err)
		}
	}

	// 6. Announce.
	s.metrics.RecordPublish(d.ChargeCode, outcomePublished, 0)
	s.emit(ctx, events.New(events.TypeRulePublished, rule.ChargeCode, rctx.SubjectID, rule))
	observability.RequestLogger(ctx, s.logger).Info("rule published",
		zap.String("charge_code", rule.ChargeCode),
		zap.String("rule_id", rule.ID),
		zap.Int("priority", rule.Priority),
		zap.String("status", string(rule.Status)),
	)
	return rule, nil
}

// emit publishes an event. Delivery failures are logged, never returned:
// the catalogue change has already happened.
func (s *Service) emit(ctx context.Context, e events.Event) {
	if err := s.publisher.Publish(ctx, e); err != nil {
		observability.RequestLogger(ctx, s.logger).Error("publish domain event",
			zap.String("event_type", e.Type),
			zap.String("charge_code", e.ChargeCode),
			zap.Error(err),
		)
	}
}
