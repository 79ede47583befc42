package bulkupload

import (
	"context"

	"go.uber.org/zap"

	"github.com/pitabwire/chargecfg/internal/catalog"
	"github.com/pitabwire/chargecfg/internal/events"
	"github.com/pitabwire/chargecfg/internal/observability"
	"github.com/pitabwire/chargecfg/model"
)

// Report is the validation report of an upload.
type Report struct {
	ChargeCode string   `json:"charge_code"`
	Results    []Result `json:"results"`
	Valid      int      `json:"valid"`
	Errors     int      `json:"errors"`
	Warnings   int      `json:"warnings"`
}

func newReport(code string, results []Result) Report {
	r := Report{ChargeCode: code, Results: results}
	for _, res := range results {
		switch res.Status {
		case StatusSuccess:
			r.Valid++
		case StatusWarning:
			r.Warnings++
		case StatusError:
			r.Errors++
		}
	}
	return r
}

// ApplyResult lists the rules created by an upload and the rows left out.
type ApplyResult struct {
	Applied []model.RuleConfig `json:"applied"`
	Skipped int                `json:"skipped"`
	Results []Result           `json:"results"`
}

// Service serves template downloads, upload validation and rule import.
type Service struct {
	registry  *catalog.Registry
	checker   *catalog.Validator
	publisher events.Publisher
	metrics   *observability.Metrics
	logger    *zap.Logger
	limits    Limits
}

// NewService creates a bulk upload service. metrics may be nil.
func NewService(
	registry *catalog.Registry,
	checker *catalog.Validator,
	publisher events.Publisher,
	metrics *observability.Metrics,
	logger *zap.Logger,
	limits Limits,
) *Service {
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		registry:  registry,
		checker:   checker,
		publisher: publisher,
		metrics:   metrics,
		logger:    logger,
		limits:    limits,
	}
}

// Limits returns the upload limits the service enforces.
func (s *Service) Limits() Limits { return s.limits }

// Template returns the upload workbook for a charge.
func (s *Service) Template(code string) ([]byte, error) {
	ch, ok := s.registry.Get(code)
	if !ok {
		return nil, model.NewChargeNotFoundError(code)
	}
	return Template(ch, s.registry.Reference())
}

// Validate parses an upload and validates every row without changing the
// catalogue.
func (s *Service) Validate(ctx context.Context, code string, u Upload) (report Report, err error) {
	ctx, span := observability.StartSpan(ctx, "bulkupload.validate", observability.AttrChargeCode.String(code))
	defer func() { observability.EndSpanWithError(span, err) }()

	_, results, err := s.check(code, u)
	if err != nil {
		return Report{}, err
	}
	span.SetAttributes(observability.AttrRowCount.Int(len(results)))
	report = newReport(code, results)
	observability.RequestLogger(ctx, s.logger).Info("bulk upload validated",
		zap.String("charge_code", code),
		zap.String("filename", u.Filename),
		zap.Int("valid", report.Valid),
		zap.Int("warnings", report.Warnings),
		zap.Int("errors", report.Errors),
	)
	return report, nil
}

// ErrorSheet validates an upload and returns a workbook holding its failed
// rows.
func (s *Service) ErrorSheet(ctx context.Context, code string, u Upload) ([]byte, error) {
	rows, results, err := s.check(code, u)
	if err != nil {
		return nil, err
	}
	return ErrorSheet(rows, results)
}

// Apply validates an upload and adds the Success and Warning rows to the
// charge as Active rules. Error rows are skipped.
func (s *Service) Apply(ctx context.Context, rctx *model.RequestContext, code string, u Upload) (result ApplyResult, err error) {
	ctx, span := observability.StartSpan(ctx, "bulkupload.apply", observability.AttrChargeCode.String(code))
	defer func() { observability.EndSpanWithError(span, err) }()

	// 1. Parse and validate.
	_, results, err := s.check(code, u)
	if err != nil {
		return ApplyResult{}, err
	}
	span.SetAttributes(observability.AttrRowCount.Int(len(results)))

	// 2. Collect the applicable rows.
	var pending []model.RuleConfig
	for _, res := range results {
		if res.Applicable() {
			pending = append(pending, *res.Rule)
		}
	}
	result = ApplyResult{Results: results, Skipped: len(results) - len(pending)}

	// 3. Store.
	if len(pending) > 0 {
		added, err := s.registry.AddRules(code, pending...)
		if err != nil {
			return ApplyResult{}, err
		}
		result.Applied = added
	}

	// 4. Record and announce.
	report := newReport(code, results)
	s.metrics.RecordBulkUploadRows(string(StatusSuccess), report.Valid)
	s.metrics.RecordBulkUploadRows(string(StatusWarning), report.Warnings)
	s.metrics.RecordBulkUploadRows(string(StatusError), report.Errors)
	if len(result.Applied) > 0 {
		s.emit(ctx, events.New(events.TypeRulesImported, code, rctx.SubjectID, result.Applied))
	}
	observability.RequestLogger(ctx, s.logger).Info("bulk upload applied",
		zap.String("charge_code", code),
		zap.String("filename", u.Filename),
		zap.Int("applied", len(result.Applied)),
		zap.Int("skipped", result.Skipped),
	)
	return result, nil
}

func (s *Service) check(code string, u Upload) ([]Row, []Result, error) {
	ch, ok := s.registry.Get(code)
	if !ok {
		return nil, nil, model.NewChargeNotFoundError(code)
	}
	rows, err := Parse(u, s.limits)
	if err != nil {
		return nil, nil, err
	}
	return rows, Validate(s.checker, ch, s.registry.Reference(), rows), nil
}

func (s *Service) emit(ctx context.Context, e events.Event) {
	if err := s.publisher.Publish(ctx, e); err != nil {
		observability.RequestLogger(ctx, s.logger).Error("publish domain event",
			zap.String("event_type", e.Type),
			zap.String("charge_code", e.ChargeCode),
			zap.Error(err),
		)
	}
}
