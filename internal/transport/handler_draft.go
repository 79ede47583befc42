package transport

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pitabwire/chargecfg/internal/draft"
	"github.com/pitabwire/chargecfg/internal/idempotency"
	"github.com/pitabwire/chargecfg/internal/observability"
	"github.com/pitabwire/chargecfg/model"
)

func handleCreateDraft(svc *draft.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}

		d, err := svc.NewDraft(r.Context(), rctx, chi.URLParam(r, "code"))
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusCreated, d)
	}
}

func handleListDrafts(svc *draft.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		drafts, err := svc.List(r.Context(), chi.URLParam(r, "code"))
		if err != nil {
			WriteError(w, err)
			return
		}
		if drafts == nil {
			drafts = []model.RuleDraft{}
		}
		WriteJSON(w, http.StatusOK, map[string]any{
			"data":        drafts,
			"total_count": len(drafts),
		})
	}
}

func handleGetDraft(svc *draft.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		d, err := svc.Get(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, d)
	}
}

// handleUpdateDraft stores wizard edits. With save set, the draft is also
// parked as a Draft rule-in-progress.
func handleUpdateDraft(svc *draft.Service, save bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var d model.RuleDraft
		if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
			WriteError(w, model.NewBadRequestError("invalid JSON body"))
			return
		}
		d.ID = chi.URLParam(r, "id")

		update := svc.Update
		if save {
			update = svc.SaveDraft
		}
		updated, err := update(r.Context(), d)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, updated)
	}
}

func handleDeleteDraft(svc *draft.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := svc.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
			WriteError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleAppendSlab(svc *draft.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Version int `json:"version"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			WriteError(w, model.NewBadRequestError("invalid JSON body"))
			return
		}

		d, err := svc.AppendSlab(r.Context(), chi.URLParam(r, "id"), body.Version)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, d)
	}
}

func handleReviewDraft(svc *draft.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		review, err := svc.Review(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, review)
	}
}

func handlePublishDraft(svc *draft.Service, guard *idempotency.Guard, metrics *observability.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}
		id := chi.URLParam(r, "id")

		var body struct {
			Status model.RuleStatus `json:"status"`
		}
		if err := decodeOptional(r, &body); err != nil {
			WriteError(w, err)
			return
		}

		input := map[string]any{"draft_id": id, "status": body.Status}
		rec, replayed, err := guard.Do(r.Context(), idempotency.OpPublish, idempotencyKey(r), input,
			func() (idempotency.Record, error) {
				rule, err := svc.Publish(r.Context(), rctx, id, body.Status)
				if err != nil {
					return idempotency.Record{}, err
				}
				return jsonRecord(http.StatusCreated, rule)
			})
		if err != nil {
			WriteError(w, err)
			return
		}
		writeRecord(w, rec, replayed, idempotency.OpPublish, metrics)
	}
}

// decodeOptional decodes a JSON body into v. An empty body leaves v as is.
func decodeOptional(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return model.NewBadRequestError("invalid JSON body")
	}
	return nil
}

// idempotencyKey returns the client supplied idempotency key.
func idempotencyKey(r *http.Request) string {
	return r.Header.Get("X-Idempotency-Key")
}

func jsonRecord(status int, body any) (idempotency.Record, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return idempotency.Record{}, err
	}
	return idempotency.Record{Status: status, Body: data}, nil
}

// writeRecord writes the response of an idempotent operation, marking
// replays.
func writeRecord(w http.ResponseWriter, rec idempotency.Record, replayed bool, operation string, metrics *observability.Metrics) {
	if replayed {
		w.Header().Set("Idempotent-Replayed", "true")
		metrics.RecordIdempotencyHit(operation)
	}
	WriteRawJSON(w, rec.Status, rec.Body)
}
