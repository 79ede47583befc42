package transport

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pitabwire/chargecfg/internal/bulkupload"
	"github.com/pitabwire/chargecfg/internal/idempotency"
	"github.com/pitabwire/chargecfg/internal/observability"
	"github.com/pitabwire/chargecfg/model"
)

// uploadField is the multipart form field holding the uploaded file.
const uploadField = "file"

// multipartOverhead allows for the multipart framing around the file.
const multipartOverhead = 64 << 10

func handleBulkTemplate(svc *bulkupload.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code := chi.URLParam(r, "code")
		data, err := svc.Template(code)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteXLSX(w, code+"_rules_template.xlsx", data)
	}
}

func handleBulkValidate(svc *bulkupload.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u, err := readUpload(w, r, svc.Limits())
		if err != nil {
			WriteError(w, err)
			return
		}

		report, err := svc.Validate(r.Context(), chi.URLParam(r, "code"), u)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, report)
	}
}

func handleBulkErrors(svc *bulkupload.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code := chi.URLParam(r, "code")
		u, err := readUpload(w, r, svc.Limits())
		if err != nil {
			WriteError(w, err)
			return
		}

		data, err := svc.ErrorSheet(r.Context(), code, u)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteXLSX(w, code+"_rules_errors.xlsx", data)
	}
}

func handleBulkApply(svc *bulkupload.Service, guard *idempotency.Guard, metrics *observability.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}
		code := chi.URLParam(r, "code")
		u, err := readUpload(w, r, svc.Limits())
		if err != nil {
			WriteError(w, err)
			return
		}

		sum := sha256.Sum256(u.Data)
		input := map[string]string{
			"charge_code": code,
			"filename":    u.Filename,
			"sha256":      hex.EncodeToString(sum[:]),
		}
		rec, replayed, err := guard.Do(r.Context(), idempotency.OpBulkApply, idempotencyKey(r), input,
			func() (idempotency.Record, error) {
				result, err := svc.Apply(r.Context(), rctx, code, u)
				if err != nil {
					return idempotency.Record{}, err
				}
				return jsonRecord(http.StatusOK, result)
			})
		if err != nil {
			WriteError(w, err)
			return
		}
		writeRecord(w, rec, replayed, idempotency.OpBulkApply, metrics)
	}
}

// readUpload reads the file of a multipart upload, rejecting bodies larger
// than the upload limit.
func readUpload(w http.ResponseWriter, r *http.Request, limits bulkupload.Limits) (bulkupload.Upload, error) {
	if limits.MaxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, limits.MaxBytes+multipartOverhead)
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return bulkupload.Upload{}, model.NewPayloadTooLargeError("upload exceeds the size limit")
		}
		return bulkupload.Upload{}, model.NewBadRequestError("expected a multipart/form-data upload")
	}
	file, header, err := r.FormFile(uploadField)
	if err != nil {
		return bulkupload.Upload{}, model.NewBadRequestError("the upload must carry a \"file\" field")
	}
	defer func() { _ = file.Close() }()

	data, err := io.ReadAll(file)
	if err != nil {
		return bulkupload.Upload{}, model.NewBadRequestError("unable to read the uploaded file")
	}
	return bulkupload.Upload{Filename: header.Filename, Data: data}, nil
}
