package controller

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"

	domainErrors "github.com/kitwatch/notifier/internal/domain/errors"
)

const maxBodySize = 2 << 20

var validate = validator.New(validator.WithRequiredStructEnabled())

type errorMapping struct {
	err    error
	status int
	code   string
}

// Delivery failures only reach a handler when the outbox could not store
// the message either, hence 502.
var errorMappings = []errorMapping{
	{domainErrors.ErrNotConfigured, http.StatusBadRequest, "not_configured"},
	{domainErrors.ErrInvalidSetting, http.StatusBadRequest, "invalid_setting"},
	{domainErrors.ErrOutboxEntryNotFound, http.StatusNotFound, "not_found"},
	{domainErrors.ErrSettingNotFound, http.StatusNotFound, "not_found"},
	{domainErrors.ErrDeliveryFailed, http.StatusBadGateway, "delivery_failed"},
	{domainErrors.ErrProviderUnavailable, http.StatusBadGateway, "provider_unavailable"},
	{domainErrors.ErrProviderTimeout, http.StatusBadGateway, "provider_timeout"},
	{domainErrors.ErrDuplicateIdempotencyKey, http.StatusConflict, "duplicate_request"},
	{domainErrors.ErrUnauthorized, http.StatusUnauthorized, "unauthorized"},
	{domainErrors.ErrForbidden, http.StatusForbidden, "forbidden"},
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	resp := ErrorResponse{Error: err.Error()}

	if errors.Is(err, domainErrors.ErrValidationFailed) {
		resp.Code = "validation_error"
		resp.Details = fieldErrors(err)
		writeJSON(w, http.StatusBadRequest, resp)
		return
	}

	var delivery *domainErrors.DeliveryError
	if errors.As(err, &delivery) {
		resp.Code = "delivery_failed"
		writeJSON(w, http.StatusBadGateway, resp)
		return
	}

	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			resp.Code = m.code
			writeJSON(w, m.status, resp)
			return
		}
	}

	var domainErr *domainErrors.DomainError
	if errors.As(err, &domainErr) {
		resp.Code = domainErr.Code
		writeJSON(w, http.StatusUnprocessableEntity, resp)
		return
	}

	log.Error().Err(err).Msg("unhandled error in handler")
	resp.Code = "internal_error"
	resp.Error = "internal server error"
	writeJSON(w, http.StatusInternalServerError, resp)
}

func fieldErrors(err error) []FieldError {
	var many domainErrors.ValidationErrors
	if errors.As(err, &many) {
		out := make([]FieldError, 0, len(many))
		for _, ve := range many {
			out = append(out, FieldError{Field: ve.Field, Message: ve.Message})
		}
		return out
	}
	var one *domainErrors.ValidationError
	if errors.As(err, &one) {
		return []FieldError{{Field: one.Field, Message: one.Message}}
	}
	return nil
}

// decodeAndValidate rejects unknown fields and reports every struct tag
// violation at once.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return domainErrors.NewValidationError("body", "invalid JSON: "+err.Error())
	}
	if err := validate.Struct(dst); err != nil {
		var ve validator.ValidationErrors
		if errors.As(err, &ve) && len(ve) > 0 {
			out := make(domainErrors.ValidationErrors, 0, len(ve))
			for _, fe := range ve {
				out = append(out, domainErrors.NewValidationError(fe.Namespace(), fe.Tag()+" validation failed"))
			}
			return out
		}
		return domainErrors.NewValidationError("body", err.Error())
	}
	return nil
}
