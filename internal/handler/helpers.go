package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/arinellipar/arrighiMonoRepoOfficial-sub002/internal/domain"
)

// ============================================================
// Shared helper functions
// ============================================================

type errorResponse struct {
	Error string            `json:"error"`
	Field string            `json:"field,omitempty"`
	Bank  *domain.BankError `json:"bank,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// decodeBody reads a JSON body into dst and runs struct validation. An
// empty body leaves dst untouched.
func decodeBody(r *http.Request, dst any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return validate.Struct(dst)
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return &domain.ErrArgument{Field: "body", Message: "invalid JSON: " + err.Error()}
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return &domain.ErrArgument{Field: verrs[0].Field(), Message: "failed on '" + verrs[0].Tag() + "'"}
		}
		return &domain.ErrArgument{Field: "body", Message: err.Error()}
	}
	return nil
}

func parsePagination(r *http.Request) (page, pageSize int) {
	page = 1
	pageSize = 20
	if v := r.URL.Query().Get("page"); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p > 0 {
			page = p
		}
	}
	if v := r.URL.Query().Get("page_size"); v != "" {
		if ps, err := strconv.Atoi(v); err == nil && ps > 0 && ps <= 100 {
			pageSize = ps
		}
	}
	return
}

func listResponse[T any](data []T, total, page, pageSize int) domain.ListResponse[T] {
	if data == nil {
		data = []T{}
	}
	return domain.ListResponse[T]{
		Data:     data,
		Total:    total,
		Page:     page,
		PageSize: pageSize,
		HasMore:  page*pageSize < total,
	}
}

// handleServiceError maps domain errors to HTTP responses.
func handleServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	var notFound *domain.ErrNotFound
	var argument *domain.ErrArgument
	var duplicate *domain.ErrDuplicate
	var transition *domain.ErrInvalidTransition
	var registration *domain.ErrRegistration
	var protocol *domain.ErrProtocol
	var authFailed *domain.ErrAuthenticationFailed
	var certMissing *domain.ErrCertificateNotFound
	var unauthorized *domain.ErrUnauthorized

	switch {
	case errors.As(err, &notFound):
		logger.Debug("not found", zap.String("error", err.Error()))
		writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &argument):
		logger.Debug("invalid argument", zap.String("error", err.Error()))
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error(), Field: argument.Field})
	case errors.As(err, &duplicate):
		logger.Debug("duplicate resource", zap.String("error", err.Error()))
		writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &transition), errors.Is(err, domain.ErrBatchFinalized):
		logger.Debug("conflict", zap.String("error", err.Error()))
		writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &registration):
		logger.Warn("registration rejected by bank",
			zap.String("reference", registration.Reference),
			zap.String("bank_code", registration.Bank.Code),
			zap.String("trace_id", registration.Bank.TraceID),
		)
		bank := registration.Bank
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: err.Error(), Bank: &bank})
	case errors.As(err, &certMissing):
		logger.Error("bank gateway disabled", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.As(err, &authFailed):
		logger.Error("bank authentication failed", zap.Int("status", authFailed.Status))
		writeError(w, http.StatusBadGateway, "bank authentication failed")
	case errors.As(err, &protocol):
		logger.Error("bank protocol error", zap.Error(err))
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: err.Error(), Bank: protocol.Bank})
	case errors.As(err, &unauthorized):
		logger.Warn("unauthorized", zap.String("error", err.Error()))
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		logger.Error("request timeout", zap.Error(err))
		writeError(w, http.StatusGatewayTimeout, "request timed out")
	default:
		logger.Error("unhandled error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
