package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"stockdesk/internal/domain"
)

// ErrorResponse описывает ошибку.
type ErrorResponse struct {
	Error  string `json:"error"`
	Status string `json:"status,omitempty"`
}

// WriteJSON отправляет JSON.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError отправляет JSON с ошибкой.
func WriteError(w http.ResponseWriter, status int, err error) {
	WriteJSON(w, status, ErrorResponse{Error: err.Error()})
}

// WriteFailure сопоставляет доменную ошибку со статусом ответа.
func WriteFailure(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	resp := ErrorResponse{Error: err.Error()}
	if status == http.StatusBadGateway {
		resp.Status = "failed"
	}
	WriteJSON(w, status, resp)
}

// StatusFor возвращает HTTP статус для ошибки.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrStockExists):
		return http.StatusConflict
	default:
		return http.StatusBadGateway
	}
}

// DecodeJSON читает тело запроса.
func DecodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.Join(domain.ErrValidation, err)
	}
	return nil
}
