// Пакет errors — конструкторы стандартных ошибок API pm-admin.
// Единый формат: {"error": {"code": "...", "message": "..."}}.
// Все HTTP-ответы с ошибками должны использовать WriteError.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"net/http"

	"github.com/Reptilefury/prediction-markets-sub000/internal/service"
)

// Коды ошибок, определённые в OpenAPI контракте.
const (
	CodeValidationError = "VALIDATION_ERROR"
	CodeNotFound        = "NOT_FOUND"
	CodeUnauthorized    = "UNAUTHORIZED"
	CodeForbidden       = "FORBIDDEN"
	CodeConflict        = "CONFLICT"
	CodeIDPUnavailable  = "IDP_UNAVAILABLE"
	CodePartialSync     = "PARTIAL_SYNC"
	CodeInternalError   = "INTERNAL_ERROR"
)

// errorBody — структура тела ответа ошибки.
type errorBody struct {
	Error errorDetail `json:"error"`
}

// errorDetail — детали ошибки.
type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteError записывает ответ ошибки в стандартном формате.
// statusCode — HTTP статус-код, code — машиночитаемый код, message — описание.
func WriteError(w http.ResponseWriter, statusCode int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(errorBody{
		Error: errorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// --- Конструкторы для типичных ошибок ---

// ValidationError — 400 некорректные входные данные.
func ValidationError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeValidationError, message)
}

// NotFound — 404 ресурс не найден.
func NotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, CodeNotFound, message)
}

// Unauthorized — 401 требуется аутентификация.
func Unauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, CodeUnauthorized, message)
}

// Forbidden — 403 недостаточно прав.
func Forbidden(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusForbidden, CodeForbidden, message)
}

// Conflict — 409 конфликт (дублирующийся ресурс).
func Conflict(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusConflict, CodeConflict, message)
}

// IDPUnavailable — 502 Identity Provider (Keycloak) недоступен или вернул ошибку.
func IDPUnavailable(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadGateway, CodeIDPUnavailable, message)
}

// PartialSync — 500 Keycloak изменён, локальное зеркало не обновлено.
func PartialSync(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, CodePartialSync, message)
}

// InternalError — 500 внутренняя ошибка.
func InternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, CodeInternalError, message)
}

// FromService выбирает ответ по sentinel-ошибке сервисного слоя.
// Детали err в ответ не попадают, кроме ошибок валидации.
// Возвращает true, если ошибка распознана; иначе пишет INTERNAL_ERROR и
// возвращает false (вызывающий логирует такую ошибку как Error).
func FromService(w http.ResponseWriter, err error, subject string) bool {
	switch {
	case stderrors.Is(err, service.ErrValidation):
		ValidationError(w, err.Error())
	case stderrors.Is(err, service.ErrNotFound):
		NotFound(w, subject+" не найден(а)")
	case stderrors.Is(err, service.ErrDuplicate):
		Conflict(w, subject+" уже существует")
	case stderrors.Is(err, service.ErrPartialSync):
		PartialSync(w, "Keycloak обновлён, локальное зеркало не синхронизировано")
	case stderrors.Is(err, service.ErrUpstream):
		IDPUnavailable(w, "Ошибка обращения к Keycloak")
	default:
		InternalError(w, "Внутренняя ошибка")
		return false
	}
	return true
}
