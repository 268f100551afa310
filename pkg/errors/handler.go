package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"esence/pkg/common"

	"go.uber.org/zap"
)

// ErrorResponse is the JSON body of every failed request
type ErrorResponse struct {
	Error      bool                   `json:"error"`
	Type       string                 `json:"type"`
	Message    string                 `json:"message"`
	Code       string                 `json:"code,omitempty"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Retryable  bool                   `json:"retryable"`
	RetryAfter int                    `json:"retry_after,omitempty"`
	RequestID  string                 `json:"request_id,omitempty"`
}

// retryAfter is the pause suggested to clients for retryable errors
var retryAfter = map[ErrorType]time.Duration{
	ErrorTypeBusy:             time.Second,
	ErrorTypeRateLimit:        time.Minute,
	ErrorTypeGenerationFailed: 5 * time.Second,
	ErrorTypeResolutionFailed: 5 * time.Second,
	ErrorTypeUnavailable:      10 * time.Second,
	ErrorTypeNetwork:          5 * time.Second,
}

// internalDetails are dropped from responses outside debug mode
var internalDetails = map[ErrorType][]string{
	ErrorTypeStorageWriteFailed: {"file"},
}

// ErrorHandler renders errors as JSON responses
type ErrorHandler struct {
	logger        *zap.Logger
	debug         bool
	defaultStatus int
}

// NewErrorHandler creates a new error handler
func NewErrorHandler(logger *zap.Logger, debug bool) *ErrorHandler {
	return &ErrorHandler{
		logger:        logger,
		debug:         debug,
		defaultStatus: http.StatusInternalServerError,
	}
}

// Handle writes err to w. Retryable node errors carry a Retry-After header,
// a thread that is busy answers 409 so the owner can try again.
func (h *ErrorHandler) Handle(w http.ResponseWriter, r *http.Request, err error) {
	if err == nil {
		return
	}
	requestID := requestIDOf(r)

	appErr := GetAppError(err)
	if appErr == nil {
		response := ErrorResponse{
			Error:     true,
			Type:      string(ErrorTypeInternal),
			Message:   "An internal error occurred",
			RequestID: requestID,
		}
		if h.debug {
			response.Message = err.Error()
		}
		h.logger.Error("Unhandled error",
			zap.Error(err),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("request_id", requestID),
		)
		h.sendJSON(w, h.defaultStatus, response)
		return
	}

	status := StatusOf(appErr)
	if status == 0 {
		status = h.defaultStatus
	}
	response := ErrorResponse{
		Error:     true,
		Type:      string(appErr.Type),
		Message:   appErr.Message,
		Code:      appErr.Code,
		Details:   h.publicDetails(appErr),
		Retryable: appErr.Retryable,
		RequestID: requestID,
	}
	if appErr.Retryable {
		if wait, ok := retryAfter[appErr.Type]; ok {
			response.RetryAfter = int(wait / time.Second)
			w.Header().Set("Retry-After", strconv.Itoa(response.RetryAfter))
		}
	}
	if h.debug && appErr.StackTrace != "" {
		if response.Details == nil {
			response.Details = make(map[string]interface{})
		}
		response.Details["stack_trace"] = appErr.StackTrace
	}

	h.logError(r, appErr, status, requestID)
	h.sendJSON(w, status, response)
}

// HandleStatus sends an error response with a specific status code
func (h *ErrorHandler) HandleStatus(w http.ResponseWriter, r *http.Request, status int, message string) {
	requestID := requestIDOf(r)
	h.logger.Warn("HTTP error",
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.Int("status", status),
		zap.String("message", message),
		zap.String("request_id", requestID),
	)
	h.sendJSON(w, status, ErrorResponse{
		Error:     true,
		Type:      h.statusToErrorType(status),
		Message:   message,
		RequestID: requestID,
	})
}

// StatusOf maps an error to its HTTP status. Node errors keep their status
// when wrapped or built without one.
func StatusOf(err error) int {
	appErr := GetAppError(err)
	if appErr == nil {
		return http.StatusInternalServerError
	}
	switch appErr.Type {
	case ErrorTypeBusy, ErrorTypeConflict:
		return http.StatusConflict
	case ErrorTypeCapacityExhausted:
		return http.StatusForbidden
	case ErrorTypeSignatureInvalid:
		return http.StatusUnauthorized
	case ErrorTypeResolutionFailed, ErrorTypeGenerationFailed:
		return http.StatusBadGateway
	}
	return appErr.HTTPStatus
}

func (h *ErrorHandler) publicDetails(err *AppError) map[string]interface{} {
	hidden := internalDetails[err.Type]
	if h.debug || len(hidden) == 0 || err.Details == nil {
		return err.Details
	}
	out := make(map[string]interface{}, len(err.Details))
	for k, v := range err.Details {
		out[k] = v
	}
	for _, k := range hidden {
		delete(out, k)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// logError logs an application error at a level matching its status
func (h *ErrorHandler) logError(r *http.Request, err *AppError, status int, requestID string) {
	fields := []zap.Field{
		zap.String("error_type", string(err.Type)),
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.Int("status", status),
		zap.String("request_id", requestID),
	}
	if err.Code != "" {
		fields = append(fields, zap.String("error_code", err.Code))
	}
	if err.Cause != nil {
		fields = append(fields, zap.Error(err.Cause))
	}
	if err.Details != nil {
		fields = append(fields, zap.Any("details", err.Details))
	}

	switch {
	case status >= 500:
		h.logger.Error(err.Message, fields...)
	case err.Type == ErrorTypeBusy:
		h.logger.Debug(err.Message, fields...)
	case status >= 400:
		h.logger.Warn(err.Message, fields...)
	default:
		h.logger.Info(err.Message, fields...)
	}
}

func (h *ErrorHandler) sendJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode error response",
			zap.Error(err),
			zap.Any("data", data),
		)
	}
}

func (h *ErrorHandler) statusToErrorType(status int) string {
	switch status {
	case http.StatusBadRequest, http.StatusRequestEntityTooLarge:
		return string(ErrorTypeValidation)
	case http.StatusUnauthorized:
		return string(ErrorTypeUnauthorized)
	case http.StatusForbidden:
		return string(ErrorTypeCapacityExhausted)
	case http.StatusNotFound:
		return string(ErrorTypeNotFound)
	case http.StatusConflict:
		return string(ErrorTypeConflict)
	case http.StatusTooManyRequests:
		return string(ErrorTypeRateLimit)
	case http.StatusServiceUnavailable:
		return string(ErrorTypeUnavailable)
	case http.StatusBadGateway:
		return string(ErrorTypeNetwork)
	default:
		return string(ErrorTypeInternal)
	}
}

// Middleware turns panics in next into an INTERNAL response
func (h *ErrorHandler) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				h.Handle(w, r, NewInternalError(fmt.Sprintf("panic: %v", rec)))
			}
		}()

		next.ServeHTTP(w, r)
	})
}

func requestIDOf(r *http.Request) string {
	if id, ok := common.GetRequestID(r.Context()); ok {
		return id
	}
	return r.Header.Get("X-Request-ID")
}
