package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"

	"stylist/internal/fault"
	"stylist/internal/infra"
	"stylist/internal/outfit"
)

// MaxBodyBytes bounds request bodies. Slightly above the image cap so a
// 10MB photo survives base64 expansion plus the JSON envelope.
const MaxBodyBytes = 15 * 1024 * 1024

// App holds the handler dependencies.
type App struct {
	Service *outfit.Service
	Logger  *infra.Logger
}

func NewApp(service *outfit.Service, logger *infra.Logger) *App {
	return &App{Service: service, Logger: logger}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// fail translates a classified fault into an HTTP response. The message
// sent to the client is the fault's own; internals wrapped beneath it
// stay in the logs.
func (a *App) fail(w http.ResponseWriter, err error) {
	kind := fault.KindOf(err)
	status := statusForKind(kind)
	if retryAfter := fault.RetryAfterOf(err); retryAfter > 0 {
		seconds := int(math.Ceil(retryAfter.Seconds()))
		if seconds < 1 {
			seconds = 1
		}
		w.Header().Set("Retry-After", fmt.Sprintf("%d", seconds))
	}
	if status >= 500 {
		a.Logger.Error().Err(err).Str("kind", string(kind)).Msg("handlers: request failed")
	} else {
		a.Logger.Warn().Err(err).Str("kind", string(kind)).Msg("handlers: request refused")
	}
	a.json(w, status, map[string]any{
		"success": false,
		"error":   publicMessage(err, kind),
	})
}

func statusForKind(kind fault.Kind) int {
	switch kind {
	case fault.KindInvalidInput:
		return http.StatusBadRequest
	case fault.KindRateLimited:
		return http.StatusTooManyRequests
	case fault.KindTimeout:
		return http.StatusGatewayTimeout
	case fault.KindUpstreamRejected:
		return http.StatusBadGateway
	case fault.KindUpstreamUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func publicMessage(err error, kind fault.Kind) string {
	var ferr *fault.Error
	if errors.As(err, &ferr) {
		return ferr.Message
	}
	switch kind {
	case fault.KindTimeout:
		return "the request took too long, please try again"
	default:
		return "internal server error"
	}
}

func (a *App) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		a.fail(w, fault.New(fault.KindInvalidInput, "request body is not valid JSON"))
		return false
	}
	return true
}
