// ABOUTME: HTTP handlers for the WhatsApp verification bridge endpoints.
// ABOUTME: Exposes start/check operations with Spanish-language client errors.

package otp

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// User-facing validation messages. The web client surfaces these verbatim.
const (
	msgPhoneRequired        = "El número de teléfono es requerido."
	msgPhoneAndCodeRequired = "El número de teléfono y el código son requeridos."
	msgInvalidCode          = "Código incorrecto o no válido."
)

// Handlers serves the verification bridge HTTP endpoints. These routes sit
// outside the authenticated API because callers do not have a session yet.
type Handlers struct {
	verifier Verifier
	logger   *slog.Logger
}

// StartVerificationRequest is the JSON request body for POST /api/verify/start.
type StartVerificationRequest struct {
	PhoneNumber string `json:"phoneNumber"`
}

// StartVerificationResponse is the JSON response for POST /api/verify/start.
type StartVerificationResponse struct {
	Success bool   `json:"success"`
	Status  string `json:"status,omitempty"`
	Error   string `json:"error,omitempty"`
}

// CheckVerificationRequest is the JSON request body for POST /api/verify/check.
type CheckVerificationRequest struct {
	PhoneNumber string `json:"phoneNumber"`
	Code        string `json:"code"`
}

// CheckVerificationResponse is the JSON response for POST /api/verify/check.
type CheckVerificationResponse struct {
	Success  bool   `json:"success"`
	Approved bool   `json:"approved"`
	Message  string `json:"message,omitempty"`
	Error    string `json:"error,omitempty"`
}

// NewHandlers creates the verification bridge handlers backed by the given
// verifier.
func NewHandlers(verifier Verifier, logger *slog.Logger) *Handlers {
	return &Handlers{
		verifier: verifier,
		logger:   logger.With("component", "otp"),
	}
}

// HandleStart handles POST /api/verify/start. It requests a one-time code
// delivery to the submitted phone number.
func (h *Handlers) HandleStart(w http.ResponseWriter, r *http.Request) {
	var req StartVerificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, StartVerificationResponse{
			Success: false,
			Error:   msgPhoneRequired,
		})
		return
	}

	if req.PhoneNumber == "" {
		writeJSON(w, http.StatusBadRequest, StartVerificationResponse{
			Success: false,
			Error:   msgPhoneRequired,
		})
		return
	}

	status, err := h.verifier.Start(r.Context(), req.PhoneNumber)
	if err != nil {
		h.logger.Error("failed to start verification", "error", err)
		writeJSON(w, http.StatusBadGateway, StartVerificationResponse{
			Success: false,
			Error:   "No se pudo enviar el código de verificación.",
		})
		return
	}

	writeJSON(w, http.StatusOK, StartVerificationResponse{
		Success: true,
		Status:  string(status),
	})
}

// HandleCheck handles POST /api/verify/check. It validates the submitted code
// against the verification service. A wrong code yields 401 so the client can
// distinguish it from transport failures.
func (h *Handlers) HandleCheck(w http.ResponseWriter, r *http.Request) {
	var req CheckVerificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, CheckVerificationResponse{
			Success: false,
			Error:   msgPhoneAndCodeRequired,
		})
		return
	}

	if req.PhoneNumber == "" || req.Code == "" {
		writeJSON(w, http.StatusBadRequest, CheckVerificationResponse{
			Success: false,
			Error:   msgPhoneAndCodeRequired,
		})
		return
	}

	approved, err := h.verifier.Check(r.Context(), req.PhoneNumber, req.Code)
	if err != nil {
		h.logger.Error("failed to check verification", "error", err)
		writeJSON(w, http.StatusBadGateway, CheckVerificationResponse{
			Success: false,
			Error:   "No se pudo comprobar el código de verificación.",
		})
		return
	}

	if !approved {
		writeJSON(w, http.StatusUnauthorized, CheckVerificationResponse{
			Success:  false,
			Approved: false,
			Message:  msgInvalidCode,
		})
		return
	}

	writeJSON(w, http.StatusOK, CheckVerificationResponse{
		Success:  true,
		Approved: true,
	})
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
