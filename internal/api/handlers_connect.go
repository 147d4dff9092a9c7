package api

import (
	"net/http"

	"github.com/delegation-service/internal/models"
	"github.com/delegation-service/internal/service"
)

// ConnectChildResponse is returned by POST /connect-child
type ConnectChildResponse struct {
	Success bool                 `json:"success"`
	Child   *models.ChildAccount `json:"child"`
	Created bool                 `json:"created,omitempty"`
	Updated bool                 `json:"updated,omitempty"`
}

// QRResponse is returned by POST /generate-qr
type QRResponse struct {
	Success bool               `json:"success"`
	QRData  string             `json:"qrData"`
	Payload *service.QRPayload `json:"payload"`
}

// handleConnectChild handles POST /connect-child - link a scanned child to its delegator
func (s *Server) handleConnectChild(w http.ResponseWriter, r *http.Request) {
	var input service.ConnectChildInput
	if err := parseJSONBody(w, r, &input, false); err != nil {
		respondServiceError(w, r, "connect-child", bodyError(err))
		return
	}

	result, err := s.connectionService.Connect(r.Context(), &input)
	if err != nil {
		respondServiceError(w, r, "connect-child", err)
		return
	}

	resp := ConnectChildResponse{Success: true, Child: result.Child}
	status := http.StatusOK
	if result.Created {
		resp.Created = true
		status = http.StatusCreated
	} else {
		resp.Updated = true
	}
	respondJSON(w, status, resp)
}

// handleGenerateQR handles POST /generate-qr - build the payload a child device scans
func (s *Server) handleGenerateQR(w http.ResponseWriter, r *http.Request) {
	var input service.GenerateQRInput
	if err := parseJSONBody(w, r, &input, false); err != nil {
		respondServiceError(w, r, "generate-qr", bodyError(err))
		return
	}

	result, err := s.qrService.Generate(r.Context(), &input)
	if err != nil {
		respondServiceError(w, r, "generate-qr", err)
		return
	}

	respondJSON(w, http.StatusOK, QRResponse{
		Success: true,
		QRData:  result.QRData,
		Payload: result.Payload,
	})
}
