package ledger_api

import (
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/BearBump/shipledger/internal/models"
	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type loginRequest struct {
	// email — имя поля из старой админки, username — нормальное.
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type shipmentWriteRequest struct {
	TrackingID string `json:"trackingId"`
	Status     string `json:"status"`
	Note       string `json:"note"`
}

type okResponse struct {
	OK           bool   `json:"ok"`
	TrackingLink string `json:"trackingLink,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type eventResponse struct {
	Status    string `json:"status"`
	Note      string `json:"note"`
	CreatedAt string `json:"createdAt"`
}

type lookupResponse struct {
	TrackingID    string          `json:"trackingId"`
	CurrentStatus string          `json:"currentStatus"`
	UpdatedAt     string          `json:"updatedAt"`
	Events        []eventResponse `json:"events"`
}

func (a *LedgerAPI) lookup(w http.ResponseWriter, r *http.Request) {
	trackingID, err := trackingIDParam(r)
	if err != nil || trackingID == "" {
		writeError(w, http.StatusBadRequest, "tracking id is required")
		return
	}

	v, err := a.svc.Lookup(r.Context(), trackingID)
	if err != nil {
		a.writeServiceError(w, r, err, "tracking id not found")
		return
	}
	writeJSON(w, http.StatusOK, toLookupResponse(v))
}

// trackingIDParam returns the opaque id from the path. chi matches on
// RawPath when Go kept one (the id had %2F and the like), otherwise on the
// already decoded Path, so only the first form needs unescaping.
func trackingIDParam(r *http.Request) (string, error) {
	p := chi.URLParam(r, "trackingId")
	if r.URL.RawPath == "" {
		return p, nil
	}
	return url.PathUnescape(p)
}

func (a *LedgerAPI) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	identity := req.Username
	if identity == "" {
		identity = req.Email
	}

	token, err := a.gate.Issue(identity, req.Password)
	if err != nil {
		a.log.Info("admin login rejected", zap.String("remote_addr", r.RemoteAddr))
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	http.SetCookie(w, a.sessionCookie(token, 0))
	a.log.Info("admin logged in", zap.String("identity", identity))
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

func (a *LedgerAPI) logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, a.sessionCookie("", -1))
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

func (a *LedgerAPI) create(w http.ResponseWriter, r *http.Request) {
	in, ok := decodeWrite(w, r)
	if !ok {
		return
	}
	res, err := a.svc.Create(r.Context(), in)
	if err != nil {
		// NotFound здесь возможен только при сбое FK внутри той же транзакции
		a.writeServiceError(w, r, err, "")
		return
	}
	a.log.Info("shipment created",
		zap.String("tracking_id", in.TrackingID),
		zap.String("status", in.Status),
		zap.String("admin", principalFromContext(r.Context()).Identity))
	writeJSON(w, http.StatusOK, okResponse{OK: true, TrackingLink: res.TrackingLink})
}

func (a *LedgerAPI) update(w http.ResponseWriter, r *http.Request) {
	in, ok := decodeWrite(w, r)
	if !ok {
		return
	}
	if err := a.svc.Update(r.Context(), in); err != nil {
		a.writeServiceError(w, r, err, "shipment not found")
		return
	}
	a.log.Info("shipment updated",
		zap.String("tracking_id", in.TrackingID),
		zap.String("status", in.Status),
		zap.String("admin", principalFromContext(r.Context()).Identity))
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

func (a *LedgerAPI) sessionCookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     sessionCookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   a.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	}
}

// writeServiceError maps the error taxonomy onto status codes. An empty
// notFoundMsg means the operation cannot legitimately miss a row, so
// ErrNotFound is reported as an internal error.
func (a *LedgerAPI) writeServiceError(w http.ResponseWriter, r *http.Request, err error, notFoundMsg string) {
	switch {
	case errors.Is(err, models.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "trackingId and status are required")
	case errors.Is(err, models.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, "not authorized")
	case errors.Is(err, models.ErrNotFound) && notFoundMsg != "":
		writeError(w, http.StatusNotFound, notFoundMsg)
	case errors.Is(err, models.ErrConflict):
		writeError(w, http.StatusConflict, "tracking id already exists")
	default:
		a.log.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeWrite(w http.ResponseWriter, r *http.Request) (models.ShipmentWrite, bool) {
	var req shipmentWriteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return models.ShipmentWrite{}, false
	}
	return models.ShipmentWrite{TrackingID: req.TrackingID, Status: req.Status, Note: req.Note}, true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return errors.Wrap(err, "decode body")
	}
	return nil
}

func toLookupResponse(v *models.ShipmentView) lookupResponse {
	out := lookupResponse{
		TrackingID:    v.TrackingID,
		CurrentStatus: v.CurrentStatus,
		UpdatedAt:     isoTime(v.UpdatedAt),
		Events:        make([]eventResponse, 0, len(v.Events)),
	}
	for _, e := range v.Events {
		out.Events = append(out.Events, eventResponse{
			Status:    e.Status,
			Note:      e.Note,
			CreatedAt: isoTime(e.CreatedAt),
		})
	}
	return out
}

func isoTime(t time.Time) string {
	return t.UTC().Format(isoLayout)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
