package handler

import (
	"encoding/json"
	"net/http"

	"github.com/julienschmidt/httprouter"

	"github.com/mmsalmanfaris/Smart-Parking-System/internal/slots/service"
	apperrors "github.com/mmsalmanfaris/Smart-Parking-System/pkg/errors"
	httputil "github.com/mmsalmanfaris/Smart-Parking-System/pkg/http"
	"github.com/mmsalmanfaris/Smart-Parking-System/pkg/logger"
	"github.com/mmsalmanfaris/Smart-Parking-System/pkg/model"
)

type SlotHandler struct {
	service service.SlotRegistry
	log     *logger.Logger
}

func NewSlotHandler(service service.SlotRegistry, log *logger.Logger) *SlotHandler {
	return &SlotHandler{
		service: service,
		log:     log,
	}
}

func (h *SlotHandler) GetAll(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	slots, err := h.service.List(r.Context())
	if err != nil {
		h.writeError(w, "GetAll", err)
		return
	}

	if err := httputil.WriteSuccess(w, slots); err != nil {
		h.log.Error("failed to write JSON response", "handler", "GetAll", "error", err)
	}
}

func (h *SlotHandler) GetByID(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	slot, err := h.service.Get(r.Context(), ps.ByName("id"))
	if err != nil {
		h.writeError(w, "GetByID", err)
		return
	}

	if err := httputil.WriteSuccess(w, slot); err != nil {
		h.log.Error("failed to write JSON response", "handler", "GetByID", "error", err)
	}
}

func (h *SlotHandler) Utilization(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	report, err := h.service.Utilization(r.Context())
	if err != nil {
		h.writeError(w, "Utilization", err)
		return
	}

	if err := httputil.WriteSuccess(w, report); err != nil {
		h.log.Error("failed to write JSON response", "handler", "Utilization", "error", err)
	}
}

func (h *SlotHandler) SetMaintenance(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	var update model.MaintenanceUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		h.writeError(w, "SetMaintenance", apperrors.InvalidInput("Invalid JSON in request body"))
		return
	}

	id := ps.ByName("id")
	if err := h.service.SetMaintenance(r.Context(), id, update.Maintenance); err != nil {
		h.writeError(w, "SetMaintenance", err)
		return
	}

	slot, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, "SetMaintenance", err)
		return
	}

	if err := httputil.WriteSuccess(w, slot); err != nil {
		h.log.Error("failed to write JSON response", "handler", "SetMaintenance", "error", err)
	}
}

func (h *SlotHandler) writeError(w http.ResponseWriter, handler string, err error) {
	if writeErr := httputil.WriteError(w, err); writeErr != nil {
		h.log.Error("failed to write error response", "handler", handler, "error", writeErr)
	}
}

func (h *SlotHandler) RegisterRoutes(router *httprouter.Router) {
	router.GET("/api/v1/slots", h.GetAll)
	router.GET("/api/v1/slots/utilization", h.Utilization)
	router.GET("/api/v1/slots/id/:id", h.GetByID)
	router.PATCH("/api/v1/slots/id/:id/maintenance", h.SetMaintenance)
}
