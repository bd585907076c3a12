package rest

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/kinopsis/agensalud-mvp-sub003/channels"
	"github.com/kinopsis/agensalud-mvp-sub003/channels/domain/instance"
	pkgError "github.com/kinopsis/agensalud-mvp-sub003/pkg/error"
	"github.com/kinopsis/agensalud-mvp-sub003/pkg/utils"
	"github.com/kinopsis/agensalud-mvp-sub003/ui/rest/middleware"
)

// LegacyStatus is the status vocabulary of the previous instance API.
type LegacyStatus string

const (
	LegacyCreated     LegacyStatus = "CREATED"
	LegacyPairing     LegacyStatus = "PAIRING"
	LegacyOnline      LegacyStatus = "ONLINE"
	LegacyOffline     LegacyStatus = "OFFLINE"
	LegacyFailed      LegacyStatus = "FAILED"
	LegacySuspended   LegacyStatus = "SUSPENDED"
	LegacyMaintenance LegacyStatus = "MAINTENANCE"
)

var legacyToStatus = map[LegacyStatus]instance.Status{
	LegacyCreated:     instance.StatusDisconnected,
	LegacyPairing:     instance.StatusConnecting,
	LegacyOnline:      instance.StatusConnected,
	LegacyOffline:     instance.StatusDisconnected,
	LegacyFailed:      instance.StatusError,
	LegacySuspended:   instance.StatusSuspended,
	LegacyMaintenance: instance.StatusMaintenance,
}

// OFFLINE only maps inward; disconnected always reads back as CREATED.
var statusToLegacy = map[instance.Status]LegacyStatus{
	instance.StatusDisconnected: LegacyCreated,
	instance.StatusConnecting:   LegacyPairing,
	instance.StatusConnected:    LegacyOnline,
	instance.StatusError:        LegacyFailed,
	instance.StatusSuspended:    LegacySuspended,
	instance.StatusMaintenance:  LegacyMaintenance,
}

func ToLegacy(s instance.Status) (LegacyStatus, bool) {
	l, ok := statusToLegacy[s]
	return l, ok
}

func FromLegacy(raw string) (instance.Status, bool) {
	s, ok := legacyToStatus[LegacyStatus(strings.ToUpper(strings.TrimSpace(raw)))]
	return s, ok
}

type Legacy struct {
	Manager *channels.Manager
}

type LegacyStatusRequest struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

type LegacyStatusResponse struct {
	ID           string       `json:"id"`
	Status       LegacyStatus `json:"status"`
	ErrorMessage string       `json:"error_message,omitempty"`
}

func InitRestLegacy(app fiber.Router, manager *channels.Manager) Legacy {
	rest := Legacy{Manager: manager}
	app.Get("/legacy/instances/:id/status", rest.GetStatus)
	app.Post("/legacy/instances/:id/status", rest.SetStatus)
	return rest
}

func (handler *Legacy) GetStatus(c *fiber.Ctx) error {
	_, inst, err := handler.Manager.ServiceForInstance(c.UserContext(), middleware.TenantID(c), c.Params("id"))
	if err != nil {
		return err
	}
	legacy, ok := ToLegacy(inst.Status)
	if !ok {
		return pkgError.InternalServerError("status " + string(inst.Status) + " has no legacy equivalent")
	}
	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Status retrieved",
		Results: LegacyStatusResponse{ID: inst.ID, Status: legacy, ErrorMessage: inst.ErrorMessage},
	})
}

// SetStatus is the admin override of the previous API. The mapped status
// still has to be a legal transition.
func (handler *Legacy) SetStatus(c *fiber.Ctx) error {
	var request LegacyStatusRequest
	if err := c.BodyParser(&request); err != nil {
		return pkgError.NewValidationError("body", "invalid JSON: "+err.Error())
	}
	status, ok := FromLegacy(request.Status)
	if !ok {
		return pkgError.NewValidationError("status", "unknown legacy status "+request.Status)
	}
	tenant := middleware.TenantID(c)
	svc, _, err := handler.Manager.ServiceForInstance(c.UserContext(), tenant, c.Params("id"))
	if err != nil {
		return err
	}
	detail := request.Reason
	if detail == "" {
		detail = "legacy status " + strings.ToUpper(request.Status)
	}
	if err := svc.ApplyRemoteStatus(c.UserContext(), tenant, c.Params("id"), status, detail); err != nil {
		return err
	}
	inst, err := svc.Get(c.UserContext(), tenant, c.Params("id"))
	if err != nil {
		return err
	}
	legacy, _ := ToLegacy(inst.Status)
	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Status updated",
		Results: LegacyStatusResponse{ID: inst.ID, Status: legacy, ErrorMessage: inst.ErrorMessage},
	})
}
