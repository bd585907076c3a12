package rest

import (
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kinopsis/agensalud-mvp-sub003/channels"
	"github.com/kinopsis/agensalud-mvp-sub003/channels/application"
	"github.com/kinopsis/agensalud-mvp-sub003/channels/domain/audit"
	"github.com/kinopsis/agensalud-mvp-sub003/channels/domain/instance"
	pkgError "github.com/kinopsis/agensalud-mvp-sub003/pkg/error"
	"github.com/kinopsis/agensalud-mvp-sub003/pkg/utils"
	"github.com/kinopsis/agensalud-mvp-sub003/ui/rest/middleware"
)

type Instance struct {
	Manager *channels.Manager
	Audit   audit.Store
}

type CreateInstanceRequest struct {
	Name           string                         `json:"name"`
	ChannelType    instance.ChannelType           `json:"channelType"`
	SkipConnection bool                           `json:"skipConnection"`
	Config         instance.ChannelInstanceConfig `json:"config"`
}

func InitRestInstance(app fiber.Router, manager *channels.Manager, auditStore audit.Store, limiter *middleware.PollLimiter) Instance {
	rest := Instance{Manager: manager, Audit: auditStore}

	app.Post("/instances", rest.CreateInstance)
	app.Get("/instances", rest.ListInstances)
	app.Get("/instances/:id", rest.GetInstance)
	app.Patch("/instances/:id", rest.UpdateInstance)
	app.Delete("/instances/:id", rest.DeleteInstance)
	app.Post("/instances/:id/connect", rest.ConnectInstance)
	app.Post("/instances/:id/disconnect", rest.DisconnectInstance)
	app.Get("/instances/:id/status", limiter.Handler(), rest.GetStatus)
	app.Get("/instances/:id/qr", limiter.Handler(), rest.GetQR)
	app.Get("/instances/:id/metrics", rest.GetMetrics)
	app.Get("/instances/:id/audit", rest.GetAudit)

	app.Get("/channels/metrics", rest.UnifiedMetrics)
	app.Get("/channels/health", rest.HealthSummary)

	return rest
}

func (handler *Instance) CreateInstance(c *fiber.Ctx) error {
	var request CreateInstanceRequest
	if err := c.BodyParser(&request); err != nil {
		return pkgError.NewValidationError("body", "invalid JSON: "+err.Error())
	}
	if request.ChannelType == "" {
		request.ChannelType = instance.ChannelTypeWhatsApp
	}

	svc, err := handler.Manager.Service(c.UserContext(), request.ChannelType, middleware.TenantID(c))
	if err != nil {
		return err
	}
	inst, err := svc.Create(c.UserContext(), middleware.TenantID(c), application.CreateRequest{
		Name:           request.Name,
		Config:         request.Config,
		SkipConnection: request.SkipConnection,
	})
	if err != nil {
		return err
	}

	message := "Instance created"
	if inst.Status == instance.StatusError {
		message = "Instance created, connection failed: " + inst.ErrorMessage
	}
	return c.Status(fiber.StatusCreated).JSON(utils.ResponseData{
		Status:  fiber.StatusCreated,
		Code:    "SUCCESS",
		Message: message,
		Results: inst,
	})
}

func (handler *Instance) ListInstances(c *fiber.Ctx) error {
	list := handler.Manager.GetAllInstances(c.UserContext(), middleware.TenantID(c))
	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Instances retrieved",
		Results: list,
	})
}

func (handler *Instance) GetInstance(c *fiber.Ctx) error {
	_, inst, err := handler.Manager.ServiceForInstance(c.UserContext(), middleware.TenantID(c), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Instance retrieved",
		Results: inst,
	})
}

func (handler *Instance) UpdateInstance(c *fiber.Ctx) error {
	var request application.UpdateRequest
	if err := c.BodyParser(&request); err != nil {
		return pkgError.NewValidationError("body", "invalid JSON: "+err.Error())
	}
	svc, _, err := handler.Manager.ServiceForInstance(c.UserContext(), middleware.TenantID(c), c.Params("id"))
	if err != nil {
		return err
	}
	inst, err := svc.Update(c.UserContext(), middleware.TenantID(c), c.Params("id"), request)
	if err != nil {
		return err
	}
	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Instance updated",
		Results: inst,
	})
}

// DeleteInstance answers 204 whether or not the instance existed.
func (handler *Instance) DeleteInstance(c *fiber.Ctx) error {
	svc, _, err := handler.Manager.ServiceForInstance(c.UserContext(), middleware.TenantID(c), c.Params("id"))
	if err != nil {
		if pkgError.IsNotFound(err) {
			return c.SendStatus(fiber.StatusNoContent)
		}
		return err
	}
	if err := svc.Delete(c.UserContext(), middleware.TenantID(c), c.Params("id")); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (handler *Instance) ConnectInstance(c *fiber.Ctx) error {
	svc, _, err := handler.Manager.ServiceForInstance(c.UserContext(), middleware.TenantID(c), c.Params("id"))
	if err != nil {
		return err
	}
	if err := svc.Connect(c.UserContext(), middleware.TenantID(c), c.Params("id")); err != nil {
		return err
	}
	inst, err := svc.Get(c.UserContext(), middleware.TenantID(c), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Connection started",
		Results: inst,
	})
}

func (handler *Instance) DisconnectInstance(c *fiber.Ctx) error {
	svc, _, err := handler.Manager.ServiceForInstance(c.UserContext(), middleware.TenantID(c), c.Params("id"))
	if err != nil {
		return err
	}
	if err := svc.Disconnect(c.UserContext(), middleware.TenantID(c), c.Params("id")); err != nil {
		return err
	}
	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Instance disconnected",
		Results: fiber.Map{"status": instance.StatusDisconnected},
	})
}

func (handler *Instance) GetStatus(c *fiber.Ctx) error {
	svc, _, err := handler.Manager.ServiceForInstance(c.UserContext(), middleware.TenantID(c), c.Params("id"))
	if err != nil {
		return err
	}
	status, err := svc.GetStatus(c.UserContext(), middleware.TenantID(c), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Status retrieved",
		Results: fiber.Map{"id": c.Params("id"), "status": status},
	})
}

func (handler *Instance) GetQR(c *fiber.Ctx) error {
	svc, _, err := handler.Manager.ServiceForInstance(c.UserContext(), middleware.TenantID(c), c.Params("id"))
	if err != nil {
		return err
	}
	qr, err := svc.GetQR(c.UserContext(), middleware.TenantID(c), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "QR status: " + qr.Status,
		Results: qr,
	})
}

func (handler *Instance) GetMetrics(c *fiber.Ctx) error {
	period, err := parsePeriod(c.Query("period"))
	if err != nil {
		return err
	}
	svc, _, err := handler.Manager.ServiceForInstance(c.UserContext(), middleware.TenantID(c), c.Params("id"))
	if err != nil {
		return err
	}
	metrics, err := svc.GetMetrics(c.UserContext(), middleware.TenantID(c), c.Params("id"), period)
	if err != nil {
		return err
	}
	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Metrics retrieved",
		Results: metrics,
	})
}

// GetAudit lists the trail even after the instance is deleted. The store
// filters by tenant.
func (handler *Instance) GetAudit(c *fiber.Ctx) error {
	if handler.Audit == nil {
		return c.JSON(utils.ResponseData{Status: 200, Code: "SUCCESS", Message: "Audit log disabled", Results: []audit.Entry{}})
	}
	entries, err := handler.Audit.List(c.UserContext(), middleware.TenantID(c), c.Params("id"), c.QueryInt("limit", 100))
	if err != nil {
		return err
	}
	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Audit log retrieved",
		Results: entries,
	})
}

func (handler *Instance) UnifiedMetrics(c *fiber.Ctx) error {
	period, err := parsePeriod(c.Query("period"))
	if err != nil {
		return err
	}
	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Channel metrics retrieved",
		Results: handler.Manager.UnifiedMetrics(c.UserContext(), middleware.TenantID(c), period),
	})
}

func (handler *Instance) HealthSummary(c *fiber.Ctx) error {
	report := handler.Manager.HealthSummary(c.UserContext(), middleware.TenantID(c))
	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Channel health retrieved",
		Results: report,
	})
}

// parsePeriod accepts Go durations plus a day suffix ("7d"). Empty means
// the service default.
func parsePeriod(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	if days, ok := strings.CutSuffix(raw, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil || n <= 0 || n > 366 {
			return 0, pkgError.NewValidationError("period", "must be between 1d and 366d")
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 0, pkgError.NewValidationError("period", "must be a positive duration like 24h or 7d")
	}
	return d, nil
}
