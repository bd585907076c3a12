package rest

import (
	"github.com/gofiber/fiber/v2"
	"github.com/kinopsis/agensalud-mvp-sub003/channels/application"
	"github.com/kinopsis/agensalud-mvp-sub003/pkg/utils"
)

const (
	HeaderSignature = "X-Signature-256"
	HeaderEventID   = "X-Event-Id"
)

type Webhook struct {
	Ingestor *application.WebhookIngestor
}

// InitRestWebhook mounts the gateway callback outside the authenticated
// API group; deliveries are checked by HMAC instead.
func InitRestWebhook(app fiber.Router, ingestor *application.WebhookIngestor) Webhook {
	rest := Webhook{Ingestor: ingestor}
	app.Post("/webhooks/:tenant/:instance", rest.Receive)
	return rest
}

func (handler *Webhook) Receive(c *fiber.Ctx) error {
	// fiber reuses the request buffer once the handler returns and work may
	// outlive it on the worker pool.
	body := append([]byte(nil), c.Body()...)

	res, err := handler.Ingestor.Ingest(c.UserContext(), application.Delivery{
		TenantID:    c.Params("tenant"),
		InstanceRef: c.Params("instance"),
		Body:        body,
		Signature:   c.Get(HeaderSignature),
		EventID:     c.Get(HeaderEventID),
	})
	if err != nil {
		return err
	}

	message := "Event applied"
	switch {
	case res.Duplicate:
		message = "Duplicate event ignored"
	case res.Ignored:
		message = "Event ignored"
	}
	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: message,
		Results: res,
	})
}
