package mcp

import (
	"context"
	"fmt"

	"github.com/kinopsis/agensalud-mvp-sub003/channels"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// InstanceHandler exposes read-only views of channel instances to agents.
type InstanceHandler struct {
	manager *channels.Manager
}

func InitMcpInstances(manager *channels.Manager) *InstanceHandler {
	return &InstanceHandler{manager: manager}
}

func (h *InstanceHandler) AddInstanceTools(mcpServer *server.MCPServer) {
	mcpServer.AddTool(h.toolListInstances(), h.handleListInstances)
	mcpServer.AddTool(h.toolGetStatus(), h.handleGetStatus)
	mcpServer.AddTool(h.toolGetQR(), h.handleGetQR)
}

func (h *InstanceHandler) toolListInstances() mcp.Tool {
	return mcp.NewTool(
		"channel_list_instances",
		mcp.WithDescription("List every channel instance of a tenant, across all channel types."),
		mcp.WithTitleAnnotation("List Channel Instances"),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithString("tenant_id",
			mcp.Description("The tenant (organization) that owns the instances."),
			mcp.Required(),
		),
	)
}

func (h *InstanceHandler) handleListInstances(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tenantID, err := request.RequireString("tenant_id")
	if err != nil {
		return nil, err
	}

	list := h.manager.GetAllInstances(ctx, tenantID)
	fallback := fmt.Sprintf("Found %d instances", len(list.Instances))
	if len(list.Partial) > 0 {
		fallback += fmt.Sprintf(" (%d channel types unavailable)", len(list.Partial))
	}
	return mcp.NewToolResultStructured(list, fallback), nil
}

func (h *InstanceHandler) toolGetStatus() mcp.Tool {
	return mcp.NewTool(
		"channel_get_status",
		mcp.WithDescription("Get the connection status of a channel instance, reconciled with the gateway."),
		mcp.WithTitleAnnotation("Get Instance Status"),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithString("tenant_id",
			mcp.Description("The tenant (organization) that owns the instance."),
			mcp.Required(),
		),
		mcp.WithString("instance_id",
			mcp.Description("The channel instance ID."),
			mcp.Required(),
		),
	)
}

func (h *InstanceHandler) handleGetStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tenantID, err := request.RequireString("tenant_id")
	if err != nil {
		return nil, err
	}
	instanceID, err := request.RequireString("instance_id")
	if err != nil {
		return nil, err
	}

	svc, _, err := h.manager.ServiceForInstance(ctx, tenantID, instanceID)
	if err != nil {
		return nil, err
	}
	status, err := svc.GetStatus(ctx, tenantID, instanceID)
	if err != nil {
		return nil, err
	}

	resp := map[string]any{"instance_id": instanceID, "status": status}
	return mcp.NewToolResultStructured(resp, fmt.Sprintf("Instance %s is %s", instanceID, status)), nil
}

func (h *InstanceHandler) toolGetQR() mcp.Tool {
	return mcp.NewTool(
		"channel_get_qr",
		mcp.WithDescription("Get the pairing QR code of a channel instance that is waiting to be linked."),
		mcp.WithTitleAnnotation("Get Pairing QR"),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(false),
		mcp.WithString("tenant_id",
			mcp.Description("The tenant (organization) that owns the instance."),
			mcp.Required(),
		),
		mcp.WithString("instance_id",
			mcp.Description("The channel instance ID."),
			mcp.Required(),
		),
	)
}

func (h *InstanceHandler) handleGetQR(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tenantID, err := request.RequireString("tenant_id")
	if err != nil {
		return nil, err
	}
	instanceID, err := request.RequireString("instance_id")
	if err != nil {
		return nil, err
	}

	svc, _, err := h.manager.ServiceForInstance(ctx, tenantID, instanceID)
	if err != nil {
		return nil, err
	}
	qr, err := svc.GetQR(ctx, tenantID, instanceID)
	if err != nil {
		return nil, err
	}

	return mcp.NewToolResultStructured(qr, "QR status: "+qr.Status), nil
}
