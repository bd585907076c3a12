package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/kinopsis/agensalud-mvp-sub003/core/config"
	"github.com/kinopsis/agensalud-mvp-sub003/ui/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start the channel instance MCP server using SSE",
	Long:  `Start an MCP (Model Context Protocol) server over Server-Sent Events exposing read-only channel instance tools to AI agents.`,
	Run:   mcpServer,
}

func init() {
	rootCmd.AddCommand(mcpCmd)
	mcpCmd.Flags().String("port", "", "Port for the SSE MCP server (overrides MCP_PORT)")
	mcpCmd.Flags().String("host", "", "Host for the SSE MCP server (overrides MCP_HOST)")
}

func mcpServer(cmd *cobra.Command, _ []string) {
	cfg := config.Global
	if port, _ := cmd.Flags().GetString("port"); port != "" {
		cfg.MCP.Port = port
	}
	if host, _ := cmd.Flags().GetString("host"); host != "" {
		cfg.MCP.Host = host
	}

	rt, err := bootstrap(cfg)
	if err != nil {
		logrus.Fatalf("[MCP] Bootstrap failed: %v", err)
	}

	mcpServer := server.NewMCPServer(
		"Channel Instance MCP Server",
		cfg.App.Version,
		server.WithToolCapabilities(true),
	)

	instanceHandler := mcp.InitMcpInstances(rt.manager)
	instanceHandler.AddInstanceTools(mcpServer)

	sseServer := server.NewSSEServer(
		mcpServer,
		server.WithBaseURL(fmt.Sprintf("http://%s:%s", cfg.MCP.Host, cfg.MCP.Port)),
		server.WithKeepAlive(true),
	)

	addr := fmt.Sprintf("%s:%s", cfg.MCP.Host, cfg.MCP.Port)
	logrus.Printf("Starting channel MCP SSE server on %s", addr)
	logrus.Printf("SSE endpoint: http://%s:%s/sse", cfg.MCP.Host, cfg.MCP.Port)
	logrus.Printf("Message endpoint: http://%s:%s/message", cfg.MCP.Host, cfg.MCP.Port)

	// Graceful shutdown handler
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		logrus.Info("[MCP] Reception of termination signal, shutting down gracefully...")
		rt.Stop()
		os.Exit(0)
	}()

	if err := sseServer.Start(addr); err != nil {
		logrus.Fatalf("Failed to start SSE server: %v", err)
	}
}
