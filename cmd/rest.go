package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/kinopsis/agensalud-mvp-sub003/core/config"
	"github.com/kinopsis/agensalud-mvp-sub003/ui/rest"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var restCmd = &cobra.Command{
	Use:   "rest",
	Short: "Serve the instance lifecycle API, gateway webhooks and status websocket",
	Run:   restServer,
}

func init() {
	restCmd.Flags().String("basic-auth", "", "Basic auth for API (format: user:pass,user2:pass2)")
	restCmd.Flags().String("port", "", "HTTP port (overrides APP_PORT)")
	rootCmd.AddCommand(restCmd)
}

func restServer(cmd *cobra.Command, _ []string) {
	cfg := config.Global
	if baFlag, _ := cmd.Flags().GetString("basic-auth"); baFlag != "" {
		cfg.App.BasicAuth = strings.Split(baFlag, ",")
	}
	if port, _ := cmd.Flags().GetString("port"); port != "" {
		cfg.App.Port = port
	}

	if len(cfg.App.BasicAuth) == 0 {
		logrus.Fatalln("APP_BASIC_AUTH is required. Nothing should be public; please set APP_BASIC_AUTH=<user>:<secret>[,<user2>:<secret2>] and restart.")
	}
	for _, basicAuth := range cfg.App.BasicAuth {
		if user, _, ok := strings.Cut(basicAuth, ":"); !ok || user == "" {
			logrus.Fatalln("Basic auth is not valid, please this following format <user>:<secret>")
		}
	}

	rt, err := bootstrap(cfg)
	if err != nil {
		logrus.Fatalf("[REST] Bootstrap failed: %v", err)
	}

	app := rest.NewApp(cfg, rest.AppDependencies{
		Manager:  rt.manager,
		Ingestor: rt.ingestor,
		Audit:    rt.auditStore,
		Hub:      rt.hub,
		Checks:   rt.healthChecks(),
	})

	// Graceful shutdown handler
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		logrus.Info("[REST] Reception of termination signal, shutting down gracefully...")
		if err := app.Shutdown(); err != nil {
			logrus.Errorf("[REST] Error during Fiber shutdown: %v", err)
		}
	}()

	addr := fmt.Sprintf(":%s", cfg.App.Port)
	logrus.Infof("[REST] Listening on %s (base path %q)", addr, cfg.App.BasePath)
	if err := app.Listen(addr); err != nil {
		logrus.Errorf("[REST] Server stopped: %v", err)
	}
	rt.Stop()
}
