package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/gin-gonic/gin"
	"github.com/smartcontractkit/freeport"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/averix/toolgate/internal/devstack"
	"github.com/averix/toolgate/internal/healthcheck"
	"github.com/averix/toolgate/internal/logger"
)

func main() {
	app := &cli.App{
		Name:  "devstack",
		Usage: "run a local toolgate service stack",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "devstack.toml",
				Usage:   "devstack config file",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Value: "info",
				Usage: "debug, info, warn, error",
			},
		},
		Commands: []*cli.Command{
			{
				Name:    "up",
				Aliases: []string{"u"},
				Usage:   "start every service, wait until healthy, keep running",
				Action:  runUp,
			},
			{
				Name:    "status",
				Aliases: []string{"st"},
				Usage:   "probe every fixed-port service once and print the result",
				Action:  runStatus,
			},
			{
				Name:    "wait",
				Aliases: []string{"w"},
				Usage:   "block until every fixed-port service is healthy",
				Flags: []cli.Flag{
					&cli.DurationFlag{
						Name:  "timeout",
						Value: 2 * time.Minute,
					},
				},
				Action: runWait,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func runUp(c *cli.Context) error {
	cfg, err := devstack.LoadConfig(c.String("config"))
	if err != nil {
		return err
	}

	zl, err := logger.New(&logger.Config{
		Level:      c.String("log-level"),
		Format:     "console",
		Output:     "stdout",
		TimeFormat: "15:04:05.000",
	})
	if err != nil {
		return err
	}
	defer func() {
		_ = zl.Sync()
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	manager, err := devstack.NewManager(cfg, zl)
	if err != nil {
		return err
	}
	defer manager.Stop()

	if err := manager.Start(ctx); err != nil {
		return err
	}
	if err := manager.WaitHealthy(ctx); err != nil {
		return err
	}

	for service, addrs := range manager.Addresses() {
		zl.Info("service ready",
			zap.String("service", service),
			zap.Strings("addrs", addrs))
	}

	if cfg.Router.Enabled {
		gin.SetMode(gin.ReleaseMode)

		router, err := devstack.NewRouter(manager, cfg.Router, zl)
		if err != nil {
			return err
		}

		port := cfg.Router.Port
		if port == 0 {
			ports, err := freeport.Take(1)
			if err != nil {
				return fmt.Errorf("allocate router port: %w", err)
			}
			port = ports[0]
		}

		go func() {
			if err := router.Run(port); err != nil {
				zl.Error("dev router failed", zap.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = router.Shutdown(shutdownCtx)
		}()
	}

	<-ctx.Done()
	zl.Info("Shutting down devstack...")
	return nil
}

func runStatus(c *cli.Context) error {
	cfg, err := devstack.LoadConfig(c.String("config"))
	if err != nil {
		return err
	}

	targets := cfg.StaticTargets()
	if len(targets) == 0 {
		return fmt.Errorf("no services with fixed ports to probe")
	}

	checker := healthcheck.NewChecker(&healthcheck.Config{
		Targets:     targets,
		Timeout:     cfg.Health.Timeout,
		MaxFailures: 1,
		Parallel:    true,
	}, zap.NewNop())
	checker.CheckNow(c.Context)

	fmt.Printf("%-20s %-22s %-10s %s\n", "TARGET", "ADDR", "STATE", "DETAIL")
	for _, target := range targets {
		status, _ := checker.GetStatus(target.Name)
		state := "healthy"
		detail := ""
		if !status.Healthy {
			state = "unhealthy"
			detail = status.LastError
		}
		fmt.Printf("%-20s %-22s %-10s %s\n", status.Target, status.Addr, state, detail)
	}
	fmt.Println("overall:", checker.Overall())

	return nil
}

func runWait(c *cli.Context) error {
	cfg, err := devstack.LoadConfig(c.String("config"))
	if err != nil {
		return err
	}

	targets := cfg.StaticTargets()
	if len(targets) == 0 {
		return fmt.Errorf("no services with fixed ports to probe")
	}

	ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
	defer cancel()

	checker := healthcheck.NewChecker(&healthcheck.Config{
		Targets:     targets,
		Timeout:     cfg.Health.Timeout,
		MaxFailures: 1,
		Parallel:    true,
	}, zap.NewNop())

	err = retry.Do(func() error {
		checker.CheckNow(ctx)
		if checker.Overall() != healthcheck.Healthy {
			waiting := len(targets) - len(checker.Healthy())
			return fmt.Errorf("%d of %d targets not healthy yet", waiting, len(targets))
		}
		return nil
	},
		retry.Context(ctx),
		retry.Attempts(0), // until healthy or the timeout cancels the context
		retry.Delay(500*time.Millisecond),
		retry.DelayType(retry.FixedDelay),
	)
	if err != nil {
		return fmt.Errorf("stack did not become healthy: %w", err)
	}

	fmt.Println("all targets healthy")
	return nil
}
