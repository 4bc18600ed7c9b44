package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/LinuxSuRen/wechaty/internal/admin"
	"github.com/LinuxSuRen/wechaty/internal/bridge"
	"github.com/LinuxSuRen/wechaty/internal/bridge/wsrpc"
	"github.com/LinuxSuRen/wechaty/internal/config"
	"github.com/LinuxSuRen/wechaty/internal/profile"
	"github.com/LinuxSuRen/wechaty/internal/puppet"
	"github.com/LinuxSuRen/wechaty/internal/telegram"
	"github.com/LinuxSuRen/wechaty/internal/telemetry"
)

func init() {
	serveCmd.Flags().Bool("mirror", false, "mirror inbound text messages to the telegram chat")
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the puppet daemon",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func writePIDFile(cfg *config.Config) (string, error) {
	pidPath := cfg.PIDFile()
	pid := os.Getpid()
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(pid)+"\n"), 0644); err != nil {
		return "", fmt.Errorf("write PID file: %w", err)
	}
	return pidPath, nil
}

// puppetConfig maps the parsed settings onto the supervisor config.
func puppetConfig(cfg *config.Config) (puppet.Config, error) {
	t, err := cfg.Timeouts()
	if err != nil {
		return puppet.Config{}, err
	}
	return puppet.Config{
		ConnectivityTimeout: t.Connectivity,
		FirstLoginTimeout:   t.FirstLogin,
		ScanTimeout:         t.Scan,
		PersistWindow:       t.PersistWindow,
		StableInterval:      t.StableInterval,
		StableTimeout:       t.StableTimeout,
		KeepaliveSchedule:   cfg.Session.Keepalive,
	}, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupLogging(cfg)

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	pcfg, err := puppetConfig(cfg)
	if err != nil {
		return err
	}
	if err := profile.ValidateName(cfg.Profile.Name); err != nil {
		return err
	}

	pidPath, err := writePIDFile(cfg)
	if err != nil {
		return err
	}
	defer os.Remove(pidPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := telemetry.Setup(ctx, "wechaty", cfg.OTel.Endpoint)
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		if err := shutdownTracing(sctx); err != nil {
			slog.Warn("tracing shutdown failed", "error", err)
		}
	}()

	store, err := openProfileStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	jar := profile.NewJar(store, cfg.Profile.Name)

	newBridge := func() (bridge.Bridge, error) {
		return wsrpc.New(cfg.Bridge.URL, cfg.Profile.Name, jar), nil
	}
	b, _ := newBridge()
	p, err := puppet.New(b, pcfg,
		puppet.WithCookieSaver(jar),
		puppet.WithFactory(newBridge),
		puppet.WithMaxConcurrent(int64(cfg.MaxConcurrent)),
	)
	if err != nil {
		return fmt.Errorf("create puppet: %w", err)
	}
	defer func() {
		cctx, ccancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer ccancel()
		if err := p.Close(cctx); err != nil {
			slog.Warn("puppet close failed", "error", err)
		}
	}()

	// Wait for the contact list to settle after each login.
	p.Events().Login.Subscribe(func(userID string) {
		go func() {
			if err := p.ReadyStable(ctx); err != nil {
				slog.Warn("contact list did not stabilize", "user_id", userID, "error", err)
				return
			}
			slog.Info("contact list ready", "user_id", userID)
		}()
	})

	if cfg.HTTP.Enabled {
		srv := admin.NewServer(p, cfg.HTTP.CORSOrigins)
		go func() {
			if err := srv.Run(ctx, cfg.HTTP.Listen); err != nil {
				slog.Error("admin server error", "error", err)
			}
		}()
	}

	if cfg.Telegram.Token != "" && cfg.Telegram.ChatID != 0 {
		var opts []telegram.Option
		if mirror, _ := cmd.Flags().GetBool("mirror"); mirror {
			opts = append(opts, telegram.WithMirror())
		}
		notifier, err := telegram.New(cfg.Telegram.Token, cfg.Telegram.ChatID, p, opts...)
		if err != nil {
			return fmt.Errorf("create telegram notifier: %w", err)
		}
		go notifier.Start(ctx)
		slog.Info("telegram notifier started")
	} else {
		slog.Warn("telegram notifier disabled (no token or chat id)")
	}

	if err := p.Start(ctx); err != nil {
		return fmt.Errorf("start puppet: %w", err)
	}

	slog.Info("wechaty started",
		"data_dir", cfg.DataDir,
		"log_level", cfg.LogLevel,
		"profile", cfg.Profile.Name,
		"profile_driver", cfg.Profile.Driver,
		"bridge_url", cfg.Bridge.URL,
		"pid_file", pidPath,
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	for {
		sig := <-sigChan
		if sig == syscall.SIGHUP {
			slog.Info("received SIGHUP, restarting")
			execPath, err := os.Executable()
			if err != nil {
				slog.Error("failed to get executable path", "error", err)
				continue
			}
			// Persist the jar and release the bridge before re-exec.
			if err := p.SaveCookies(ctx); err != nil {
				slog.Warn("save cookies before restart", "error", err)
			}
			sctx, scancel := context.WithTimeout(context.Background(), 30*time.Second)
			if err := p.Stop(sctx); err != nil {
				slog.Warn("stop before restart", "error", err)
			}
			scancel()
			os.Remove(pidPath)
			if err := syscall.Exec(execPath, os.Args, os.Environ()); err != nil {
				slog.Error("failed to re-exec", "error", err)
				if _, writeErr := writePIDFile(cfg); writeErr != nil {
					slog.Error("failed to re-write PID file", "error", writeErr)
				}
				if err := p.Start(ctx); err != nil {
					slog.Error("restart puppet after failed re-exec", "error", err)
				}
				continue
			}
		}
		slog.Info("shutting down", "signal", sig)
		return nil
	}
}
