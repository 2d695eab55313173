package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	statusadapter "github.com/boxvps/boxvpsd/internal/adapters/render/status"
	"github.com/boxvps/boxvpsd/internal/adapters/proto/l2tp"
	"github.com/boxvps/boxvpsd/internal/adapters/proto/openvpn"
	"github.com/boxvps/boxvpsd/internal/adapters/proto/ssh"
	"github.com/boxvps/boxvpsd/internal/adapters/proto/xray"
	tomlrepo "github.com/boxvps/boxvpsd/internal/adapters/repo/toml"
	"github.com/boxvps/boxvpsd/internal/application"
	"github.com/boxvps/boxvpsd/internal/config"
	"github.com/boxvps/boxvpsd/internal/domain"
	"github.com/boxvps/boxvpsd/internal/fleet"
	"github.com/boxvps/boxvpsd/internal/ports"
)

type app struct {
	cfg      config.Config
	service  *application.Service
	backups  *application.Backups
	health   *application.HealthChecker
	fleet    *fleet.Fleet
	renderer func([]application.AccountStatus, statusadapter.RenderOptions) string
	logger   *slog.Logger
}

func wireApp() (*app, error) {
	cfg, err := config.Load(os.Getenv("BOXVPSD_CONFIG_DIR"))
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))

	repo, err := tomlrepo.NewRepository(cfg.AccountsPath(), ports.SystemClock{})
	if err != nil {
		return nil, fmt.Errorf("wire account repository: %w", err)
	}

	adapters, err := buildAdapters(cfg)
	if err != nil {
		return nil, err
	}

	service := application.NewService(repo, adapters, application.ServiceOptions{
		Logger:         logger,
		AdapterTimeout: cfg.Tracker.AdapterTimeout,
	})
	backups := application.NewBackups(cfg.DataDir, filepath.Join(cfg.DataDir, "backups"), nil)

	return &app{
		cfg:      cfg,
		service:  service,
		backups:  backups,
		health:   application.NewHealthChecker(ports.ExecRunner{}, cfg.Daemons),
		fleet:    fleet.New(cfg.FleetServers()),
		renderer: statusadapter.Render,
		logger:   logger,
	}, nil
}

func buildAdapters(cfg config.Config) (map[domain.Protocol]ports.ProtocolAdapter, error) {
	runner := ports.ExecRunner{}
	disconnect := cfg.Tracker.DisconnectOnBreach

	sshAdapter, err := ssh.NewWithSystemFilter(runner, ssh.Options{
		Chain:      cfg.SSH.AccountingChain,
		Shell:      cfg.SSH.Shell,
		Disconnect: disconnect,
	})
	if err != nil {
		return nil, fmt.Errorf("wire ssh adapter: %w", err)
	}

	adapters := map[domain.Protocol]ports.ProtocolAdapter{
		domain.ProtocolSSH: sshAdapter,
		domain.ProtocolOpenVPN: openvpn.New(openvpn.Options{
			CCDDir:         cfg.OpenVPN.CCDDir,
			AuthFile:       cfg.OpenVPN.AuthFile,
			StatusLog:      cfg.OpenVPN.StatusLog,
			ManagementAddr: cfg.OpenVPN.ManagementAddr,
			Disconnect:     disconnect,
		}),
		domain.ProtocolL2TP: l2tp.New(runner, l2tp.Options{
			SecretsFile: cfg.L2TP.SecretsFile,
			Disconnect:  disconnect,
		}),
	}

	for _, adapter := range xray.Family(runner, xray.Options{
		ConfDir:        cfg.Xray.ConfDir,
		StatsURL:       cfg.Xray.StatsURL,
		ReloadCommand:  cfg.Xray.ReloadCommand,
		ReloadDebounce: cfg.Xray.ReloadDebounce,
	}) {
		adapters[adapter.Protocol()] = adapter
	}

	return adapters, nil
}
