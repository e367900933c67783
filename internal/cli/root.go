// Package cli wires the shipctl command surface: deploy, deploy-status,
// deploy-history, deploy-cancel, deploy-retry, rollback, rollback-status,
// rollback-verify, and a set of read-only descriptor inspection commands.
package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kubilitics/shipctl/internal/adapter"
	"github.com/kubilitics/shipctl/internal/adapterplugin"
	"github.com/kubilitics/shipctl/internal/config"
	"github.com/kubilitics/shipctl/internal/credential"
	"github.com/kubilitics/shipctl/internal/descriptor"
	"github.com/kubilitics/shipctl/internal/logging"
	"github.com/kubilitics/shipctl/internal/notifier"
	"github.com/kubilitics/shipctl/internal/pipeline"
	"github.com/kubilitics/shipctl/internal/rollback"
	"github.com/kubilitics/shipctl/internal/state"
	"github.com/kubilitics/shipctl/internal/store"
)

// Version is set by the build (ldflags); "dev" outside a release build.
var Version = "dev"

type app struct {
	cfg      *config.Config
	store    *store.Store
	registry *descriptor.Registry
	adapters *adapter.Registry
	pipeline *pipeline.Executor
	rollback *rollback.Engine
	logger   *zap.Logger
	notify   notifier.Notifier
	prefs    *state.Store

	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

// NewRootCommand builds the shipctl cobra command tree. It fails open
// on missing optional wiring (e.g. no descriptors directory) and defers
// hard failures to PersistentPreRunE so `shipctl --help` always works.
func NewRootCommand() *cobra.Command {
	return newRootCommand(os.Stdin, os.Stdout, os.Stderr)
}

func NewRootCommandWithIO(in io.Reader, out, errOut io.Writer) *cobra.Command {
	return newRootCommand(in, out, errOut)
}

func newRootCommand(in io.Reader, out, errOut io.Writer) *cobra.Command {
	a := &app{stdin: in, stdout: out, stderr: errOut}

	var configPath string
	cmd := &cobra.Command{
		Use:           "shipctl",
		Short:         "Multi-platform package deployment orchestrator",
		Long:          "shipctl drives a package through validate, build, deploy, verify and optional rollback across heterogeneous registries, persisting a durable transaction record of every step.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       Version,
	}
	cmd.PersistentFlags().StringVar(&configPath, "config", "", "path to shipctl config file (optional)")

	cmd.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		if cmd.Name() == "version" || cmd.Name() == "completion" {
			return nil
		}
		return a.init(configPath)
	}

	cmd.AddCommand(
		newDeployCmd(a),
		newDeployStatusCmd(a),
		newDeployHistoryCmd(a),
		newDeployCancelCmd(a),
		newDeployRetryCmd(a),
		newRollbackCmd(a),
		newRollbackStatusCmd(a),
		newRollbackVerifyCmd(a),
		newDescriptorCmd(a),
		newCredentialCmd(a),
		newTargetsCmd(a),
		newVersionCmd(),
	)

	cmd.SetOut(a.stdout)
	cmd.SetErr(a.stderr)
	cmd.SetErrPrefix("shipctl: ")
	return cmd
}

// init performs the one-time wiring every command except version/completion
// needs: config, logging, descriptor registry, adapter registry, store,
// pipeline executor, rollback engine.
func (a *app) init(configPath string) error {
	mgr := config.NewManager(configPath)
	if err := mgr.Load(); err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := mgr.Validate(); err != nil {
		return err
	}
	a.cfg = mgr.Get()

	logCfg := logging.DefaultConfig()
	logCfg.Level = a.cfg.Logging.Level
	logCfg.Path = a.cfg.Logging.Path
	logCfg.Console = true
	logger, err := logging.New(logCfg)
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	a.logger = logger

	a.registry = descriptor.NewRegistry()
	if _, statErr := os.Stat(a.cfg.DescriptorDir); statErr == nil {
		if err := a.registry.LoadDir(a.cfg.DescriptorDir); err != nil {
			return fmt.Errorf("load descriptors: %w", err)
		}
	}

	auditFn := func(tool string, args []string, exitCode int, durationMS int64) {
		a.logger.Debug("adapter exec", zap.String("tool", tool), zap.Strings("args", args), zap.Int("exit_code", exitCode), zap.Int64("duration_ms", durationMS))
	}
	a.adapters = adapter.NewRegistry()
	a.adapters.Register(adapter.NewNPMAdapter(auditFn))
	a.adapters.Register(adapter.NewPyPIAdapter(auditFn))
	a.adapters.Register(adapter.NewCargoAdapter(auditFn))
	a.adapters.Register(adapter.NewDockerAdapter(auditFn))
	for _, desc := range a.registry.List() {
		if a.adapters.Has(desc.Name) {
			continue
		}
		if plug, err := adapterplugin.New(desc.Name, desc.DeployTimeout, auditFn); err == nil {
			a.adapters.Register(plug)
		}
	}

	s, err := store.Open(a.cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	a.store = s

	txLog := logging.NewTransactionLog(filepath.Join(a.cfg.DataDir, "logs"))
	rollbackEngine := &rollback.Engine{Store: a.store, Registry: a.registry, Adapters: a.adapters, Logger: txLog}
	a.rollback = rollbackEngine

	a.pipeline = &pipeline.Executor{
		Store:    a.store,
		Registry: a.registry,
		Adapters: a.adapters,
		Rollback: rollbackEngine,
		Logger:   txLog,
	}

	prefs, err := state.Load()
	if err != nil {
		return fmt.Errorf("load preferences: %w", err)
	}
	a.prefs = prefs

	if a.cfg.Notifier.WebhookURL != "" {
		a.notify = notifier.Multi{notifier.LogNotifier{Logger: a.logger}, notifier.NewWebhookNotifier(a.cfg.Notifier.WebhookURL)}
	} else {
		a.notify = notifier.LogNotifier{Logger: a.logger}
	}

	return nil
}

func (a *app) credentialResolver() credential.Resolver {
	if a.cfg.CredentialBackend == "keychain" {
		return credential.KeychainResolver{}
	}
	return credential.EnvResolver{}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the shipctl version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "shipctl %s\n", Version)
			return nil
		},
	}
}

// expandTargets parses a comma-separated target list, expanding any
// "@group" reference against the saved target groups in place.
func (a *app) expandTargets(csv string) []string {
	raw := parseTargets(csv)
	out := make([]string, 0, len(raw))
	for _, t := range raw {
		if strings.HasPrefix(t, "@") {
			out = append(out, a.prefs.ResolveTargets(t)...)
			continue
		}
		out = append(out, t)
	}
	return out
}

// anyTargetRollbackCapable reports whether at least one of targets has
// a descriptor with rollback_capability != none, per the default that
// auto-rollback is on whenever a pipeline touches a recoverable
// platform.
func (a *app) anyTargetRollbackCapable(targets []string) bool {
	for _, name := range targets {
		desc, err := a.registry.Get(name)
		if err != nil {
			continue
		}
		if desc.RollbackCapability != descriptor.RollbackNone {
			return true
		}
	}
	return false
}

func parseTargets(csv string) []string {
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
