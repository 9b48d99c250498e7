package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/jotworks/daybook/internal/blob"
	"github.com/jotworks/daybook/internal/config"
	"github.com/jotworks/daybook/internal/engine"
	"github.com/jotworks/daybook/internal/lifecycle"
	"github.com/jotworks/daybook/internal/remote"
	"github.com/jotworks/daybook/internal/router"
	"github.com/jotworks/daybook/internal/session"
	"github.com/jotworks/daybook/internal/syncer"
)

// app bundles the wired engine components behind one construction path so
// every subcommand assembles them identically.
type app struct {
	cfg     *config.Config
	store   *blob.FSStore
	mgr     *lifecycle.Manager
	machine *session.Machine
	sync    *syncer.Orchestrator
	router  *router.Router
	logger  *log.Logger
}

// newApp loads config, sets up logging and the engine compilation cache,
// and wires the component stack. The anonymous namespace is bootstrapped so
// the database exists before the first operation.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	var out io.Writer = os.Stderr
	if cfg.Log.File != "" {
		out = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   cfg.Log.File,
			MaxSize:    cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
		})
	}
	logger := log.New(out, "[daybookd] ", log.LstdFlags)

	if err := engine.UseCompilationCache(cfg.CacheDir); err != nil {
		logger.Printf("WARNING: %v", err)
	}

	store, err := blob.NewFSStore(cfg.DataDir)
	if err != nil {
		return nil, err
	}

	mgr := lifecycle.New(store, log.New(out, "[lifecycle] ", log.LstdFlags))
	machine := session.New(mgr, log.New(out, "[session] ", log.LstdFlags))

	var client remote.Client = remote.NewHTTPClient(remote.HTTPConfig{
		BaseURL: cfg.Server.BaseURL,
		Token:   cfg.Server.Token,
	})

	orch := syncer.New(mgr, machine, client, log.New(out, "[sync] ", log.LstdFlags))
	if cfg.Server.BaseURL == "" {
		// No server configured: run purely local, queueing writes until a
		// server is added.
		orch.SetOnline(false)
	}
	rt := router.New(mgr, machine, orch, log.New(out, "[router] ", log.LstdFlags))

	if err := rt.Bootstrap(ctx); err != nil {
		return nil, fmt.Errorf("failed to bootstrap anonymous namespace: %w", err)
	}

	a := &app{
		cfg:     cfg,
		store:   store,
		mgr:     mgr,
		machine: machine,
		sync:    orch,
		router:  rt,
		logger:  logger,
	}
	a.restoreSession(ctx)
	return a, nil
}

func (a *app) sessionPath() string {
	return filepath.Join(a.cfg.DataDir, "session.json")
}

type sessionFile struct {
	UserID string `json:"userId"`
}

// restoreSession re-enters the authenticated state recorded by a previous
// login, switching to the user's namespace without a sync.
func (a *app) restoreSession(ctx context.Context) {
	data, err := os.ReadFile(a.sessionPath())
	if err != nil {
		return
	}
	var sf sessionFile
	if err := json.Unmarshal(data, &sf); err != nil || sf.UserID == "" {
		return
	}
	ok, err := a.machine.BeginLogin(ctx, sf.UserID, false, false)
	if err != nil || !ok {
		a.logger.Printf("WARNING: failed to restore session for %s: %v", sf.UserID, err)
		return
	}
	a.machine.CompleteLogin(sf.UserID)
}

func (a *app) saveSession(userID string) error {
	data, err := json.Marshal(sessionFile{UserID: userID})
	if err != nil {
		return err
	}
	if err := os.WriteFile(a.sessionPath(), data, 0o600); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

func (a *app) clearSession() {
	_ = os.Remove(a.sessionPath())
}

// close persists the open namespace and releases the handle.
func (a *app) close(ctx context.Context) {
	if err := a.mgr.Persist(ctx); err != nil {
		a.logger.Printf("WARNING: final persist failed: %v", err)
	}
	a.mgr.Close()
}
