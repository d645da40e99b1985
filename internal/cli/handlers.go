package cli

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"

	"github.com/recmig/recmig/internal/config"
	"github.com/recmig/recmig/internal/remote"
	"github.com/recmig/recmig/internal/store"
	"github.com/recmig/recmig/pkg/database"
	"github.com/recmig/recmig/pkg/logger"
)

// app bundles the wired dependencies a command needs. Environments are
// connected lazily so config and queue inspection work offline.
type app struct {
	cfg   *config.Config
	store *store.Store

	mongoClients []*mongo.Client
}

func newApp() (*app, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}

	if cfg.LogFile != "" {
		if err := logger.InitLogger(cfg.LogFile); err != nil {
			return nil, fmt.Errorf("opening log file: %w", err)
		}
	}

	st, err := store.Open(cfg.StoreDriver, cfg.StoreDSN)
	if err != nil {
		return nil, err
	}
	return &app{cfg: cfg, store: st}, nil
}

func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, c := range a.mongoClients {
		_ = c.Disconnect(ctx)
	}
	a.store.Close()
	logger.Close()
}

// environments connects both remote environments.
func (a *app) environments() (source, target remote.Client, err error) {
	if err := a.cfg.RequireEnvironments(); err != nil {
		return nil, nil, err
	}
	source, err = a.connect(a.cfg.SourceURI, a.cfg.SourceDB)
	if err != nil {
		return nil, nil, err
	}
	target, err = a.connect(a.cfg.TargetURI, a.cfg.TargetDB)
	if err != nil {
		return nil, nil, err
	}
	return source, target, nil
}

// targetEnvironment connects only the target side, for queue workers.
func (a *app) targetEnvironment() (remote.Client, error) {
	if a.cfg.TargetURI == "" {
		return nil, fmt.Errorf("TARGET_CONNECTION_STRING environment variable not set")
	}
	return a.connect(a.cfg.TargetURI, a.cfg.TargetDB)
}

func (a *app) connect(uri, dbName string) (remote.Client, error) {
	client, err := database.ConnectMongo(uri)
	if err != nil {
		return nil, err
	}
	a.mongoClients = append(a.mongoClients, client)
	if dbName == "" {
		dbName = "recmig"
	}
	return remote.NewMongoEnvironment(client, dbName), nil
}
