package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"starchat/handler"
	"starchat/internal/config"
	"starchat/internal/integrations/huggingface"
	"starchat/internal/integrations/paramstore"
	"starchat/internal/repository"
	"starchat/internal/usecase"
)

// App holds the wired request handler and the resources it owns.
type App struct {
	Handler *handler.Handler
	closers []func() error
}

// Close releases the persistence client.
func (a *App) Close() error {
	var errs []error
	for _, c := range a.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}

var openSQLite = repository.NewSQLiteStore

// Build wires persistence, dispatch and the services from cfg. The AWS SDK
// config is only loaded when a component needs it. Resources opened before a
// failure are closed again.
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	a := &App{}
	if err := a.wire(ctx, cfg); err != nil {
		return nil, errors.Join(err, a.Close())
	}
	return a, nil
}

func (a *App) wire(ctx context.Context, cfg config.Config) error {
	var clientsLoaded bool
	var clients awsClients
	loadAWS := func() (awsClients, error) {
		if clientsLoaded {
			return clients, nil
		}
		c, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return awsClients{}, fmt.Errorf("app: load AWS config: %w", err)
		}
		clients, clientsLoaded = awsClients{dynamo: awsdynamodb.NewFromConfig(c), ssm: awsssm.NewFromConfig(c)}, true
		return clients, nil
	}

	var store usecase.Gateway
	switch cfg.StoreBackend {
	case config.BackendSQLite:
		s, err := openSQLite(cfg.SQLitePath)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, s.Close)
		store = s
	default:
		ac, err := loadAWS()
		if err != nil {
			return err
		}
		c, err := repository.New(ac.dynamo, cfg.StateTable)
		if err != nil {
			return err
		}
		store = c
	}

	var gen usecase.Generator
	if cfg.RemoteInferenceEnabled() {
		opts := []huggingface.Option{}
		if cfg.InferenceBaseURL != "" {
			opts = append(opts, huggingface.WithBaseURL(cfg.InferenceBaseURL))
		}
		var getter huggingface.Getter
		if cfg.InferenceAPIToken != "" {
			opts = append(opts, huggingface.WithAPIToken(cfg.InferenceAPIToken))
		} else {
			ac, err := loadAWS()
			if err != nil {
				return err
			}
			ps, err := paramstore.New(ac.ssm)
			if err != nil {
				return err
			}
			getter = ps
		}
		client, err := huggingface.NewClient(getter, cfg.ParamPrefix, opts...)
		if err != nil {
			return err
		}
		gen = client
	} else {
		slog.Warn("no inference credentials configured; remote models answer with the local stub")
	}

	dispatcher, err := usecase.NewDispatcher(gen, usecase.DispatcherConfig{
		RemoteModels: cfg.RemoteModels,
		StubModels:   cfg.StubModels,
		NoContentErr: huggingface.ErrNoContent,
	}, slog.Default())
	if err != nil {
		return err
	}

	conv, err := usecase.NewConversationService(dispatcher, store, cfg.MaxMessageLen, slog.Default())
	if err != nil {
		return err
	}
	stars, err := usecase.NewStarService(store, slog.Default())
	if err != nil {
		return err
	}
	h, err := handler.NewHandler(conv, stars)
	if err != nil {
		return err
	}
	a.Handler = h
	return nil
}

type awsClients struct {
	dynamo *awsdynamodb.Client
	ssm    *awsssm.Client
}
