package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"tabflow/internal/config"
	"tabflow/internal/domain"
	_ "tabflow/internal/etl/sinks"
	_ "tabflow/internal/etl/sources"
	"tabflow/internal/service"
	"tabflow/internal/storage"
)

// App wires settings, run history and the flow service for one CLI process.
type App struct {
	ctx context.Context

	settings config.Settings
	db       *storage.DB
	flows    *service.FlowService
}

func New() *App {
	return &App{}
}

// Startup reads settings from the environment. With history set it also opens
// the run-log store; commands that never record runs skip it.
func (a *App) Startup(ctx context.Context, history bool) error {
	a.ctx = ctx

	settings, err := config.LoadSettings()
	if err != nil {
		return err
	}
	a.settings = settings

	var store domain.RunLogStore
	if history {
		db, err := storage.New(settings.Store)
		if err != nil {
			return fmt.Errorf("open run history %s: %w", settings.Store, err)
		}
		a.db = db
		store = storage.NewRunLogStore(db)
	}

	a.flows = service.NewFlowService(store, service.LogEmitter{}, settings.RunTimeout)
	return nil
}

// Shutdown stops triggers, lets in-flight runs finish, then closes the store.
func (a *App) Shutdown(ctx context.Context) {
	if a.flows != nil {
		a.flows.Stop()
		waitCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		a.flows.WaitRunning(waitCtx)
		cancel()
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			log.Printf("app: close run history: %v", err)
		}
	}
}

// Flows returns the flow service. Valid after Startup.
func (a *App) Flows() *service.FlowService {
	return a.flows
}
