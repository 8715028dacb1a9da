package agent

import (
	"context"
	"sync"
	"time"

	"github.com/nkashyap/hireflow/analytics"
	"github.com/nkashyap/hireflow/approval"
	"github.com/nkashyap/hireflow/cache"
	"github.com/nkashyap/hireflow/catalog"
	"github.com/nkashyap/hireflow/clarification"
	"github.com/nkashyap/hireflow/config"
	"github.com/nkashyap/hireflow/container"
	"github.com/nkashyap/hireflow/engine"
	"github.com/nkashyap/hireflow/executor"
	"github.com/nkashyap/hireflow/rest"
	"github.com/nkashyap/hireflow/scheduler"
	"github.com/nkashyap/hireflow/service"
	"github.com/nkashyap/hireflow/util"
)

// Agent assembles the engine: storage, catalog, coordinator, approval gate,
// clarification bridge, delay scheduler and the http surface.
type Agent struct {
	Config           config.Config
	registry         *executor.Registry
	container        *container.DIContainer
	catalog          *catalog.Catalog
	coordinator      *engine.Coordinator
	gate             *approval.Gate
	bridge           *clarification.Bridge
	scheduler        *scheduler.Scheduler
	executionService *service.WorkflowExecutionService
	httpServer       *rest.Server
	audit            *analytics.ExecutionAuditLog
	locks            *util.KeyedMutex
	stateCache       *cache.ExecutionStateCache
	shutdown         bool
	shutdownLock     sync.Mutex
	wg               sync.WaitGroup
}

// New builds an agent. The registry carries the step executors of the
// embedding application; the engine only dispatches into it.
func New(conf config.Config, registry *executor.Registry) (*Agent, error) {
	a := &Agent{
		Config:   conf,
		registry: registry,
	}
	setup := []func() error{
		a.setupStorage,
		a.setupCatalog,
		a.setupEngine,
		a.setupScheduler,
		a.setupHttpServer,
	}
	for _, fn := range setup {
		if err := fn(); err != nil {
			return nil, err
		}
	}
	return a, nil
}

func (a *Agent) setupStorage() error {
	a.container = container.NewDiContainer()
	return a.container.Init(a.Config)
}

func (a *Agent) setupCatalog() error {
	var err error
	a.catalog, err = catalog.LoadFile(a.Config.DefinitionsFile)
	return err
}

func (a *Agent) setupEngine() error {
	if a.Config.AuditLogFile != "" {
		audit, err := analytics.NewExecutionAuditLog(a.Config.AuditLogFile)
		if err != nil {
			return err
		}
		a.audit = audit
	}
	a.locks = util.NewKeyedMutex()
	a.stateCache = cache.NewExecutionStateCache()
	storage := a.container.GetExecutionStorage()
	a.bridge = clarification.NewBridge(storage, a.locks)
	a.gate = approval.NewGate(storage, a.locks, a.audit)
	a.coordinator = engine.NewCoordinator(a.catalog, storage, a.registry, a.bridge, a.locks, a.stateCache, a.audit, engine.Options{
		ExecutorTimeout:          time.Duration(a.Config.ExecutorTimeoutSeconds) * time.Second,
		MaxExecutorAttempts:      a.Config.MaxExecutorAttempts,
		AllowDuplicateExecutions: a.Config.AllowDuplicateExecutions,
	})
	a.executionService = service.NewWorkflowExecutionService(a.coordinator, a.gate, a.bridge, storage, a.stateCache)
	return nil
}

func (a *Agent) setupScheduler() error {
	advance := func(executionId string) error {
		return a.coordinator.Advance(context.Background(), executionId)
	}
	a.scheduler = scheduler.New(
		a.container.GetExecutionStorage(),
		advance,
		time.Duration(a.Config.PollIntervalSeconds)*time.Second,
		a.Config.WakeupWorkerCapacity,
		&a.wg,
	)
	a.coordinator.SetScheduler(a.scheduler)
	return nil
}

func (a *Agent) setupHttpServer() error {
	var err error
	a.httpServer, err = rest.NewServer(a.Config.HttpPort, a.executionService)
	return err
}

func (a *Agent) Start() error {
	a.scheduler.Start()
	go func() {
		if err := a.httpServer.Start(); err != nil {
			_ = a.Shutdown()
		}
	}()
	return nil
}

func (a *Agent) Shutdown() error {
	a.shutdownLock.Lock()
	defer a.shutdownLock.Unlock()
	if a.shutdown {
		return nil
	}
	a.shutdown = true

	shutdown := []func() error{
		a.httpServer.Stop,
		func() error {
			a.scheduler.Stop()
			return nil
		},
		a.container.Close,
	}
	for _, fn := range shutdown {
		if err := fn(); err != nil {
			return err
		}
	}
	a.wg.Wait()
	return nil
}
