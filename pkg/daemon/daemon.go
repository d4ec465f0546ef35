package daemon

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/dgraph-io/badger"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/remapd/remapd/internal/configsvc"
	"github.com/remapd/remapd/internal/injectsvc"
	"github.com/remapd/remapd/internal/keysym"
	"github.com/remapd/remapd/internal/macro"
	"github.com/remapd/remapd/internal/outdev"
	"github.com/remapd/remapd/internal/varstore"
	"github.com/remapd/remapd/mapapi"
	"github.com/remapd/remapd/pkg/bus"
)

type Daemon struct {
	config Config
	log    *zap.Logger

	db        *badger.DB
	symbols   *keysym.Table
	vars      *varstore.Store
	registry  *outdev.Registry
	configSvc *configsvc.Service
	backend   *injectsvc.EvdevBackend
	status    *injectsvc.StatusBus
	injectSvc *injectsvc.Service
}

func NewDaemon(config Config) (*Daemon, error) {
	loggerConfig := zap.NewDevelopmentConfig()
	loggerConfig.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000000000")
	loggerConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	logger, err := loggerConfig.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	dbOptions := badger.DefaultOptions(filepath.Join(config.DataDir, "db"))
	dbOptions.Logger = &badgerLogger{l: logger.Named("badger")}

	db, err := badger.Open(dbOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger db: %w", err)
	}

	symbols := keysym.New()
	vars := varstore.New(logger.Named("varstore"), db)
	registry := outdev.NewRegistry(logger)
	configSvc := configsvc.New(logger)
	backend := injectsvc.NewEvdevBackend(logger)
	status := bus.NewBus[string, mapapi.StatusEvent](logger.Named("status"))
	env := &macro.Environment{
		Log:       logger.Named("macro"),
		Symbols:   symbols,
		Variables: vars,
	}
	injectSvc := injectsvc.NewService(logger, backend, registry, env, status)

	return &Daemon{
		config:    config,
		log:       logger,
		db:        db,
		symbols:   symbols,
		vars:      vars,
		registry:  registry,
		configSvc: configSvc,
		backend:   backend,
		status:    status,
		injectSvc: injectSvc,
	}, nil
}

func (d *Daemon) Close() error {
	d.registry.Close()
	return d.db.Close()
}

type badgerLogger struct {
	l *zap.Logger
}

func (l badgerLogger) Errorf(msg string, args ...any) {
	l.l.Error(fmt.Sprintf(msg, args...))
}

func (l badgerLogger) Warningf(msg string, args ...any) {
	l.l.Warn(fmt.Sprintf(msg, args...))
}

func (l badgerLogger) Infof(msg string, args ...any) {
	l.l.Info(fmt.Sprintf(msg, args...))
}

func (l badgerLogger) Debugf(msg string, args ...any) {
	l.l.Debug(fmt.Sprintf(msg, args...))
}

// Run starts the daemon and blocks until the context is cancelled.
// Startup fails only on infrastructure errors. A preset that does not
// parse keeps the daemon running without active mappings, and the last
// valid preset stays applied when a live edit is broken.
func (d *Daemon) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return d.configSvc.Start(groupCtx)
	})
	group.Go(func() error {
		return d.vars.Start(groupCtx)
	})
	group.Go(func() error {
		return d.injectSvc.Run(groupCtx)
	})
	group.Go(func() error {
		return d.watchStatus(groupCtx)
	})
	group.Go(func() error {
		select {
		case <-groupCtx.Done():
			return nil
		case <-d.configSvc.Ready():
		}
		select {
		case <-groupCtx.Done():
			return nil
		case <-d.vars.Ready():
		}
		preset, err := configsvc.Register(d.configSvc, d.config.PresetConfig, configsvc.DefaultPreset(), func(p configsvc.Preset, err error) {
			if err != nil {
				d.log.Error("Failed to reload preset", zap.Error(err))
				return
			}
			d.apply(groupCtx, p)
		})
		if err != nil {
			return fmt.Errorf("failed to register preset config: %w", err)
		}
		d.apply(groupCtx, preset)
		return nil
	})

	err := group.Wait()
	if err != nil {
		return fmt.Errorf("daemon failed: %w", err)
	}
	return nil
}

func (d *Daemon) apply(ctx context.Context, preset configsvc.Preset) {
	cfg, opts, errs := preset.Compile()
	for _, err := range errs {
		d.log.Warn("Ignoring invalid mapping", zap.Error(err))
		d.status.Publish(ctx, "", mapapi.StatusEvent{
			Kind:    mapapi.StatusMappingError,
			Err:     err,
			Message: err.Error(),
		})
	}
	if err := d.injectSvc.Apply(ctx, cfg, opts); err != nil {
		d.log.Error("Failed to apply preset", zap.Error(err))
	}
}

func (d *Daemon) watchStatus(ctx context.Context) error {
	events := d.status.Subscribe(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-events:
			ev := msg.Message
			switch ev.Kind {
			case mapapi.StatusInjector:
				d.log.Info("Injector state changed",
					zap.String("group", ev.Group),
					zap.String("state", ev.State.String()))
			case mapapi.StatusMacroError:
				d.log.Warn("Macro failed",
					zap.String("group", ev.Group),
					zap.String("mapping", ev.Mapping),
					zap.Error(ev.Err))
			case mapapi.StatusMappingError:
				d.log.Warn("Mapping rejected",
					zap.String("mapping", ev.Mapping),
					zap.Error(ev.Err))
			}
		}
	}
}

// Backend exposes the evdev backend for CLI inspection commands.
func (d *Daemon) Backend() *injectsvc.EvdevBackend {
	return d.backend
}

// Symbols exposes the keysym table for CLI inspection commands.
func (d *Daemon) Symbols() *keysym.Table {
	return d.symbols
}

// MacroCompiler returns a compiler suitable for validating macro sources.
func (d *Daemon) MacroCompiler() *macro.Compiler {
	return macro.NewCompiler(&macro.Environment{
		Log:       d.log.Named("macro"),
		Symbols:   d.symbols,
		Variables: d.vars,
	})
}

// Status exposes the status bus for external consumers.
func (d *Daemon) Status() *injectsvc.StatusBus {
	return d.status
}
