package app

import (
	"context"
	"fmt"

	"github.com/Freeeeeet/lesson_scheduler/internal/config"
	"github.com/Freeeeeet/lesson_scheduler/internal/events"
	"github.com/Freeeeeet/lesson_scheduler/internal/notify"
	"github.com/Freeeeeet/lesson_scheduler/internal/repository"
	"github.com/Freeeeeet/lesson_scheduler/internal/repository/memory"
	"github.com/Freeeeeet/lesson_scheduler/internal/service"
	"github.com/go-telegram/bot"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// App собранное ядро расписания: сервисы, доставка уведомлений и фоновые задачи
type App struct {
	Slots        *service.SlotService
	Packages     *service.PackageService
	Lessons      *service.LessonService
	GroupLessons *service.GroupLessonService

	dispatcher *notify.Dispatcher
	scheduler  *Scheduler
	logger     *zap.Logger
	closers    []func()
}

// storage хранилище, выбранное конфигурацией
type storage struct {
	tx            service.Transactor
	users         service.UserStore
	slots         service.SlotStore
	lessons       service.LessonStore
	packages      service.PackageStore
	groupLessons  service.GroupLessonStore
	registrations service.RegistrationStore
}

// New подключает хранилище, каналы уведомлений и создаёт сервисы
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	a := &App{logger: logger}

	st, err := a.openStorage(ctx, cfg)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}

	channels, err := a.openChannels(ctx, cfg, st.users)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}

	var publisher events.Publisher = events.Discard
	if len(channels) > 0 {
		a.dispatcher = notify.NewDispatcher(cfg.NotifyQueueSize, cfg.NotifyWorkers, logger.Named("notify"), channels...)
		publisher = a.dispatcher
	} else {
		logger.Warn("No notification channels configured, events will be discarded")
	}

	refund, err := service.ParseRefundPolicy(cfg.RefundPolicy)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}
	policy := service.CreditPolicy{
		ChargeLessons:       cfg.ChargeLessonCredits,
		ChargeGroupLessons:  cfg.ChargeGroupCredits,
		CreditsPerLesson:    cfg.CreditsPerLesson,
		Refund:              refund,
		LowCreditsThreshold: cfg.LowCreditsThreshold,
	}

	a.Slots = service.NewSlotService(st.tx, st.users, st.slots, st.lessons, cfg.DefaultSlotMinutes, logger)
	a.Packages = service.NewPackageService(st.tx, st.users, st.packages, publisher, policy.LowCreditsThreshold, logger)
	a.Lessons = service.NewLessonService(st.tx, st.users, st.lessons, a.Slots, a.Packages, publisher, policy, logger)
	a.GroupLessons = service.NewGroupLessonService(st.tx, st.users, st.groupLessons, st.registrations, a.Packages, publisher, policy, logger)

	a.scheduler = NewScheduler(a.GroupLessons, cfg.ReconcileInterval, logger.Named("scheduler"))

	logger.Info("Application initialised",
		zap.String("storage", cfg.StorageDriver),
		zap.String("refund_policy", string(refund)),
		zap.Int("credits_per_lesson", cfg.CreditsPerLesson),
		zap.Int("notification_channels", len(channels)),
	)

	return a, nil
}

func (a *App) openStorage(ctx context.Context, cfg *config.Config) (*storage, error) {
	if cfg.StorageDriver == config.StorageDriverMemory {
		a.logger.Warn("Using in-memory storage, data is lost on restart")
		m := memory.NewStore()
		return &storage{
			tx:            m,
			users:         m.Users,
			slots:         m.Slots,
			lessons:       m.Lessons,
			packages:      m.Packages,
			groupLessons:  m.GroupLessons,
			registrations: m.Registrations,
		}, nil
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.GetDBDSN())
	if err != nil {
		return nil, fmt.Errorf("parse db dsn: %w", err)
	}
	if cfg.DBMaxConns > 0 {
		poolCfg.MaxConns = cfg.DBMaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	a.closers = append(a.closers, pool.Close)

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if cfg.AutoMigrate {
		migrator, err := NewMigrator(pool, a.logger)
		if err != nil {
			return nil, err
		}
		defer migrator.Close()

		if err := migrator.Run(ctx); err != nil {
			return nil, err
		}
	}

	pg := repository.NewStore(pool)
	return &storage{
		tx:            pg.Tx,
		users:         pg.Users,
		slots:         pg.Slots,
		lessons:       pg.Lessons,
		packages:      pg.Packages,
		groupLessons:  pg.GroupLessons,
		registrations: pg.Registrations,
	}, nil
}

func (a *App) openChannels(ctx context.Context, cfg *config.Config, users service.UserStore) ([]notify.Channel, error) {
	var channels []notify.Channel

	if cfg.TelegramToken != "" {
		b, err := bot.New(cfg.TelegramToken)
		if err != nil {
			return nil, fmt.Errorf("create telegram bot: %w", err)
		}
		channels = append(channels, notify.NewTelegramChannel(b, users, a.logger.Named("telegram")))
	}

	if cfg.RedisAddr != "" {
		client, err := notify.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = client.Close() })
		channels = append(channels, notify.NewRedisChannel(client, cfg.RedisChannel))
	}

	return channels, nil
}

// Run запускает фоновые задачи и ждёт отмены ctx
func (a *App) Run(ctx context.Context) {
	a.scheduler.Start(ctx)
	<-ctx.Done()
	a.scheduler.Stop()
}

// Close дожидается доставки уведомлений и закрывает соединения
func (a *App) Close(ctx context.Context) {
	if a.dispatcher != nil {
		if err := a.dispatcher.Close(ctx); err != nil {
			a.logger.Warn("Notification queue not drained", zap.Error(err))
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
