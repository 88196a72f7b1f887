// Package finsync 组装任务服务：登记表、执行器、导入处理器、推送、定时调度与 HTTP 接口。
package finsync

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/mengeric/finsync/batch"
	"github.com/mengeric/finsync/client"
	"github.com/mengeric/finsync/config"
	"github.com/mengeric/finsync/executor"
	"github.com/mengeric/finsync/importer"
	"github.com/mengeric/finsync/logging"
	"github.com/mengeric/finsync/processor"
	"github.com/mengeric/finsync/relay"
	"github.com/mengeric/finsync/scheduler"
	"github.com/mengeric/finsync/storage"
	"github.com/mengeric/finsync/storage/gormstore"
	"github.com/mengeric/finsync/task"
)

// ErrClosed App 已关闭，不再接受任务。
var ErrClosed = errors.New("finsync: app closed")

const (
	relayInterval   = time.Second
	relayBatch      = 256
	shutdownTimeout = 30 * time.Second
)

// App 服务主对象。
// 说明：New 只做组装；Start 启动 HTTP、推送与调度；Shutdown 按调度 -> 任务 -> 推送 -> HTTP 的顺序关闭。
type App struct {
	cfg    config.Config
	listen string

	reg   *task.Registry
	exec  *executor.Executor
	procs *processor.Registry
	store storage.Store
	relay *relay.Relay
	sched *scheduler.Scheduler

	srv         *http.Server
	addrMu      sync.RWMutex
	addr        string
	relayCancel context.CancelFunc
	closing     chan struct{}
	closeOnce   sync.Once
	closers     []func() error
}

// New 按配置组装 App。
// 功能：打开并迁移数据库（未通过 WithStore 指定时）、连接 Redis/Kafka（配置了才连）、
// 注册 erp_sync 与 erp_probe 处理器、挂接推送与定时任务。
// 异常：数据库、Redis、Kafka 连接失败或 cron 表达式非法时返回错误，已打开的资源会被释放。
func New(cfg config.Config, opts ...Option) (*App, error) {
	cfg.WithDefaults()
	ac := &appConfig{}
	for _, fn := range opts {
		fn(ac)
	}
	a := &App{cfg: cfg, listen: cfg.HTTP.Listen, closing: make(chan struct{})}
	if ac.listen != "" {
		a.listen = ac.listen
	}
	if err := a.openStore(ac); err != nil {
		return nil, err
	}
	erp := ac.erp
	if erp == nil {
		erp = client.NewHTTPERP(client.Config{
			BaseURL:  cfg.ERP.BaseURL,
			Username: cfg.ERP.Username,
			Password: cfg.ERP.Password,
			Timeout:  cfg.ERP.Timeout,
		})
	}

	a.reg = task.NewRegistry(ac.reg...)
	a.exec = executor.New(a.reg, executor.WithMaxConcurrent(a.cfg.Tasks.MaxConcurrent))
	a.procs = processor.NewRegistry()
	a.procs.Register(importer.TaskType, importer.NewSync(erp, a.store, a.reg, importer.Options{
		PageSize: cfg.ERP.PageSize,
		Batch: batch.Options{
			BatchSize:   cfg.Import.BatchSize,
			ItemTimeout: cfg.Import.ItemTimeout,
			ReportEvery: cfg.Import.ReportEvery,
			MaxErrors:   cfg.Import.MaxErrors,
		},
	}))
	a.procs.Register(importer.ProbeTaskType, importer.NewProbe(erp))
	for name, p := range ac.extra {
		a.procs.Register(name, p)
	}

	sinks, err := a.buildSinks(ac)
	if err != nil {
		_ = a.close()
		return nil, err
	}
	a.relay = relay.New(relayInterval, relayBatch, sinks...)
	a.relay.Attach(a.reg)

	a.sched = scheduler.New()
	if err := a.schedule(); err != nil {
		_ = a.close()
		return nil, err
	}
	return a, nil
}

func (a *App) openStore(ac *appConfig) error {
	if ac.store != nil {
		a.store = ac.store
		return nil
	}
	db, err := gormstore.Open(a.cfg.Database.Driver, a.cfg.Database.DSN)
	if err != nil {
		return err
	}
	// SQLite 只有一个写者，导入任务串行执行
	if gormstore.IsSQLite(a.cfg.Database.Driver) && a.cfg.Tasks.MaxConcurrent != 1 {
		logging.L().Warn(context.Background(), "sqlite allows a single writer, running tasks one at a time",
			"configured", a.cfg.Tasks.MaxConcurrent)
		a.cfg.Tasks.MaxConcurrent = 1
	}
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("database handle: %w", err)
	}
	a.closers = append(a.closers, sqlDB.Close)
	if err := gormstore.Migrate(db); err != nil {
		_ = a.close()
		return fmt.Errorf("migrate: %w", err)
	}
	a.store = gormstore.New(db)
	return nil
}

func (a *App) buildSinks(ac *appConfig) ([]relay.Sink, error) {
	sinks := []relay.Sink{relay.NewArchiveSink(a.store)}
	if a.cfg.Redis.Addr != "" {
		rc, err := relay.ConnectRedis(context.Background(), a.cfg.Redis.Addr, a.cfg.Redis.Password, a.cfg.Redis.DB)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, rc.Close)
		sinks = append(sinks, relay.NewRedisSink(rc, a.cfg.Redis.StatusTTL))
	}
	if len(a.cfg.Kafka.Brokers) > 0 {
		p, err := relay.NewSyncProducer(a.cfg.Kafka.Brokers)
		if err != nil {
			return nil, fmt.Errorf("kafka producer: %w", err)
		}
		ks := relay.NewKafkaSink(p, a.cfg.Kafka.Topic)
		a.closers = append(a.closers, ks.Close)
		sinks = append(sinks, ks)
	}
	return append(sinks, ac.sinks...), nil
}

func (a *App) schedule() error {
	t := a.cfg.Tasks
	if err := a.sched.Add("cleanup", t.CleanupSpec, scheduler.CleanupJob(a.reg, t.Retention)); err != nil {
		return err
	}
	if err := a.sched.Add(importer.TaskType, t.SyncSpec, scheduler.SyncJob(a.reg, importer.TaskType, a.syncParams, a.Submit)); err != nil {
		return err
	}
	return a.sched.Add("stats", t.StatsSpec, scheduler.StatsJob(a.reg, ""))
}

// syncParams 定时同步的日期窗口：[now-SyncWindow, now]。
func (a *App) syncParams(now time.Time) map[string]any {
	return map[string]any{
		"date_from": now.Add(-a.cfg.Tasks.SyncWindow).Format("2006-01-02"),
		"date_to":   now.Format("2006-01-02"),
	}
}

// Submit 按类型创建并执行任务，参数同时写入任务元数据。
// 异常：类型未注册返回 processor.ErrNotFound；关闭后返回 ErrClosed。
func (a *App) Submit(taskType string, params map[string]any) (string, error) {
	select {
	case <-a.closing:
		return "", ErrClosed
	default:
	}
	job, err := a.procs.Job(taskType, params)
	if err != nil {
		return "", err
	}
	return a.exec.Submit(taskType, 0, maps.Clone(params), job), nil
}

// Start 初始化处理器并启动 HTTP、推送与调度。
// 异常：处理器初始化或监听失败时返回错误。
func (a *App) Start(ctx context.Context) error {
	if err := a.procs.InitAll(ctx); err != nil {
		return err
	}
	ln, err := net.Listen("tcp", a.listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", a.listen, err)
	}
	a.addrMu.Lock()
	a.addr = ln.Addr().String()
	a.addrMu.Unlock()
	a.srv = &http.Server{Handler: a.Handler(), ReadHeaderTimeout: 10 * time.Second}

	relayCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a.relayCancel = cancel
	a.relay.Start(relayCtx)
	a.sched.Start()
	go func() {
		if err := a.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.L().Error(ctx, "http server stopped", "err", err)
		}
	}()
	logging.L().Info(ctx, "finsync started", "addr", a.Addr(), "processors", a.procs.Names())
	return nil
}

// Run 启动并阻塞到 ctx 结束，随后优雅关闭。
func (a *App) Run(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		_ = a.close()
		return err
	}
	<-ctx.Done()
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return a.Shutdown(sctx)
}

// Shutdown 停止调度、取消运行中的任务、排空推送队列、关闭 HTTP 与外部连接。
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	a.closeOnce.Do(func() { close(a.closing) })
	if err := a.sched.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("scheduler: %w", err))
	}
	if err := a.exec.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := a.procs.StopAll(ctx); err != nil {
		errs = append(errs, err)
	}
	if a.relayCancel != nil {
		a.relayCancel()
		select {
		case <-a.relay.Done():
		case <-ctx.Done():
			errs = append(errs, fmt.Errorf("relay drain: %w", ctx.Err()))
		}
	}
	if a.srv != nil {
		if err := a.srv.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http: %w", err))
		}
	}
	if err := a.close(); err != nil {
		errs = append(errs, err)
	}
	logging.L().Info(ctx, "finsync stopped")
	return errors.Join(errs...)
}

// close 逆序释放外部连接。
func (a *App) close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// Addr 返回实际监听地址（用于测试或 :0 随机端口场景）。
func (a *App) Addr() string { a.addrMu.RLock(); defer a.addrMu.RUnlock(); return a.addr }

// Registry 任务登记表。
func (a *App) Registry() *task.Registry { return a.reg }

// Store 持久化存储。
func (a *App) Store() storage.Store { return a.store }
