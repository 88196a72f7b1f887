// finsyncd ERP 同步任务服务。
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/mengeric/finsync/config"
	"github.com/mengeric/finsync/finsync"
	"github.com/mengeric/finsync/logging"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stderr))
}

// run 启动服务直到收到关闭信号，返回进程退出码：
// 参数错误 2，配置、初始化或运行失败 1。延迟清理在返回前执行。
func run(args []string, stderr io.Writer) int {
	fs := flag.NewFlagSet("finsyncd", flag.ContinueOnError)
	fs.SetOutput(stderr)
	cfgFile := fs.String("config", "finsync.yaml", "path to YAML config")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	cfg, err := config.Load(*cfgFile)
	if err != nil {
		fmt.Fprintf(stderr, "load config: %v\n", err)
		return 1
	}
	flush, err := setupLogging(cfg)
	if err != nil {
		fmt.Fprintf(stderr, "logger: %v\n", err)
		return 1
	}
	defer flush()

	ctx, stop := finsync.WithSignalCancel(context.Background())
	defer stop()

	app, err := finsync.New(cfg)
	if err != nil {
		logging.L().Error(ctx, "init failed", "err", err)
		return 1
	}
	if err := app.Run(ctx); err != nil {
		logging.L().Error(context.Background(), "finsync exited with error", "err", err)
		return 1
	}
	return 0
}

// setupLogging 按 log.backend 选择 slog 或 zap。
func setupLogging(cfg config.Config) (func(), error) {
	if cfg.Log.Backend == "zap" {
		z, flush, err := logging.NewZapProduction(cfg.Log.Level)
		if err != nil {
			return nil, err
		}
		logging.SetGlobal(z)
		return flush, nil
	}
	s := logging.NewSlogLogger()
	s.SetLevel(logging.ParseLevel(cfg.Log.Level))
	logging.SetGlobal(s)
	return func() {}, nil
}
