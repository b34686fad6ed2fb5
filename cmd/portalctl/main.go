// portalctl 在命令行中管理 Azure Functions 应用：列出函数、读写文件、管理密钥、
// 查看宿主状态以及运行函数。
//
// 所有调用经过同一条请求管线，失败会以错误事件的形式记入日志，
// 配置了 NATS 时同时发布出去，可用 `portalctl events watch` 在另一个终端观察。
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

var (
	configPath string
	jsonOutput bool
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "portalctl",
		Short:         "Manage Azure Functions apps from the command line",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default ./portalctl.yaml or ./config/portalctl.yaml)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Print results as JSON")

	rootCmd.AddCommand(
		functionsCmd(),
		filesCmd(),
		keysCmd(),
		hostCmd(),
		runCmd(),
		templatesCmd(),
		cacheCmd(),
		eventsCmd(),
		statusCmd(),
	)
	return rootCmd
}

// withApp 加载配置并装配组件，执行 fn 后打印仍处于活跃状态的错误并释放资源
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	return runApp(cmd, false, fn)
}

// runApp follow 为 true 时跟随配置文件调整日志级别，用于长时间运行的命令
func runApp(cmd *cobra.Command, follow bool, fn func(ctx context.Context, a *app) error) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	cfg, loader, err := loadConfig(ctx, configPath, follow)
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Close(closeCtx)
	}()
	if follow {
		if err := a.followLogLevel(ctx, loader); err != nil {
			return err
		}
	}

	runErr := fn(ctx, a)
	printActiveErrors(cmd.ErrOrStderr(), a.reporter.ActiveErrors())
	return runErr
}
