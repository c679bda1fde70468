package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/donnelly-adventures/adventures/internal/config"
	"github.com/donnelly-adventures/adventures/internal/logging"
	"github.com/donnelly-adventures/adventures/internal/version"
)

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath  string
	checkOnly   bool
	showVersion bool
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

func main() {
	code := 0
	cmd := newRootCommand(func(opts cliOptions) {
		code = run(opts)
	})
	cmd.SetArgs(os.Args[1:])
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(stdErr, err.Error())
		os.Exit(2)
	}
	os.Exit(code)
}

// newRootCommand 构建 adventures 根命令；action 接收解析后的选项。
func newRootCommand(action func(cliOptions)) *cobra.Command {
	var (
		configFlag string
		checkOnly  bool
		showVer    bool
	)

	cmd := &cobra.Command{
		Use:           "adventures",
		Short:         "Offline cache gateway and photo journal backend",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			action(cliOptions{
				configPath:  resolveConfigPath(configFlag),
				checkOnly:   checkOnly,
				showVersion: showVer,
			})
			return nil
		},
	}

	cmd.Flags().StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 ADVENTURES_CONFIG 覆盖）")
	cmd.Flags().BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	cmd.Flags().BoolVar(&showVer, "version", false, "显示版本信息")
	return cmd
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	var parsed cliOptions
	cmd := newRootCommand(func(opts cliOptions) {
		parsed = opts
	})
	cmd.SetArgs(args)
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	if err := cmd.Execute(); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}
	return parsed, nil
}

func resolveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if path := os.Getenv("ADVENTURES_CONFIG"); path != "" {
		return path
	}
	return "config.toml"
}

// run 根据解析到的 CLI 选项执行业务流程，并返回退出码，方便测试。
func run(opts cliOptions) int {
	if opts.showVersion {
		fmt.Fprintln(stdOut, version.Full())
		return 0
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stdErr, "加载配置失败: %v\n", err)
		return 1
	}

	logger, err := logging.InitLogger(cfg.Global)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}

	if opts.checkOnly {
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["sites"] = config.SiteNames(cfg.Sites)
		fields["backend"] = cfg.Backend.Variant
		fields["media"] = cfg.Media.Provider
		fields["media_auth"] = cfg.Media.AuthMode()
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	// 启动顺序：配置 → 媒体托管 → journal 后端 → 离线缓存存储 → 站点注册表 → Fiber server。
	svc, err := buildServices(cfg, logger)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化服务失败: %v\n", err)
		return 1
	}
	defer svc.Close()

	svc.installSites(context.Background())
	if err := svc.watchConfig(opts.configPath); err != nil {
		logger.WithFields(logging.BaseFields("config_reload", opts.configPath)).
			WithError(err).Warn("配置热加载未启用")
	}

	if err := svc.serve(opts.configPath); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}
