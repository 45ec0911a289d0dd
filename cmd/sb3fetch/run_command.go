package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/John-Robertt/sb3fetch/internal/app/run"
	"github.com/John-Robertt/sb3fetch/internal/config"
	"github.com/John-Robertt/sb3fetch/internal/domain"
	"github.com/John-Robertt/sb3fetch/internal/logging"
	"github.com/John-Robertt/sb3fetch/internal/projectid"
)

type runFlags struct {
	output      string
	configPath  string
	concurrency int
	reportPath  string
	logLevel    string
	logFormat   string
}

func newRunCommand(env cliEnv) *cobra.Command {
	var f runFlags

	cmd := &cobra.Command{
		Use:   "run <project-id|project-url>",
		Short: "抓取项目的 manifest 与全部资源，写出 .sb3 归档",
		Long: `抓取项目的 metadata、manifest 与全部资源，写出一个 .sb3 归档。

单个资源失败只会被跳过（记录在 report 中），不影响退出码；
metadata/manifest 失败、输出已存在或归档写入失败时退出码为 1。`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCmd(cmd.Context(), env, cmd, args[0], f)
		},
	}

	fl := cmd.Flags()
	fl.StringVarP(&f.output, "output", "o", "", "输出 .sb3 路径（默认 <output_dir>/<id>.sb3）")
	fl.StringVarP(&f.configPath, "config", "c", "", "配置文件路径（默认读取 ./"+config.FileName+"，不存在则忽略）")
	fl.IntVar(&f.concurrency, "concurrency", config.DefaultConcurrency, fmt.Sprintf("并发抓取资源数（1..%d）", config.MaxConcurrency))
	fl.StringVar(&f.reportPath, "report", "", "把 run report JSON 写到该路径")
	fl.StringVar(&f.logLevel, "log-level", "", "日志级别：debug|info|warn|error")
	fl.StringVar(&f.logFormat, "log-format", "", "日志格式：console|json")
	return cmd
}

func runCmd(ctx context.Context, env cliEnv, cmd *cobra.Command, ref string, f runFlags) error {
	if ctx == nil {
		ctx = context.Background()
	}
	stdoutTTY := isTerminal(env.stdout)

	id, err := projectid.Extract(ref)
	if err != nil {
		rr := reportForEarlyError("", projectIDErrCode(err), err)
		emitReport(env.stdout, env.stderr, rr, stdoutTTY)
		return &exitError{code: exitUsage}
	}

	cwd, err := env.getwd()
	if err != nil {
		fmt.Fprintf(env.stderr, "读取当前目录失败：%v\n", err)
		return &exitError{code: exitFatal}
	}

	eff, err := config.LoadEffective(cwd, config.CLIArgs{
		ProjectID:      id,
		ConfigPath:     f.configPath,
		Output:         f.output,
		ReportPath:     f.reportPath,
		Concurrency:    f.concurrency,
		ConcurrencySet: cmd.Flags().Changed("concurrency"),
		LogLevel:       f.logLevel,
		LogFormat:      f.logFormat,
	})
	if err != nil {
		rr := reportForEarlyError(id, config.Code(err), err)
		emitReport(env.stdout, env.stderr, rr, stdoutTTY)
		return &exitError{code: exitFatal}
	}

	progressW, interactive := pickProgressWriter(env)

	logLevel := eff.LogLevel
	// 交互终端已有逐条进度输出；info 日志会与之重复，默认只保留 warn 以上。
	if interactive && logLevel == config.DefaultLogLevel && f.logLevel == "" {
		logLevel = "warn"
	}
	logger, err := logging.New(logging.Options{Level: logLevel, Format: eff.LogFormat, Writer: env.stderr})
	if err != nil {
		rr := reportForEarlyError(id, domain.ErrCodeConfigInvalid, err)
		emitReport(env.stdout, env.stderr, rr, stdoutTTY)
		return &exitError{code: exitFatal}
	}

	deps, err := run.NewDeps(eff, logger)
	if err != nil {
		rr := reportForEarlyError(id, domain.ErrCodeConfigInvalid, err)
		emitReport(env.stdout, env.stderr, rr, stdoutTTY)
		return &exitError{code: exitFatal}
	}

	var obs run.Observer
	if interactive {
		obs = newProgressUI(progressW)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	rr := run.ExecuteWithObserver(ctx, eff, deps, obs)

	if eff.ReportPath != "" {
		if err := writeReportFile(eff.ReportPath, rr); err != nil {
			fmt.Fprintf(env.stderr, "写入 report 失败：%v\n", err)
			emitReport(env.stdout, env.stderr, rr, stdoutTTY)
			return &exitError{code: exitFatal}
		}
	}

	emitReport(env.stdout, env.stderr, rr, stdoutTTY)
	if interactive && eff.ReportPath != "" {
		fmt.Fprintf(progressW, "report: %s\n", eff.ReportPath)
	}
	if rr.OK() {
		return nil
	}
	return &exitError{code: exitFatal}
}

func projectIDErrCode(err error) string {
	var ue *projectid.UnmatchedError
	if errors.As(err, &ue) && ue.Kind == "ambiguous" {
		return domain.ErrCodeAmbiguousProjectID
	}
	return domain.ErrCodeInvalidProjectID
}

// reportForEarlyError 为“流水线尚未开始”的失败构造一个 failed report，保证 stdout 契约不变。
func reportForEarlyError(id domain.ProjectID, code string, err error) domain.RunReport {
	now := time.Now().UTC()
	rr := domain.RunReport{
		ProjectID:  string(id),
		State:      domain.StateFailed,
		ErrorCode:  code,
		ErrorMsg:   err.Error(),
		StartedAt:  now,
		FinishedAt: now,
	}
	rr.Finalize()
	return rr
}

func pickProgressWriter(env cliEnv) (io.Writer, bool) {
	// 进度输出只在交互终端启用；默认走 stderr（不污染 stdout JSON）。
	if isTerminal(env.stderr) {
		return env.stderr, true
	}
	return nil, false
}
