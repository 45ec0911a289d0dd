package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// version 在发布构建时通过 -ldflags "-X main.version=..." 注入。
var version = "dev"

const (
	exitOK    = 0
	exitFatal = 1
	exitUsage = 2
)

// exitError 携带进程退出码。RunE 返回的其他错误一律视为用法错误（exit 2）。
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

// cliEnv 是命令运行所需的外部环境；测试可替换为内存 writer 与临时目录。
type cliEnv struct {
	stdout io.Writer
	stderr io.Writer
	getwd  func() (string, error)
}

func main() {
	os.Exit(execute(os.Args[1:], cliEnv{stdout: os.Stdout, stderr: os.Stderr, getwd: os.Getwd}))
}

func execute(args []string, env cliEnv) int {
	cmd := newRootCommand(env)
	cmd.SetArgs(args)
	cmd.SetOut(env.stdout)
	cmd.SetErr(env.stderr)

	err := cmd.Execute()
	if err == nil {
		return exitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		// 报告已经输出过；这里只补一行人类可读的原因。
		if ee.err != nil {
			fmt.Fprintf(env.stderr, "错误：%v\n", ee.err)
		}
		return ee.code
	}
	fmt.Fprintf(env.stderr, "参数错误：%v\n\n", err)
	if sub, _, ferr := cmd.Find(args); ferr == nil && sub != nil {
		fmt.Fprint(env.stderr, sub.UsageString())
	} else {
		fmt.Fprint(env.stderr, cmd.UsageString())
	}
	return exitUsage
}

func newRootCommand(env cliEnv) *cobra.Command {
	root := &cobra.Command{
		Use:           "sb3fetch",
		Short:         "抓取 Scratch 项目并打包为 .sb3",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	root.SetFlagErrorFunc(func(c *cobra.Command, err error) error {
		return err
	})

	root.AddCommand(newRunCommand(env))
	root.AddCommand(newVersionCommand(env))
	return root
}

func newVersionCommand(env cliEnv) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "显示版本",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(env.stdout, "sb3fetch %s\n", strings.TrimSpace(version))
			return nil
		},
	}
}
