package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/BaSui01/nodeflow/config"
	"github.com/BaSui01/nodeflow/internal/xjson"
	"github.com/BaSui01/nodeflow/workflow"
)

// errInvalidWorkflow 校验失败时的退出错误；详情已打印
var errInvalidWorkflow = errors.New("workflow failed validation")

// =============================================================================
// 📝 离线命令：validate / estimate
// =============================================================================

func newValidateCmd(load func() (*config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <definition-file>",
		Short: "Validate a workflow definition without running it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, def, err := offline(load, args[0])
			if err != nil {
				return err
			}

			result := eng.validator.Validate(def)
			if err := printJSON(cmd.OutOrStdout(), result); err != nil {
				return err
			}
			if !result.Valid {
				return errInvalidWorkflow
			}
			return nil
		},
	}
}

func newEstimateCmd(load func() (*config.Config, error)) *cobra.Command {
	var inputs []string
	cmd := &cobra.Command{
		Use:   "estimate <definition-file>",
		Short: "Estimate the cost of a workflow without running it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, def, err := offline(load, args[0])
			if err != nil {
				return err
			}
			values, err := parseInputs(inputs)
			if err != nil {
				return err
			}

			result := eng.validator.Validate(def)
			if !result.Valid {
				_ = printJSON(cmd.OutOrStdout(), result)
				return errInvalidWorkflow
			}
			return printJSON(cmd.OutOrStdout(), eng.estimator.Estimate(def, values))
		},
	}
	cmd.Flags().StringArrayVarP(&inputs, "input", "i", nil, "Workflow input as key=value (value may be JSON)")
	return cmd
}

// offline 加载配置、能力注册表与定义文件
func offline(load func() (*config.Config, error), file string) (*engine, *workflow.Definition, error) {
	cfg, err := load()
	if err != nil {
		return nil, nil, err
	}
	eng, err := newEngine(cfg, zap.NewNop())
	if err != nil {
		return nil, nil, err
	}
	def, err := workflow.LoadDefinitionFile(file)
	if err != nil {
		return nil, nil, err
	}
	return eng, def, nil
}

// =============================================================================
// ▶️ 本地执行：run / resume
// =============================================================================

func newRunCmd(load func() (*config.Config, error)) *cobra.Command {
	var (
		inputs []string
		runID  string
	)
	cmd := &cobra.Command{
		Use:   "run <definition-file>",
		Short: "Run a workflow in this process, checkpointing to the configured store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			values, err := parseInputs(inputs)
			if err != nil {
				return err
			}
			def, err := workflow.LoadDefinitionFile(args[0])
			if err != nil {
				return err
			}
			return local(cmd, load, func(ctx context.Context, exec *workflow.Executor) (*workflow.ExecutionReport, error) {
				var opts []workflow.RunOption
				if runID != "" {
					opts = append(opts, workflow.WithRunID(runID))
				}
				return exec.Execute(ctx, def, values, opts...)
			})
		},
	}
	cmd.Flags().StringArrayVarP(&inputs, "input", "i", nil, "Workflow input as key=value (value may be JSON)")
	cmd.Flags().StringVar(&runID, "run-id", "", "Run id to use instead of a generated one")
	return cmd
}

func newResumeCmd(load func() (*config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "resume <run-id>",
		Short: "Resume a run from its checkpoints",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return local(cmd, load, func(ctx context.Context, exec *workflow.Executor) (*workflow.ExecutionReport, error) {
				return exec.Resume(ctx, args[0])
			})
		},
	}
}

// local 打开存储并在本进程执行 fn，打印报告。Ctrl-C 取消运行，之后可用 resume 继续。
func local(cmd *cobra.Command, load func() (*config.Config, error),
	fn func(context.Context, *workflow.Executor) (*workflow.ExecutionReport, error)) error {
	cfg, err := load()
	if err != nil {
		return err
	}
	// 报告写 stdout，日志改写 stderr
	logCfg := cfg.Log
	logCfg.OutputPaths = []string{"stderr"}
	logger := initLogger(logCfg)
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b, err := openBackends(ctx, cfg, nil, logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := b.Close(); cerr != nil {
			logger.Warn("failed to close checkpoint store", zap.Error(cerr))
		}
	}()

	eng, err := newEngine(cfg, logger)
	if err != nil {
		return err
	}
	exec := workflow.NewExecutor(eng.registry, eng.executorOptions(cfg, b, logger)...)

	report, err := fn(ctx, exec)
	var verr *workflow.ValidationError
	if errors.As(err, &verr) {
		_ = printJSON(cmd.OutOrStdout(), verr.Issues)
		return errInvalidWorkflow
	}
	if report != nil {
		if perr := printJSON(cmd.OutOrStdout(), report); perr != nil {
			return perr
		}
	}
	if err != nil {
		return err
	}
	switch {
	case report.Cancelled:
		return fmt.Errorf("run %s cancelled; resume with: nodeflow resume %s", report.RunID, report.RunID)
	case !report.Success:
		return fmt.Errorf("run %s failed at node %q: %s", report.RunID, report.FailedNodeID, report.Error)
	}
	return nil
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// parseInputs 解析 key=value；value 是合法 JSON 时按 JSON 解码，否则视为字符串
func parseInputs(pairs []string) (map[string]any, error) {
	values := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid input %q, expected key=value", pair)
		}
		var v any
		if err := xjson.Unmarshal([]byte(raw), &v); err != nil {
			v = raw
		}
		values[key] = v
	}
	return values, nil
}

func printJSON(w io.Writer, v any) error {
	data, err := xjson.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
