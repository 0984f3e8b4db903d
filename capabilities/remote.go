package capabilities

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/nodeflow/resilience"
	"github.com/BaSui01/nodeflow/types"
	"github.com/BaSui01/nodeflow/workflow"
)

// 由 capability 自己解释、不转发给生成服务的参数
var remoteReservedParams = map[string]struct{}{
	"base_url":      {},
	"path":          {},
	"model":         {},
	"poll_interval": {},
	"max_wait":      {},
	"cost_per_call": {},
	"outputs":       {},
}

// remoteGeneration submits one job per attempt and polls it to completion.
//
// Params:
//   - base_url: overrides Options.RemoteBaseURL
//   - path: jobs collection path, default /v1/jobs
//   - model: forwarded as the job model
//   - poll_interval, max_wait: durations
//   - cost_per_call: used when the service reports no cost
//   - outputs: {slot: gjson path} picked from the final job document
//
// Every other param is forwarded in the job's params object.
type remoteGeneration struct {
	client *remoteClient
	node   workflow.NodeDefinition
}

func (c *remoteClient) factory(node workflow.NodeDefinition) (workflow.NodeCapability, error) {
	return &remoteGeneration{client: c, node: node}, nil
}

func (r *remoteGeneration) endpoint() (string, error) {
	base := r.node.Params.StringOr("base_url", r.client.opts.RemoteBaseURL)
	if base == "" {
		return "", &workflow.ParamError{Param: "base_url", Reason: "no generation service configured"}
	}
	u, err := url.Parse(base)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", &workflow.ParamError{Param: "base_url", Reason: fmt.Sprintf("invalid url %q", base)}
	}
	path := r.node.Params.StringOr("path", defaultJobsPath)
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/"), nil
}

func (r *remoteGeneration) pollInterval() time.Duration {
	if d, ok := r.node.Params.Duration("poll_interval"); ok && d > 0 {
		return d
	}
	return r.client.opts.PollInterval
}

func (r *remoteGeneration) Execute(ctx context.Context, inputs map[string]any, ec *workflow.ExecutionContext) (*workflow.NodeExecutionResult, error) {
	endpoint, err := r.endpoint()
	if err != nil {
		return nil, resilience.Terminal(err)
	}
	if maxWait, ok := r.node.Params.Duration("max_wait"); ok && maxWait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, maxWait)
		defer cancel()
	}

	logger := ec.Logger.With(zap.String("endpoint", endpoint))
	req := jobRequest{
		Model:  r.node.Params.StringOr("model", ""),
		Inputs: inputs,
		Params: r.forwardedParams(),
	}
	job, err := r.client.submit(ctx, endpoint, req, requestMeta{
		idempotencyKey: ec.IdempotencyKey,
		runID:          ec.RunID,
		nodeID:         ec.NodeID,
	})
	if err != nil {
		return nil, r.deadline(ctx, err)
	}
	if job.ID == "" && !job.done() {
		return nil, types.NewError(types.ErrCodeUpstreamError, "generation service returned no job id").WithRetryable(true)
	}
	logger.Debug("generation job submitted", zap.String("job_id", job.ID), zap.String("status", job.Status))
	r.beat(ec, job)

	if !job.done() {
		job, err = r.wait(ctx, endpoint, job.ID, ec)
		if err != nil {
			return nil, r.deadline(ctx, err)
		}
	}
	if !job.succeeded() {
		logger.Warn("generation job failed", zap.String("job_id", job.ID), zap.String("status", job.Status))
		return nil, job.failure()
	}

	outputs, err := r.outputs(job)
	if err != nil {
		return nil, err
	}
	cost := r.node.Params.FloatOr("cost_per_call", r.client.opts.CostPerCall)
	if job.Cost != nil {
		cost = *job.Cost
	}
	logger.Info("generation job succeeded", zap.String("job_id", job.ID), zap.Float64("cost", cost))
	return workflow.Succeeded(outputs, cost), nil
}

func (r *remoteGeneration) wait(ctx context.Context, endpoint, jobID string, ec *workflow.ExecutionContext) (*jobResponse, error) {
	ticker := time.NewTicker(r.pollInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}

		job, err := r.client.poll(ctx, endpoint, jobID)
		if err != nil {
			// 轮询期间的暂时性错误继续等待，终止性错误直接返回
			if resilience.IsTransient(err) && ctx.Err() == nil {
				ec.Logger.Debug("poll failed, retrying", zap.String("job_id", jobID), zap.Error(err))
				continue
			}
			return nil, err
		}
		if job.ID == "" {
			job.ID = jobID
		}
		r.beat(ec, job)
		if job.done() {
			return job, nil
		}
	}
}

// deadline 把 max_wait 触发的超时转成可重试的 TIMEOUT 错误
func (r *remoteGeneration) deadline(ctx context.Context, err error) error {
	if ctx.Err() == context.DeadlineExceeded {
		return types.NewError(types.ErrCodeTimeout, "generation job did not finish in time").
			WithCause(err).
			WithRetryable(true)
	}
	return err
}

func (r *remoteGeneration) beat(ec *workflow.ExecutionContext, job *jobResponse) {
	stage := job.Stage
	if stage == "" {
		stage = strings.ToLower(job.Status)
	}
	if stage == "" {
		stage = JobQueued
	}
	progress := job.Progress
	if job.succeeded() {
		progress = 100
	}
	ec.Heartbeat(stage, progress)
}

func (r *remoteGeneration) forwardedParams() map[string]any {
	out := make(map[string]any, len(r.node.Params))
	for k, v := range r.node.Params {
		if _, reserved := remoteReservedParams[k]; !reserved {
			out[k] = v
		}
	}
	return out
}

func (r *remoteGeneration) outputs(job *jobResponse) (map[string]any, error) {
	paths, ok := r.node.Params.Map("outputs")
	if !ok {
		if job.Outputs == nil {
			return map[string]any{}, nil
		}
		return job.Outputs, nil
	}
	out := make(map[string]any, len(paths))
	for slot, p := range paths {
		path, _ := p.(string)
		v, found := job.pick(path)
		if !found {
			return nil, resilience.Terminal(types.Errorf(types.ErrCodeMissingOutput,
				"generation job %s has no value at %q for output %q", job.ID, path, slot))
		}
		out[slot] = v
	}
	return out, nil
}

func (r *remoteGeneration) EstimateCost(map[string]any) float64 {
	return r.node.Params.FloatOr("cost_per_call", r.client.opts.CostPerCall)
}

func (r *remoteGeneration) ValidateStaticConfig() []error {
	var errs []error
	if _, err := r.endpoint(); err != nil {
		errs = append(errs, err)
	}
	for _, key := range []string{"poll_interval", "max_wait"} {
		if !r.node.Params.Has(key) {
			continue
		}
		if d, ok := r.node.Params.Duration(key); !ok || d <= 0 {
			errs = append(errs, &workflow.ParamError{Param: key, Reason: "must be a positive duration"})
		}
	}
	if r.node.Params.Has("cost_per_call") {
		if c, ok := r.node.Params.Float("cost_per_call"); !ok || c < 0 {
			errs = append(errs, &workflow.ParamError{Param: "cost_per_call", Reason: "must be a non-negative number"})
		}
	}
	if r.node.Params.Has("outputs") {
		paths, ok := r.node.Params.Map("outputs")
		if !ok {
			errs = append(errs, &workflow.ParamError{Param: "outputs", Reason: "must map output slots to response paths"})
		}
		for slot, p := range paths {
			if s, ok := p.(string); !ok || s == "" {
				errs = append(errs, &workflow.ParamError{Param: "outputs." + slot, Reason: "must be a non-empty path"})
			}
		}
	}
	return errs
}
