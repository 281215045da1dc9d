package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/wilhg/toolforge/pkg/eval"
)

func runEval(a *app, dir string, out io.Writer) error {
	rep, err := eval.EvaluateInstructions(os.DirFS(dir), ".", a.reg, a.engine)
	if err != nil {
		return fmt.Errorf("eval: %w", err)
	}
	for _, d := range rep.Details {
		fmt.Fprintln(out, d)
	}
	fmt.Fprintf(out, "passed %d/%d (score %.2f)\n", rep.Passed, rep.Total, rep.Score())
	if rep.Passed != rep.Total {
		return fmt.Errorf("eval: %d fixture(s) failed", rep.Total-rep.Passed)
	}
	return nil
}

func runReplay(ctx context.Context, a *app, path string, out io.Writer) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	capture, err := eval.ReadCapture(f)
	if err != nil {
		return err
	}
	run, err := eval.Replay(ctx, a.reg, a.inv, capture, a.engineOpts...)
	if err != nil {
		return err
	}
	a.logger.Info("replay finished", zap.String("tool", run.Tool), zap.String("state", run.State.String()), zap.Int("iterations", run.Iterations))
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(run.Summary(false)); err != nil {
		return err
	}
	if run.IsError() {
		return fmt.Errorf("replay: run ended in %s", run.State)
	}
	return nil
}
