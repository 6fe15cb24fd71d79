package engine

import (
	"context"

	"github.com/jingkaihe/playbook/pkg/logger"
	"github.com/jingkaihe/playbook/pkg/parser"
	"github.com/jingkaihe/playbook/pkg/skills"
	"github.com/jingkaihe/playbook/pkg/telemetry"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// outcome is a successful skill invocation waiting to be applied.
type outcome struct {
	skill    string
	variable string
	result   skills.Result
}

// run drives the cursor until the run ends. gen identifies the run; once
// a newer run starts or this one is stopped, nothing more is applied.
func (e *Engine) run(ctx context.Context, gen uint64, done chan struct{}) {
	defer close(done)
	log := logger.G(ctx)

	for {
		e.mu.Lock()
		for e.gen == gen && e.state == StatePaused {
			ch := e.changed
			e.mu.Unlock()
			select {
			case <-ch:
			case <-ctx.Done():
			}
			e.mu.Lock()
		}
		if e.gen != gen || e.state != StateRunning {
			e.mu.Unlock()
			return
		}
		if e.cursor >= len(e.doc.Blocks) {
			e.setStateLocked(StateCompleted)
			e.mu.Unlock()
			log.Info("playbook run completed")
			e.cancelRun(gen)
			return
		}
		idx := e.cursor
		block := e.doc.Blocks[idx]
		e.mu.Unlock()

		out, runErr := e.step(ctx, idx, block)

		e.mu.Lock()
		if e.gen != gen || e.state == StateStopped {
			e.mu.Unlock()
			if runErr != nil {
				log.WithError(runErr).Debug("discarding result of stopped run")
			}
			return
		}
		if runErr != nil {
			e.failed = idx
			e.lastErr = runErr
			e.setStateLocked(StateError)
			e.mu.Unlock()
			log.WithError(runErr).WithField("block", idx).Error("playbook run failed")
			e.cancelRun(gen)
			return
		}
		if out != nil {
			e.applyLocked(ctx, idx, block, out)
		}
		e.cursor++
		e.mu.Unlock()
	}
}

// cancelRun releases the context of run gen if it is still the current run.
func (e *Engine) cancelRun(gen uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.gen == gen && e.cancel != nil {
		e.cancel()
	}
}

// step executes one block. Non-annotation blocks are skipped and return a
// nil outcome.
func (e *Engine) step(ctx context.Context, idx int, block *parser.Block) (*outcome, *Error) {
	if !block.Executable() {
		e.publish(Event{Type: EventBlockSkipped, Block: idx, Line: block.StartLine})
		return nil, nil
	}

	ctx = logger.WithFields(ctx, logrus.Fields{
		"block": idx,
		"line":  block.StartLine + 1,
		"skill": block.Name,
	})
	e.publish(Event{Type: EventBlockStarted, Block: idx, Line: block.StartLine, Skill: block.Name})
	logger.G(ctx).Debug("executing block")

	var (
		out    *outcome
		runErr *Error
	)
	_ = telemetry.WithSpan(ctx, "engine.block."+block.Name, func(ctx context.Context) error {
		out, runErr = e.invoke(ctx, idx, block)
		if runErr != nil {
			return runErr
		}
		return nil
	},
		attribute.Int("block.index", idx),
		attribute.Int("block.line", block.StartLine+1),
		attribute.String("skill.name", block.Name),
	)
	return out, runErr
}

func (e *Engine) invoke(ctx context.Context, idx int, block *parser.Block) (*outcome, *Error) {
	line := block.StartLine

	params := make(skills.Params, len(block.Flags))
	for _, f := range block.Flags {
		params[f.Key] = e.vars.Substitute(ctx, f.Value)
	}
	var code *parser.Block
	if block.Code != nil {
		c := *block.Code
		c.Content = e.vars.Substitute(ctx, c.Content)
		code = &c
	}

	skill, err := e.registry.Resolve(block.Name)
	if err != nil {
		return nil, newError(KindResolution, idx, line, err)
	}
	telemetry.AddEvent(ctx, "skill.resolved", attribute.String("skill.name", skill.Name()))

	if _, err := skills.Validate(skill.Parameters(), params); err != nil {
		return nil, newError(KindValidation, idx, line, err)
	}

	api := &runAPI{engine: e, block: block, code: code, log: logger.G(ctx)}
	result, err := skills.Run(ctx, skill, api, params)
	if err != nil {
		if ctx.Err() != nil {
			return nil, newError(KindCancellation, idx, line, errors.Wrap(err, "skill cancelled"))
		}
		return nil, newError(KindSkillExecution, idx, line, err)
	}
	return &outcome{
		skill:    skill.Name(),
		variable: skills.OutputVariable(skill, params),
		result:   result,
	}, nil
}

// applyLocked records a successful outcome: the declared output variable is
// set, messages are appended to the current context and the context is
// truncated to its budget. It must be called with e.mu held.
func (e *Engine) applyLocked(ctx context.Context, idx int, block *parser.Block, out *outcome) {
	log := logger.G(ctx).WithField("block", idx).WithField("skill", out.skill)

	if out.variable != "" {
		e.vars.Set(out.variable, out.result.Value)
	}
	for _, msg := range out.result.Messages {
		if err := e.contexts.AppendCurrent(msg); err != nil {
			log.WithError(err).Warn("failed to record skill message")
		}
	}

	if current := e.contexts.CurrentName(); current != "" && len(out.result.Messages) > 0 {
		report, err := e.contexts.Truncate(current, 0)
		if err != nil {
			log.WithError(err).Warn("failed to truncate context")
		} else if report.Removed > 0 || report.Oversized {
			log.WithField("context", current).
				WithField("removed", report.Removed).
				WithField("size", report.Size).
				WithField("oversized", report.Oversized).
				Info("context truncated")
			r := report
			e.publishLocked(Event{Type: EventContextTruncated, Block: idx, Line: block.StartLine, Skill: out.skill, Truncation: &r})
		}
	}

	e.publishLocked(Event{Type: EventBlockFinished, Block: idx, Line: block.StartLine, Skill: out.skill, Variable: out.variable})
}

func (e *Engine) publish(ev Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.publishLocked(ev)
}
