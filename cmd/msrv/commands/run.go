package commands

import (
	"context"

	"github.com/google/uuid"

	"github.com/openfroyo/msrv/pkg/engine"
	"github.com/openfroyo/msrv/pkg/stores"
	"github.com/openfroyo/msrv/pkg/telemetry"
)

// runFunc performs the engine call of a command.
type runFunc func(ctx context.Context, opts engine.RunOptions) (*engine.Report, error)

// execute runs fn as a recorded run: it seeds the ledger when resuming, creates the run
// record and completes it with the outcome, whatever that outcome is.
func (s *session) execute(ctx context.Context, mode stores.RunMode, opts engine.RunOptions, fn runFunc) (*engine.Report, error) {
	opts.RunID = uuid.NewString()
	fingerprint := engine.Fingerprint(opts.ProjectPath, opts.Command.Argv, s.cfg.Target)

	ctx = s.telemetry.WithContext(ctx)
	op := telemetry.StartOperation(ctx, "msrv.cli."+string(mode),
		telemetry.AttrRunID.String(opts.RunID),
		telemetry.AttrMode.String(string(mode)),
		telemetry.AttrFingerprint.String(fingerprint),
		telemetry.AttrProjectPath.String(opts.ProjectPath),
	)
	logger := op.Logger.WithRunID(opts.RunID)

	if s.store != nil {
		if s.cfg.State.Resume {
			entries, err := s.store.LoadEntries(op.Ctx, fingerprint)
			if err != nil {
				op.End(err)
				return nil, err
			}
			opts.Resume = entries
			logger.Infof("Loaded %d ledger entries from earlier runs", len(entries))
		}

		err := s.store.CreateRun(op.Ctx, &stores.Run{
			ID:          opts.RunID,
			Fingerprint: fingerprint,
			Mode:        mode,
			ProjectPath: opts.ProjectPath,
			Command:     opts.Command.Argv,
			Target:      s.cfg.Target,
			Strategy:    string(opts.Strategy),
		})
		if err != nil {
			op.End(err)
			return nil, err
		}
	}

	report, err := fn(op.Ctx, opts)

	if s.store != nil {
		// The run context may already be cancelled; the record is written regardless.
		recordCtx := context.WithoutCancel(op.Ctx)
		if cerr := s.store.CompleteRun(recordCtx, opts.RunID, completion(report, err)); cerr != nil {
			logger.WithError(cerr).Warn("Failed to record run completion")
		}
	}

	op.End(err)
	return report, err
}

func completion(report *engine.Report, err error) stores.RunCompletion {
	if err != nil {
		status := stores.RunStatusFailed
		if engine.IsCancelled(err) {
			status = stores.RunStatusCancelled
		}
		return stores.RunCompletion{Status: status, Error: err.Error()}
	}

	c := stores.RunCompletion{
		Status:     stores.RunStatusSucceeded,
		Strategy:   report.Result.Strategy,
		ResultKind: string(report.Result.Kind),
		Details:    report.Result.Details,
		Candidates: len(report.Candidates),
		Probes:     report.Probes,
	}
	if report.Result.Version != nil {
		c.ResultVersion = report.Result.Version.String()
	}
	return c
}
