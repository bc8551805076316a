package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"brosync/internal/config"
	"brosync/internal/domain"
	"brosync/internal/orchestrate"
	"brosync/internal/registry"
	"brosync/internal/repo"
	"brosync/internal/sync"
)

// Exit codes of the sync command.
const (
	ExitOK     = 0
	ExitParked = 2
	ExitFatal  = 3
)

// Runner schedules orchestrator passes in parent-before-child kind order.
type Runner struct {
	Cfg       config.Config
	Repo      repo.Repo
	Store     sync.Store
	Client    *registry.Client
	Log       *zap.Logger
	Kinds     []domain.ObjectKind
	CheckOnly bool
	Object    int64
}

// Summary aggregates one pass over all requested kinds.
type Summary struct {
	Seeded     int
	Stepped    int
	Progressed int
	Parked     int
}

func (s Summary) add(r orchestrate.PassResult) Summary {
	s.Seeded += r.Seeded
	s.Stepped += r.Stepped
	s.Progressed += r.Progressed
	s.Parked += r.Parked
	return s
}

// ExitCode maps a pass outcome onto the CLI contract: 3 when the pass died
// before finishing, 2 when a row was parked, 0 otherwise.
func ExitCode(s Summary, err error) int {
	if err != nil {
		return ExitFatal
	}
	if s.Parked > 0 {
		return ExitParked
	}
	return ExitOK
}

// orderKinds re-sorts a requested kind set into the canonical parent-before-
// child order, deduplicated. Unknown kinds stay at the tail so the pass can
// report them. An empty request means all kinds.
func orderKinds(requested []domain.ObjectKind) []domain.ObjectKind {
	if len(requested) == 0 {
		return domain.KindOrder
	}
	seen := map[domain.ObjectKind]bool{}
	for _, k := range requested {
		seen[k] = true
	}
	var kinds []domain.ObjectKind
	for _, k := range domain.KindOrder {
		if seen[k] {
			kinds = append(kinds, k)
			delete(seen, k)
		}
	}
	for _, k := range requested {
		if seen[k] {
			kinds = append(kinds, k)
			delete(seen, k)
		}
	}
	return kinds
}

func (r *Runner) policy(kind domain.ObjectKind) orchestrate.Policy {
	party := r.Cfg.Defaults.DemoAccountableParty
	switch kind {
	case domain.KindGMW:
		return orchestrate.GMWPolicy{Repo: r.Repo, Log: r.Log, AccountableParty: party}
	case domain.KindGLD:
		return orchestrate.GLDPolicy{Repo: r.Repo, Log: r.Log, AccountableParty: party}
	case domain.KindFRD:
		return orchestrate.FRDPolicy{Repo: r.Repo, Log: r.Log, AccountableParty: party}
	case domain.KindGMN:
		return orchestrate.GMNPolicy{Repo: r.Repo, Log: r.Log, AccountableParty: party}
	}
	return nil
}

// Pass runs one orchestrator pass per kind, respecting the GMW before FRD
// before GLD before GMN dependency order and the overall pass budget.
func (r *Runner) Pass(ctx context.Context) (Summary, error) {
	if budget := r.Cfg.PassBudget(); budget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, budget)
		defer cancel()
	}

	kinds := orderKinds(r.Kinds)
	var sum Summary
	for _, kind := range kinds {
		policy := r.policy(kind)
		if policy == nil {
			return sum, fmt.Errorf("unknown object kind %q", kind)
		}
		o := &orchestrate.Orchestrator{
			Policy:    policy,
			Repo:      r.Repo,
			Store:     r.Store,
			Client:    r.Client,
			XMLDir:    r.Cfg.XMLDir,
			Log:       r.Log.With(zap.String("kind", string(kind))),
			CheckOnly: r.CheckOnly,
			Object:    r.Object,
			Workers:   r.Cfg.Runner.Workers,
		}
		res, err := o.Pass(ctx)
		sum = sum.add(res)
		if err != nil {
			return sum, fmt.Errorf("%s pass: %w", kind, err)
		}
		r.Log.Info("pass complete",
			zap.String("kind", string(kind)),
			zap.Int("seeded", res.Seeded),
			zap.Int("stepped", res.Stepped),
			zap.Int("progressed", res.Progressed),
			zap.Int("parked", res.Parked))
	}
	return sum, nil
}

// Loop runs passes until the context is cancelled. Transient pass failures
// back off exponentially; a quiet pass sleeps the configured interval.
func (r *Runner) Loop(ctx context.Context) error {
	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = 5 * time.Second
	retry.MaxInterval = r.Cfg.Interval()
	retry.MaxElapsedTime = 0

	for {
		sum, err := r.Pass(ctx)
		wait := r.Cfg.Interval()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			wait = retry.NextBackOff()
			r.Log.Error("pass failed", zap.Error(err), zap.Duration("retry_in", wait))
		} else {
			retry.Reset()
			if sum.Progressed > 0 {
				// More work may be immediately available after progress.
				wait = r.Cfg.Interval() / 10
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}
