package orchestrate

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"strconv"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"brosync/internal/domain"
	"brosync/internal/registry"
	"brosync/internal/repo"
	"brosync/internal/sync"
	"brosync/internal/xmlgen"
)

// Seed is the ledger identity one event resolves to.
type Seed struct {
	ObjectRef    int64
	MessageType  domain.MessageType
	DeliveryType domain.DeliveryType
}

// Policy is the per-kind piece of the orchestrator: which message an event
// needs, how a ledger row becomes a payload, and what to write back on
// approval. Everything else is shared.
type Policy interface {
	Kind() domain.ObjectKind
	// Seed maps one unsynced event onto a ledger identity. ok=false skips
	// the event this pass (unmet dependency or coalesced elsewhere).
	Seed(ctx context.Context, ev domain.Event) (Seed, bool, error)
	// Payload resolves a pending row to its typed source-document payload.
	Payload(ctx context.Context, row domain.SyncLog) (xmlgen.Payload, error)
	// Approved runs the kind's domain write-back inside tx.
	Approved(ctx context.Context, tx *sql.Tx, row domain.SyncLog, status registry.DeliveryStatus) error
}

// Orchestrator drives one object kind: it materializes ledger rows from
// unsynced events and advances them through the delivery machine.
type Orchestrator struct {
	Policy    Policy
	Repo      repo.Repo
	Store     sync.Store
	Client    *registry.Client
	XMLDir    string
	Log       *zap.Logger
	CheckOnly bool
	Object    int64
	Workers   int
}

// PassResult summarizes one orchestrator pass.
type PassResult struct {
	Seeded     int
	Stepped    int
	Progressed int
	Parked     int
}

func (r PassResult) merge(s sync.StepResult) PassResult {
	r.Stepped++
	if s.Progressed {
		r.Progressed++
	}
	if s.Parked {
		r.Parked++
	}
	return r
}

// Pass runs one full cycle: seed rows from pending events, then advance every
// non-terminal row of this kind by one transition.
func (o *Orchestrator) Pass(ctx context.Context) (PassResult, error) {
	var res PassResult
	kind := o.Policy.Kind()

	events, err := o.Repo.ListUnsyncedEvents(ctx, kind)
	if err != nil {
		return res, fmt.Errorf("list %s events: %w", kind, err)
	}
	for _, ev := range events {
		if o.Object != 0 && ev.ObjectID != o.Object {
			continue
		}
		seed, ok, err := o.Policy.Seed(ctx, ev)
		if err != nil {
			return res, fmt.Errorf("seed event %d: %w", ev.ID, err)
		}
		if !ok {
			continue
		}
		created, err := o.upsert(ctx, ev, seed)
		if err != nil {
			return res, err
		}
		if created {
			res.Seeded++
		}
	}

	machine := &sync.Machine{
		Store:      o.Store,
		Client:     o.Client,
		XMLDir:     o.XMLDir,
		Log:        o.Log,
		Build:      o.Policy.Payload,
		OnApproved: o.approved,
	}
	rows, err := o.Store.PendingForKind(ctx, kind)
	if err != nil {
		return res, fmt.Errorf("pending rows for %s: %w", kind, err)
	}

	// Shard by ledger identity so no two workers ever hold the same row, and
	// rows of one object keep their creation order within a shard.
	workers := o.Workers
	if workers < 1 {
		workers = 1
	}
	shards := make([][]domain.SyncLog, workers)
	for _, row := range rows {
		if o.Object != 0 && row.ObjectRef != o.Object {
			continue
		}
		if o.CheckOnly && !checkOnlyState(row.ProcessStatus) {
			continue
		}
		i := identityShard(row, workers)
		shards[i] = append(shards[i], row)
	}

	results := make([]PassResult, workers)
	g, gctx := errgroup.WithContext(ctx)
	for i, shard := range shards {
		if len(shard) == 0 {
			continue
		}
		i, shard := i, shard
		g.Go(func() error {
			for _, row := range shard {
				step, err := machine.Step(gctx, row)
				if err != nil {
					return err
				}
				results[i] = results[i].merge(step)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return res, err
	}
	for _, pr := range results {
		res.Stepped += pr.Stepped
		res.Progressed += pr.Progressed
		res.Parked += pr.Parked
	}
	return res, nil
}

func identityShard(row domain.SyncLog, workers int) int {
	h := fnv.New32a()
	fmt.Fprintf(h, "%d|%s|%s", row.ObjectRef, row.MessageType, row.DeliveryType)
	return int(h.Sum32()) % workers
}

// checkOnlyState limits a check-only pass to build and validate work; nothing
// is uploaded.
func checkOnlyState(s string) bool {
	switch s {
	case domain.StateNew, domain.StateBuildFailed, domain.StateInvalid, domain.StateBuilt:
		return true
	}
	return false
}

func (o *Orchestrator) upsert(ctx context.Context, ev domain.Event, seed Seed) (bool, error) {
	kind := o.Policy.Kind()
	_, err := o.Store.Find(ctx, kind, seed.ObjectRef, seed.MessageType, seed.DeliveryType)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, sync.ErrNotFound) {
		return false, err
	}
	eventID := ev.ID
	_, err = o.Store.Create(ctx, domain.SyncLog{
		ObjectKind:   kind,
		ObjectRef:    seed.ObjectRef,
		EventID:      &eventID,
		MessageType:  seed.MessageType,
		DeliveryType: seed.DeliveryType,
	})
	if err != nil {
		return false, fmt.Errorf("create row for event %d: %w", ev.ID, err)
	}
	o.Log.Info("seeded delivery",
		zap.String("kind", string(kind)),
		zap.Int64("object", seed.ObjectRef),
		zap.String("message_type", string(seed.MessageType)))
	return true, nil
}

// approved wraps the policy write-back and the event flip in one transaction.
func (o *Orchestrator) approved(ctx context.Context, row domain.SyncLog, status registry.DeliveryStatus) error {
	tx, err := o.Repo.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := o.Policy.Approved(ctx, tx, row, status); err != nil {
		return err
	}
	if row.EventID != nil {
		if err := o.Repo.MarkEventSynced(ctx, tx, *row.EventID); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// --- shared helpers for the policies ---

func decodePayload(ev domain.Event) (map[string]any, error) {
	if ev.Payload == "" {
		return map[string]any{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(ev.Payload), &m); err != nil {
		return nil, fmt.Errorf("event %d payload: %w", ev.ID, err)
	}
	return m, nil
}

func payloadInt(m map[string]any, key string) (int64, bool) {
	v, ok := m[key].(float64)
	if !ok {
		return 0, false
	}
	return int64(v), true
}

// refFor picks the request-reference base: the bro id when assigned, the
// local id otherwise.
func refFor(broID *string, localID int64) string {
	if broID != nil && *broID != "" {
		return *broID
	}
	return strconv.FormatInt(localID, 10)
}

func broIDString(broID *string) string {
	if broID == nil {
		return ""
	}
	return *broID
}
