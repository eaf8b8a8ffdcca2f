// Package engine turns CloudStack VM lifecycle events into PowerDNS records.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"cspdns/internal/model"
	"cspdns/internal/planner"
	"cspdns/internal/service"
)

var (
	// ErrTransient marks an event whose lookups failed against the
	// orchestration API. Nothing was written and the event must be retried.
	ErrTransient = errors.New("transient orchestration api failure")
	// ErrApply marks a failed zone store transaction. It was rolled back.
	ErrApply = errors.New("zone store transaction failed")
)

type Outcome string

const (
	OutcomeIgnored   Outcome = "ignored"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeCreated   Outcome = "created"
	OutcomeStarted   Outcome = "started"
	OutcomeDestroyed Outcome = "destroyed"
)

type Result struct {
	Outcomes       []Outcome
	RecordsWritten int
	RecordsDeleted int
}

// Tx is one atomic unit of zone and mapping mutations.
type Tx interface {
	DomainID(ctx context.Context, name string) (int64, bool, error)
	PurgeForward(ctx context.Context, name string) error
	ReplaceRecord(ctx context.Context, rec model.ZoneRecord, shared bool) error
	DeleteRecords(ctx context.Context, name, content string) (int64, error)
	AddMapping(ctx context.Context, e model.MappingEntry) error
	Mappings(ctx context.Context, uuid string) ([]model.MappingEntry, error)
	Referenced(ctx context.Context, uuid, record, ipaddress string) (bool, error)
	DeleteMappings(ctx context.Context, uuid string) (int64, error)
	Commit() error
	Rollback() error
}

type BeginFunc func(ctx context.Context) (Tx, error)

type Resolver interface {
	ResolveAccount(ev *model.Event) (*model.Account, error)
	ResolveVirtualMachine(jobResult string) (*model.VirtualMachine, error)
}

type Engine struct {
	log      *logrus.Entry
	resolver Resolver
	begin    BeginFunc
	opts     planner.Options
}

func New(log *logrus.Entry, resolver Resolver, begin BeginFunc, opts planner.Options) *Engine {
	return &Engine{log: log, resolver: resolver, begin: begin, opts: opts}
}

// Decode extracts the fields used for classification from a message value.
// ok is false when the value is not a JSON object.
func Decode(value []byte) (ev *model.Event, ok bool) {
	var m map[string]interface{}
	if err := json.Unmarshal(value, &m); err != nil || m == nil {
		return nil, false
	}
	str := func(k string) string {
		s, _ := m[k].(string)
		return s
	}
	return &model.Event{
		CommandEventType: str("commandEventType"),
		Status:           str("status"),
		JobResult:        str("jobResult"),
		Account:          str("account"),
		VirtualMachine:   str("VirtualMachine"),
		Event:            str("event"),
	}, true
}

func isCreate(ev *model.Event) bool {
	return strings.EqualFold(ev.CommandEventType, "VM.CREATE") && strings.EqualFold(ev.Status, "SUCCEEDED")
}

func isStart(ev *model.Event) bool {
	return strings.EqualFold(ev.CommandEventType, "VM.START") && strings.EqualFold(ev.Status, "SUCCEEDED")
}

func isDestroy(ev *model.Event) bool {
	return ev.VirtualMachine != "" &&
		strings.EqualFold(ev.Status, "COMPLETED") &&
		strings.EqualFold(ev.Event, "VM.DESTROY")
}

// Handle applies one message. Errors wrap ErrTransient or ErrApply.
func (e *Engine) Handle(ctx context.Context, value []byte) (Result, error) {
	var res Result

	ev, ok := Decode(value)
	if !ok {
		e.log.Debug("message is not a json object, ignoring")
		res.Outcomes = []Outcome{OutcomeIgnored}
		return res, nil
	}

	if create, start := isCreate(ev), isStart(ev); create || start {
		outcome, n, err := e.create(ctx, ev, start)
		if err != nil {
			return res, err
		}
		res.Outcomes = append(res.Outcomes, outcome)
		res.RecordsWritten += n
	}

	if isDestroy(ev) {
		n, err := e.destroy(ctx, strings.ToLower(ev.VirtualMachine))
		if err != nil {
			return res, err
		}
		res.Outcomes = append(res.Outcomes, OutcomeDestroyed)
		res.RecordsDeleted += n
	}

	if len(res.Outcomes) == 0 {
		res.Outcomes = []Outcome{OutcomeIgnored}
	}
	return res, nil
}

// resolveErr reports whether err means the event should be skipped, and
// wraps every other failure as transient.
func resolveErr(err error) (skip bool, wrapped error) {
	if errors.Is(err, service.ErrNotFound) || errors.Is(err, service.ErrMalformedPayload) {
		return true, nil
	}
	return false, fmt.Errorf("%w: %w", ErrTransient, err)
}

func (e *Engine) create(ctx context.Context, ev *model.Event, start bool) (Outcome, int, error) {
	log := e.log.WithFields(logrus.Fields{"event": ev.CommandEventType, "account": ev.Account})

	acct, err := e.resolver.ResolveAccount(ev)
	if err != nil {
		skip, wrapped := resolveErr(err)
		if skip {
			log.WithError(err).Info("account unresolvable, skipping")
			return OutcomeSkipped, 0, nil
		}
		return "", 0, wrapped
	}

	vm, err := e.resolver.ResolveVirtualMachine(ev.JobResult)
	if err != nil {
		skip, wrapped := resolveErr(err)
		if skip {
			log.WithError(err).Info("virtual machine unresolvable, skipping")
			return OutcomeSkipped, 0, nil
		}
		return "", 0, wrapped
	}

	log = log.WithField("vm", vm.UUID)
	if !vm.Syncable() {
		log.WithFields(logrus.Fields{"domain": vm.DomainSuffix, "ipv4": vm.NIC.IP4}).
			Info("virtual machine has no dns suffix or ipv4 address, skipping")
		return OutcomeSkipped, 0, nil
	}

	log.WithFields(logrus.Fields{
		"fqdn":        vm.FQDN(),
		"ipv4":        vm.NIC.IP4,
		"ipv6":        vm.NIC.IP6,
		"ipv4PtrName": vm.IP4PtrName,
		"ipv4PtrZone": vm.IP4PtrZone,
		"ipv6PtrName": vm.IP6PtrName,
		"ipv6PtrZone": vm.IP6PtrZone,
	}).Info("virtual machine")

	plan := planner.PlanCreate(acct, vm, e.opts, !start)

	written := 0
	err = e.inTx(ctx, func(tx Tx) error {
		written = 0
		for _, name := range plan.Purge {
			if err := tx.PurgeForward(ctx, name); err != nil {
				return err
			}
		}

		zones := map[string]int64{}
		missing := map[string]bool{}
		for _, w := range plan.Writes {
			if missing[w.Zone] {
				continue
			}
			id, ok := zones[w.Zone]
			if !ok {
				var (
					found bool
					err   error
				)
				id, found, err = tx.DomainID(ctx, w.Zone)
				if err != nil {
					return err
				}
				if !found {
					log.WithField("zone", w.Zone).Info("zone not provisioned, skipping its records")
					missing[w.Zone] = true
					continue
				}
				zones[w.Zone] = id
			}

			rec := w.Record
			rec.DomainID = id
			if err := tx.ReplaceRecord(ctx, rec, w.Shared); err != nil {
				return err
			}
			if err := tx.AddMapping(ctx, w.Mapping); err != nil {
				return err
			}
			written++
		}
		return nil
	})
	if err != nil {
		return "", 0, err
	}

	outcome := OutcomeCreated
	if start {
		outcome = OutcomeStarted
	}
	log.WithField("records", written).Info("records published")
	return outcome, written, nil
}

func (e *Engine) destroy(ctx context.Context, uuid string) (int, error) {
	log := e.log.WithField("vm", uuid)

	deleted := 0
	err := e.inTx(ctx, func(tx Tx) error {
		deleted = 0
		entries, err := tx.Mappings(ctx, uuid)
		if err != nil {
			return err
		}

		for _, d := range planner.PlanDelete(entries) {
			shared, err := tx.Referenced(ctx, uuid, d.Name, d.Content)
			if err != nil {
				return err
			}
			if shared {
				log.WithFields(logrus.Fields{"record": d.Name, "ipaddress": d.Content}).
					Info("record still mapped by another virtual machine, keeping it")
				continue
			}

			log.WithFields(logrus.Fields{"record": d.Name, "ipaddress": d.Content}).Info("deleting dns entries")
			n, err := tx.DeleteRecords(ctx, d.Name, d.Content)
			if err != nil {
				return err
			}
			deleted += int(n)
		}

		_, err = tx.DeleteMappings(ctx, uuid)
		return err
	})
	if err != nil {
		return 0, err
	}

	log.WithField("records", deleted).Info("records removed")
	return deleted, nil
}

// inTx runs fn in a fresh transaction, committing on success and rolling
// back on any failure. Failures are wrapped with ErrApply.
func (e *Engine) inTx(ctx context.Context, fn func(Tx) error) error {
	tx, err := e.begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrApply, err)
	}

	committed := false
	defer func() {
		if committed {
			return
		}
		if rbErr := tx.Rollback(); rbErr != nil {
			e.log.WithError(rbErr).Warn("rollback failed")
		}
	}()

	if err := fn(tx); err != nil {
		return fmt.Errorf("%w: %w", ErrApply, err)
	}
	err = tx.Commit()
	committed = true
	if err != nil {
		return fmt.Errorf("%w: commit: %w", ErrApply, err)
	}
	return nil
}
