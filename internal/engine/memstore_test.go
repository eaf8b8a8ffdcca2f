package engine

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"cspdns/internal/model"
)

// memStore is an in-memory zone store with the semantics of database.Tx.
type memStore struct {
	domains  map[string]int64
	records  []model.ZoneRecord
	mappings []model.MappingEntry

	begins    int
	commits   int
	rollbacks int
	// failOn makes the named Tx method fail.
	failOn string
}

func newMemStore(zones ...string) *memStore {
	s := &memStore{domains: map[string]int64{}}
	for i, z := range zones {
		s.domains[z] = int64(i + 1)
	}
	return s
}

func (s *memStore) Begin(ctx context.Context) (Tx, error) {
	s.begins++
	if s.failOn == "Begin" {
		return nil, errors.New("connection refused")
	}
	return &memTx{
		s:        s,
		records:  slices.Clone(s.records),
		mappings: slices.Clone(s.mappings),
	}, nil
}

type memTx struct {
	s        *memStore
	records  []model.ZoneRecord
	mappings []model.MappingEntry
	done     bool
}

func (t *memTx) fail(method string) error {
	if t.s.failOn == method {
		return fmt.Errorf("%s: deadlock found when trying to get lock", method)
	}
	return nil
}

func managed(typ string) bool {
	return slices.Contains(model.ManagedTypes, typ)
}

func (t *memTx) DomainID(ctx context.Context, name string) (int64, bool, error) {
	if err := t.fail("DomainID"); err != nil {
		return 0, false, err
	}
	id, ok := t.s.domains[name]
	return id, ok, nil
}

func (t *memTx) PurgeForward(ctx context.Context, name string) error {
	if err := t.fail("PurgeForward"); err != nil {
		return err
	}
	t.records = slices.DeleteFunc(t.records, func(r model.ZoneRecord) bool {
		return r.Name == name && (r.Type == model.TypeA || r.Type == model.TypeAAAA)
	})
	return nil
}

func (t *memTx) ReplaceRecord(ctx context.Context, rec model.ZoneRecord, shared bool) error {
	if err := t.fail("ReplaceRecord"); err != nil {
		return err
	}
	t.records = slices.DeleteFunc(t.records, func(r model.ZoneRecord) bool {
		return r.DomainID == rec.DomainID && r.Name == rec.Name && r.Type == rec.Type &&
			(!shared || r.Content == rec.Content)
	})
	t.records = append(t.records, rec)
	return nil
}

func (t *memTx) DeleteRecords(ctx context.Context, name, content string) (int64, error) {
	if err := t.fail("DeleteRecords"); err != nil {
		return 0, err
	}
	before := len(t.records)
	t.records = slices.DeleteFunc(t.records, func(r model.ZoneRecord) bool {
		return r.Name == name && managed(r.Type) && (content == "" || r.Content == content)
	})
	return int64(before - len(t.records)), nil
}

func (t *memTx) AddMapping(ctx context.Context, e model.MappingEntry) error {
	if err := t.fail("AddMapping"); err != nil {
		return err
	}
	if !slices.Contains(t.mappings, e) {
		t.mappings = append(t.mappings, e)
	}
	return nil
}

func (t *memTx) Mappings(ctx context.Context, uuid string) ([]model.MappingEntry, error) {
	if err := t.fail("Mappings"); err != nil {
		return nil, err
	}
	var out []model.MappingEntry
	for _, m := range t.mappings {
		if m.UUID == uuid {
			out = append(out, m)
		}
	}
	return out, nil
}

func (t *memTx) Referenced(ctx context.Context, uuid, record, ipaddress string) (bool, error) {
	if err := t.fail("Referenced"); err != nil {
		return false, err
	}
	for _, m := range t.mappings {
		if m.UUID != uuid && m.Record == record && m.IPAddress == ipaddress {
			return true, nil
		}
	}
	return false, nil
}

func (t *memTx) DeleteMappings(ctx context.Context, uuid string) (int64, error) {
	if err := t.fail("DeleteMappings"); err != nil {
		return 0, err
	}
	before := len(t.mappings)
	t.mappings = slices.DeleteFunc(t.mappings, func(m model.MappingEntry) bool { return m.UUID == uuid })
	return int64(before - len(t.mappings)), nil
}

func (t *memTx) Commit() error {
	if t.done {
		return errors.New("transaction already done")
	}
	t.done = true
	if err := t.fail("Commit"); err != nil {
		return err
	}
	t.s.commits++
	t.s.records = t.records
	t.s.mappings = t.mappings
	return nil
}

func (t *memTx) Rollback() error {
	if t.done {
		return errors.New("transaction already done")
	}
	t.done = true
	t.s.rollbacks++
	return nil
}
