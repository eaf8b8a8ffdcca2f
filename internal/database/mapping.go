package database

import (
	"context"
	"database/sql"
	"fmt"

	"cspdns/internal/model"
)

// AddMapping records that e.Record was written for e.UUID. It is a no-op
// for a triple that is already present.
func (t *Tx) AddMapping(ctx context.Context, e model.MappingEntry) error {
	// NULLs never collide in a unique index, so dedupe by hand
	var err error
	if e.IPAddress == "" {
		_, err = t.exec(ctx,
			"DELETE FROM cs_mapping WHERE uuid = ? AND record = ? AND ipaddress IS NULL",
			e.UUID, e.Record)
	} else {
		_, err = t.exec(ctx,
			"DELETE FROM cs_mapping WHERE uuid = ? AND record = ? AND ipaddress = ?",
			e.UUID, e.Record, e.IPAddress)
	}
	if err != nil {
		return fmt.Errorf("dedupe mapping %s %s: %w", e.UUID, e.Record, err)
	}

	_, err = t.exec(ctx,
		"INSERT INTO cs_mapping (uuid, record, ipaddress) VALUES (?, ?, ?)",
		e.UUID, e.Record, nullable(e.IPAddress))
	if err != nil {
		return fmt.Errorf("insert mapping %s %s: %w", e.UUID, e.Record, err)
	}
	return nil
}

// Mappings lists the records written for a VM.
func (t *Tx) Mappings(ctx context.Context, uuid string) ([]model.MappingEntry, error) {
	rows, err := t.tx.QueryxContext(ctx,
		t.tx.Rebind("SELECT record, ipaddress FROM cs_mapping WHERE uuid = ? ORDER BY record, ipaddress"), uuid)
	if err != nil {
		return nil, fmt.Errorf("list mappings %s: %w", uuid, err)
	}
	defer rows.Close()

	var entries []model.MappingEntry
	for rows.Next() {
		var (
			record string
			ip     sql.NullString
		)
		if err := rows.Scan(&record, &ip); err != nil {
			return nil, err
		}
		entries = append(entries, model.MappingEntry{UUID: uuid, Record: record, IPAddress: ip.String})
	}
	return entries, rows.Err()
}

// DeleteMappings removes every mapping row of a VM.
func (t *Tx) DeleteMappings(ctx context.Context, uuid string) (int64, error) {
	res, err := t.exec(ctx, "DELETE FROM cs_mapping WHERE uuid = ?", uuid)
	if err != nil {
		return 0, fmt.Errorf("delete mappings %s: %w", uuid, err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Referenced reports whether a VM other than uuid still maps record (and
// ipaddress, when set).
func (t *Tx) Referenced(ctx context.Context, uuid, record, ipaddress string) (bool, error) {
	var (
		n   int
		err error
	)
	if ipaddress == "" {
		err = t.tx.QueryRowxContext(ctx, t.tx.Rebind(
			"SELECT COUNT(*) FROM cs_mapping WHERE record = ? AND ipaddress IS NULL AND uuid <> ?"),
			record, uuid).Scan(&n)
	} else {
		err = t.tx.QueryRowxContext(ctx, t.tx.Rebind(
			"SELECT COUNT(*) FROM cs_mapping WHERE record = ? AND ipaddress = ? AND uuid <> ?"),
			record, ipaddress, uuid).Scan(&n)
	}
	if err != nil {
		return false, fmt.Errorf("count references to %s: %w", record, err)
	}
	return n > 0, nil
}
