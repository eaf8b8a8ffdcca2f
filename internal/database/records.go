package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"cspdns/internal/model"
)

// managedTypes restricts name based deletes to the record types this service writes.
const managedTypes = "('A', 'AAAA', 'PTR')"

// DomainID returns the id of the zone name in the domains table.
func (t *Tx) DomainID(ctx context.Context, name string) (int64, bool, error) {
	var id int64
	err := t.tx.QueryRowxContext(ctx, t.tx.Rebind("SELECT id FROM domains WHERE name = ?"), name).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("lookup domain %s: %w", name, err)
	}
	return id, true, nil
}

// PurgeForward removes the A and AAAA records at name in every zone.
func (t *Tx) PurgeForward(ctx context.Context, name string) error {
	if _, err := t.exec(ctx, "DELETE FROM records WHERE name = ? AND type IN ('A', 'AAAA')", name); err != nil {
		return fmt.Errorf("purge %s: %w", name, err)
	}
	return nil
}

// ReplaceRecord writes rec, first removing the record it supersedes: the one
// with the same name and type in the zone, or with the same content too when
// shared is set.
func (t *Tx) ReplaceRecord(ctx context.Context, rec model.ZoneRecord, shared bool) error {
	var err error
	if shared {
		_, err = t.exec(ctx,
			"DELETE FROM records WHERE domain_id = ? AND name = ? AND type = ? AND content = ?",
			rec.DomainID, rec.Name, rec.Type, rec.Content)
	} else {
		_, err = t.exec(ctx,
			"DELETE FROM records WHERE domain_id = ? AND name = ? AND type = ?",
			rec.DomainID, rec.Name, rec.Type)
	}
	if err != nil {
		return fmt.Errorf("replace %s %s: %w", rec.Type, rec.Name, err)
	}

	_, err = t.exec(ctx,
		`INSERT INTO records (name, type, content, ttl, prio, change_date, ordername, auth, domain_id)
		 VALUES (?, ?, ?, ?, 0, ?, ?, ?, ?)`,
		rec.Name, rec.Type, rec.Content, rec.TTL, t.now().Unix(), nullable(rec.OrderName), true, rec.DomainID)
	if err != nil {
		return fmt.Errorf("insert %s %s: %w", rec.Type, rec.Name, err)
	}
	return nil
}

// DeleteRecords removes the managed records at name, only those with the
// given content when content is set. It returns the number of rows removed.
func (t *Tx) DeleteRecords(ctx context.Context, name, content string) (int64, error) {
	var (
		res sql.Result
		err error
	)
	if content != "" {
		res, err = t.exec(ctx,
			"DELETE FROM records WHERE name = ? AND content = ? AND type IN "+managedTypes, name, content)
	} else {
		res, err = t.exec(ctx,
			"DELETE FROM records WHERE name = ? AND type IN "+managedTypes, name)
	}
	if err != nil {
		return 0, fmt.Errorf("delete %s: %w", name, err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
