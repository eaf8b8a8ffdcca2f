package database

import (
	"context"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/go-cmp/cmp"
	"github.com/jmoiron/sqlx"

	"cspdns/internal/config"
	"cspdns/internal/model"
)

func newMock(t *testing.T, driverName string) (*Tx, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })

	db := newDB(sqlx.NewDb(conn, driverName))
	db.now = func() time.Time { return time.Unix(1700000000, 0) }

	mock.ExpectBegin()
	tx, err := db.Begin(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	return tx, mock
}

func finish(t *testing.T, tx *Tx, mock sqlmock.Sqlmock) {
	t.Helper()
	mock.ExpectCommit()
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestReplaceRecord(t *testing.T) {
	tx, mock := newMock(t, "mysql")

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM records WHERE domain_id = ? AND name = ? AND type = ?")).
		WithArgs(7, "web01.prod.example", "A").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO records").
		WithArgs("web01.prod.example", "A", "10.0.0.5", 300, 1700000000, "web01", true, 7).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := tx.ReplaceRecord(context.Background(), model.ZoneRecord{
		Name: "web01.prod.example", Type: "A", Content: "10.0.0.5", TTL: 300, DomainID: 7, OrderName: "web01",
	}, false)
	if err != nil {
		t.Fatal(err)
	}
	finish(t, tx, mock)
}

func TestReplaceRecordSharedPostgres(t *testing.T) {
	tx, mock := newMock(t, "pgx")

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM records WHERE domain_id = $1 AND name = $2 AND type = $3 AND content = $4")).
		WithArgs(3, "web-12345678.prod.example", "A", "10.0.0.5").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("VALUES ($1, $2, $3, $4, 0, $5, $6, $7, $8)")).
		WithArgs("web-12345678.prod.example", "A", "10.0.0.5", 60, 1700000000, "web01", true, 3).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := tx.ReplaceRecord(context.Background(), model.ZoneRecord{
		Name: "web-12345678.prod.example", Type: "A", Content: "10.0.0.5", TTL: 60, DomainID: 3, OrderName: "web01",
	}, true)
	if err != nil {
		t.Fatal(err)
	}
	finish(t, tx, mock)
}

func TestReplaceRecordPointerHasNullOrderName(t *testing.T) {
	tx, mock := newMock(t, "mysql")

	mock.ExpectExec("DELETE FROM records").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO records").
		WithArgs("5.0.0.10.in-addr.arpa", "PTR", "web01.prod.example", 300, 1700000000, nil, true, 9).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := tx.ReplaceRecord(context.Background(), model.ZoneRecord{
		Name: "5.0.0.10.in-addr.arpa", Type: "PTR", Content: "web01.prod.example", TTL: 300, DomainID: 9,
	}, false)
	if err != nil {
		t.Fatal(err)
	}
	finish(t, tx, mock)
}

func TestDomainID(t *testing.T) {
	tx, mock := newMock(t, "pgx")

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM domains WHERE name = $1")).
		WithArgs("prod.example").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(12))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM domains WHERE name = $1")).
		WithArgs("0.0.10.in-addr.arpa").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	id, ok, err := tx.DomainID(context.Background(), "prod.example")
	if err != nil || !ok || id != 12 {
		t.Errorf("DomainID = %d, %v, %v; want 12, true, nil", id, ok, err)
	}
	_, ok, err = tx.DomainID(context.Background(), "0.0.10.in-addr.arpa")
	if err != nil || ok {
		t.Errorf("expected missing zone, got ok=%v err=%v", ok, err)
	}
	finish(t, tx, mock)
}

func TestPurgeAndDeleteRecords(t *testing.T) {
	tx, mock := newMock(t, "mysql")
	ctx := context.Background()

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM records WHERE name = ? AND type IN ('A', 'AAAA')")).
		WithArgs("web01.prod.example").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM records WHERE name = ? AND type IN ('A', 'AAAA', 'PTR')")).
		WithArgs("web01.prod.example").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM records WHERE name = ? AND content = ? AND type IN ('A', 'AAAA', 'PTR')")).
		WithArgs("web-12345678.prod.example", "10.0.0.5").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := tx.PurgeForward(ctx, "web01.prod.example"); err != nil {
		t.Fatal(err)
	}
	n, err := tx.DeleteRecords(ctx, "web01.prod.example", "")
	if err != nil || n != 2 {
		t.Errorf("DeleteRecords = %d, %v", n, err)
	}
	n, err = tx.DeleteRecords(ctx, "web-12345678.prod.example", "10.0.0.5")
	if err != nil || n != 1 {
		t.Errorf("DeleteRecords = %d, %v", n, err)
	}
	finish(t, tx, mock)
}

func TestMappings(t *testing.T) {
	tx, mock := newMock(t, "mysql")
	ctx := context.Background()

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM cs_mapping WHERE uuid = ? AND record = ? AND ipaddress IS NULL")).
		WithArgs("vm-1", "web01.prod.example").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO cs_mapping (uuid, record, ipaddress) VALUES (?, ?, ?)")).
		WithArgs("vm-1", "web01.prod.example", nil).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM cs_mapping WHERE uuid = ? AND record = ? AND ipaddress = ?")).
		WithArgs("vm-1", "web-12345678.prod.example", "10.0.0.5").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO cs_mapping (uuid, record, ipaddress) VALUES (?, ?, ?)")).
		WithArgs("vm-1", "web-12345678.prod.example", "10.0.0.5").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT record, ipaddress FROM cs_mapping WHERE uuid = ?")).
		WithArgs("vm-1").
		WillReturnRows(sqlmock.NewRows([]string{"record", "ipaddress"}).
			AddRow("web-12345678.prod.example", "10.0.0.5").
			AddRow("web01.prod.example", nil))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM cs_mapping WHERE uuid = ?")).
		WithArgs("vm-1").
		WillReturnResult(sqlmock.NewResult(0, 2))

	if err := tx.AddMapping(ctx, model.MappingEntry{UUID: "vm-1", Record: "web01.prod.example"}); err != nil {
		t.Fatal(err)
	}
	if err := tx.AddMapping(ctx, model.MappingEntry{UUID: "vm-1", Record: "web-12345678.prod.example", IPAddress: "10.0.0.5"}); err != nil {
		t.Fatal(err)
	}

	got, err := tx.Mappings(ctx, "vm-1")
	if err != nil {
		t.Fatal(err)
	}
	want := []model.MappingEntry{
		{UUID: "vm-1", Record: "web-12345678.prod.example", IPAddress: "10.0.0.5"},
		{UUID: "vm-1", Record: "web01.prod.example"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Error(diff)
	}

	n, err := tx.DeleteMappings(ctx, "vm-1")
	if err != nil || n != 2 {
		t.Errorf("DeleteMappings = %d, %v", n, err)
	}
	finish(t, tx, mock)
}

func TestReferenced(t *testing.T) {
	tx, mock := newMock(t, "pgx")
	ctx := context.Background()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM cs_mapping WHERE record = $1 AND ipaddress = $2 AND uuid <> $3")).
		WithArgs("web-12345678.prod.example", "10.0.0.5", "vm-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM cs_mapping WHERE record = $1 AND ipaddress IS NULL AND uuid <> $2")).
		WithArgs("web01.prod.example", "vm-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	ok, err := tx.Referenced(ctx, "vm-1", "web-12345678.prod.example", "10.0.0.5")
	if err != nil || !ok {
		t.Errorf("Referenced = %v, %v; want true", ok, err)
	}
	ok, err = tx.Referenced(ctx, "vm-1", "web01.prod.example", "")
	if err != nil || ok {
		t.Errorf("Referenced = %v, %v; want false", ok, err)
	}
	finish(t, tx, mock)
}

func TestDataSource(t *testing.T) {
	cfg := config.DatabaseConfig{Driver: config.DriverMySQL, Name: "pdns", User: "pdns", Password: "secret", Host: "db", Port: 3306}
	driver, dsn := DataSource(cfg)
	if driver != "mysql" || !strings.HasPrefix(dsn, "pdns:secret@tcp(db:3306)/pdns") {
		t.Errorf("unexpected mysql data source %s %s", driver, dsn)
	}

	cfg.Driver = config.DriverPostgres
	cfg.Host = "pg"
	cfg.Port = 5432
	driver, dsn = DataSource(cfg)
	if driver != "pgx" || dsn != "postgres://pdns:secret@pg:5432/pdns" {
		t.Errorf("unexpected postgres data source %s %s", driver, dsn)
	}
}
