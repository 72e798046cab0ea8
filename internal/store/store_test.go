package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/sirupsen/logrus"
)

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.ErrorLevel)
	return l.WithField("test", true)
}

func newTestStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db, testLogger()), mock
}

func TestUpsertBlock(t *testing.T) {
	s, mock := newTestStore(t)
	mock.ExpectExec("INSERT INTO blocks").
		WithArgs(int64(7), "hash7", []byte(`{}`)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.UpsertBlock(context.Background(), 7, "hash7", []byte(`{}`)); err != nil {
		t.Fatalf("UpsertBlock returned error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestStateBlockNumNoRowsReturnsMinusOne(t *testing.T) {
	s, mock := newTestStore(t)
	mock.ExpectQuery("SELECT block_num FROM state").
		WithArgs("missing.key").
		WillReturnError(sql.ErrNoRows)

	bn, err := s.StateBlockNum(context.Background(), "missing.key")
	if err != nil {
		t.Fatalf("StateBlockNum returned error: %v", err)
	}
	if bn != -1 {
		t.Fatalf("StateBlockNum = %d, want -1 for a missing row", bn)
	}
}

func TestStateBlockNumPropagatesBackendError(t *testing.T) {
	s, mock := newTestStore(t)
	boom := errors.New("connection reset")
	mock.ExpectQuery("SELECT block_num FROM state").
		WithArgs("k").
		WillReturnError(boom)

	_, err := s.StateBlockNum(context.Background(), "k")
	if err == nil {
		t.Fatalf("expected an error to propagate from the backend")
	}
}

func TestBlockByNumberMiss(t *testing.T) {
	s, mock := newTestStore(t)
	mock.ExpectQuery("SELECT block FROM blocks WHERE number").
		WithArgs(int64(99)).
		WillReturnError(sql.ErrNoRows)

	raw, err := s.BlockByNumber(context.Background(), 99)
	if err != nil {
		t.Fatalf("BlockByNumber returned error: %v", err)
	}
	if raw != nil {
		t.Fatalf("expected a nil result for a missing block, got %s", raw)
	}
}

func TestCursorGetSet(t *testing.T) {
	s, mock := newTestStore(t)
	mock.ExpectExec("INSERT INTO kv").
		WithArgs("sync_start", "42").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT value FROM kv").
		WithArgs("sync_start").
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow("42"))

	if err := s.CursorSet(context.Background(), "sync_start", "42"); err != nil {
		t.Fatalf("CursorSet returned error: %v", err)
	}
	v, ok, err := s.CursorGet(context.Background(), "sync_start")
	if err != nil {
		t.Fatalf("CursorGet returned error: %v", err)
	}
	if !ok || v != "42" {
		t.Fatalf("CursorGet = (%q, %v), want (\"42\", true)", v, ok)
	}
}
