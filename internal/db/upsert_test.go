package db

import (
	"context"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBulkUpsert_EmptyRows(t *testing.T) {
	n, err := BulkUpsert(context.TODO(), nil, UpsertConfig{
		Table:        "product_index",
		Columns:      []string{"source", "external_id", "title"},
		ConflictKeys: []string{"source", "external_id"},
	}, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestBulkUpsert_NoColumns(t *testing.T) {
	_, err := BulkUpsert(context.TODO(), nil, UpsertConfig{
		Table:        "product_index",
		ConflictKeys: []string{"source", "external_id"},
	}, [][]any{{"awin", "1", "a"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no columns specified")
}

func TestBulkUpsert_NoConflictKeys(t *testing.T) {
	_, err := BulkUpsert(context.TODO(), nil, UpsertConfig{
		Table:   "product_index",
		Columns: []string{"source", "external_id", "title"},
	}, [][]any{{"awin", "1", "a"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no conflict keys specified")
}

func TestBulkUpsert_Success(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE "_staging_product_index"`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_staging_product_index"}, []string{"source", "external_id", "title"}).
		WillReturnResult(2)
	mock.ExpectExec(`INSERT INTO "product_index" .+ ON CONFLICT \("source", "external_id"\) DO UPDATE SET "title" = EXCLUDED\."title"`).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()
	mock.ExpectRollback()

	rows := [][]any{
		{"awin", "1001", "Trail Shoe"},
		{"awin", "1002", "Rain Jacket"},
	}
	n, err := BulkUpsert(context.Background(), mock, UpsertConfig{
		Table:        "product_index",
		Columns:      []string{"source", "external_id", "title"},
		ConflictKeys: []string{"source", "external_id"},
	}, rows)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkUpsert_CopyError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_staging_product_index"}, []string{"source", "external_id"}).
		WillReturnError(fmt.Errorf("copy failed"))
	mock.ExpectRollback()

	_, err = BulkUpsert(context.Background(), mock, UpsertConfig{
		Table:        "product_index",
		Columns:      []string{"source", "external_id"},
		ConflictKeys: []string{"source", "external_id"},
	}, [][]any{{"cj", "9"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "COPY into staging table")
}

func TestTableIdent(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"product_index", `"product_index"`},
		{"feeds.product_index", `"feeds"."product_index"`},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := tableIdent(tt.input)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestIdentList(t *testing.T) {
	result := identList([]string{"source", "external_id", "score"})
	assert.Equal(t, `"source", "external_id", "score"`, result)
}
