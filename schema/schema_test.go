package schema_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sqlitedissect/dissect/schema"
	"github.com/sqlitedissect/dissect/varint"
)

func TestDecodeObject(t *testing.T) {
	values := []varint.Value{
		{Kind: varint.KindText, Bytes: []byte("table")},
		{Kind: varint.KindText, Bytes: []byte("users")},
		{Kind: varint.KindText, Bytes: []byte("users")},
		{Kind: varint.KindInteger, Integer: 2},
		{Kind: varint.KindText, Bytes: []byte("CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT NOT NULL)")},
	}
	obj, err := schema.DecodeObject(values)
	require.NoError(t, err)
	require.Equal(t, schema.ObjectTable, obj.Type)
	require.Equal(t, "users", obj.Name)
	require.EqualValues(t, 2, obj.RootPage)
}

func TestParseColumnsBasic(t *testing.T) {
	sql := "CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT NOT NULL, note BLOB)"
	cols, err := schema.ParseColumns(sql)
	require.NoError(t, err)
	require.Len(t, cols, 3)
	require.Equal(t, "id", cols[0].Name)
	require.True(t, cols[0].PrimaryKey)
	require.Equal(t, "name", cols[1].Name)
	require.True(t, cols[1].NotNull)
	require.Equal(t, schema.AffinityBlob, cols[2].Affinity)
}

func TestParseColumnsSkipsTableConstraintsAndComments(t *testing.T) {
	sql := `CREATE TABLE t (
		-- a comment with a , in it
		a INTEGER,
		b TEXT, /* another (comment) */
		PRIMARY KEY (a),
		UNIQUE (b)
	)`
	cols, err := schema.ParseColumns(sql)
	require.NoError(t, err)
	require.Len(t, cols, 2)
	require.Equal(t, "a", cols[0].Name)
	require.Equal(t, "b", cols[1].Name)
}

func TestParseColumnsHandlesQuotedIdentifierWithParen(t *testing.T) {
	sql := "CREATE TABLE t (\"weird, name\" TEXT, b INTEGER)"
	cols, err := schema.ParseColumns(sql)
	require.NoError(t, err)
	require.Len(t, cols, 2)
	require.Equal(t, "weird, name", cols[0].Name)
}

func TestAffinityOf(t *testing.T) {
	require.Equal(t, schema.AffinityInteger, schema.AffinityOf("INT"))
	require.Equal(t, schema.AffinityText, schema.AffinityOf("VARCHAR(32)"))
	require.Equal(t, schema.AffinityBlob, schema.AffinityOf(""))
	require.Equal(t, schema.AffinityReal, schema.AffinityOf("DOUBLE"))
	require.Equal(t, schema.AffinityNumeric, schema.AffinityOf("BOOLEAN"))
}

func TestParseColumnsUnterminatedStringFails(t *testing.T) {
	sql := "CREATE TABLE t (a TEXT DEFAULT 'oops, b INTEGER)"
	_, err := schema.ParseColumns(sql)
	require.Error(t, err)
}

func TestParseColumnsUnterminatedBlockCommentFails(t *testing.T) {
	sql := "CREATE TABLE t (a INTEGER, /* never closed b TEXT)"
	_, err := schema.ParseColumns(sql)
	require.Error(t, err)
}

func TestCrossCheckAgrees(t *testing.T) {
	sql := "CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT)"
	cols, err := schema.ParseColumns(sql)
	require.NoError(t, err)
	agree, checked := schema.CrossCheck(sql, cols)
	require.True(t, checked)
	require.True(t, agree)
}
