package mysql

import (
	"testing"

	driver "github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDSN(t *testing.T) {
	dsn := DSN("hunt", "p@ss:word", "db.internal", 3306, "huntlens")
	c, err := driver.ParseDSN(dsn)
	require.NoError(t, err)
	assert.Equal(t, "hunt", c.User)
	assert.Equal(t, "p@ss:word", c.Passwd)
	assert.Equal(t, "db.internal:3306", c.Addr)
	assert.Equal(t, "huntlens", c.DBName)
	assert.True(t, c.ParseTime)
}
