package db

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/goran-ethernal/StarboardIndexor/pkg/config"
	"github.com/russross/meddler"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestVacuum_Modes(t *testing.T) {
	t.Parallel()

	for _, journalMode := range []string{"WAL", "TRUNCATE"} {
		t.Run(journalMode, func(t *testing.T) {
			t.Parallel()

			dbPath := filepath.Join(t.TempDir(), "vacuum.sqlite")
			cfg := config.DatabaseConfig{Path: dbPath, JournalMode: journalMode}
			cfg.ApplyDefaults()

			sqlDB, err := NewSQLiteDBFromConfig(cfg)
			require.NoError(t, err)
			defer sqlDB.Close()

			_, err = sqlDB.Exec(`CREATE TABLE candle (id TEXT PRIMARY KEY, close TEXT)`)
			require.NoError(t, err)
			for i := range 2000 {
				_, err = sqlDB.Exec(`INSERT INTO candle (id, close) VALUES (?, ?)`, fmt.Sprintf("c-%d", i), "1")
				require.NoError(t, err)
			}
			_, err = sqlDB.Exec(`DELETE FROM candle`)
			require.NoError(t, err)

			initialSize, err := DBTotalSize(dbPath)
			require.NoError(t, err)

			require.NoError(t, Vacuum(sqlDB))

			finalSize, err := DBTotalSize(dbPath)
			require.NoError(t, err)
			require.LessOrEqual(t, finalSize, initialSize)
		})
	}
}

func TestDBTotalSize(t *testing.T) {
	dir := t.TempDir()
	mainPath := filepath.Join(dir, "main.db")

	size, err := DBTotalSize(mainPath)
	require.NoError(t, err)
	require.Zero(t, size)

	require.NoError(t, os.WriteFile(mainPath, []byte("main-db"), 0o600))
	require.NoError(t, os.WriteFile(mainPath+"-wal", []byte("wal-content"), 0o600))
	require.NoError(t, os.WriteFile(mainPath+"-shm", []byte("shm"), 0o600))

	size, err = DBTotalSize(mainPath)
	require.NoError(t, err)
	require.Equal(t, int64(len("main-db")+len("wal-content")+len("shm")), size)
}

type meddlerRow struct {
	ID       string           `meddler:"id"`
	Price    decimal.Decimal  `meddler:"price,decimal"`
	Funding  *decimal.Decimal `meddler:"funding,decimal"`
	BlockID  common.Hash      `meddler:"block_id,hash"`
	ParentID *common.Hash     `meddler:"parent_id,hash"`
}

func TestCustomMeddlers_RoundTrip(t *testing.T) {
	sqlDB, err := NewSQLiteDB(filepath.Join(t.TempDir(), "meddler.sqlite"))
	require.NoError(t, err)
	defer sqlDB.Close()

	_, err = sqlDB.Exec(`CREATE TABLE sample (id TEXT PRIMARY KEY, price TEXT, funding TEXT, block_id TEXT, parent_id TEXT)`)
	require.NoError(t, err)

	price := decimal.RequireFromString("61234.123456789012345678")
	in := &meddlerRow{
		ID:      "r1",
		Price:   price,
		BlockID: common.HexToHash("0xabc"),
	}
	require.NoError(t, meddler.Insert(sqlDB, "sample", in))

	var out meddlerRow
	require.NoError(t, meddler.QueryRow(sqlDB, &out, `SELECT * FROM sample WHERE id = ?`, "r1"))
	require.True(t, price.Equal(out.Price), "precision must survive storage")
	require.Nil(t, out.Funding)
	require.Nil(t, out.ParentID)
	require.Equal(t, in.BlockID, out.BlockID)
}
