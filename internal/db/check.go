// internal/db/check.go
package db

import (
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/safarypto/safarypto/internal/logging"
)

// CheckLedgerIndexes logs the indexes backing the ledger's uniqueness
// guarantees (reference, checkout id, wallet address). Reference and
// checkout-id uniqueness in particular are the correctness backstop for the
// reference generator and the one-deposit-per-checkout invariant, so a
// missing index here is worth noticing at startup.
func CheckLedgerIndexes(gdb *gorm.DB) {
	var result []struct {
		Tablename string
		Indexname string
		Indexdef  string
	}

	err := gdb.Raw(
		"SELECT tablename, indexname, indexdef FROM pg_indexes WHERE tablename IN ('transactions', 'wallets')",
	).Scan(&result).Error
	if err != nil {
		logging.Error("error checking ledger indexes", zap.Error(err))
		return
	}

	for _, idx := range result {
		logging.Info("ledger index",
			zap.String("table", idx.Tablename),
			zap.String("name", idx.Indexname),
			zap.String("definition", idx.Indexdef))
	}
}
