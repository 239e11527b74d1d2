package store

import (
	"database/sql"
	"math/big"

	"github.com/google/uuid"
	logger "github.com/sirupsen/logrus"

	"github.com/nockbridge/bridge-go/common"
	"github.com/nockbridge/bridge-go/database"
)

// Fixtures shared by this package's tests and by the synchronizer/monitor
// test suites.

func RandChainState(chain string, version uint64) *ChainState {
	return &ChainState{
		Chain:         chain,
		BlockHeight:   new(big.Int).SetUint64(version * 10),
		BlockTime:     common.NowMillis(),
		BridgeBalance: common.RandBigInt(big.NewInt(1_000_000_000)),
		Version:       version,
		CapturedAt:    common.NowMillis(),
	}
}

func RandTransaction(source, dest string, status TxStatus) *TransactionState {
	now := common.NowMillis()
	return &TransactionState{
		ID:          uuid.NewString(),
		SourceChain: source,
		DestChain:   dest,
		Amount:      common.RandBigInt(big.NewInt(1_000_000)),
		Status:      status,
		SourceTxRef: common.ByteSliceToPureHexStr(common.RandBytes(32)),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func RandAlert(typ AlertType, sev AlertSeverity, origin string) *MonitoringAlert {
	return &MonitoringAlert{
		ID:        uuid.NewString(),
		Type:      typ,
		Severity:  sev,
		Origin:    origin,
		Message:   "simulated alert",
		Metadata:  map[string]interface{}{"simulated": true},
		CreatedAt: common.NowMillis(),
	}
}

func getMemoryDB() *sql.DB {
	db, err := database.OpenMemoryDB()
	if err != nil {
		logger.Fatal(err)
	}
	return db
}
