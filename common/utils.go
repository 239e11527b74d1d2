package common

import (
	"crypto/rand"
	"math/big"
	"strings"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
)

// The returned string has No 0x prefix
func ByteSliceToPureHexStr(b []byte) string {
	return Trim0xPrefix(ethcommon.Bytes2Hex(b))
}

func HexStrToByteSlice(hexStr string) []byte {
	return ethcommon.Hex2Bytes(Trim0xPrefix(hexStr))
}

func Trim0xPrefix(hexStr string) string {
	return strings.TrimPrefix(hexStr, "0x")
}

// Clamp v into [lo, hi]. Scores in this repo live on a 0-100 scale.
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// NowMillis is the single time base for persisted timestamps.
// Keys sort numerically on it, so everything durable uses it.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}

func MillisToTime(ms int64) time.Time {
	return time.UnixMilli(ms)
}

// RandBigInt returns a random non-negative integer below max.
// Used by simulated observers and test fixtures.
func RandBigInt(max *big.Int) *big.Int {
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		panic(err)
	}
	return n
}

func RandBytes(n int) []byte {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return b
}
