package cmd

import (
	"os"
	"time"

	logger "github.com/sirupsen/logrus"

	"github.com/nockbridge/bridge-go/chainobs"
	"github.com/nockbridge/bridge-go/common"
	"github.com/nockbridge/bridge-go/coordcache"
)

// FileExists checks if a file exists and is readable
func FileExists(filePath string) bool {
	file, err := os.Open(filePath)
	if err != nil {
		return false
	}
	defer file.Close()
	return true
}

// SetupObserver creates a chain observer. An empty rpc url yields a
// simulated observer, useful for local runs without a live endpoint.
func SetupObserver(chain, rpcUrl, bridgeAddr string) (chainobs.Observer, error) {
	if rpcUrl == "" {
		logger.Warnf("no rpc url for chain %s, using simulated observer", chain)
		return chainobs.NewSimulatedObserver(chain, 0, 0), nil
	}
	return chainobs.NewEthObserver(&chainobs.EthObserverConfig{
		Chain:         chain,
		URL:           rpcUrl,
		BridgeAddress: bridgeAddr,
	})
}

// SetupCoordCache creates the shared redis cache from string config.
// A zero ttl falls back to the cache's default.
func SetupCoordCache(url, password, keyHex string, ttl time.Duration) (*coordcache.Cache, error) {
	key := common.HexStrToByteSlice(keyHex)
	return coordcache.New(&coordcache.Config{
		URL:      url,
		Password: password,
		Key:      key,
		TTL:      ttl,
	})
}
