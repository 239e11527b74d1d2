package main

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/nockbridge/bridge-go/cmd"
)

const (
	ENV_CONFIG_FILE_PATH = "BRIDGE_CONFIG"
)

func main() {
	// Set overall config level to Debug
	// logconfig.ConfigDebugLogger()

	// A local .env is optional; env vars win either way.
	_ = godotenv.Load()

	// Tool to read environment variables
	viper.AutomaticEnv()

	// Accessing an environment variable of configuration file location.
	_config_file := viper.GetString(ENV_CONFIG_FILE_PATH)
	if _config_file != "" {
		fmt.Printf("Bridge server configuration file = %s\n", _config_file)

		if !cmd.FileExists(_config_file) {
			fmt.Printf("Bridge server configuration file not found: %s\n", _config_file)
			return
		}
		if !initializeViper(_config_file) {
			return
		}
	}

	// Make the configuration
	bsc := PrepareBridgeServerConfig()

	fmt.Println("Starting bridge server... press Ctrl+C to kill the server")
	// Start server and block.
	cmd.StartBridgeServerAndWait(bsc)
}

func initializeViper(filePath string) bool {
	viper.SetConfigFile(filePath)
	if err := viper.ReadInConfig(); err != nil {
		fmt.Printf("Error reading configuration file, %s", err)
		return false
	}
	return true
}

// PrepareBridgeServerConfig reads configuration variables and returns a BridgeServerConfig.
func PrepareBridgeServerConfig() *cmd.BridgeServerConfig {
	// sensible local defaults; everything can be overridden
	viper.SetDefault("SOURCE_CHAIN", "nockchain")
	viper.SetDefault("DEST_CHAIN", "solana")
	viper.SetDefault("DB_FILE_PATH", "bridge.db")
	viper.SetDefault("HTTP_IP", "0.0.0.0")
	viper.SetDefault("HTTP_PORT", "8080")

	return &cmd.BridgeServerConfig{
		// chain side
		SourceChain:      viper.GetString("SOURCE_CHAIN"),
		DestChain:        viper.GetString("DEST_CHAIN"),
		SourceRpcUrl:     viper.GetString("SOURCE_RPC_URL"),
		DestRpcUrl:       viper.GetString("DEST_RPC_URL"),
		SourceBridgeAddr: viper.GetString("SOURCE_BRIDGE_ADDR"),
		DestBridgeAddr:   viper.GetString("DEST_BRIDGE_ADDR"),
		// store side
		DbFilePath: viper.GetString("DB_FILE_PATH"),
		// coordination cache
		RedisUrl:      viper.GetString("REDIS_URL"),
		RedisPassword: viper.GetString("REDIS_PASSWORD"),
		CacheKeyHex:   viper.GetString("CACHE_KEY_HEX"),
		// notification side
		WebhookUrl: viper.GetString("WEBHOOK_URL"),
		// Http side
		HttpIp:   viper.GetString("HTTP_IP"),
		HttpPort: viper.GetString("HTTP_PORT"),

		// tuning knobs; unset = component defaults
		ChainPollInterval:    viper.GetDuration("CHAIN_POLL_INTERVAL"),
		CachePublishInterval: viper.GetDuration("CACHE_PUBLISH_INTERVAL"),

		StoreCacheTTL:      viper.GetDuration("STORE_CACHE_TTL"),
		StoreCacheCapacity: viper.GetInt("STORE_CACHE_CAPACITY"),
		RedisTTL:           viper.GetDuration("REDIS_TTL"),

		PendingCeiling: viper.GetDuration("PENDING_CEILING"),
		BalanceWindow:  viper.GetDuration("BALANCE_WINDOW"),

		ChainMetricsInterval:  viper.GetDuration("CHAIN_METRICS_INTERVAL"),
		BridgeMetricsInterval: viper.GetDuration("BRIDGE_METRICS_INTERVAL"),
		AlertRetention:        viper.GetDuration("ALERT_RETENTION"),
		DedupWindow:           viper.GetDuration("ALERT_DEDUP_WINDOW"),

		SyncDelay:             viper.GetDuration("SYNC_DELAY_THRESHOLD"),
		BlockTimeDeviationPct: viper.GetFloat64("BLOCK_TIME_DEVIATION_PCT"),
		FailureRatePct:        viper.GetFloat64("FAILURE_RATE_PCT"),
		LiquidityPct:          viper.GetFloat64("LIQUIDITY_PCT"),
		HealthFloor:           viper.GetFloat64("HEALTH_FLOOR"),
		CongestionPending:     viper.GetInt("CONGESTION_PENDING"),
		FeeRatePct:            viper.GetFloat64("FEE_RATE_PCT"),

		SnapshotInterval: viper.GetDuration("SNAPSHOT_INTERVAL"),
		MetricsRetention: viper.GetDuration("METRICS_RETENTION"),
		SnapshotsToKeep:  viper.GetInt("SNAPSHOTS_TO_KEEP"),
	}
}
