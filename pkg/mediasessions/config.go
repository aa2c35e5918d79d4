package mediasessions

import (
	"fmt"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"github.com/thoas/go-funk"
	"go.uber.org/zap"

	"github.com/krosov/mediasessions/pkg/mediasessions/util"
)

// CanonicalConfig loads engine options from an optional YAML file and
// watches it for changes. The library itself only takes Options; this layer
// exists for the binaries built on top of it.
type CanonicalConfig struct {
	Engine Options

	logger             *zap.SugaredLogger
	stopWatcherChannel chan bool

	reloadConsumers []chan bool

	userConfig *viper.Viper
}

// UserConfigFilepath is where the optional YAML config is looked up,
// relative to the working directory.
const UserConfigFilepath = "mediasessions.yaml"

const (
	userConfigName = "mediasessions"
	userConfigPath = "."
	configType     = "yaml"

	configKey_DebounceWindowMs   = "debounce_window_ms"
	configKey_OperationTimeoutMs = "operation_timeout_ms"
	configKey_EnableArtwork      = "enable_artwork"
)

var knownConfigKeys = []string{
	configKey_DebounceWindowMs,
	configKey_OperationTimeoutMs,
	configKey_EnableArtwork,
}

// NewConfig creates a config instance with defaults matching DefaultOptions.
func NewConfig(logger *zap.SugaredLogger) (*CanonicalConfig, error) {
	logger = logger.Named("config")

	cc := &CanonicalConfig{
		Engine:             DefaultOptions(),
		logger:             logger,
		reloadConsumers:    []chan bool{},
		stopWatcherChannel: make(chan bool),
	}

	userConfig := viper.New()
	userConfig.SetConfigName(userConfigName)
	userConfig.SetConfigType(configType)
	userConfig.AddConfigPath(userConfigPath)

	userConfig.SetDefault(configKey_DebounceWindowMs, int64(DefaultDebounceWindow/time.Millisecond))
	userConfig.SetDefault(configKey_OperationTimeoutMs, int64(DefaultOperationTimeout/time.Millisecond))
	userConfig.SetDefault(configKey_EnableArtwork, true)

	cc.userConfig = userConfig

	logger.Debug("Created config instance")

	return cc, nil
}

// Load reads the config file from disk if it exists; a missing file just
// means defaults.
func (cc *CanonicalConfig) Load() error {
	cc.logger.Debugw("Loading config", "path", UserConfigFilepath)

	if !util.FileExists(UserConfigFilepath) {
		cc.logger.Debugw("Config file not found, using defaults", "path", UserConfigFilepath)
		return nil
	}

	if err := cc.userConfig.ReadInConfig(); err != nil {
		cc.logger.Warnw("Viper failed to read user config", "error", err)
		return fmt.Errorf("read user config: %w", err)
	}

	for _, key := range cc.userConfig.AllKeys() {
		if !funk.ContainsString(knownConfigKeys, key) {
			cc.logger.Warnw("Unknown config key, ignoring", "key", key)
		}
	}

	if err := cc.populateFromViper(); err != nil {
		cc.logger.Warnw("Failed to populate config fields", "error", err)
		return fmt.Errorf("populate config fields: %w", err)
	}

	cc.logger.Infow("Loaded config",
		"debounceWindow", cc.Engine.DebounceWindow,
		"operationTimeout", cc.Engine.OperationTimeout,
		"enableArtwork", cc.Engine.EnableArtwork)

	return nil
}

// SubscribeToChanges allows components to receive updates when the config
// is reloaded.
func (cc *CanonicalConfig) SubscribeToChanges() chan bool {
	c := make(chan bool)
	cc.reloadConsumers = append(cc.reloadConsumers, c)

	return c
}

// WatchConfigFileChanges starts watching the config file, reloading on
// writes. Blocks until StopWatchingConfigFile is called.
func (cc *CanonicalConfig) WatchConfigFileChanges() {
	cc.logger.Debugw("Starting to watch user config file for changes", "path", UserConfigFilepath)

	const (
		minTimeBetweenReloadAttempts = time.Millisecond * 500
		delayBetweenEventAndReload   = time.Millisecond * 50
	)

	lastAttemptedReload := time.Now()

	cc.userConfig.WatchConfig()
	cc.userConfig.OnConfigChange(func(event fsnotify.Event) {
		if event.Op&fsnotify.Write == fsnotify.Write {
			now := time.Now()

			// many editors write a file twice; skip the duplicate
			if lastAttemptedReload.Add(minTimeBetweenReloadAttempts).Before(now) {
				cc.logger.Debugw("Config file modified, attempting reload", "event", event)

				// let the editor flush the file contents to disk
				<-time.After(delayBetweenEventAndReload)

				if err := cc.Load(); err != nil {
					cc.logger.Warnw("Failed to reload config file", "error", err)
				} else {
					cc.logger.Info("Reloaded config successfully")
					cc.onConfigReloaded()
				}

				lastAttemptedReload = now
			}
		}
	})

	<-cc.stopWatcherChannel
	cc.logger.Debug("Stopping user config file watcher")
	cc.userConfig.OnConfigChange(nil)
}

// StopWatchingConfigFile signals the filesystem watcher to stop.
func (cc *CanonicalConfig) StopWatchingConfigFile() {
	cc.stopWatcherChannel <- true

	for _, ch := range cc.reloadConsumers {
		close(ch)
	}
	cc.reloadConsumers = nil
}

func (cc *CanonicalConfig) populateFromViper() error {
	debounceMs := cc.userConfig.GetInt64(configKey_DebounceWindowMs)
	if debounceMs < 0 {
		return fmt.Errorf("%s must be non-negative, got %d", configKey_DebounceWindowMs, debounceMs)
	}

	timeoutMs := cc.userConfig.GetInt64(configKey_OperationTimeoutMs)
	if timeoutMs <= 0 {
		return fmt.Errorf("%s must be positive, got %d", configKey_OperationTimeoutMs, timeoutMs)
	}

	cc.Engine.DebounceWindow = time.Duration(debounceMs) * time.Millisecond
	cc.Engine.OperationTimeout = time.Duration(timeoutMs) * time.Millisecond
	cc.Engine.EnableArtwork = cc.userConfig.GetBool(configKey_EnableArtwork)

	return nil
}

func (cc *CanonicalConfig) onConfigReloaded() {
	cc.logger.Debug("Notifying consumers about configuration reload")

	for _, consumer := range cc.reloadConsumers {
		select {
		case consumer <- true:
		default:
			// consumer not listening, skip
		}
	}
}
