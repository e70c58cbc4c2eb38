package config

import (
	"log"
	"time"

	"github.com/LingByte/LingMeet/pkg/constants"
	"github.com/LingByte/LingMeet/pkg/logger"
	"github.com/LingByte/LingMeet/pkg/utils"
)

// ServerConfig holds HTTP server timeouts for the control API
type ServerConfig struct {
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout"`
}

// RedisConfig configures the pub/sub notifier. An empty Addr selects the in-process notifier.
type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB"`
	Prefix   string `env:"REDIS_PREFIX"`
}

// RendezvousConfig holds matchmaking and signaling timings
type RendezvousConfig struct {
	WaitingTTL         time.Duration `env:"WAITING_TTL"`
	MatchPollInterval  time.Duration `env:"MATCH_POLL_INTERVAL"`
	SignalPollInterval time.Duration `env:"SIGNAL_POLL_INTERVAL"`
	RetryDebounce      time.Duration `env:"RETRY_DEBOUNCE"`
	SweepSchedule      string        `env:"SWEEP_SCHEDULE"`
}

// MediaConfig selects which local tracks are requested
type MediaConfig struct {
	Video bool `env:"MEDIA_VIDEO"`
	Audio bool `env:"MEDIA_AUDIO"`
}

// ICEConfig overrides the built-in STUN/TURN list when URLs is non-empty
type ICEConfig struct {
	URLs           []string `env:"ICE_SERVERS"`
	TURNUsername   string   `env:"TURN_USERNAME"`
	TURNCredential string   `env:"TURN_CREDENTIAL"`
}

var GlobalConfig *Config

// Config System common config
type Config struct {
	Server     ServerConfig
	Log        logger.LogConfig
	Redis      RedisConfig
	Rendezvous RendezvousConfig
	Media      MediaConfig
	ICE        ICEConfig
	DBDriver   string `env:"DB_DRIVER"`
	DSN        string `env:"DSN"`
	Addr       string `env:"ADDR"`
	Mode       string `env:"MODE"`
	ServerName string `env:"SERVER_NAME"`
}

// StoreConfigured reports whether a usable driver and DSN are present.
// DB_DRIVER=none disables the store explicitly.
func (c *Config) StoreConfigured() bool {
	return c.DBDriver != "" && c.DBDriver != "none" && c.DSN != ""
}

// Load reads .env files for the current MODE and fills GlobalConfig.
// Every key has a default so the process starts without any env file.
func Load() error {
	mode := utils.GetStringOrDefault("MODE", "development")
	if err := utils.LoadEnv(mode); err != nil {
		log.Printf("Note: .env file not found or failed to load: %v (using default values)", err)
	}

	GlobalConfig = &Config{
		Server: ServerConfig{
			ReadTimeout:  utils.GetDurationOrDefault("READ_TIMEOUT", 30*time.Second),
			WriteTimeout: utils.GetDurationOrDefault("WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:  utils.GetDurationOrDefault("IDLE_TIMEOUT", 120*time.Second),
		},
		Log: logger.LogConfig{
			Level:      utils.GetStringOrDefault("LOG_LEVEL", "info"),
			Filename:   utils.GetStringOrDefault("LOG_FILENAME", "./logs/meet.log"),
			MaxSize:    utils.GetIntOrDefault("LOG_MAX_SIZE", 100),
			MaxAge:     utils.GetIntOrDefault("LOG_MAX_AGE", 30),
			MaxBackups: utils.GetIntOrDefault("LOG_MAX_BACKUPS", 5),
			Daily:      utils.GetBoolOrDefault("LOG_DAILY", true),
		},
		Redis: RedisConfig{
			Addr:     utils.GetEnv(constants.ENV_REDIS_ADDR),
			Password: utils.GetEnv("REDIS_PASSWORD"),
			DB:       utils.GetIntOrDefault("REDIS_DB", 0),
			Prefix:   utils.GetStringOrDefault("REDIS_PREFIX", constants.DefaultRedisPrefix),
		},
		Rendezvous: RendezvousConfig{
			WaitingTTL:         utils.GetDurationOrDefault(constants.ENV_WAITING_TTL, constants.DefaultWaitingTTL),
			MatchPollInterval:  utils.GetDurationOrDefault(constants.ENV_MATCH_POLL_INTERVAL, constants.DefaultMatchPollInterval),
			SignalPollInterval: utils.GetDurationOrDefault(constants.ENV_SIGNAL_POLL_INTERVAL, constants.DefaultSignalPollInterval),
			RetryDebounce:      utils.GetDurationOrDefault(constants.ENV_RETRY_DEBOUNCE, constants.DefaultRetryDebounce),
			SweepSchedule:      utils.GetStringOrDefault(constants.ENV_SWEEP_SCHEDULE, constants.DefaultSweepSchedule),
		},
		Media: MediaConfig{
			Video: utils.GetBoolOrDefault("MEDIA_VIDEO", true),
			Audio: utils.GetBoolOrDefault("MEDIA_AUDIO", true),
		},
		ICE: ICEConfig{
			URLs:           utils.GetListOrDefault(constants.ENV_ICE_SERVERS, nil),
			TURNUsername:   utils.GetStringOrDefault("TURN_USERNAME", constants.DefaultTURNUser),
			TURNCredential: utils.GetStringOrDefault("TURN_CREDENTIAL", constants.DefaultTURNCred),
		},
		Mode:       mode,
		DBDriver:   utils.GetStringOrDefault(constants.ENV_DB_DRIVER, "sqlite"),
		DSN:        utils.GetStringOrDefault(constants.ENV_DSN, "./meet.db"),
		Addr:       utils.GetStringOrDefault("ADDR", constants.DefaultAddr),
		ServerName: utils.GetStringOrDefault("SERVER_NAME", "LingMeet"),
	}
	return nil
}
