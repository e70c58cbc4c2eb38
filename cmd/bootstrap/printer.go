package bootstrap

import (
	"fmt"
	"os"
	"strings"

	"github.com/LingByte/LingMeet/pkg/config"
	"github.com/LingByte/LingMeet/pkg/logger"
	"go.uber.org/zap"
)

// LogConfigInfo Print global configuration information
func LogConfigInfo() {
	cfg := config.GlobalConfig
	logger.Info("system config load finished")

	logger.Info("base config",
		zap.String("mode", cfg.Mode),
		zap.String("addr", cfg.Addr),
		zap.String("db_driver", cfg.DBDriver),
		zap.Bool("store_configured", cfg.StoreConfigured()),
		zap.String("redis_addr", cfg.Redis.Addr),
	)

	logger.Info("rendezvous config",
		zap.Duration("waiting_ttl", cfg.Rendezvous.WaitingTTL),
		zap.Duration("match_poll_interval", cfg.Rendezvous.MatchPollInterval),
		zap.Duration("signal_poll_interval", cfg.Rendezvous.SignalPollInterval),
		zap.Duration("retry_debounce", cfg.Rendezvous.RetryDebounce),
		zap.String("sweep_schedule", cfg.Rendezvous.SweepSchedule),
	)

	logger.Info("media config",
		zap.Bool("video", cfg.Media.Video),
		zap.Bool("audio", cfg.Media.Audio),
		zap.Int("ice_override_urls", len(cfg.ICE.URLs)),
	)

	logger.Info("log config",
		zap.String("log_level", cfg.Log.Level),
		zap.String("log_filename", cfg.Log.Filename),
		zap.Int("log_max_size", cfg.Log.MaxSize),
		zap.Int("log_max_age", cfg.Log.MaxAge),
		zap.Int("log_max_backups", cfg.Log.MaxBackups),
	)
}

// EnsureBannerFile writes defaultText to filename when it does not exist yet.
func EnsureBannerFile(filename string, defaultText string) error {
	if _, err := os.Stat(filename); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return err
	}
	return os.WriteFile(filename, []byte(defaultText+"\n"), 0o644)
}

// PrintBannerFromFile Read file and print, auto-generate if file doesn't exist
func PrintBannerFromFile(filename string, defaultText string) error {
	if err := EnsureBannerFile(filename, defaultText); err != nil {
		return fmt.Errorf("failed to ensure banner file: %w", err)
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}

	lines := strings.Split(string(data), "\n")

	colors := []string{
		"\x1b[38;5;165m",
		"\x1b[38;5;189m",
		"\x1b[38;5;207m",
		"\x1b[38;5;219m",
		"\x1b[38;5;225m",
		"\x1b[38;5;231m",
	}

	for i, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		color := colors[i%len(colors)]
		fmt.Println(color + line + "\x1b[0m")
	}
	return nil
}
