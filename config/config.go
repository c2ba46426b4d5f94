// Package config contains code to set the default values and read
// config files to be used throughout the whole application
package config

import (
	"errors"
	"fmt"
	"slices"

	"github.com/spf13/pflag"
	v "github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	validLogLevels   = []string{"debug", "info", "warn", "error", "fatal"}
	validDBDrivers   = []string{"sqlite", "postgres"}
	validAuthModes   = []string{"userinfo", "jwt"}
	failOpenOverride = pflag.Bool("ledger-fail-open", false, "Admit draws when the ledger store is unreachable (dangerous)")
)

// Setup prepares everything config-related so that the app can
// start working. Function will return an error if something
// is critically wrong and the application can't run because of
// that.
func Setup() error {
	pflag.Parse()
	v.BindPFlags(pflag.CommandLine)

	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")

	v.AutomaticEnv()

	//
	// ENVS
	//
	v.BindEnv("app.log_level", "app_log_level")

	v.BindEnv("host.port", "host_port")
	v.BindEnv("host.cors", "host_cors")

	v.BindEnv("canvas.width", "canvas_width")
	v.BindEnv("canvas.height", "canvas_height")

	v.BindEnv("draw.max_points", "draw_max_points")
	v.BindEnv("draw.delay_ms", "draw_delay_ms")

	v.BindEnv("redis.addr", "redis_addr")
	v.BindEnv("redis.password", "redis_password")
	v.BindEnv("redis.db", "redis_db")

	v.BindEnv("database.driver", "database_driver")
	v.BindEnv("database.dsn", "database_dsn")

	v.BindEnv("session.auth_mode", "session_auth_mode")
	v.BindEnv("session.userinfo_url", "session_userinfo_url")
	v.BindEnv("session.jwt_secret", "session_jwt_secret")
	v.BindEnv("session.reissue_interval_ms", "session_reissue_interval_ms")

	v.BindEnv("ledger.fail_open", "ledger_fail_open")

	v.BindEnv("writer.workers", "writer_workers")
	v.BindEnv("writer.queue_size", "writer_queue_size")

	v.BindEnv("security.rate_limit", "security_rate_limit")

	v.BindEnv("archive.enabled", "archive_enabled")
	v.BindEnv("archive.interval_min", "archive_interval_min")
	v.BindEnv("archive.bucket", "archive_bucket")
	v.BindEnv("archive.region", "archive_region")
	v.BindEnv("archive.access_key_id", "archive_access_key_id")
	v.BindEnv("archive.secret_access_key", "archive_secret_access_key")

	//
	// Defaults
	//
	v.SetDefault("app.log_level", "info")

	v.SetDefault("host.port", 8080)
	v.SetDefault("host.cors", "http://localhost:3000")

	v.SetDefault("canvas.width", 1000)
	v.SetDefault("canvas.height", 1000)

	v.SetDefault("draw.max_points", 24)
	v.SetDefault("draw.delay_ms", 5000)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "canvas.db")

	v.SetDefault("session.auth_mode", "userinfo")
	v.SetDefault("session.reissue_interval_ms", 10_000)

	v.SetDefault("ledger.fail_open", false)

	v.SetDefault("writer.workers", 2)
	v.SetDefault("writer.queue_size", 1024)

	v.SetDefault("security.rate_limit", 30)

	v.SetDefault("archive.enabled", false)
	v.SetDefault("archive.interval_min", 60)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(v.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("failed to read config file, %w", err)
		}
	}

	if *failOpenOverride {
		v.Set("ledger.fail_open", true)
	}

	if !slices.Contains(validLogLevels, v.GetString("app.log_level")) {
		return errors.New("invalid log level provided")
	}

	if v.GetInt("host.port") <= 0 {
		return errors.New("invalid port provided")
	}

	if v.GetInt("canvas.width") <= 0 || v.GetInt("canvas.width") > 65535 {
		return errors.New("canvas.width must be between 1 and 65535")
	}

	if v.GetInt("canvas.height") <= 0 || v.GetInt("canvas.height") > 65535 {
		return errors.New("canvas.height must be between 1 and 65535")
	}

	if v.GetInt("draw.max_points") <= 0 {
		return errors.New("draw.max_points must be bigger than 0")
	}

	if v.GetInt("draw.delay_ms") <= 0 {
		return errors.New("draw.delay_ms must be bigger than 0")
	}

	if !slices.Contains(validDBDrivers, v.GetString("database.driver")) {
		return errors.New("invalid database driver provided")
	}

	if v.GetString("database.dsn") == "" {
		return errors.New("database.dsn can't be empty")
	}

	switch v.GetString("session.auth_mode") {
	case "userinfo":
		if v.GetString("session.userinfo_url") == "" {
			return errors.New("session.userinfo_url can't be empty in userinfo mode")
		}
	case "jwt":
		if v.GetString("session.jwt_secret") == "" {
			return errors.New("session.jwt_secret can't be empty in jwt mode")
		}
	default:
		if !slices.Contains(validAuthModes, v.GetString("session.auth_mode")) {
			return errors.New("invalid session auth mode provided")
		}
	}

	if v.GetBool("ledger.fail_open") {
		zap.L().Warn("Ledger is running fail-open. Draws will be admitted even when the coordination store is unreachable")
	}

	if v.GetBool("archive.enabled") {
		if v.GetString("archive.bucket") == "" {
			return errors.New("archive bucket can't be empty")
		}
		if v.GetString("archive.access_key_id") == "" {
			return errors.New("archive access key id can't be empty")
		}
		if v.GetString("archive.secret_access_key") == "" {
			return errors.New("archive secret access key can't be empty")
		}
		if v.GetInt("archive.interval_min") <= 0 {
			return errors.New("archive interval must be bigger than 0")
		}
	}

	return nil
}
