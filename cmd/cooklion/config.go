package main

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/lwenstrom/cooklion/internal/logger"
)

const (
	defaultListenAddr       = "localhost:8000"
	defaultLoggingLevel     = logger.LevelInfo
	defaultEnvironment      = logger.EnvProduction
	defaultAccessTTLMinutes = 15
	defaultRefreshTTLDays   = 7
	defaultLockoutThreshold = 5
	defaultSweepInterval    = time.Hour
)

type Config struct {
	// Default logging level
	LogLevel string

	// Environment (dev, prod)
	Environment string

	// Address on which the service will be run
	ListenAddr string

	// Database to connect to
	DatabaseDSN string

	// Hex encoded symmetric key that signs access tokens, 32 bytes minimum
	SecretKey string

	// Previous signing keys still accepted for verification,
	// comma-separated hex. Lets old tokens survive a key rotation
	PreviousSecretKeys string

	// Emails granted the admin role on first federated login,
	// comma-separated, matched case-insensitively
	AdminEmails string

	// Token lifetimes
	AccessTTLMinutes int
	RefreshTTLDays   int

	// Consecutive failed logins before the account locks
	LockoutThreshold int

	// How often dead refresh tokens are deleted
	SweepInterval time.Duration
}

func NewConfig() *Config {
	return &Config{
		LogLevel:         defaultLoggingLevel,
		Environment:      defaultEnvironment,
		ListenAddr:       defaultListenAddr,
		AccessTTLMinutes: defaultAccessTTLMinutes,
		RefreshTTLDays:   defaultRefreshTTLDays,
		LockoutThreshold: defaultLockoutThreshold,
		SweepInterval:    defaultSweepInterval,
	}
}

// Load variables from '.env' file (should be located at working directory)
func (c *Config) LoadDotEnv(getwd func() (string, error)) error {
	wd, err := getwd()
	if err != nil {
		return err
	}

	envMap, err := godotenv.Read(filepath.Join(wd, ".env"))

	switch {
	case err == nil:
		c.LoadEnv(func(key string) string {
			return envMap[key]
		})
		return nil
	case errors.Is(err, os.ErrNotExist):
		return nil
	default:
		return err
	}
}

func (c *Config) LoadEnv(getenv func(string) string) {
	// Set option to value if it not empty
	setString := func(o *string) func(value string) {
		return func(value string) {
			if value != "" {
				*o = value
			}
		}
	}
	setInt := func(o *int) func(value string) {
		return func(value string) {
			if parsed, err := strconv.Atoi(value); err == nil {
				*o = parsed
			}
		}
	}
	setDuration := func(o *time.Duration) func(value string) {
		return func(value string) {
			if parsed, err := time.ParseDuration(value); err == nil {
				*o = parsed
			}
		}
	}

	envMap := map[string]func(string){
		"RUN_ADDRESS":          setString(&c.ListenAddr),
		"DATABASE_URI":         setString(&c.DatabaseDSN),
		"SECRET_KEY":           setString(&c.SecretKey),
		"PREVIOUS_SECRET_KEYS": setString(&c.PreviousSecretKeys),
		"ADMIN_EMAILS":         setString(&c.AdminEmails),
		"ACCESS_TTL_MINUTES":   setInt(&c.AccessTTLMinutes),
		"REFRESH_TTL_DAYS":     setInt(&c.RefreshTTLDays),
		"LOCKOUT_THRESHOLD":    setInt(&c.LockoutThreshold),
		"SWEEP_INTERVAL":       setDuration(&c.SweepInterval),
		"LOG_LEVEL":            setString(&c.LogLevel),
		"ENVIRONMENT":          setString(&c.Environment),
	}

	for key, parseFn := range envMap {
		parseFn(getenv(key))
	}
}

func (c *Config) ParseFlags(args []string) error {
	fs := pflag.NewFlagSet("cooklion", pflag.ContinueOnError)

	fs.StringVarP(&c.ListenAddr, "address", "a", c.ListenAddr, "Server listen address")
	fs.StringVarP(&c.DatabaseDSN, "database", "d", c.DatabaseDSN, "Database connection string")
	fs.StringVarP(&c.SecretKey, "secret-key", "s", c.SecretKey, "Signing key, hex encoded")
	fs.StringVar(&c.PreviousSecretKeys, "previous-secret-keys", c.PreviousSecretKeys, "Previous signing keys, comma-separated hex")
	fs.StringVar(&c.AdminEmails, "admin-emails", c.AdminEmails, "Admin emails, comma-separated")
	fs.IntVar(&c.AccessTTLMinutes, "access-ttl", c.AccessTTLMinutes, "Access token lifetime in minutes")
	fs.IntVar(&c.RefreshTTLDays, "refresh-ttl", c.RefreshTTLDays, "Refresh token lifetime in days")
	fs.IntVar(&c.LockoutThreshold, "lockout-threshold", c.LockoutThreshold, "Failed logins before lockout")
	fs.DurationVar(&c.SweepInterval, "sweep-interval", c.SweepInterval, "Dead token sweep interval")
	fs.StringVarP(&c.LogLevel, "log-level", "l", c.LogLevel, "Logging level (debug, info, warn, error)")
	fs.StringVarP(&c.Environment, "environment", "e", c.Environment, "Environment (dev, prod)")

	return fs.Parse(args)
}
