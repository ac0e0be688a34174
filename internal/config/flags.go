// Package config defines the bridge's CLI surface and static settings.
// Flag parsing follows the pack's cobra/pflag convention rather than
// the teacher's env-var-only Load(): this process is started by hand
// or from an init script, not orchestrated the way the draymaster
// fleet's container services are, so flags are the natural fit.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/paepcke/lti-connectors/internal/logger"
)

// Flags holds every CLI-configurable setting of the bridge process.
type Flags struct {
	ConfigFile        string
	SubscriptionsFile string
	LogFile           string
	LogLevel          string

	HTTPPort      int
	AdminGRPCPort int
	TLSCertFile   string
	TLSKeyFile    string

	KafkaBrokers string
	InMemoryBus  bool

	AuditDSN  string
	RedisAddr string

	DeliveryTimeout time.Duration
}

// Brokers splits the comma-separated --kafka-brokers flag.
func (f *Flags) Brokers() []string {
	parts := strings.Split(f.KafkaBrokers, ",")
	brokers := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			brokers = append(brokers, p)
		}
	}
	return brokers
}

// Level converts the raw --loglevel flag into a logger.Level, defaulting
// to info on an unrecognized value.
func (f *Flags) Level() logger.Level {
	switch strings.ToLower(f.LogLevel) {
	case "critical":
		return logger.LevelCritical
	case "error":
		return logger.LevelError
	case "warning":
		return logger.LevelWarning
	case "debug":
		return logger.LevelDebug
	default:
		return logger.LevelInfo
	}
}

func defaultConfigFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".ssh/ltibridge.cnf"
	}
	return filepath.Join(home, ".ssh", "ltibridge.cnf")
}

func defaultSubscriptionsFile() string {
	exe, err := os.Executable()
	if err != nil {
		return filepath.Join("subscriptions", "lti_bus_subscriptions.json")
	}
	return filepath.Join(filepath.Dir(exe), "subscriptions", "lti_bus_subscriptions.json")
}

// BindFlags registers every bridge flag on cmd and returns the struct
// they populate once cmd.Execute() parses argv.
func BindFlags(cmd *cobra.Command) *Flags {
	f := &Flags{}

	fs := cmd.Flags()
	fs.StringVar(&f.ConfigFile, "configfile", defaultConfigFile(), "path to the LTI credential configuration file")
	fs.StringVar(&f.SubscriptionsFile, "subscriptions-file", defaultSubscriptionsFile(), "path to the durable subscription registry file")
	fs.StringVar(&f.LogFile, "logfile", "", "path to write logs to (default: stdout)")
	fs.StringVar(&f.LogLevel, "loglevel", "info", "one of critical|error|warning|info|debug")

	fs.IntVar(&f.HTTPPort, "http-port", 7075, "HTTPS listen port for /schoolbus")
	fs.IntVar(&f.AdminGRPCPort, "admin-grpc-port", 7095, "gRPC listen port for the admin health service")
	fs.StringVar(&f.TLSCertFile, "tls-cert", "", "TLS certificate file")
	fs.StringVar(&f.TLSKeyFile, "tls-key", "", "TLS private key file")

	fs.StringVar(&f.KafkaBrokers, "kafka-brokers", "localhost:9092", "comma-separated Kafka broker addresses")
	fs.BoolVar(&f.InMemoryBus, "in-memory-bus", false, "use an in-process bus adapter instead of Kafka (local/dev/test)")

	fs.StringVar(&f.AuditDSN, "audit-dsn", "", "Postgres DSN for the delivery audit store (disabled if empty)")
	fs.StringVar(&f.RedisAddr, "redis-addr", "", "Redis address for delivery failure counters (disabled if empty)")

	fs.DurationVar(&f.DeliveryTimeout, "delivery-timeout", 10*time.Second, "timeout for outbound delivery POSTs")

	return f
}

// Validate checks flag combinations that can't be expressed by pflag
// alone, per spec.md §6's CLI contract (non-zero exit on startup failure).
func (f *Flags) Validate() error {
	if f.TLSCertFile == "" || f.TLSKeyFile == "" {
		return fmt.Errorf("--tls-cert and --tls-key are required")
	}
	return nil
}
