package options

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*PostgresOptions)(nil)

// PostgresOptions configures the insight store.
type PostgresOptions struct {
	// DSN is a libpq style connection string or postgres:// URL. When empty
	// the worker keeps insights in memory.
	DSN             string        `json:"dsn" mapstructure:"dsn"`
	MaxConns        int32         `json:"max-conns" mapstructure:"max-conns"`
	MinConns        int32         `json:"min-conns" mapstructure:"min-conns"`
	MaxConnLifetime time.Duration `json:"max-conn-lifetime" mapstructure:"max-conn-lifetime"`
	ConnectTimeout  time.Duration `json:"connect-timeout" mapstructure:"connect-timeout"`
}

func NewPostgresOptions() *PostgresOptions {
	return &PostgresOptions{
		MaxConns:        10,
		MinConns:        1,
		MaxConnLifetime: time.Hour,
		ConnectTimeout:  5 * time.Second,
	}
}

func (o *PostgresOptions) Validate() []error {
	if o == nil || o.DSN == "" {
		return nil
	}

	var errs []error
	if o.MaxConns <= 0 {
		errs = append(errs, fmt.Errorf("postgres.max-conns must be positive"))
	}
	if o.MinConns < 0 || o.MinConns > o.MaxConns {
		errs = append(errs, fmt.Errorf("postgres.min-conns must be between 0 and max-conns"))
	}
	return errs
}

func (o *PostgresOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.DSN, "postgres.dsn", o.DSN, "PostgreSQL connection string. Empty keeps insights in memory.")
	fs.Int32Var(&o.MaxConns, "postgres.max-conns", o.MaxConns, "Maximum pool size.")
	fs.Int32Var(&o.MinConns, "postgres.min-conns", o.MinConns, "Minimum idle connections.")
	fs.DurationVar(&o.MaxConnLifetime, "postgres.max-conn-lifetime", o.MaxConnLifetime, "Recycle connections older than this.")
	fs.DurationVar(&o.ConnectTimeout, "postgres.connect-timeout", o.ConnectTimeout, "Timeout for the initial ping.")
}
