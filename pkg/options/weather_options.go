package options

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*WeatherOptions)(nil)

// WeatherOptions configures the external temperature provider.
type WeatherOptions struct {
	Enabled  bool          `json:"enabled" mapstructure:"enabled"`
	BaseURL  string        `json:"base-url" mapstructure:"base-url"`
	Timeout  time.Duration `json:"timeout" mapstructure:"timeout"`
	Retries  int           `json:"retries" mapstructure:"retries"`
	CacheTTL time.Duration `json:"cache-ttl" mapstructure:"cache-ttl"`
}

func NewWeatherOptions() *WeatherOptions {
	return &WeatherOptions{
		Enabled:  true,
		BaseURL:  "https://api.open-meteo.com",
		Timeout:  3 * time.Second,
		Retries:  1,
		CacheTTL: 30 * time.Minute,
	}
}

func (o *WeatherOptions) Validate() []error {
	if o == nil || !o.Enabled {
		return nil
	}

	var errs []error
	if o.BaseURL == "" {
		errs = append(errs, fmt.Errorf("weather.base-url is required"))
	}
	if o.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("weather.timeout must be positive"))
	}
	if o.Retries < 0 {
		errs = append(errs, fmt.Errorf("weather.retries must not be negative"))
	}
	return errs
}

func (o *WeatherOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.BoolVar(&o.Enabled, "weather.enabled", o.Enabled, "Query the weather service when no intake temperature is reported.")
	fs.StringVar(&o.BaseURL, "weather.base-url", o.BaseURL, "Base URL of the Open-Meteo compatible forecast API.")
	fs.DurationVar(&o.Timeout, "weather.timeout", o.Timeout, "Per-request timeout.")
	fs.IntVar(&o.Retries, "weather.retries", o.Retries, "Retries after a failed request.")
	fs.DurationVar(&o.CacheTTL, "weather.cache-ttl", o.CacheTTL, "How long a cached reading stays valid.")
}
