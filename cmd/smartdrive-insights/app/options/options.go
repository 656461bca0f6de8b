package options

import (
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	cliflag "k8s.io/component-base/cli/flag"

	"github.com/barnapet/smartdrive/internal/insights"
	"github.com/barnapet/smartdrive/pkg/app"
	"github.com/barnapet/smartdrive/pkg/log"
	"github.com/barnapet/smartdrive/pkg/options"
)

type InsightsOptions struct {
	AmqpOptions       *options.AmqpOptions        `json:"amqp" mapstructure:"amqp"`
	PostgresOptions   *options.PostgresOptions    `json:"postgres" mapstructure:"postgres"`
	RedisOptions      *options.RedisOptions       `json:"redis" mapstructure:"redis"`
	S3Options         *options.S3Options          `json:"s3" mapstructure:"s3"`
	WeatherOptions    *options.WeatherOptions     `json:"weather" mapstructure:"weather"`
	HttpOptions       *options.HttpOptions        `json:"http" mapstructure:"http"`
	EvaluationOptions *insights.EvaluationOptions `json:"evaluation" mapstructure:"evaluation"`
	Log               *log.Options                `json:"log" mapstructure:"log"`
}

var _ app.NamedFlagSetOptions = (*InsightsOptions)(nil)

func NewInsightsOptions() *InsightsOptions {
	return &InsightsOptions{
		AmqpOptions:       options.NewAmqpOptions(),
		PostgresOptions:   options.NewPostgresOptions(),
		RedisOptions:      options.NewRedisOptions(),
		S3Options:         options.NewS3Options(),
		WeatherOptions:    options.NewWeatherOptions(),
		HttpOptions:       options.NewHttpOptions(":8080"),
		EvaluationOptions: insights.NewEvaluationOptions(),
		Log:               log.NewOptions(),
	}
}

func (o *InsightsOptions) Flags() cliflag.NamedFlagSets {
	fss := cliflag.NamedFlagSets{}
	o.EvaluationOptions.AddFlags(fss.FlagSet("evaluation"))
	o.AmqpOptions.AddFlags(fss.FlagSet("amqp"))
	o.PostgresOptions.AddFlags(fss.FlagSet("postgres"))
	o.RedisOptions.AddFlags(fss.FlagSet("redis"))
	o.S3Options.AddFlags(fss.FlagSet("s3"))
	o.WeatherOptions.AddFlags(fss.FlagSet("weather"))
	o.HttpOptions.AddFlags(fss.FlagSet("http"))
	o.Log.AddFlags(fss.FlagSet("Log"))
	return fss
}

func (o *InsightsOptions) Complete() error {
	return nil
}

func (o *InsightsOptions) Validate() error {
	errs := []error{}
	errs = append(errs, o.EvaluationOptions.Validate()...)
	errs = append(errs, o.AmqpOptions.Validate()...)
	errs = append(errs, o.PostgresOptions.Validate()...)
	errs = append(errs, o.RedisOptions.Validate()...)
	errs = append(errs, o.S3Options.Validate()...)
	errs = append(errs, o.WeatherOptions.Validate()...)
	errs = append(errs, o.HttpOptions.Validate()...)
	errs = append(errs, o.Log.Validate()...)
	return utilerrors.NewAggregate(errs)
}

func (o *InsightsOptions) Config() (*insights.Config, error) {
	return &insights.Config{
		AmqpOptions:       o.AmqpOptions,
		PostgresOptions:   o.PostgresOptions,
		RedisOptions:      o.RedisOptions,
		S3Options:         o.S3Options,
		WeatherOptions:    o.WeatherOptions,
		EvaluationOptions: o.EvaluationOptions,
	}, nil
}
