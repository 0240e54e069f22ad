package calcom

import "time"

type Config struct {
	BaseURL            string        `envconfig:"BASE_URL" split_words:"true" default:"https://api.cal.com/v2"`
	APIKey             string        `envconfig:"API_KEY" split_words:"true" required:"true"`
	APIVersion         string        `envconfig:"API_VERSION" split_words:"true" default:"2024-08-13"`
	Timeout            time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"10s"`
	MaxRetries         int           `envconfig:"MAX_RETRIES" split_words:"true" default:"2"`
	RetryBaseDelay     time.Duration `envconfig:"RETRY_BASE_DELAY" split_words:"true" default:"200ms"`
	RetryMaxDelay      time.Duration `envconfig:"RETRY_MAX_DELAY" split_words:"true" default:"2s"`
	RequestsPerSecond  float64       `envconfig:"REQUESTS_PER_SECOND" split_words:"true" default:"5"`
	DefaultEventTypeID int64         `envconfig:"DEFAULT_EVENT_TYPE_ID" split_words:"true"`
}

func (c Config) retryConfig() retryConfig {
	cfg := defaultRetryConfig
	if c.MaxRetries >= 0 {
		cfg.maxRetries = c.MaxRetries
	}
	if c.RetryBaseDelay > 0 {
		cfg.baseDelay = c.RetryBaseDelay
	}
	if c.RetryMaxDelay > 0 {
		cfg.maxDelay = c.RetryMaxDelay
	}
	return cfg
}
