package api

import "time"

// APIConfig configures the controller's REST API server.
type APIConfig struct {
	// Host is the listen address. Default: all interfaces.
	Host string `mapstructure:"host" yaml:"host"`

	// Port is the HTTP port for the API endpoints.
	// Default: 3080
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`

	// SSL enables TLS; CertFile and CertKey are required when set.
	SSL      bool   `mapstructure:"ssl" yaml:"ssl"`
	CertFile string `mapstructure:"certfile" yaml:"certfile"`
	CertKey  string `mapstructure:"certkey" yaml:"certkey"`

	// ReadHeaderTimeout bounds header reads. Bodies stay unbounded so
	// image uploads and imports can stream.
	// Default: 10s
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`

	// IdleTimeout is the keep-alive idle limit.
	// Default: 120s
	IdleTimeout time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`

	// RequestTimeout bounds non-streaming requests at the router.
	// Default: 2m
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
}

// applyDefaults fills in zero values with sensible defaults.
func (c *APIConfig) applyDefaults() {
	if c.Port <= 0 {
		c.Port = 3080
	}
	if c.ReadHeaderTimeout == 0 {
		c.ReadHeaderTimeout = 10 * time.Second
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 120 * time.Second
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 2 * time.Minute
	}
}
