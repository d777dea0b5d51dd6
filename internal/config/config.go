package config

type Config interface {
	EnvConfig
	VendorConfig
}

type EnvConfig interface {
	GetAppName() string
	GetListenBind() string
	GetProxyPort() string
	GetWebPort() string
	GetDataDir() string
	GetLogLevel() string
}

// VendorConfig identifies the cloud vendor whose login flow is captured.
type VendorConfig interface {
	// GetAuthDomain is the domain marker; only hosts containing it are
	// deeply inspected by the proxy.
	GetAuthDomain() string
	// GetRedirectScheme is the custom URL scheme of the terminal redirect.
	GetRedirectScheme() string
	GetIssuerURL() string
	GetClientID() string
}

type mainConfig struct {
	EnvVars
	Vendor
}

func New() Config {
	return mainConfig{}
}
