package config

import "os"

const (
	appNameVar    = "APP_NAME"
	listenBindVar = "LISTEN_BIND"
	proxyPortVar  = "PROXY_PORT"
	webPortVar    = "WEB_PORT"
	dataDirVar    = "DATA_DIR"
	logLevelVar   = "LOG_LEVEL"
)

type EnvVars struct{}

var _ EnvConfig = EnvVars{}

func (EnvVars) GetAppName() string {
	return GetEnv(appNameVar, "Login Proxy")
}

// GetListenBind returns the bind address shared by both listeners. The
// default (empty) binds all interfaces so phones on the LAN can reach us.
func (EnvVars) GetListenBind() string {
	return GetEnv(listenBindVar, "")
}

func (EnvVars) GetProxyPort() string {
	return GetEnv(proxyPortVar, "8888")
}

func (EnvVars) GetWebPort() string {
	return GetEnv(webPortVar, "8889")
}

func (EnvVars) GetDataDir() string {
	return GetEnv(dataDirVar, "./data")
}

func (EnvVars) GetLogLevel() string {
	return GetEnv(logLevelVar, "info")
}

func GetEnv(envVar, defaultValue string) string {
	value := os.Getenv(envVar)
	if value == "" {
		return defaultValue
	}
	return value
}
