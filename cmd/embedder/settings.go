package main

import (
	"strings"
	"time"

	"pixel-embedder/internal/api"
	"pixel-embedder/internal/browser"
	"pixel-embedder/internal/platform/config"
)

// settings is the process configuration read from the environment.
type settings struct {
	Port          string
	LogLevel      string
	LogFormat     string
	ConfigPath    string
	DataDir       string
	APIURL        string
	PageURL       string
	SocketURL     string
	RegionURL     string
	Cookie        string
	BrowserURL    string
	Browser       bool
	ActionTimeout time.Duration
}

func loadSettings() settings {
	s := settings{
		Port:          config.GetEnv("PORT", "8080"),
		LogLevel:      config.GetEnv("LOG_LEVEL", "info"),
		LogFormat:     config.GetEnv("LOG_FORMAT", "auto"),
		ConfigPath:    config.GetEnv("EMBEDDER_CONFIG", ""),
		DataDir:       config.GetEnv("EMBEDDER_DATA_DIR", "data"),
		PageURL:       strings.TrimRight(config.GetEnv("EMBEDDER_PAGE_URL", browser.DefaultPageURL), "/"),
		Cookie:        config.GetEnv("EMBEDDER_COOKIE", ""),
		BrowserURL:    config.GetEnv("EMBEDDER_BROWSER_URL", ""),
		Browser:       config.GetEnvBool("EMBEDDER_BROWSER", true),
		ActionTimeout: config.GetEnvDuration("EMBEDDER_ACTION_TIMEOUT", api.DefaultActionTimeout),
	}
	s.APIURL = config.GetEnv("EMBEDDER_API_URL", "http://localhost:"+s.Port)
	s.SocketURL = config.GetEnv("EMBEDDER_SOCKET_URL", s.PageURL)
	s.RegionURL = config.GetEnv("EMBEDDER_REGION_URL", s.PageURL+"/api")
	return s
}
