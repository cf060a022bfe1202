package config

// Version is the application version, injected at build time via
// ldflags:
//
//	go build -ldflags "-X 'github.com/sublight/sublight/internal/config.Version=1.2.3'"
var Version = "dev"
