package config

// Watcher is implemented by anything that can supply the current
// configuration and push reloads.
type Watcher interface {
	GetCurrentConfig() *Config
	Subscribe() <-chan *Config
	Close() error
}
