package domain

import "context"

// FeedWorker defines the lifecycle of a streaming book connection
type FeedWorker interface {
	Start(ctx context.Context) error
	Stop()
	IsConnected() bool
}

// PresetStore persists user-facing key/value settings such as the
// last-used simulation parameters
type PresetStore interface {
	SaveConfig(key, value string) error
	LoadConfigMap() (map[string]string, error)
}
