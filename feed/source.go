// Package feed receives the storage layer's change-event stream and
// coalesces it into batches for the intake pipeline. Sources are pluggable
// via a factory registry keyed by source name.
package feed

import (
	"fmt"

	"github.com/herald-io/herald/cfg"
	"github.com/herald-io/herald/model"
)

// Source is one change-feed backend.
type Source interface {
	// Events returns the stream of decoded change events.
	Events() <-chan *model.ChangeEvent
	// Close releases the backend connection and closes the event channel.
	Close() error
}

// SourceFactory builds a source from configuration.
type SourceFactory func(config cfg.FeedConfiguration) (Source, error)

var sourceFactories = map[string]SourceFactory{}

// RegisterSource registers a source factory under a name.
// Called from init() in each backend file.
func RegisterSource(name string, factory SourceFactory) {
	sourceFactories[name] = factory
}

// NewSource builds the configured source.
func NewSource(config cfg.FeedConfiguration) (Source, error) {
	factory, ok := sourceFactories[config.Source]
	if !ok {
		return nil, fmt.Errorf("unknown feed source %q", config.Source)
	}
	return factory(config)
}
