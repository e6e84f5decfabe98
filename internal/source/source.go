// Package source implements the upstream block sources.
package source

import (
	"fmt"

	"github.com/goran-ethernal/StarboardIndexor/internal/logger"
	"github.com/goran-ethernal/StarboardIndexor/pkg/config"
	"github.com/goran-ethernal/StarboardIndexor/pkg/source"
)

// New creates the source selected by cfg.
func New(cfg config.SourceConfig, log *logger.Logger) (source.Source, error) {
	switch cfg.Type {
	case config.SourceTypeGraphQL:
		return NewGraphQLSource(cfg, log), nil
	case config.SourceTypeFile:
		return NewFileSource(cfg.Path, log)
	default:
		return nil, fmt.Errorf("unknown source type %q", cfg.Type)
	}
}
