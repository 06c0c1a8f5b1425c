package engine

import (
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"github.com/glowdeck/stripsync/internal/core/schema"
)

var (
	stripConfigLoader     gojsonschema.JSONLoader
	stripConfigLoaderErr  error
	stripConfigLoaderOnce sync.Once
)

type schemaValidationError struct {
	issues []string
}

func (e schemaValidationError) Error() string {
	if len(e.issues) == 0 {
		return "config payload failed schema validation"
	}
	return strings.Join(e.issues, "; ")
}

// validateConfigPayload checks a raw ConfigChanged payload against the
// strip config schema before it is allowed to replace the registry
// contents. Invalid snapshots are dropped by the caller, keeping the
// last good ordering on screen.
func validateConfigPayload(raw []byte) error {
	loader, err := loadStripConfigSchema()
	if err != nil {
		return fmt.Errorf("load strip config schema: %w", err)
	}

	result, err := gojsonschema.Validate(loader, gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return fmt.Errorf("validate config payload: %w", err)
	}
	if result.Valid() {
		return nil
	}

	issues := make([]string, 0, len(result.Errors()))
	for _, issue := range result.Errors() {
		issues = append(issues, issue.String())
	}
	return schemaValidationError{issues: issues}
}

func loadStripConfigSchema() (gojsonschema.JSONLoader, error) {
	stripConfigLoaderOnce.Do(func() {
		schemaMap, err := schema.StripConfigSchema()
		if err != nil {
			stripConfigLoaderErr = err
			return
		}
		stripConfigLoader = gojsonschema.NewGoLoader(schemaMap)
	})
	return stripConfigLoader, stripConfigLoaderErr
}
