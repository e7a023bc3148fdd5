package compliance

import (
	"fmt"
	"os"
	"path/filepath"
)

// LoadModules reads Rego source files into the module map NewEngine expects.
// Modules are keyed by base filename; two paths with the same base collide.
func LoadModules(paths []string) (map[string]string, error) {
	modules := make(map[string]string, len(paths))
	for _, path := range paths {
		src, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read rego module %s: %w", path, err)
		}
		name := filepath.Base(path)
		if _, exists := modules[name]; exists {
			return nil, fmt.Errorf("duplicate rego module name %q", name)
		}
		modules[name] = string(src)
	}
	return modules, nil
}
