// interpreter.go verifies that script interpreters exist on the system before
// a script task runs.
package tasks

import (
	"fmt"
	"os/exec"
	"slices"
	"sync"
)

// ValidInterpreters is the allowlist of script interpreters.
var ValidInterpreters = []string{"bash", "sh", "python3", "perl"}

// InterpreterCache caches interpreter paths to avoid repeated lookups.
type InterpreterCache struct {
	mu    sync.RWMutex
	cache map[string]string
}

// NewInterpreterCache creates a new interpreter path cache.
func NewInterpreterCache() *InterpreterCache {
	return &InterpreterCache{
		cache: make(map[string]string),
	}
}

// VerifyInterpreter checks if the specified interpreter exists and returns its absolute path.
// Returns error if interpreter is not in allowlist or not found in PATH.
func (c *InterpreterCache) VerifyInterpreter(interpreter string) (string, error) {
	if !isValidInterpreter(interpreter) {
		return "", fmt.Errorf("invalid interpreter: %s (allowed: %v)", interpreter, ValidInterpreters)
	}

	c.mu.RLock()
	if path, ok := c.cache[interpreter]; ok {
		c.mu.RUnlock()
		return path, nil
	}
	c.mu.RUnlock()

	path, err := exec.LookPath(interpreter)
	if err != nil {
		return "", fmt.Errorf("interpreter '%s' not found in PATH: %w", interpreter, err)
	}

	c.mu.Lock()
	c.cache[interpreter] = path
	c.mu.Unlock()

	return path, nil
}

func isValidInterpreter(interpreter string) bool {
	return slices.Contains(ValidInterpreters, interpreter)
}
