package process

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

// ErrConfiguration indicates an invalid runner configuration.
var ErrConfiguration = errors.New("process configuration error")

// Default configuration values.
const (
	DefaultInterpreter = "python3"
	DefaultScriptExt   = ".py"
	DefaultShell       = "/bin/sh"
	DefaultWaitDelay   = time.Second
)

// Config holds the configuration for a Runner.
type Config struct {
	// Interpreter runs script files. Defaults to "python3".
	Interpreter string

	// InterpreterArgs are placed between the interpreter and the script path.
	InterpreterArgs []string

	// ScriptExt is the temp file extension. Defaults to ".py".
	ScriptExt string

	// TempDir holds script files. Defaults to os.TempDir().
	TempDir string

	// Shell runs command lines as "<Shell> -c <line>". Defaults to "/bin/sh".
	Shell string

	// WorkDir is the working directory of child processes. Empty inherits
	// the gateway's working directory.
	WorkDir string

	// WaitDelay bounds how long Wait blocks for output pipes after the
	// process group was killed. Defaults to one second.
	WaitDelay time.Duration
}

// Validate checks the configuration for values that can never work.
func (c *Config) Validate() error {
	var bad []string
	if strings.ContainsAny(c.ScriptExt, `/\`) {
		bad = append(bad, "ScriptExt")
	}
	if c.WaitDelay < 0 {
		bad = append(bad, "WaitDelay")
	}
	if len(bad) > 0 {
		return fmt.Errorf("%w: invalid fields: %s", ErrConfiguration, strings.Join(bad, ", "))
	}
	return nil
}

// applyDefaults sets default values for optional fields.
func (c *Config) applyDefaults() {
	if c.Interpreter == "" {
		c.Interpreter = DefaultInterpreter
	}
	if c.ScriptExt == "" {
		c.ScriptExt = DefaultScriptExt
	}
	if c.TempDir == "" {
		c.TempDir = os.TempDir()
	}
	if c.Shell == "" {
		c.Shell = DefaultShell
	}
	if c.WaitDelay == 0 {
		c.WaitDelay = DefaultWaitDelay
	}
}
