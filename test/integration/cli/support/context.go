// Package support holds the godog step definitions for the qrlens CLI and
// server features. Commands run in-process against a fresh root command,
// inside a per-scenario temporary directory.
package support

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/MeKo-Tech/qrlens/internal/testutil"
)

// TestContext holds the state of one scenario.
type TestContext struct {
	// Command execution state
	LastCommand  string
	LastOutput   string
	LastStderr   string
	LastError    error
	LastDuration time.Duration

	// TempDir is the working directory of every command in the scenario.
	TempDir string

	// Server state
	Server *HTTPTestServerWrapper

	// HTTP response state
	LastHTTPStatusCode int
	LastHTTPResponse   string
	LastHTTPHeaders    map[string]string

	// WebSocket state
	WS *wsClient

	// savedEnv restores variables changed by the scenario; a nil value
	// means the variable was unset.
	savedEnv map[string]*string
}

// NewTestContext creates a scenario context with its own temp directory.
func NewTestContext() (*TestContext, error) {
	tempDir, err := os.MkdirTemp("", "qrlens-test-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp directory: %w", err)
	}
	// Resolve symlinks so paths printed by commands match step arguments.
	if resolved, err := filepath.EvalSymlinks(tempDir); err == nil {
		tempDir = resolved
	}
	return &TestContext{
		TempDir:  tempDir,
		savedEnv: make(map[string]*string),
	}, nil
}

// Cleanup stops servers, restores the environment and removes the temp
// directory.
func (testCtx *TestContext) Cleanup() error {
	var errs []error

	if testCtx.WS != nil {
		if err := testCtx.WS.close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close websocket: %w", err))
		}
		testCtx.WS = nil
	}
	if testCtx.Server != nil {
		testCtx.Server.Close()
		testCtx.Server = nil
	}

	for name, value := range testCtx.savedEnv {
		var err error
		if value == nil {
			err = os.Unsetenv(name)
		} else {
			err = os.Setenv(name, *value)
		}
		if err != nil {
			errs = append(errs, err)
		}
	}

	if err := os.RemoveAll(testCtx.TempDir); err != nil && !os.IsNotExist(err) {
		errs = append(errs, fmt.Errorf("failed to remove temp directory %s: %w", testCtx.TempDir, err))
	}
	return errors.Join(errs...)
}

// SetEnv sets an environment variable for the rest of the scenario.
func (testCtx *TestContext) SetEnv(name, value string) error {
	if _, saved := testCtx.savedEnv[name]; !saved {
		if old, ok := os.LookupEnv(name); ok {
			testCtx.savedEnv[name] = &old
		} else {
			testCtx.savedEnv[name] = nil
		}
	}
	return os.Setenv(name, value)
}

// Path resolves a scenario-relative file name.
func (testCtx *TestContext) Path(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(testCtx.TempDir, name)
}

// ensureParent creates the directory that will hold name.
func (testCtx *TestContext) ensureParent(name string) (string, error) {
	path := testCtx.Path(name)
	if err := testutil.EnsureDir(filepath.Dir(path)); err != nil {
		return "", err
	}
	return path, nil
}

// substitute replaces {tmp} with the scenario directory.
func (testCtx *TestContext) substitute(s string) string {
	return strings.ReplaceAll(s, "{tmp}", testCtx.TempDir)
}
