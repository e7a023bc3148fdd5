// Package onnx locates and initializes the ONNX runtime shared library that
// backs the ML detection and classification variants. The probe runs once at
// process startup; its result is passed explicitly into component factories
// so backend selection never happens through hidden global state.
package onnx

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// Availability is the result of a capability probe. A zero value means
// "not probed"; use Probe to obtain one.
type Availability struct {
	OK          bool
	LibraryPath string
	BundleDir   string
	Reason      string
}

var initMu sync.Mutex

// Probe checks whether the ONNX runtime shared library and the model bundle
// under bundleDir are present. It performs no inference and loads no model.
func Probe(bundleDir string) Availability {
	libPath := resolveSharedLibraryPath(bundleDir)
	if libPath == "" {
		return Availability{
			BundleDir: bundleDir,
			Reason:    "onnxruntime shared library not found; set ONNXRUNTIME_SHARED_LIBRARY_PATH or install the runtime",
		}
	}
	if bundleDir == "" {
		return Availability{LibraryPath: libPath, Reason: "model bundle directory not configured"}
	}
	if info, err := os.Stat(bundleDir); err != nil || !info.IsDir() {
		return Availability{
			LibraryPath: libPath,
			BundleDir:   bundleDir,
			Reason:      fmt.Sprintf("model bundle directory unreadable at %s", bundleDir),
		}
	}
	return Availability{OK: true, LibraryPath: libPath, BundleDir: bundleDir}
}

// Initialize prepares the process-wide ONNX runtime environment using the
// probed shared library. It is idempotent and safe for concurrent use.
func Initialize(av Availability) error {
	if !av.OK {
		return fmt.Errorf("onnx: runtime not available: %s", av.Reason)
	}

	initMu.Lock()
	defer initMu.Unlock()

	if ort.IsInitialized() {
		return nil
	}
	ort.SetSharedLibraryPath(av.LibraryPath)
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("onnx: initialize environment: %w", err)
	}
	return nil
}

// resolveSharedLibraryPath attempts to locate a platform-specific onnxruntime
// shared library. ONNXRUNTIME_SHARED_LIBRARY_PATH wins when set; otherwise
// common names and locations are probed.
func resolveSharedLibraryPath(bundleDir string) string {
	if env := strings.TrimSpace(os.Getenv("ONNXRUNTIME_SHARED_LIBRARY_PATH")); env != "" {
		return env
	}

	names := []string{
		"libonnxruntime.dylib",
		"onnxruntime.dylib",
		"libonnxruntime.so",
		"onnxruntime.so",
		"onnxruntime.dll",
	}
	dirs := []string{
		bundleDir,
		filepath.Join(bundleDir, "lib"),
		".",
		"/opt/homebrew/lib",
		"/usr/local/lib",
		"/usr/lib",
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		for _, name := range names {
			candidate := filepath.Join(dir, name)
			if _, err := os.Stat(candidate); err == nil {
				return candidate
			}
		}
	}
	return ""
}
