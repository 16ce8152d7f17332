// Package diagnostics validates the host environment: external binaries on
// PATH, the model path for the whisper engine, and a writable data directory
// with enough free space.
package diagnostics

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/disk"

	"github.com/teranos/scribe/errors"
)

// DefaultMinFreeBytes is the free-space floor for the data directory (2 GiB).
const DefaultMinFreeBytes uint64 = 2 << 30

// DefaultBinaries are the tools checked when Settings.Binaries is empty.
var DefaultBinaries = []string{"ffmpeg", "yt-dlp"}

// Status indicates whether a single check passed.
type Status string

const (
	StatusPass Status = "pass"
	StatusWarn Status = "warn"
	StatusFail Status = "fail"
)

// Item is one check result with an optional hint.
type Item struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Status  Status `json:"status"`
	Message string `json:"message"`
	Hint    string `json:"hint,omitempty"`
}

// Report aggregates checks for the CLI and the health endpoint.
type Report struct {
	GeneratedAt time.Time `json:"generated_at"`
	HasFailures bool      `json:"has_failures"`
	Items       []Item    `json:"items"`
}

// Settings selects what to check.
type Settings struct {
	Binaries     []string
	DataDir      string
	MinFreeBytes uint64
	ModelPath    string // checked only when CheckModel is set
	CheckModel   bool
}

// Checker validates external tools and required filesystem paths.
type Checker struct {
	lookPath   func(string) (string, error)
	stat       func(string) (os.FileInfo, error)
	readDir    func(string) ([]os.DirEntry, error)
	mkdirAll   func(string, os.FileMode) error
	createTemp func(string, string) (*os.File, error)
	remove     func(string) error
	freeBytes  func(string) (uint64, error)
}

// NewChecker builds a checker using real OS dependencies.
func NewChecker() *Checker {
	return &Checker{
		lookPath:   exec.LookPath,
		stat:       os.Stat,
		readDir:    os.ReadDir,
		mkdirAll:   os.MkdirAll,
		createTemp: os.CreateTemp,
		remove:     os.Remove,
		freeBytes:  diskFree,
	}
}

func diskFree(path string) (uint64, error) {
	usage, err := disk.Usage(path)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to read disk usage for %s", path)
	}
	return usage.Free, nil
}

// Run executes all checks and returns a combined report.
func (c *Checker) Run(s Settings) Report {
	binaries := s.Binaries
	if len(binaries) == 0 {
		binaries = DefaultBinaries
	}
	minFree := s.MinFreeBytes
	if minFree == 0 {
		minFree = DefaultMinFreeBytes
	}

	var items []Item
	for _, name := range binaries {
		items = append(items, c.checkTool(name))
	}
	if s.CheckModel {
		items = append(items, c.checkModelPath(s.ModelPath))
	}
	dirItem := c.checkDataDir(s.DataDir)
	items = append(items, dirItem)
	if dirItem.Status == StatusPass {
		items = append(items, c.checkFreeSpace(s.DataDir, minFree))
	}

	report := Report{GeneratedAt: time.Now().UTC(), Items: items}
	for _, item := range items {
		if item.Status == StatusFail {
			report.HasFailures = true
			break
		}
	}
	return report
}

// checkTool verifies a CLI executable is on PATH.
func (c *Checker) checkTool(name string) Item {
	item := Item{ID: "tool_" + name, Name: name}
	path, err := c.lookPath(name)
	if err != nil {
		item.Status = StatusFail
		item.Message = fmt.Sprintf("Tool not found in PATH: %s", name)
		item.Hint = "Install it and ensure the binary is available on PATH before starting a transcription job."
		return item
	}
	item.Status = StatusPass
	item.Message = fmt.Sprintf("Found at %s", path)
	return item
}

// checkModelPath validates a model file or a directory of .bin/.gguf models.
func (c *Checker) checkModelPath(modelPath string) Item {
	item := Item{ID: "model_path", Name: "Model path"}

	if strings.TrimSpace(modelPath) == "" {
		item.Status = StatusFail
		item.Message = "Model path is empty."
		item.Hint = "Set engine.model_path to a whisper.cpp model file or a directory of models."
		return item
	}

	info, err := c.stat(modelPath)
	if err != nil {
		item.Status = StatusFail
		if errors.Is(err, os.ErrNotExist) {
			item.Message = fmt.Sprintf("Model path does not exist: %s", modelPath)
		} else {
			item.Message = fmt.Sprintf("Cannot access model path: %s", modelPath)
		}
		item.Hint = "Download a whisper.cpp model and set engine.model_path."
		return item
	}
	if !info.IsDir() {
		item.Status = StatusPass
		item.Message = fmt.Sprintf("Model file found: %s", modelPath)
		return item
	}

	entries, err := c.readDir(modelPath)
	if err != nil {
		item.Status = StatusFail
		item.Message = fmt.Sprintf("Cannot read model directory: %s", modelPath)
		item.Hint = "Check permissions for the model directory."
		return item
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext == ".bin" || ext == ".gguf" {
			item.Status = StatusPass
			item.Message = fmt.Sprintf("Model directory is valid: %s", modelPath)
			return item
		}
	}
	item.Status = StatusFail
	item.Message = fmt.Sprintf("No model files found in directory: %s", modelPath)
	item.Hint = "Place a .bin or .gguf model file in this directory or point to a model file directly."
	return item
}

// checkDataDir validates that the data directory exists and is writable.
func (c *Checker) checkDataDir(dir string) Item {
	item := Item{ID: "data_dir", Name: "Data directory"}

	if strings.TrimSpace(dir) == "" {
		item.Status = StatusFail
		item.Message = "Data directory is empty."
		item.Hint = "Set data_dir to a location where uploads and transcripts can be written."
		return item
	}
	if err := c.mkdirAll(dir, 0o755); err != nil {
		item.Status = StatusFail
		item.Message = fmt.Sprintf("Cannot create data directory: %s", dir)
		item.Hint = "Choose a writable location or adjust filesystem permissions."
		return item
	}
	tmp, err := c.createTemp(dir, ".write-check-*")
	if err != nil {
		item.Status = StatusFail
		item.Message = fmt.Sprintf("Data directory is not writable: %s", dir)
		item.Hint = "Choose a writable directory for uploads and transcripts."
		return item
	}
	tmpPath := tmp.Name()
	_ = tmp.Close()
	_ = c.remove(tmpPath)

	item.Status = StatusPass
	item.Message = fmt.Sprintf("Writable directory: %s", dir)
	return item
}

// checkFreeSpace compares free bytes on the data directory's volume with minFree.
func (c *Checker) checkFreeSpace(dir string, minFree uint64) Item {
	item := Item{ID: "disk_space", Name: "Free disk space"}

	free, err := c.freeBytes(dir)
	if err != nil {
		item.Status = StatusWarn
		item.Message = "Could not determine free disk space."
		item.Hint = err.Error()
		return item
	}
	if free < minFree {
		item.Status = StatusFail
		item.Message = fmt.Sprintf("Only %s free, need at least %s", FormatBytes(free), FormatBytes(minFree))
		item.Hint = "Free up space or point data_dir at a larger volume."
		return item
	}
	item.Status = StatusPass
	item.Message = fmt.Sprintf("%s free", FormatBytes(free))
	return item
}

// FormatBytes renders n with a binary unit suffix.
func FormatBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
