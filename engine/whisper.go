package engine

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/kballard/go-shellquote"

	"github.com/teranos/scribe/errors"
	"github.com/teranos/scribe/internal/command"
)

// Pipeline stages reported in PipelineError.
const (
	StagePreprocess = "preprocessing"
	StageTranscribe = "transcribing"
	StageExport     = "exporting"
)

// maxLoggedOutput bounds how much command output is echoed into job logs.
const maxLoggedOutput = 2000

// CommandLog captures one external command invocation.
type CommandLog struct {
	Command  string   `json:"command"`
	Args     []string `json:"args"`
	ExitCode int      `json:"exit_code"`
	Stdout   string   `json:"stdout"`
	Stderr   string   `json:"stderr"`
}

// PipelineError is a stage-aware failure with optional command context.
type PipelineError struct {
	Stage      string
	Message    string
	CommandLog CommandLog
	Err        error
}

func (e *PipelineError) Error() string {
	if e.CommandLog.Command == "" {
		return fmt.Sprintf("%s: %s", e.Stage, e.Message)
	}
	return fmt.Sprintf("%s: %s (cmd=%s exit=%d)", e.Stage, e.Message, e.CommandLog.Command, e.CommandLog.ExitCode)
}

// Unwrap exposes the underlying error.
func (e *PipelineError) Unwrap() error { return e.Err }

// Whisper runs ffmpeg to normalize audio to 16 kHz mono WAV, then whisper.cpp
// to produce a plain-text transcript at the request destination.
type Whisper struct {
	ffmpegPath  string
	whisperPath string
	modelPath   string
	language    string
	extraArgs   []string

	runner    command.Runner
	mkdirTemp func(dir, pattern string) (string, error)
	removeAll func(path string) error
	stat      func(name string) (os.FileInfo, error)
	readDir   func(name string) ([]os.DirEntry, error)
}

// NewWhisper builds the CLI engine. ExtraArgs is split with shell quoting
// rules so values like `--prompt "two words"` survive.
func NewWhisper(cfg Config) (*Whisper, error) {
	extra, err := shellquote.Split(cfg.ExtraArgs)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrInvalidRequest, "engine.extra_args: %v", err)
	}

	w := &Whisper{
		ffmpegPath:  orDefault(cfg.FFmpegPath, "ffmpeg"),
		whisperPath: orDefault(cfg.WhisperPath, "whisper-cli"),
		modelPath:   cfg.ModelPath,
		language:    cfg.Language,
		extraArgs:   extra,
		runner:      command.Exec{},
		mkdirTemp:   os.MkdirTemp,
		removeAll:   os.RemoveAll,
		stat:        os.Stat,
		readDir:     os.ReadDir,
	}
	return w, nil
}

// Name implements Engine.
func (w *Whisper) Name() string { return KindWhisper }

// Transcribe implements Engine.
func (w *Whisper) Transcribe(ctx context.Context, req Request) Outcome {
	artifact, err := w.run(ctx, req)
	if err != nil {
		return Failed(err)
	}
	return Succeeded(artifact)
}

func (w *Whisper) run(ctx context.Context, req Request) (string, error) {
	if strings.TrimSpace(req.Source) == "" {
		return "", &PipelineError{Stage: StagePreprocess, Message: "input media path is required"}
	}
	if _, err := w.stat(req.Source); err != nil {
		return "", &PipelineError{Stage: StagePreprocess, Message: "cannot access input media", Err: err}
	}
	modelPath, err := w.resolveModelPath()
	if err != nil {
		return "", &PipelineError{Stage: StageTranscribe, Message: err.Error(), Err: err}
	}
	if err := os.MkdirAll(filepath.Dir(req.Destination), 0o755); err != nil {
		return "", &PipelineError{Stage: StageExport, Message: "cannot create output directory", Err: err}
	}

	tempDir, err := w.mkdirTemp("", "scribe-whisper-*")
	if err != nil {
		return "", &PipelineError{Stage: StagePreprocess, Message: "failed to create temporary workspace", Err: err}
	}
	defer w.removeAll(tempDir)

	wavPath := filepath.Join(tempDir, "preprocessed-16k-mono.wav")
	req.log("Converting audio to 16 kHz mono WAV")
	req.progress(0.1)
	ffArgs := buildFFmpegArgs(req.Source, wavPath)
	if cmdLog, err := w.exec(ctx, req, w.ffmpegPath, ffArgs); err != nil {
		return "", &PipelineError{Stage: StagePreprocess, Message: "ffmpeg audio conversion failed", CommandLog: cmdLog, Err: err}
	}
	if _, err := w.stat(wavPath); err != nil {
		return "", &PipelineError{Stage: StagePreprocess, Message: "ffmpeg completed but output file is missing", Err: err}
	}
	req.progress(0.4)

	textBase := filepath.Join(tempDir, "transcript")
	req.log("Running whisper.cpp")
	whisperArgs := append(buildWhisperArgs(modelPath, wavPath, textBase, w.language), w.extraArgs...)
	cmdLog, err := w.exec(ctx, req, w.whisperPath, whisperArgs)
	if err != nil {
		return "", &PipelineError{Stage: StageTranscribe, Message: "whisper.cpp transcription failed", CommandLog: cmdLog, Err: err}
	}
	req.progress(0.9)

	if err := moveFile(textBase+".txt", req.Destination); err != nil {
		return "", &PipelineError{Stage: StageExport, Message: "whisper.cpp completed but transcript could not be exported", CommandLog: cmdLog, Err: err}
	}
	req.log("Transcription finished.")
	return req.Destination, nil
}

func (w *Whisper) exec(ctx context.Context, req Request, name string, args []string) (CommandLog, error) {
	req.log("$ " + shellquote.Join(append([]string{name}, args...)...))
	res, err := w.runner.Run(ctx, name, args...)
	cmdLog := CommandLog{Command: name, Args: args, ExitCode: res.ExitCode, Stdout: res.Stdout, Stderr: res.Stderr}
	if err != nil {
		if tail := command.Tail(res.Stderr, maxLoggedOutput); tail != "" {
			req.log(tail)
		}
	}
	return cmdLog, err
}

// resolveModelPath accepts a model file or a directory holding .bin/.gguf
// models, picking the first by name.
func (w *Whisper) resolveModelPath() (string, error) {
	modelPath := strings.TrimSpace(w.modelPath)
	if modelPath == "" {
		return "", errors.New("model path is required")
	}
	info, err := w.stat(modelPath)
	if err != nil {
		return "", errors.Newf("cannot access model path: %s", modelPath)
	}
	if !info.IsDir() {
		return modelPath, nil
	}

	entries, err := w.readDir(modelPath)
	if err != nil {
		return "", errors.Newf("cannot read model directory: %s", modelPath)
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext == ".bin" || ext == ".gguf" {
			names = append(names, entry.Name())
		}
	}
	if len(names) == 0 {
		return "", errors.Newf("no .bin or .gguf model files found in: %s", modelPath)
	}
	sort.Strings(names)
	return filepath.Join(modelPath, names[0]), nil
}

func buildFFmpegArgs(inputPath, outPath string) []string {
	return []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-i", inputPath,
		"-vn",
		"-ac", "1",
		"-ar", "16000",
		"-c:a", "pcm_s16le",
		outPath,
	}
}

func buildWhisperArgs(modelPath, audioPath, textBase, language string) []string {
	args := []string{
		"-m", modelPath,
		"-f", audioPath,
		"-of", textBase,
		"-otxt",
	}
	if lang := strings.TrimSpace(language); lang != "" && !strings.EqualFold(lang, "auto") {
		args = append(args, "-l", lang)
	}
	return args
}

// moveFile renames src to dst, copying when they sit on different devices.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
