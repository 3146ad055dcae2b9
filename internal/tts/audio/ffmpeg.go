package audio

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/book-expert/logger"
	"github.com/mattn/go-shellwords"
)

const (
	// DefaultFFmpegCommand is the ffmpeg invocation used when none is configured.
	DefaultFFmpegCommand = "ffmpeg -hide_banner -loglevel error"

	errFmtParseCommand = "parse ffmpeg command: %w"
	errFmtFFmpegFailed = "ffmpeg failed: %w: %s"
	logFmtFFmpegMerged = "ffmpeg merged %d files into %s"
)

// ErrEmptyCommand is returned when the configured ffmpeg command has no words.
var ErrEmptyCommand = errors.New("ffmpeg command is empty")

// CommandRunner executes name with args and returns its combined output.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

// FFmpegOption configures an FFmpegConcatenator.
type FFmpegOption func(*FFmpegConcatenator)

// WithCommandRunner replaces the process runner, mainly for tests.
func WithCommandRunner(runner CommandRunner) FFmpegOption {
	return func(c *FFmpegConcatenator) {
		c.run = runner
	}
}

// FFmpegConcatenator joins audio files of any format ffmpeg can read. It
// works on the OS filesystem only.
type FFmpegConcatenator struct {
	run     CommandRunner
	log     *logger.Logger
	command []string
}

// NewFFmpegConcatenator parses commandLine with shell quoting rules.
func NewFFmpegConcatenator(
	commandLine string,
	log *logger.Logger,
	opts ...FFmpegOption,
) (*FFmpegConcatenator, error) {
	if strings.TrimSpace(commandLine) == "" {
		commandLine = DefaultFFmpegCommand
	}

	args, err := shellwords.NewParser().Parse(commandLine)
	if err != nil {
		return nil, fmt.Errorf(errFmtParseCommand, err)
	}

	if len(args) == 0 {
		return nil, ErrEmptyCommand
	}

	concatenator := &FFmpegConcatenator{
		run:     execCommand,
		log:     log,
		command: args,
	}

	for _, opt := range opts {
		opt(concatenator)
	}

	return concatenator, nil
}

// Concatenate runs ffmpeg with a concat filter graph that pads every piece
// but the last with gap worth of silence.
func (c *FFmpegConcatenator) Concatenate(
	ctx context.Context,
	inputs []string,
	output string,
	gap time.Duration,
) error {
	present := make([]string, 0, len(inputs))

	for _, path := range inputs {
		_, statErr := os.Stat(path)
		if statErr != nil {
			c.log.Warn(logFmtSkippingInput, path)

			continue
		}

		present = append(present, path)
	}

	if len(present) == 0 {
		return ErrNoMergeInputs
	}

	args := append([]string{}, c.command[1:]...)
	args = append(args, BuildFFmpegArgs(present, output, gap)...)

	out, err := c.run(ctx, c.command[0], args...)
	if err != nil {
		return fmt.Errorf(errFmtFFmpegFailed, err, strings.TrimSpace(string(out)))
	}

	c.log.Info(logFmtFFmpegMerged, len(present), output)

	return nil
}

// BuildFFmpegArgs returns the ffmpeg arguments that follow the configured
// command words.
func BuildFFmpegArgs(inputs []string, output string, gap time.Duration) []string {
	args := []string{"-y"}
	for _, path := range inputs {
		args = append(args, "-i", path)
	}

	padDuration := strconv.FormatFloat(gap.Seconds(), 'f', -1, 64)
	filters := make([]string, 0, len(inputs)+1)

	var labels strings.Builder

	for i := range inputs {
		label := fmt.Sprintf("[a%d]", i)
		if i < len(inputs)-1 && gap > 0 {
			filters = append(filters, fmt.Sprintf("[%d:a]apad=pad_dur=%s%s", i, padDuration, label))
		} else {
			filters = append(filters, fmt.Sprintf("[%d:a]anull%s", i, label))
		}

		labels.WriteString(label)
	}

	filters = append(filters, fmt.Sprintf("%sconcat=n=%d:v=0:a=1[out]", labels.String(), len(inputs)))

	return append(args, "-filter_complex", strings.Join(filters, ";"), "-map", "[out]", output)
}

func execCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}
