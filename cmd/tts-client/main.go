// main package for the tts-client: posts text to a running tts-service and
// saves the narrated audio.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/tts-pipeline/internal/api"
	"github.com/book-expert/tts-pipeline/internal/tts/ttsutils"
)

// Flag names.
const (
	flagURL         = "url"
	flagText        = "text"
	flagFile        = "file"
	flagPrompt      = "prompt"
	flagSpeaker     = "speaker"
	flagTemperature = "temperature"
	flagOutput      = "output"
)

// Flag descriptions.
const (
	flagURLDesc         = "Base URL of the tts-service"
	flagTextDesc        = "Text to convert to speech"
	flagFileDesc        = "Text or markdown file to convert to speech"
	flagPromptDesc      = "Optional style prompt, e.g. \"Read calmly\""
	flagSpeakerDesc     = "Voice name; the service default is used when empty"
	flagTemperatureDesc = "Sampling temperature; the service default is used when unset"
	flagOutputDesc      = "Output file path (.wav)"
)

// Defaults.
const (
	defaultURL        = "http://localhost:7860"
	defaultOutputFile = "output.wav"
	generatePath      = "/api/generate-audio"
	requestTimeout    = 30 * time.Minute
	outputPermissions = 0o600
	logFileName       = "tts-client.log"
)

// Error messages.
const (
	errEitherTextOrFile  = "either --text or --file must be provided"
	errCannotSpecifyBoth = "cannot specify both --text and --file"
	errFmtUnsupported    = "%w: %s"
	errFmtReadFile       = "failed to read %s: %w"
	errFmtServer         = "%w: %s: %s"
	errFmtRequest        = "request failed: %w"
	errFmtWriteOutput    = "failed to write %s: %w"
)

// Log messages.
const (
	logFmtRequesting = "Requesting %d characters from %s"
	logFmtSaved      = "Saved %s (%s)"
	logGenerated     = "Generated: %s (%s)\n"
)

// Client errors.
var (
	ErrEitherTextOrFile     = errors.New(errEitherTextOrFile)
	ErrCannotSpecifyBoth    = errors.New(errCannotSpecifyBoth)
	ErrUnsupportedTextFile  = errors.New("unsupported text file, expected .txt or .md")
	ErrUnsupportedAudioFile = errors.New("unsupported output file extension")
	ErrServer               = errors.New("server rejected the request")
)

// appFlags holds the parsed command-line flag values.
type appFlags struct {
	temperature *float64
	url         string
	text        string
	file        string
	prompt      string
	speaker     string
	output      string
}

func main() {
	log, err := logger.New(os.TempDir(), logFileName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	err = run(context.Background(), os.Args[1:], os.Stdout, log)

	_ = log.Close()

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the application entry point, returning an error on failure.
func run(ctx context.Context, args []string, stdout io.Writer, log *logger.Logger) error {
	flags, err := parseFlags(args)
	if err != nil {
		return err
	}

	err = validateFlags(flags)
	if err != nil {
		return err
	}

	text, err := readText(flags)
	if err != nil {
		return err
	}

	req := api.GenerateRequest{
		Text:        text,
		Prompt:      flags.prompt,
		Speaker:     flags.speaker,
		Temperature: flags.temperature,
	}

	log.Info(logFmtRequesting, len([]rune(text)), flags.url)

	size, err := generate(ctx, flags.url, req, flags.output)
	if err != nil {
		log.Error("%v", err)

		return err
	}

	log.Info(logFmtSaved, flags.output, ttsutils.FormatFileSize(size))
	fmt.Fprintf(stdout, logGenerated, flags.output, ttsutils.FormatFileSize(size))

	return nil
}

// parseFlags parses args into appFlags. The temperature is only sent when
// the flag is given.
func parseFlags(args []string) (appFlags, error) {
	var (
		flags       appFlags
		temperature float64
	)

	flagSet := flag.NewFlagSet("tts-client", flag.ContinueOnError)
	flagSet.StringVar(&flags.url, flagURL, defaultURL, flagURLDesc)
	flagSet.StringVar(&flags.text, flagText, "", flagTextDesc)
	flagSet.StringVar(&flags.file, flagFile, "", flagFileDesc)
	flagSet.StringVar(&flags.prompt, flagPrompt, "", flagPromptDesc)
	flagSet.StringVar(&flags.speaker, flagSpeaker, "", flagSpeakerDesc)
	flagSet.Float64Var(&temperature, flagTemperature, 0, flagTemperatureDesc)
	flagSet.StringVar(&flags.output, flagOutput, defaultOutputFile, flagOutputDesc)

	err := flagSet.Parse(args)
	if err != nil {
		return appFlags{}, err
	}

	flagSet.Visit(func(f *flag.Flag) {
		if f.Name == flagTemperature {
			flags.temperature = &temperature
		}
	})

	return flags, nil
}

// validateFlags checks required and conflicting arguments.
func validateFlags(flags appFlags) error {
	if flags.text == "" && flags.file == "" {
		return ErrEitherTextOrFile
	}

	if flags.text != "" && flags.file != "" {
		return ErrCannotSpecifyBoth
	}

	if flags.file != "" && !ttsutils.IsValidTextFile(flags.file) {
		return fmt.Errorf(errFmtUnsupported, ErrUnsupportedTextFile, flags.file)
	}

	if !ttsutils.IsValidAudioFile(flags.output) {
		return fmt.Errorf(errFmtUnsupported, ErrUnsupportedAudioFile, flags.output)
	}

	return nil
}

func readText(flags appFlags) (string, error) {
	if flags.text != "" {
		return flags.text, nil
	}

	data, err := os.ReadFile(flags.file)
	if err != nil {
		return "", fmt.Errorf(errFmtReadFile, flags.file, err)
	}

	return string(data), nil
}

// generate posts req and writes a successful body to output.
func generate(ctx context.Context, baseURL string, req api.GenerateRequest, output string) (int64, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return 0, fmt.Errorf(errFmtRequest, err)
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	endpoint := strings.TrimRight(baseURL, "/") + generatePath

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf(errFmtRequest, err)
	}

	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		return 0, fmt.Errorf(errFmtRequest, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf(errFmtServer, ErrServer, resp.Status, errorDetail(resp.Body))
	}

	file, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, outputPermissions)
	if err != nil {
		return 0, fmt.Errorf(errFmtWriteOutput, output, err)
	}

	size, copyErr := io.Copy(file, resp.Body)
	closeErr := file.Close()

	err = errors.Join(copyErr, closeErr)
	if err != nil {
		return 0, fmt.Errorf(errFmtWriteOutput, output, err)
	}

	return size, nil
}

// errorDetail extracts the server's detail message, falling back to the raw
// body.
func errorDetail(body io.Reader) string {
	raw, err := io.ReadAll(body)
	if err != nil {
		return err.Error()
	}

	var detail api.ErrorBody

	err = json.Unmarshal(raw, &detail)
	if err != nil || detail.Detail == "" {
		return strings.TrimSpace(string(raw))
	}

	return detail.Detail
}
