// Command-line client for the voiceclone-service NATS API.
package main

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/book-expert/voiceclone-service/internal/router"
	"github.com/book-expert/voiceclone-service/internal/ttsutils"
)

// Flag descriptions.
const (
	flagNATSDesc     = "NATS server URL"
	flagSubjectDesc  = "Request subject of the voiceclone-service"
	flagTextDesc     = "Text to synthesize"
	flagVoiceDesc    = "Name of a stored voice to clone"
	flagVoiceURLDesc = "URL of a reference clip to clone"
	flagSpeedDesc    = "Playback speed multiplier"
	flagTimingsDesc  = "Request word timings alongside the audio"
	flagFormatDesc   = "Timing file format (srt, vtt, csv, ass, json)"
	flagOutputDesc   = "Output file path for downloaded audio"
	flagWaitDesc     = "Poll until the job finishes and download the audio"
	flagListDesc     = "List stored voices and exit"
	flagStatusDesc   = "Print the status of a job id and exit"
	flagResultDesc   = "Print the result of a job id and exit"
	flagUploadDesc   = "Upload a local audio file as a stored voice"
	flagNameDesc     = "Voice name to store an upload under"
	flagHealthDesc   = "Check service health and exit"
)

const (
	requestTimeout = 10 * time.Second
	pollInterval   = 2 * time.Second
	pollDeadline   = 10 * time.Minute
)

var errJobFailed = errors.New("job failed")

// appFlags holds the parsed command-line flag values.
type appFlags struct {
	natsURL  string
	subject  string
	text     string
	voice    string
	voiceURL string
	speed    float64
	timings  bool
	format   string
	output   string
	wait     bool
	list     bool
	status   string
	result   string
	upload   string
	name     string
	health   bool
}

func main() {
	err := run()
	if err != nil {
		log.Fatalf("Error: %v", err)
	}
}

func run() error {
	flags := parseFlags()

	natsConnection, err := nats.Connect(flags.natsURL)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS at %s: %w", flags.natsURL, err)
	}
	defer natsConnection.Close()

	client := &client{
		natsConnection: natsConnection,
		subject:        flags.subject,
	}

	return dispatch(client, flags)
}

func dispatch(c *client, flags appFlags) error {
	switch {
	case flags.health:
		return c.health()
	case flags.list:
		return c.listVoices()
	case flags.status != "":
		return c.printReply(map[string]any{"endpoint": "status", "job_id": flags.status})
	case flags.result != "":
		return c.printReply(map[string]any{"endpoint": "result", "job_id": flags.result})
	case flags.upload != "":
		return c.uploadVoice(flags.upload, flags.name)
	case flags.text != "":
		return c.synthesize(flags)
	default:
		flag.Usage()

		return errors.New("nothing to do: provide --text, --list, --status, --result, --upload or --health")
	}
}

func parseFlags() appFlags {
	var flags appFlags

	flag.StringVar(&flags.natsURL, "nats", nats.DefaultURL, flagNATSDesc)
	flag.StringVar(&flags.subject, "subject", "voiceclone.requests", flagSubjectDesc)
	flag.StringVar(&flags.text, "text", "", flagTextDesc)
	flag.StringVar(&flags.voice, "voice", "", flagVoiceDesc)
	flag.StringVar(&flags.voiceURL, "voice-url", "", flagVoiceURLDesc)
	flag.Float64Var(&flags.speed, "speed", 0, flagSpeedDesc)
	flag.BoolVar(&flags.timings, "timings", false, flagTimingsDesc)
	flag.StringVar(&flags.format, "format", "srt", flagFormatDesc)
	flag.StringVar(&flags.output, "output", "output.wav", flagOutputDesc)
	flag.BoolVar(&flags.wait, "wait", false, flagWaitDesc)
	flag.BoolVar(&flags.list, "list", false, flagListDesc)
	flag.StringVar(&flags.status, "status", "", flagStatusDesc)
	flag.StringVar(&flags.result, "result", "", flagResultDesc)
	flag.StringVar(&flags.upload, "upload", "", flagUploadDesc)
	flag.StringVar(&flags.name, "name", "", flagNameDesc)
	flag.BoolVar(&flags.health, "health", false, flagHealthDesc)
	flag.Parse()

	return flags
}

type client struct {
	natsConnection *nats.Conn
	subject        string
}

// request sends one envelope and decodes the JSON reply. An {"error": ...}
// reply becomes a Go error.
func (c *client) request(fields map[string]any) (map[string]any, error) {
	fields["header"] = router.NewRequestHeader("")

	data, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	msg, err := c.natsConnection.Request(c.subject, data, requestTimeout)
	if err != nil {
		return nil, fmt.Errorf("request on %s failed: %w", c.subject, err)
	}

	var reply map[string]any

	err = json.Unmarshal(msg.Data, &reply)
	if err != nil {
		return nil, fmt.Errorf("failed to decode reply: %w", err)
	}

	if errMsg, ok := reply["error"].(string); ok {
		return nil, errors.New(errMsg)
	}

	return reply, nil
}

func (c *client) printReply(fields map[string]any) error {
	reply, err := c.request(fields)
	if err != nil {
		return err
	}

	pretty, err := json.MarshalIndent(reply, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to format reply: %w", err)
	}

	fmt.Println(string(pretty))

	return nil
}

func (c *client) health() error {
	_, err := c.request(map[string]any{"endpoint": "health"})
	if err != nil {
		return err
	}

	fmt.Println("voiceclone-service is healthy")

	return nil
}

func (c *client) listVoices() error {
	return c.printReply(map[string]any{"endpoint": "list_voices"})
}

func (c *client) uploadVoice(path, name string) error {
	audio, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	if name == "" {
		name = filepath.Base(path)
	}

	fields := map[string]any{
		"endpoint":   "upload",
		"voice_name": name,
		"voice_data": base64.StdEncoding.EncodeToString(audio),
	}

	// A same-stem transcript next to the audio file rides along.
	transcriptPath := ttsutils.StemOf(path) + ".txt"

	transcript, readErr := os.ReadFile(transcriptPath)
	if readErr == nil {
		fields["transcript_data"] = string(transcript)
	}

	return c.printReply(fields)
}

func (c *client) synthesize(flags appFlags) error {
	fields := map[string]any{
		"text":                flags.text,
		"return_word_timings": flags.timings,
		"timing_format":       flags.format,
	}

	if flags.voiceURL != "" {
		fields["voice_file_url"] = flags.voiceURL
	} else if flags.voice != "" {
		fields["local_voice"] = flags.voice
	}

	if flags.speed > 0 {
		fields["speed"] = flags.speed
	}

	reply, err := c.request(fields)
	if err != nil {
		return err
	}

	jobID, _ := reply["job_id"].(string)
	fmt.Printf("Queued job: %s\n", jobID)

	if !flags.wait {
		return nil
	}

	return c.waitAndDownload(jobID, flags.output)
}

func (c *client) waitAndDownload(jobID, outputPath string) error {
	result, err := c.pollResult(jobID)
	if err != nil {
		return err
	}

	audioKey, _ := result["audio_key"].(string)
	if audioKey == "" {
		return errors.New("completed job has no audio key")
	}

	reply, err := c.request(map[string]any{"endpoint": "download", "key": audioKey})
	if err != nil {
		return err
	}

	encoded, _ := reply["data"].(string)

	audio, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return fmt.Errorf("failed to decode downloaded audio: %w", err)
	}

	err = os.WriteFile(outputPath, audio, 0o600)
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", outputPath, err)
	}

	fmt.Printf("Generated: %s\n", outputPath)

	return nil
}

func (c *client) pollResult(jobID string) (map[string]any, error) {
	deadline := time.Now().Add(pollDeadline)

	for time.Now().Before(deadline) {
		reply, err := c.request(map[string]any{"endpoint": "status", "job_id": jobID})
		if err != nil {
			return nil, err
		}

		switch reply["status"] {
		case "COMPLETED":
			full, err := c.request(map[string]any{"endpoint": "result", "job_id": jobID})
			if err != nil {
				return nil, err
			}

			result, _ := full["result"].(map[string]any)

			return result, nil
		case "FAILED":
			message, _ := reply["error"].(string)

			return nil, fmt.Errorf("%w: %s", errJobFailed, message)
		default:
			time.Sleep(pollInterval)
		}
	}

	return nil, fmt.Errorf("timed out waiting for job %s", jobID)
}
