// Package log writes twin's diagnostics and conversation logs.
//
// Everything is a no-op until Init succeeds, so packages can log freely in
// tests and in -doctor mode.
package log

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	DiagnosticsFile  = "diagnostics_log.txt"
	ConversationFile = "conversation_log.txt"
)

var (
	diagLog   zerolog.Logger
	diagFile  *os.File
	convoFile *os.File
	logMu     sync.Mutex
	logReady  bool
	pid       int
	dir       string
)

// ResolveDir picks the log directory: -logpath flag, then TWIN_LOG_PATH,
// then the OS default. Relative paths resolve against the working directory.
func ResolveDir(flagPath string) (string, error) {
	for _, p := range []string{flagPath, os.Getenv("TWIN_LOG_PATH")} {
		if p == "" {
			continue
		}
		if filepath.IsAbs(p) {
			return p, nil
		}
		wd, err := os.Getwd()
		if err != nil {
			return "", err
		}
		return filepath.Join(wd, p), nil
	}
	return getDefaultDir()
}

func SetDir(d string) { dir = d }

func Dir() string { return dir }

func EnsureDir() error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	return nil
}

func Init() error {
	logMu.Lock()
	defer logMu.Unlock()

	if err := EnsureDir(); err != nil {
		return err
	}
	pid = os.Getpid()

	var err error
	diagFile, err = os.OpenFile(filepath.Join(dir, DiagnosticsFile), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	convoFile, err = os.OpenFile(filepath.Join(dir, ConversationFile), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		diagFile.Close()
		diagFile = nil
		return err
	}

	consoleWriter := zerolog.ConsoleWriter{
		Out:        diagFile,
		TimeFormat: "2006-01-02 15:04:05",
		NoColor:    true,
	}
	diagLog = zerolog.New(consoleWriter).With().Timestamp().Int("pid", pid).Logger()

	logReady = true
	return nil
}

func Close() {
	logMu.Lock()
	defer logMu.Unlock()
	if diagFile != nil {
		diagFile.Close()
		diagFile = nil
	}
	if convoFile != nil {
		convoFile.Close()
		convoFile = nil
	}
	logReady = false
}

func Info(msg string) {
	if logReady {
		diagLog.Info().Msg(msg)
	}
}

func Infof(format string, args ...any) {
	if logReady {
		diagLog.Info().Msg(fmt.Sprintf(format, args...))
	}
}

func Error(msg string) {
	if logReady {
		diagLog.Error().Msg(msg)
	}
}

func Errorf(format string, args ...any) {
	if logReady {
		diagLog.Error().Msg(fmt.Sprintf(format, args...))
	}
}

func Warn(msg string) {
	if logReady {
		diagLog.Warn().Msg(msg)
	}
}

func Warnf(format string, args ...any) {
	if logReady {
		diagLog.Warn().Msg(fmt.Sprintf(format, args...))
	}
}

// Conversation appends one transcript message. Newlines are flattened so
// each message stays on one line.
func Conversation(role, text string) {
	if !logReady {
		return
	}
	logMu.Lock()
	defer logMu.Unlock()
	if convoFile == nil {
		return
	}
	flat := strings.Join(strings.Fields(text), " ")
	line := fmt.Sprintf("%s\t[%d]\t%s\t%s\n", time.Now().Format("2006-01-02 15:04:05"), pid, role, flat)
	convoFile.WriteString(line)
}

// CycleData describes one chat request.
type CycleData struct {
	ID        string
	Seq       uint64
	Mode      string
	Level     int
	Outcome   string
	Kind      string
	Stale     bool
	LatencyMs float64
	TTFBMs    float64
	ConnReuse bool
}

func CycleMetrics(m CycleData) {
	if !logReady {
		return
	}
	conn := "new"
	if m.ConnReuse {
		conn = "reused"
	}
	diagLog.Info().
		Str("cycle", m.ID).
		Uint64("seq", m.Seq).
		Str("mode", m.Mode).
		Int("level", m.Level).
		Str("outcome", m.Outcome).
		Str("kind", m.Kind).
		Bool("stale", m.Stale).
		Str("conn", conn).
		Float64("ttfb_ms", m.TTFBMs).
		Float64("latency_ms", m.LatencyMs).
		Msg("chat_cycle")
}

type PlaybackData struct {
	Format     string
	SampleRate int
	Channels   int
	AudioKB    float64
	FetchMs    float64
	PlayedS    float64
	Reason     string
}

func PlaybackMetrics(m PlaybackData) {
	if !logReady {
		return
	}
	diagLog.Info().
		Str("format", m.Format).
		Int("rate", m.SampleRate).
		Int("channels", m.Channels).
		Float64("audio_kb", m.AudioKB).
		Float64("fetch_ms", m.FetchMs).
		Float64("played_s", m.PlayedS).
		Str("reason", m.Reason).
		Msg("playback")
}

type TranscriptionData struct {
	Provider     string
	AudioLengthS float64
	RawSizeKB    float64
	UploadKB     float64
	EncodeTimeMs float64
	TTFBMs       float64
	TotalTimeMs  float64
	ConnReused   bool
}

func TranscriptionMetrics(m TranscriptionData) {
	if !logReady {
		return
	}
	conn := "new"
	if m.ConnReused {
		conn = "reused"
	}
	diagLog.Info().
		Str("provider", m.Provider).
		Str("conn", conn).
		Float64("audio_s", m.AudioLengthS).
		Float64("raw_kb", m.RawSizeKB).
		Float64("upload_kb", m.UploadKB).
		Float64("encode_ms", m.EncodeTimeMs).
		Float64("ttfb_ms", m.TTFBMs).
		Float64("total_ms", m.TotalTimeMs).
		Msg("transcription")
}

type StreamMetricsData struct {
	ConnectMs    float64
	FinalizeMs   float64
	TotalMs      float64
	AudioS       float64
	SentChunks   int
	SentKB       float64
	RecvMessages int
	RecvFinal    int
}

func StreamMetrics(m StreamMetricsData) {
	if !logReady {
		return
	}
	diagLog.Info().
		Float64("connect_ms", m.ConnectMs).
		Float64("finalize_ms", m.FinalizeMs).
		Float64("total_ms", m.TotalMs).
		Float64("audio_s", m.AudioS).
		Int("sent_chunks", m.SentChunks).
		Float64("sent_kb", m.SentKB).
		Int("recv_messages", m.RecvMessages).
		Int("recv_final", m.RecvFinal).
		Msg("stream_transcription")
}

func SessionStart(server, mode, level, stt string) {
	if !logReady {
		return
	}
	diagLog.Info().
		Str("server", server).
		Str("mode", mode).
		Str("level", level).
		Str("stt", stt).
		Msg("session_start")
}

// SessionEnd records how many messages the transcript held.
func SessionEnd(messages int) {
	if !logReady {
		return
	}
	diagLog.Info().Int("messages", messages).Msg("session_end")
}
