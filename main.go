package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	"twin/audio"
	"twin/chat"
	"twin/config"
	"twin/doctor"
	"twin/log"
	"twin/shutdown"
	"twin/transcriber"
)

var version = "dev"

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

type flags struct {
	config, server, mode, device, stt, lang, logPath string
	level                                            int
	setup, noCues, script, doctor, version           bool
	set                                              map[string]bool
}

func parseFlags(args []string, stderr io.Writer) (*flags, []string, error) {
	fs := flag.NewFlagSet("twin", flag.ContinueOnError)
	fs.SetOutput(stderr)
	f := &flags{set: map[string]bool{}}
	fs.StringVar(&f.config, "config", "", "config file (default: <user config dir>/twin/config.toml)")
	fs.StringVar(&f.server, "server", "", "agent server URL")
	fs.StringVar(&f.mode, "mode", "", "interviewer persona: hr or tech_lead")
	fs.IntVar(&f.level, "level", int(chat.DefaultLevel), "seniority: 0 Junior, 1 Middle, 2 Senior, 3 CTO")
	fs.StringVar(&f.device, "device", "", "use named microphone device")
	fs.BoolVar(&f.setup, "setup", false, "pick the microphone interactively")
	fs.StringVar(&f.stt, "stt", "", "speech-to-text provider: groq, openai, deepgram or none")
	fs.StringVar(&f.lang, "lang", "", "language code for dictation (e.g. en, es); empty = auto-detect")
	fs.StringVar(&f.logPath, "logpath", "", "log directory (default: OS-specific location, use ./ for current dir)")
	fs.BoolVar(&f.noCues, "nocues", false, "disable dictation start/stop sounds")
	fs.BoolVar(&f.script, "script", false, "headless mode: read messages and commands from stdin")
	fs.BoolVar(&f.doctor, "doctor", false, "run diagnostics and exit")
	fs.BoolVar(&f.version, "version", false, "print version and exit")
	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}
	fs.Visit(func(fl *flag.Flag) { f.set[fl.Name] = true })
	return f, fs.Args(), nil
}

// apply lays explicitly set flags over the file and environment.
func (f *flags) apply(cfg *config.Config) {
	if f.set["server"] {
		cfg.ServerURL = f.server
	}
	if f.set["mode"] {
		cfg.Mode = f.mode
	}
	if f.set["level"] {
		cfg.Level = f.level
	}
	if f.set["device"] {
		cfg.Device = f.device
	}
	if f.set["stt"] {
		cfg.STTProvider = f.stt
	}
	if f.set["lang"] {
		cfg.Language = f.lang
	}
	if f.noCues {
		cfg.Cues = false
	}
}

func loadConfig(f *flags) (*config.Config, error) {
	var cfg *config.Config
	var err error
	if f.config != "" {
		cfg, err = config.Load(f.config)
	} else {
		cfg, err = config.LoadDefault()
	}
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv()
	f.apply(cfg)
	return cfg, cfg.Validate()
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	f, rest, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if f.version {
		fmt.Fprintf(stdout, "twin %s\n", version)
		return 0
	}

	logPath, err := log.ResolveDir(f.logPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: failed to resolve log directory: %v\n", err)
		return 1
	}
	log.SetDir(logPath)
	if err := log.EnsureDir(); err != nil {
		fmt.Fprintf(stderr, "Warning: could not create log directory: %v\n", err)
	}
	setCrashOutput()

	cfg, err := loadConfig(f)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	ctx, stop := shutdown.Context(context.Background())
	defer stop()

	if f.doctor {
		actx, aerr := audio.NewContext()
		if actx != nil {
			defer actx.Close()
		}
		return doctor.Run(ctx, stdout, doctor.Options{
			Config:   cfg,
			Audio:    actx,
			AudioErr: aerr,
			Record:   3 * time.Second,
		})
	}

	if err := log.Init(); err != nil {
		fmt.Fprintf(stderr, "Warning: could not init logging: %v\n", err)
	}
	defer log.Close()

	tr := newTranscriber(cfg)
	stt := config.ProviderNone
	if tr != nil {
		stt = tr.Name()
	}
	log.SessionStart(cfg.ServerURL, cfg.Mode, chat.Level(cfg.Level).String(), stt)

	if f.script {
		actx := audio.NewFakeContext(nil, false)
		if len(rest) > 0 {
			if actx, err = audio.LoadFakeContext(rest[0], true); err != nil {
				fmt.Fprintf(stderr, "Error loading WAV: %v\n", err)
				return 1
			}
		}
		return runScript(ctx, cfg, actx, tr, stdin, stdout)
	}

	actx, err := audio.NewContext()
	if err != nil {
		log.Warnf("audio unavailable, dictation and playback disabled: %v", err)
		fmt.Fprintf(stderr, "Warning: audio unavailable: %v\n", err)
	} else {
		defer actx.Close()
		if f.setup && cfg.Device == "" {
			dev, err := audio.SelectDevice(actx, stdout)
			switch {
			case errors.Is(err, audio.ErrCancelled):
				return 0
			case err != nil:
				log.Warnf("device selection failed: %v", err)
				fmt.Fprintf(stderr, "Warning: device selection failed: %v, using the default device\n", err)
			default:
				cfg.Device = dev.Name
			}
		}
	}

	if err := runTUI(ctx, cfg, actx, tr); err != nil {
		log.Errorf("TUI error: %v", err)
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// newTranscriber returns nil when dictation is off or misconfigured.
func newTranscriber(cfg *config.Config) transcriber.Transcriber {
	provider := cfg.ResolveProvider()
	if provider == config.ProviderNone {
		log.Info("dictation disabled: no speech-to-text provider")
		return nil
	}
	tr, err := transcriber.New(provider, cfg.APIKey(provider))
	if err != nil {
		log.Warnf("dictation disabled: %v", err)
		return nil
	}
	return tr
}

func setCrashOutput() {
	crashPath := filepath.Join(log.Dir(), "crash_log.txt")
	crashFile, err := os.OpenFile(crashPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return
	}
	fmt.Fprintf(crashFile, "\n=== Session %s [pid=%d] ===\n", time.Now().Format("2006-01-02 15:04:05"), os.Getpid())
	debug.SetCrashOutput(crashFile, debug.CrashOptions{})
}
