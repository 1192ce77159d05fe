package doctor

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"twin/audio"
	"twin/config"
	"twin/transcriber"
)

func server(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(srv.Close)
	return srv.URL
}

func run(t *testing.T, opts Options) (int, string) {
	t.Helper()
	var out bytes.Buffer
	opts.SkipClipboard = true
	code := Run(context.Background(), &out, opts)
	return code, out.String()
}

func TestRunAllPass(t *testing.T) {
	cfg := config.Default()
	cfg.ServerURL = server(t)

	code, out := run(t, Options{
		Config:      cfg,
		Audio:       audio.NewFakeContext(make([]byte, 3200), false),
		Transcriber: &transcriber.FakeTranscriber{Text: "hello there"},
		Record:      30 * time.Millisecond,
	})
	if code != 0 {
		t.Fatalf("exit code = %d\n%s", code, out)
	}
	for _, want := range []string{
		"[1/5] Configuration",
		"PASS: HTTP 404",
		"PASS: 1 devices",
		"PASS: played a test tick",
		`PASS: heard "hello there"`,
		"All checks passed!",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q\n%s", want, out)
		}
	}
}

func TestRunServerDown(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	cfg := config.Default()
	cfg.ServerURL = srv.URL

	code, out := run(t, Options{Config: cfg, Audio: audio.NewFakeContext(nil, false)})
	if code != 1 {
		t.Errorf("exit code = %d, want 1", code)
	}
	if !strings.Contains(out, "FAIL: "+srv.URL+" unreachable") {
		t.Errorf("output missing server failure\n%s", out)
	}
	if !strings.Contains(out, "1 of 5 checks failed.") {
		t.Errorf("output missing summary\n%s", out)
	}
}

func TestRunWithoutAudio(t *testing.T) {
	cfg := config.Default()
	cfg.ServerURL = server(t)

	code, out := run(t, Options{Config: cfg, AudioErr: errors.New("no backend")})
	if code != 1 {
		t.Errorf("exit code = %d, want 1", code)
	}
	if !strings.Contains(out, "FAIL: cannot open audio: no backend") {
		t.Errorf("output missing audio failure\n%s", out)
	}
}

func TestNoProviderOnlyWarns(t *testing.T) {
	cfg := config.Default()
	cfg.ServerURL = server(t)
	cfg.STTProvider = config.ProviderNone

	code, out := run(t, Options{Config: cfg, Audio: audio.NewFakeContext(nil, false)})
	if code != 0 {
		t.Errorf("exit code = %d, want 0\n%s", code, out)
	}
	if !strings.Contains(out, "WARN: no provider configured") {
		t.Errorf("output missing provider warning\n%s", out)
	}
}

func TestMissingDeviceFails(t *testing.T) {
	cfg := config.Default()
	cfg.ServerURL = server(t)
	cfg.Device = "studio mic"

	code, out := run(t, Options{Config: cfg, Audio: audio.NewFakeContext(nil, false)})
	if code != 1 {
		t.Errorf("exit code = %d, want 1", code)
	}
	if !strings.Contains(out, `no capture device matching "studio mic"`) {
		t.Errorf("output missing device failure\n%s", out)
	}
}

func TestInvalidConfigFails(t *testing.T) {
	cfg := config.Default()
	cfg.ServerURL = server(t)
	cfg.Mode = "bogus"

	code, out := run(t, Options{Config: cfg, Audio: audio.NewFakeContext(nil, false)})
	if code != 1 {
		t.Errorf("exit code = %d, want 1", code)
	}
	if !strings.Contains(out, "FAIL: mode:") {
		t.Errorf("output missing config failure\n%s", out)
	}
}
