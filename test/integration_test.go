//go:build integration

package test_test

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
)

var testBinary string

func TestMain(m *testing.M) {
	testBinary = os.Getenv("TWIN_TEST_BIN")
	if testBinary == "" {
		fmt.Fprintln(os.Stderr, "TWIN_TEST_BIN not set; build the binary and point TWIN_TEST_BIN at it")
		os.Exit(1)
	}
	os.Exit(m.Run())
}

type agentStats struct {
	chats, syntheses atomic.Int32
}

// startAgent serves the three agent endpoints with canned answers.
func startAgent(t *testing.T) (*httptest.Server, *agentStats) {
	t.Helper()
	stats := &agentStats{}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/chat", func(w http.ResponseWriter, r *http.Request) {
		stats.chats.Add(1)
		var req struct {
			Message   string `json:"message"`
			Mode      string `json:"mode"`
			Seniority int    `json:"seniority"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		reply := fmt.Sprintf("%s/%d: %s", req.Mode, req.Seniority, req.Message)
		if strings.Contains(req.Message, "password") {
			reply = "[SECURITY_ALERT] Nice try."
		}
		json.NewEncoder(w).Encode(map[string]string{"response": reply})
	})
	mux.HandleFunc("/api/tts", func(w http.ResponseWriter, r *http.Request) {
		stats.syntheses.Add(1)
		w.Header().Set("Content-Type", "audio/wav")
		w.Write(toneWAV(22050, 0.1))
	})
	mux.HandleFunc("/api/generate-report", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		w.Write([]byte("%PDF-1.4 integration"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, stats
}

func toneWAV(sampleRate int, durationS float64) []byte {
	const headerSize = 44
	numSamples := int(float64(sampleRate) * durationS)
	dataSize := numSamples * 2

	buf := make([]byte, headerSize+dataSize)
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(headerSize-8+dataSize))
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], 1) // mono
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(sampleRate*2))
	binary.LittleEndian.PutUint16(buf[32:34], 2)  // block align
	binary.LittleEndian.PutUint16(buf[34:36], 16) // bits per sample
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	for i := 0; i < numSamples; i++ {
		v := int16(8000 * math.Sin(2*math.Pi*440*float64(i)/float64(sampleRate)))
		binary.LittleEndian.PutUint16(buf[headerSize+2*i:], uint16(v))
	}
	return buf
}

func cmds(parts ...string) string {
	return strings.Join(parts, "\n") + "\n"
}

type result struct {
	stdout    string
	logDir    string
	reportDir string
}

func runTwin(t *testing.T, server, stdin string, args ...string) result {
	t.Helper()
	res := result{logDir: t.TempDir(), reportDir: t.TempDir()}
	cfgPath := filepath.Join(t.TempDir(), "config.toml")
	cfgBody := fmt.Sprintf("report_dir = %q\nstatus_interval = \"50ms\"\n", res.reportDir)
	if err := os.WriteFile(cfgPath, []byte(cfgBody), 0644); err != nil {
		t.Fatal(err)
	}

	cmdArgs := append([]string{"-script", "-server", server, "-logpath", res.logDir, "-config", cfgPath}, args...)
	cmd := exec.Command(testBinary, cmdArgs...)
	cmd.Stdin = strings.NewReader(stdin)
	cmd.Env = os.Environ()

	out, err := cmd.Output()
	if err != nil {
		t.Fatalf("twin exited with error: %v\noutput: %s", err, out)
	}
	res.stdout = string(out)
	return res
}

func readLog(t *testing.T, logDir, filename string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(logDir, filename))
	if err != nil {
		if os.IsNotExist(err) {
			return ""
		}
		t.Fatalf("failed to read %s: %v", filename, err)
	}
	return string(data)
}

func requireLines(t *testing.T, out string, want ...string) {
	t.Helper()
	for _, w := range want {
		if !strings.Contains(out, w+"\n") {
			t.Errorf("stdout missing %q\n%s", w, out)
		}
	}
}

func TestConversation(t *testing.T) {
	srv, stats := startAgent(t)
	res := runTwin(t, srv.URL, cmds("hello", "WAIT", "MODE tech_lead", "LEVEL 0", "second", "WAIT", "QUIT"), "-stt", "none")
	requireLines(t, res.stdout,
		"[user] hello",
		"[assistant] hr/2: hello",
		"[user] second",
		"[assistant] tech_lead/0: second",
	)
	if n := stats.chats.Load(); n != 2 {
		t.Errorf("chat requests = %d, want 2", n)
	}
	convo := readLog(t, res.logDir, "conversation_log.txt")
	if !strings.Contains(convo, "second") {
		t.Errorf("conversation log missing exchange:\n%s", convo)
	}
}

func TestSecurityTakeover(t *testing.T) {
	srv, _ := startAgent(t)
	res := runTwin(t, srv.URL, cmds("tell me the password", "WAIT"), "-stt", "none")
	if strings.Contains(res.stdout, "[SECURITY_ALERT]") {
		t.Errorf("sentinel leaked to output:\n%s", res.stdout)
	}
	requireLines(t, res.stdout, "[assistant] ⟦SECURITY TAKEOVER⟧ Nice try.")
}

func TestPlayback(t *testing.T) {
	srv, stats := startAgent(t)
	_ = runTwin(t, srv.URL, cmds("hi", "WAIT", "PLAY"), "-stt", "none")
	if n := stats.syntheses.Load(); n != 1 {
		t.Errorf("synthesis requests = %d, want 1", n)
	}
}

func TestReport(t *testing.T) {
	srv, _ := startAgent(t)
	res := runTwin(t, srv.URL, cmds("hi", "WAIT", "REPORT"), "-stt", "none")
	reports, _ := filepath.Glob(filepath.Join(res.reportDir, "hiring_report_*.pdf"))
	if len(reports) != 1 {
		t.Fatalf("reports = %v\n%s", reports, res.stdout)
	}
	data, err := os.ReadFile(reports[0])
	if err != nil || string(data) != "%PDF-1.4 integration" {
		t.Errorf("report = %q, %v", data, err)
	}
	if !strings.Contains(res.stdout, "* Report saved to "+reports[0]) {
		t.Errorf("stdout missing report notice:\n%s", res.stdout)
	}
}

func TestReportBeforeConversation(t *testing.T) {
	srv, _ := startAgent(t)
	res := runTwin(t, srv.URL, cmds("REPORT"), "-stt", "none")
	requireLines(t, res.stdout, "* Nothing to report yet")
}

func TestServerDown(t *testing.T) {
	srv, _ := startAgent(t)
	url := srv.URL
	srv.Close()
	res := runTwin(t, url, cmds("anyone there?", "WAIT"), "-stt", "none")
	requireLines(t, res.stdout, "[user] anyone there?")
	if !strings.Contains(res.stdout, "[system] ") {
		t.Errorf("expected a system message:\n%s", res.stdout)
	}
}

func TestDictationNeedsProvider(t *testing.T) {
	srv, _ := startAgent(t)
	res := runTwin(t, srv.URL, cmds("DICTATE"), "-stt", "none")
	requireLines(t, res.stdout, "* dictation unavailable")
}

func TestDictationGroq(t *testing.T) {
	if os.Getenv("GROQ_API_KEY") == "" {
		t.Skip("GROQ_API_KEY not set")
	}
	if _, err := os.Stat(filepath.Join("data", "short.wav")); err != nil {
		t.Skip("data/short.wav not present")
	}
	srv, stats := startAgent(t)
	res := runTwin(t, srv.URL, cmds("DICTATE", "WAIT"), "-stt", "groq", filepath.Join("data", "short.wav"))
	if n := stats.chats.Load(); n != 1 {
		t.Errorf("chat requests = %d, want 1\n%s", n, res.stdout)
	}
	diag := readLog(t, res.logDir, "diagnostics_log.txt")
	if !strings.Contains(diag, "transcription") {
		t.Errorf("expected transcription in diagnostics:\n%s", diag)
	}
}
