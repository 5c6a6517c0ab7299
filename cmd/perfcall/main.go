package main

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/antoniostano/storageagent/internal/audio"
	"github.com/antoniostano/storageagent/internal/observability"
	"github.com/antoniostano/storageagent/internal/protocol"
)

type options struct {
	baseURL        string
	from           string
	calls          int
	concurrency    int
	turns          int
	recording      bool
	watch          bool
	interTurnDelay time.Duration
	turnTimeout    time.Duration
	texts          []string
	verbose        bool
}

type wsEnvelope struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	Turn      int    `json:"turn,omitempty"`
	Intent    string `json:"intent,omitempty"`
	Code      string `json:"code,omitempty"`
	Detail    string `json:"detail,omitempty"`
}

var defaultUtterances = []string{
	"what unit sizes do you have available",
	"I need a 10 by 10 unit",
	"how much would it be for 3 months",
	"what are your hours",
}

type report struct {
	mu        sync.Mutex
	latencies []time.Duration
	failures  int
}

func (r *report) add(d time.Duration) {
	r.mu.Lock()
	r.latencies = append(r.latencies, d)
	r.mu.Unlock()
}

func (r *report) fail() {
	r.mu.Lock()
	r.failures++
	r.mu.Unlock()
}

func main() {
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "perfcall: %v\n", err)
		os.Exit(2)
	}
	if err := run(context.Background(), cfg, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "perfcall: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags(args []string) (options, error) {
	var cfg options
	var textsRaw string
	var interTurnMS int
	var turnTimeoutMS int

	fs := flag.NewFlagSet("perfcall", flag.ContinueOnError)
	fs.StringVar(&cfg.baseURL, "base-url", "http://127.0.0.1:8000", "storage agent base URL")
	fs.StringVar(&cfg.from, "from", "+15550100000", "caller number sent with every webhook")
	fs.IntVar(&cfg.calls, "calls", 1, "number of simulated calls")
	fs.IntVar(&cfg.concurrency, "concurrency", 1, "calls in flight at once")
	fs.IntVar(&cfg.turns, "turns", 4, "turns per call")
	fs.BoolVar(&cfg.recording, "recording", false, "send synthetic audio to the recording webhook instead of speech text")
	fs.BoolVar(&cfg.watch, "watch", false, "wait for each turn on the monitor websocket")
	fs.IntVar(&interTurnMS, "inter-turn-ms", 0, "delay between turns in milliseconds")
	fs.IntVar(&turnTimeoutMS, "turn-timeout-ms", 5000, "timeout per turn in milliseconds")
	fs.StringVar(&textsRaw, "texts", "", "utterances separated by '|' (optional)")
	fs.BoolVar(&cfg.verbose, "verbose", false, "print per-turn progress")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	if cfg.baseURL == "" {
		return options{}, fmt.Errorf("base-url is required")
	}
	if cfg.calls <= 0 || cfg.turns <= 0 {
		return options{}, fmt.Errorf("calls and turns must be > 0")
	}
	if cfg.concurrency <= 0 {
		cfg.concurrency = 1
	}
	if interTurnMS < 0 {
		interTurnMS = 0
	}
	if turnTimeoutMS < 100 {
		turnTimeoutMS = 100
	}
	cfg.interTurnDelay = time.Duration(interTurnMS) * time.Millisecond
	cfg.turnTimeout = time.Duration(turnTimeoutMS) * time.Millisecond

	if strings.TrimSpace(textsRaw) == "" {
		cfg.texts = append([]string(nil), defaultUtterances...)
	} else {
		for _, part := range strings.Split(textsRaw, "|") {
			if t := strings.TrimSpace(part); t != "" {
				cfg.texts = append(cfg.texts, t)
			}
		}
		if len(cfg.texts) == 0 {
			return options{}, fmt.Errorf("texts produced no non-empty utterances")
		}
	}
	return cfg, nil
}

func run(ctx context.Context, cfg options, out io.Writer) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Minute)
	defer cancel()

	client := &http.Client{Timeout: cfg.turnTimeout}
	rep := &report{}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.concurrency)
	for i := 0; i < cfg.calls; i++ {
		g.Go(func() error {
			return placeCall(gctx, client, cfg, rep, out)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	p50, p95, maxLatency := latencySummary(rep.latencies)
	fmt.Fprintf(out, "perfcall: calls=%d turns=%d failures=%d client_p50_ms=%.1f client_p95_ms=%.1f client_max_ms=%.1f\n",
		cfg.calls, len(rep.latencies), rep.failures, ms(p50), ms(p95), ms(maxLatency))

	snap, err := fetchStages(ctx, client, cfg.baseURL)
	if err != nil {
		return fmt.Errorf("fetch server latency: %w", err)
	}
	for _, st := range snap.Stages {
		fmt.Fprintf(out, "perfcall: stage=%s samples=%d p50_ms=%.2f p95_ms=%.2f target_p95_ms=%.0f\n",
			st.Stage, st.Samples, st.P50MS, st.P95MS, st.TargetP95MS)
	}
	if rep.failures > 0 {
		return fmt.Errorf("%d turns failed", rep.failures)
	}
	return nil
}

func newCallSID() string {
	return "CA" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

func placeCall(ctx context.Context, client *http.Client, cfg options, rep *report, out io.Writer) error {
	callSID := newCallSID()

	var turnCh chan wsEnvelope
	readErrCh := make(chan error, 1)
	if cfg.watch {
		conn, err := openMonitor(ctx, cfg.baseURL, callSID, cfg.turnTimeout)
		if err != nil {
			return fmt.Errorf("open monitor: %w", err)
		}
		defer conn.Close()
		turnCh = make(chan wsEnvelope, cfg.turns)
		go readLoop(conn, turnCh, readErrCh, cfg.verbose, out)
	}

	base := url.Values{"CallSid": {callSID}, "From": {cfg.from}}
	if _, err := postForm(ctx, client, cfg.baseURL+"/api/voice/incoming", base); err != nil {
		return fmt.Errorf("incoming: %w", err)
	}
	defer func() {
		end := url.Values{"CallSid": {callSID}, "CallStatus": {"completed"}}
		_, _ = postForm(context.Background(), client, cfg.baseURL+"/api/voice/status", end)
	}()

	for i := 0; i < cfg.turns; i++ {
		text := cfg.texts[i%len(cfg.texts)]
		start := time.Now()
		var err error
		if cfg.recording {
			_, err = postRecording(ctx, client, cfg.baseURL, callSID, synthClip(text))
		} else {
			form := url.Values{"CallSid": {callSID}, "From": {cfg.from}, "SpeechResult": {text}, "Confidence": {"0.9"}}
			_, err = postForm(ctx, client, cfg.baseURL+"/api/voice/process", form)
		}
		if err == nil && cfg.watch {
			var ev wsEnvelope
			ev, err = awaitTurn(turnCh, readErrCh, cfg.turnTimeout)
			if err == nil && cfg.verbose {
				fmt.Fprintf(out, "perfcall: call=%s turn=%d intent=%s\n", callSID, ev.Turn, ev.Intent)
			}
		}
		if err != nil {
			rep.fail()
			fmt.Fprintf(out, "perfcall: call=%s turn=%d failed: %v\n", callSID, i+1, err)
			continue
		}
		rep.add(time.Since(start))
		if cfg.interTurnDelay > 0 && i < cfg.turns-1 {
			time.Sleep(cfg.interTurnDelay)
		}
	}
	return nil
}

func postForm(ctx context.Context, client *http.Client, target string, form url.Values) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return do(client, req)
}

func postRecording(ctx context.Context, client *http.Client, baseURL, callSID string, wav []byte) (string, error) {
	target := baseURL + "/api/voice/recording?" + url.Values{"CallSid": {callSID}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(wav))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "audio/wav")
	return do(client, req)
}

func do(client *http.Client, req *http.Request) (string, error) {
	res, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if res.StatusCode != http.StatusOK && res.StatusCode != http.StatusNoContent {
		return "", fmt.Errorf("status=%d body=%s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	return string(body), nil
}

// synthClip builds a short 16 kHz tone whose length follows the utterance,
// long enough to pass the server's clip validation.
func synthClip(text string) []byte {
	samples := audio.DefaultSampleRate / 2
	if n := len(text) * 160; n > samples {
		samples = n
	}
	pcm := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		v := int16(3000 * math.Sin(2*math.Pi*220*float64(i)/float64(audio.DefaultSampleRate)))
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(v))
	}
	return audio.EncodeWAVPCM16LE(pcm, audio.DefaultSampleRate)
}

func monitorURL(baseURL, callSID string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", err
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported base-url scheme %q", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return "", fmt.Errorf("base-url host is required")
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/api/monitor/ws"
	q := u.Query()
	q.Set("session_id", callSID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// openMonitor dials the monitor stream and waits until the server has
// acknowledged the subscription, so no turn event can be missed.
func openMonitor(ctx context.Context, baseURL, callSID string, timeout time.Duration) (*websocket.Conn, error) {
	wsURL, err := monitorURL(baseURL, callSID)
	if err != nil {
		return nil, err
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, err
	}
	sub := protocol.Subscribe{Type: protocol.TypeSubscribe, SessionID: callSID}
	if err := conn.WriteJSON(sub); err != nil {
		conn.Close()
		return nil, err
	}
	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	for {
		var env wsEnvelope
		if err := conn.ReadJSON(&env); err != nil {
			conn.Close()
			return nil, err
		}
		if env.Type == string(protocol.TypeSystemEvent) && env.Code == "subscribed" {
			_ = conn.SetReadDeadline(time.Time{})
			return conn, nil
		}
	}
}

func readLoop(conn *websocket.Conn, turnCh chan<- wsEnvelope, readErrCh chan<- error, verbose bool, out io.Writer) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case readErrCh <- err:
			default:
			}
			return
		}

		var env wsEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		switch env.Type {
		case string(protocol.TypeTurnProcessed):
			select {
			case turnCh <- env:
			default:
			}
		case string(protocol.TypeErrorEvent):
			if verbose {
				fmt.Fprintf(out, "perfcall: error_event call=%s code=%s detail=%s\n", env.SessionID, env.Code, env.Detail)
			}
		}
	}
}

func awaitTurn(turnCh <-chan wsEnvelope, readErrCh <-chan error, timeout time.Duration) (wsEnvelope, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case ev := <-turnCh:
		return ev, nil
	case err := <-readErrCh:
		return wsEnvelope{}, err
	case <-timer.C:
		return wsEnvelope{}, fmt.Errorf("no turn_processed event after %s", timeout)
	}
}

func fetchStages(ctx context.Context, client *http.Client, baseURL string) (observability.TurnStageSnapshot, error) {
	var snap observability.TurnStageSnapshot
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/api/perf/latency", nil)
	if err != nil {
		return snap, err
	}
	body, err := do(client, req)
	if err != nil {
		return snap, err
	}
	if err := json.Unmarshal([]byte(body), &snap); err != nil {
		return snap, err
	}
	return snap, nil
}

func latencySummary(samples []time.Duration) (p50, p95, maxLatency time.Duration) {
	if len(samples) == 0 {
		return 0, 0, 0
	}
	sorted := append([]time.Duration(nil), samples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	at := func(q float64) time.Duration {
		idx := int(math.Ceil(q*float64(len(sorted)))) - 1
		if idx < 0 {
			idx = 0
		}
		return sorted[idx]
	}
	return at(0.50), at(0.95), sorted[len(sorted)-1]
}

func ms(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}
