// Command loadtest drives a running server over its real protocol.
// Every simulated user holds a websocket and emits MESSAGE_CREATE
// frames at a fixed rate. Two latencies come out of it: how long the
// server takes to echo a user's own message back (write), and how old
// other users' messages are when they arrive (read).
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"parley/internal/models"
)

type options struct {
	addr     string
	users    int
	rate     float64
	duration time.Duration
	channel  string
}

func main() {
	var opts options
	flag.StringVar(&opts.addr, "addr", "http://localhost:8080", "server base URL")
	flag.IntVar(&opts.users, "users", 50, "concurrent simulated users")
	flag.Float64Var(&opts.rate, "rate", 1, "messages per second per user")
	flag.DurationVar(&opts.duration, "duration", 30*time.Second, "how long to run")
	flag.StringVar(&opts.channel, "channel", "global", "channel to flood")
	flag.Parse()

	if opts.users <= 0 || opts.rate <= 0 {
		log.Fatal("users and rate must be positive")
	}

	log.Printf("load test: %d users, %.1f msg/s each, %v against %s (channel %q)",
		opts.users, opts.rate, opts.duration, opts.addr, opts.channel)

	stats := &Stats{}
	start := time.Now()

	var wg sync.WaitGroup
	for i := 0; i < opts.users; i++ {
		wg.Add(1)
		go runUser(i, opts, stats, &wg)
		// Stagger dials a little so startup is not one burst.
		time.Sleep(10 * time.Millisecond)
	}
	wg.Wait()

	stats.report(time.Since(start))
}

// runUser owns one identity for the whole test: authenticate once, then
// keep a session alive until the clock runs out, redialing with backoff
// when the connection drops.
func runUser(idx int, opts options, stats *Stats, wg *sync.WaitGroup) {
	defer wg.Done()

	username := fmt.Sprintf("loadtest_user_%d", idx)
	token, userID, err := authenticate(opts.addr, username, "loadtest-pass-123")
	if err != nil {
		stats.recordError()
		log.Printf("user %s: auth failed: %v", username, err)
		return
	}

	endAt := time.Now().Add(opts.duration)
	backoff := time.Second
	for time.Now().Before(endAt) {
		err := runSession(opts, token, userID, stats, endAt)
		if err == nil {
			return
		}
		stats.recordError()
		if time.Now().Add(backoff).After(endAt) {
			return
		}
		time.Sleep(backoff)
		if backoff < 8*time.Second {
			backoff *= 2
		}
	}
}

// authenticate registers the user, or logs in when a previous run
// already took the name.
func authenticate(base, username, password string) (string, string, error) {
	body, err := json.Marshal(models.RegisterRequest{Username: username, Password: password})
	if err != nil {
		return "", "", err
	}

	resp, err := http.Post(base+"/api/auth/register", "application/json", bytes.NewReader(body))
	if err != nil {
		return "", "", err
	}
	if resp.StatusCode == http.StatusConflict {
		resp.Body.Close()
		resp, err = http.Post(base+"/api/auth/login", "application/json", bytes.NewReader(body))
		if err != nil {
			return "", "", err
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", "", fmt.Errorf("auth failed: %s", resp.Status)
	}
	var session models.LoginResponse
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return "", "", err
	}
	return session.Token, session.User.ID, nil
}

func wsEndpoint(base, token string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = "/ws"
	u.RawQuery = url.Values{"token": {token}}.Encode()
	return u.String(), nil
}

// session tracks the messages this connection sent and is still waiting
// to see echoed.
type session struct {
	conn    *websocket.Conn
	mu      sync.Mutex
	pending map[string]time.Time
}

func (s *session) track(content string) {
	s.mu.Lock()
	if len(s.pending) < 4096 {
		s.pending[content] = time.Now()
	}
	s.mu.Unlock()
}

func (s *session) takePending(content string) (time.Time, bool) {
	s.mu.Lock()
	sentAt, ok := s.pending[content]
	if ok {
		delete(s.pending, content)
	}
	s.mu.Unlock()
	return sentAt, ok
}

func runSession(opts options, token, userID string, stats *Stats, endAt time.Time) error {
	target, err := wsEndpoint(opts.addr, token)
	if err != nil {
		return err
	}
	conn, resp, err := websocket.DefaultDialer.Dial(target, nil)
	if err != nil {
		return err
	}
	resp.Body.Close()
	defer conn.Close()

	s := &session{conn: conn, pending: make(map[string]time.Time)}
	readErr := make(chan error, 1)
	go s.readLoop(stats, userID, readErr)

	ticker := time.NewTicker(time.Duration(float64(time.Second) / opts.rate))
	defer ticker.Stop()
	deadline := time.NewTimer(time.Until(endAt))
	defer deadline.Stop()

	seq := 0
	for {
		select {
		case <-deadline.C:
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return nil
		case err := <-readErr:
			return err
		case <-ticker.C:
			seq++
			content := fmt.Sprintf("lt %s %d", userID, seq)
			frame, err := models.Event(models.TypeMessageCreate, models.MessageCreatePayload{
				ChannelID: opts.channel,
				Content:   content,
			}).Encode()
			if err != nil {
				stats.recordError()
				continue
			}
			s.track(content)
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				stats.recordError()
				return err
			}
			stats.recordSent()
		}
	}
}

// readLoop turns incoming MESSAGE_CREATE frames into latency samples.
// Everything else on the stream (presence, lists, typing) is skipped.
func (s *session) readLoop(stats *Stats, selfID string, readErr chan<- error) {
	for {
		s.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			readErr <- err
			return
		}
		env, err := models.DecodeEnvelope(data)
		if err != nil || env.Type != models.TypeMessageCreate {
			continue
		}
		var msg models.Message
		if err := env.DecodePayload(&msg); err != nil {
			continue
		}
		if msg.AuthorID == selfID {
			if sentAt, ok := s.takePending(msg.Content); ok {
				stats.recordLatency(time.Since(sentAt), opWrite)
			}
		} else if !msg.CreatedAt.IsZero() {
			stats.recordLatency(time.Since(msg.CreatedAt), opRead)
		}
	}
}

type opKind int

const (
	opWrite opKind = iota
	opRead
)

type Stats struct {
	mu             sync.Mutex
	sent           int64
	failed         int64
	echoes         int64
	deliveries     int64
	totalLatency   time.Duration
	minLatency     time.Duration
	maxLatency     time.Duration
	writeLatencies []time.Duration
	readLatencies  []time.Duration
}

func (s *Stats) recordSent() {
	s.mu.Lock()
	s.sent++
	s.mu.Unlock()
}

func (s *Stats) recordError() {
	s.mu.Lock()
	s.failed++
	s.mu.Unlock()
}

func (s *Stats) recordLatency(d time.Duration, kind opKind) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.totalLatency += d
	if d > s.maxLatency {
		s.maxLatency = d
	}
	if s.minLatency == 0 || d < s.minLatency {
		s.minLatency = d
	}
	switch kind {
	case opWrite:
		s.echoes++
		s.writeLatencies = append(s.writeLatencies, d)
	case opRead:
		s.deliveries++
		s.readLatencies = append(s.readLatencies, d)
	}
}

func percentile(latencies []time.Duration, q float64) time.Duration {
	if len(latencies) == 0 {
		return 0
	}
	sorted := make([]time.Duration, len(latencies))
	copy(sorted, latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := int(float64(len(sorted)) * q)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func (s *Stats) report(elapsed time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	observed := s.echoes + s.deliveries
	log.Printf("load test results:")
	log.Printf("  messages sent:       %d", s.sent)
	log.Printf("  own echoes:          %d", s.echoes)
	log.Printf("  foreign deliveries:  %d", s.deliveries)
	log.Printf("  failures:            %d", s.failed)
	if observed > 0 {
		log.Printf("  avg latency:         %v", s.totalLatency/time.Duration(observed))
		log.Printf("  min/max latency:     %v / %v", s.minLatency, s.maxLatency)
	}
	log.Printf("  p99 write (echo):    %v", percentile(s.writeLatencies, 0.99))
	log.Printf("  p99 read (delivery): %v", percentile(s.readLatencies, 0.99))
	if elapsed > 0 {
		log.Printf("  send throughput:     %.1f msg/s", float64(s.sent)/elapsed.Seconds())
	}
	log.Printf("  wall time:           %v", elapsed)
}
