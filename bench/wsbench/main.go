package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/schollz/progressbar/v3"
)

// Config 压测参数
type Config struct {
	Target      string        `json:"target"`
	Users       int           `json:"users"` // 两两配对成会话
	Tabs        int           `json:"tabs"`  // 每个用户的连接数
	Duration    time.Duration `json:"duration"`
	Ramp        time.Duration `json:"ramp"`
	MsgRate     int           `json:"msg_rate"` // 每个用户每分钟发送的消息数
	PayloadSize int           `json:"payload_size"`
	Output      string        `json:"output"` // text、json
	Verbose     bool          `json:"verbose"`
}

type Stats struct {
	Attempts    int64
	Connected   int64
	Failed      int64
	Disconnects int64
	Sent        int64
	Received    int64
	Delivered   int64
	Rejected    int64

	connect   recorder
	receive   recorder
	delivered recorder

	mu     sync.Mutex
	Errors map[string]int64

	sentAt    sync.Map // messageId -> time.Time，由接收方清除
	pendingAt sync.Map // messageId -> time.Time，收到第一个 delivered 状态时清除

	StartTime time.Time
	EndTime   time.Time
}

type Result struct {
	Config           Config           `json:"config"`
	Attempts         int64            `json:"attempts"`
	Connected        int64            `json:"connected"`
	Failed           int64            `json:"failed"`
	Disconnects      int64            `json:"disconnects"`
	MessagesSent     int64            `json:"messages_sent"`
	MessagesReceived int64            `json:"messages_received"`
	Delivered        int64            `json:"delivered"`
	Rejected         int64            `json:"rejected"`
	ConnectLatency   LatencyStats     `json:"connect_latency_ms"`
	ReceiveLatency   LatencyStats     `json:"receive_latency_ms"`
	DeliveredLatency LatencyStats     `json:"delivered_latency_ms"`
	Errors           map[string]int64 `json:"errors,omitempty"`
	ActualTime       float64          `json:"actual_time_seconds"`
}

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// tab 压测用户的一个连接
type tab struct {
	user    int
	index   int
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func main() {
	cfg := parseFlags()

	fmt.Println("=== wsbench - chat relay load generator ===")
	fmt.Printf("target: %s\n", cfg.Target)
	fmt.Printf("users: %d x %d tabs\n", cfg.Users, cfg.Tabs)
	fmt.Printf("duration: %s (ramp %s)\n", cfg.Duration, cfg.Ramp)
	fmt.Printf("msg rate: %d/min per user\n\n", cfg.MsgRate)

	stats := &Stats{Errors: make(map[string]int64), StartTime: time.Now()}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\ninterrupted, closing...")
		cancel()
	}()

	runBench(ctx, cfg, stats)
	stats.EndTime = time.Now()

	result := generateResult(cfg, stats)
	if cfg.Output == "json" {
		outputJSON(result)
		return
	}
	outputText(result)
}

func parseFlags() Config {
	cfg := Config{}

	flag.StringVar(&cfg.Target, "target", "ws://localhost:3001/ws", "relay websocket URL")
	flag.IntVar(&cfg.Users, "users", 100, "number of users, rounded up to even")
	flag.IntVar(&cfg.Tabs, "tabs", 2, "connections per user")
	flag.DurationVar(&cfg.Duration, "duration", time.Minute, "total run time")
	flag.DurationVar(&cfg.Ramp, "ramp", 10*time.Second, "time to open every connection")
	flag.IntVar(&cfg.MsgRate, "msg-rate", 30, "messages per user per minute")
	flag.IntVar(&cfg.PayloadSize, "payload-size", 128, "message body size in bytes")
	flag.StringVar(&cfg.Output, "output", "text", "output format: text, json")
	flag.BoolVar(&cfg.Verbose, "verbose", false, "print every failure")
	flag.Parse()

	if cfg.Users < 2 {
		cfg.Users = 2
	}
	cfg.Users += cfg.Users % 2
	if cfg.Tabs < 1 {
		cfg.Tabs = 1
	}
	if cfg.Ramp <= 0 {
		cfg.Ramp = time.Second
	}
	return cfg
}

func userName(i int) string { return fmt.Sprintf("bench-user-%d", i) }

func partnerOf(i int) string { return userName(i ^ 1) }

func conversationOf(i int) string { return fmt.Sprintf("bench-conv-%d", i/2) }

func runBench(ctx context.Context, cfg Config, stats *Stats) {
	total := cfg.Users * cfg.Tabs
	perConn := cfg.Ramp / time.Duration(total)
	if perConn <= 0 {
		perConn = time.Millisecond
	}

	bar := progressbar.NewOptions(total,
		progressbar.OptionSetDescription("connecting"),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("conn"),
	)

	var (
		mu   sync.Mutex
		tabs []*tab
		wg   sync.WaitGroup
	)

	ticker := time.NewTicker(perConn)
	defer ticker.Stop()

ramp:
	for n := 0; n < total; n++ {
		select {
		case <-ctx.Done():
			break ramp
		case <-ticker.C:
		}

		wg.Add(1)
		go func(user, index int) {
			defer wg.Done()
			defer bar.Add(1)
			if t := openTab(ctx, cfg, stats, user, index); t != nil {
				mu.Lock()
				tabs = append(tabs, t)
				mu.Unlock()
			}
		}(n/cfg.Tabs, n%cfg.Tabs)
	}
	wg.Wait()
	_ = bar.Finish()
	fmt.Printf("\nconnected %d/%d\n", len(tabs), total)

	if len(tabs) == 0 {
		return
	}

	remaining := cfg.Duration - time.Since(stats.StartTime)
	if remaining <= 0 {
		remaining = 10 * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, remaining)
	defer cancel()

	var connWg sync.WaitGroup
	for _, t := range tabs {
		connWg.Add(1)
		go func(t *tab) {
			defer connWg.Done()
			runTab(runCtx, cfg, stats, t)
		}(t)
	}

	report := time.NewTicker(5 * time.Second)
	defer report.Stop()
	for {
		select {
		case <-runCtx.Done():
			for _, t := range tabs {
				_ = t.conn.Close()
			}
			connWg.Wait()
			return
		case <-report.C:
			printProgress(stats)
		}
	}
}

// openTab 建立连接、声明用户并加入会话
func openTab(ctx context.Context, cfg Config, stats *Stats, user, index int) *tab {
	atomic.AddInt64(&stats.Attempts, 1)
	start := time.Now()

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
		ReadBufferSize:   4096,
		WriteBufferSize:  4096,
	}
	conn, _, err := dialer.DialContext(ctx, cfg.Target, nil)
	if err != nil {
		stats.fail(cfg, "dial", err)
		return nil
	}

	t := &tab{user: user, index: index, conn: conn}
	if err := t.emit("join", userName(user)); err != nil {
		stats.fail(cfg, "join", err)
		_ = conn.Close()
		return nil
	}
	if err := t.emit("join_conversation", map[string]string{
		"conversationId": conversationOf(user),
		"userId":         userName(user),
	}); err != nil {
		stats.fail(cfg, "join_conversation", err)
		_ = conn.Close()
		return nil
	}
	if err := t.await("conversation_joined", 10*time.Second); err != nil {
		stats.fail(cfg, "conversation_joined", err)
		_ = conn.Close()
		return nil
	}

	stats.connect.add(time.Since(start))
	atomic.AddInt64(&stats.Connected, 1)
	return t
}

func (t *tab) emit(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	_ = t.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return t.conn.WriteJSON(frame{Event: event, Data: data})
}

// await 只在读循环启动前使用
func (t *tab) await(event string, timeout time.Duration) error {
	_ = t.conn.SetReadDeadline(time.Now().Add(timeout))
	defer t.conn.SetReadDeadline(time.Time{})
	for {
		var f frame
		if err := t.conn.ReadJSON(&f); err != nil {
			return err
		}
		if f.Event == "error" {
			return fmt.Errorf("relay rejected: %s", f.Data)
		}
		if f.Event == event {
			return nil
		}
	}
}

func runTab(ctx context.Context, cfg Config, stats *Stats, t *tab) {
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		readLoop(stats, t)
	}()

	// 只有用户的第一个标签页发消息
	if t.index != 0 || cfg.MsgRate <= 0 {
		select {
		case <-ctx.Done():
		case <-readDone:
		}
		return
	}

	send := time.NewTicker(time.Minute / time.Duration(cfg.MsgRate))
	defer send.Stop()
	body := strings.Repeat("x", cfg.PayloadSize)
	seq := 0

	for {
		select {
		case <-ctx.Done():
			return
		case <-readDone:
			return
		case <-send.C:
			seq++
			id := fmt.Sprintf("%s-%d", userName(t.user), seq)
			now := time.Now()
			stats.sentAt.Store(id, now)
			stats.pendingAt.Store(id, now)
			err := t.emit("send_message", map[string]string{
				"recipientId":    partnerOf(t.user),
				"message":        body,
				"senderId":       userName(t.user),
				"messageId":      id,
				"conversationId": conversationOf(t.user),
			})
			if err != nil {
				stats.sentAt.Delete(id)
				stats.pendingAt.Delete(id)
				stats.fail(cfg, "send_message", err)
				continue
			}
			atomic.AddInt64(&stats.Sent, 1)
		}
	}
}

func readLoop(stats *Stats, t *tab) {
	self := userName(t.user)
	for {
		var f frame
		if err := t.conn.ReadJSON(&f); err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) && closeErr.Code != websocket.CloseNormalClosure {
				atomic.AddInt64(&stats.Disconnects, 1)
			}
			return
		}

		switch f.Event {
		case "receive_message":
			var msg struct {
				ID       string `json:"id"`
				SenderID string `json:"sender_id"`
			}
			if json.Unmarshal(f.Data, &msg) != nil || msg.SenderID == self {
				continue
			}
			atomic.AddInt64(&stats.Received, 1)
			if v, ok := stats.sentAt.LoadAndDelete(msg.ID); ok {
				stats.receive.add(time.Since(v.(time.Time)))
			}
		case "message_status":
			var st struct {
				MessageID string `json:"messageId"`
				Status    string `json:"status"`
			}
			if json.Unmarshal(f.Data, &st) != nil || st.Status != "delivered" {
				continue
			}
			// 发送方会在个人频道和房间各收到一次
			if v, ok := stats.pendingAt.LoadAndDelete(st.MessageID); ok {
				atomic.AddInt64(&stats.Delivered, 1)
				stats.delivered.add(time.Since(v.(time.Time)))
			}
		case "error":
			atomic.AddInt64(&stats.Rejected, 1)
		}
	}
}

func (s *Stats) fail(cfg Config, stage string, err error) {
	if stage == "dial" || stage == "join" || stage == "join_conversation" || stage == "conversation_joined" {
		atomic.AddInt64(&s.Failed, 1)
	}
	key := stage + ": " + err.Error()
	if len(key) > 60 {
		key = key[:60]
	}
	s.mu.Lock()
	s.Errors[key]++
	s.mu.Unlock()
	if cfg.Verbose {
		fmt.Printf("%s failed: %v\n", stage, err)
	}
}

func printProgress(stats *Stats) {
	fmt.Printf("[%s] connected: %d | sent: %d | received: %d | delivered: %d | disconnects: %d\n",
		time.Since(stats.StartTime).Round(time.Second),
		atomic.LoadInt64(&stats.Connected),
		atomic.LoadInt64(&stats.Sent),
		atomic.LoadInt64(&stats.Received),
		atomic.LoadInt64(&stats.Delivered),
		atomic.LoadInt64(&stats.Disconnects))
}

func generateResult(cfg Config, stats *Stats) Result {
	stats.mu.Lock()
	errs := make(map[string]int64, len(stats.Errors))
	for k, v := range stats.Errors {
		errs[k] = v
	}
	stats.mu.Unlock()

	return Result{
		Config:           cfg,
		Attempts:         atomic.LoadInt64(&stats.Attempts),
		Connected:        atomic.LoadInt64(&stats.Connected),
		Failed:           atomic.LoadInt64(&stats.Failed),
		Disconnects:      atomic.LoadInt64(&stats.Disconnects),
		MessagesSent:     atomic.LoadInt64(&stats.Sent),
		MessagesReceived: atomic.LoadInt64(&stats.Received),
		Delivered:        atomic.LoadInt64(&stats.Delivered),
		Rejected:         atomic.LoadInt64(&stats.Rejected),
		ConnectLatency:   stats.connect.stats(),
		ReceiveLatency:   stats.receive.stats(),
		DeliveredLatency: stats.delivered.stats(),
		Errors:           errs,
		ActualTime:       stats.EndTime.Sub(stats.StartTime).Seconds(),
	}
}

func outputJSON(result Result) {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "encode result: %v\n", err)
		return
	}
	fmt.Println(string(data))
}

func printLatency(title string, l LatencyStats) {
	fmt.Printf("--- %s (ms, n=%d) ---\n", title, l.Count)
	fmt.Printf("min %.2f | avg %.2f | p50 %.2f | p90 %.2f | p95 %.2f | p99 %.2f | max %.2f | stddev %.2f\n\n",
		l.Min, l.Avg, l.P50, l.P90, l.P95, l.P99, l.Max, l.StdDev)
}

func outputText(result Result) {
	fmt.Println()
	fmt.Println("==================== results ====================")
	fmt.Printf("connections: %d/%d (failed %d, dropped %d)\n",
		result.Connected, result.Attempts, result.Failed, result.Disconnects)
	fmt.Printf("messages: sent %d | received %d | delivered %d | rejected %d\n\n",
		result.MessagesSent, result.MessagesReceived, result.Delivered, result.Rejected)

	printLatency("connect + join", result.ConnectLatency)
	printLatency("receive_message", result.ReceiveLatency)
	printLatency("delivered confirmation", result.DeliveredLatency)

	if len(result.Errors) > 0 {
		fmt.Println("--- errors ---")
		for err, count := range result.Errors {
			fmt.Printf("%s: %d\n", err, count)
		}
		fmt.Println()
	}
	fmt.Printf("--- run time: %.2fs ---\n", result.ActualTime)
}
