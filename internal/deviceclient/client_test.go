package deviceclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/edgewatch/edgewatch-core/internal/protocol"
)

const testKey = "pPrIkmvSP89JYo"

type recordLogger struct {
	noopLogger
	infos []string
}

func (l *recordLogger) Info(msg string, _ ...any) { l.infos = append(l.infos, msg) }

func TestNew_RequiresKey(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("New() expected error without product key")
	}
}

func TestGetDeviceInfo(t *testing.T) {
	var got url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/device/info" {
			http.NotFound(w, r)
			return
		}
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		got = r.PostForm
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`)) //nolint:errcheck // test handler
	}))
	defer srv.Close()

	logger := &recordLogger{}
	c, err := New(Config{BaseURL: srv.URL, InfoURL: "/api/device/info", ProductKey: testKey}, WithLogger(logger))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	c.now = func() time.Time { return time.UnixMilli(1700000000123) }

	info, err := c.GetDeviceInfo(context.Background())
	if err != nil {
		t.Fatalf("GetDeviceInfo() error = %v", err)
	}
	if info.StatusCode != http.StatusOK || string(info.Body) != `{"status":"ok"}` {
		t.Errorf("info = %d %q", info.StatusCode, info.Body)
	}

	want := map[string]string{
		"timestamp":  "1700000000123",
		"deviceName": "Test",
		"productKey": testKey,
	}
	for k, v := range want {
		if got.Get(k) != v {
			t.Errorf("form %s = %q, want %q", k, got.Get(k), v)
		}
	}
	if len(logger.infos) != 1 {
		t.Errorf("logged %d info lines, want 1", len(logger.infos))
	}
}

func TestGetDeviceInfo_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	tests := []struct {
		name       string
		cfg        Config
		wantStatus bool
	}{
		{name: "non-2xx", cfg: Config{InfoURL: srv.URL + "/info", ProductKey: testKey}, wantStatus: true},
		{name: "no url", cfg: Config{BaseURL: srv.URL, ProductKey: testKey}},
		{name: "relative without base", cfg: Config{InfoURL: "/info", ProductKey: testKey}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(tt.cfg)
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			_, err = c.GetDeviceInfo(context.Background())
			if err == nil {
				t.Fatal("GetDeviceInfo() expected error")
			}
			if got := errors.Is(err, ErrUnexpectedStatus); got != tt.wantStatus {
				t.Errorf("errors.Is(ErrUnexpectedStatus) = %v, want %v (err %v)", got, tt.wantStatus, err)
			}
		})
	}
}

func TestSocketURL(t *testing.T) {
	tests := []struct {
		base string
		path string
		want string
	}{
		{base: "http://host:8080", want: "ws://host:8080/ws/device/" + testKey},
		{base: "https://watch.example.com/", want: "wss://watch.example.com/ws/device/" + testKey},
		{base: "https://watch.example.com/edge", path: "/devices/ws/", want: "wss://watch.example.com/edge/devices/ws/" + testKey},
	}
	for _, tt := range tests {
		t.Run(tt.base, func(t *testing.T) {
			c, err := New(Config{BaseURL: tt.base, DevicePath: tt.path, ProductKey: testKey})
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			got, err := c.socketURL()
			if err != nil {
				t.Fatalf("socketURL() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("socketURL() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDial_SendAndReceive(t *testing.T) {
	upgrader := websocket.Upgrader{}
	inbound := make(chan []byte, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/ws/device/"+testKey) {
			http.NotFound(w, r)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		initFrame, _ := protocol.InitFrame(protocol.OperationProfiler).Encode()
		if err := conn.WriteMessage(websocket.TextMessage, initFrame); err != nil {
			return
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		inbound <- data
		conn.WriteMessage(websocket.CloseMessage, //nolint:errcheck // test server
			websocket.FormatCloseMessage(protocol.ClosePolicyViolation, ""))
	}))
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL, ProductKey: testKey})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	conn, err := c.Dial(ctx)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	msg, err := conn.Receive(ctx)
	if err != nil {
		t.Fatalf("Receive() error = %v", err)
	}
	if msg.MessageType != protocol.OutboundInit {
		t.Errorf("message_type = %q, want init", msg.MessageType)
	}
	cmd, err := msg.Command()
	if err != nil {
		t.Fatalf("Command() error = %v", err)
	}
	if cmd.Operation != protocol.OperationEnable || cmd.OperationType != protocol.OperationProfiler {
		t.Errorf("command = %+v", cmd)
	}

	sent := protocol.ProfilerFrame{CPUUsedRate: 1, MemUsedRate: 2, DiskIORead: 3, DiskIOWrite: 4}
	if err := conn.Send(ctx, sent); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	select {
	case data := <-inbound:
		f, err := protocol.Decode(data)
		if err != nil {
			t.Fatalf("server Decode() error = %v", err)
		}
		if f != protocol.Frame(sent) {
			t.Errorf("server got %#v, want %#v", f, sent)
		}
	case <-ctx.Done():
		t.Fatal("server never received the frame")
	}

	_, err = conn.Receive(ctx)
	var ce *websocket.CloseError
	if !errors.As(err, &ce) || ce.Code != protocol.ClosePolicyViolation {
		t.Errorf("Receive() error = %v, want close %d", err, protocol.ClosePolicyViolation)
	}
}

func TestDial_Refused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL, ProductKey: testKey})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, err := c.Dial(context.Background()); err == nil || !strings.Contains(err.Error(), "404") {
		t.Errorf("Dial() error = %v, want status 404", err)
	}
}
