package transport

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.bug.st/serial"
	"go.uber.org/mock/gomock"
)

func TestSerialDialer_Dial_EmptyPortName(t *testing.T) {
	dialer := SerialDialer{
		PortName: "",
	}

	transport, err := dialer.Dial(context.Background())

	if err == nil {
		t.Fatal("expected error for empty port name")
	}
	if transport != nil {
		t.Error("expected nil transport for empty port name")
	}
	if err.Error() != "atgw: serial port name is required" {
		t.Errorf("unexpected error message: %v", err)
	}
}

func TestSerialDialer_Dial_NilContext(t *testing.T) {
	dialer := SerialDialer{
		PortName: "/dev/ttyUSB0",
	}

	transport, err := dialer.Dial(nil)

	if !errors.Is(err, ErrNilContext) {
		t.Errorf("expected ErrNilContext, got: %v", err)
	}
	if transport != nil {
		t.Error("expected nil transport for nil context")
	}
}

func TestSerialDialer_Dial_ContextCanceled(t *testing.T) {
	dialer := SerialDialer{
		PortName: "/dev/nonexistent",
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	transport, err := dialer.Dial(ctx)

	if err != context.Canceled {
		t.Errorf("expected context.Canceled, got: %v", err)
	}
	if transport != nil {
		t.Error("expected nil transport for canceled context")
	}
}

func TestSerialDialer_Dial_NonexistentPort(t *testing.T) {
	tests := []struct {
		name   string
		dialer SerialDialer
	}{
		{
			name: "Explicit mode",
			dialer: SerialDialer{
				PortName: "/dev/nonexistent",
				Mode: &serial.Mode{
					BaudRate: 115200,
					Parity:   serial.NoParity,
					DataBits: 8,
					StopBits: serial.OneStopBit,
				},
			},
		},
		{
			name:   "Baud rate only",
			dialer: SerialDialer{PortName: "/dev/nonexistent", BaudRate: 9600},
		},
		{
			name:   "Default mode",
			dialer: SerialDialer{PortName: "/dev/nonexistent"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			transport, err := tt.dialer.Dial(context.Background())
			if err == nil {
				t.Fatal("expected error for non-existent port")
			}
			if transport != nil {
				t.Error("expected nil transport for non-existent port")
			}
			if !strings.Contains(err.Error(), "/dev/nonexistent") {
				t.Errorf("expected the port name in the error, got %v", err)
			}
		})
	}
}

func TestWebSocketDialer_UnsupportedScheme(t *testing.T) {
	_, err := WebSocketDialer{URL: "http://localhost:1234/serial"}.Dial(context.Background())
	if !errors.Is(err, ErrUnsupportedScheme) {
		t.Errorf("expected ErrUnsupportedScheme, got %v", err)
	}
}

func TestWebSocketDialer_Roundtrip(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Basic dXNlcjpwYXNz" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()

		kind, data, err := c.ReadMessage()
		if err != nil || kind != websocket.BinaryMessage {
			return
		}
		c.WriteMessage(websocket.TextMessage, []byte("ignored"))
		c.WriteMessage(websocket.BinaryMessage, append([]byte("echo:"), data...))
		c.ReadMessage()
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	_, err := WebSocketDialer{URL: url}.Dial(context.Background())
	if err == nil || !strings.Contains(err.Error(), "401") {
		t.Fatalf("expected the handshake to be refused, got %v", err)
	}

	header := http.Header{}
	header.Set("Authorization", "Basic dXNlcjpwYXNz")
	tr, err := WebSocketDialer{URL: url, Header: header, HandshakeTimeout: time.Second}.Dial(context.Background())
	if err != nil {
		t.Fatalf("unexpected dial error: %v", err)
	}
	defer tr.Close()

	if _, err := tr.Write([]byte("AT\r")); err != nil {
		t.Fatal(err)
	}

	// Small reads drain one message across calls.
	var got []byte
	buf := make([]byte, 3)
	for len(got) < len("echo:AT\r") {
		n, err := tr.Read(buf)
		if err != nil {
			t.Fatalf("unexpected read error: %v", err)
		}
		got = append(got, buf[:n]...)
	}
	if string(got) != "echo:AT\r" {
		t.Errorf("expected %q, got %q", "echo:AT\r", got)
	}
}

func TestFakeTransport(t *testing.T) {
	tr := NewFakeTransport()
	tr.Feed("OK\r\n")

	buf := make([]byte, 2)
	n, err := tr.Read(buf)
	if err != nil || string(buf[:n]) != "OK" {
		t.Fatalf("unexpected read %q %v", buf[:n], err)
	}
	n, err = tr.Read(buf)
	if err != nil || string(buf[:n]) != "\r\n" {
		t.Fatalf("unexpected read %q %v", buf[:n], err)
	}

	if _, err := tr.Write([]byte("AT\r")); err != nil {
		t.Fatal(err)
	}
	if w := <-tr.Writes(); string(w) != "AT\r" {
		t.Errorf("unexpected write %q", w)
	}

	tr.Close()
	if _, err := tr.Read(buf); err != io.EOF {
		t.Errorf("expected io.EOF after close, got %v", err)
	}
	if _, err := tr.Write([]byte("x")); err == nil {
		t.Error("expected write after close to fail")
	}
}

// Test the interface compliance
func TestTransportInterface(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockTransport := NewMockTransport(ctrl)

	var _ Transport = mockTransport

	data := []byte("test")
	mockTransport.EXPECT().Write(data).Return(len(data), nil)
	mockTransport.EXPECT().Read(gomock.Any()).Return(4, nil)
	mockTransport.EXPECT().Close().Return(nil)

	n, err := mockTransport.Write(data)
	if err != nil {
		t.Errorf("unexpected write error: %v", err)
	}
	if n != len(data) {
		t.Errorf("expected %d bytes written, got %d", len(data), n)
	}

	buf := make([]byte, 10)
	n, err = mockTransport.Read(buf)
	if err != nil {
		t.Errorf("unexpected read error: %v", err)
	}
	if n != 4 {
		t.Errorf("expected 4 bytes read, got %d", n)
	}

	if err := mockTransport.Close(); err != nil {
		t.Errorf("unexpected close error: %v", err)
	}
}

func TestDialerInterface(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockDialer := NewMockDialer(ctrl)
	mockTransport := NewMockTransport(ctrl)

	var _ Dialer = mockDialer
	var _ Dialer = SerialDialer{}
	var _ Dialer = WebSocketDialer{}

	ctx := context.Background()
	mockDialer.EXPECT().Dial(ctx).Return(mockTransport, nil)

	transport, err := mockDialer.Dial(ctx)
	if err != nil {
		t.Errorf("unexpected dial error: %v", err)
	}
	if transport != mockTransport {
		t.Error("expected mock transport to be returned")
	}
}

func TestDialerInterface_Error(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockDialer := NewMockDialer(ctrl)
	dialError := errors.New("dial failed")

	ctx := context.Background()
	mockDialer.EXPECT().Dial(ctx).Return(nil, dialError)

	transport, err := mockDialer.Dial(ctx)
	if err != dialError {
		t.Errorf("expected dial error, got: %v", err)
	}
	if transport != nil {
		t.Error("expected nil transport on error")
	}
}
