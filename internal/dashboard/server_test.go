package dashboard

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/mkrause/deskpad/internal/engine"
	"github.com/mkrause/deskpad/internal/schema"
)

func startTestServer(t *testing.T) *Server {
	t.Helper()

	server := NewServer(&Config{
		Addr:   "127.0.0.1:0",
		Logger: log.New(io.Discard, "", 0),
	})
	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	t.Cleanup(func() { _ = server.Stop() })

	time.Sleep(50 * time.Millisecond)
	return server
}

func dialTestServer(t *testing.T, ctx context.Context, server *Server) *websocket.Conn {
	t.Helper()

	conn, _, err := websocket.Dial(ctx, "ws://"+server.Addr()+"/ws", nil)
	if err != nil {
		t.Fatalf("Failed to connect WebSocket: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func readMessage(t *testing.T, ctx context.Context, conn *websocket.Conn) Message {
	t.Helper()

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Failed to read message: %v", err)
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("Failed to unmarshal message: %v", err)
	}
	return msg
}

func TestServerStartStop(t *testing.T) {
	server := startTestServer(t)

	if server.Addr() == "" {
		t.Fatal("Server address is empty")
	}
	if err := server.Stop(); err != nil {
		t.Fatalf("Failed to stop server: %v", err)
	}
}

func TestWelcomeMessageCarriesLastStatus(t *testing.T) {
	server := startTestServer(t)

	// A status lands before any client connects.
	server.SyncStatusChanged(engine.Status{IsOnline: true, PendingCount: 2})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dialTestServer(t, ctx, server)

	msg := readMessage(t, ctx, conn)
	if msg.Type != MessageTypeSyncStatus {
		t.Fatalf("Expected welcome message type %s, got %s", MessageTypeSyncStatus, msg.Type)
	}

	var status engine.Status
	if err := json.Unmarshal(msg.Data, &status); err != nil {
		t.Fatalf("Failed to unmarshal status: %v", err)
	}
	if !status.IsOnline || status.PendingCount != 2 {
		t.Errorf("Expected last known status in welcome, got %+v", status)
	}
}

func TestRecordChangeBroadcast(t *testing.T) {
	server := startTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dialTestServer(t, ctx, server)

	// Skip the welcome message.
	_ = readMessage(t, ctx, conn)

	if count := server.ClientCount(); count != 1 {
		t.Errorf("Expected 1 client, got %d", count)
	}

	server.RecordsChanged(schema.TableTasks)

	msg := readMessage(t, ctx, conn)
	if msg.Type != MessageTypeRecordChange {
		t.Fatalf("Expected message type %s, got %s", MessageTypeRecordChange, msg.Type)
	}
	var change RecordChangeData
	if err := json.Unmarshal(msg.Data, &change); err != nil {
		t.Fatalf("Failed to unmarshal record change: %v", err)
	}
	if change.Table != schema.TableTasks {
		t.Errorf("Expected table %s, got %s", schema.TableTasks, change.Table)
	}
}

func TestBroadcastReachesAllClients(t *testing.T) {
	server := startTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	numClients := 3
	conns := make([]*websocket.Conn, numClients)
	for i := range conns {
		conns[i] = dialTestServer(t, ctx, server)
		_ = readMessage(t, ctx, conns[i]) // welcome
	}

	if count := server.ClientCount(); count != numClients {
		t.Errorf("Expected %d clients, got %d", numClients, count)
	}

	server.SyncStatusChanged(engine.Status{IsOnline: false, CircuitOpen: true})

	for i, conn := range conns {
		msg := readMessage(t, ctx, conn)
		if msg.Type != MessageTypeSyncStatus {
			t.Errorf("Client %d: expected %s, got %s", i, MessageTypeSyncStatus, msg.Type)
		}
	}
}
