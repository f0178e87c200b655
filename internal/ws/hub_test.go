package ws

import (
	"testing"
	"time"

	"go.uber.org/zap"
)

func testLogger() *zap.Logger {
	return zap.NewNop()
}

func newTestWorker(name string) *Client {
	return &Client{
		conn:   nil, // Not needed for hub tests
		name:   name,
		send:   make(chan Message, 256),
		logger: testLogger(),
	}
}

func newTestOperator() *Client {
	return &Client{
		conn:   nil,
		send:   make(chan Message, 256),
		logger: testLogger(),
	}
}

func TestSendToWorker(t *testing.T) {
	hub := NewHub(testLogger())
	worker := newTestWorker("abc@scanner-1")
	hub.RegisterWorker(worker)

	msg := Message{
		Type:      MessageExecuteCommand,
		Pentest:   "pt",
		Timestamp: time.Now(),
		Data:      ExecuteCommandData{ToolIID: "tool-1", Text: "nmap -sV 10.0.0.1"},
	}
	if !hub.SendToWorker("abc@scanner-1", msg) {
		t.Fatal("SendToWorker returned false for connected worker")
	}

	select {
	case received := <-worker.send:
		if received.Type != MessageExecuteCommand {
			t.Errorf("received Type = %v, want %v", received.Type, MessageExecuteCommand)
		}
		data, ok := received.Data.(ExecuteCommandData)
		if !ok || data.ToolIID != "tool-1" {
			t.Errorf("received Data = %#v, want tool-1 execute data", received.Data)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("worker did not receive message")
	}

	if hub.SendToWorker("ghost@nowhere", msg) {
		t.Error("SendToWorker returned true for unknown worker")
	}
}

func TestSendToWorkerBufferFull(t *testing.T) {
	hub := NewHub(testLogger())
	worker := newTestWorker("abc@scanner-1")
	hub.RegisterWorker(worker)

	for i := 0; i < 256; i++ {
		worker.send <- Message{Type: MessageExecuteCommand}
	}
	if hub.SendToWorker("abc@scanner-1", Message{Type: MessageStopCommand}) {
		t.Error("SendToWorker reported delivery into a full buffer")
	}
	if len(worker.send) != 256 {
		t.Errorf("send buffer length = %d, want 256", len(worker.send))
	}
}

func TestRegisterWorkerReplacesConnection(t *testing.T) {
	hub := NewHub(testLogger())
	first := newTestWorker("abc@scanner-1")
	second := newTestWorker("abc@scanner-1")

	hub.RegisterWorker(first)
	hub.RegisterWorker(second)

	// The replaced connection's channel is closed so its pump exits.
	if _, ok := <-first.send; ok {
		t.Error("first connection's send channel was not closed")
	}
	if !hub.WorkerConnected("abc@scanner-1") {
		t.Error("worker no longer connected after reconnect")
	}
	if hub.WorkerCount() != 1 {
		t.Errorf("WorkerCount() = %d, want 1", hub.WorkerCount())
	}
}

func TestUnregisterStaleConnectionKeepsReplacement(t *testing.T) {
	hub := NewHub(testLogger())
	first := newTestWorker("abc@scanner-1")
	second := newTestWorker("abc@scanner-1")

	hub.RegisterWorker(first)
	hub.RegisterWorker(second)

	// The old pump unregisters after being replaced. The live connection
	// must survive.
	hub.Unregister(first)
	if !hub.WorkerConnected("abc@scanner-1") {
		t.Error("replacement connection was dropped by stale unregister")
	}
}

func TestDrop(t *testing.T) {
	hub := NewHub(testLogger())
	worker := newTestWorker("abc@scanner-1")
	hub.RegisterWorker(worker)

	hub.Drop("abc@scanner-1")
	if hub.WorkerConnected("abc@scanner-1") {
		t.Error("worker still connected after Drop")
	}
	if _, ok := <-worker.send; ok {
		t.Error("send channel was not closed by Drop")
	}

	// Dropping an unknown worker is a no-op.
	hub.Drop("ghost@nowhere")
}

func TestSendToWorkerDuringReconnectAndDrop(t *testing.T) {
	// Dispatches race reconnects and sweeper drops in production. The hub
	// must never send into a channel it has already closed.
	hub := NewHub(testLogger())
	hub.RegisterWorker(newTestWorker("abc@scanner-1"))

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 2000; i++ {
			hub.SendToWorker("abc@scanner-1", Message{Type: MessageExecuteCommand})
		}
	}()
	for i := 0; i < 2000; i++ {
		replacement := newTestWorker("abc@scanner-1")
		hub.RegisterWorker(replacement)
		// Keep the live buffer drained so sends keep exercising the
		// delivery path rather than the buffer-full path.
		for len(replacement.send) > 0 {
			<-replacement.send
		}
		if i%3 == 0 {
			hub.Drop("abc@scanner-1")
			hub.RegisterWorker(newTestWorker("abc@scanner-1"))
		}
	}
	<-done

	if !hub.WorkerConnected("abc@scanner-1") {
		t.Error("worker not connected after reconnect cycle")
	}
}

func TestBroadcastOperators(t *testing.T) {
	hub := NewHub(testLogger())
	op1 := newTestOperator()
	op2 := newTestOperator()
	worker := newTestWorker("abc@scanner-1")

	hub.RegisterOperator(op1)
	hub.RegisterOperator(op2)
	hub.RegisterWorker(worker)

	msg := Message{Type: MessageNotification, Pentest: "pt", Timestamp: time.Now()}
	hub.BroadcastOperators(msg)

	for i, op := range []*Client{op1, op2} {
		select {
		case received := <-op.send:
			if received.Type != MessageNotification {
				t.Errorf("operator %d received Type = %v, want %v", i+1, received.Type, MessageNotification)
			}
		case <-time.After(100 * time.Millisecond):
			t.Errorf("operator %d did not receive broadcast", i+1)
		}
	}

	select {
	case <-worker.send:
		t.Error("worker received an operator broadcast")
	default:
	}
}

func TestUnregisterOperator(t *testing.T) {
	hub := NewHub(testLogger())
	op := newTestOperator()
	hub.RegisterOperator(op)
	hub.Unregister(op)

	if _, ok := <-op.send; ok {
		t.Error("operator send channel not closed after unregister")
	}

	// Second unregister must not panic on the closed channel.
	hub.Unregister(op)
}
