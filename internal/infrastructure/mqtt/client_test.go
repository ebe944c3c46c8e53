package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/btlesniffer/internal/infrastructure/config"
)

// fakeToken is a completed paho token.
type fakeToken struct {
	err     error
	timeout bool
}

func (t *fakeToken) Wait() bool                     { return !t.timeout }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return !t.timeout }
func (t *fakeToken) Error() error                   { return t.err }
func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

// fakePaho records publishes instead of talking to a broker.
type fakePaho struct {
	mu           sync.Mutex
	connected    bool
	publishes    []published
	publishErr   error
	timeout      bool
	disconnected bool
}

func (f *fakePaho) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}
func (f *fakePaho) IsConnectionOpen() bool { return f.IsConnected() }
func (f *fakePaho) Connect() pahomqtt.Token {
	f.mu.Lock()
	f.connected = true
	f.mu.Unlock()
	return &fakeToken{}
}
func (f *fakePaho) Disconnect(uint) {
	f.mu.Lock()
	f.connected = false
	f.disconnected = true
	f.mu.Unlock()
}
func (f *fakePaho) Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	var data []byte
	switch p := payload.(type) {
	case []byte:
		data = p
	case string:
		data = []byte(p)
	}
	f.publishes = append(f.publishes, published{topic: topic, qos: qos, retained: retained, payload: data})
	return &fakeToken{err: f.publishErr, timeout: f.timeout}
}
func (f *fakePaho) Subscribe(string, byte, pahomqtt.MessageHandler) pahomqtt.Token {
	return &fakeToken{}
}
func (f *fakePaho) SubscribeMultiple(map[string]byte, pahomqtt.MessageHandler) pahomqtt.Token {
	return &fakeToken{}
}
func (f *fakePaho) Unsubscribe(...string) pahomqtt.Token            { return &fakeToken{} }
func (f *fakePaho) AddRoute(string, pahomqtt.MessageHandler)         {}
func (f *fakePaho) OptionsReader() pahomqtt.ClientOptionsReader      { return pahomqtt.ClientOptionsReader{} }
func (f *fakePaho) last() published {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.publishes[len(f.publishes)-1]
}
func (f *fakePaho) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.publishes)
}

func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Enabled: true,
		Broker: config.MQTTBrokerConfig{
			Host: "127.0.0.1",
			Port: 1883,
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

func newTestClient(t *testing.T) (*Client, *fakePaho) {
	t.Helper()
	fake := &fakePaho{connected: true}
	return newWithClient(fake, testConfig(), "node-001"), fake
}

// =============================================================================
// Publish Tests
// =============================================================================

func TestPublish(t *testing.T) {
	client, fake := newTestClient(t)

	topic := Topics{}.Sighting("node-001", "AA:BB:CC:DD:EE:FF")
	if err := client.Publish(topic, []byte(`{"rssi":-60}`), 1, false); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	got := fake.last()
	if got.topic != topic || got.qos != 1 || got.retained {
		t.Errorf("published %+v, want topic %q qos 1 not retained", got, topic)
	}
}

func TestPublishValidation(t *testing.T) {
	tests := []struct {
		name    string
		topic   string
		qos     byte
		payload []byte
		wantErr error
	}{
		{name: "empty topic", topic: "", qos: 1, wantErr: ErrInvalidTopic},
		{name: "invalid qos", topic: "btlesniffer/x", qos: 3, wantErr: ErrInvalidQoS},
		{name: "payload too large", topic: "btlesniffer/x", qos: 1, payload: make([]byte, maxPayloadSize+1), wantErr: ErrPublishFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, fake := newTestClient(t)
			err := client.Publish(tt.topic, tt.payload, tt.qos, false)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Publish() error = %v, want %v", err, tt.wantErr)
			}
			if fake.count() != 0 {
				t.Error("invalid publish should not reach the broker")
			}
		})
	}
}

func TestPublishDisconnected(t *testing.T) {
	client, fake := newTestClient(t)
	fake.Disconnect(0)

	err := client.Publish("btlesniffer/x", []byte("{}"), 1, false)
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("Publish() error = %v, want ErrNotConnected", err)
	}
}

func TestPublishBrokerError(t *testing.T) {
	client, fake := newTestClient(t)
	fake.publishErr = errors.New("not authorised")

	err := client.Publish("btlesniffer/x", []byte("{}"), 1, false)
	if !errors.Is(err, ErrPublishFailed) {
		t.Errorf("Publish() error = %v, want ErrPublishFailed", err)
	}
}

func TestPublishTimeout(t *testing.T) {
	client, fake := newTestClient(t)
	fake.timeout = true

	err := client.Publish("btlesniffer/x", []byte("{}"), 1, false)
	if !errors.Is(err, ErrPublishFailed) || !strings.Contains(err.Error(), "timeout") {
		t.Errorf("Publish() error = %v, want timeout ErrPublishFailed", err)
	}
}

func TestPublishJSON(t *testing.T) {
	client, fake := newTestClient(t)

	err := client.PublishJSON(Topics{}.NodeInfo("node-001"), map[string]float64{"x": 1.5}, true)
	if err != nil {
		t.Fatalf("PublishJSON() error = %v", err)
	}

	got := fake.last()
	if !got.retained || got.qos != 1 {
		t.Errorf("published retained=%v qos=%d, want retained qos 1", got.retained, got.qos)
	}
	if string(got.payload) != `{"x":1.5}` {
		t.Errorf("payload = %s", got.payload)
	}

	if err := client.PublishJSON("btlesniffer/x", make(chan int), false); !errors.Is(err, ErrPublishFailed) {
		t.Errorf("PublishJSON(chan) error = %v, want ErrPublishFailed", err)
	}
}

func TestPublishRetained(t *testing.T) {
	client, fake := newTestClient(t)

	if err := client.PublishRetained(Topics{}.NodeInfo("node-001"), []byte("{}")); err != nil {
		t.Fatalf("PublishRetained() error = %v", err)
	}
	if !fake.last().retained {
		t.Error("PublishRetained() did not retain")
	}
}

// =============================================================================
// Lifecycle Tests
// =============================================================================

func TestHandleConnectPublishesOnlineStatus(t *testing.T) {
	client, fake := newTestClient(t)

	called := make(chan struct{}, 1)
	client.SetOnConnect(func() { called <- struct{}{} })
	client.handleConnect()

	got := fake.last()
	if got.topic != "btlesniffer/node/node-001/status" || !got.retained {
		t.Errorf("published %q retained=%v, want retained status", got.topic, got.retained)
	}

	var status NodeStatus
	if err := json.Unmarshal(got.payload, &status); err != nil {
		t.Fatalf("status payload: %v", err)
	}
	if status.Status != StatusOnline || status.NodeID != "node-001" {
		t.Errorf("status = %+v, want online node-001", status)
	}

	select {
	case <-called:
	default:
		t.Error("OnConnect callback not invoked")
	}
}

func TestHandleDisconnect(t *testing.T) {
	client, _ := newTestClient(t)

	var gotErr error
	client.SetOnDisconnect(func(err error) { gotErr = err })

	lost := errors.New("EOF")
	client.handleDisconnect(lost)

	if client.IsConnected() {
		t.Error("IsConnected() = true after connection lost")
	}
	if !errors.Is(gotErr, lost) {
		t.Errorf("OnDisconnect error = %v, want %v", gotErr, lost)
	}
}

func TestClosePublishesOffline(t *testing.T) {
	client, fake := newTestClient(t)

	if err := client.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	var status NodeStatus
	if err := json.Unmarshal(fake.last().payload, &status); err != nil {
		t.Fatalf("status payload: %v", err)
	}
	if status.Status != StatusOffline || status.Reason != "graceful_shutdown" {
		t.Errorf("status = %+v, want graceful offline", status)
	}
	if !fake.disconnected {
		t.Error("Close() did not disconnect")
	}
	if client.IsConnected() {
		t.Error("IsConnected() = true after Close()")
	}
}

func TestCloseNil(t *testing.T) {
	client := &Client{}
	if err := client.Close(); err != nil {
		t.Errorf("Close() on nil client error = %v, want nil", err)
	}
}

func TestHealthCheck(t *testing.T) {
	client, fake := newTestClient(t)

	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v, want nil", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := client.HealthCheck(ctx); err == nil {
		t.Error("HealthCheck() expected error for cancelled context")
	}

	fake.Disconnect(0)
	if err := client.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}
}

func TestConnectInvalidBroker(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.Port = 1 // nothing listens here

	// With ConnectRetry enabled paho keeps retrying, so the connect token
	// never completes and Connect reports a timeout.
	if testing.Short() {
		t.Skip("waits for the connect timeout")
	}
	_, err := Connect(cfg, "node-001")
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

// =============================================================================
// Option Tests
// =============================================================================

func TestClientID(t *testing.T) {
	cfg := testConfig()
	if got := clientID(cfg, "node-007"); got != "btlesniffer-node-007" {
		t.Errorf("clientID() = %q, want derived from node", got)
	}

	cfg.Broker.ClientID = "custom"
	if got := clientID(cfg, "node-007"); got != "custom" {
		t.Errorf("clientID() = %q, want custom", got)
	}
}

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.TLS = true
	cfg.Auth.Username = "sniffer"
	cfg.Auth.Password = "secret"

	opts := buildClientOptions(cfg, "node-001")
	configureLWT(opts, "node-001")

	if len(opts.Servers) != 1 || opts.Servers[0].String() != "ssl://127.0.0.1:1883" {
		t.Errorf("Servers = %v, want ssl://127.0.0.1:1883", opts.Servers)
	}
	if opts.Username != "sniffer" {
		t.Errorf("Username = %q", opts.Username)
	}
	if opts.TLSConfig == nil {
		t.Error("TLSConfig not set for TLS broker")
	}
	if !opts.WillEnabled || opts.WillTopic != "btlesniffer/node/node-001/status" || !opts.WillRetained {
		t.Errorf("LWT = enabled:%v topic:%q retained:%v", opts.WillEnabled, opts.WillTopic, opts.WillRetained)
	}
	if !strings.Contains(string(opts.WillPayload), "unexpected_disconnect") {
		t.Errorf("WillPayload = %s", opts.WillPayload)
	}
}

// =============================================================================
// Topic Tests
// =============================================================================

func TestTopicBuilders(t *testing.T) {
	topics := Topics{}
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"NodeStatus", topics.NodeStatus("n1"), "btlesniffer/node/n1/status"},
		{"NodeInfo", topics.NodeInfo("n1"), "btlesniffer/node/n1/info"},
		{"NodeHealth", topics.NodeHealth("n1"), "btlesniffer/node/n1/health"},
		{"Sighting", topics.Sighting("n1", "AA:BB"), "btlesniffer/node/n1/sighting/AA:BB"},
		{"AllSightings", topics.AllSightings(), "btlesniffer/node/+/sighting/+"},
		{"AllNodeStatus", topics.AllNodeStatus(), "btlesniffer/node/+/status"},
		{"AllTopics", topics.AllTopics(), "btlesniffer/#"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("%s = %q, want %q", tt.name, tt.got, tt.want)
			}
		})
	}
}
