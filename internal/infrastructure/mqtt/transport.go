package mqtt

import (
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// Token tracks the completion of an asynchronous transport operation.
// pahomqtt.Token satisfies it.
type Token interface {
	Done() <-chan struct{}
	Error() error
}

// Transport is a single broker connection. The Manager owns at most one
// live Transport at a time and never shares it.
type Transport interface {
	Connect() Token
	IsConnected() bool
	Publish(topic string, qos byte, payload []byte) Token
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) Token
	Disconnect()
}

// TransportOptions carries everything needed to open a connection.
type TransportOptions struct {
	BrokerURL      string
	ClientID       string
	Username       string
	Password       string
	KeepAlive      time.Duration
	ConnectTimeout time.Duration
	Will           Will

	// OnConnectionLost is invoked when an established connection drops.
	OnConnectionLost func(err error)
}

// Will is the last-will message the broker publishes if the connection
// drops without a clean disconnect.
type Will struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

// TransportFactory creates an unconnected Transport.
type TransportFactory func(opts TransportOptions) Transport

// NewPahoTransport is the production TransportFactory backed by
// paho.mqtt.golang.
func NewPahoTransport(opts TransportOptions) Transport {
	return &pahoTransport{client: pahomqtt.NewClient(buildClientOptions(opts))}
}

// pahoTransport adapts pahomqtt.Client to Transport.
type pahoTransport struct {
	client pahomqtt.Client
}

func (p *pahoTransport) Connect() Token {
	return p.client.Connect()
}

func (p *pahoTransport) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

func (p *pahoTransport) Publish(topic string, qos byte, payload []byte) Token {
	return p.client.Publish(topic, qos, false, payload)
}

func (p *pahoTransport) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) Token {
	return p.client.Subscribe(topic, qos, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		handler(msg.Topic(), msg.Payload())
	})
}

func (p *pahoTransport) Disconnect() {
	p.client.Disconnect(defaultDisconnectQuiesce)
}
