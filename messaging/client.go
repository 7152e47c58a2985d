package messaging

import (
	"context"
	"errors"
	"fmt"
	"log"
	"slices"
	"sync"
	"time"

	"telehub/config"
	"telehub/protocol"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	kafkago "github.com/segmentio/kafka-go"
)

// ErrDisabled is returned by Connect when no backend is configured.
var ErrDisabled = errors.New("messaging: disabled")

// Publisher is the outbound side of a Client.
type Publisher interface {
	PublishEnvelope(topic string, env *protocol.Envelope) error
}

// Client is the unified messaging client (MQTT or Kafka).
type Client struct {
	mu       sync.RWMutex
	cfg      *config.MessagingConfig
	backend  string
	mqttConn mqtt.Client
	kafkaW   *kafkago.Writer
	readers  []*kafkago.Reader
	ctx      context.Context
	cancel   context.CancelFunc

	// MQTT subscriptions, replayed on every (re)connect.
	subMu sync.Mutex
	subs  []subscription

	connectWait time.Duration
}

type subscription struct {
	topic   string
	handler func(payload []byte)
}

const defaultConnectWait = 10 * time.Second

func NewClient(cfg *config.MessagingConfig) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		cfg:         cfg,
		backend:     cfg.Backend,
		ctx:         ctx,
		cancel:      cancel,
		connectWait: defaultConnectWait,
	}
}

// Connect establishes the messaging connection. An MQTT broker that does
// not answer in time is not an error: the client keeps retrying in the
// background and subscribes once it gets through.
func (c *Client) Connect() error {
	switch c.backend {
	case "mqtt":
		return c.connectMQTT()
	case "kafka":
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.connectKafka()
	case "":
		return ErrDisabled
	default:
		return fmt.Errorf("unknown messaging backend: %s", c.backend)
	}
}

func (c *Client) connectMQTT() error {
	broker := fmt.Sprintf("tcp://%s:%d", c.cfg.MQTT.Broker, c.cfg.MQTT.Port)
	clientID := c.cfg.MQTT.ClientID
	if clientID == "" {
		clientID = c.cfg.HubID
	}
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOnConnectHandler(c.onMQTTConnect).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			log.Printf("messaging: mqtt connection lost: %v", err)
		})

	client := mqtt.NewClient(opts)
	c.mu.Lock()
	c.mqttConn = client
	c.mu.Unlock()

	token := client.Connect()
	if !token.WaitTimeout(c.connectWait) {
		log.Printf("messaging: mqtt %s not reachable yet, retrying in background", broker)
		return nil
	}
	if err := token.Error(); err != nil {
		c.mu.Lock()
		if c.mqttConn == client {
			c.mqttConn = nil
		}
		c.mu.Unlock()
		client.Disconnect(0)
		return fmt.Errorf("mqtt connect: %w", err)
	}
	log.Printf("messaging: connected to mqtt %s", broker)
	return nil
}

// onMQTTConnect subscribes every registered topic on the fresh session.
func (c *Client) onMQTTConnect(client mqtt.Client) {
	c.subMu.Lock()
	subs := slices.Clone(c.subs)
	c.subMu.Unlock()
	for _, sub := range subs {
		if err := subscribeMQTT(client, sub); err != nil {
			log.Printf("messaging: mqtt subscribe %s: %v", sub.topic, err)
		}
	}
	if len(subs) > 0 {
		log.Printf("messaging: mqtt connected, %d topics subscribed", len(subs))
	}
}

func subscribeMQTT(client mqtt.Client, sub subscription) error {
	token := client.Subscribe(sub.topic, 1, func(_ mqtt.Client, msg mqtt.Message) {
		sub.handler(msg.Payload())
	})
	token.Wait()
	return token.Error()
}

func (c *Client) connectKafka() error {
	if len(c.cfg.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka: no brokers configured")
	}
	c.kafkaW = &kafkago.Writer{
		Addr:                   kafkago.TCP(c.cfg.Kafka.Brokers...),
		Balancer:               &kafkago.LeastBytes{},
		RequiredAcks:           kafkago.RequireOne,
		AllowAutoTopicCreation: true,
	}
	log.Printf("messaging: kafka writer ready (%v)", c.cfg.Kafka.Brokers)
	return nil
}

// Publish sends a message to topic.
func (c *Client) Publish(topic string, payload []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	switch c.backend {
	case "mqtt":
		if c.mqttConn == nil || !c.mqttConn.IsConnected() {
			return fmt.Errorf("mqtt not connected")
		}
		token := c.mqttConn.Publish(topic, 1, false, payload)
		token.Wait()
		return token.Error()
	case "kafka":
		if c.kafkaW == nil {
			return fmt.Errorf("kafka writer not initialized")
		}
		return c.kafkaW.WriteMessages(c.ctx, kafkago.Message{
			Topic: topic,
			Value: payload,
		})
	default:
		return fmt.Errorf("unknown backend: %s", c.backend)
	}
}

// PublishEnvelope encodes and publishes a protocol envelope to topic.
func (c *Client) PublishEnvelope(topic string, env *protocol.Envelope) error {
	data, err := env.Encode()
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	return c.Publish(topic, data)
}

// Subscribe registers a handler for messages on topic. MQTT subscriptions
// are kept and renewed after every reconnect; Kafka readers run until Close.
func (c *Client) Subscribe(topic string, handler func(payload []byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.backend {
	case "mqtt":
		if c.mqttConn == nil {
			return fmt.Errorf("mqtt client not created")
		}
		sub := subscription{topic: topic, handler: handler}
		c.subMu.Lock()
		c.subs = append(c.subs, sub)
		c.subMu.Unlock()
		if !c.mqttConn.IsConnected() {
			return nil
		}
		return subscribeMQTT(c.mqttConn, sub)
	case "kafka":
		r := kafkago.NewReader(kafkago.ReaderConfig{
			Brokers: c.cfg.Kafka.Brokers,
			Topic:   topic,
			GroupID: c.cfg.Kafka.GroupID,
		})
		c.readers = append(c.readers, r)
		go func() {
			for {
				msg, err := r.ReadMessage(c.ctx)
				if err != nil {
					if c.ctx.Err() == nil {
						log.Printf("messaging: kafka read %s: %v", topic, err)
					}
					return
				}
				handler(msg.Value)
			}
		}()
		return nil
	default:
		return fmt.Errorf("unknown backend: %s", c.backend)
	}
}

func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	switch c.backend {
	case "mqtt":
		return c.mqttConn != nil && c.mqttConn.IsConnected()
	case "kafka":
		return c.kafkaW != nil
	default:
		return false
	}
}

func (c *Client) Backend() string { return c.backend }

// Close shuts down the messaging connection.
func (c *Client) Close() {
	c.cancel()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mqttConn != nil {
		c.mqttConn.Disconnect(1000)
		c.mqttConn = nil
	}
	if c.kafkaW != nil {
		c.kafkaW.Close()
		c.kafkaW = nil
	}
	for _, r := range c.readers {
		r.Close()
	}
	c.readers = nil
}
