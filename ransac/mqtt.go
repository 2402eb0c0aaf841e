package ransac

import (
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// RequestHandler is called for every problem received over MQTT.
// Parameters: problemID (from the topic), decoded problem, decode error.
type RequestHandler func(problemID string, problem *Problem, err error)

// MQTTClient subscribes to problem requests
type MQTTClient struct {
	client      mqtt.Client
	prefix      string
	handler     RequestHandler
	isConnected bool
	mu          sync.RWMutex
}

// MQTTSettings resolves the effective connection settings: environment
// variables win over the config file, which wins over built-in defaults.
func MQTTSettings(config *Config) MQTTConfig {
	var s MQTTConfig
	if config != nil {
		s = config.MQTT
	}
	if v := os.Getenv("MQTT_BROKER"); v != "" {
		s.Broker = v
	}
	if v := os.Getenv("MQTT_CLIENT_ID"); v != "" {
		s.ClientID = v
	}
	if v := os.Getenv("MQTT_USERNAME"); v != "" {
		s.Username = v
	}
	if v := os.Getenv("MQTT_PASSWORD"); v != "" {
		s.Password = v
	}
	if v := os.Getenv("MQTT_PUBLISH_PREFIX"); v != "" {
		s.PublishPrefix = v
	}
	if s.ClientID == "" {
		s.ClientID = "loransac"
	}
	if s.PublishPrefix == "" {
		s.PublishPrefix = "loransac"
	}
	return s
}

// InitMQTT creates the request client and starts connecting in the
// background. It returns nil when no broker is configured.
func InitMQTT(config *Config, handler RequestHandler) (*MQTTClient, error) {
	s := MQTTSettings(config)
	if s.Broker == "" {
		log.Println("MQTT disabled: MQTT_BROKER not set")
		return nil, nil
	}
	if handler == nil {
		return nil, fmt.Errorf("MQTT enabled but no request handler provided")
	}

	client := &MQTTClient{
		prefix:  s.PublishPrefix,
		handler: handler,
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(s.Broker)
	opts.SetClientID(s.ClientID)
	if s.Username != "" {
		opts.SetUsername(s.Username)
		opts.SetPassword(s.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetCleanSession(false) // keep the request subscription across reconnects
	opts.SetOrderMatters(false) // solve requests concurrently

	opts.SetOnConnectHandler(client.onConnect)
	opts.SetConnectionLostHandler(client.onConnectionLost)
	opts.SetReconnectingHandler(func(mqtt.Client, *mqtt.ClientOptions) {
		log.Println("[MQTT] reconnecting...")
	})

	client.client = mqtt.NewClient(opts)
	go client.connectWithRetry()

	return client, nil
}

// RequestTopic is the subscription filter for problem requests
func (c *MQTTClient) RequestTopic() string {
	return c.prefix + "/requests/+"
}

// connectWithRetry connects with exponential backoff capped at one minute
func (c *MQTTClient) connectWithRetry() {
	retryDelay := 1 * time.Second
	const maxRetryDelay = 60 * time.Second

	for {
		log.Println("[MQTT] connecting to broker...")

		token := c.client.Connect()
		if token.WaitTimeout(10 * time.Second) {
			if token.Error() == nil {
				log.Println("[MQTT] connected")
				c.setConnected(true)
				return
			}
			log.Printf("[MQTT] connection failed: %v", token.Error())
		} else {
			log.Println("[MQTT] connection timeout")
		}

		log.Printf("[MQTT] retrying in %v", retryDelay)
		time.Sleep(retryDelay)
		retryDelay = min(retryDelay*2, maxRetryDelay)
	}
}

func (c *MQTTClient) onConnect(client mqtt.Client) {
	c.setConnected(true)
	topic := c.RequestTopic()
	log.Printf("[MQTT] subscribing to %s", topic)

	token := client.Subscribe(topic, 1, c.handleRequest)
	if token.WaitTimeout(5*time.Second) && token.Error() != nil {
		log.Printf("[MQTT] error subscribing to %s: %v", topic, token.Error())
	}
}

// onConnectionLost is transient; auto-reconnect takes over
func (c *MQTTClient) onConnectionLost(client mqtt.Client, err error) {
	log.Printf("[MQTT] connection interrupted (%v), auto-reconnect will retry", err)
	c.setConnected(false)
}

func (c *MQTTClient) handleRequest(client mqtt.Client, msg mqtt.Message) {
	payload := msg.Payload()
	id, ok := requestID(c.prefix, msg.Topic())
	if !ok {
		log.Printf("[MQTT] ignoring message on unexpected topic %s", msg.Topic())
		return
	}
	log.Printf("[MQTT] received problem %s (%d bytes)", id, len(payload))

	problem, err := ParseProblem(payload)
	if err == nil && problem.ID != id {
		err = fmt.Errorf("%w: payload id %q does not match topic id %q", ErrInvalidProblem, problem.ID, id)
		problem = nil
	}
	if err != nil {
		log.Printf("[MQTT] error decoding problem %s: %v", id, err)
	}
	c.handler(id, problem, err)
}

// requestID extracts the problem ID from <prefix>/requests/<id>
func requestID(prefix, topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, prefix+"/requests/")
	if !ok || rest == "" || strings.Contains(rest, "/") {
		return "", false
	}
	return rest, true
}

// IsConnected returns true if the MQTT client is connected
func (c *MQTTClient) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isConnected
}

func (c *MQTTClient) setConnected(connected bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.isConnected = connected
}

// Disconnect gracefully closes the MQTT connection
func (c *MQTTClient) Disconnect() {
	if c.client != nil && c.client.IsConnected() {
		log.Println("[MQTT] disconnecting...")
		c.client.Disconnect(250)
		c.setConnected(false)
	}
}

// GetClient returns the underlying MQTT client for publishing
func (c *MQTTClient) GetClient() mqtt.Client {
	return c.client
}

// newMQTTClientWithMock wires an existing mqtt.Client, used by tests
func newMQTTClientWithMock(client mqtt.Client, prefix string, handler RequestHandler) *MQTTClient {
	return &MQTTClient{
		client:  client,
		prefix:  prefix,
		handler: handler,
	}
}
