package ransac

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Publisher publishes solutions to MQTT: the full solution to
// <prefix>/solutions/<id> and a summary of every solution in the result
// store to <prefix>/solutions.
type Publisher struct {
	client mqtt.Client
	prefix string
	qos    byte
	retain bool
	store  *ResultStore
}

// NewPublisher creates a publisher. A nil client disables publishing. The
// summary topic lists the solutions held by store, including those solved
// over HTTP or loaded from the cache.
func NewPublisher(client mqtt.Client, prefix string, store *ResultStore) *Publisher {
	if prefix == "" {
		prefix = "loransac"
	}
	return &Publisher{
		client: client,
		prefix: prefix,
		qos:    1,
		retain: true,
		store:  store,
	}
}

// PublishSolution publishes a solution and the refreshed summary list
func (p *Publisher) PublishSolution(s *Solution) error {
	if p.client == nil || !p.client.IsConnected() {
		return fmt.Errorf("MQTT client not connected")
	}

	if err := p.publish(fmt.Sprintf("%s/solutions/%s", p.prefix, s.ID), s); err != nil {
		return err
	}
	log.Printf("[MQTT] published solution %s: %d/%d inliers", s.ID, s.Score.Inliers, s.Total)

	message := map[string]interface{}{
		"solutions": p.Summaries(),
		"timestamp": time.Now().Unix(),
	}
	return p.publish(p.prefix+"/solutions", message)
}

// PublishError reports a request that could not be solved
func (p *Publisher) PublishError(problemID string, solveErr error) error {
	if p.client == nil || !p.client.IsConnected() {
		return fmt.Errorf("MQTT client not connected")
	}
	message := map[string]interface{}{
		"id":        problemID,
		"error":     solveErr.Error(),
		"timestamp": time.Now().Unix(),
	}
	// Errors are not retained so a later success replaces nothing stale
	topic := fmt.Sprintf("%s/errors/%s", p.prefix, problemID)
	payload, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("marshaling error report: %w", err)
	}
	token := p.client.Publish(topic, p.qos, false, payload)
	if token.WaitTimeout(2*time.Second) && token.Error() != nil {
		return fmt.Errorf("publishing to %s: %w", topic, token.Error())
	}
	return nil
}

func (p *Publisher) publish(topic string, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", topic, err)
	}
	token := p.client.Publish(topic, p.qos, p.retain, payload)
	if token.WaitTimeout(2*time.Second) && token.Error() != nil {
		return fmt.Errorf("publishing to %s: %w", topic, token.Error())
	}
	return nil
}

// Summaries returns the store's solution summaries sorted by ID
func (p *Publisher) Summaries() []Summary {
	if p.store == nil {
		return []Summary{}
	}
	return p.store.List()
}

// SetQoS sets the Quality of Service level for publishing (0, 1, or 2)
func (p *Publisher) SetQoS(qos byte) {
	if qos <= 2 {
		p.qos = qos
	}
}

// SetRetain sets whether solutions are retained by the broker
func (p *Publisher) SetRetain(retain bool) {
	p.retain = retain
}
