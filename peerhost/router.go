package peerhost

import "sync"

// TopicHandler is invoked for every inbound message on a subscribed topic,
// after self-message suppression has already dropped messages
// whose sender is the local peer.
type TopicHandler func(senderID string, payload []byte)

// Router is the topic-based pub/sub surface the gossip layer builds on,
// grounded on netadapter/netadapter.go's RouterInitializer registration
// pattern: components subscribe handlers by topic string rather than the
// Host dispatching by message type.
type Router struct {
	mu       sync.RWMutex
	handlers map[string][]TopicHandler
}

// NewRouter returns an empty Router.
func NewRouter() *Router {
	return &Router{handlers: make(map[string][]TopicHandler)}
}

// Subscribe registers handler to be invoked for every message received on
// topic.
func (r *Router) Subscribe(topic string, handler TopicHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[topic] = append(r.handlers[topic], handler)
}

func (r *Router) dispatch(topic, senderID string, payload []byte) {
	r.mu.RLock()
	handlers := append([]TopicHandler(nil), r.handlers[topic]...)
	r.mu.RUnlock()
	for _, h := range handlers {
		h(senderID, payload)
	}
}
