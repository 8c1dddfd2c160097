package world

// Message is one outbound frame. An empty Session addresses every connected
// session.
type Message struct {
	Session string         `json:"session,omitempty"`
	Kind    string         `json:"kind"`
	Data    map[string]any `json:"data,omitempty"`
}

// Outbox collects outbound messages during a tick. Systems and the broadcast
// capability append; the output phase drains everything to the gateway in
// append order. Single-goroutine access only (tick loop).
type Outbox struct {
	queue []Message
}

func NewOutbox() *Outbox {
	return &Outbox{queue: make([]Message, 0, 64)}
}

// Send queues a frame for one session.
func (o *Outbox) Send(session, kind string, data map[string]any) {
	o.queue = append(o.queue, Message{Session: session, Kind: kind, Data: data})
}

// Broadcast queues a frame for every connected session.
func (o *Outbox) Broadcast(kind string, data map[string]any) {
	o.queue = append(o.queue, Message{Kind: kind, Data: data})
}

// Drain returns the queued messages in append order and resets the queue.
func (o *Outbox) Drain() []Message {
	if len(o.queue) == 0 {
		return nil
	}
	out := o.queue
	o.queue = make([]Message, 0, 64)
	return out
}

func (o *Outbox) Len() int { return len(o.queue) }
