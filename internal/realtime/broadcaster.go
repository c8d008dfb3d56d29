// Package realtime bridges in-process room broadcasts to the shared Redis
// pub/sub channel so that every server instance delivers to its own
// connections. No emit path writes to the local registry alone.
package realtime

import (
	"context"
	"encoding/json"

	socketio "github.com/googollee/go-socket.io"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/wavechat/wavechat-backend/pkg/utils"
)

// RoomServer is the slice of *socketio.Server the broadcaster needs.
type RoomServer interface {
	ForEach(namespace string, room string, f socketio.EachFunc) bool
}

// envelope is the wire format on the broadcast channel. Payload stays raw so
// every instance re-emits exactly what was published. Origin identifies the
// publishing instance: connection ids are per-process counters, so Except is
// only meaningful on the instance that issued it.
type envelope struct {
	Room    string          `json:"room"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Origin  string          `json:"origin,omitempty"`
	Except  string          `json:"except,omitempty"`
}

// Broadcaster publishes room events to the shared channel and replays
// everything received from it onto local connections. Publishing and
// delivering are symmetric across instances: the publishing instance gets
// its own events back through the subscription like everyone else, which
// keeps ordering uniform.
type Broadcaster struct {
	server     RoomServer
	redis      *redis.Client
	channel    string
	namespace  string
	instanceID string
	log        zerolog.Logger
}

func NewBroadcaster(server RoomServer, client *redis.Client, channel, namespace string, log zerolog.Logger) *Broadcaster {
	return &Broadcaster{
		server:     server,
		redis:      client,
		channel:    channel,
		namespace:  namespace,
		instanceID: utils.GenerateID(),
		log:        log,
	}
}

// EmitToRoom fans an event out to every member of the room on all instances.
func (b *Broadcaster) EmitToRoom(room, event string, payload interface{}) {
	b.publish(room, event, payload, "")
}

// EmitToRoomExcept skips the connection with the given id (the typing sender
// must not receive their own indicator).
func (b *Broadcaster) EmitToRoomExcept(room, exceptConnID, event string, payload interface{}) {
	b.publish(room, event, payload, exceptConnID)
}

func (b *Broadcaster) publish(room, event string, payload interface{}, except string) {
	raw, err := json.Marshal(payload)
	if err != nil {
		b.log.Error().Err(err).Str("event", event).Msg("broadcast payload marshal failed")
		return
	}
	env := envelope{Room: room, Event: event, Payload: raw, Origin: b.instanceID, Except: except}

	if b.redis != nil {
		data, _ := json.Marshal(env)
		if err := b.redis.Publish(context.Background(), b.channel, data).Err(); err == nil {
			return
		} else {
			b.log.Warn().Err(err).Str("event", event).Msg("broadcast publish failed, delivering locally only")
		}
	}

	// Degraded mode: no broker reachable, serve local connections at least.
	b.deliver(env)
}

// Run consumes the shared channel until ctx is cancelled. It must be started
// before the server accepts connections.
func (b *Broadcaster) Run(ctx context.Context) {
	pubsub := b.redis.Subscribe(ctx, b.channel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				b.log.Warn().Err(err).Msg("malformed broadcast envelope")
				continue
			}
			b.deliver(env)
		case <-ctx.Done():
			return
		}
	}
}

func (b *Broadcaster) deliver(env envelope) {
	var payload interface{}
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		b.log.Warn().Err(err).Str("event", env.Event).Msg("malformed broadcast payload")
		return
	}

	// Exclusion applies only on the publishing instance: a foreign envelope's
	// Except id refers to a connection held elsewhere, and local ids collide
	// with it freely.
	excluded := env.Except != "" && env.Origin == b.instanceID

	b.server.ForEach(b.namespace, env.Room, func(conn socketio.Conn) {
		if excluded && conn.ID() == env.Except {
			return
		}
		conn.Emit(env.Event, payload)
	})
}
