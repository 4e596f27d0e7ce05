package dispatch

import (
	"encoding/json"
	"fmt"

	"github.com/herald-io/herald/model"
)

// Envelope is the serialized form of one message body. Sockets receive it
// msgpack-framed; push relays receive it as JSON. Only one of the payload
// fields is set, matching the kind.
type Envelope struct {
	Kind     string                `json:"kind" msgpack:"kind"`
	Entities []string              `json:"entities,omitempty" msgpack:"entities,omitempty"`
	Changes  []model.PendingChange `json:"changes,omitempty" msgpack:"changes,omitempty"`
	Alert    *model.Alert          `json:"alert,omitempty" msgpack:"alert,omitempty"`
}

// envelopeFor builds the wire envelope from a message body.
func envelopeFor(msg *model.Message) (*Envelope, error) {
	env := &Envelope{Kind: msg.Kind}
	switch msg.Kind {
	case model.KindRevalidation:
		entities, ok := msg.Body.([]string)
		if !ok {
			return nil, fmt.Errorf("revalidation message body is %T, want []string", msg.Body)
		}
		env.Entities = entities
	case model.KindChange:
		changes, ok := msg.Body.([]model.PendingChange)
		if !ok {
			return nil, fmt.Errorf("change message body is %T, want []model.PendingChange", msg.Body)
		}
		env.Changes = changes
	case model.KindAlert:
		alert, ok := msg.Body.(*model.Alert)
		if !ok {
			return nil, fmt.Errorf("alert message body is %T, want *model.Alert", msg.Body)
		}
		env.Alert = alert
	default:
		return nil, fmt.Errorf("unknown message kind %q", msg.Kind)
	}
	return env, nil
}

// serializeJSON renders the envelope for push delivery. json.Marshal is
// deterministic for identical content, which the payload dedup relies on.
func (e *Envelope) serializeJSON() ([]byte, error) {
	return json.Marshal(e)
}
