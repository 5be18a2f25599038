// Package codec defines the wire encoding for ItemNotification messages
// exchanged between peers, decoupled from the transport that carries them.
package codec

import (
	"encoding/json"

	"github.com/modsagraphy/universa/item"
)

// NotificationCodec encodes and decodes the notification wire shape. All
// four Notification fields (and every field of its Result) must round-trip
// bit-equivalently so that peers
// running a different NotificationCodec implementation still agree on the
// concept.
type NotificationCodec interface {
	Encode(n item.Notification) ([]byte, error)
	Decode(data []byte) (item.Notification, error)
}

// JSON is the default NotificationCodec, encoding notifications as JSON
// using Notification's own struct tags.
type JSON struct{}

// NewJSON returns the default JSON-backed NotificationCodec.
func NewJSON() JSON { return JSON{} }

func (JSON) Encode(n item.Notification) ([]byte, error) {
	return json.Marshal(n)
}

func (JSON) Decode(data []byte) (item.Notification, error) {
	var n item.Notification
	err := json.Unmarshal(data, &n)
	return n, err
}
