package ingest

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Envelope is an encoded queue message plus its ordering key.
type Envelope struct {
	Key        string
	Body       []byte
	Attributes map[string]string
}

// Delivery is one received Envelope. Exactly one of Ack or Nack should be
// called; Nack requests redelivery.
type Delivery struct {
	Envelope
	Attempt int
	ack     func()
	nack    func()
}

// NewDelivery wraps an envelope with its acknowledgement callbacks.
func NewDelivery(env Envelope, attempt int, ack, nack func()) Delivery {
	return Delivery{Envelope: env, Attempt: attempt, ack: ack, nack: nack}
}

// Ack confirms processing.
func (d Delivery) Ack() {
	if d.ack != nil {
		d.ack()
	}
}

// Nack requests redelivery.
func (d Delivery) Nack() {
	if d.nack != nil {
		d.nack()
	}
}

// Encode marshals v into an Envelope with the given ordering key.
func Encode(key string, v any) (Envelope, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal message: %w", err)
	}
	return Envelope{Key: key, Body: body}, nil
}

// Decode unmarshals a delivery body into v and validates struct tags.
// Failures wrap ErrMalformed.
func Decode(body []byte, v any) error {
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("%w: unmarshal: %w", ErrMalformed, err)
	}
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("%w: validate: %w", ErrMalformed, err)
	}
	return nil
}

// Validate checks struct tags on v.
func Validate(v any) error {
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("validate: %w", err)
	}
	return nil
}
