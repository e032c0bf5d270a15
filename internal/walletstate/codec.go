package walletstate

import (
	"encoding/json"

	dErrors "wwwallet/pkg/domain-errors"
)

// containerJSON is the serialized form of a container. lastFoldedEventHash is
// null until the first fold.
type containerJSON struct {
	BaseState           WalletState `json:"baseState"`
	TailEvents          []Event     `json:"tailEvents"`
	LastFoldedEventHash *string     `json:"lastFoldedEventHash"`
}

func (c Container) MarshalJSON() ([]byte, error) {
	wire := containerJSON{
		BaseState:  c.BaseState.normalize(),
		TailEvents: c.TailEvents,
	}
	if wire.TailEvents == nil {
		wire.TailEvents = []Event{}
	}
	if c.LastFoldedEventHash != "" {
		anchor := c.LastFoldedEventHash
		wire.LastFoldedEventHash = &anchor
	}
	return json.Marshal(wire)
}

func (c *Container) UnmarshalJSON(data []byte) error {
	var wire containerJSON
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	c.BaseState = wire.BaseState.normalize()
	c.TailEvents = wire.TailEvents
	if c.TailEvents == nil {
		c.TailEvents = []Event{}
	}
	c.LastFoldedEventHash = ""
	if wire.LastFoldedEventHash != nil {
		c.LastFoldedEventHash = *wire.LastFoldedEventHash
	}
	return nil
}

// Marshal encodes c in its serialized form.
func Marshal(c Container) ([]byte, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "encode container")
	}
	return data, nil
}

// Unmarshal decodes a serialized container. It does not verify the chain;
// run Engine.VerifyHistory before trusting the result.
func Unmarshal(data []byte) (Container, error) {
	var c Container
	if err := json.Unmarshal(data, &c); err != nil {
		return Container{}, dErrors.Wrap(err, dErrors.CodeCorruptHistory, "decode container")
	}
	return c, nil
}
