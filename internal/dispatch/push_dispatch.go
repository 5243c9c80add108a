package dispatch

import (
	"errors"

	"github.com/consultora1700/mubitt-san-juan/internal/models"
)

// ChainChannel tries each channel in order until one delivers. The
// server composes it as websocket first, then FCM, then a webhook
// gateway, depending on what is configured.
type ChainChannel struct {
	channels []OfferChannel
}

func Chain(channels ...OfferChannel) *ChainChannel {
	return &ChainChannel{channels: channels}
}

func (c *ChainChannel) Deliver(offer models.MatchOffer) error {
	var errs []error
	for _, ch := range c.channels {
		err := ch.Deliver(offer)
		if err == nil {
			return nil
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return ErrNoSession
	}
	return errors.Join(errs...)
}
