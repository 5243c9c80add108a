package dispatch

import (
	"context"
	"sync"

	"github.com/consultora1700/mubitt-san-juan/internal/models"
)

// OfferChannel delivers an offer to the driver's device. Delivery is
// best-effort; the acceptance timeout covers lost offers.
type OfferChannel interface {
	Deliver(offer models.MatchOffer) error
}

// OfferRegistry tracks in-flight offers and routes driver responses
// back to the match engine. Expiry is enforced here on the server side
// through the context the engine passes to Issue; a response arriving
// after resolution gets ErrStaleOffer.
type OfferRegistry struct {
	mu      sync.Mutex
	pending map[string]*pendingOffer
	channel OfferChannel
}

type pendingOffer struct {
	offer    *models.MatchOffer
	decision chan bool
	resolved bool
}

func NewOfferRegistry(channel OfferChannel) *OfferRegistry {
	return &OfferRegistry{pending: make(map[string]*pendingOffer), channel: channel}
}

// Issue registers the offer, pushes it to the driver, and blocks until
// the driver responds or ctx is done (timeout or trip cancellation).
func (r *OfferRegistry) Issue(ctx context.Context, offer *models.MatchOffer) (bool, error) {
	po := &pendingOffer{offer: offer, decision: make(chan bool, 1)}
	r.mu.Lock()
	r.pending[offer.ID] = po
	r.mu.Unlock()
	defer r.drop(offer.ID)

	if r.channel != nil {
		go func() { _ = r.channel.Deliver(*offer) }()
	}

	select {
	case d := <-po.decision:
		return d, nil
	case <-ctx.Done():
		// the driver's decision may have landed at the same instant;
		// whoever flips resolved under the lock wins, so a driver told
		// "accepted" is never treated as expired
		r.mu.Lock()
		if po.resolved {
			r.mu.Unlock()
			return <-po.decision, nil
		}
		po.resolved = true
		r.mu.Unlock()
		return false, ctx.Err()
	}
}

// Respond resolves a pending offer with the driver's decision. The
// decision is buffered under the lock so Issue can always observe it
// once resolved is set.
func (r *OfferRegistry) Respond(driverID, offerID string, accept bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	po, ok := r.pending[offerID]
	if !ok {
		return models.ErrOfferExpired
	}
	if po.offer.DriverID != driverID {
		return models.InvalidInput("driver_id", "offer was not issued to this driver")
	}
	if po.resolved {
		return models.ErrStaleOffer
	}
	po.resolved = true
	po.decision <- accept
	return nil
}

func (r *OfferRegistry) drop(offerID string) {
	r.mu.Lock()
	delete(r.pending, offerID)
	r.mu.Unlock()
}

// PendingFor returns the pending offer currently addressed to a driver,
// if any. Used by reconnecting driver sessions to re-fetch their offer.
func (r *OfferRegistry) PendingFor(driverID string) (models.MatchOffer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, po := range r.pending {
		if po.offer.DriverID == driverID && !po.resolved {
			return *po.offer, true
		}
	}
	return models.MatchOffer{}, false
}
