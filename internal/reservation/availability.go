package reservation

import (
	"time"

	"github.com/fekuna/omnipos-reservation-service/internal/model"
	"github.com/fekuna/omnipos-reservation-service/internal/reservation/dto"
)

// ComputeAvailability derives what is free to sell for one (product, store)
// pair from a snapshot of its stock level and reservations. It is the single
// predicate used both for read-side reporting and for the admission check in
// CreateReservation, so the two can never disagree.
//
// A nil level means no stock row exists yet and counts as zero physical stock.
// Active reservations whose expiry has passed are counted as released even if
// the reaper has not swept them yet.
func ComputeAvailability(level *model.StockLevel, reservations []model.Reservation, now time.Time) dto.Availability {
	avail := dto.Availability{}
	if level != nil {
		avail.ProductID = level.ProductID
		avail.StoreID = level.StoreID
		avail.Physical = level.Quantity
	}

	for _, r := range reservations {
		if r.ActiveAt(now) {
			avail.Reserved += r.Quantity
		}
	}

	avail.Available = avail.Physical - avail.Reserved
	if avail.Available < 0 {
		avail.Available = 0
	}
	return avail
}
