package reservation

import (
	"context"
	"sort"
)

const DefaultShopID = "3094"

// Route is where a (facility, court) pair lives on the portal.
type Route struct {
	ShopID    string
	CourtCode string
}

type Facility struct {
	ID     int
	ShopID string
	Courts map[int]string
}

// Routes maps facility/court numbers from the payload to portal identifiers.
// Anything not in the table is deliberately not booked.
type Routes struct {
	facilities map[int]Facility
}

func NewRoutes(fs []Facility) *Routes {
	r := &Routes{facilities: make(map[int]Facility, len(fs))}
	for _, f := range fs {
		r.facilities[f.ID] = f
	}
	return r
}

func DefaultRoutes() *Routes {
	return NewRoutes([]Facility{{
		ID:     1,
		ShopID: DefaultShopID,
		Courts: map[int]string{1: "479", 2: "510", 3: "511", 4: "535"},
	}})
}

func (r *Routes) Resolve(facilityID, courtNo int) (Route, bool) {
	f, ok := r.facilities[facilityID]
	if !ok {
		return Route{}, false
	}
	code, ok := f.Courts[courtNo]
	if !ok || code == "" {
		return Route{}, false
	}
	return Route{ShopID: f.ShopID, CourtCode: code}, true
}

// Facilities returns the table ordered by facility id.
func (r *Routes) Facilities() []Facility {
	out := make([]Facility, 0, len(r.facilities))
	for _, f := range r.facilities {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Booker performs one booking attempt for a routed reservation.
type Booker interface {
	Book(ctx context.Context, reserveID string, p Params, r Route) error
}
