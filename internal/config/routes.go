package config

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/BurntSushi/toml"

	"github.com/example/courtres/internal/reservation"
)

// routesFile is the TOML layout:
//
//	[[facility]]
//	id = 1
//	shop_id = "3094"
//	[facility.courts]
//	1 = "479"
type routesFile struct {
	Facilities []struct {
		ID     int               `toml:"id"`
		ShopID string            `toml:"shop_id"`
		Courts map[string]string `toml:"courts"`
	} `toml:"facility"`
}

func LoadRoutes(path string) (*reservation.Routes, error) {
	var f routesFile
	md, err := toml.DecodeFile(path, &f)
	if err != nil {
		return nil, fmt.Errorf("routes %s: %w", path, err)
	}
	if undec := md.Undecoded(); len(undec) > 0 {
		return nil, fmt.Errorf("routes %s: unknown keys %v", path, undec)
	}
	return buildRoutes(f)
}

func ParseRoutes(data string) (*reservation.Routes, error) {
	var f routesFile
	if _, err := toml.Decode(data, &f); err != nil {
		return nil, fmt.Errorf("routes: %w", err)
	}
	return buildRoutes(f)
}

func buildRoutes(f routesFile) (*reservation.Routes, error) {
	if len(f.Facilities) == 0 {
		return nil, errors.New("routes: no facilities")
	}
	seen := map[int]bool{}
	out := make([]reservation.Facility, 0, len(f.Facilities))
	for _, fac := range f.Facilities {
		if fac.ID < 1 {
			return nil, fmt.Errorf("routes: facility id %d must be positive", fac.ID)
		}
		if seen[fac.ID] {
			return nil, fmt.Errorf("routes: facility %d listed twice", fac.ID)
		}
		seen[fac.ID] = true
		if fac.ShopID == "" {
			return nil, fmt.Errorf("routes: facility %d has no shop_id", fac.ID)
		}
		courts := make(map[int]string, len(fac.Courts))
		for k, code := range fac.Courts {
			n, err := strconv.Atoi(k)
			if err != nil || n < 1 {
				return nil, fmt.Errorf("routes: facility %d court %q is not a positive number", fac.ID, k)
			}
			if code == "" {
				return nil, fmt.Errorf("routes: facility %d court %d has no code", fac.ID, n)
			}
			courts[n] = code
		}
		out = append(out, reservation.Facility{ID: fac.ID, ShopID: fac.ShopID, Courts: courts})
	}
	return reservation.NewRoutes(out), nil
}
