package crous

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

type box struct {
	name           string
	latMin, latMax float64
	lonMin, lonMax float64
}

// Checked in order; the first box containing the first corner wins.
var zones = []box{
	{"Paris/Île-de-France", 48.5, 49.0, 2.0, 2.5},
	{"Aix-en-Provence/Marseille", 43.2, 43.7, 5.2, 5.6},
	{"Lyon", 45.6, 45.9, 4.7, 5.1},
	{"Toulouse", 43.5, 43.7, 1.3, 1.5},
	{"Nantes", 47.1, 47.3, -1.7, -1.4},
	{"Bordeaux", 44.8, 45.0, -0.7, -0.4},
}

var reBounds = regexp.MustCompile(`bounds=([\d.,_-]+)`)

// ZoneUnknown is returned when the URL carries no usable bounds.
const ZoneUnknown = "Zone inconnue"

// ZoneFromURL labels the area watched by a search URL.
//
// The bounds parameter is lon_lat_lon_lat. A full box whose first corner
// falls in a known city returns the city name; otherwise the first corner is
// printed as "Coordonnées: lat,lon".
func ZoneFromURL(raw string) string {
	m := reBounds.FindStringSubmatch(raw)
	if m == nil {
		return ZoneUnknown
	}
	coords := strings.Split(m[1], "_")
	if len(coords) < 2 {
		return ZoneUnknown
	}
	if len(coords) >= 4 {
		lat, errLat := strconv.ParseFloat(coords[1], 64)
		lon, errLon := strconv.ParseFloat(coords[0], 64)
		if errLat == nil && errLon == nil {
			for _, z := range zones {
				if lat >= z.latMin && lat <= z.latMax && lon >= z.lonMin && lon <= z.lonMax {
					return z.name
				}
			}
		}
	}
	return fmt.Sprintf("Coordonnées: %s,%s", coords[1], coords[0])
}
