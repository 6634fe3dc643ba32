package utils

import (
	"math"
	"strconv"
	"strings"

	"github.com/blevesearch/bleve/v2/geo"
)

// KilometersPerMile converts between the two distance units
const KilometersPerMile = 1.609344

// DistanceLabel renders a distance in kilometers as a human-readable string.
// Anything under two miles (after rounding) reads "1 mile away".
func DistanceLabel(distanceKm float64) string {
	miles := math.Round(distanceKm / KilometersPerMile)
	if miles >= 2 {
		return strconv.FormatFloat(miles, 'f', 0, 64) + " miles away"
	}
	return "1 mile away"
}

// ParseRadiusKm parses a distance radius setting ("unlimited", "10", "10 km",
// "25 mi") into kilometers. Unlimited, empty or unparseable values fall back
// to unlimitedKm.
func ParseRadiusKm(radius string, unlimitedKm float64) float64 {
	fields := strings.Fields(strings.ToLower(strings.TrimSpace(radius)))
	if len(fields) == 0 || fields[0] == "unlimited" {
		return unlimitedKm
	}
	value, err := strconv.ParseFloat(fields[0], 64)
	if err != nil || value <= 0 {
		return unlimitedKm
	}
	if len(fields) > 1 {
		switch fields[1] {
		case "mi", "mile", "miles":
			return value * KilometersPerMile
		}
	}
	return value
}

// DistanceKm returns the great-circle distance between two points in kilometers.
func DistanceKm(lat1, lon1, lat2, lon2 float64) float64 {
	return geo.Haversin(lon1, lat1, lon2, lat2)
}

// GeoHash encodes a point as the geohash used for the profile index key.
func GeoHash(lat, lon float64) string {
	return geo.EncodeGeoHash(lat, lon)
}
