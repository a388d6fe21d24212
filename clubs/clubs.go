// Package clubs holds the static club table and the geographic helpers used
// to select clubs around a search point.
package clubs

import (
	"math"

	"padel-finder/types"
)

// Club identifiers. Adapters are registered under the same ids.
const (
	IndoorAix   = "padel-indoor-aix"
	AllInPadel  = "all-in-padel"
	CasaPadel   = "casa-padel"
	UrbanPadel  = "urban-padel"
	Pertuis     = "padel-pertuis"
	LeFive      = "le-five-padel"
	ArenaPadel  = "padel-arena"
	earthRadius = 6371.0
)

var all = []types.Club{
	{
		ID:         IndoorAix,
		Name:       "Padel Indoor Aix",
		Latitude:   43.5298,
		Longitude:  5.4474,
		Address:    "1090 Rue René Descartes, 13100 Aix-en-Provence",
		Type:       "Indoor",
		CourtType:  types.CourtIndoor,
		BookingURL: "https://padel-indoor-aix.fr/reservation",
		Courts: map[string]string{
			"Terrain 1": types.CourtIndoor,
			"Terrain 2": types.CourtIndoor,
			"Terrain 3": types.CourtIndoor,
			"Terrain 4": types.CourtIndoor,
		},
	},
	{
		ID:         AllInPadel,
		Name:       "All In Padel",
		Latitude:   43.4765,
		Longitude:  5.3700,
		Address:    "ZA Les Milles, 13290 Aix-en-Provence",
		Type:       "Mixte",
		CourtType:  types.CourtMixed,
		BookingURL: "https://allinpadel.fr/reserver",
	},
	{
		ID:         CasaPadel,
		Name:       "Casa Padel",
		Latitude:   43.64,
		Longitude:  5.16,
		Address:    "Chemin des Canaux, 13680 Lançon-Provence",
		Type:       "Mixte",
		CourtType:  types.CourtMixed,
		BookingURL: "https://casapadel.doinsport.club",
		Courts: map[string]string{
			"Padel 1":  types.CourtIndoor,
			"Padel 2":  types.CourtIndoor,
			"Padel 3":  types.CourtOutdoor,
			"Padel 4":  types.CourtOutdoor,
			"Single 1": types.CourtOutdoor,
		},
	},
	{
		ID:         UrbanPadel,
		Name:       "Urban Padel Marseille",
		Latitude:   43.2965,
		Longitude:  5.3698,
		Address:    "12 Boulevard de Paris, 13002 Marseille",
		Type:       "Extérieur",
		CourtType:  types.CourtOutdoor,
		BookingURL: "https://urbanpadel-marseille.fr/planning",
	},
	{
		ID:         Pertuis,
		Name:       "Padel Club Pertuis",
		Latitude:   43.6942,
		Longitude:  5.5019,
		Address:    "Route de la Bastidonne, 84120 Pertuis",
		Type:       "Mixte",
		CourtType:  types.CourtMixed,
		BookingURL: "https://padelclubpertuis.gestion-sports.com/membre/reservation.html",
		Courts: map[string]string{
			"Court 1": types.CourtIndoor,
			"Court 2": types.CourtIndoor,
			"Court 3": types.CourtOutdoor,
		},
	},
	{
		ID:         LeFive,
		Name:       "Le Five Padel Aix",
		Latitude:   43.50,
		Longitude:  5.40,
		Address:    "Avenue Henri Mouret, 13100 Aix-en-Provence",
		Type:       "Indoor",
		CourtType:  types.CourtIndoor,
		BookingURL: "https://lefive.fr/aix-en-provence/reservation",
	},
	{
		ID:         ArenaPadel,
		Name:       "Padel Arena Vitrolles",
		Latitude:   43.4550,
		Longitude:  5.2480,
		Address:    "Zone Anjoly, 13127 Vitrolles",
		Type:       "Extérieur",
		CourtType:  types.CourtOutdoor,
		BookingURL: "https://padelarena-vitrolles.fr",
	},
}

// All returns a copy of the static club table.
func All() []types.Club {
	out := make([]types.Club, len(all))
	copy(out, all)
	return out
}

// ByID looks up a club in the static table.
func ByID(id string) (types.Club, bool) {
	for _, c := range all {
		if c.ID == id {
			return c, true
		}
	}
	return types.Club{}, false
}

// Haversine returns the great-circle distance in kilometres.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadius * c
}

// WithinRadius keeps the clubs whose distance to (lat, lon) is at most radiusKm.
func WithinRadius(list []types.Club, lat, lon, radiusKm float64) []types.Club {
	out := make([]types.Club, 0, len(list))
	for _, c := range list {
		if Haversine(lat, lon, c.Latitude, c.Longitude) <= radiusKm {
			out = append(out, c)
		}
	}
	return out
}

func toRad(deg float64) float64 {
	return deg * math.Pi / 180
}
