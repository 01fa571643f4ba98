package normalize

import (
	"github.com/couchcryptid/opendata-relay/internal/domain"
)

// AirQuality normalizes the MOENV hourly AQI dataset (aqx_p_432). An
// unauthorized key yields a fields-only body, reported as EmptySchema.
type AirQuality struct{}

func (AirQuality) Name() string { return "airquality" }

var airQualityShapes = []shape{
	{"records list", func(raw any) ([]map[string]any, bool) { return listAt(raw, "records") }},
	{"result.records list", func(raw any) ([]map[string]any, bool) { return listAt(raw, "result", "records") }},
	{"bare list", func(raw any) ([]map[string]any, bool) { return objects(raw) }},
}

func (AirQuality) Normalize(raw any) (any, error) {
	switch v := raw.(type) {
	case domain.AirQualityFeed:
		return v, nil
	case *domain.AirQualityFeed:
		return *v, nil
	}

	if feed, ok, err := canonical[domain.AirQualityFeed](raw, "stations"); ok {
		if err != nil {
			return nil, err
		}
		for _, s := range feed.Stations {
			if err := checkAirStation(s); err != nil {
				return nil, err
			}
		}
		if feed.Stations == nil {
			feed.Stations = []domain.AirStation{}
		}
		return feed, nil
	}

	stations, err := matchShapes(raw, airQualityShapes, parseAirStation)
	if err != nil {
		return nil, err
	}
	return domain.AirQualityFeed{Stations: stations}, nil
}

func parseAirStation(m map[string]any) (domain.AirStation, error) {
	s := domain.AirStation{
		Name:      firstStr(m, "sitename", "SiteName"),
		County:    firstStr(m, "county", "County"),
		Status:    firstStr(m, "status", "Status"),
		Pollutant: firstStr(m, "pollutant", "Pollutant"),
	}
	if s.Name == "" {
		return s, missing("sitename")
	}

	// A station under maintenance publishes an empty AQI; keep it with -1.
	s.AQI = -1
	if aqi, ok := integer(firstValue(m, "aqi", "AQI")); ok {
		s.AQI = int(aqi)
	}
	s.PM25, _ = num(firstValue(m, "pm2.5", "PM2.5"))

	var ok bool
	s.PublishedAt, ok = parseTime(firstValue(m, "publishtime", "PublishTime"))
	if !ok {
		return s, missing("publishtime")
	}
	return s, checkAirStation(s)
}

func checkAirStation(s domain.AirStation) error {
	if s.Name == "" {
		return missing("name")
	}
	if s.PublishedAt.IsZero() {
		return missing("publishedAt")
	}
	return nil
}
