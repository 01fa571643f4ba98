package normalize

import (
	"github.com/couchcryptid/opendata-relay/internal/domain"
)

// Forecast normalizes the CWA 36-hour county forecast (F-C0032-001).
// Each location carries parallel time series per weather element; Wx drives
// the period list and the other elements are joined by start time.
type Forecast struct{}

func (Forecast) Name() string { return "forecast" }

var forecastShapes = []shape{
	{"records.location list", func(raw any) ([]map[string]any, bool) { return listAt(raw, "records", "location") }},
	{"result.records.location list", func(raw any) ([]map[string]any, bool) { return listAt(raw, "result", "records", "location") }},
	{"records.location object", func(raw any) ([]map[string]any, bool) { return dictAt(raw, "records", "location") }},
}

func (Forecast) Normalize(raw any) (any, error) {
	switch v := raw.(type) {
	case domain.ForecastFeed:
		return v, nil
	case *domain.ForecastFeed:
		return *v, nil
	}

	if feed, ok, err := canonical[domain.ForecastFeed](raw, "locations"); ok {
		if err != nil {
			return nil, err
		}
		for _, l := range feed.Locations {
			if err := checkLocation(l); err != nil {
				return nil, err
			}
		}
		if feed.Locations == nil {
			feed.Locations = []domain.LocationForecast{}
		}
		return feed, nil
	}

	locations, err := matchShapes(raw, forecastShapes, parseLocationForecast)
	if err != nil {
		return nil, err
	}
	desc := strAt(raw, "records", "datasetDescription")
	if desc == "" {
		desc = strAt(raw, "result", "records", "datasetDescription")
	}
	return domain.ForecastFeed{Description: desc, Locations: locations}, nil
}

type elementPoint struct {
	name  string
	value string
}

func parseLocationForecast(m map[string]any) (domain.LocationForecast, error) {
	lf := domain.LocationForecast{Name: str(m["locationName"])}
	if lf.Name == "" {
		return lf, missing("locationName")
	}

	elements, ok := listAt(m, "weatherElement")
	if !ok {
		return lf, missing("weatherElement")
	}

	series := make(map[string][]map[string]any, len(elements))
	for _, e := range elements {
		times, _ := listAt(e, "time")
		series[str(e["elementName"])] = times
	}

	wx, ok := series["Wx"]
	if !ok {
		return lf, missing("weatherElement.Wx")
	}

	// Index the other elements by start time.
	byStart := make(map[string][]elementPoint)
	for name, times := range series {
		if name == "Wx" {
			continue
		}
		for _, t := range times {
			start := str(t["startTime"])
			byStart[start] = append(byStart[start], elementPoint{name: name, value: strAt(t, "parameter", "parameterName")})
		}
	}

	lf.Periods = make([]domain.ForecastPeriod, 0, len(wx))
	for _, t := range wx {
		start, ok := parseTime(t["startTime"])
		if !ok {
			return lf, missing("weatherElement.Wx.time.startTime")
		}
		end, _ := parseTime(t["endTime"])
		p := domain.ForecastPeriod{
			Start:   start,
			End:     end,
			Weather: strAt(t, "parameter", "parameterName"),
		}
		for _, pt := range byStart[str(t["startTime"])] {
			n, hasNum := integer(pt.value)
			switch pt.name {
			case "PoP":
				if hasNum {
					p.RainChance = int(n)
				}
			case "MinT":
				if hasNum {
					p.MinTempC = int(n)
				}
			case "MaxT":
				if hasNum {
					p.MaxTempC = int(n)
				}
			case "CI":
				p.Comfort = pt.value
			}
		}
		lf.Periods = append(lf.Periods, p)
	}
	return lf, checkLocation(lf)
}

func checkLocation(l domain.LocationForecast) error {
	if l.Name == "" {
		return missing("name")
	}
	for _, p := range l.Periods {
		if p.Start.IsZero() {
			return missing("periods.start")
		}
	}
	return nil
}
