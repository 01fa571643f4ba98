package normalize

import (
	"strings"
	"unicode"

	"github.com/couchcryptid/opendata-relay/internal/domain"
)

// Earthquake normalizes CWA earthquake report feeds (E-A0015-001 significant
// reports and E-A0016-001 small-area reports). Both share one record layout.
type Earthquake struct{}

func (Earthquake) Name() string { return "earthquake" }

// earthquakeShapes lists the historical layouts of the earthquake endpoint
// in priority order.
var earthquakeShapes = []shape{
	{"records.Earthquake list", func(raw any) ([]map[string]any, bool) { return listAt(raw, "records", "Earthquake") }},
	{"result.records.Earthquake list", func(raw any) ([]map[string]any, bool) { return listAt(raw, "result", "records", "Earthquake") }},
	{"records.Earthquake object", func(raw any) ([]map[string]any, bool) { return dictAt(raw, "records", "Earthquake") }},
	{"result.records.Earthquake object", func(raw any) ([]map[string]any, bool) { return dictAt(raw, "result", "records", "Earthquake") }},
	{"bare record", func(raw any) ([]map[string]any, bool) {
		m, ok := asMap(raw)
		if !ok || !hasAny(m, "EarthquakeNo", "ReportContent", "EarthquakeInfo") {
			return nil, false
		}
		return []map[string]any{m}, true
	}},
	{"bare list", func(raw any) ([]map[string]any, bool) { return objects(raw) }},
}

func (Earthquake) Normalize(raw any) (any, error) {
	switch v := raw.(type) {
	case domain.EarthquakeFeed:
		return v, nil
	case *domain.EarthquakeFeed:
		return *v, nil
	}

	if feed, ok, err := canonical[domain.EarthquakeFeed](raw, "reports"); ok {
		if err != nil {
			return nil, err
		}
		for _, r := range feed.Reports {
			if err := checkEarthquake(r); err != nil {
				return nil, err
			}
		}
		if feed.Reports == nil {
			feed.Reports = []domain.EarthquakeReport{}
		}
		return feed, nil
	}

	reports, err := matchShapes(raw, earthquakeShapes, parseEarthquake)
	if err != nil {
		return nil, err
	}
	return domain.EarthquakeFeed{Reports: reports}, nil
}

func parseEarthquake(m map[string]any) (domain.EarthquakeReport, error) {
	var r domain.EarthquakeReport

	id, ok := integer(m["EarthquakeNo"])
	if !ok || id == 0 {
		return r, missing("EarthquakeNo")
	}
	r.ID = id

	r.ReportText = str(m["ReportContent"])
	if r.ReportText == "" {
		return r, missing("ReportContent")
	}

	info, ok := asMap(m["EarthquakeInfo"])
	if !ok {
		return r, missing("EarthquakeInfo")
	}

	r.OriginTime, ok = parseTime(info["OriginTime"])
	if !ok {
		return r, missing("EarthquakeInfo.OriginTime")
	}

	r.Magnitude, ok = numAt(info, "EarthquakeMagnitude", "MagnitudeValue")
	if !ok {
		if r.Magnitude, ok = numAt(info, "Magnitude", "MagnitudeValue"); !ok {
			return r, missing("EarthquakeInfo.EarthquakeMagnitude.MagnitudeValue")
		}
	}

	if depth, ok := num(info["FocalDepth"]); ok {
		r.DepthKm = depth
	} else if depth, ok := numAt(info, "Depth", "Value"); ok {
		r.DepthKm = depth
	}

	epi, _ := asMap(info["Epicenter"])
	r.Epicenter.Description = str(epi["Location"])
	r.Epicenter.Lat, _ = num(epi["EpicenterLatitude"])
	r.Epicenter.Lon, _ = num(epi["EpicenterLongitude"])

	r.MaxIntensity, r.MaxIntensityArea = maxIntensity(m)
	r.ImageURL = str(m["ReportImageURI"])
	r.WebURL = str(m["Web"])
	return r, checkEarthquake(r)
}

// checkEarthquake enforces the mandatory fields of a report, whichever
// layout it was read from.
func checkEarthquake(r domain.EarthquakeReport) error {
	switch {
	case r.ID <= 0:
		return missing("id")
	case r.ReportText == "":
		return missing("reportText")
	case r.OriginTime.IsZero():
		return missing("originTime")
	case r.Magnitude <= 0:
		return missing("magnitude")
	}
	return nil
}

// maxIntensity scans Intensity.ShakingArea (a list or a single object) for
// the strongest reported intensity.
func maxIntensity(m map[string]any) (level, area string) {
	areas, ok := listAt(m, "Intensity", "ShakingArea")
	if !ok {
		areas, _ = dictAt(m, "Intensity", "ShakingArea")
	}

	best := -1
	for _, a := range areas {
		l := str(a["AreaIntensity"])
		rank := intensityRank(l)
		if rank > best {
			best = rank
			level = l
			area = str(a["CountyName"])
			if area == "" {
				area = str(a["AreaDesc"])
			}
		}
	}
	return level, area
}

// intensityRank orders CWA intensity labels: 1級 < ... < 4級 < 5弱 < 5強 <
// 6弱 < 6強 < 7級. Unparseable labels rank lowest.
func intensityRank(label string) int {
	for _, r := range label {
		if unicode.IsDigit(r) {
			rank := int(r-'0') * 2
			if strings.Contains(label, "強") {
				rank++
			}
			return rank
		}
	}
	return 0
}
