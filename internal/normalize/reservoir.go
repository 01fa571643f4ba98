package normalize

import (
	"github.com/couchcryptid/opendata-relay/internal/domain"
)

// Reservoir normalizes WRA reservoir condition datasets. The feed is served
// with a UTF-8 BOM and has been published under several wrapper keys.
type Reservoir struct{}

func (Reservoir) Name() string { return "reservoir" }

var reservoirShapes = []shape{
	{"ReservoirConditionData_OPENDATA list", func(raw any) ([]map[string]any, bool) {
		return listAt(raw, "ReservoirConditionData_OPENDATA")
	}},
	{"responseData list", func(raw any) ([]map[string]any, bool) { return listAt(raw, "responseData") }},
	{"records list", func(raw any) ([]map[string]any, bool) { return listAt(raw, "records") }},
	{"bare list", func(raw any) ([]map[string]any, bool) { return objects(raw) }},
}

func (Reservoir) Normalize(raw any) (any, error) {
	switch v := raw.(type) {
	case domain.ReservoirFeed:
		return v, nil
	case *domain.ReservoirFeed:
		return *v, nil
	}

	if feed, ok, err := canonical[domain.ReservoirFeed](raw, "reservoirs"); ok {
		if err != nil {
			return nil, err
		}
		for _, r := range feed.Reservoirs {
			if err := checkReservoir(r); err != nil {
				return nil, err
			}
		}
		if feed.Reservoirs == nil {
			feed.Reservoirs = []domain.ReservoirStatus{}
		}
		return feed, nil
	}

	reservoirs, err := matchShapes(raw, reservoirShapes, parseReservoir)
	if err != nil {
		return nil, err
	}
	return domain.ReservoirFeed{Reservoirs: reservoirs}, nil
}

func parseReservoir(m map[string]any) (domain.ReservoirStatus, error) {
	var r domain.ReservoirStatus

	r.ID = firstStr(m, "ReservoirIdentifier", "ReservoirID", "StationNo")
	if r.ID == "" {
		return r, missing("ReservoirIdentifier")
	}

	var ok bool
	r.ObservedAt, ok = parseTime(firstValue(m, "ObservationTime", "RecordTime"))
	if !ok {
		return r, missing("ObservationTime")
	}

	r.Name = firstStr(m, "ReservoirName", "StationName")
	r.WaterLevel, _ = num(m["WaterLevel"])
	r.EffectiveStorage, _ = num(firstValue(m, "EffectiveWaterStorageCapacity", "EffectiveStorage"))
	r.PercentFull, _ = num(firstValue(m, "PercentageOfStorage", "StoragePercentage"))
	return r, checkReservoir(r)
}

func checkReservoir(r domain.ReservoirStatus) error {
	if r.ID == "" {
		return missing("id")
	}
	if r.ObservedAt.IsZero() {
		return missing("observedAt")
	}
	return nil
}

func firstValue(m map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := m[k]; ok && str(v) != "" {
			return v
		}
	}
	return nil
}

func firstStr(m map[string]any, keys ...string) string {
	return str(firstValue(m, keys...))
}
