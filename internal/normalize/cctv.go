package normalize

import (
	"github.com/couchcryptid/opendata-relay/internal/domain"
)

// CCTV normalizes highway CCTV lists (Freeway Bureau XML, TDX JSON) and the
// WRA water-disaster camera list.
type CCTV struct{}

func (CCTV) Name() string { return "cctv" }

func xmlItems(raw any, root string, path ...string) ([]map[string]any, bool) {
	node, ok := raw.(*XMLNode)
	if !ok || node.Name != root {
		return nil, false
	}
	parent := node.Find(path...)
	if parent == nil {
		return nil, false
	}
	cams := parent.All("CCTV")
	out := make([]map[string]any, 0, len(cams))
	for _, c := range cams {
		out = append(out, c.fields())
	}
	return out, true
}

var cctvShapes = []shape{
	{"xml CCTVList>CCTVs>CCTV", func(raw any) ([]map[string]any, bool) { return xmlItems(raw, "CCTVList", "CCTVs") }},
	{"xml CCTVs>CCTV", func(raw any) ([]map[string]any, bool) { return xmlItems(raw, "CCTVs") }},
	{"json CCTVs list", func(raw any) ([]map[string]any, bool) { return listAt(raw, "CCTVs") }},
	{"json bare list", func(raw any) ([]map[string]any, bool) { return objects(raw) }},
}

func (CCTV) Normalize(raw any) (any, error) {
	switch v := raw.(type) {
	case domain.CCTVFeed:
		return v, nil
	case *domain.CCTVFeed:
		return *v, nil
	}

	if feed, ok, err := canonical[domain.CCTVFeed](raw, "cameras"); ok {
		if err != nil {
			return nil, err
		}
		for _, c := range feed.Cameras {
			if err := checkCamera(c); err != nil {
				return nil, err
			}
		}
		if feed.Cameras == nil {
			feed.Cameras = []domain.Camera{}
		}
		return feed, nil
	}

	cams, err := matchShapes(raw, cctvShapes, parseCamera)
	if err != nil {
		return nil, err
	}
	return domain.CCTVFeed{Cameras: cams}, nil
}

func parseCamera(m map[string]any) (domain.Camera, error) {
	c := domain.Camera{
		ID:        firstStr(m, "CCTVID", "CameraID", "cctvid"),
		Name:      firstStr(m, "SurveillanceDescription", "CameraName", "LocationDescription"),
		Road:      firstStr(m, "RoadName", "RiverName"),
		Direction: firstStr(m, "RoadDirection"),
		StreamURL: firstStr(m, "VideoStreamURL", "VideoURL"),
		ImageURL:  firstStr(m, "VideoImageURL", "ImageURL", "VideoSurveillanceImageUrl"),
	}
	if c.ID == "" {
		return c, missing("CCTVID")
	}
	if c.StreamURL == "" && c.ImageURL == "" {
		return c, missing("VideoStreamURL")
	}
	c.Lat, _ = num(firstValue(m, "PositionLat", "Latitude"))
	c.Lon, _ = num(firstValue(m, "PositionLon", "Longitude"))
	if c.Name == "" {
		c.Name = c.Road
	}
	return c, checkCamera(c)
}

func checkCamera(c domain.Camera) error {
	if c.ID == "" {
		return missing("id")
	}
	if c.StreamURL == "" && c.ImageURL == "" {
		return missing("streamURL")
	}
	return nil
}
