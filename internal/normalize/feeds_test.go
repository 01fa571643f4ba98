package normalize

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/opendata-relay/internal/domain"
)

const testRSS = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
  <channel>
    <title>災害示警</title>
    <link>https://alerts.ncdr.nat.gov.tw</link>
    <description>國家災害防救科技中心示警</description>
    <item>
      <title>大雨特報</title>
      <link>https://alerts.ncdr.nat.gov.tw/alert/1</link>
      <description>臺北市大雨</description>
      <pubDate>Sat, 01 Mar 2025 08:00:00 +0800</pubDate>
    </item>
    <item>
      <title>低溫特報</title>
      <link>https://alerts.ncdr.nat.gov.tw/alert/2</link>
      <description>新竹以北低溫</description>
      <pubDate>Sat, 01 Mar 2025 09:30:00 +0800</pubDate>
    </item>
  </channel>
</rss>`

func TestForecast(t *testing.T) {
	body := `{"success":"true","records":{"datasetDescription":"三十六小時天氣預報","location":[{
	  "locationName":"臺北市",
	  "weatherElement":[
	    {"elementName":"Wx","time":[
	      {"startTime":"2025-03-01 06:00:00","endTime":"2025-03-01 18:00:00","parameter":{"parameterName":"多雲","parameterValue":"4"}},
	      {"startTime":"2025-03-01 18:00:00","endTime":"2025-03-02 06:00:00","parameter":{"parameterName":"陰短暫雨","parameterValue":"11"}}
	    ]},
	    {"elementName":"PoP","time":[
	      {"startTime":"2025-03-01 06:00:00","endTime":"2025-03-01 18:00:00","parameter":{"parameterName":"20","parameterUnit":"百分比"}},
	      {"startTime":"2025-03-01 18:00:00","endTime":"2025-03-02 06:00:00","parameter":{"parameterName":"60","parameterUnit":"百分比"}}
	    ]},
	    {"elementName":"MinT","time":[{"startTime":"2025-03-01 06:00:00","endTime":"2025-03-01 18:00:00","parameter":{"parameterName":"18"}}]},
	    {"elementName":"MaxT","time":[{"startTime":"2025-03-01 06:00:00","endTime":"2025-03-01 18:00:00","parameter":{"parameterName":"24"}}]},
	    {"elementName":"CI","time":[{"startTime":"2025-03-01 06:00:00","endTime":"2025-03-01 18:00:00","parameter":{"parameterName":"舒適"}}]}
	  ]}]}}`

	got, err := Forecast{}.Normalize(decodeTestJSON(t, body))
	require.NoError(t, err)

	feed := got.(domain.ForecastFeed)
	assert.Equal(t, "三十六小時天氣預報", feed.Description)
	require.Len(t, feed.Locations, 1)
	loc := feed.Locations[0]
	assert.Equal(t, "臺北市", loc.Name)
	require.Len(t, loc.Periods, 2)
	assert.Equal(t, domain.ForecastPeriod{
		Start:      time.Date(2025, 2, 28, 22, 0, 0, 0, time.UTC),
		End:        time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
		Weather:    "多雲",
		RainChance: 20,
		MinTempC:   18,
		MaxTempC:   24,
		Comfort:    "舒適",
	}, loc.Periods[0])
	assert.Equal(t, 60, loc.Periods[1].RainChance)
	assert.Equal(t, "陰短暫雨", loc.Periods[1].Weather)

	again, err := Forecast{}.Normalize(toTree(t, got))
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(got, again))

	t.Run("location without Wx", func(t *testing.T) {
		_, err := Forecast{}.Normalize(decodeTestJSON(t, `{"records":{"location":[{"locationName":"臺北市","weatherElement":[]}]}}`))
		require.Error(t, err)
		assert.Equal(t, domain.MissingRequiredField, normKind(t, err))
	})
}

func TestReservoir_WithBOM(t *testing.T) {
	body := "\xef\xbb\xbf" + `{"ReservoirConditionData_OPENDATA":[
	  {"ReservoirIdentifier":"10201","ReservoirName":"石門水庫","ObservationTime":"2025-03-01T08:00:00","WaterLevel":"240.12","EffectiveWaterStorageCapacity":"15000.5","PercentageOfStorage":"73.2%"},
	  {"ReservoirIdentifier":"10204","ReservoirName":"翡翠水庫","ObservationTime":"2025-03-01T08:00:00","WaterLevel":"--","EffectiveWaterStorageCapacity":"","PercentageOfStorage":""}
	]}`

	raw, err := Decode(domain.FormatJSONBOM, "application/json", []byte(body))
	require.NoError(t, err)
	got, err := Reservoir{}.Normalize(raw)
	require.NoError(t, err)

	feed := got.(domain.ReservoirFeed)
	require.Len(t, feed.Reservoirs, 2)
	assert.Equal(t, domain.ReservoirStatus{
		ID:               "10201",
		Name:             "石門水庫",
		ObservedAt:       time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		WaterLevel:       240.12,
		EffectiveStorage: 15000.5,
		PercentFull:      73.2,
	}, feed.Reservoirs[0])
	assert.Zero(t, feed.Reservoirs[1].WaterLevel)

	again, err := Reservoir{}.Normalize(toTree(t, got))
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(got, again))
}

func TestCCTV(t *testing.T) {
	want := domain.CCTVFeed{Cameras: []domain.Camera{{
		ID:        "CCTV-N1-N-0.200-M",
		Name:      "基隆端",
		Road:      "國道1號",
		Direction: "N",
		Lat:       25.1,
		Lon:       121.5,
		StreamURL: "https://cctvn.freeway.gov.tw/abs2mjpg/bmjpg?camera=10000",
	}}}

	t.Run("freeway XML", func(t *testing.T) {
		body := `<?xml version="1.0" encoding="UTF-8"?>
<CCTVList xmlns="http://traffic.transportdata.tw/standard/traffic/schema/">
  <UpdateTime>2025-03-01T08:00:00+08:00</UpdateTime>
  <CCTVs>
    <CCTV>
      <CCTVID>CCTV-N1-N-0.200-M</CCTVID>
      <RoadName>國道1號</RoadName>
      <RoadDirection>N</RoadDirection>
      <VideoStreamURL>https://cctvn.freeway.gov.tw/abs2mjpg/bmjpg?camera=10000</VideoStreamURL>
      <PositionLon>121.5</PositionLon>
      <PositionLat>25.1</PositionLat>
      <SurveillanceDescription>基隆端</SurveillanceDescription>
    </CCTV>
  </CCTVs>
</CCTVList>`
		raw, err := Decode(domain.FormatXML, "text/xml", []byte(body))
		require.NoError(t, err)
		got, err := CCTV{}.Normalize(raw)
		require.NoError(t, err)
		assert.Empty(t, cmp.Diff(want, got))

		again, err := CCTV{}.Normalize(toTree(t, got))
		require.NoError(t, err)
		assert.Empty(t, cmp.Diff(got, again))
	})

	t.Run("TDX JSON", func(t *testing.T) {
		body := `{"CCTVs":[{"CCTVID":"CCTV-N1-N-0.200-M","RoadName":"國道1號","RoadDirection":"N","VideoStreamURL":"https://cctvn.freeway.gov.tw/abs2mjpg/bmjpg?camera=10000","PositionLon":121.5,"PositionLat":25.1,"SurveillanceDescription":"基隆端"}]}`
		got, err := CCTV{}.Normalize(decodeTestJSON(t, body))
		require.NoError(t, err)
		assert.Empty(t, cmp.Diff(want, got))
	})

	t.Run("camera without any URL", func(t *testing.T) {
		_, err := CCTV{}.Normalize(decodeTestJSON(t, `{"CCTVs":[{"CCTVID":"X"}]}`))
		require.Error(t, err)
		assert.Equal(t, domain.MissingRequiredField, normKind(t, err))
	})
}

func TestAlerts(t *testing.T) {
	fromFeed, err := Decode(domain.FormatRSS, "application/rss+xml", []byte(testRSS))
	require.NoError(t, err)
	fromXML, err := Decode(domain.FormatXML, "text/xml", []byte(testRSS))
	require.NoError(t, err)

	a, err := Alerts{}.Normalize(fromFeed)
	require.NoError(t, err)
	b, err := Alerts{}.Normalize(fromXML)
	require.NoError(t, err)

	feed := a.(domain.AlertFeed)
	assert.Equal(t, "災害示警", feed.Title)
	require.Len(t, feed.Items, 2)
	assert.Equal(t, "大雨特報", feed.Items[0].Title)
	assert.Equal(t, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), feed.Items[0].Published)
	assert.Empty(t, cmp.Diff(a, b), "gofeed and plain XML paths should agree")

	again, err := Alerts{}.Normalize(toTree(t, a))
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(a, again))

	t.Run("item without link", func(t *testing.T) {
		raw, err := Decode(domain.FormatXML, "", []byte(`<rss><channel><title>t</title><item><title>x</title></item></channel></rss>`))
		require.NoError(t, err)
		_, err = Alerts{}.Normalize(raw)
		require.Error(t, err)
		assert.Equal(t, domain.MissingRequiredField, normKind(t, err))
	})

	t.Run("not a feed", func(t *testing.T) {
		_, err := Alerts{}.Normalize(decodeTestJSON(t, `{"records":[]}`))
		require.Error(t, err)
		assert.Equal(t, domain.UnexpectedShape, normKind(t, err))
	})
}

func TestAirQuality(t *testing.T) {
	body := `{"fields":[{"id":"sitename","type":"text"}],"records":[
	  {"sitename":"士林","county":"臺北市","aqi":"45","pollutant":"","status":"良好","pm2.5":"12","publishtime":"2025/03/01 08:00:00"},
	  {"sitename":"關山","county":"臺東縣","aqi":"","pollutant":"","status":"設備維護","pm2.5":"","publishtime":"2025/03/01 08:00:00"}
	]}`

	got, err := AirQuality{}.Normalize(decodeTestJSON(t, body))
	require.NoError(t, err)
	feed := got.(domain.AirQualityFeed)
	require.Len(t, feed.Stations, 2)
	assert.Equal(t, domain.AirStation{
		Name:        "士林",
		County:      "臺北市",
		AQI:         45,
		Status:      "良好",
		PM25:        12,
		PublishedAt: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
	}, feed.Stations[0])
	assert.Equal(t, -1, feed.Stations[1].AQI)

	again, err := AirQuality{}.Normalize(toTree(t, got))
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(got, again))

	t.Run("unauthorized key returns field definitions only", func(t *testing.T) {
		_, err := AirQuality{}.Normalize(decodeTestJSON(t, `{"fields":[{"id":"sitename","type":"text"}],"include_total":true}`))
		require.Error(t, err)
		assert.Equal(t, domain.EmptySchema, normKind(t, err))
	})
}

func TestLiveBoard(t *testing.T) {
	body := `{"UpdateTime":"2025-03-01T08:05:00+08:00","StationLiveBoards":[
	  {"StationID":"1000","StationName":{"Zh_tw":"臺北","En":"Taipei"},"TrainNo":"123","Direction":0,
	   "TrainTypeName":{"Zh_tw":"自強(3000)"},"EndingStationName":{"Zh_tw":"高雄"},"ScheduleArrivalTime":"08:10:00","DelayTime":5}
	]}`

	got, err := LiveBoard{}.Normalize(decodeTestJSON(t, body))
	require.NoError(t, err)
	assert.Equal(t, domain.LiveBoard{Trains: []domain.TrainArrival{{
		TrainNo:       "123",
		Station:       "臺北",
		Direction:     0,
		TrainType:     "自強(3000)",
		EndingStation: "高雄",
		Scheduled:     "08:10:00",
		DelayMinutes:  5,
	}}}, got)

	again, err := LiveBoard{}.Normalize(toTree(t, got))
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(got, again))

	_, err = LiveBoard{}.Normalize(decodeTestJSON(t, `[{"StationName":{"Zh_tw":"臺北"}}]`))
	require.Error(t, err)
	assert.Equal(t, domain.MissingRequiredField, normKind(t, err))
}

func TestToken(t *testing.T) {
	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	n := Token{Clock: clockwork.NewFakeClockAt(now)}

	got, err := n.Normalize(decodeTestJSON(t, `{"access_token":"eyJhbGci","expires_in":86400,"token_type":"Bearer","not-before-policy":0}`))
	require.NoError(t, err)
	tok := got.(domain.AccessToken)
	assert.Equal(t, "eyJhbGci", tok.Token)
	assert.Equal(t, "Bearer", tok.Type)
	assert.Equal(t, now.Add(24*time.Hour-time.Minute), tok.ExpiresAt())

	again, err := n.Normalize(toTree(t, got))
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(got, again))

	t.Run("error response", func(t *testing.T) {
		_, err := n.Normalize(decodeTestJSON(t, `{"error":"invalid_client","error_description":"Invalid client credentials"}`))
		require.Error(t, err)
		assert.Equal(t, domain.UnexpectedShape, normKind(t, err))
		assert.Contains(t, err.Error(), "invalid_client")
	})

	t.Run("missing access_token", func(t *testing.T) {
		_, err := n.Normalize(decodeTestJSON(t, `{"expires_in":86400}`))
		require.Error(t, err)
		assert.Equal(t, domain.MissingRequiredField, normKind(t, err))
	})
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(clockwork.NewFakeClock())
	assert.Equal(t, []string{"airquality", "alerts", "cctv", "earthquake", "forecast", "liveboard", "oauth2_token", "reservoir"}, r.Names())

	n, ok := r.Get("earthquake")
	require.True(t, ok)
	assert.Equal(t, "earthquake", n.Name())

	_, ok = r.Get("nope")
	assert.False(t, ok)
}

func TestCanonicalTreesNeedEveryRequiredField(t *testing.T) {
	tests := []struct {
		name  string
		n     Normalizer
		body  string
		field string
	}{
		{"forecast period without start", Forecast{}, `{"locations":[{"name":"臺北市","periods":[{"weather":"晴"}]}]}`, "periods.start"},
		{"reservoir without observedAt", Reservoir{}, `{"reservoirs":[{"id":"10201","name":"石門水庫"}]}`, "observedAt"},
		{"station without publishedAt", AirQuality{}, `{"stations":[{"name":"中山","aqi":42}]}`, "publishedAt"},
		{"camera without stream or image", CCTV{}, `{"cameras":[{"id":"CCTV-N1-S-10.000-M"}]}`, "streamURL"},
		{"train without number", LiveBoard{}, `{"trains":[{"station":"臺北"}]}`, "trainNo"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.n.Normalize(decodeTestJSON(t, tt.body))
			require.Error(t, err)
			assert.Nil(t, got)

			var ne *domain.NormalizationError
			require.ErrorAs(t, err, &ne)
			assert.Equal(t, domain.MissingRequiredField, ne.Kind)
			assert.Equal(t, tt.field, ne.Field)
		})
	}
}
