package domain

import "time"

// Canonical records. JSON names are the canonical wire form: a record encoded
// with encoding/json and decoded back into a generic tree is recognized by its
// normalizer as already normalized.

// EarthquakeFeed is the normalized form of a CWA earthquake report feed.
// An empty Reports slice is a valid result, not a failure.
type EarthquakeFeed struct {
	Reports []EarthquakeReport `json:"reports"`
}

// EarthquakeReport is a single significant or small-area earthquake report.
type EarthquakeReport struct {
	ID               int64     `json:"id"`
	OriginTime       time.Time `json:"originTime"`
	Magnitude        float64   `json:"magnitude"`
	DepthKm          float64   `json:"depthKm"`
	Epicenter        Epicenter `json:"epicenter"`
	MaxIntensity     string    `json:"maxIntensity"`     // "" when the report lists no shaking area
	MaxIntensityArea string    `json:"maxIntensityArea"` // "" when the report lists no shaking area
	ReportText       string    `json:"reportText"`
	ImageURL         string    `json:"imageURL"`
	WebURL           string    `json:"webURL"`
}

// Epicenter locates an earthquake.
type Epicenter struct {
	Lat         float64 `json:"lat"`
	Lon         float64 `json:"lon"`
	Description string  `json:"description"`
}

// ForecastFeed is the normalized 36-hour township/county forecast.
type ForecastFeed struct {
	Description string             `json:"description"`
	Locations   []LocationForecast `json:"locations"`
}

// LocationForecast holds the forecast periods for one location.
type LocationForecast struct {
	Name    string           `json:"name"`
	Periods []ForecastPeriod `json:"periods"`
}

// ForecastPeriod is one forecast window. Numeric fields are 0 when the
// upstream omitted the element.
type ForecastPeriod struct {
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	Weather    string    `json:"weather"`
	RainChance int       `json:"rainChance"`
	MinTempC   int       `json:"minTempC"`
	MaxTempC   int       `json:"maxTempC"`
	Comfort    string    `json:"comfort"`
}

// ReservoirFeed is the normalized reservoir condition dataset.
type ReservoirFeed struct {
	Reservoirs []ReservoirStatus `json:"reservoirs"`
}

// ReservoirStatus is the latest observation for one reservoir.
type ReservoirStatus struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"` // "" when the dataset omits names
	ObservedAt       time.Time `json:"observedAt"`
	WaterLevel       float64   `json:"waterLevel"`
	EffectiveStorage float64   `json:"effectiveStorage"`
	PercentFull      float64   `json:"percentFull"`
}

// CCTVFeed is the normalized camera list of a highway or water-disaster feed.
type CCTVFeed struct {
	Cameras []Camera `json:"cameras"`
}

// Camera is one CCTV camera. At least one of StreamURL and ImageURL is set.
type Camera struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Road      string  `json:"road"`
	Direction string  `json:"direction"`
	Lat       float64 `json:"lat"`
	Lon       float64 `json:"lon"`
	StreamURL string  `json:"streamURL"`
	ImageURL  string  `json:"imageURL"`
}

// AlertFeed is a normalized RSS alert channel.
type AlertFeed struct {
	Title string  `json:"title"`
	Items []Alert `json:"items"`
}

// Alert is one RSS item.
type Alert struct {
	Title       string    `json:"title"`
	Link        string    `json:"link"`
	Description string    `json:"description"`
	Published   time.Time `json:"published"` // zero when the item carries no date
}

// AirQualityFeed is the normalized real-time AQI dataset.
type AirQualityFeed struct {
	Stations []AirStation `json:"stations"`
}

// AirStation is the latest reading of one monitoring station.
type AirStation struct {
	Name        string    `json:"name"`
	County      string    `json:"county"`
	AQI         int       `json:"aqi"`
	Status      string    `json:"status"`
	Pollutant   string    `json:"pollutant"`
	PM25        float64   `json:"pm25"`
	PublishedAt time.Time `json:"publishedAt"`
}

// LiveBoard is the normalized rail station live board.
type LiveBoard struct {
	Trains []TrainArrival `json:"trains"`
}

// TrainArrival is one train on a station live board.
type TrainArrival struct {
	TrainNo       string `json:"trainNo"`
	Station       string `json:"station"`
	Direction     int    `json:"direction"`
	TrainType     string `json:"trainType"`
	EndingStation string `json:"endingStation"`
	Scheduled     string `json:"scheduled"` // HH:MM:SS local time
	DelayMinutes  int    `json:"delayMinutes"`
}

// AccessToken is an OAuth2 client-credentials token.
type AccessToken struct {
	Token  string    `json:"token"`
	Type   string    `json:"type"`
	Expiry time.Time `json:"expiry"`
}

// ExpiresAt implements Expirer.
func (t AccessToken) ExpiresAt() time.Time { return t.Expiry }
