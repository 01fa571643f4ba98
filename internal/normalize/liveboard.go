package normalize

import (
	"github.com/couchcryptid/opendata-relay/internal/domain"
)

// LiveBoard normalizes TDX rail station live boards.
type LiveBoard struct{}

func (LiveBoard) Name() string { return "liveboard" }

var liveBoardShapes = []shape{
	{"StationLiveBoards list", func(raw any) ([]map[string]any, bool) { return listAt(raw, "StationLiveBoards") }},
	{"bare list", func(raw any) ([]map[string]any, bool) { return objects(raw) }},
}

func (LiveBoard) Normalize(raw any) (any, error) {
	switch v := raw.(type) {
	case domain.LiveBoard:
		return v, nil
	case *domain.LiveBoard:
		return *v, nil
	}

	if board, ok, err := canonical[domain.LiveBoard](raw, "trains"); ok {
		if err != nil {
			return nil, err
		}
		for _, t := range board.Trains {
			if err := checkTrain(t); err != nil {
				return nil, err
			}
		}
		if board.Trains == nil {
			board.Trains = []domain.TrainArrival{}
		}
		return board, nil
	}

	trains, err := matchShapes(raw, liveBoardShapes, parseTrainArrival)
	if err != nil {
		return nil, err
	}
	return domain.LiveBoard{Trains: trains}, nil
}

func parseTrainArrival(m map[string]any) (domain.TrainArrival, error) {
	t := domain.TrainArrival{
		TrainNo:       str(m["TrainNo"]),
		Station:       strAt(m, "StationName", "Zh_tw"),
		TrainType:     strAt(m, "TrainTypeName", "Zh_tw"),
		EndingStation: strAt(m, "EndingStationName", "Zh_tw"),
		Scheduled:     firstStr(m, "ScheduleArrivalTime", "ScheduleDepartureTime"),
	}
	if t.TrainNo == "" {
		return t, missing("TrainNo")
	}
	if dir, ok := integer(m["Direction"]); ok {
		t.Direction = int(dir)
	}
	if delay, ok := integer(m["DelayTime"]); ok {
		t.DelayMinutes = int(delay)
	}
	return t, checkTrain(t)
}

func checkTrain(t domain.TrainArrival) error {
	if t.TrainNo == "" {
		return missing("trainNo")
	}
	return nil
}
