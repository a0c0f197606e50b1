package main

import (
	"math"
	"sort"
	"time"
)

// Pattern returns the request rate (requests/min) expected at t.
type Pattern struct {
	Description string
	Rate        func(t time.Time) float64
}

var patterns = map[string]Pattern{
	"constant": {
		Description: "steady 60 req/min",
		Rate:        func(time.Time) float64 { return 60 },
	},
	"half-hour-spike": {
		Description: "spikes at :00 and :30, tapering over ten minutes",
		Rate: func(t time.Time) float64 {
			m := t.Minute() % 30
			switch {
			case m < 5:
				return 400
			case m < 10:
				return 200
			}
			return 90
		},
	},
	"business-hours": {
		Description: "high between 09:00 and 17:00, low otherwise",
		Rate: func(t time.Time) float64 {
			h := t.Hour()
			if h >= 9 && h < 17 {
				return 200 + 100*math.Sin(float64(h-9)*math.Pi/8)
			}
			return 40
		},
	},
	"sine-wave": {
		Description: "two hour sine wave between 40 and 360",
		Rate: func(t time.Time) float64 {
			minutes := float64(t.Hour()*60 + t.Minute())
			return 200 + 160*math.Sin(minutes*math.Pi/60)
		},
	},
	"double-peak": {
		Description: "morning and afternoon peaks at 09:00 and 15:00",
		Rate: func(t time.Time) float64 {
			minutes := float64(t.Hour()*60 + t.Minute())
			morning := math.Exp(-math.Pow(minutes-540, 2) / 1800)
			afternoon := math.Exp(-math.Pow(minutes-900, 2) / 1800)
			return 80 + 320*math.Max(morning, afternoon)
		},
	},
}

func patternNames() []string {
	names := make([]string, 0, len(patterns))
	for name := range patterns {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
