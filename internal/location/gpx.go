package location

import (
	"fmt"
	"os"

	"github.com/tkrajina/gpxgo/gpx"
)

// LoadGPX reads every track point of a GPX file as a sample, in file order.
func LoadGPX(path string) ([]Sample, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read GPX file: %w", err)
	}
	return ParseGPX(data)
}

// ParseGPX converts GPX track points into samples. Waypoints and routes are
// ignored; a file without track points yields ErrEmptyTrail.
func ParseGPX(data []byte) ([]Sample, error) {
	gpxData, err := gpx.ParseBytes(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse GPX: %w", err)
	}

	var samples []Sample
	for _, track := range gpxData.Tracks {
		for _, segment := range track.Segments {
			for _, point := range segment.Points {
				s := Sample{
					Latitude:  point.Latitude,
					Longitude: point.Longitude,
					Timestamp: point.Timestamp,
				}
				if point.HorizontalDilution.NotNull() {
					s.Accuracy = point.HorizontalDilution.Value()
				}
				samples = append(samples, s)
			}
		}
	}

	if len(samples) == 0 {
		return nil, ErrEmptyTrail
	}

	return samples, nil
}
