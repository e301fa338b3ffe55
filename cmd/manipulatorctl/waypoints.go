package main

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"

	"github.com/oskarau/manipulatorctl/pkg/follower"
)

// loadWaypoints reads a CSV file of one row per waypoint, one column per
// axis (in the same order as the configured drives), into follower.Vec
// points. dims must match the controller's axis count.
func loadWaypoints(path string, dims int) ([]follower.Vec, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = dims
	rows, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("need at least 2 waypoints, got %d", len(rows))
	}

	waypoints := make([]follower.Vec, len(rows))
	for i, row := range rows {
		v := make(follower.Vec, dims)
		for j, cell := range row {
			f, err := strconv.ParseFloat(cell, 64)
			if err != nil {
				return nil, fmt.Errorf("row %d col %d: %w", i, j, err)
			}
			v[j] = f
		}
		waypoints[i] = v
	}
	return waypoints, nil
}
