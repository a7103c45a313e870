package view

import (
	"github.com/aawaaz/civic-reports/internal/models"
	"github.com/google/uuid"
)

// Marker colours by status, matching the dashboard legend.
var statusColors = map[models.Status]string{
	models.StatusReported:   "#EF4444",
	models.StatusProcessing: "#F59E0B",
	models.StatusResolved:   "#10B981",
}

// Marker is one pin for the map renderer.
type Marker struct {
	ReportID  uuid.UUID     `json:"report_id"`
	Latitude  float64       `json:"latitude"`
	Longitude float64       `json:"longitude"`
	Color     string        `json:"color"`
	Title     string        `json:"title"`
	Subtitle  string        `json:"subtitle"`
	Status    models.Status `json:"status"`
}

// Bounds is the smallest box containing every marker.
type Bounds struct {
	South float64 `json:"south"`
	West  float64 `json:"west"`
	North float64 `json:"north"`
	East  float64 `json:"east"`
}

// MapView is the input contract of the map renderer.
type MapView struct {
	Markers []Marker `json:"markers"`
	Bounds  *Bounds  `json:"bounds"`
}

// Markers builds pins for the reports that carry coordinates.
func Markers(reports []*models.Report) MapView {
	mv := MapView{Markers: make([]Marker, 0, len(reports))}
	for _, r := range reports {
		if r.Coordinates == nil {
			continue
		}
		subtitle := r.Location
		if r.Area != nil && *r.Area != "" {
			subtitle = *r.Area
		}
		m := Marker{
			ReportID:  r.ID,
			Latitude:  r.Coordinates.Latitude,
			Longitude: r.Coordinates.Longitude,
			Color:     statusColors[r.Status],
			Title:     r.Title,
			Subtitle:  subtitle,
			Status:    r.Status,
		}
		mv.Markers = append(mv.Markers, m)

		if mv.Bounds == nil {
			mv.Bounds = &Bounds{South: m.Latitude, North: m.Latitude, West: m.Longitude, East: m.Longitude}
			continue
		}
		mv.Bounds.South = min(mv.Bounds.South, m.Latitude)
		mv.Bounds.North = max(mv.Bounds.North, m.Latitude)
		mv.Bounds.West = min(mv.Bounds.West, m.Longitude)
		mv.Bounds.East = max(mv.Bounds.East, m.Longitude)
	}
	return mv
}
