package core

import "encoding/json"

const (
	typeSignal = "Signal"
	typeTrack  = "Track"
)

// SignalRecord is the persisted form of a Signal in project.json.
type SignalRecord struct {
	Type    string          `json:"type"`
	GUID    string          `json:"guid"`
	Name    string          `json:"name"`
	Config  map[string]any  `json:"config"`
	Tracks  []TrackRecord   `json:"tracks"`
	Process []ProcessRecord `json:"process"`
}

// TrackRecord is the persisted form of a Track.
type TrackRecord struct {
	Type   string      `json:"type"`
	GUID   string      `json:"guid"`
	Name   string      `json:"name"`
	Config TrackConfig `json:"config"`
}

// ProcessRecord is the persisted form of a Process.
type ProcessRecord struct {
	Type      string          `json:"type"`
	GUID      string          `json:"guid"`
	Name      string          `json:"name"`
	Config    json.RawMessage `json:"config"`
	Processed *bool           `json:"processed,omitempty"`
}

// ContainerConfig is the config of a process that owns tracks and nested
// processes, e.g. Integration and Interception.
type ContainerConfig struct {
	Tracks   []string        `json:"tracks"`
	Process  []ProcessRecord `json:"process"`
	Settings json.RawMessage `json:"settings,omitempty"`
}

// Node is the display projection of the project tree.
type Node struct {
	Type     string `json:"type"`
	Name     string `json:"name"`
	GUID     string `json:"guid,omitempty"`
	Children []Node `json:"children,omitempty"`
}

// TrackResult is one measurement track's air-gap matrix, indexed [pole][revolution].
type TrackResult struct {
	Name  string      `cbor:"name" json:"name"`
	Angle float64     `cbor:"angle" json:"angle"`
	Speed []float64   `cbor:"speed" json:"speed"`
	Data  [][]float64 `cbor:"data" json:"data"`
}

// Result is the persisted output of a processing run.
type Result []TrackResult
