package capture

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const threeTracks = `{
  "RecordDate": "2016-05-12 10:31:00",
  "Track1": [[0, 1, 0, 1]], "Track1_Name": "KP",
  "Track1_TrueBandWidth": 1000, "Track1_Sensitivity": 1.0, "Track1_Offset": 0,
  "Track1_X_Magnitude": "s", "Track1_Y_Magnitude": "V",
  "Track2": [5, 6, 7, 8], "Track2_Name": "Gap A",
  "Track2_TrueBandWidth": 1000, "Track2_Sensitivity": 0.5, "Track2_Offset": 0.1,
  "Track2_X_Magnitude": "s", "Track2_Y_Magnitude": "mm",
  "Track3": [[1, 2], [3, 4]], "Track3_Name": "Gap B",
  "Track3_TrueBandWidth": 500, "Track3_Sensitivity": 2, "Track3_Offset": -1,
  "Track3_X_Magnitude": "s", "Track3_Y_Magnitude": "mm",
  "Track5": [1], "Track5_Name": "ignored after gap"
}`

func TestDecodeThreeTracks(t *testing.T) {
	c, err := JSONSource{}.Decode(strings.NewReader(threeTracks))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if c.RecordDate != "2016-05-12 10:31:00" || len(c.Tracks) != 3 {
		t.Fatalf("unexpected capture %+v", c)
	}
	if c.Tracks[1].Name != "Gap A" || c.Tracks[1].Sensitivity != 0.5 || c.Tracks[1].Offset != 0.1 || c.Tracks[1].YUnit != "mm" {
		t.Fatalf("unexpected track 2 %+v", c.Tracks[1])
	}
	if len(c.Tracks[1].Data) != 1 || len(c.Tracks[1].Data[0]) != 4 {
		t.Fatalf("flat array should become one channel, got %v", c.Tracks[1].Data)
	}
	if len(c.Tracks[2].Data) != 2 || c.Tracks[2].Bandwidth != 500 {
		t.Fatalf("unexpected track 3 %+v", c.Tracks[2])
	}
}

func TestDecodeErrors(t *testing.T) {
	cases := []struct {
		name  string
		doc   string
		field string
	}{
		{"no date", `{"Track1": [1], "Track1_Name": "a"}`, "RecordDate"},
		{"no tracks", `{"RecordDate": "d"}`, "Track1"},
		{"missing bandwidth", `{"RecordDate": "d", "Track1": [1], "Track1_Name": "a", "Track1_Sensitivity": 1, "Track1_Offset": 0, "Track1_X_Magnitude": "s", "Track1_Y_Magnitude": "V"}`, "Track1_TrueBandWidth"},
		{"missing unit", `{"RecordDate": "d", "Track1": [1], "Track1_Name": "a", "Track1_TrueBandWidth": 1, "Track1_Sensitivity": 1, "Track1_Offset": 0, "Track1_X_Magnitude": "s"}`, "Track1_Y_Magnitude"},
		{"ragged", `{"RecordDate": "d", "Track1": [[1, 2], [3]], "Track1_Name": "a"}`, "Track1"},
		{"not numeric", `{"RecordDate": "d", "Track1": ["x"], "Track1_Name": "a"}`, "Track1"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := JSONSource{}.Decode(strings.NewReader(tc.doc))
			var fe *FieldError
			if !errors.As(err, &fe) || fe.Field != tc.field {
				t.Fatalf("expected field error on %s, got %v", tc.field, err)
			}
		})
	}
	if _, err := (JSONSource{}).Decode(strings.NewReader("{not json")); err == nil {
		t.Fatalf("expected invalid json error")
	}
}

func TestReadFileByExtension(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "run.json")
	if err := os.WriteFile(path, []byte(threeTracks), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if c, err := ReadFile(path); err != nil || len(c.Tracks) != 3 {
		t.Fatalf("read: %v", err)
	}
	if _, err := ReadFile(filepath.Join(dir, "run.mat")); !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected unsupported format, got %v", err)
	}
}
