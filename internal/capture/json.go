package capture

import (
	"errors"
	"fmt"
	"io"

	"github.com/tidwall/gjson"
)

// JSONSource decodes captures stored as a flat JSON object with
// RecordDate and TrackK, TrackK_Name, TrackK_TrueBandWidth ... keys.
type JSONSource struct{}

// Decode implements Source. Tracks are read for K = 1, 2, ... until TrackK or
// TrackK_Name is absent.
func (JSONSource) Decode(r io.Reader) (*Capture, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if !gjson.ValidBytes(raw) {
		return nil, errors.New("capture: invalid JSON")
	}
	doc := gjson.ParseBytes(raw)
	if !doc.IsObject() {
		return nil, errors.New("capture: top level is not an object")
	}
	date := doc.Get("RecordDate")
	if !date.Exists() {
		return nil, &FieldError{Field: "RecordDate", Err: ErrMissing}
	}
	c := &Capture{RecordDate: date.String()}
	for k := 1; ; k++ {
		prefix := fmt.Sprintf("Track%d", k)
		data, name := doc.Get(prefix), doc.Get(prefix+"_Name")
		if !data.Exists() || !name.Exists() {
			break
		}
		tr := Track{Name: name.String()}
		samples, err := matrix(data)
		if err != nil {
			return nil, &FieldError{Field: prefix, Err: err}
		}
		tr.Data = samples
		for _, f := range []struct {
			key string
			dst *float64
		}{
			{"_TrueBandWidth", &tr.Bandwidth},
			{"_Sensitivity", &tr.Sensitivity},
			{"_Offset", &tr.Offset},
		} {
			v := doc.Get(prefix + f.key)
			if !v.Exists() {
				return nil, &FieldError{Field: prefix + f.key, Err: ErrMissing}
			}
			if v.Type != gjson.Number {
				return nil, &FieldError{Field: prefix + f.key, Err: fmt.Errorf("expected number, got %s", v.Type)}
			}
			*f.dst = v.Float()
		}
		for _, f := range []struct {
			key string
			dst *string
		}{
			{"_X_Magnitude", &tr.XUnit},
			{"_Y_Magnitude", &tr.YUnit},
		} {
			v := doc.Get(prefix + f.key)
			if !v.Exists() {
				return nil, &FieldError{Field: prefix + f.key, Err: ErrMissing}
			}
			*f.dst = v.String()
		}
		c.Tracks = append(c.Tracks, tr)
	}
	if len(c.Tracks) == 0 {
		return nil, &FieldError{Field: "Track1", Err: errors.New("capture holds no tracks")}
	}
	return c, nil
}

// matrix accepts a flat numeric array (one channel) or an array of equally
// sized numeric arrays.
func matrix(v gjson.Result) ([][]float64, error) {
	if !v.IsArray() {
		return nil, fmt.Errorf("expected array, got %s", v.Type)
	}
	items := v.Array()
	if len(items) == 0 {
		return nil, errors.New("empty array")
	}
	if !items[0].IsArray() {
		row, err := numbers(items)
		if err != nil {
			return nil, err
		}
		return [][]float64{row}, nil
	}
	out := make([][]float64, 0, len(items))
	for i, it := range items {
		if !it.IsArray() {
			return nil, fmt.Errorf("row %d is not an array", i)
		}
		row, err := numbers(it.Array())
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		if len(row) == 0 || (i > 0 && len(row) != len(out[0])) {
			return nil, fmt.Errorf("row %d has %d samples", i, len(row))
		}
		out = append(out, row)
	}
	return out, nil
}

func numbers(items []gjson.Result) ([]float64, error) {
	out := make([]float64, len(items))
	for i, it := range items {
		if it.Type != gjson.Number {
			return nil, fmt.Errorf("element %d is %s, not a number", i, it.Type)
		}
		out[i] = it.Float()
	}
	return out, nil
}
