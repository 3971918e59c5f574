package display

import (
	"encoding/json"
	"io"

	"github.com/teranos/linkaudit/errors"
)

// MarshalJSON marshals v indented for humans, or compact when compact is set
func MarshalJSON(v interface{}, compact bool) ([]byte, error) {
	if compact {
		return json.Marshal(v)
	}
	return json.MarshalIndent(v, "", "  ")
}

// OutputJSON writes v to w followed by a newline
func OutputJSON(w io.Writer, v interface{}) error {
	data, err := MarshalJSON(v, !IsTerminal(w))
	if err != nil {
		return errors.Wrap(err, "failed to marshal JSON")
	}
	data = append(data, '\n')
	if _, err := w.Write(data); err != nil {
		return errors.Wrap(err, "failed to write JSON")
	}
	return nil
}
