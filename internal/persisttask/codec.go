package persisttask

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"github.com/taskgraph/tgraph/demo"
	"github.com/taskgraph/tgraph/pkg/value"
)

// gob needs every concrete type that can appear behind a cell's erased
// any payload registered up front; demo's two value types plus the usual
// literal primitives cover everything this tree's tasks ever write. A
// caller storing its own value types in a persisttask-backed engine must
// gob.Register them the same way before first use.
func init() {
	gob.Register(demo.Int(0))
	gob.Register(demo.Str(""))
	gob.Register(int(0))
	gob.Register(int64(0))
	gob.Register(uint64(0))
	gob.Register(string(""))
	gob.Register(bool(false))
	gob.Register(float64(0))
}

// wireCell is the gob-serializable form of a value.CellContent. Present is
// tracked explicitly so an empty cell and a never-written key are both
// representable without relying on a nil Payload, which gob cannot encode
// through an interface{} field anyway.
type wireCell struct {
	Present bool
	Payload any
}

func encodeCell(c value.CellContent) ([]byte, error) {
	payload, ok := c.Payload()
	w := wireCell{Present: ok, Payload: payload}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&w); err != nil {
		return nil, fmt.Errorf("persisttask: encode cell: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeCell(data []byte) (value.CellContent, error) {
	var w wireCell
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&w); err != nil {
		return value.CellContent{}, fmt.Errorf("persisttask: decode cell: %w", err)
	}
	if !w.Present {
		return value.CellContent{}, nil
	}
	return value.NewCellContent(value.NewSharedReference(w.Payload)), nil
}
