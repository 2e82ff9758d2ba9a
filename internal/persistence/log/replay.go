package log

import (
	"encoding/json"
	"fmt"

	"pixelcanvas.io/internal/sim/chunkstore"
	"pixelcanvas.io/internal/sim/hooks"
	"pixelcanvas.io/internal/sim/overlay"
)

// ReadMutations streams the audit entries of the given files in order.
func ReadMutations(files []string, fn func(hooks.Mutation) error) error {
	for _, path := range files {
		err := ReadJSONL(path, func(line []byte) error {
			var m hooks.Mutation
			if err := json.Unmarshal(line, &m); err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			return fn(m)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// Apply re-applies one accepted mutation. Entries were admitted when logged,
// so protection is bypassed.
func Apply(st *chunkstore.Store, ov *overlay.Store, m hooks.Mutation) error {
	switch m.Kind {
	case hooks.MutPixel:
		return st.SetPixel(m.X, m.Y, m.Color, true)
	case hooks.MutFill:
		st.SetChunkRGB(m.Chunk, m.Color)
	case hooks.MutChunkData:
		if m.Grid == nil {
			return fmt.Errorf("chunk_data entry without grid at %s", m.Chunk)
		}
		st.SetChunkData(m.Chunk, *m.Grid)
	case hooks.MutProtection:
		st.SetProtection(m.Chunk, m.Protected)
	case hooks.MutLine:
		if m.Line == nil {
			return fmt.Errorf("line entry without line")
		}
		ov.AppendLine(*m.Line)
	case hooks.MutText:
		if m.Text == nil {
			return fmt.Errorf("text entry without text")
		}
		ov.SetText(m.Text.At, m.Text.Text)
	default:
		return fmt.Errorf("unknown mutation kind %q", m.Kind)
	}
	return nil
}
