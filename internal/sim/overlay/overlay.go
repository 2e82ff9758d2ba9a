// Package overlay holds the per-world line log and text annotations. Both are
// independent of chunk granularity.
package overlay

import (
	"sort"
	"sync"

	snapv1 "pixelcanvas.io/internal/persistence/snapshot"
)

// Point is a world coordinate; it encodes as a JSON array [x,y].
type Point [2]float64

type Line struct {
	From Point `json:"from"`
	To   Point `json:"to"`
}

type Text struct {
	At   Point  `json:"at"`
	Text string `json:"text"`
}

type Store struct {
	track bool

	mu         sync.RWMutex
	lines      []Line
	savedLines int
	texts      map[Point]string
	dirtyTexts map[Point]struct{}
}

func New(trackDirty bool) *Store {
	return &Store{
		track:      trackDirty,
		texts:      map[Point]string{},
		dirtyTexts: map[Point]struct{}{},
	}
}

// Seed installs persisted state. Seeded entries are not pending.
func (s *Store) Seed(lines []Line, texts []Text) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = append([]Line(nil), lines...)
	s.savedLines = len(s.lines)
	s.texts = make(map[Point]string, len(texts))
	for _, t := range texts {
		if t.Text != "" {
			s.texts[t.At] = t.Text
		}
	}
	s.dirtyTexts = map[Point]struct{}{}
}

// AppendLine appends l to the log. Duplicates are kept.
func (s *Store) AppendLine(l Line) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = append(s.lines, l)
	if !s.track {
		s.savedLines = len(s.lines)
	}
}

func (s *Store) Lines() []Line {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Line(nil), s.lines...)
}

func (s *Store) LineCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.lines)
}

// SetText overwrites the text at p. An empty text removes the annotation.
// It reports whether anything changed.
func (s *Store) SetText(p Point, text string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if text == "" {
		if _, ok := s.texts[p]; !ok {
			return false
		}
		delete(s.texts, p)
	} else {
		if s.texts[p] == text {
			return false
		}
		s.texts[p] = text
	}
	if s.track {
		s.dirtyTexts[p] = struct{}{}
	}
	return true
}

func (s *Store) Text(p Point) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.texts[p]
	return t, ok
}

// Texts returns every annotation ordered by y, then x.
func (s *Store) Texts() []Text {
	s.mu.RLock()
	out := make([]Text, 0, len(s.texts))
	for p, t := range s.texts {
		out = append(out, Text{At: p, Text: t})
	}
	s.mu.RUnlock()
	sortTexts(out)
	return out
}

// PendingLines returns lines appended since the last CommitLines, and the
// log length to pass to CommitLines once they are durable.
func (s *Store) PendingLines() ([]Line, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Line(nil), s.lines[s.savedLines:]...), len(s.lines)
}

func (s *Store) CommitLines(upto int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if upto > s.savedLines && upto <= len(s.lines) {
		s.savedLines = upto
	}
}

// DrainDirtyTexts returns changed points with their current value. Removed
// annotations come back with an empty Text.
func (s *Store) DrainDirtyTexts() []Text {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.dirtyTexts) == 0 {
		return nil
	}
	out := make([]Text, 0, len(s.dirtyTexts))
	for p := range s.dirtyTexts {
		out = append(out, Text{At: p, Text: s.texts[p]})
	}
	s.dirtyTexts = map[Point]struct{}{}
	sortTexts(out)
	return out
}

func (s *Store) MarkTextsDirty(points ...Point) {
	if !s.track {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range points {
		s.dirtyTexts[p] = struct{}{}
	}
}

func (s *Store) Export() ([]snapv1.LineV1, []snapv1.TextV1) {
	lines := s.Lines()
	texts := s.Texts()
	ol := make([]snapv1.LineV1, 0, len(lines))
	for _, l := range lines {
		ol = append(ol, snapv1.LineV1{From: l.From, To: l.To})
	}
	ot := make([]snapv1.TextV1, 0, len(texts))
	for _, t := range texts {
		ot = append(ot, snapv1.TextV1{X: t.At[0], Y: t.At[1], Text: t.Text})
	}
	return ol, ot
}

// Import replaces the overlay with snapshot content. Everything imported is
// pending for persistence.
func (s *Store) Import(lines []snapv1.LineV1, texts []snapv1.TextV1) {
	ls := make([]Line, 0, len(lines))
	for _, l := range lines {
		ls = append(ls, Line{From: l.From, To: l.To})
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = ls
	s.savedLines = 0
	if !s.track {
		s.savedLines = len(ls)
	}
	s.texts = make(map[Point]string, len(texts))
	s.dirtyTexts = map[Point]struct{}{}
	for _, t := range texts {
		if t.Text == "" {
			continue
		}
		p := Point{t.X, t.Y}
		s.texts[p] = t.Text
		if s.track {
			s.dirtyTexts[p] = struct{}{}
		}
	}
}

func sortTexts(ts []Text) {
	sort.Slice(ts, func(i, j int) bool {
		if ts[i].At[1] != ts[j].At[1] {
			return ts[i].At[1] < ts[j].At[1]
		}
		return ts[i].At[0] < ts[j].At[0]
	})
}
