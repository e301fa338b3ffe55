package telemetry

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRecordAndColumn(t *testing.T) {
	s := NewSink()
	s.Record(0, map[string]any{"axis-x.pos": 0.1, "axis-y.pos": 0.2})
	s.Record(1, map[string]any{"axis-x.pos": 0.15, "axis-y.pos": 0.25})

	col, ok := s.Column("axis-x.pos")
	require.True(t, ok)
	require.Equal(t, []float64{0.1, 0.15}, col)
	require.Equal(t, 2, s.Len())
}

func TestColumnMissing(t *testing.T) {
	s := NewSink()
	_, ok := s.Column("nonexistent")
	require.False(t, ok)
}

func TestRecordSliceSample(t *testing.T) {
	s := NewSink()
	s.Record(0, map[string]any{"velocity": []float64{1, 2, 3}})
	col, ok := s.Column("velocity.1")
	require.True(t, ok)
	require.Equal(t, []float64{2}, col)
}
