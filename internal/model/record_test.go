package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int { return &v }

func validRecord() *MemoryRecord {
	return &MemoryRecord{
		MemType:      MemIC,
		Subjects:     []string{"dimitri", "byleth"},
		Predicate:    "relationship_status",
		Object:       "reconciled",
		FactText:     "Dimitri and Byleth reconciled after the argument",
		ChapterStart: 3,
		Visibility:   VisibilityShared,
		Confidence:   0.9,
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*MemoryRecord)
		wantErr bool
	}{
		{"valid", func(r *MemoryRecord) {}, false},
		{"missing fact text", func(r *MemoryRecord) { r.FactText = "  " }, true},
		{"unknown mem type", func(r *MemoryRecord) { r.MemType = "XX" }, true},
		{"unknown visibility", func(r *MemoryRecord) { r.Visibility = "secret" }, true},
		{"confidence too high", func(r *MemoryRecord) { r.Confidence = 1.2 }, true},
		{"confidence negative", func(r *MemoryRecord) { r.Confidence = -0.1 }, true},
		{"chapter start zero", func(r *MemoryRecord) { r.ChapterStart = 0 }, true},
		{"inverted chapter range", func(r *MemoryRecord) { r.ChapterEnd = intPtr(2) }, true},
		{"closed chapter range", func(r *MemoryRecord) { r.ChapterEnd = intPtr(7) }, false},
		{"IC single subject", func(r *MemoryRecord) { r.Subjects = []string{"dimitri"} }, true},
		{"C2U wrong cardinality", func(r *MemoryRecord) {
			r.MemType = MemC2U
			r.Subjects = []string{"dimitri", "byleth", "user_123"}
		}, true},
		{"C2U pair", func(r *MemoryRecord) {
			r.MemType = MemC2U
			r.Subjects = []string{"dimitri", "user_123"}
		}, false},
		{"WM empty subjects", func(r *MemoryRecord) {
			r.MemType = MemWM
			r.Subjects = nil
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := validRecord()
			tt.mutate(r)
			err := r.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrValidation)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCanonicalKey(t *testing.T) {
	r := validRecord()
	// Subject order must not matter.
	swapped := validRecord()
	swapped.Subjects = []string{"byleth", "dimitri"}
	assert.Equal(t, r.CanonicalKey(), swapped.CanonicalKey())
	assert.Equal(t, "byleth::dimitri::relationship_status::reconciled", r.CanonicalKey())

	// Without a predicate the key falls back to mem_type + subjects.
	bare := validRecord()
	bare.Predicate = ""
	bare.Object = ""
	assert.Equal(t, "IC::byleth::dimitri", bare.CanonicalKey())
}

func TestHeldAt(t *testing.T) {
	r := validRecord()
	assert.False(t, r.HeldAt(2))
	assert.True(t, r.HeldAt(3))
	assert.True(t, r.HeldAt(100))

	r.ChapterEnd = intPtr(5)
	assert.True(t, r.HeldAt(5))
	assert.False(t, r.HeldAt(6))
}

func TestSubjectSetEqual(t *testing.T) {
	r := validRecord()
	assert.True(t, r.SubjectSetEqual([]string{"byleth", "dimitri"}))
	assert.True(t, r.SubjectSetEqual([]string{"dimitri", "byleth"}))
	assert.False(t, r.SubjectSetEqual([]string{"dimitri"}))
	assert.False(t, r.SubjectSetEqual([]string{"dimitri", "felix"}))
}

func TestClone(t *testing.T) {
	r := validRecord()
	r.ChapterEnd = intPtr(9)
	c := r.Clone()
	c.Subjects[0] = "felix"
	*c.ChapterEnd = 4
	assert.Equal(t, "dimitri", r.Subjects[0])
	assert.Equal(t, 9, *r.ChapterEnd)
}
