package board

import (
	"testing"

	"github.com/cfi-labs/boardgen/internal/domain"
	"github.com/stretchr/testify/assert"
)

func entities(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = string(rune('a' + i))
	}
	return out
}

func TestCheckCapacityBounds(t *testing.T) {
	v := NewValidator()
	profile := domain.NormalizeProfile(domain.PatientProfile{}, nil)

	for _, layout := range []string{"2x4", "3x3", "3x4"} {
		capacity := domain.LayoutOrDefault(layout).Capacity()
		for n := 0; n <= capacity+2; n++ {
			checks := v.Check(profile, domain.Plan{Entities: entities(n), Layout: layout})
			want := n >= 1 && n <= capacity
			assert.Equal(t, want, checks.OK, "layout=%s n=%d", layout, n)
		}
	}
}

func TestCheckMissingReasons(t *testing.T) {
	v := NewValidator()
	profile := domain.NormalizedProfile{}

	empty := v.Check(profile, domain.Plan{Layout: "2x4"})
	assert.Equal(t, []string{MissingEntities}, empty.Missing)

	over := v.Check(profile, domain.Plan{Entities: entities(9), Layout: "2x4"})
	assert.Equal(t, []string{MissingCapacity}, over.Missing)

	ok := v.Check(profile, domain.Plan{Entities: entities(9), Layout: "3x3"})
	assert.True(t, ok.OK)
	assert.Empty(t, ok.Missing)
}

func TestCheckUnknownLayoutUsesDefaultGrid(t *testing.T) {
	v := NewValidator()

	assert.True(t, v.Check(domain.NormalizedProfile{}, domain.Plan{Entities: entities(8), Layout: "9x9"}).OK)
	assert.False(t, v.Check(domain.NormalizedProfile{}, domain.Plan{Entities: entities(9), Layout: "9x9"}).OK)
}
