package priority

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveFinal(t *testing.T) {
	tests := []struct {
		name string
		in   Input
		want Priority
	}{
		{
			name: "already final short-circuits",
			in:   Input{AlreadyFinal: Ptr(Urgent), Calculated: Ptr(Immediate), Selected: Ptr(PlanMonitor), OverrideReason: "x"},
			want: Urgent,
		},
		{
			name: "calculated only",
			in:   Input{Calculated: Ptr(Recommended)},
			want: Recommended,
		},
		{
			name: "override without reason is ignored",
			in:   Input{Calculated: Ptr(PlanMonitor), Selected: Ptr(Immediate), OverrideReason: ""},
			want: PlanMonitor,
		},
		{
			name: "blank reason is ignored",
			in:   Input{Calculated: Ptr(PlanMonitor), Selected: Ptr(Immediate), OverrideReason: "   "},
			want: PlanMonitor,
		},
		{
			name: "override with reason wins",
			in:   Input{Calculated: Ptr(PlanMonitor), Selected: Ptr(Immediate), OverrideReason: "active leak"},
			want: Immediate,
		},
		{
			name: "selected equal to calculated",
			in:   Input{Calculated: Ptr(Urgent), Selected: Ptr(Urgent)},
			want: Urgent,
		},
		{
			name: "legacy fallback",
			in:   Input{Selected: Ptr(Immediate), OverrideReason: "ignored", Legacy: Ptr(Recommended)},
			want: Recommended,
		},
		{
			name: "default",
			in:   Input{},
			want: DefaultPriority,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ResolveFinal(tt.in))
		})
	}
}

func TestIsOverrideValid(t *testing.T) {
	assert.True(t, IsOverrideValid(Input{}))
	assert.True(t, IsOverrideValid(Input{Selected: Ptr(Immediate)}), "no calculated value means no override")
	assert.True(t, IsOverrideValid(Input{Calculated: Ptr(Urgent), Selected: Ptr(Urgent)}))
	assert.False(t, IsOverrideValid(Input{Calculated: Ptr(Urgent), Selected: Ptr(Immediate)}))
	assert.False(t, IsOverrideValid(Input{Calculated: Ptr(Urgent), Selected: Ptr(Immediate), OverrideReason: " "}))
	assert.True(t, IsOverrideValid(Input{Calculated: Ptr(Urgent), Selected: Ptr(Immediate), OverrideReason: "owner request"}))
}

func TestParse(t *testing.T) {
	p, ok := Parse(" plan-monitor ")
	assert.True(t, ok)
	assert.Equal(t, PlanMonitor, p)

	_, ok = Parse("whenever")
	assert.False(t, ok)
}
