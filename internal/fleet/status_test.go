package fleet

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyStatus(t *testing.T) {
	testCases := []struct {
		name  string
		speed float64
		want  Status
	}{
		{name: "moving", speed: 42.5, want: StatusActive},
		{name: "crawling", speed: 0.1, want: StatusActive},
		{name: "stopped", speed: 0, want: StatusIdle},
		{name: "negative reading", speed: -1, want: StatusIdle},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ClassifyStatus(tc.speed))
		})
	}
}
