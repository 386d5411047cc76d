package retry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCalculateBackoffDuration(t *testing.T) {
	base := time.Second

	assert.Equal(t, 1*time.Second, CalculateBackoffDuration(0, base, 2.0, 0))
	assert.Equal(t, 2*time.Second, CalculateBackoffDuration(1, base, 2.0, 0))
	assert.Equal(t, 4*time.Second, CalculateBackoffDuration(2, base, 2.0, 0))
	assert.Equal(t, 8*time.Second, CalculateBackoffDuration(3, base, 2.0, 0))
}

func TestCalculateBackoffDuration_Capped(t *testing.T) {
	base := time.Second

	assert.Equal(t, 5*time.Second, CalculateBackoffDuration(10, base, 2.0, 5*time.Second))
	assert.Equal(t, 4*time.Second, CalculateBackoffDuration(2, base, 2.0, 5*time.Second))
}
