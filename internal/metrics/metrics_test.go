package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRegisterIsIdempotent(t *testing.T) {
	assert.NotPanics(t, func() {
		Register()
		Register()
	})
}

func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(checkIns.WithLabelValues("ok"))
	IncCheckIn("ok")
	IncCheckIn("ok")
	assert.Equal(t, before+2, testutil.ToFloat64(checkIns.WithLabelValues("ok")))

	IncCharge("charged")
	assert.GreaterOrEqual(t, testutil.ToFloat64(charges.WithLabelValues("charged")), 1.0)

	ObserveTick(120*time.Millisecond, 7)
	assert.Equal(t, 7.0, testutil.ToFloat64(openReservations))
}
