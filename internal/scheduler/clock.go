package scheduler

import (
	"time"

	"github.com/me/flightlogic/pkg/model"
)

// Clock supplies the current time at one-second resolution.
type Clock interface {
	Now() model.Timestamp
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() model.Timestamp { return model.TimestampOf(time.Now()) }
