package serial

import (
	"io"
	"time"

	"github.com/joeycumines/go-catrate"
	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// Logger is the structured logger a Port writes to.
type Logger = logiface.Logger[logiface.Event]

// log categories, used for rate limiting
const (
	logOverflow      = "overflow"
	logListenerPanic = "listener panic"
)

var logRates = map[time.Duration]int{
	time.Second: 1,
	time.Minute: 10,
}

func defaultLogger() *Logger {
	return stumpy.L.New(
		stumpy.L.WithStumpy(),
		stumpy.L.WithLevel(logiface.LevelWarning),
	).Logger()
}

// NewJSONLogger returns a stumpy JSON logger writing to w at level.
func NewJSONLogger(w io.Writer, level logiface.Level) *Logger {
	return stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(w)),
		stumpy.L.WithLevel(level),
	).Logger()
}

// limiter throttles noisy log lines that can fire on every data arrival.
type limiter struct {
	rates *catrate.Limiter
}

func newLimiter() *limiter {
	return &limiter{rates: catrate.NewLimiter(logRates)}
}

func (l *limiter) allow(category string) bool {
	_, ok := l.rates.Allow(category)
	return ok
}
