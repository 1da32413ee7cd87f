package api

import (
	"strconv"
	"time"
)

// nowFunc is overridden in tests to pin wall-clock-dependent handlers.
var nowFunc = time.Now

func parsePositiveInt(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, strconv.ErrRange
	}
	return n, nil
}
