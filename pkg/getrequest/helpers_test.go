package getrequest

import (
	"time"

	"github.com/Sternrassler/pagequery/pkg/transition"
)

func transitionWindow(d time.Duration) transition.Config {
	return transition.Config{BatchWindow: d}
}
