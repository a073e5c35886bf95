package chatui

import (
	"fmt"
	"time"

	"github.com/NimbleMarkets/ntcharts/sparkline"
)

const (
	sparklineWidth  = 20
	sparklineHeight = 2
)

// FormatLatency formats a duration as "X.Xms" or "X.Xs".
func FormatLatency(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%.1fms", float64(d)/float64(time.Millisecond))
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}

// FormatSources formats a source count.
func FormatSources(n int) string {
	if n == 1 {
		return "1 source"
	}
	return fmt.Sprintf("%d sources", n)
}

// scoreSparkline renders retrieval scores, best first, as a sparkline.
func scoreSparkline(scores []float64) string {
	if len(scores) == 0 {
		return ""
	}
	spark := sparkline.New(sparklineWidth, sparklineHeight)
	for _, v := range scores {
		spark.Push(v)
	}
	spark.Draw()
	return sparklineStyle.Render(spark.View())
}
