package encoder

import (
	"strconv"
	"strings"
	"time"
)

// progressParser converts ffmpeg's -progress pipe:1 key=value stream into
// Progress snapshots. ffmpeg emits fields line by line and terminates each
// block with a progress=continue (or progress=end) line; one snapshot is
// produced per completed block.
type progressParser struct {
	totalDuration float64
	startTime     time.Time

	currentTime float64
	fps         float64
	speed       float64
	last        *Progress
}

func newProgressParser(totalDuration float64) *progressParser {
	return &progressParser{
		totalDuration: totalDuration,
		startTime:     time.Now(),
	}
}

// parseLine consumes one output line and returns a snapshot when the line
// closes a progress block. progress=end always yields a final 100% snapshot.
func (p *progressParser) parseLine(line string) *Progress {
	key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
	if !ok {
		return nil
	}

	switch key {
	case "out_time_ms", "out_time_us":
		// Both keys report microseconds.
		if micros, err := strconv.ParseInt(value, 10, 64); err == nil {
			p.currentTime = float64(micros) / 1_000_000.0
		}
	case "fps":
		p.fps, _ = strconv.ParseFloat(value, 64)
	case "speed":
		p.speed, _ = strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(value), "x"), 64)
	case "progress":
		if value == "end" {
			return p.finalSnapshot()
		}
		return p.snapshot()
	}
	return nil
}

func (p *progressParser) snapshot() *Progress {
	percent := 0.0
	if p.totalDuration > 0 {
		percent = p.currentTime / p.totalDuration * 100.0
		if percent > 100 {
			percent = 100
		}
	}

	progress := &Progress{
		Percent:     percent,
		FPS:         p.fps,
		Speed:       p.speed,
		ETASeconds:  p.eta(),
		CurrentTime: p.currentTime,
		TotalTime:   p.totalDuration,
	}
	p.last = progress
	return progress
}

func (p *progressParser) finalSnapshot() *Progress {
	final := &Progress{
		Percent:     100,
		CurrentTime: p.totalDuration,
		TotalTime:   p.totalDuration,
	}
	if p.last != nil {
		final.FPS = p.last.FPS
		final.Speed = p.last.Speed
	}
	p.last = final
	return final
}

func (p *progressParser) eta() int64 {
	if p.currentTime <= 0 || p.totalDuration <= p.currentTime {
		return 0
	}
	remaining := p.totalDuration - p.currentTime
	if p.speed > 0 {
		return int64(remaining / p.speed)
	}
	elapsed := time.Since(p.startTime).Seconds()
	if elapsed <= 0 {
		return 0
	}
	rate := p.currentTime / elapsed
	if rate <= 0 {
		return 0
	}
	return int64(remaining / rate)
}
