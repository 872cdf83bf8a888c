package scoring

// Bullet is a display item for one metric. It is never persisted; it is
// rebuilt from a stored result whenever it is needed.
type Bullet struct {
	Key       string
	Label     string
	Value     *float64
	Band      *Band
	Direction Direction
	Unit      string
	Score     *float64
}

func newBullet(key, label string, value *float64, band *Band) Bullet {
	b := Bullet{Key: key, Label: label, Value: value, Band: band}
	if band != nil {
		b.Direction = band.Direction
		b.Unit = band.Unit
	}
	if score, ok := ScoreFromBands(value, band); ok {
		b.Score = &score
	}
	return b
}

// Aggregate returns the mean of the defined bullet scores scaled to 0-100, or
// nil when no bullet has a score ("insufficient data", distinct from 0).
func Aggregate(bullets []Bullet) *float64 {
	var sum float64
	n := 0
	for _, b := range bullets {
		if b.Score == nil {
			continue
		}
		sum += *b.Score
		n++
	}
	if n == 0 {
		return nil
	}
	mean := sum / float64(n) * 100
	return &mean
}
