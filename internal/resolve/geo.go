package resolve

import "math"

func cosDeg(d float64) float64 { return math.Cos(d * math.Pi / 180) }

func sinDeg(d float64) float64 { return math.Sin(d * math.Pi / 180) }

func atan2Deg(y, x float64) float64 { return math.Atan2(y, x) * 180 / math.Pi }
