package devsim

import "math"

// TransformFunc computes the processed value of an input channel from the value
// read this cycle and the raw value read on the previous cycle.
type TransformFunc func(current, previous float64) (float64, error)

// builtinTransforms are available by name on every Simulator.
var builtinTransforms = map[string]TransformFunc{
	"identity": func(x0, x1 float64) (float64, error) { return x0, nil },
	"negate":   func(x0, x1 float64) (float64, error) { return -x0, nil },
	"abs":      func(x0, x1 float64) (float64, error) { return math.Abs(x0), nil },
	"square":   func(x0, x1 float64) (float64, error) { return x0 * x0, nil },
	"delta":    func(x0, x1 float64) (float64, error) { return x0 - x1, nil },
	"average":  func(x0, x1 float64) (float64, error) { return 0.5 * (x0 + x1), nil },
}

// applyTransform runs fn and returns the raw value instead when fn fails,
// returns a non-finite value, or panics.
func applyTransform(ch InputChannel, name string, fn TransformFunc, current, previous float64) (result float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = current
			err = &TransformError{Channel: ch, Name: name, Err: panicError{r}}
		}
	}()
	result, err = fn(current, previous)
	if err != nil {
		return current, &TransformError{Channel: ch, Name: name, Err: err}
	}
	if math.IsNaN(result) || math.IsInf(result, 0) {
		return current, &TransformError{Channel: ch, Name: name, Err: errNonFinite}
	}
	return result, nil
}
