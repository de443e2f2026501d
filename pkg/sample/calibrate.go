package sample

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNoSamples is returned when averaging is asked for no readings.
	ErrNoSamples = errors.New("no samples to average")
	// ErrZeroSpan is returned when the known load produced no change.
	ErrZeroSpan = errors.New("calibration load produced no signal")
)

// Average returns the mean code over the next n stable readings from in.
// Unstable and still-filling readings are skipped.
func Average(ctx context.Context, in <-chan Reading, n int) (float64, error) {
	if n <= 0 {
		return 0, ErrNoSamples
	}

	var sum float64
	for got := 0; got < n; {
		select {
		case <-ctx.Done():
			return 0, fmt.Errorf("averaged %d of %d readings: %w", got, n, ctx.Err())
		case r, ok := <-in:
			if !ok {
				return 0, fmt.Errorf("averaged %d of %d readings: input closed", got, n)
			}
			if !r.Stable {
				continue
			}
			sum += r.Mean
			got++
		}
	}

	return sum / float64(n), nil
}

// Zero returns c with Offset set to the average of n stable readings taken
// with nothing on the scale.
func (c Calibration) Zero(ctx context.Context, in <-chan Reading, n int) (Calibration, error) {
	avg, err := Average(ctx, in, n)
	if err != nil {
		return c, fmt.Errorf("failed to zero: %w", err)
	}
	c.Offset = avg
	return c, nil
}

// Span returns c with Scale set from n stable readings taken with known
// units on the scale. Call after Zero.
func (c Calibration) Span(ctx context.Context, in <-chan Reading, known float64, n int) (Calibration, error) {
	if known == 0 {
		return c, fmt.Errorf("failed to span: %w", ErrZeroSpan)
	}

	avg, err := Average(ctx, in, n)
	if err != nil {
		return c, fmt.Errorf("failed to span: %w", err)
	}

	scale := (avg - c.Offset) / known
	if scale == 0 {
		return c, fmt.Errorf("failed to span: %w", ErrZeroSpan)
	}
	c.Scale = scale
	return c, nil
}
