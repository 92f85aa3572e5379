// ABOUTME: Audio rate conversion package
// ABOUTME: Provides the linear and passthrough converters used for drift correction
// Package resample provides the rate-conversion strategies of the playout engine.
//
// Linear is a streaming linear-interpolation resampler whose ratio can be nudged on
// every call; Passthrough leaves frames untouched.
//
// Example:
//
//	r, err := resample.NewLinear(in, out)
//	r.SetRatio(r.BaseRatio() * 1.0001)
//	need := r.InputFrames(480)
//	err = r.Convert(input[:need*frameSize], output)
package resample
