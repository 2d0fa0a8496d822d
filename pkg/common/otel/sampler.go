package otel

import (
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// endpointExcluder drops spans for configured routes and applies a
// probability sampler to everything else.
type endpointExcluder struct {
	excluded map[string]struct{}
	sampler  sdktrace.Sampler
}

func newEndpointExcluder(excluded map[string]struct{}, probability float64) endpointExcluder {
	return endpointExcluder{
		excluded: excluded,
		sampler:  sdktrace.TraceIDRatioBased(probability),
	}
}

// ShouldSample implements the sdktrace.Sampler interface.
func (ee endpointExcluder) ShouldSample(p sdktrace.SamplingParameters) sdktrace.SamplingResult {
	for _, attr := range p.Attributes {
		if attr.Key == "http.target" {
			if _, exists := ee.excluded[attr.Value.AsString()]; exists {
				return sdktrace.SamplingResult{Decision: sdktrace.Drop}
			}
		}
	}

	return ee.sampler.ShouldSample(p)
}

// Description implements the sdktrace.Sampler interface.
func (ee endpointExcluder) Description() string {
	return "endpointExcluder"
}
