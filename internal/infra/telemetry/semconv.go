// Package telemetry provides semantic conventions for trading-core observability.
package telemetry

import (
	"os"
	"strings"

	"go.opentelemetry.io/otel/attribute"
)

// Semantic convention attribute keys for core telemetry.
// Following OpenTelemetry naming conventions: namespace.attribute_name

const (
	// AttrVendor identifies which upstream market-data vendor served the request.
	AttrVendor = attribute.Key("vendor")
	// AttrSymbol captures the tradable instrument symbol (e.g. AAPL).
	AttrSymbol = attribute.Key("symbol")
	// AttrInterval records the canonical bar interval token.
	AttrInterval = attribute.Key("interval")
	// AttrTopic labels bus telemetry with the logical topic name.
	AttrTopic = attribute.Key("topic")
	// AttrStrategy labels router and sweep telemetry with the strategy name.
	AttrStrategy = attribute.Key("strategy")
	// AttrRegime records the classified market regime.
	AttrRegime = attribute.Key("regime")
	// AttrStage identifies the router pipeline stage.
	AttrStage = attribute.Key("stage")
	// AttrResult records the outcome of an operation (success, error class, etc.).
	AttrResult = attribute.Key("result")
	// AttrReason provides additional free-form context for errors or halts.
	AttrReason = attribute.Key("reason")
	// AttrEnvironment specifies the deployment environment for every metric.
	AttrEnvironment = attribute.Key("environment")
)

// Environment resolves the deployment environment label, defaulting to development.
func Environment() string {
	if env := strings.TrimSpace(os.Getenv("APP_ENV")); env != "" {
		return env
	}
	return "development"
}

// FetchAttributes returns the common attribute set for vendor fetch metrics.
func FetchAttributes(environment, vendor, symbol, interval, result string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		AttrEnvironment.String(environment),
		AttrVendor.String(vendor),
		AttrResult.String(result),
	}
	if symbol != "" {
		attrs = append(attrs, AttrSymbol.String(symbol))
	}
	if interval != "" {
		attrs = append(attrs, AttrInterval.String(interval))
	}
	return attrs
}

// TopicAttributes returns attributes for bus publish metrics.
func TopicAttributes(environment, topic, symbol string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		AttrEnvironment.String(environment),
		AttrTopic.String(topic),
	}
	if symbol != "" {
		attrs = append(attrs, AttrSymbol.String(symbol))
	}
	return attrs
}

// RouterAttributes returns attributes for router run metrics.
func RouterAttributes(environment, symbol, strategy, result string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		AttrEnvironment.String(environment),
		AttrResult.String(result),
	}
	if symbol != "" {
		attrs = append(attrs, AttrSymbol.String(symbol))
	}
	if strategy != "" {
		attrs = append(attrs, AttrStrategy.String(strategy))
	}
	return attrs
}
