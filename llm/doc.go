// Package llm provides a provider-neutral abstraction over text-generation backends.
//
// # Core Concepts
//
//  1. Client: the single capability every backend implements. Generate takes a prompt
//     and an optional Config and returns a Response exposing the generated text.
//
//  2. Config and Options: Config is an open key/value map so callers and cache keys stay
//     backend-agnostic. ParseOptions decodes the keys every backend understands.
//
//  3. Errors: backends return only *Error. A rate_limit error is transient and retryable;
//     every other type is fatal for the call that produced it.
//
// Usage Example
//
//	base, err := factory.Build(settings)      // raw backend wrapped in the response cache
//	client := retry.New(base, retry.WithSink(sink))
//
//	resp, err := client.Call(ctx, "Summarize this story", llm.Config{"temperature": 0.2}, traceID, "analyze")
//
// # Extension Points
//
// To add a backend:
//  1. Implement the Client interface
//  2. Validate required options at construction with ValidateRequired
//  3. Map the backend's rate-limit signal to ErrorTypeRateLimit and everything else to a fatal *Error
//  4. Register the constructor in the factory package
package llm
