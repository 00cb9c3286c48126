// Package errors provides the error classification used across GII.
//
// # Overview
//
// Every failure that crosses a component boundary falls into one of three classes:
//
//   - Transient: timeouts, refused or reset connections, an unavailable store (retry)
//   - Invalid: malformed packets, short payloads, bad definition strings (reject the input)
//   - Fatal: EOF, a closed stream, missing or invalid configuration (tear down)
//
// Connections use the class to decide what a read error means. A read deadline expiring in
// WaitForRead is transient and simply returns the state machine to the previous state, a
// protocol violation moves the connection to Error, and EOF ends it.
//
// # Wrapping
//
// Errors are wrapped with the component, the method and the action that failed:
//
//	if err := s.store.Set(section, key, value); err != nil {
//	    return errors.Wrap(err, "UnitServer", "SetConversion", "store write")
//	}
//
// produces "UnitServer.SetConversion: store write failed: <cause>". The classified variants
// WrapTransient, WrapInvalid and WrapFatal additionally attach a ClassifiedError so callers
// can use IsTransient, IsInvalid and IsFatal without string matching.
//
// # Retries
//
// RetryConfig converts into a pkg/retry Config. Client dialing uses it together with
// IsTransient:
//
//	cfg := errors.DefaultRetryConfig()
//	err := retry.Do(ctx, cfg.ToRetryConfig(), func() error {
//	    conn, err := net.Dial("tcp", addr)
//	    if err != nil && !errors.IsTransient(err) {
//	        return retry.NonRetryable(err)
//	    }
//	    ...
//	})
package errors
