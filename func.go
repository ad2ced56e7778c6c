// SPDX-License-Identifier: GPL-3.0-or-later

package reqflow

import "context"

// Func is a generic operation that accepts an input and returns a result.
//
// The request pipeline is built out of Func values: the [*RequestExecutor] is a
// Func[*RequestInfo, *Response], and [Apply] binds a request to it producing the
// Func[Unit, *Response] closure that [WrapNetworkRequestFunc] hooks receive and
// may replace.
type Func[A, B any] interface {
	Call(ctx context.Context, input A) (B, error)
}

// FuncAdapter wraps a function as a [Func] implementation.
//
// Hooks typically use this to return a replacement closure:
//
//	return FuncAdapter[Unit, *Response](func(ctx context.Context, _ Unit) (*Response, error) {
//		return next.Call(ctx, Unit{})
//	})
type FuncAdapter[A, B any] func(ctx context.Context, input A) (B, error)

// Call implements [Func].
func (f FuncAdapter[A, B]) Call(ctx context.Context, input A) (B, error) {
	return f(ctx, input)
}
