package grpcx

import (
	"context"

	"google.golang.org/grpc"
)

// StreamServerInterceptor returns an interceptor that charges for the
// configured streaming methods. The payment is verified before the
// stream opens and settled after it closes cleanly; a stream that ends
// in an error is not settled.
func StreamServerInterceptor(methods MethodsConfig, opts ...InterceptorOption) grpc.StreamServerInterceptor {
	gate := newPaymentGate(methods, opts...)

	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		method, ok := gate.match(info.FullMethod)
		if !ok {
			return handler(srv, ss)
		}

		ctx := ss.Context()

		payCtx, cancel := context.WithTimeout(ctx, gate.timeout)
		payment, err := gate.authorize(payCtx, info.FullMethod, *method)
		cancel()
		if err != nil {
			return err
		}

		wrapped := &paymentServerStream{
			ServerStream: ss,
			ctx:          context.WithValue(ctx, PaymentContextKey, &payment.payload),
		}

		if err := handler(srv, wrapped); err != nil {
			return err
		}

		settleCtx, cancel := context.WithTimeout(ctx, gate.timeout)
		defer cancel()
		if trailer := gate.settle(settleCtx, info.FullMethod, payment); trailer != nil {
			ss.SetTrailer(trailer)
		}
		return nil
	}
}

// paymentServerStream overrides the stream context so handlers can read
// the payment payload.
type paymentServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *paymentServerStream) Context() context.Context {
	return s.ctx
}
