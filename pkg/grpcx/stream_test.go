package grpcx

import (
	"context"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	x402 "github.com/x402-foundation/x402-go/v2"
)

// fakeServerStream implements grpc.ServerStream for interceptor tests.
type fakeServerStream struct {
	ctx     context.Context
	trailer metadata.MD
	sent    []interface{}
}

func (s *fakeServerStream) SetHeader(metadata.MD) error  { return nil }
func (s *fakeServerStream) SendHeader(metadata.MD) error { return nil }
func (s *fakeServerStream) SetTrailer(md metadata.MD) {
	s.trailer = metadata.Join(s.trailer, md)
}
func (s *fakeServerStream) Context() context.Context { return s.ctx }
func (s *fakeServerStream) SendMsg(m interface{}) error {
	s.sent = append(s.sent, m)
	return nil
}
func (s *fakeServerStream) RecvMsg(m interface{}) error { return nil }

func streamWithPayment(t *testing.T) *fakeServerStream {
	t.Helper()
	return &fakeServerStream{
		ctx: metadata.NewIncomingContext(context.Background(), paymentMD(t)),
	}
}

func paidStreamInterceptor(facilitator *stubFacilitator) grpc.StreamServerInterceptor {
	return StreamServerInterceptor(pricedMethods(),
		WithFacilitatorClient(facilitator),
		WithScheme("eip155:1", &stubSchemeServer{}),
	)
}

func TestStreamInterceptorPassThrough(t *testing.T) {
	interceptor := paidStreamInterceptor(&stubFacilitator{})
	stream := &fakeServerStream{ctx: context.Background()}

	err := interceptor(nil, stream, &grpc.StreamServerInfo{FullMethod: "/public.v1.Public/Watch"},
		func(srv interface{}, ss grpc.ServerStream) error {
			return ss.SendMsg("tick")
		})

	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(stream.sent) != 1 {
		t.Errorf("Expected handler to run, sent %v", stream.sent)
	}
	if len(stream.trailer) != 0 {
		t.Errorf("Unexpected trailer on unpriced stream: %v", stream.trailer)
	}
}

func TestStreamInterceptorChallenge(t *testing.T) {
	interceptor := paidStreamInterceptor(&stubFacilitator{})
	stream := &fakeServerStream{ctx: context.Background()}

	err := interceptor(nil, stream, &grpc.StreamServerInfo{FullMethod: pricedMethod},
		func(srv interface{}, ss grpc.ServerStream) error {
			t.Error("Stream handler should not run without payment")
			return nil
		})

	if status.Code(err) != codes.ResourceExhausted {
		t.Fatalf("Expected ResourceExhausted, got %v", err)
	}
	if _, ok := PaymentRequiredFromError(err); !ok {
		t.Errorf("Expected decodable requirements in %v", err)
	}
}

func TestStreamInterceptorSettlesAfterStream(t *testing.T) {
	var events []string
	facilitator := &stubFacilitator{
		settle: func(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (x402.SettleResponse, error) {
			events = append(events, "settle")
			return x402.SettleResponse{Success: true, Transaction: "0xtx", Network: "eip155:1"}, nil
		},
	}

	interceptor := paidStreamInterceptor(facilitator)
	stream := streamWithPayment(t)

	err := interceptor(nil, stream, &grpc.StreamServerInfo{FullMethod: pricedMethod},
		func(srv interface{}, ss grpc.ServerStream) error {
			events = append(events, "handler")
			if _, ok := PaymentFromContext(ss.Context()); !ok {
				t.Error("Expected payment payload in stream context")
			}
			return ss.SendMsg("data")
		})

	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(events) != 2 || events[0] != "handler" || events[1] != "settle" {
		t.Errorf("Expected handler before settle, got %v", events)
	}

	receipt, ok := ReceiptFromTrailer(stream.trailer)
	if !ok {
		t.Fatal("Expected receipt in trailer")
	}
	if !receipt.Success || receipt.Transaction != "0xtx" {
		t.Errorf("Unexpected receipt %+v", receipt)
	}
}

func TestStreamInterceptorHandlerErrorSkipsSettlement(t *testing.T) {
	settled := false
	facilitator := &stubFacilitator{
		settle: func(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (x402.SettleResponse, error) {
			settled = true
			return x402.SettleResponse{Success: true}, nil
		},
	}

	interceptor := paidStreamInterceptor(facilitator)
	stream := streamWithPayment(t)

	err := interceptor(nil, stream, &grpc.StreamServerInfo{FullMethod: pricedMethod},
		func(srv interface{}, ss grpc.ServerStream) error {
			return status.Error(codes.Aborted, "stream broke")
		})

	if status.Code(err) != codes.Aborted {
		t.Fatalf("Expected handler error passthrough, got %v", err)
	}
	if settled {
		t.Error("Settlement must not run for failed streams")
	}
	if len(stream.trailer) != 0 {
		t.Errorf("No receipt expected for failed streams, got %v", stream.trailer)
	}
}
