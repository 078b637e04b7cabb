package grpcx

import (
	"google.golang.org/grpc/metadata"

	x402 "github.com/x402-foundation/x402-go/v2"
)

// Metadata keys for protocol version 2.
const (
	MetadataKeyPaymentSignature = "payment-signature"
	MetadataKeyPaymentResponse  = "payment-response"
)

// Version 1 metadata keys, still accepted from older clients.
const (
	MetadataKeyLegacyPayment         = "x402-payment"
	MetadataKeyLegacyPaymentResponse = "x402-payment-response"
)

// ExtractPayment reads a payment payload from incoming metadata. The
// version 2 key wins when both generations are present; the bool
// reports which one carried it. An absent payment returns nil without
// error so callers can issue the challenge.
func ExtractPayment(md metadata.MD) (*x402.PaymentPayload, bool, error) {
	if md == nil {
		return nil, true, nil
	}

	if values := md.Get(MetadataKeyPaymentSignature); len(values) > 0 {
		payload, err := x402.DecodePaymentPayloadFromBase64(values[0])
		if err != nil {
			return nil, true, err
		}
		return &payload, true, nil
	}

	if values := md.Get(MetadataKeyLegacyPayment); len(values) > 0 {
		payload, err := x402.DecodePaymentPayloadFromBase64(values[0])
		if err != nil {
			return nil, false, err
		}
		return &payload, false, nil
	}

	return nil, true, nil
}

// receiptTrailer encodes a settlement receipt under the response key
// matching the wire generation the payment arrived on.
func receiptTrailer(receipt x402.SettleResponse, v2 bool) (metadata.MD, error) {
	encoded, err := receipt.EncodeToBase64()
	if err != nil {
		return nil, err
	}

	key := MetadataKeyPaymentResponse
	if !v2 {
		key = MetadataKeyLegacyPaymentResponse
	}
	return metadata.Pairs(key, encoded), nil
}

// ReceiptFromTrailer decodes the settlement receipt a server attached
// to the response trailer, trying the version 2 key first.
func ReceiptFromTrailer(md metadata.MD) (*x402.SettleResponse, bool) {
	for _, key := range []string{MetadataKeyPaymentResponse, MetadataKeyLegacyPaymentResponse} {
		values := md.Get(key)
		if len(values) == 0 {
			continue
		}
		receipt, err := x402.DecodeSettleResponseFromBase64(values[0])
		if err != nil {
			continue
		}
		return &receipt, true
	}
	return nil, false
}
