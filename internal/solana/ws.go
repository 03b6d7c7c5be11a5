package solana

import "context"

// WSClient defines Solana WebSocket subscription interface.
type WSClient interface {
	// SubscribeSignature waits for a transaction signature to reach confirmed
	// commitment. The channel receives at most one notification and is closed
	// afterwards, or when ctx is done.
	SubscribeSignature(ctx context.Context, signature string) (<-chan SignatureNotification, error)

	// Close closes the WebSocket connection.
	Close() error
}

// SignatureNotification represents a signatureSubscribe message.
type SignatureNotification struct {
	Signature string
	Slot      int64
	Err       interface{} // nil if the transaction succeeded
}
