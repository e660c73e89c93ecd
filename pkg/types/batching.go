package types

// BatchedMessage is a generic wrapper that links a raw, original ConsumedMessage
// with the result of decoding it into a structured payload of type T.
//
// Exactly one of Payload and DecodeErr is meaningful: when decoding failed,
// Payload is nil and DecodeErr describes why. The original bytes are always
// available through OriginalMessage.Payload.
type BatchedMessage[T any] struct {
	// OriginalMessage is the message as it was received from the consumer.
	OriginalMessage ConsumedMessage
	// Payload is the structured data of type T, created by the decoder.
	Payload *T
	// DecodeErr is set when the payload could not be decoded.
	DecodeErr error
}

// Decoded reports whether the decode step materialised a value.
func (m BatchedMessage[T]) Decoded() bool {
	return m.DecodeErr == nil
}

// Batch is an ordered group of messages delivered together from one partition.
type Batch[T any] []BatchedMessage[T]

// Last returns the final message of the batch. It panics on an empty batch.
func (b Batch[T]) Last() BatchedMessage[T] {
	return b[len(b)-1]
}
