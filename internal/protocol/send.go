package protocol

import "fmt"

// Sink accepts encoded packets for one session, in order.
type Sink interface {
	Send(data []byte) error
}

// Send encodes p into one buffer and writes it to sink.
//
// Postcondition: Returns an error wrapping ErrInvalidArgument if p cannot be
// encoded (nothing is written), or the sink's error if the write fails.
func Send(sink Sink, p Packet) error {
	data, err := Encode(p)
	if err != nil {
		return err
	}
	if err := sink.Send(data); err != nil {
		return fmt.Errorf("sending packet 0x%02X: %w", p.Tag(), err)
	}
	return nil
}
