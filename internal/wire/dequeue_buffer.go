package wire

// DequeueBuffer accumulates bytes read from a TCP connection across
// multiple recv() calls until a full ASN.1 message is available,
// compacting consumed bytes off the front. It mirrors the original
// implementation's dequeue_buffer.cc, which exists because a BER
// message routinely arrives split across more than one TCP segment.
type DequeueBuffer struct {
	buf []byte
}

// Write appends newly-read bytes to the buffer.
func (d *DequeueBuffer) Write(p []byte) {
	d.buf = append(d.buf, p...)
}

// TryDecode attempts to decode one message from the front of the
// buffer. On success it compacts the consumed bytes away. On
// ErrIncomplete it leaves the buffer untouched so the caller can Write
// more data and retry.
func (d *DequeueBuffer) TryDecode() (*Message, error) {
	msg, consumed, err := Decode(d.buf)
	if err != nil {
		return nil, err
	}
	d.buf = append(d.buf[:0], d.buf[consumed:]...)
	return msg, nil
}

// Len reports how many unconsumed bytes are buffered.
func (d *DequeueBuffer) Len() int { return len(d.buf) }
