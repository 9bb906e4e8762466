package logdb

// SubscribeTail registers a live-tail subscriber. Each freshly ingested message is
// delivered to every subscriber channel. Delivery never blocks ingestion: if a
// subscriber's channel is full, the message is dropped for that subscriber.
func (l *LogDB) SubscribeTail(buffer int) chan *Message {
	ch := make(chan *Message, buffer)
	l.tailLock.Lock()
	defer l.tailLock.Unlock()
	l.tails[ch] = true
	return ch
}

// UnsubscribeTail removes and closes a subscriber channel.
func (l *LogDB) UnsubscribeTail(ch chan *Message) {
	l.tailLock.Lock()
	defer l.tailLock.Unlock()
	if l.tails[ch] {
		delete(l.tails, ch)
		close(ch)
	}
}

func (l *LogDB) publishTail(msg *Message) {
	l.tailLock.Lock()
	defer l.tailLock.Unlock()
	for ch := range l.tails {
		select {
		case ch <- msg:
		default:
			// Slow tail consumer. Drop rather than stall ingestion.
		}
	}
}
