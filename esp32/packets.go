package esp32

import "container/list"

// packet is one +IPD frame. off counts the bytes already handed to Recv.
type packet struct {
	id   int
	data []byte
	off  int
}

// packetQueue holds received frames of every socket in arrival order.
// Each socket observes its own frames first in, first out.
type packetQueue struct {
	l list.List
}

func (q *packetQueue) push(id int, data []byte) {
	q.l.PushBack(&packet{id: id, data: data})
}

// take moves up to len(p) bytes of socket id into p in a single pass over the
// queue. Fully consumed frames are removed; a frame larger than the space
// left stays at its position with the remainder.
func (q *packetQueue) take(id int, p []byte) int {
	n := 0
	for e := q.l.Front(); e != nil && n < len(p); {
		next := e.Next()
		pkt := e.Value.(*packet)
		if pkt.id == id {
			k := copy(p[n:], pkt.data[pkt.off:])
			pkt.off += k
			n += k
			if pkt.off == len(pkt.data) {
				q.l.Remove(e)
			}
		}
		e = next
	}
	return n
}

// clear drops the frames of socket id, or of every socket when id is
// allSockets.
func (q *packetQueue) clear(id int) {
	for e := q.l.Front(); e != nil; {
		next := e.Next()
		if id == allSockets || e.Value.(*packet).id == id {
			q.l.Remove(e)
		}
		e = next
	}
}

func (q *packetQueue) count() int {
	return q.l.Len()
}
