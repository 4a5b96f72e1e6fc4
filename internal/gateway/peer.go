package gateway

import (
	"sync"
	"time"

	"golang.org/x/net/websocket"
)

// peer はWebSocket接続1本分の送信側。registry.Connを実装する。
// 送信は専用のgoroutineで行い、Sendは送信キューに積むだけでブロックしない。
type peer struct {
	id           string
	ws           *websocket.Conn
	out          chan []byte
	done         chan struct{}
	closeOnce    sync.Once
	writeTimeout time.Duration
	wg           sync.WaitGroup
}

func newPeer(id string, ws *websocket.Conn, buffer int, writeTimeout time.Duration) *peer {
	p := &peer{
		id:           id,
		ws:           ws,
		out:          make(chan []byte, buffer),
		done:         make(chan struct{}),
		writeTimeout: writeTimeout,
	}
	p.wg.Add(1)
	go p.writeLoop()
	return p
}

func (p *peer) ID() string { return p.id }

// Send はフレームを送信キューに積む。キューが満杯または接続が閉じている場合はfalseを返す。
func (p *peer) Send(frame []byte) bool {
	select {
	case <-p.done:
		return false
	default:
	}
	select {
	case p.out <- frame:
		return true
	default:
		return false
	}
}

// Close は送信キューに残ったフレームを書き出した後、接続を閉じる。
func (p *peer) Close() {
	p.closeOnce.Do(func() { close(p.done) })
}

// wait は送信goroutineの終了を待つ。
func (p *peer) wait() {
	p.wg.Wait()
}

func (p *peer) writeLoop() {
	defer p.wg.Done()
	defer p.ws.Close()

	for {
		select {
		case frame := <-p.out:
			if err := p.write(frame); err != nil {
				p.Close()
				return
			}
		case <-p.done:
			for {
				select {
				case frame := <-p.out:
					if err := p.write(frame); err != nil {
						return
					}
				default:
					return
				}
			}
		}
	}
}

func (p *peer) write(frame []byte) error {
	if p.writeTimeout > 0 {
		_ = p.ws.SetWriteDeadline(time.Now().Add(p.writeTimeout))
	}
	return websocket.Message.Send(p.ws, string(frame))
}
