// Command p2p-datachannel-go is an end-to-end harness: two WebRTC peers
// negotiate a DataChannel with trickle ICE, exchanging every offer, answer
// and candidate through a running signal-relay instance.
//
// Usage:
//
//	RELAY_WS_URL=ws://127.0.0.1:8080/signal go run ./e2e/p2p-datachannel-go
//
// It exits 0 once a message has made the round trip over the DataChannel.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
)

const defaultRelayURL = "ws://127.0.0.1:8080/signal"

// envelope is the payload format the two harness peers agree on. The relay
// itself never looks inside it.
type envelope struct {
	Kind      string                     `json:"kind"`
	SDP       *webrtc.SessionDescription `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit   `json:"candidate,omitempty"`
}

type wireMessage struct {
	Type     string          `json:"type"`
	Identity string          `json:"identity,omitempty"`
	Room     string          `json:"room,omitempty"`
	To       string          `json:"to,omitempty"`
	From     string          `json:"from,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`

	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// relayClient is one participant's WebSocket session with the relay.
type relayClient struct {
	identity string
	conn     *websocket.Conn

	writeMu sync.Mutex
}

func dialRelay(wsURL, identity string) (*relayClient, error) {
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", wsURL, err)
	}

	c := &relayClient{identity: identity, conn: conn}
	if err := c.write(wireMessage{Type: "register", Identity: identity}); err != nil {
		conn.Close()
		return nil, err
	}

	ack, err := c.read()
	if err != nil {
		conn.Close()
		return nil, err
	}
	if ack.Type != "registered" || ack.Identity != identity {
		conn.Close()
		return nil, fmt.Errorf("unexpected register ack: %+v", ack)
	}
	return c, nil
}

func (c *relayClient) write(msg wireMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *relayClient) read() (wireMessage, error) {
	_ = c.conn.SetReadDeadline(time.Now().Add(30 * time.Second))
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return wireMessage{}, err
	}
	var msg wireMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return wireMessage{}, fmt.Errorf("unmarshal %q: %w", data, err)
	}
	return msg, nil
}

func (c *relayClient) signalTo(peer string, env envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return c.write(wireMessage{Type: "signal", To: peer, Payload: payload})
}

func (c *relayClient) close() {
	_ = c.write(wireMessage{Type: "end_call"})
	_ = c.conn.Close()
}

// peer couples a pion PeerConnection with its relay session and pumps inbound
// signals into pion.
type peer struct {
	name   string
	client *relayClient
	pc     *webrtc.PeerConnection
	remote string
}

func newPeer(wsURL, name, remote string) (*peer, error) {
	client, err := dialRelay(wsURL, name)
	if err != nil {
		return nil, err
	}

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		client.close()
		return nil, err
	}

	p := &peer{name: name, client: client, pc: pc, remote: remote}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		init := c.ToJSON()
		if err := client.signalTo(remote, envelope{Kind: "candidate", Candidate: &init}); err != nil {
			fmt.Fprintf(os.Stderr, "%s: send candidate: %v\n", name, err)
		}
	})

	return p, nil
}

// pump reads relayed signals until the connection drops, applying offers,
// answers and candidates to the local PeerConnection.
func (p *peer) pump(onOffer func(webrtc.SessionDescription)) {
	for {
		msg, err := p.client.read()
		if err != nil {
			return
		}
		if msg.Type != "signal" {
			continue
		}

		var env envelope
		if err := json.Unmarshal(msg.Payload, &env); err != nil {
			fmt.Fprintf(os.Stderr, "%s: bad envelope from %s: %v\n", p.name, msg.From, err)
			continue
		}

		switch env.Kind {
		case "offer":
			if env.SDP != nil && onOffer != nil {
				onOffer(*env.SDP)
			}
		case "answer":
			if env.SDP != nil {
				if err := p.pc.SetRemoteDescription(*env.SDP); err != nil {
					fmt.Fprintf(os.Stderr, "%s: set answer: %v\n", p.name, err)
				}
			}
		case "candidate":
			if env.Candidate != nil {
				if err := p.pc.AddICECandidate(*env.Candidate); err != nil {
					fmt.Fprintf(os.Stderr, "%s: add candidate: %v\n", p.name, err)
				}
			}
		}
	}
}

func main() {
	wsURL := os.Getenv("RELAY_WS_URL")
	if wsURL == "" {
		wsURL = defaultRelayURL
	}

	caller, err := newPeer(wsURL, "caller", "callee")
	if err != nil {
		fail("caller setup: %v", err)
	}
	defer caller.client.close()

	callee, err := newPeer(wsURL, "callee", "caller")
	if err != nil {
		fail("callee setup: %v", err)
	}
	defer callee.client.close()

	roundTrip := make(chan struct{})

	// Callee: answer whatever channel the caller opens and echo its messages.
	callee.pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		dc.OnMessage(func(msg webrtc.DataChannelMessage) {
			_ = dc.SendText("echo: " + string(msg.Data))
		})
	})

	go callee.pump(func(offer webrtc.SessionDescription) {
		if err := callee.pc.SetRemoteDescription(offer); err != nil {
			fail("callee: set offer: %v", err)
		}
		answer, err := callee.pc.CreateAnswer(nil)
		if err != nil {
			fail("callee: create answer: %v", err)
		}
		if err := callee.pc.SetLocalDescription(answer); err != nil {
			fail("callee: set local: %v", err)
		}
		if err := callee.client.signalTo("caller", envelope{Kind: "answer", SDP: callee.pc.LocalDescription()}); err != nil {
			fail("callee: send answer: %v", err)
		}
	})

	// Caller: open the channel, send one message, wait for the echo.
	dc, err := caller.pc.CreateDataChannel("probe", nil)
	if err != nil {
		fail("caller: create datachannel: %v", err)
	}
	dc.OnOpen(func() {
		_ = dc.SendText("ping")
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		if string(msg.Data) == "echo: ping" {
			close(roundTrip)
		}
	})

	go caller.pump(nil)

	offer, err := caller.pc.CreateOffer(nil)
	if err != nil {
		fail("caller: create offer: %v", err)
	}
	if err := caller.pc.SetLocalDescription(offer); err != nil {
		fail("caller: set local: %v", err)
	}
	if err := caller.client.signalTo("callee", envelope{Kind: "offer", SDP: caller.pc.LocalDescription()}); err != nil {
		fail("caller: send offer: %v", err)
	}

	select {
	case <-roundTrip:
		fmt.Println("OK: datachannel round trip through relay")
	case <-time.After(30 * time.Second):
		fail("timeout waiting for datachannel round trip")
	}
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
