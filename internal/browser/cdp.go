package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const cdpTimeout = 30 * time.Second

// cdpTarget is the subset of the /json/new response this client needs.
type cdpTarget struct {
	ID                   string `json:"id"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

// CDPClient is a minimal Chrome DevTools Protocol client: open a new tab,
// navigate, wait for the load event, and evaluate a JS expression. It
// implements just enough of the protocol for the render fetch path.
type CDPClient struct {
	host string
	port int

	conn    *websocket.Conn
	tabID   string
	nextID  int
	mu      sync.Mutex
	pending map[int]chan json.RawMessage
	events  chan cdpEvent
	readErr error
}

type cdpEvent struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

type cdpMessage struct {
	ID     int             `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params interface{}     `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  json.RawMessage `json:"error,omitempty"`
}

// NewCDPClient opens a new browser tab via the HTTP devtools endpoint and
// establishes the tab's WebSocket debugger connection.
func NewCDPClient(ctx context.Context, host string, port int) (*CDPClient, error) {
	target, err := openTab(ctx, host, port)
	if err != nil {
		return nil, err
	}

	dialer := websocket.Dialer{HandshakeTimeout: cdpTimeout}
	conn, _, err := dialer.DialContext(ctx, target.WebSocketDebuggerURL, nil)
	if err != nil {
		return nil, fmt.Errorf("browser: dial devtools websocket: %w", err)
	}

	c := &CDPClient{
		host:    host,
		port:    port,
		conn:    conn,
		tabID:   target.ID,
		pending: make(map[int]chan json.RawMessage),
		events:  make(chan cdpEvent, 32),
	}
	go c.readLoop()
	return c, nil
}

func openTab(ctx context.Context, host string, port int) (cdpTarget, error) {
	url := fmt.Sprintf("http://%s:%d/json/new", host, port)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, nil)
	if err != nil {
		return cdpTarget{}, fmt.Errorf("browser: build /json/new request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return cdpTarget{}, fmt.Errorf("browser: open tab: %w", err)
	}
	defer resp.Body.Close()

	var target cdpTarget
	if err := json.NewDecoder(resp.Body).Decode(&target); err != nil {
		return cdpTarget{}, fmt.Errorf("browser: decode /json/new response: %w", err)
	}
	return target, nil
}

func (c *CDPClient) readLoop() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			c.readErr = err
			for _, ch := range c.pending {
				close(ch)
			}
			c.mu.Unlock()
			return
		}

		var msg cdpMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}

		if msg.ID != 0 {
			c.mu.Lock()
			ch, ok := c.pending[msg.ID]
			delete(c.pending, msg.ID)
			c.mu.Unlock()
			if ok {
				if msg.Error != nil {
					ch <- msg.Error
				} else {
					ch <- msg.Result
				}
				close(ch)
			}
			continue
		}

		if msg.Method != "" {
			select {
			case c.events <- cdpEvent{Method: msg.Method, Params: msg.Params}:
			default:
			}
		}
	}
}

func (c *CDPClient) send(method string, params interface{}) (chan json.RawMessage, error) {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	ch := make(chan json.RawMessage, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	if err := c.conn.WriteJSON(cdpMessage{ID: id, Method: method, Params: params}); err != nil {
		return nil, fmt.Errorf("browser: send %s: %w", method, err)
	}
	return ch, nil
}

func (c *CDPClient) call(method string, params interface{}) (json.RawMessage, error) {
	ch, err := c.send(method, params)
	if err != nil {
		return nil, err
	}
	select {
	case result, ok := <-ch:
		if !ok {
			return nil, fmt.Errorf("browser: connection closed waiting for %s: %v", method, c.readErr)
		}
		return result, nil
	case <-time.After(cdpTimeout):
		return nil, fmt.Errorf("browser: timed out waiting for %s response", method)
	}
}

func (c *CDPClient) waitForEvent(method string) error {
	deadline := time.After(cdpTimeout)
	for {
		select {
		case ev := <-c.events:
			if ev.Method == method {
				return nil
			}
		case <-deadline:
			return fmt.Errorf("browser: timed out waiting for event %s", method)
		}
	}
}

// Navigate enables the Page domain, navigates to url, and waits for
// Page.loadEventFired.
func (c *CDPClient) Navigate(targetURL string) error {
	if _, err := c.call("Page.enable", nil); err != nil {
		return err
	}
	if _, err := c.call("Page.navigate", map[string]string{"url": targetURL}); err != nil {
		return err
	}
	return c.waitForEvent("Page.loadEventFired")
}

// Evaluate runs expression in the page context and returns the stringified
// result value.
func (c *CDPClient) Evaluate(expression string) (string, error) {
	result, err := c.call("Runtime.evaluate", map[string]interface{}{
		"expression":    expression,
		"returnByValue": true,
	})
	if err != nil {
		return "", err
	}

	var parsed struct {
		Result struct {
			Value string `json:"value"`
		} `json:"result"`
	}
	if err := json.Unmarshal(result, &parsed); err != nil {
		return "", fmt.Errorf("browser: parse evaluate result: %w", err)
	}
	return parsed.Result.Value, nil
}

// Render opens targetURL, waits for load, and returns the rendered
// document's outerHTML.
func (c *CDPClient) Render(targetURL string) (string, error) {
	if err := c.Navigate(targetURL); err != nil {
		return "", err
	}
	return c.Evaluate("document.documentElement.outerHTML")
}

// Close closes the tab via the HTTP devtools endpoint and the websocket.
func (c *CDPClient) Close(ctx context.Context) error {
	url := fmt.Sprintf("http://%s:%d/json/close/%s", c.host, c.port, c.tabID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err == nil {
		if resp, err := http.DefaultClient.Do(req); err == nil {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}
	}
	return c.conn.Close()
}
