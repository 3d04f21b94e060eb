package chain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gorilla/websocket"

	"github.com/tendermint/aquarius/libs/log"
	"github.com/tendermint/aquarius/libs/service"
	rpctypes "github.com/tendermint/aquarius/rpc/jsonrpc/types"
)

const (
	defaultReconnectWait = 5 * time.Second
	defaultWriteWait     = 10 * time.Second
	defaultPingPeriod    = 30 * time.Second
)

// HeadSubscriber follows new block headers over an eth_subscribe("newHeads")
// websocket subscription and reports their heights. It reconnects until
// stopped.
type HeadSubscriber struct {
	service.BaseService
	logger log.Logger

	url           string
	dialer        *websocket.Dialer
	reconnectWait time.Duration

	heads chan int64

	mtx    sync.Mutex
	conn   *websocket.Conn
	cancel context.CancelFunc
	done   chan struct{}
}

// NewHeadSubscriber creates a subscriber for the ws:// or wss:// endpoint.
func NewHeadSubscriber(logger log.Logger, wsURL string) *HeadSubscriber {
	s := &HeadSubscriber{
		logger:        logger,
		url:           wsURL,
		dialer:        websocket.DefaultDialer,
		reconnectWait: defaultReconnectWait,
		heads:         make(chan int64, 1),
		done:          make(chan struct{}),
	}
	s.BaseService = *service.NewBaseService(logger, "HeadSubscriber", s)
	return s
}

// SetReconnectWait changes the pause between connection attempts.
func (s *HeadSubscriber) SetReconnectWait(d time.Duration) { s.reconnectWait = d }

// Heads delivers the latest announced block height. Heights are dropped
// when the reader is behind; only the newest one matters.
func (s *HeadSubscriber) Heads() <-chan int64 { return s.heads }

func (s *HeadSubscriber) OnStart(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	go s.run(ctx)
	return nil
}

func (s *HeadSubscriber) OnStop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.mtx.Lock()
	if s.conn != nil {
		_ = s.conn.Close()
	}
	s.mtx.Unlock()
	<-s.done
}

func (s *HeadSubscriber) run(ctx context.Context) {
	defer close(s.done)
	for {
		err := s.subscribe(ctx)
		if ctx.Err() != nil {
			return
		}
		s.logger.Error("head subscription dropped", "url", s.url, "err", err)

		timer := time.NewTimer(s.reconnectWait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

type subscriptionMessage struct {
	Method string `json:"method"`
	Params struct {
		Subscription string          `json:"subscription"`
		Result       json.RawMessage `json:"result"`
	} `json:"params"`
}

type headResult struct {
	Number hexutil.Uint64 `json:"number"`
}

func (s *HeadSubscriber) subscribe(ctx context.Context) error {
	conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	s.mtx.Lock()
	s.conn = conn
	s.mtx.Unlock()
	defer func() {
		s.mtx.Lock()
		s.conn = nil
		s.mtx.Unlock()
		_ = conn.Close()
	}()

	req, err := rpctypes.ParamsToRequest(rpctypes.JSONRPCIntID(1), "eth_subscribe", []interface{}{"newHeads"})
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(defaultWriteWait))
	if err := conn.WriteJSON(req); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	var resp rpctypes.RPCResponse
	if err := conn.ReadJSON(&resp); err != nil {
		return fmt.Errorf("reading subscription id: %w", err)
	}
	if resp.Error != nil {
		return resp.Error
	}
	var subID string
	if err := json.Unmarshal(resp.Result, &subID); err != nil || subID == "" {
		return errors.New("node returned no subscription id")
	}
	s.logger.Info("subscribed to new heads", "url", s.url, "subscription", subID)

	pingCtx, stopPing := context.WithCancel(ctx)
	defer stopPing()
	go s.pingRoutine(pingCtx, conn)

	for {
		var msg subscriptionMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return fmt.Errorf("read: %w", err)
		}
		if msg.Method != "eth_subscription" || msg.Params.Subscription != subID {
			continue
		}
		var head headResult
		if err := json.Unmarshal(msg.Params.Result, &head); err != nil {
			s.logger.Debug("malformed head", "err", err)
			continue
		}
		s.publish(int64(head.Number))
	}
}

func (s *HeadSubscriber) publish(height int64) {
	for {
		select {
		case s.heads <- height:
			return
		default:
		}
		// drop the stale height and retry
		select {
		case <-s.heads:
		default:
		}
	}
}

func (s *HeadSubscriber) pingRoutine(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(defaultPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(defaultWriteWait)); err != nil {
				return
			}
		}
	}
}
