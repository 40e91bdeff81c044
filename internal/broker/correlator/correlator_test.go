package correlator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llm-autotrader/internal/broker/transport"
	"llm-autotrader/internal/broker/transport/transporttest"
	"llm-autotrader/internal/types"
)

func newHarness(t *testing.T) (*Correlator, *transporttest.Fake) {
	t.Helper()
	f := transporttest.New()
	c := New(f)
	f.SetHandler(func(ev transport.Event) { c.Dispatch(ev) })
	require.NoError(t, f.Dial(context.Background()))
	return c, f
}

func contractCall() Call {
	return Call{
		Kind:       KindContractDetails,
		Op:         transport.OpReqContractDetails,
		DataEvents: []string{transport.EventContractDetails},
		Timeout:    time.Second,
	}
}

func TestCallResponseResolvesAndCleansUp(t *testing.T) {
	c, f := newHarness(t)
	f.OnSend(func(f *transporttest.Fake, req transport.Request) {
		f.EmitData(transport.EventContractDetails, req.ReqID, map[string]any{"symbol": "AAPL"})
	})

	res, err := c.Do(context.Background(), contractCall())
	require.NoError(t, err)
	require.Len(t, res.Events, 1)
	assert.Equal(t, FirstID, res.ID)
	assert.Equal(t, 0, c.ListenerCount())
	assert.Equal(t, 0, c.PendingCount())
}

func TestIDsAreMonotonic(t *testing.T) {
	c, f := newHarness(t)
	f.OnSend(func(f *transporttest.Fake, req transport.Request) {
		f.EmitData(transport.EventContractDetails, req.ReqID, map[string]any{})
	})

	var last int64
	for i := 0; i < 5; i++ {
		res, err := c.Do(context.Background(), contractCall())
		require.NoError(t, err)
		assert.Greater(t, res.ID, last)
		last = res.ID
	}
}

func TestConcurrentCallsResolveExactlyOnce(t *testing.T) {
	c, f := newHarness(t)
	baseline := c.ListenerCount()

	f.OnSend(func(f *transporttest.Fake, req transport.Request) {
		go func(id int64) {
			// duplicate deliveries must be ignored
			f.EmitData(transport.EventContractDetails, id, map[string]any{"id": id})
			f.EmitData(transport.EventContractDetails, id, map[string]any{"id": -1})
		}(req.ReqID)
	})

	const n = 50
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := c.Do(context.Background(), contractCall())
			if err != nil {
				errs <- err
				return
			}
			var got struct {
				ID int64 `json:"id"`
			}
			if err := res.Events[0].Decode(&got); err != nil {
				errs <- err
				return
			}
			if got.ID != res.ID {
				errs <- fmt.Errorf("request %d got payload for %d", res.ID, got.ID)
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}
	assert.Equal(t, baseline, c.ListenerCount())
	assert.Equal(t, 0, c.PendingCount())
}

func TestTimeoutDropsLateEvents(t *testing.T) {
	c, f := newHarness(t)

	call := contractCall()
	call.Timeout = 30 * time.Millisecond
	_, err := c.Do(context.Background(), call)
	require.ErrorIs(t, err, types.ErrRequestTimeout)
	assert.Equal(t, 0, c.ListenerCount())

	late := f.SentOp(transport.OpReqContractDetails)[0].ReqID
	assert.False(t, c.Dispatch(transport.Event{Name: transport.EventContractDetails, ReqID: late}))
}

func TestStreamingUntilEnd(t *testing.T) {
	c, f := newHarness(t)
	f.OnSend(func(f *transporttest.Fake, req transport.Request) {
		for i := 0; i < 3; i++ {
			f.EmitData(transport.EventHistoricalData, req.ReqID, map[string]any{"close": i})
		}
		f.Emit(transport.Event{Name: transport.EventHistoricalDataEnd, ReqID: req.ReqID})
	})

	res, err := c.Do(context.Background(), Call{
		Kind:       KindHistoricalData,
		Op:         transport.OpReqHistoricalData,
		DataEvents: []string{transport.EventHistoricalData},
		EndEvent:   transport.EventHistoricalDataEnd,
		Timeout:    time.Second,
	})
	require.NoError(t, err)
	assert.Len(t, res.Events, 3)
	assert.False(t, res.Partial)
	assert.Equal(t, 0, c.ListenerCount())
}

func TestStreamingPartialOnTimeout(t *testing.T) {
	c, f := newHarness(t)
	f.OnSend(func(f *transporttest.Fake, req transport.Request) {
		f.EmitData(transport.EventHistoricalNews, req.ReqID, map[string]any{"headline": "a"})
		f.EmitData(transport.EventHistoricalNews, req.ReqID, map[string]any{"headline": "b"})
	})

	call := Call{
		Kind:             KindNews,
		Op:               transport.OpReqHistoricalNews,
		DataEvents:       []string{transport.EventHistoricalNews},
		EndEvent:         transport.EventHistoricalNewsEnd,
		Timeout:          40 * time.Millisecond,
		PartialOnTimeout: true,
	}
	res, err := c.Do(context.Background(), call)
	require.NoError(t, err)
	assert.True(t, res.Partial)
	assert.Len(t, res.Events, 2)

	call.PartialOnTimeout = false
	_, err = c.Do(context.Background(), call)
	assert.ErrorIs(t, err, types.ErrRequestTimeout)
	assert.Equal(t, 0, c.ListenerCount())
}

func TestFixedWindowCollects(t *testing.T) {
	c, f := newHarness(t)
	f.OnSend(func(f *transporttest.Fake, req transport.Request) {
		f.EmitData(transport.EventTickPrice, req.ReqID, map[string]any{"field": 1, "price": 99.5})
		f.EmitData(transport.EventTickPrice, req.ReqID, map[string]any{"field": 2, "price": 100.5})
	})

	res, err := c.Do(context.Background(), Call{
		Kind:       KindQuote,
		Op:         transport.OpReqMktData,
		DataEvents: []string{transport.EventTickPrice, transport.EventTickSize},
		Window:     30 * time.Millisecond,
		Timeout:    time.Second,
	})
	require.NoError(t, err)
	assert.Len(t, res.Events, 2)
	assert.Equal(t, 0, c.ListenerCount())
}

func TestProtocolErrorResolvesRequest(t *testing.T) {
	c, f := newHarness(t)
	f.OnSend(func(f *transporttest.Fake, req transport.Request) {
		f.EmitError(req.ReqID, 200, "No security definition has been found")
	})

	_, err := c.Do(context.Background(), contractCall())
	var pe *types.ProtocolError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, 200, pe.Code)
	assert.Equal(t, 0, c.ListenerCount())
}

func TestFailAllResolvesEveryPending(t *testing.T) {
	c, _ := newHarness(t)

	const n = 5
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			_, err := c.Do(context.Background(), contractCall())
			errs <- err
		}()
	}
	require.Eventually(t, func() bool { return c.PendingCount() == n }, time.Second, 5*time.Millisecond)

	assert.Equal(t, n, c.FailAll(types.ErrConnection))
	for i := 0; i < n; i++ {
		assert.ErrorIs(t, <-errs, types.ErrConnection)
	}
	assert.Equal(t, 0, c.ListenerCount())
}

func TestSendFailureIsConnectionError(t *testing.T) {
	c, f := newHarness(t)
	f.FailSend(transport.ErrNotConnected)

	_, err := c.Do(context.Background(), contractCall())
	assert.ErrorIs(t, err, types.ErrConnection)
	assert.ErrorIs(t, err, ErrNotSent)
	assert.Equal(t, 0, c.ListenerCount())
}

func TestContextCancelReleasesListeners(t *testing.T) {
	c, _ := newHarness(t)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := c.Do(ctx, contractCall())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, c.ListenerCount())
	assert.Equal(t, 0, c.PendingCount())
}

func orderCall(id int64) Call {
	return Call{
		Kind:       KindOrderAck,
		Op:         transport.OpPlaceOrder,
		ID:         id,
		Axis:       AxisOrder,
		DataEvents: []string{transport.EventOrderStatus},
		Timeout:    time.Second,
	}
}

func TestExplicitIDRejectsDuplicate(t *testing.T) {
	c, _ := newHarness(t)

	done := make(chan error, 1)
	go func() {
		_, err := c.Do(context.Background(), orderCall(7))
		done <- err
	}()
	require.Eventually(t, func() bool { return c.IsOrderPending(7) }, time.Second, 5*time.Millisecond)

	_, err := c.Do(context.Background(), orderCall(7))
	assert.ErrorIs(t, err, ErrNotSent)

	raw, _ := json.Marshal(map[string]any{"status": "Submitted"})
	assert.True(t, c.DispatchOrder(transport.Event{Name: transport.EventOrderStatus, ReqID: 7, Data: raw}))
	assert.NoError(t, <-done)
	assert.Equal(t, 0, c.ListenerCount())
}

func TestOrderCallNeedsID(t *testing.T) {
	c, f := newHarness(t)

	_, err := c.Do(context.Background(), orderCall(0))
	assert.ErrorIs(t, err, ErrNotSent)
	assert.Empty(t, f.Sent())
}

func TestAxesAreIndependent(t *testing.T) {
	c, _ := newHarness(t)
	id := c.NextID()

	reqCall := contractCall()
	reqCall.ID = id
	reqCall.Timeout = 5 * time.Second
	ordCall := orderCall(id)
	ordCall.Timeout = 5 * time.Second

	reqDone := make(chan error, 1)
	ordDone := make(chan error, 1)
	go func() {
		_, err := c.Do(context.Background(), reqCall)
		reqDone <- err
	}()
	go func() {
		_, err := c.Do(context.Background(), ordCall)
		ordDone <- err
	}()
	require.Eventually(t, func() bool { return c.IsPending(id) && c.IsOrderPending(id) }, time.Second, 5*time.Millisecond)

	assert.True(t, c.DispatchOrder(transport.Event{Name: transport.EventError, ReqID: id, Code: 201, Message: "rejected"}))
	var pe *types.ProtocolError
	require.True(t, errors.As(<-ordDone, &pe))
	assert.Equal(t, 201, pe.Code)
	assert.True(t, c.IsPending(id))

	raw, _ := json.Marshal(map[string]any{"symbol": "AAPL"})
	assert.True(t, c.Dispatch(transport.Event{Name: transport.EventContractDetails, ReqID: id, Data: raw}))
	assert.NoError(t, <-reqDone)
	assert.Equal(t, 0, c.ListenerCount())
}

func TestSuccessCodeResolvesWithoutError(t *testing.T) {
	c, _ := newHarness(t)
	call := orderCall(9)
	call.SuccessCodes = []int{202}

	done := make(chan error, 1)
	go func() {
		res, err := c.Do(context.Background(), call)
		if err == nil && (len(res.Events) != 1 || res.Events[0].Code != 202) {
			err = fmt.Errorf("unexpected events %+v", res.Events)
		}
		done <- err
	}()
	require.Eventually(t, func() bool { return c.IsOrderPending(9) }, time.Second, 5*time.Millisecond)

	assert.True(t, c.DispatchOrder(transport.Event{Name: transport.EventError, ReqID: 9, Code: 202, Message: "Order Canceled"}))
	assert.NoError(t, <-done)
	assert.Equal(t, 0, c.ListenerCount())
}
