package clientconn

import "time"

// Observer receives the connection manager's lifecycle events.
// Implementations must not block long; the manager calls these synchronously
// on its own goroutine.
type Observer interface {
	DidConnect()
	WillReconnect(attempt int, delay time.Duration)
	DidFailWithError(err error)
	DidDisconnect()
}

// ObserverFuncs adapts plain functions to Observer; any field left nil is a
// no-op, the same shape as http.Handler's FuncX helpers.
type ObserverFuncs struct {
	OnConnect      func()
	OnReconnect    func(attempt int, delay time.Duration)
	OnFailedError  func(err error)
	OnDisconnected func()
}

func (f ObserverFuncs) DidConnect() {
	if f.OnConnect != nil {
		f.OnConnect()
	}
}

func (f ObserverFuncs) WillReconnect(attempt int, delay time.Duration) {
	if f.OnReconnect != nil {
		f.OnReconnect(attempt, delay)
	}
}

func (f ObserverFuncs) DidFailWithError(err error) {
	if f.OnFailedError != nil {
		f.OnFailedError(err)
	}
}

func (f ObserverFuncs) DidDisconnect() {
	if f.OnDisconnected != nil {
		f.OnDisconnected()
	}
}
