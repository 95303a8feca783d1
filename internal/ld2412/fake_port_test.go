package ld2412

import (
	"bytes"
	"sync"
	"time"
)

// fakePort is a minimal in-memory stand-in for go.bug.st/serial.Port,
// used to drive Channel/Client round trips without a real device.
type fakePort struct {
	mu        sync.Mutex
	written   bytes.Buffer
	readQueue []byte
}

func (f *fakePort) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.written.Write(p)
}

func (f *fakePort) Read(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.readQueue) == 0 {
		return 0, nil
	}
	n := copy(p, f.readQueue)
	f.readQueue = f.readQueue[n:]
	return n, nil
}

func (f *fakePort) Close() error                          { return nil }
func (f *fakePort) SetReadTimeout(t time.Duration) error   { return nil }
func (f *fakePort) ResetInputBuffer() error                { f.readQueue = nil; return nil }
func (f *fakePort) Drain() error                           { return nil }

func (f *fakePort) feed(b []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readQueue = append(f.readQueue, b...)
}

func (f *fakePort) sent() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]byte(nil), f.written.Bytes()...)
}

func buildResponseFrame(cmd CmdID, status uint16, payload []byte) []byte {
	params := make([]byte, 0, 2+len(payload))
	params = appendU16(params, status)
	params = append(params, payload...)
	return BuildCommandFrame(cmd|responseBit, params)
}
