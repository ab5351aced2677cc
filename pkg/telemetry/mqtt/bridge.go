package mqtt

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/golang/glog"

	"github.com/robotalks/minghe.go/pkg/minghe/comm"
	"github.com/robotalks/minghe.go/pkg/telemetry/msgs"
)

// Topics relative to the device ID.
const (
	TopicMeta      = "meta"
	TopicTelemetry = "telemetry"
	TopicSet       = "set"
	TopicResult    = "result"
)

// Executor applies remote set requests to the converter.
type Executor interface {
	Set(name string, value uint32) error
}

// ExecuteFunc is the func form of Executor.
type ExecuteFunc func(name string, value uint32) error

// Set implements Executor.
func (f ExecuteFunc) Set(name string, value uint32) error {
	return f(name, value)
}

// Meta describes the device, published retained.
type Meta struct {
	Device   string             `json:"device"`
	Port     string             `json:"port"`
	Address  comm.Address       `json:"address"`
	Model    uint16             `json:"model"`
	Version  uint16             `json:"version"`
	Commands []comm.CommandInfo `json:"commands"`
}

// Bridge connects one converter to the broker under <device>/.
//
//	<device>/meta         retained JSON Meta
//	<device>/telemetry    msgs.Telemetry
//	<device>/set/<name>   decimal value, from remote
//	<device>/result       msgs.CommandResult
type Bridge struct {
	PubSub PubSub
	Device string
	Exec   Executor

	lock    sync.Mutex
	stopped bool
	wg      sync.WaitGroup
}

// ErrBridgeStopped answers set requests arriving after Stop.
var ErrBridgeStopped = errors.New("bridge stopped")

// NewBridge creates a Bridge.
func NewBridge(ps PubSub, device string, exec Executor) *Bridge {
	return &Bridge{PubSub: ps, Device: device, Exec: exec}
}

func (b *Bridge) topic(name ...string) string {
	return b.Device + "/" + strings.Join(name, "/")
}

// Start subscribes to set requests.
func (b *Bridge) Start() error {
	return b.PubSub.Sub(b.topic(TopicSet, "+"), b.handleSet)
}

// Wait waits for set requests in progress.
// Use Stop when more requests may still arrive.
func (b *Bridge) Wait() {
	b.wg.Wait()
}

// Stop rejects further set requests and waits for those in progress.
func (b *Bridge) Stop() {
	b.lock.Lock()
	b.stopped = true
	b.lock.Unlock()
	b.wg.Wait()
}

// PublishMeta publishes the device description.
func (b *Bridge) PublishMeta(meta *Meta) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	return b.PubSub.Pub(b.topic(TopicMeta), data, true)
}

// PublishTelemetry publishes a poll result.
func (b *Bridge) PublishTelemetry(t *msgs.Telemetry) error {
	data, err := msgs.Encode(t)
	if err != nil {
		return err
	}
	return b.PubSub.Pub(b.topic(TopicTelemetry), data, false)
}

func (b *Bridge) handleSet(topic string, payload []byte) {
	name := topic[strings.LastIndexByte(topic, '/')+1:]
	val, err := strconv.ParseUint(strings.TrimSpace(string(payload)), 10, 32)
	if err != nil {
		err = fmt.Errorf("invalid value %q", payload)
		b.publishResult(msgs.NewCommandResult(b.Device, name, 0, err))
		return
	}
	b.lock.Lock()
	if b.stopped {
		b.lock.Unlock()
		b.publishResult(msgs.NewCommandResult(b.Device, name, uint32(val), ErrBridgeStopped))
		return
	}
	b.wg.Add(1)
	b.lock.Unlock()
	// the executor blocks until the loop runs it, which mustn't hold up
	// the client's dispatcher.
	go func() {
		defer b.wg.Done()
		err := b.Exec.Set(name, uint32(val))
		if err != nil {
			glog.Warningf("remote set %s=%d: %v", name, val, err)
		}
		b.publishResult(msgs.NewCommandResult(b.Device, name, uint32(val), err))
	}()
}

func (b *Bridge) publishResult(r *msgs.CommandResult) {
	data, err := msgs.Encode(r)
	if err == nil {
		err = b.PubSub.Pub(b.topic(TopicResult), data, false)
	}
	if err != nil {
		glog.Errorf("publish result: %v", err)
	}
}
