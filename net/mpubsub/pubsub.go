// Package mpubsub implements a multicast publish/subscribe bus.
// Publish sends a CBOR-encoded message to a multicast group.
// Listen receives messages and dispatches them to the registered handlers.
package mpubsub

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"go/token"
	"io"
	"net"
	"reflect"
	"strings"
	"sync"

	"github.com/fxamacker/cbor/v2"

	log "github.com/sirupsen/logrus"
)

// MaxMessageSize bounds a single datagram.
const MaxMessageSize = 8192

type MessageHeader struct {
	ServiceMethod string `cbor:"1,keyasint,omitempty"`
}

var typeOfUDPAddr = reflect.TypeFor[*net.UDPAddr]()

type handlerType struct {
	method  reflect.Method
	argType reflect.Type
}

type service struct {
	name     string
	sub      reflect.Value
	handlers map[string]*handlerType
}

// PubSub reads from rc and writes to wc. Either may be nil for a
// publish-only or listen-only bus.
type PubSub struct {
	rc         net.PacketConn
	wc         io.Writer
	serviceMap sync.Map // map[string]*service
}

func New(rconn net.PacketConn, wconn io.Writer) *PubSub {
	return &PubSub{
		rc: rconn,
		wc: wconn,
	}
}

// Register subscribes the handlers of sub. A handler must look like
//
//	func (t *T) Name(msg *M, src *net.UDPAddr)
func (ps *PubSub) Register(sub any) error {
	v := reflect.ValueOf(sub)
	name := reflect.Indirect(v).Type().Name()
	if name == "" {
		return fmt.Errorf("mpubsub.Register: no service name for type %T", sub)
	}
	if !token.IsExported(name) {
		return fmt.Errorf("mpubsub.Register: type %s is not exported", name)
	}

	s := &service{
		name:     name,
		sub:      v,
		handlers: suitableHandlers(v.Type()),
	}
	if len(s.handlers) == 0 {
		return fmt.Errorf("mpubsub.Register: type %s has no exported handlers of suitable type", name)
	}
	if _, dup := ps.serviceMap.LoadOrStore(name, s); dup {
		return fmt.Errorf("mpubsub.Register: service already defined: %s", name)
	}

	for m := range s.handlers {
		log.Debugf("mpubsub.Register: %s.%s", name, m)
	}
	return nil
}

func suitableHandlers(typ reflect.Type) map[string]*handlerType {
	handlers := make(map[string]*handlerType)
	for m := 0; m < typ.NumMethod(); m++ {
		method := typ.Method(m)
		mtype := method.Type
		if !method.IsExported() || mtype.NumIn() != 3 || mtype.NumOut() != 0 {
			continue
		}
		argType := mtype.In(1)
		if argType.Kind() != reflect.Pointer || !token.IsExported(argType.Elem().Name()) {
			continue
		}
		if mtype.In(2) != typeOfUDPAddr {
			continue
		}
		handlers[method.Name] = &handlerType{method: method, argType: argType}
	}
	return handlers
}

func (ps *PubSub) Publish(serviceMethod string, args any) error {
	if ps.wc == nil {
		return errors.New("mpubsub: bus has no writer")
	}

	buf := new(bytes.Buffer)
	enc := cbor.NewEncoder(buf)
	if err := enc.Encode(MessageHeader{ServiceMethod: serviceMethod}); err != nil {
		return err
	}
	if err := enc.Encode(args); err != nil {
		return err
	}
	if buf.Len() > MaxMessageSize {
		return fmt.Errorf("mpubsub: message for %s too large (%d bytes)", serviceMethod, buf.Len())
	}

	_, err := ps.wc.Write(buf.Bytes())
	return err
}

// Listen dispatches incoming messages until ctx is cancelled. It closes the
// read connection on return.
func (ps *PubSub) Listen(ctx context.Context) error {
	if ps.rc == nil {
		return errors.New("mpubsub: bus has no reader")
	}

	stop := context.AfterFunc(ctx, func() { ps.rc.Close() })
	defer stop()

	buf := make([]byte, MaxMessageSize)
	for {
		n, addr, err := ps.rc.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			log.Errorf("mpubsub: failed to read message: %v", err)
			continue
		}

		src, _ := addr.(*net.UDPAddr)
		if err := ps.dispatch(buf[:n], src); err != nil {
			log.Warnf("mpubsub: dropping message from %v: %v", addr, err)
		}
	}
}

func (ps *PubSub) dispatch(data []byte, src *net.UDPAddr) error {
	dec := cbor.NewDecoder(bytes.NewReader(data))

	var hdr MessageHeader
	if err := dec.Decode(&hdr); err != nil {
		return fmt.Errorf("bad header: %w", err)
	}

	dot := strings.LastIndex(hdr.ServiceMethod, ".")
	if dot < 0 {
		return fmt.Errorf("ill-formed service method %q", hdr.ServiceMethod)
	}
	svci, ok := ps.serviceMap.Load(hdr.ServiceMethod[:dot])
	if !ok {
		return fmt.Errorf("no service for %s", hdr.ServiceMethod)
	}
	svc := svci.(*service)
	handler := svc.handlers[hdr.ServiceMethod[dot+1:]]
	if handler == nil {
		return fmt.Errorf("no handler for %s", hdr.ServiceMethod)
	}

	arg := reflect.New(handler.argType.Elem())
	if err := dec.Decode(arg.Interface()); err != nil {
		return fmt.Errorf("bad body for %s: %w", hdr.ServiceMethod, err)
	}

	handler.method.Func.Call([]reflect.Value{svc.sub, arg, reflect.ValueOf(src)})
	return nil
}
