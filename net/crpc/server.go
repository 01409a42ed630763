// Package crpc is a small net/rpc style RPC system speaking CBOR over a stream connection.
package crpc

import (
	"context"
	"errors"
	"fmt"
	"go/token"
	"io"
	"net"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"

	log "github.com/sirupsen/logrus"
)

var typeOfError = reflect.TypeFor[error]()

type methodType struct {
	method    reflect.Method
	argType   reflect.Type
	replyType reflect.Type
}

type service struct {
	name   string
	rcvr   reflect.Value
	method map[string]*methodType
}

// Server dispatches requests to registered services. A service method must look like
//
//	func (t *T) MethodName(args *A, reply *R) error
type Server struct {
	listener   net.Listener
	serviceMap sync.Map // map[string]*service
}

func NewServer(listener net.Listener) *Server {
	return &Server{
		listener: listener,
	}
}

// Addr returns the address the server is listening on.
func (srv *Server) Addr() net.Addr {
	return srv.listener.Addr()
}

// Register publishes the suitable methods of rcvr under the name of its concrete type.
func (srv *Server) Register(rcvr any) error {
	return srv.RegisterName(reflect.Indirect(reflect.ValueOf(rcvr)).Type().Name(), rcvr)
}

// RegisterName is like Register but uses the provided name for the service.
func (srv *Server) RegisterName(name string, rcvr any) error {
	if name == "" {
		return fmt.Errorf("crpc.Register: no service name for type %T", rcvr)
	}
	if !token.IsExported(name) {
		return fmt.Errorf("crpc.Register: type %s is not exported", name)
	}

	s := &service{
		name:   name,
		rcvr:   reflect.ValueOf(rcvr),
		method: suitableMethods(reflect.TypeOf(rcvr)),
	}
	if len(s.method) == 0 {
		return fmt.Errorf("crpc.Register: type %s has no exported methods of suitable type", name)
	}

	if _, dup := srv.serviceMap.LoadOrStore(name, s); dup {
		return fmt.Errorf("crpc.Register: service already defined: %s", name)
	}

	for m := range s.method {
		log.Debugf("crpc.Register: %s.%s", name, m)
	}
	return nil
}

func isExportedOrBuiltinType(t reflect.Type) bool {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return token.IsExported(t.Name()) || t.PkgPath() == ""
}

func suitableMethods(typ reflect.Type) map[string]*methodType {
	methods := make(map[string]*methodType)
	for m := 0; m < typ.NumMethod(); m++ {
		method := typ.Method(m)
		mtype := method.Type
		if !method.IsExported() || mtype.NumIn() != 3 || mtype.NumOut() != 1 {
			continue
		}
		argType, replyType := mtype.In(1), mtype.In(2)
		if !isExportedOrBuiltinType(argType) {
			continue
		}
		if replyType.Kind() != reflect.Pointer || !isExportedOrBuiltinType(replyType) {
			continue
		}
		if mtype.Out(0) != typeOfError {
			continue
		}
		methods[method.Name] = &methodType{method: method, argType: argType, replyType: replyType}
	}
	return methods
}

func (srv *Server) lookup(serviceMethod string) (*service, *methodType, error) {
	dot := strings.LastIndex(serviceMethod, ".")
	if dot < 0 {
		return nil, nil, fmt.Errorf("crpc: service/method request ill-formed: %q", serviceMethod)
	}
	svci, ok := srv.serviceMap.Load(serviceMethod[:dot])
	if !ok {
		return nil, nil, fmt.Errorf("crpc: can't find service %q", serviceMethod)
	}
	svc := svci.(*service)
	mtype := svc.method[serviceMethod[dot+1:]]
	if mtype == nil {
		return nil, nil, fmt.Errorf("crpc: can't find method %q", serviceMethod)
	}
	return svc, mtype, nil
}

// Serve accepts connections until ctx is cancelled or the listener fails.
func (srv *Server) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		if err := srv.listener.Close(); err != nil {
			log.Warnf("crpc.Server: error closing listener %s: %v", srv.listener.Addr(), err)
		}
	}()

	var tempDelay time.Duration
	for {
		conn, err := srv.listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				log.Infof("crpc.Server: shutting down listener %s", srv.listener.Addr())
				return ctx.Err()
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				tempDelay = min(max(2*tempDelay, 5*time.Millisecond), time.Second)
				log.Warnf("crpc.Server: accept error on %s: %v; retrying in %v", srv.listener.Addr(), err, tempDelay)
				time.Sleep(tempDelay)
				continue
			}
			log.Errorf("crpc.Server: accept error on %s: %v", srv.listener.Addr(), err)
			return err
		}
		tempDelay = 0

		log.Debugf("crpc.Server: accepted connection from %s", conn.RemoteAddr())
		go srv.ServeConn(ctx, conn)
	}
}

// ServeConn serves requests from a single connection until it is closed or ctx is cancelled.
func (srv *Server) ServeConn(ctx context.Context, conn net.Conn) {
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	defer conn.Close()

	dec := cbor.NewDecoder(conn)
	enc := cbor.NewEncoder(conn)

	for {
		req := &RequestHeader{}
		if err := dec.Decode(req); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				log.Debugf("crpc.Server: connection %s closed", conn.RemoteAddr())
			} else {
				log.Errorf("crpc.Server: error decoding request header from %s: %v", conn.RemoteAddr(), err)
			}
			return
		}

		res := &ResponseHeader{Seq: req.Seq}
		svc, mtype, err := srv.lookup(req.Method)
		if err != nil {
			// The argument still has to be consumed to keep the stream in sync
			var discard cbor.RawMessage
			if derr := dec.Decode(&discard); derr != nil {
				return
			}
			log.Warnf("crpc.Server: %v (from %s)", err, conn.RemoteAddr())
			res.Err = err.Error()
			if err := enc.Encode(res); err != nil {
				return
			}
			continue
		}

		var argv reflect.Value
		if mtype.argType.Kind() == reflect.Pointer {
			argv = reflect.New(mtype.argType.Elem())
		} else {
			argv = reflect.New(mtype.argType)
		}
		if err := dec.Decode(argv.Interface()); err != nil {
			log.Errorf("crpc.Server: error decoding argument for %s from %s: %v", req.Method, conn.RemoteAddr(), err)
			return
		}
		if mtype.argType.Kind() != reflect.Pointer {
			argv = argv.Elem()
		}

		replyv := reflect.New(mtype.replyType.Elem())
		if err := svc.call(mtype, argv, replyv); err != nil {
			res.Err = err.Error()
		}

		if err := enc.Encode(res); err != nil {
			log.Errorf("crpc.Server: error encoding response header for %s to %s: %v", req.Method, conn.RemoteAddr(), err)
			return
		}
		if res.Err == "" {
			if err := enc.Encode(replyv.Interface()); err != nil {
				log.Errorf("crpc.Server: error encoding response body for %s to %s: %v", req.Method, conn.RemoteAddr(), err)
				return
			}
		}
	}
}

func (svc *service) call(mtype *methodType, argv, replyv reflect.Value) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("crpc.Server: panic in %s.%s: %v", svc.name, mtype.method.Name, r)
			err = fmt.Errorf("crpc: internal server error in %s.%s", svc.name, mtype.method.Name)
		}
	}()

	out := mtype.method.Func.Call([]reflect.Value{svc.rcvr, argv, replyv})
	if e := out[0].Interface(); e != nil {
		return e.(error)
	}
	return nil
}
