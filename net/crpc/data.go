package crpc

// Every request is a RequestHeader followed by the CBOR-encoded argument.
type RequestHeader struct {
	Seq    uint64 `cbor:"1,keyasint,omitempty"`
	Method string `cbor:"2,keyasint,omitempty"`
}

// Every response is a ResponseHeader, followed by the reply when Err is empty.
type ResponseHeader struct {
	Seq uint64 `cbor:"1,keyasint,omitempty"`
	Err string `cbor:"2,keyasint,omitempty"`
}
