package rtspconn

// A Message is anything that can travel on a Conn:
// *base.Request, *base.Response or *base.InterleavedFrame.
// The connection treats it as an opaque serialize/parse target.
type Message interface{}
