package rpc

import "encoding/json"

// Request is the {method, params, id} wire envelope, with a ReplyTo
// destination hint added so a Server knows which Queue to enqueue the
// Response onto.
type Request struct {
	ID      string          `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ReplyTo string          `json:"replyTo,omitempty"`
}

// ResponseError is the {kind, message} shape of a failed call's error
// field, carrying a clerr.Kind across the wire without exposing the
// Go type itself.
type ResponseError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Response is the {result|error, id} wire envelope.
type Response struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *ResponseError  `json:"error,omitempty"`
}

func encodeRequest(r Request) ([]byte, error)   { return json.Marshal(r) }
func decodeRequest(b []byte) (Request, error)   { var r Request; err := json.Unmarshal(b, &r); return r, err }
func encodeResponse(r Response) ([]byte, error) { return json.Marshal(r) }
func decodeResponse(b []byte) (Response, error) {
	var r Response
	err := json.Unmarshal(b, &r)
	return r, err
}
